package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// Unwrap returns the data of an enveloped body
// ({success, message?, data?, code?, timestamp?}). A body is treated as an
// envelope when it is a JSON object with a "success" key and either a
// "data" key or success=false. Any other body is returned unchanged.
func Unwrap(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return body, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return body, nil
	}
	rawSuccess, hasSuccess := fields["success"]
	if !hasSuccess {
		return body, nil
	}
	var success bool
	if err := json.Unmarshal(rawSuccess, &success); err != nil {
		return body, nil
	}
	data, hasData := fields["data"]

	if success {
		if !hasData {
			return body, nil
		}
		return data, nil
	}

	var message, code string
	if raw, ok := fields["message"]; ok {
		_ = json.Unmarshal(raw, &message)
	}
	if raw, ok := fields["code"]; ok {
		_ = json.Unmarshal(raw, &code)
	}
	if message == "" {
		message = ExtractMessage(body, "Request failed")
	}
	if code == "" {
		code = ExtractCode(body)
	}
	return nil, &APIError{
		Status:     http.StatusOK,
		StatusText: http.StatusText(http.StatusOK),
		Message:    message,
		Code:       code,
		Body:       body,
	}
}

// UnwrapInto unwraps body and decodes the payload into T.
// An empty or null payload yields the zero value.
func UnwrapInto[T any](body []byte) (T, error) {
	var out T
	data, err := Unwrap(body)
	if err != nil {
		return out, err
	}
	if isEmptyJSON(data) {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decoding response: %w", err)
	}
	return out, nil
}

func isEmptyJSON(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
