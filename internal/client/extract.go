package client

import (
	"encoding/json"
	"strconv"
	"strings"
)

// MessagePaths lists where error bodies carry a human-readable reason,
// in priority order.
var MessagePaths = []string{
	"reason",
	"message",
	"error",
	"errorMessage",
	"error.message",
	"data.reason",
	"data.message",
	"data.error",
	"details.reason",
	"details.message",
	"details.error",
	"errors[0]",
	"errors[0].message",
	"errors[0].defaultMessage",
}

// CodePaths lists where bodies carry a machine-readable error code
var CodePaths = []string{
	"code",
	"error.code",
	"data.code",
}

// AccessTokenPaths lists where login and refresh responses carry the access token
var AccessTokenPaths = []string{
	"data.accessToken",
	"accessToken",
	"data.token",
	"token",
}

// RefreshTokenPaths lists where a rotated refresh token may appear
var RefreshTokenPaths = []string{
	"data.refreshToken",
	"refreshToken",
}

// ExtractMessage returns the first non-empty string found at MessagePaths,
// or fallback.
func ExtractMessage(body []byte, fallback string) string {
	if msg := FirstString(body, MessagePaths...); msg != "" {
		return msg
	}
	return fallback
}

// ExtractCode returns the first non-empty string found at CodePaths
func ExtractCode(body []byte) string {
	return FirstString(body, CodePaths...)
}

// FirstString evaluates paths in order against body and returns the first
// non-empty string value. Invalid JSON yields "".
func FirstString(body []byte, paths ...string) string {
	if len(body) == 0 {
		return ""
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	for _, path := range paths {
		if s, ok := lookup(doc, path).(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// lookup walks a decoded JSON document along a path made of dot-separated
// fields with optional [n] indexes, e.g. "errors[0].message". A missing
// step yields nil.
func lookup(doc any, path string) any {
	current := doc
	for _, part := range strings.Split(path, ".") {
		field, indexes := splitIndexes(part)
		if field != "" {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil
			}
			current = obj[field]
		}
		for _, idx := range indexes {
			arr, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil
			}
			current = arr[idx]
		}
		if current == nil {
			return nil
		}
	}
	return current
}

// splitIndexes turns "errors[0][1]" into ("errors", [0 1]).
// A malformed index makes the whole step unresolvable.
func splitIndexes(part string) (string, []int) {
	open := strings.IndexByte(part, '[')
	if open < 0 {
		return part, nil
	}
	field := part[:open]
	var indexes []int
	rest := part[open:]
	for rest != "" {
		if rest[0] != '[' {
			return field, []int{-1}
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return field, []int{-1}
		}
		n, err := strconv.Atoi(rest[1:end])
		if err != nil {
			return field, []int{-1}
		}
		indexes = append(indexes, n)
		rest = rest[end+1:]
	}
	return field, indexes
}
