package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	applog "github.com/erp/portal/internal/logger"
	"github.com/erp/portal/internal/session"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Header names
const (
	HeaderAuthorization  = "Authorization"
	HeaderCompanyID      = "X-Company-Id"
	HeaderCompanyCode    = "X-Company-Code"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderRequestID      = "X-Request-ID"
)

const contentTypeJSON = "application/json"

// publicPaths never carry credentials and never trigger a refresh
var publicPaths = map[string]bool{
	"/auth/password/forgot":            true,
	"/auth/password/forgot/superadmin": true,
	"/auth/password/reset":             true,
}

// bootstrapPaths carry credentials but a 401 on them is final
var bootstrapPaths = map[string]bool{
	"/auth/login":         true,
	"/auth/refresh-token": true,
}

// IsPublicPath reports whether path is sent without credentials
func IsPublicPath(path string) bool {
	return publicPaths[routeKey(path)]
}

// routeKey is path without trailing slashes, the form the allow-lists use
func routeKey(path string) string {
	if trimmed := strings.TrimRight(path, "/"); trimmed != "" {
		return trimmed
	}
	return "/"
}

// IsMutating reports whether requests with method carry an Idempotency-Key
func IsMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// prepared is a Request resolved once and replayable on every attempt
type prepared struct {
	method         string
	path           string
	url            string
	body           []byte
	contentType    string
	headers        map[string]string
	idempotencyKey string
	session        *session.Session
	public         bool
	bootstrap      bool
	mutating       bool
}

func (c *Client) prepare(req Request) (*prepared, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(req.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", req.Path, err)
	}
	if target.IsAbs() || target.Host != "" {
		return nil, fmt.Errorf("invalid path %q: must be relative to the API root", req.Path)
	}
	path := target.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if prefix := c.baseURL.Path; prefix != "" && (path == prefix || strings.HasPrefix(path, prefix+"/")) {
		path = strings.TrimPrefix(path, prefix)
	}
	if path == "" {
		path = "/"
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	query := target.Query()
	for k, vs := range req.Query {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	u.RawQuery = query.Encode()

	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}

	key := req.IdempotencyKey
	if key == "" {
		for k, v := range req.Headers {
			if http.CanonicalHeaderKey(k) == HeaderIdempotencyKey && v != "" {
				key = v
			}
		}
	}

	route := routeKey(path)
	return &prepared{
		method:         method,
		path:           path,
		url:            u.String(),
		body:           body,
		contentType:    contentType,
		headers:        req.Headers,
		idempotencyKey: key,
		session:        req.Session,
		public:         publicPaths[route],
		bootstrap:      bootstrapPaths[route],
		mutating:       IsMutating(method),
	}, nil
}

// encodeBody returns the wire bytes and the content type implied by the
// body kind. Raw bodies leave the content type to the caller.
func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, contentTypeJSON, nil
	case []byte:
		return b, "", nil
	case string:
		return []byte(b), "", nil
	case url.Values:
		return []byte(b.Encode()), "application/x-www-form-urlencoded", nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, "", err
		}
		return data, "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return data, contentTypeJSON, nil
	}
}

// attempt performs one HTTP exchange. It returns the access token the
// attempt was authorized with so a 401 can be matched against later
// session changes.
func (c *Client) attempt(ctx context.Context, p *prepared, replay bool) (*Response, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, "", err
		}
	}

	sess := p.session
	if sess == nil && !p.public && c.sessions != nil {
		loaded, err := c.sessions.Load(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("loading session: %w", err)
		}
		sess = loaded
	}

	ctx, span := c.tracer.Start(ctx, "ERP "+p.method+" "+p.path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", p.method),
			attribute.String("url.path", p.path),
			attribute.Bool("erp.replay", replay),
		),
	)
	defer span.End()

	var body io.Reader
	if p.body != nil {
		body = bytes.NewReader(p.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, p.method, p.url, body)
	if err != nil {
		return nil, "", fmt.Errorf("creating HTTP request: %w", err)
	}

	httpReq.Header.Set("Accept", contentTypeJSON)
	httpReq.Header.Set("User-Agent", c.userAgent)
	if p.contentType != "" {
		httpReq.Header.Set("Content-Type", p.contentType)
	}
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	var key string
	if p.mutating {
		key = p.idempotencyKey
		if key == "" {
			key = uuid.NewString()
		}
		httpReq.Header.Set(HeaderIdempotencyKey, key)
	}

	var usedToken string
	if !p.public && sess != nil {
		if bearer := sess.Bearer(); bearer != "" {
			httpReq.Header.Set(HeaderAuthorization, bearer)
			usedToken = sess.AccessToken
		}
		if sess.CompanyID != "" {
			httpReq.Header.Set(HeaderCompanyID, sess.CompanyID)
		}
		if sess.CompanyCode != "" {
			httpReq.Header.Set(HeaderCompanyCode, sess.CompanyCode)
		}
	}
	if requestID := applog.GetRequestID(ctx); requestID != "" {
		httpReq.Header.Set(HeaderRequestID, requestID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	log := applog.Enrich(ctx, c.logger).With(
		zap.String("method", p.method),
		zap.String("path", p.path),
		zap.Bool("replay", replay),
	)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		duration := time.Since(start)
		c.observeAttempt(p, 0, duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, usedToken, ctxErr
		}
		log.Debug("request failed", zap.Duration("duration", duration), zap.Error(err))
		return nil, usedToken, &NetworkError{Method: p.method, Path: p.path, Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	duration := time.Since(start)
	if err != nil {
		c.observeAttempt(p, 0, duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, "reading body")
		return nil, usedToken, &NetworkError{Method: p.method, Path: p.path, Err: fmt.Errorf("reading response body: %w", err)}
	}

	status := httpResp.StatusCode
	c.observeAttempt(p, status, duration)
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	log.Debug("request completed",
		zap.Int("status", status),
		zap.Duration("duration", duration),
		zap.String("idempotency_key", key),
	)

	if status < 200 || status >= 300 {
		apiErr := newAPIError(status, data)
		span.SetStatus(codes.Error, apiErr.Message)
		return nil, usedToken, apiErr
	}

	return &Response{
		StatusCode:     status,
		Header:         httpResp.Header,
		Body:           data,
		Duration:       duration,
		IdempotencyKey: key,
		Replayed:       replay,
	}, usedToken, nil
}

func (c *Client) observeAttempt(p *prepared, status int, duration time.Duration) {
	if c.observer != nil {
		c.observer.ObserveAttempt(p.method, p.path, status, duration)
	}
}
