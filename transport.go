package reqcache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const maxResponseSize = 10 * 1024 * 1024

// Transport performs one physical attempt and normalizes every failure into
// a *ClientError.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (Payload, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (Payload, error)

// RoundTrip implements Transport.
func (f TransportFunc) RoundTrip(ctx context.Context, req *Request) (Payload, error) {
	return f(ctx, req)
}

// HTTPTransportConfig configures HTTPTransport.
type HTTPTransportConfig struct {
	BaseURL     string
	HTTPClient  *http.Client
	Credentials CredentialStore
	Middleware  []Middleware
	// Timeout bounds a single attempt when HTTPClient is nil.
	Timeout time.Duration
}

// HTTPTransport sends requests with net/http. GET params travel as the query
// string; every other method sends its payload as a JSON body.
type HTTPTransport struct {
	baseURL     string
	httpClient  *http.Client
	credentials CredentialStore
	middleware  []Middleware
}

// NewHTTPTransport creates an HTTPTransport.
func NewHTTPTransport(cfg HTTPTransportConfig) *HTTPTransport {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPTransport{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:  httpClient,
		credentials: cfg.Credentials,
		middleware:  cfg.Middleware,
	}
}

// RoundTrip implements Transport.
func (t *HTTPTransport) RoundTrip(ctx context.Context, req *Request) (Payload, error) {
	httpReq, err := t.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, &ClientError{
			Type:      ErrorTypeValidation,
			Message:   "invalid request",
			Cause:     err,
			Method:    req.Method,
			Path:      req.Path,
			RequestID: req.RequestID,
			Timestamp: time.Now(),
		}
	}

	resp, err := t.executeMiddleware(httpReq)
	if err != nil {
		return nil, t.annotate(NewNetworkError(err), req)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, t.annotate(NewNetworkError(err), req)
	}
	if len(body) > maxResponseSize {
		return nil, t.annotate(&ClientError{
			Type:       ErrorTypeDecode,
			Message:    fmt.Sprintf("response body exceeds %d bytes", maxResponseSize),
			StatusCode: resp.StatusCode,
			Timestamp:  time.Now(),
		}, req)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, t.annotate(NewStatusError(resp.StatusCode, body), req)
	}
	return Payload(body), nil
}

func (t *HTTPTransport) annotate(e *ClientError, req *Request) *ClientError {
	e.Method = req.Method
	e.Path = req.Path
	e.RequestID = req.RequestID
	return e
}

func (t *HTTPTransport) newHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	method := strings.ToUpper(req.Method)
	target := t.resolve(req.Path)

	var body io.Reader
	if method == http.MethodGet || method == http.MethodHead {
		query, err := encodeQuery(req.Payload)
		if err != nil {
			return nil, err
		}
		if query != "" {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + query
		}
	} else if req.Payload != nil {
		b, err := encodeBody(req.Payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if t.credentials != nil {
		if tenant := t.credentials.TenantID(); tenant != "" {
			httpReq.Header.Set("TenantID", tenant)
		}
		if token := t.credentials.Token(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}
	return httpReq, nil
}

func (t *HTTPTransport) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return t.baseURL + path
}

func (t *HTTPTransport) executeMiddleware(req *http.Request) (*http.Response, error) {
	if len(t.middleware) == 0 {
		return t.httpClient.Do(req)
	}

	current := RoundTripperFunc(t.httpClient.Do)

	for i := len(t.middleware) - 1; i >= 0; i-- {
		middleware := t.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

func encodeBody(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	}
	return json.Marshal(payload)
}

// encodeQuery turns GET params into a query string. Scalars are written as
// they are, nested values as JSON, slices as repeated keys.
func encodeQuery(params any) (string, error) {
	switch p := params.(type) {
	case nil:
		return "", nil
	case url.Values:
		return p.Encode(), nil
	case map[string]string:
		values := url.Values{}
		for k, v := range p {
			values.Set(k, v)
		}
		return values.Encode(), nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return "", fmt.Errorf("params must encode to a JSON object: %w", err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		switch v := fields[k].(type) {
		case nil:
		case []any:
			for _, item := range v {
				s, err := queryScalar(item)
				if err != nil {
					return "", err
				}
				values.Add(k, s)
			}
		default:
			s, err := queryScalar(v)
			if err != nil {
				return "", err
			}
			values.Set(k, s)
		}
	}
	return values.Encode(), nil
}

func queryScalar(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case json.Number:
		return s.String(), nil
	case bool:
		return strconv.FormatBool(s), nil
	case nil:
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
