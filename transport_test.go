package reqcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ticketServer struct {
	*httptest.Server
	mu        sync.Mutex
	tickets   []string
	listCalls atomic.Int32
}

// newTicketServer serves a tiny ticket API speaking the {code, data, msg}
// envelope.
func newTicketServer(t *testing.T) *ticketServer {
	ts := &ticketServer{tickets: []string{"t1"}}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/w8t/ticket/list", func(w http.ResponseWriter, r *http.Request) {
		ts.listCalls.Add(1)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "acme", r.Header.Get("TenantID"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		ts.mu.Lock()
		data, _ := json.Marshal(ts.tickets)
		ts.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":200,"data":` + string(data) + `,"msg":"success"}`))
	})

	mux.HandleFunc("/api/w8t/ticket/create", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body struct {
			Title string `json:"title"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		ts.mu.Lock()
		ts.tickets = append(ts.tickets, body.Title)
		ts.mu.Unlock()
		w.Write([]byte(`{"code":200,"data":null,"msg":"success"}`))
	})

	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestHTTPTransportGetEncodesQuery(t *testing.T) {
	var got *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Write([]byte(`{"code":200}`))
	}))
	defer server.Close()

	tr := NewHTTPTransport(HTTPTransportConfig{BaseURL: server.URL + "/"})
	params := map[string]any{
		"page":   1,
		"size":   20,
		"query":  "disk full",
		"active": true,
		"ids":    []string{"a", "b"},
		"filter": map[string]any{"sev": "P1"},
		"skip":   nil,
	}

	p, err := tr.RoundTrip(context.Background(), &Request{Method: MethodGet, Path: "api/w8t/ticket/list", Payload: params, RequestID: "req-1"})

	require.NoError(t, err)
	assert.Equal(t, `{"code":200}`, string(p))
	require.NotNil(t, got)
	assert.Equal(t, "/api/w8t/ticket/list", got.URL.Path)

	q := got.URL.Query()
	assert.Equal(t, "1", q.Get("page"))
	assert.Equal(t, "20", q.Get("size"))
	assert.Equal(t, "disk full", q.Get("query"))
	assert.Equal(t, "true", q.Get("active"))
	assert.Equal(t, []string{"a", "b"}, q["ids"])
	assert.JSONEq(t, `{"sev":"P1"}`, q.Get("filter"))
	_, hasSkip := q["skip"]
	assert.False(t, hasSkip)

	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "req-1", got.Header.Get("X-Request-ID"))
	assert.Empty(t, got.Header.Get("Authorization"), "no token, no header")
	assert.Empty(t, got.Header.Get("TenantID"))
}

func TestHTTPTransportMutationSendsJSONBody(t *testing.T) {
	for _, method := range []string{MethodPost, MethodPut, MethodPatch, MethodDelete} {
		t.Run(method, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, method, r.Method)
				assert.Empty(t, r.URL.RawQuery)
				b, _ := io.ReadAll(r.Body)
				assert.JSONEq(t, `{"id":"t1","labels":["x"]}`, string(b))
				assert.Equal(t, "acme", r.Header.Get("TenantID"))
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				w.Write([]byte(`{"code":200}`))
			}))
			defer server.Close()

			tr := NewHTTPTransport(HTTPTransportConfig{
				BaseURL:     server.URL,
				Credentials: NewMemoryCredentials("acme", "tok"),
			})
			body := map[string]any{"id": "t1", "labels": []string{"x"}}

			_, err := tr.RoundTrip(context.Background(), &Request{Method: method, Path: "/api/w8t/ticket", Payload: body})
			require.NoError(t, err)
		})
	}
}

func TestHTTPTransportQueryFromURLValues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "x=1&b=2", r.URL.RawQuery)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	tr := NewHTTPTransport(HTTPTransportConfig{BaseURL: server.URL})
	_, err := tr.RoundTrip(context.Background(), &Request{Method: MethodGet, Path: "/a?x=1", Payload: url.Values{"b": {"2"}}})
	require.NoError(t, err)
}

func TestHTTPTransportStatusErrors(t *testing.T) {
	tests := []struct {
		status  int
		body    string
		errType ErrorType
		message string
	}{
		{http.StatusBadRequest, `{"code":400,"msg":"title is required"}`, ErrorTypeClient, "title is required"},
		{http.StatusUnauthorized, `{"code":401,"msg":"token expired"}`, ErrorTypeUnauthorized, "token expired"},
		{http.StatusForbidden, ``, ErrorTypeForbidden, "Forbidden"},
		{http.StatusNotFound, `not json`, ErrorTypeClient, "Not Found"},
		{http.StatusBadGateway, `{"message":"upstream down"}`, ErrorTypeServer, "upstream down"},
		{http.StatusInternalServerError, `{"error":{"details":"db locked"}}`, ErrorTypeServer, "db locked"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			tr := NewHTTPTransport(HTTPTransportConfig{BaseURL: server.URL})
			_, err := tr.RoundTrip(context.Background(), &Request{Method: MethodGet, Path: "/x", RequestID: "r"})

			ce, ok := AsClientError(err)
			require.True(t, ok)
			assert.Equal(t, tt.errType, ce.Type)
			assert.Equal(t, tt.status, ce.StatusCode)
			assert.Equal(t, tt.message, ce.Message)
			assert.Equal(t, tt.body, string(ce.Body))
			assert.False(t, ce.IsNetworkError())
			assert.Equal(t, "/x", ce.Path)
			assert.Equal(t, "r", ce.RequestID)
		})
	}
}

func TestHTTPTransportNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := server.URL
	server.Close()

	tr := NewHTTPTransport(HTTPTransportConfig{BaseURL: addr})
	_, err := tr.RoundTrip(context.Background(), &Request{Method: MethodGet, Path: "/x"})

	ce, ok := AsClientError(err)
	require.True(t, ok)
	assert.True(t, ce.IsNetworkError())
	assert.Equal(t, 0, ce.Status())
	assert.True(t, IsRetryable(err))
}

func TestClientRejectsOversizedResponse(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"code":200,"data":"`))
		w.Write(bytes.Repeat([]byte("x"), maxResponseSize))
		w.Write([]byte(`"}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL))
	_, err := client.Get(context.Background(), "/big", nil)

	ce, ok := AsClientError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, ErrorTypeDecode, ce.Type)
	assert.Equal(t, http.StatusOK, ce.Status())
	assert.Equal(t, 0, client.Store().Len(), "truncated bodies are never cached")
	assert.Equal(t, int32(1), hits.Load(), "not retried")
}

func TestHTTPTransportTimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	tr := NewHTTPTransport(HTTPTransportConfig{BaseURL: server.URL, Timeout: 20 * time.Millisecond})
	_, err := tr.RoundTrip(context.Background(), &Request{Method: MethodGet, Path: "/slow"})

	ce, ok := AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeNetwork, ce.Type)
	assert.Equal(t, "request timed out", ce.Message)
}

func TestHTTPTransportMiddlewareOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "first,second", r.Header.Get("X-Trace"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	var order []string
	mw := func(name string) Middleware {
		return func(req *http.Request, next RoundTripper) (*http.Response, error) {
			order = append(order, name)
			if prev := req.Header.Get("X-Trace"); prev != "" {
				name = prev + "," + name
			}
			req.Header.Set("X-Trace", name)
			return next.RoundTrip(req)
		}
	}

	tr := NewHTTPTransport(HTTPTransportConfig{BaseURL: server.URL, Middleware: []Middleware{mw("first"), mw("second")}})
	_, err := tr.RoundTrip(context.Background(), &Request{Method: MethodGet, Path: "/"})

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestHTTPTransportInvalidParams(t *testing.T) {
	tr := NewHTTPTransport(HTTPTransportConfig{BaseURL: "http://127.0.0.1:1"})

	_, err := tr.RoundTrip(context.Background(), &Request{Method: MethodGet, Path: "/x", Payload: []int{1, 2}})

	ce, ok := AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeValidation, ce.Type)
	assert.False(t, IsRetryable(err))
}

func TestHTTPTransportAbsoluteURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"abs"`))
	}))
	defer server.Close()

	tr := NewHTTPTransport(HTTPTransportConfig{BaseURL: "http://ignored.invalid"})
	p, err := tr.RoundTrip(context.Background(), &Request{Method: MethodGet, Path: server.URL + "/x"})

	require.NoError(t, err)
	assert.Equal(t, `"abs"`, string(p))
}

func TestTransportFunc(t *testing.T) {
	called := false
	var tr Transport = TransportFunc(func(context.Context, *Request) (Payload, error) {
		called = true
		return nil, errors.New("x")
	})

	_, err := tr.RoundTrip(context.Background(), &Request{})
	assert.Error(t, err)
	assert.True(t, called)
}
