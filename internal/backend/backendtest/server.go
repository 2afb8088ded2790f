// Package backendtest runs a fake backend over httptest for tests.
package backendtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/sip2gate/internal/backend"
	"github.com/tidwall/gjson"
)

// Handler answers one method call. The returned value is sent as the
// response payload.
type Handler func(params []gjson.Result) any

type Call struct {
	Method string
	Params []gjson.Result
	Trace  string
}

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
}

func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{handlers: make(map[string]Handler)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Client returns a backend client pointed at the fake.
func (s *Server) Client() *backend.HTTPClient {
	return backend.NewHTTPClient(s.URL, 5*time.Second)
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount counts calls to method.
func (s *Server) CallCount(method string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Event builds an event payload.
func Event(textcode string) map[string]any {
	return map[string]any{
		"ilsevent": 1,
		"textcode": textcode,
		"desc":     textcode,
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	doc := gjson.ParseBytes(raw)
	method := doc.Get("method").String()
	params := doc.Get("params").Array()

	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: method, Params: params, Trace: r.Header.Get(backend.TraceHeader)})
	h, ok := s.handlers[method]
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": http.StatusNotFound,
			"debug":  "no handler for " + method,
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  http.StatusOK,
		"payload": h(params),
	})
}
