// Package backend talks to the library services the gateway fronts.
//
// Calls are JSON requests naming a service method; results come back as
// gjson values. A result that is an event object is returned as an *Event
// error so callers can branch on its text code.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	logs "github.com/danmuck/sip2gate/internal/logging"
	"github.com/danmuck/sip2gate/internal/observability"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

var (
	ErrTransport     = errors.New("backend: transport failed")
	ErrBadResponse   = errors.New("backend: malformed response")
	ErrParamCount    = errors.New("backend: wrong parameter count")
	ErrUnknownMethod = errors.New("backend: unknown method")
	ErrNoAuthToken   = errors.New("backend: no authtoken")
)

const (
	TextCodeNoSession = "NO_SESSION"
	TraceHeader       = "X-Sipgw-Trace"
)

// Client issues one backend method call and returns its result.
type Client interface {
	Call(ctx context.Context, method string, params ...any) (gjson.Result, error)
}

// Event is an error-shaped result from the backend.
type Event struct {
	Code     int64
	TextCode string
	Desc     string
	Payload  gjson.Result
}

func (e *Event) Error() string {
	if e.Desc != "" {
		return fmt.Sprintf("backend event %s (%d): %s", e.TextCode, e.Code, e.Desc)
	}
	return fmt.Sprintf("backend event %s (%d)", e.TextCode, e.Code)
}

// ParseEvent reports whether v is an event object.
func ParseEvent(v gjson.Result) (*Event, bool) {
	if !v.IsObject() {
		return nil, false
	}
	code := v.Get("ilsevent")
	textcode := v.Get("textcode")
	if !code.Exists() || textcode.String() == "" {
		return nil, false
	}
	return &Event{
		Code:     code.Int(),
		TextCode: textcode.String(),
		Desc:     v.Get("desc").String(),
		Payload:  v.Get("payload"),
	}, true
}

// IsEvent reports whether err is an *Event with textcode.
func IsEvent(err error, textcode string) bool {
	var ev *Event
	return errors.As(err, &ev) && ev.TextCode == textcode
}

func IsNoSession(err error) bool {
	return IsEvent(err, TextCodeNoSession)
}

// HTTPClient posts method calls to a JSON gateway endpoint.
type HTTPClient struct {
	url     string
	traceID string
	http    *http.Client
}

type HTTPOption func(*HTTPClient)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		h.http = c
	}
}

// WithTraceID tags every request with the calling session's trace id.
func WithTraceID(id string) HTTPOption {
	return func(h *HTTPClient) {
		h.traceID = id
	}
}

func NewHTTPClient(url string, timeout time.Duration, opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type callRequest struct {
	RequestID string `json:"request_id"`
	Service   string `json:"service"`
	Method    string `json:"method"`
	Params    []any  `json:"params"`
}

func (h *HTTPClient) Call(ctx context.Context, method string, params ...any) (gjson.Result, error) {
	def, ok := LookupMethod(method)
	if !ok {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	if err := def.Check(len(params)); err != nil {
		return gjson.Result{}, err
	}
	if params == nil {
		params = []any{}
	}

	start := time.Now()
	result, err := h.do(ctx, callRequest{
		RequestID: uuid.NewString(),
		Service:   Service(method),
		Method:    method,
		Params:    params,
	})
	observability.RecordBackendCall(method, time.Since(start), err == nil)
	if err != nil {
		logs.Debugf("backend.HTTPClient.Call method=%s trace=%s err=%v", method, h.traceID, err)
	}
	return result, err
}

func (h *HTTPClient) do(ctx context.Context, call callRequest) (gjson.Result, error) {
	body, err := json.Marshal(call)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("backend encode %s: %w", call.Method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.traceID != "" {
		req.Header.Set(TraceHeader, h.traceID)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("%w: http status %d", ErrTransport, resp.StatusCode)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%w: invalid json", ErrBadResponse)
	}

	doc := gjson.ParseBytes(raw)
	if status := doc.Get("status"); status.Exists() && status.Int() != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("%w: status %d: %s", ErrBadResponse, status.Int(), doc.Get("debug").String())
	}
	payload := doc.Get("payload")
	if ev, ok := ParseEvent(payload); ok {
		return gjson.Result{}, ev
	}
	return payload, nil
}
