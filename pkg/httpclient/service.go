package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samvad-hq/samvad-base-service/pkg/dispatch"
)

const (
	headerContentType = "Content-Type"
	headerRequestID   = "X-Request-ID"
	contentTypeJSON   = "application/json"

	minSuccessStatus = 200
	maxSuccessStatus = 299
)

// Service issues single HTTP calls and delivers classified results on its queue.
// It holds no per-call state, so any number of calls may be in flight at once.
type Service struct {
	transport Transport
	queue     Queue
	observers []Observer
	headers   map[string]string
}

// Option customizes a Service at construction.
type Option func(*Service)

// WithTransport replaces the default resty transport.
func WithTransport(t Transport) Option {
	return func(s *Service) {
		if t != nil {
			s.transport = t
		}
	}
}

// WithQueue sets the context completions are delivered on. Defaults to dispatch.Main().
func WithQueue(q Queue) Option {
	return func(s *Service) {
		if q != nil {
			s.queue = q
		}
	}
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) Option {
	return func(s *Service) {
		if key == "" {
			return
		}
		if s.headers == nil {
			s.headers = make(map[string]string)
		}
		s.headers[key] = value
	}
}

// New builds an independent Service.
func New(opts ...Option) *Service {
	s := &Service{}
	for _, opt := range opts {
		opt(s)
	}
	if s.transport == nil {
		s.transport = NewRestyTransport(0, nil)
	}
	if s.queue == nil {
		s.queue = dispatch.Main()
	}
	return s
}

var (
	sharedMu      sync.Mutex
	shared        *Service
	sharedOptions []Option
)

// ErrSharedInitialized is returned by ConfigureShared once Shared has been used.
var ErrSharedInitialized = errors.New("shared service already initialized")

// ConfigureShared sets the options the process-wide Service is built with.
// It must run before the first call to Shared.
func ConfigureShared(opts ...Option) error {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared != nil {
		return ErrSharedInitialized
	}
	sharedOptions = append([]Option(nil), opts...)
	return nil
}

// Shared returns the process-wide Service, building it on first use.
func Shared() *Service {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		shared = New(sharedOptions...)
	}
	return shared
}

// Outcome describes a finished call for observers.
type Outcome struct {
	RequestID   string
	Method      Method
	URL         string
	StatusCode  int
	Err         *NetworkError
	Duration    time.Duration
	CompletedAt time.Time
}

// Kind returns the failure kind name, or "success".
func (o Outcome) Kind() string {
	if o.Err == nil {
		return "success"
	}
	return o.Err.Kind.String()
}

// Get issues a GET with no body.
func Get[T any](s *Service, u *url.URL, completion func(Result[T])) {
	Execute(s, u, MethodGet, nil, completion)
}

// ExecuteString parses rawURL and issues the request. An unparsable address, or
// one without scheme and host, completes with InvalidURL.
func ExecuteString[T any](s *Service, rawURL string, method Method, body any, completion func(Result[T])) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		u = nil
	}
	Execute(s, u, method, body, completion)
}

// Execute issues one request and calls completion exactly once, on the
// service's queue, with the decoded value or the classified failure. It never
// blocks on the network; body, when non-nil, is sent as JSON.
func Execute[T any](s *Service, u *url.URL, method Method, body any, completion func(Result[T])) {
	if s == nil {
		s = Shared()
	}
	if method == "" {
		method = MethodGet
	}
	c := &call[T]{
		svc:        s,
		id:         uuid.NewString(),
		method:     method,
		started:    time.Now(),
		completion: completion,
	}
	if u == nil {
		c.finishDetached(InvalidURL())
		return
	}
	c.url = u.String()

	headers := make(map[string]string, len(s.headers)+2)
	for k, v := range s.headers {
		headers[k] = v
	}
	headers[headerRequestID] = c.id

	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.finishDetached(DecodingFailed(fmt.Errorf("encode request body: %w", err)))
			return
		}
		payload = raw
		headers[headerContentType] = contentTypeJSON
	}

	go c.send(headers, payload)
}

// call carries the lifecycle of a single Execute invocation.
type call[T any] struct {
	svc        *Service
	id         string
	method     Method
	url        string
	started    time.Time
	completion func(Result[T])
	value      T
}

func (c *call[T]) send(headers map[string]string, payload []byte) {
	resp, err := c.svc.transport.Do(context.Background(), c.method.String(), c.url, headers, payload)
	if err != nil {
		c.finish(0, RequestFailed(err))
		return
	}
	if resp == nil {
		c.finish(0, InvalidResponse())
		return
	}

	status := resp.StatusCode()
	if status < 100 || status > 599 {
		c.finish(status, InvalidResponse())
		return
	}
	if status < minSuccessStatus || status > maxSuccessStatus {
		c.finish(status, InvalidStatusCode(status))
		return
	}

	data := resp.Body()
	if len(data) == 0 {
		c.finish(status, NoData())
		return
	}
	if isJSONNull(data) && !nullable[T]() {
		c.finish(status, DecodingFailed(fmt.Errorf("cannot decode null into %s", reflect.TypeFor[T]())))
		return
	}
	if err := json.Unmarshal(data, &c.value); err != nil {
		c.finish(status, DecodingFailed(err))
		return
	}
	c.finish(status, nil)
}

// finish queues the completion and then notifies observers on the current
// goroutine, which for network outcomes is the worker.
func (c *call[T]) finish(status int, nerr *NetworkError) {
	o := c.deliver(status, nerr)
	c.notify(o)
}

// finishDetached is used by exits taken on the caller's goroutine before any
// request is sent; observers run elsewhere so Execute still returns at once.
func (c *call[T]) finishDetached(nerr *NetworkError) {
	o := c.deliver(0, nerr)
	if len(c.svc.observers) > 0 {
		go c.notify(o)
	}
}

// deliver queues the completion and describes the outcome.
func (c *call[T]) deliver(status int, nerr *NetworkError) Outcome {
	res := Success(c.value)
	if nerr != nil {
		res = Failure[T](nerr)
	}
	if completion := c.completion; completion != nil {
		c.svc.queue.Async(func() { completion(res) })
	}

	now := time.Now()
	return Outcome{
		RequestID:   c.id,
		Method:      c.method,
		URL:         c.url,
		StatusCode:  status,
		Err:         nerr,
		Duration:    now.Sub(c.started),
		CompletedAt: now.UTC(),
	}
}

func (c *call[T]) notify(o Outcome) {
	for _, obs := range c.svc.observers {
		obs.ObserveOutcome(o)
	}
}

func isJSONNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// nullable reports whether a JSON null is a meaningful value for T.
func nullable[T any]() bool {
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return true
	}
	return false
}
