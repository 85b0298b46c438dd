package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samvad-hq/samvad-base-service/pkg/dispatch"
)

type item struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// recordingQueue counts deliveries and forwards them to a MainQueue.
type recordingQueue struct {
	main  *dispatch.MainQueue
	calls atomic.Int32
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{main: dispatch.NewMainQueue()}
}

func (q *recordingQueue) Async(fn func()) {
	q.calls.Add(1)
	q.main.Async(fn)
}

// goroutineID parses the current goroutine's id from its stack header.
func goroutineID(t *testing.T) uint64 {
	t.Helper()
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	fields := strings.Fields(strings.TrimPrefix(string(buf), "goroutine "))
	if len(fields) == 0 {
		t.Fatalf("unexpected stack header %q", buf)
	}
	id, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		t.Fatalf("parse goroutine id: %v", err)
	}
	return id
}

// await runs the queue on the test goroutine until the completion fires, then
// drains anything left so duplicate deliveries would be observed.
func await[T any](t *testing.T, q *recordingQueue, start func(func(Result[T]))) (Result[T], int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		res    Result[T]
		fired  int
		loopID = goroutineID(t)
		onLoop = true
	)
	start(func(r Result[T]) {
		if !q.main.Executing() || goroutineID(t) != loopID {
			onLoop = false
		}
		fired++
		res = r
		cancel()
	})
	if err := q.main.Run(ctx); err != nil {
		t.Fatalf("queue run: %v", err)
	}
	if fired == 0 {
		t.Fatalf("completion never fired")
	}
	time.Sleep(20 * time.Millisecond)
	q.main.Drain()

	if !onLoop {
		t.Fatalf("completion ran outside the designated queue")
	}
	return res, fired
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return u
}

func TestExecuteDecodesSuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.Header.Get(headerRequestID) == "" {
			t.Errorf("missing request id header")
		}
		_, _ = io.WriteString(w, `{"id":1,"name":"a"}`)
	}))
	defer srv.Close()

	q := newRecordingQueue()
	svc := New(WithQueue(q))

	res, fired := await(t, q, func(done func(Result[item])) {
		Get(svc, mustURL(t, srv.URL+"/items"), done)
	})
	if fired != 1 || q.calls.Load() != 1 {
		t.Fatalf("expected exactly one delivery, fired=%d queued=%d", fired, q.calls.Load())
	}
	v, err := res.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != (item{ID: 1, Name: "a"}) {
		t.Fatalf("unexpected value %+v", v)
	}
}

func TestExecuteClassifiesStatusAndBody(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"id":1,"name":"a"}`, kind: KindInvalidStatusCode},
		{name: "server error", status: http.StatusInternalServerError, body: "", kind: KindInvalidStatusCode},
		{name: "redirect status", status: http.StatusNotModified, body: "", kind: KindInvalidStatusCode},
		{name: "empty body", status: http.StatusOK, body: "", kind: KindNoData},
		{name: "no content", status: http.StatusNoContent, body: "", kind: KindNoData},
		{name: "not json", status: http.StatusOK, body: "not-json", kind: KindDecodingFailed},
		{name: "wrong shape", status: http.StatusCreated, body: `{"id":"x"}`, kind: KindDecodingFailed},
		{name: "null body", status: http.StatusOK, body: "null", kind: KindDecodingFailed},
		{name: "padded null body", status: http.StatusOK, body: " null\n", kind: KindDecodingFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			q := newRecordingQueue()
			svc := New(WithQueue(q))

			res, fired := await(t, q, func(done func(Result[item])) {
				Get(svc, mustURL(t, srv.URL+"/items"), done)
			})
			if fired != 1 {
				t.Fatalf("expected one completion, got %d", fired)
			}
			if res.OK() {
				t.Fatalf("expected failure, got %+v", res.Value)
			}
			if res.Err.Kind != tc.kind {
				t.Fatalf("kind = %v, want %v (%v)", res.Err.Kind, tc.kind, res.Err)
			}
			if tc.kind == KindInvalidStatusCode && res.Err.StatusCode != tc.status {
				t.Fatalf("status code = %d, want %d", res.Err.StatusCode, tc.status)
			}
		})
	}
}

func TestExecuteSendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("content type = %q", got)
		}
		var in item
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode body: %v", err)
		}
		in.ID++
		_ = json.NewEncoder(w).Encode(in)
	}))
	defer srv.Close()

	q := newRecordingQueue()
	svc := New(WithQueue(q), WithHeader("X-Test", "1"))

	res, _ := await(t, q, func(done func(Result[item])) {
		Execute(svc, mustURL(t, srv.URL), MethodPost, item{ID: 1, Name: "b"}, done)
	})
	if !res.OK() || res.Value != (item{ID: 2, Name: "b"}) {
		t.Fatalf("unexpected result %+v err=%v", res.Value, res.Err)
	}
}

func TestExecuteNullDecodesIntoNillableTypes(t *testing.T) {
	tr := &fakeTransport{resp: fakeResponse{status: 200, body: []byte("null")}}
	q := newRecordingQueue()
	svc := New(WithQueue(q), WithTransport(tr))
	u := mustURL(t, "https://api.example.com/items")

	ptr, _ := await(t, q, func(done func(Result[*item])) { Get(svc, u, done) })
	if !ptr.OK() || ptr.Value != nil {
		t.Fatalf("pointer: expected nil success, got %+v err=%v", ptr.Value, ptr.Err)
	}
	list, _ := await(t, q, func(done func(Result[[]item])) { Get(svc, u, done) })
	if !list.OK() || list.Value != nil {
		t.Fatalf("slice: expected nil success, got %+v err=%v", list.Value, list.Err)
	}
	n, _ := await(t, q, func(done func(Result[int])) { Get(svc, u, done) })
	if !errors.Is(n.Err, ErrDecodingFailed) {
		t.Fatalf("int: expected decoding failure, got %v", n.Err)
	}
}

type fakeTransport struct {
	mu    sync.Mutex
	calls int
	resp  Response
	err   error
}

func (f *fakeTransport) Do(context.Context, string, string, map[string]string, []byte) (Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.resp, f.err
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeResponse struct {
	status int
	body   []byte
}

func (r fakeResponse) Body() []byte    { return r.body }
func (r fakeResponse) StatusCode() int { return r.status }

func TestExecuteEncodeFailureSkipsNetwork(t *testing.T) {
	tr := &fakeTransport{resp: fakeResponse{status: 200, body: []byte(`{}`)}}
	q := newRecordingQueue()
	svc := New(WithQueue(q), WithTransport(tr))

	res, fired := await(t, q, func(done func(Result[item])) {
		Execute(svc, mustURL(t, "https://api.example.com/items"), MethodPost, make(chan int), done)
	})
	if fired != 1 {
		t.Fatalf("expected one completion, got %d", fired)
	}
	if !errors.Is(res.Err, ErrDecodingFailed) {
		t.Fatalf("expected decoding failure, got %v", res.Err)
	}
	if !strings.Contains(res.Err.Description(), "encode request body") {
		t.Fatalf("description should mention encoding: %q", res.Err.Description())
	}
	if tr.callCount() != 0 {
		t.Fatalf("transport should not be called, got %d calls", tr.callCount())
	}
}

func TestExecuteTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	q := newRecordingQueue()
	svc := New(WithQueue(q), WithTransport(NewRestyTransport(2*time.Second, nil)))

	res, fired := await(t, q, func(done func(Result[item])) {
		Get(svc, mustURL(t, addr+"/items"), done)
	})
	if fired != 1 {
		t.Fatalf("expected one completion, got %d", fired)
	}
	if res.Err == nil || res.Err.Kind != KindRequestFailed {
		t.Fatalf("expected request failure, got %v", res.Err)
	}
	if res.Err.Cause == nil {
		t.Fatalf("cause must be preserved")
	}
	if !strings.Contains(res.Err.Description(), res.Err.Cause.Error()) {
		t.Fatalf("description %q does not include cause %q", res.Err.Description(), res.Err.Cause.Error())
	}
}

func TestExecuteInvalidResponse(t *testing.T) {
	cases := []struct {
		name string
		resp Response
	}{
		{name: "no response", resp: nil},
		{name: "no status line", resp: fakeResponse{status: 0, body: []byte(`{}`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := newRecordingQueue()
			svc := New(WithQueue(q), WithTransport(&fakeTransport{resp: tc.resp}))

			res, _ := await(t, q, func(done func(Result[item])) {
				Get(svc, mustURL(t, "https://api.example.com/items"), done)
			})
			if !errors.Is(res.Err, ErrInvalidResponse) {
				t.Fatalf("expected invalid response, got %v", res.Err)
			}
		})
	}
}

func TestExecuteStringInvalidURL(t *testing.T) {
	tr := &fakeTransport{}
	for _, raw := range []string{"://bad", "not a url", ""} {
		q := newRecordingQueue()
		svc := New(WithQueue(q), WithTransport(tr))

		res, _ := await(t, q, func(done func(Result[item])) {
			ExecuteString(svc, raw, MethodGet, nil, done)
		})
		if !errors.Is(res.Err, ErrInvalidURL) {
			t.Fatalf("%q: expected invalid url, got %v", raw, res.Err)
		}
	}
	if tr.callCount() != 0 {
		t.Fatalf("transport should not be called for invalid urls")
	}
}

func TestExecuteNotifiesObservers(t *testing.T) {
	tr := &fakeTransport{resp: fakeResponse{status: 404}}
	q := newRecordingQueue()
	outcomes := make(chan Outcome, 1)
	svc := New(WithQueue(q), WithTransport(tr), WithObserver(ObserverFunc(func(o Outcome) {
		outcomes <- o
	})))

	await(t, q, func(done func(Result[item])) {
		Execute(svc, mustURL(t, "https://api.example.com/items"), "", nil, done)
	})

	select {
	case o := <-outcomes:
		if o.Method != MethodGet || o.StatusCode != 404 || o.Kind() != "invalid_status_code" {
			t.Fatalf("unexpected outcome %+v", o)
		}
		if o.RequestID == "" || o.URL != "https://api.example.com/items" {
			t.Fatalf("outcome missing identity: %+v", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("observer not notified")
	}
}

func TestExecuteEarlyFailuresDoNotWaitForObservers(t *testing.T) {
	const observerDelay = time.Second
	tr := &fakeTransport{}
	q := newRecordingQueue()
	notified := make(chan Kind, 2)
	svc := New(WithQueue(q), WithTransport(tr), WithObserver(ObserverFunc(func(o Outcome) {
		time.Sleep(observerDelay)
		notified <- o.Err.Kind
	})))

	exits := []struct {
		name string
		run  func(done func(Result[item]))
	}{
		{"invalid url", func(done func(Result[item])) {
			ExecuteString(svc, "://bad", MethodGet, nil, done)
		}},
		{"unencodable body", func(done func(Result[item])) {
			Execute(svc, mustURL(t, "https://api.example.com/items"), MethodPost, make(chan int), done)
		}},
	}
	for _, exit := range exits {
		started := time.Now()
		exit.run(func(Result[item]) {})
		if elapsed := time.Since(started); elapsed > 100*time.Millisecond {
			t.Fatalf("%s: Execute blocked for %v on a slow observer", exit.name, elapsed)
		}
	}
	if n := q.calls.Load(); n != 2 {
		t.Fatalf("expected both completions queued before returning, got %d", n)
	}

	got := map[Kind]bool{}
	for range exits {
		select {
		case k := <-notified:
			got[k] = true
		case <-time.After(3 * observerDelay):
			t.Fatalf("observer not notified, got %v", got)
		}
	}
	if !got[KindInvalidURL] || !got[KindDecodingFailed] {
		t.Fatalf("unexpected observed kinds %v", got)
	}
	if tr.callCount() != 0 {
		t.Fatalf("transport should not be called, got %d calls", tr.callCount())
	}
}

func TestExecuteManyConcurrentCalls(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := hits.Add(1)
		_ = json.NewEncoder(w).Encode(item{ID: int(n), Name: "c"})
	}))
	defer srv.Close()

	q := dispatch.NewMainQueue()
	svc := New(WithQueue(q))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const calls = 25
	completed := 0
	for i := 0; i < calls; i++ {
		Get(svc, mustURL(t, srv.URL), func(r Result[item]) {
			if !r.OK() {
				t.Errorf("call failed: %v", r.Err)
			}
			completed++
			if completed == calls {
				cancel()
			}
		})
	}
	if err := q.Run(ctx); err != nil {
		t.Fatalf("queue run: %v", err)
	}
	if completed != calls {
		t.Fatalf("expected %d completions, got %d", calls, completed)
	}
}

func TestConfigureSharedAfterUse(t *testing.T) {
	if Shared() != Shared() {
		t.Fatalf("Shared returned different services")
	}
	if err := ConfigureShared(); !errors.Is(err, ErrSharedInitialized) {
		t.Fatalf("expected ErrSharedInitialized, got %v", err)
	}
}
