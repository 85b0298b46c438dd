package httpclient

import "context"

// Response is a minimal HTTP response contract.
type Response interface {
	Body() []byte
	StatusCode() int
}

// Transport abstracts the wire exchange so callers can inject fakes or different clients.
// A nil Response with a nil error means the exchange produced nothing classifiable as HTTP.
type Transport interface {
	Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (Response, error)
}

// Queue delivers completions on the designated execution context.
// dispatch.MainQueue satisfies it.
type Queue interface {
	Async(fn func())
}

// Observer is told about every finished call, after its completion was queued.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveOutcome(o Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(o Outcome)

func (f ObserverFunc) ObserveOutcome(o Outcome) { f(o) }
