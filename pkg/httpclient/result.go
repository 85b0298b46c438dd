package httpclient

// Result holds either a decoded value or the classified failure of one call.
type Result[T any] struct {
	Value T
	Err   *NetworkError
}

func Success[T any](v T) Result[T] { return Result[T]{Value: v} }

func Failure[T any](err *NetworkError) Result[T] { return Result[T]{Err: err} }

// OK reports whether the result carries a value.
func (r Result[T]) OK() bool { return r.Err == nil }

// Get returns the value and, on failure, the error. The error is a nil
// interface on success.
func (r Result[T]) Get() (T, error) {
	if r.Err != nil {
		var zero T
		return zero, r.Err
	}
	return r.Value, nil
}
