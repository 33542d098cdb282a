package core

import "time"

// Result carries exactly one of Data or Err, plus the call's wall time.
type Result[T any] struct {
	Data    T
	Err     *APIError
	Elapsed time.Duration
}

func OK[T any](data T, elapsed time.Duration) Result[T] {
	return Result[T]{Data: data, Elapsed: elapsed}
}

func Fail[T any](err *APIError, elapsed time.Duration) Result[T] {
	if err == nil {
		err = &APIError{Kind: KindTransport, Code: CodeTransport, Message: "unknown failure"}
	}
	return Result[T]{Err: err, Elapsed: elapsed}
}

func (r Result[T]) Succeeded() bool {
	return r.Err == nil
}

func (r Result[T]) ElapsedMs() int64 {
	return r.Elapsed.Milliseconds()
}

// Unwrap converts the result into the usual (value, error) pair.
func (r Result[T]) Unwrap() (T, error) {
	if r.Err != nil {
		var zero T
		return zero, r.Err
	}
	return r.Data, nil
}
