package core

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

var (
	// ErrClockSkew indicates the request timestamp fell outside the exchange's receive window.
	ErrClockSkew = errors.New("timestamp outside recv window")
	// ErrRateLimited indicates the request weight or order rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")
	// ErrIPBanned indicates the exchange banned the caller's IP after repeated limit violations.
	ErrIPBanned = errors.New("ip banned")
	// ErrUnauthorized indicates the API key was rejected or lacks permission.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidSymbol indicates the exchange does not list the requested symbol.
	ErrInvalidSymbol = errors.New("invalid symbol")
	ErrServerError   = errors.New("exchange server error")
	ErrTransport     = errors.New("transport failure")
	ErrDecode        = errors.New("response decode failure")
	// ErrCredentialsMissing indicates a signed call was attempted in public-only mode.
	ErrCredentialsMissing = errors.New("credentials missing")
)

type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindHTTP      ErrorKind = "http"
	KindExchange  ErrorKind = "exchange"
	KindDecode    ErrorKind = "decode"
	KindAuth      ErrorKind = "auth"
)

// Sentinel codes for failures that never reached the exchange's own error
// model. They sit below every code the exchange publishes.
const (
	CodeTransport          = -90001
	CodeDecode             = -90002
	CodeHTTPStatus         = -90003
	CodeCredentialsMissing = -90004
)

// Exchange codes the client reacts to.
const (
	CodeTooManyRequests = -1003
	CodeClockSkew       = -1021
)

// APIError is the error half of a Result.
type APIError struct {
	Kind       ErrorKind
	Code       int
	HTTPStatus int
	Message    string

	causes []error
}

func NewTransportError(err error) *APIError {
	return &APIError{
		Kind:    KindTransport,
		Code:    CodeTransport,
		Message: err.Error(),
		causes:  []error{ErrTransport, err},
	}
}

func NewDecodeError(err error) *APIError {
	return &APIError{
		Kind:    KindDecode,
		Code:    CodeDecode,
		Message: err.Error(),
		causes:  []error{ErrDecode, err},
	}
}

// NewHTTPError is used when a non-2xx response carried no exchange error body.
func NewHTTPError(status int, body string) *APIError {
	msg := http.StatusText(status)
	if body != "" {
		msg = body
	}
	e := &APIError{Kind: KindHTTP, Code: CodeHTTPStatus, HTTPStatus: status, Message: msg}
	switch {
	case status >= 500:
		e.causes = []error{ErrServerError}
	case status == http.StatusTooManyRequests:
		e.causes = []error{ErrRateLimited}
	case status == http.StatusTeapot:
		e.causes = []error{ErrIPBanned}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.causes = []error{ErrUnauthorized}
	}
	return e
}

func NewExchangeError(status, code int, msg string, kinds ...error) *APIError {
	return &APIError{
		Kind:       KindExchange,
		Code:       code,
		HTTPStatus: status,
		Message:    msg,
		causes:     kinds,
	}
}

func NewCredentialsMissingError() *APIError {
	return &APIError{
		Kind:    KindAuth,
		Code:    CodeCredentialsMissing,
		Message: "signed endpoint requires credentials",
		causes:  []error{ErrCredentialsMissing},
	}
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s error %d (http %d): %s", e.Kind, e.Code, e.HTTPStatus, e.Message)
	}
	return string(e.Kind) + " error " + strconv.Itoa(e.Code) + ": " + e.Message
}

// Unwrap exposes the classification sentinels and any underlying cause to
// errors.Is and errors.As.
func (e *APIError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return e.causes
}

// Retryable reports whether the failure class may succeed on a later attempt.
// Callers still decide whether the request itself is safe to repeat.
func (e *APIError) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindTransport:
		return true
	case KindDecode, KindAuth:
		return false
	}
	if e.HTTPStatus >= 500 {
		return true
	}
	if e.HTTPStatus == http.StatusTooManyRequests || e.Code == CodeTooManyRequests {
		return true
	}
	return e.Code == CodeClockSkew
}
