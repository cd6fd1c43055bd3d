package http

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an AppError and fixes its wire code and HTTP status.
type Kind uint8

const (
	KindInternal Kind = iota
	KindBadRequest
	KindNotFound
	KindConflict
	KindUnprocessable
	KindRateLimited
	KindUnavailable
)

var kindWire = [...]struct {
	code   string
	status int
}{
	KindInternal:      {"ERR_INTERNAL", http.StatusInternalServerError},
	KindBadRequest:    {"ERR_BAD_REQUEST", http.StatusBadRequest},
	KindNotFound:      {"ERR_NOT_FOUND", http.StatusNotFound},
	KindConflict:      {"ERR_CONFLICT", http.StatusConflict},
	KindUnprocessable: {"ERR_UNPROCESSABLE", http.StatusUnprocessableEntity},
	KindRateLimited:   {"ERR_RATE_LIMITED", http.StatusTooManyRequests},
	KindUnavailable:   {"ERR_UNAVAILABLE", http.StatusServiceUnavailable},
}

func (k Kind) Code() string {
	if int(k) >= len(kindWire) {
		return kindWire[KindInternal].code
	}
	return kindWire[k].code
}

func (k Kind) Status() int {
	if int(k) >= len(kindWire) {
		return kindWire[KindInternal].status
	}
	return kindWire[k].status
}

// AppError is an error with a client-facing code and message. Err stays server side.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	Status  int            `json:"-"`
	Err     error          `json:"-"`
}

// NewError builds an AppError of kind k.
func NewError(k Kind, format string, args ...any) *AppError {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &AppError{Code: k.Code(), Message: msg, Status: k.Status()}
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error { return e.Err }

// Wrap attaches the cause.
func (e *AppError) Wrap(err error) *AppError {
	e.Err = err
	return e
}

// On names the offending request field.
func (e *AppError) On(field string) *AppError {
	e.Field = field
	return e
}

func (e *AppError) WithParam(key string, value any) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]any, 1)
	}
	e.Params[key] = value
	return e
}

type errorRule struct {
	target  error
	kind    Kind
	message string
}

// ErrorMap translates domain sentinel errors into AppErrors. Rules are
// matched in registration order with errors.Is.
type ErrorMap struct {
	rules []errorRule
}

// Map registers target. It returns m for chaining.
func (m *ErrorMap) Map(target error, k Kind, message string) *ErrorMap {
	m.rules = append(m.rules, errorRule{target: target, kind: k, message: message})
	return m
}

// Resolve returns err itself when it already is an AppError, the first
// matching rule otherwise, and an internal error when nothing matches.
func (m *ErrorMap) Resolve(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, r := range m.rules {
		if errors.Is(err, r.target) {
			return NewError(r.kind, "%s", r.message).Wrap(err)
		}
	}
	return NewError(KindInternal, "internal error").Wrap(err)
}
