package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind classifies a REST failure.
type Kind int

const (
	// KindTransport covers dial failures, timeouts and 5xx responses.
	KindTransport Kind = iota
	// KindAuthMissing means there is no usable token; the user must sign in.
	KindAuthMissing
	// KindMalformed means the server answered with a body this client cannot trust.
	KindMalformed
	// KindRejected is a 4xx the server explained, e.g. bad credentials.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindAuthMissing:
		return "auth missing"
	case KindMalformed:
		return "malformed response"
	case KindRejected:
		return "rejected"
	default:
		return "transport"
	}
}

// ErrNoToken is wrapped by auth-missing errors raised before any request is sent.
var ErrNoToken = errors.New("not signed in")

// Error is returned by every Client method.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (%d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a REST error, and false for any other error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is a REST error of kind k.
func IsKind(err error, k Kind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}

func malformed(op string, status int, format string, args ...any) *Error {
	return &Error{Kind: KindMalformed, Op: op, Status: status, Err: fmt.Errorf(format, args...)}
}

// errorBody is either {"error": "..."} or {"message": "...", "errors": {...}}.
type errorBody struct {
	Error   string          `json:"error"`
	Message json.RawMessage `json:"message"`
	Errors  json.RawMessage `json:"errors"`
}

func statusError(op string, status int, body []byte) *Error {
	e := &Error{Op: op, Status: status, Err: errors.New(describe(status, body))}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuthMissing
	case status >= 500:
		e.Kind = KindTransport
	default:
		e.Kind = KindRejected
	}
	return e
}

func describe(status int, body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return http.StatusText(status)
	}
	if eb.Error != "" {
		return eb.Error
	}
	var parts []string
	var msg string
	if json.Unmarshal(eb.Message, &msg) == nil && msg != "" {
		parts = append(parts, msg)
	}
	if details := flattenErrors(eb.Errors); details != "" {
		parts = append(parts, details)
	}
	if len(parts) == 0 {
		return http.StatusText(status)
	}
	return strings.Join(parts, ": ")
}

// flattenErrors renders a field->message map (values may be strings or lists).
func flattenErrors(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		var one string
		var many []string
		switch {
		case json.Unmarshal(fields[k], &one) == nil:
			out = append(out, k+": "+one)
		case json.Unmarshal(fields[k], &many) == nil:
			out = append(out, k+": "+strings.Join(many, ", "))
		}
	}
	return strings.Join(out, "; ")
}
