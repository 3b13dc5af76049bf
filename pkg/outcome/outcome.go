// Package outcome carries query results together with the kind of failure, if any, so the HTTP layer
// can map them to status codes without inspecting error strings.
package outcome

import (
	"net/http"
)

type Kind int

const (
	OK Kind = iota
	// NotFound means the compartment was never populated or the entity is absent.
	NotFound
	// Invalid means the request itself was malformed.
	Invalid
	// Internal means stored data could not be used.
	Internal
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case NotFound:
		return "not_found"
	case Invalid:
		return "invalid"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// HTTPStatus maps k to the response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case OK:
		return http.StatusOK
	case NotFound:
		return http.StatusNotFound
	case Invalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type Outcome[T any] struct {
	Kind Kind
	Data T
	// Message is safe to show to clients. Empty for OK.
	Message string
}

func Ok[T any](data T) Outcome[T] {
	return Outcome[T]{Kind: OK, Data: data}
}

// Fail builds a failed outcome of kind k. msg is shown to clients.
func Fail[T any](k Kind, msg string) Outcome[T] {
	return Outcome[T]{Kind: k, Message: msg}
}

func (o Outcome[T]) IsOK() bool { return o.Kind == OK }
