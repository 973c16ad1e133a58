package scatter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"sgrouter/pkg/types"
)

var (
	ErrAllDestinationsFailed = errors.New("sgrouter: every destination failed")
	ErrNoMapper              = errors.New("sgrouter: scatter-gather requested without a uri mapper")
	ErrInvalidPlan           = errors.New("sgrouter: scatter plan does not cover the request keys")

	errEmptyResponse = errors.New("host returned no response")
)

// ErrorKind tells where a per-key error came from.
type ErrorKind int

const (
	// PerKeyRemoteError is a failure the serving host reported for the key itself.
	PerKeyRemoteError ErrorKind = iota
	// UnresolvedKey means no host could be found for the key; it was never sent.
	UnresolvedKey
	// SubRequestFailure means the whole sub-request carrying the key failed.
	SubRequestFailure
)

func (k ErrorKind) String() string {
	switch k {
	case PerKeyRemoteError:
		return "remote"
	case UnresolvedKey:
		return "unresolved"
	case SubRequestFailure:
		return "sub_request"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// KeyError is the error outcome of one key.
type KeyError struct {
	Kind    ErrorKind
	Status  int
	Host    string
	Message string
	Cause   error
}

func (e *KeyError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Host != "" {
		return fmt.Sprintf("%s error from %s (status %d): %s", e.Kind, e.Host, e.Status, msg)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.Status, msg)
}

func (e *KeyError) Unwrap() error { return e.Cause }

// KeyResult is the outcome of one key: an entity and status, or an error.
type KeyResult struct {
	Status int
	Entity json.RawMessage
	Err    *KeyError
}

// OK reports whether the key succeeded.
func (r *KeyResult) OK() bool { return r != nil && r.Err == nil }

// Response is a keyed batch response, either straight from one host or gathered from many.
type Response struct {
	Results map[types.Key]*KeyResult
	// Created lists server-assigned ids of a BatchCreate in input order.
	Created []types.Key
}

// Successes returns the keys that succeeded.
func (r *Response) Successes() map[types.Key]*KeyResult {
	out := make(map[types.Key]*KeyResult)
	for k, res := range r.Results {
		if res.OK() {
			out[k] = res
		}
	}
	return out
}

// Errors returns the keys that failed.
func (r *Response) Errors() map[types.Key]*KeyError {
	out := make(map[types.Key]*KeyError)
	for k, res := range r.Results {
		if !res.OK() {
			if res == nil || res.Err == nil {
				out[k] = &KeyError{Kind: PerKeyRemoteError, Status: http.StatusInternalServerError, Message: "empty result"}
				continue
			}
			out[k] = res.Err
		}
	}
	return out
}

// StatusCoder is implemented by transport errors that carry a remote status.
type StatusCoder interface {
	StatusCode() int
}

func statusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}
