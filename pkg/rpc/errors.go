package rpc

import (
	"errors"
	"fmt"
)

var ErrUnsupportedMethod = errors.New("rpc: unsupported method")

// StatusError is returned when a host answers a whole request with a non-2xx status.
type StatusError struct {
	Host   string
	Code   int
	Body   string
	Method string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed: %d: %s", e.Method, e.Host, e.Code, e.Body)
}

// StatusCode lets the gatherer report the remote status per key.
func (e *StatusError) StatusCode() int { return e.Code }
