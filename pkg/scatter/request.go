package scatter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"sgrouter/pkg/types"
)

var ErrMalformedRequest = errors.New("sgrouter: malformed request")

// RequestContext travels with a request but is not part of its wire parameters.
type RequestContext struct {
	// CallID correlates every sub-request of one logical call.
	CallID string
	// TargetHost is set on sub-requests to the host they were routed to.
	TargetHost string
	Attrs      map[string]string
}

func (c RequestContext) clone() RequestContext {
	out := c
	if c.Attrs != nil {
		out.Attrs = make(map[string]string, len(c.Attrs))
		for k, v := range c.Attrs {
			out.Attrs[k] = v
		}
	}
	return out
}

// Request is one rest call against a collection resource.
type Request struct {
	Method   types.Method
	Resource string
	IDs      []types.Key
	// Params are custom query parameters sent verbatim.
	Params url.Values
	// Fields is the projection applied to returned entities.
	Fields []string
	// Inputs holds entity bodies for BatchUpdate and patch documents for
	// BatchPartialUpdate, keyed by id.
	Inputs map[types.Key]json.RawMessage
	// Entities are the bodies of a BatchCreate.
	Entities []json.RawMessage
	Headers  map[string]string
	Context  RequestContext
}

// Validate checks the request is well formed for its method.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil request", ErrMalformedRequest)
	}
	if r.Resource == "" || strings.Contains(r.Resource, "?") {
		return fmt.Errorf("%w: bad resource %q", ErrMalformedRequest, r.Resource)
	}

	seen := make(map[types.Key]struct{}, len(r.IDs))
	for _, id := range r.IDs {
		if id == "" {
			return fmt.Errorf("%w: empty id", ErrMalformedRequest)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate id %s", ErrMalformedRequest, id)
		}
		seen[id] = struct{}{}
	}

	switch r.Method {
	case types.BatchUpdate, types.BatchPartialUpdate:
		if len(r.Inputs) != len(r.IDs) {
			return fmt.Errorf("%w: %d inputs for %d ids", ErrMalformedRequest, len(r.Inputs), len(r.IDs))
		}
		for id := range r.Inputs {
			if _, ok := seen[id]; !ok {
				return fmt.Errorf("%w: input for unknown id %s", ErrMalformedRequest, id)
			}
		}
	case types.Get:
		if len(r.IDs) != 1 {
			return fmt.Errorf("%w: get takes exactly one id", ErrMalformedRequest)
		}
	case types.BatchGet, types.BatchDelete, types.BatchCreate, types.Create:
	default:
		return fmt.Errorf("%w: unknown method %q", ErrMalformedRequest, r.Method)
	}
	return nil
}

// Keys returns the ids the request addresses.
func (r *Request) Keys() []types.Key {
	return append([]types.Key(nil), r.IDs...)
}

// Query builds the query string shared by every key of the request.
func (r *Request) Query() url.Values {
	q := make(url.Values, len(r.Params)+1)
	for k, v := range r.Params {
		q[k] = append([]string(nil), v...)
	}
	if len(r.Fields) > 0 {
		q.Set("fields", strings.Join(r.Fields, ","))
	}
	return q
}

// KeyURI is the logical URI of the single-entity request for key, e.g.
// "greetings/42?fields=message&foo=bar". Partition patterns match against it.
func (r *Request) KeyURI(key types.Key) string {
	return r.Resource + "/" + url.PathEscape(string(key)) + "?" + r.Query().Encode()
}

// Subset returns a deep copy of the request restricted to keys. The copy
// shares no mutable state with r.
func (r *Request) Subset(keys []types.Key) *Request {
	out := r.clone()
	out.IDs = append([]types.Key(nil), keys...)
	out.Entities = nil

	if r.Inputs != nil {
		out.Inputs = make(map[types.Key]json.RawMessage, len(keys))
		for _, k := range keys {
			if body, ok := r.Inputs[k]; ok {
				out.Inputs[k] = append(json.RawMessage(nil), body...)
			}
		}
	}
	return out
}

func (r *Request) clone() *Request {
	out := &Request{
		Method:   r.Method,
		Resource: r.Resource,
		IDs:      append([]types.Key(nil), r.IDs...),
		Fields:   append([]string(nil), r.Fields...),
		Context:  r.Context.clone(),
	}
	if r.Params != nil {
		out.Params = make(url.Values, len(r.Params))
		for k, v := range r.Params {
			out.Params[k] = append([]string(nil), v...)
		}
	}
	if r.Inputs != nil {
		out.Inputs = make(map[types.Key]json.RawMessage, len(r.Inputs))
		for k, v := range r.Inputs {
			out.Inputs[k] = append(json.RawMessage(nil), v...)
		}
	}
	if r.Entities != nil {
		out.Entities = make([]json.RawMessage, len(r.Entities))
		for i, e := range r.Entities {
			out.Entities[i] = append(json.RawMessage(nil), e...)
		}
	}
	if r.Headers != nil {
		out.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			out.Headers[k] = v
		}
	}
	return out
}
