package rpc

import (
	"encoding/json"
	"net/http"

	"sgrouter/pkg/scatter"
	"sgrouter/pkg/types"
)

// Wire headers.
const (
	HeaderRequestID    = "X-Request-ID"
	HeaderSubRequestID = "X-Sub-Request-ID"
	HeaderTargetHost   = "X-Target-Host"

	ParamIDs = "ids"

	contentTypeJSON = "application/json"
	encodingZstd    = "zstd"
)

// BatchBody is the request body of the write endpoints.
type BatchBody struct {
	// Inputs are full entities for PUT and merge patches for PATCH, keyed by id.
	Inputs map[string]json.RawMessage `json:"inputs,omitempty"`
	// Entities are the bodies of a POST.
	Entities []json.RawMessage `json:"entities,omitempty"`
}

// Envelope is the reply of every batch endpoint.
type Envelope struct {
	Results map[string]EntityResult `json:"results"`
	Errors  map[string]EntityError  `json:"errors,omitempty"`
	Created []string                `json:"created,omitempty"`
}

type EntityResult struct {
	Status int             `json:"status"`
	Entity json.RawMessage `json:"entity,omitempty"`
}

type EntityError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// NewEnvelope returns an empty envelope.
func NewEnvelope() *Envelope {
	return &Envelope{
		Results: make(map[string]EntityResult),
		Errors:  make(map[string]EntityError),
	}
}

// Response converts the envelope into a keyed scatter response. Keys listed
// in both sections keep their error.
func (e *Envelope) Response() *scatter.Response {
	res := &scatter.Response{Results: make(map[types.Key]*scatter.KeyResult, len(e.Results)+len(e.Errors))}
	for k, r := range e.Results {
		res.Results[types.Key(k)] = &scatter.KeyResult{Status: r.Status, Entity: r.Entity}
	}
	for k, er := range e.Errors {
		status := er.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		res.Results[types.Key(k)] = &scatter.KeyResult{
			Status: status,
			Err: &scatter.KeyError{
				Kind:    scatter.PerKeyRemoteError,
				Status:  status,
				Message: er.Message,
			},
		}
	}
	for _, id := range e.Created {
		res.Created = append(res.Created, types.Key(id))
	}
	return res
}
