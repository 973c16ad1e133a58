package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"sgrouter/pkg/rpc"
	"sgrouter/pkg/store"
	"sgrouter/pkg/types"
)

const maxBodyBytes = 8 << 20

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	id := types.Key(chi.URLParam(r, "id"))

	body, err := s.store.Get(resource, id)
	if err != nil {
		s.writeJSON(w, r, statusFor(err), NewErrorResponse(err.Error()))
		return
	}
	env := rpc.NewEnvelope()
	env.Results[string(id)] = rpc.EntityResult{Status: http.StatusOK, Entity: project(body, fields(r))}
	s.writeJSON(w, r, http.StatusOK, env)
}

// handleBatchGet answers the ids listed in the query, or every entity of the
// resource when no ids are given.
func (s *Server) handleBatchGet(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	proj := fields(r)
	if !r.URL.Query().Has(rpc.ParamIDs) {
		env := rpc.NewEnvelope()
		s.store.Range(resource, func(id types.Key, body json.RawMessage) bool {
			env.Results[string(id)] = rpc.EntityResult{Status: http.StatusOK, Entity: project(body, proj)}
			return true
		})
		s.writeJSON(w, r, http.StatusOK, env)
		return
	}
	ids, ok := s.requireIDs(w, r)
	if !ok {
		return
	}

	env := rpc.NewEnvelope()
	for _, id := range ids {
		body, err := s.store.Get(resource, id)
		if err != nil {
			env.Errors[string(id)] = entityError(err)
			continue
		}
		env.Results[string(id)] = rpc.EntityResult{Status: http.StatusOK, Entity: project(body, proj)}
	}
	s.writeJSON(w, r, http.StatusOK, env)
}

// handlePut creates or replaces the entity under the id in the path.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	id := types.Key(chi.URLParam(r, "id"))

	entity, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, NewErrorResponse("Failed to read body: "+err.Error()))
		return
	}
	created, err := s.store.Put(resource, id, entity)
	if err != nil {
		s.writeJSON(w, r, statusFor(err), NewErrorResponse(err.Error()))
		return
	}
	status := http.StatusNoContent
	if created {
		status = http.StatusCreated
	}
	env := rpc.NewEnvelope()
	env.Results[string(id)] = rpc.EntityResult{Status: status}
	s.writeJSON(w, r, http.StatusOK, env)
}

func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	ids, ok := s.requireIDs(w, r)
	if !ok {
		return
	}

	env := rpc.NewEnvelope()
	for _, id := range ids {
		if err := s.store.Delete(resource, id); err != nil {
			env.Errors[string(id)] = entityError(err)
			continue
		}
		env.Results[string(id)] = rpc.EntityResult{Status: http.StatusNoContent}
	}
	s.writeJSON(w, r, http.StatusOK, env)
}

func (s *Server) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	s.handleBatchWrite(w, r, func(resource string, id types.Key, in json.RawMessage) (rpc.EntityResult, error) {
		if err := s.store.Update(resource, id, in); err != nil {
			return rpc.EntityResult{}, err
		}
		return rpc.EntityResult{Status: http.StatusNoContent}, nil
	})
}

func (s *Server) handleBatchPatch(w http.ResponseWriter, r *http.Request) {
	s.handleBatchWrite(w, r, func(resource string, id types.Key, in json.RawMessage) (rpc.EntityResult, error) {
		if _, err := s.store.Patch(resource, id, in); err != nil {
			return rpc.EntityResult{}, err
		}
		return rpc.EntityResult{Status: http.StatusNoContent}, nil
	})
}

type writeFunc func(resource string, id types.Key, in json.RawMessage) (rpc.EntityResult, error)

func (s *Server) handleBatchWrite(w http.ResponseWriter, r *http.Request, apply writeFunc) {
	resource := chi.URLParam(r, "resource")
	ids, ok := s.requireIDs(w, r)
	if !ok {
		return
	}
	body, ok := s.decodeBody(w, r)
	if !ok {
		return
	}

	env := rpc.NewEnvelope()
	for _, id := range ids {
		in, ok := body.Inputs[string(id)]
		if !ok {
			env.Errors[string(id)] = rpc.EntityError{Status: http.StatusBadRequest, Message: "no input for id"}
			continue
		}
		res, err := apply(resource, id, in)
		if err != nil {
			env.Errors[string(id)] = entityError(err)
			continue
		}
		env.Results[string(id)] = res
	}
	s.writeJSON(w, r, http.StatusOK, env)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	body, ok := s.decodeBody(w, r)
	if !ok {
		return
	}
	if len(body.Entities) == 0 {
		s.writeJSON(w, r, http.StatusBadRequest, NewErrorResponse("no entities"))
		return
	}

	env := rpc.NewEnvelope()
	for _, entity := range body.Entities {
		id, err := s.store.Create(resource, entity)
		if err != nil {
			s.writeJSON(w, r, statusFor(err), NewErrorResponse(err.Error()))
			return
		}
		env.Created = append(env.Created, string(id))
		env.Results[string(id)] = rpc.EntityResult{Status: http.StatusCreated}
	}
	s.writeJSON(w, r, http.StatusOK, env)
}

func (s *Server) requireIDs(w http.ResponseWriter, r *http.Request) ([]types.Key, bool) {
	raw := r.URL.Query()[rpc.ParamIDs]
	if len(raw) == 0 {
		s.writeJSON(w, r, http.StatusBadRequest, NewErrorResponse("Missing ids"))
		return nil, false
	}
	ids := make([]types.Key, 0, len(raw))
	for _, id := range raw {
		if id == "" {
			s.writeJSON(w, r, http.StatusBadRequest, NewErrorResponse("Empty id"))
			return nil, false
		}
		ids = append(ids, types.Key(id))
	}
	return ids, true
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request) (rpc.BatchBody, bool) {
	var body rpc.BatchBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, NewErrorResponse("Failed to decode body: "+err.Error()))
		return body, false
	}
	return body, true
}

func fields(r *http.Request) []string {
	raw := r.URL.Query().Get("fields")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// project keeps only the named top-level fields; no fields keeps everything.
func project(body json.RawMessage, fields []string) json.RawMessage {
	if len(fields) == 0 {
		return body
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return body
	}
	out := make(map[string]json.RawMessage, len(fields))
	for _, f := range fields {
		if v, ok := obj[f]; ok {
			out[f] = v
		}
	}
	projected, err := json.Marshal(out)
	if err != nil {
		return body
	}
	return projected
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidEntity), errors.Is(err, store.ErrEmptyID):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func entityError(err error) rpc.EntityError {
	return rpc.EntityError{Status: statusFor(err), Message: err.Error()}
}
