package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgrouter/pkg/scatter"
	"sgrouter/pkg/types"
)

type captured struct {
	method  string
	path    string
	query   map[string][]string
	headers http.Header
	body    []byte
}

func recordingServer(t *testing.T, status int, reply any) (*httptest.Server, <-chan *captured) {
	t.Helper()
	ch := make(chan *captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := &captured{}
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.Query()
		got.headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("Content-Encoding") == "zstd" {
			dec, err := zstd.NewReader(nil)
			require.NoError(t, err)
			body, err = dec.DecodeAll(body, nil)
			require.NoError(t, err)
			dec.Close()
		}
		got.body = body
		ch <- got
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func TestSendBatchGet(t *testing.T) {
	srv, calls := recordingServer(t, http.StatusOK, Envelope{
		Results: map[string]EntityResult{"1": {Status: 200, Entity: json.RawMessage(`{"message":"hi"}`)}},
		Errors:  map[string]EntityError{"2": {Status: 404, Message: "not found"}},
	})
	tr, err := NewHTTPTransport()
	require.NoError(t, err)

	req := &scatter.Request{
		Method:   types.BatchGet,
		Resource: "greetings",
		IDs:      []types.Key{"1", "2"},
		Fields:   []string{"message"},
		Params:   map[string][]string{"foo": {"bar"}},
		Headers:  map[string]string{"X-Tenant": "t1"},
		Context:  scatter.RequestContext{CallID: "call-1", TargetHost: srv.URL},
	}
	res, err := tr.Send(context.Background(), srv.URL, req)
	require.NoError(t, err)
	got := <-calls

	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "/greetings", got.path)
	assert.Equal(t, []string{"1", "2"}, got.query[ParamIDs])
	assert.Equal(t, []string{"message"}, got.query["fields"])
	assert.Equal(t, []string{"bar"}, got.query["foo"])
	assert.Equal(t, "call-1", got.headers.Get(HeaderRequestID))
	assert.NotEmpty(t, got.headers.Get(HeaderSubRequestID))
	assert.Equal(t, "t1", got.headers.Get("X-Tenant"))

	require.Len(t, res.Results, 2)
	assert.True(t, res.Results["1"].OK())
	assert.JSONEq(t, `{"message":"hi"}`, string(res.Results["1"].Entity))
	assert.Equal(t, scatter.PerKeyRemoteError, res.Results["2"].Err.Kind)
	assert.Equal(t, http.StatusNotFound, res.Results["2"].Status)
}

func TestSendWritesCompressed(t *testing.T) {
	srv, calls := recordingServer(t, http.StatusOK, Envelope{Results: map[string]EntityResult{"3": {Status: 204}}})
	tr, err := NewHTTPTransport(WithCompression(true), WithTimeout(time.Second))
	require.NoError(t, err)
	defer tr.Close()

	req := &scatter.Request{
		Method:   types.BatchPartialUpdate,
		Resource: "greetings",
		IDs:      []types.Key{"3"},
		Inputs:   map[types.Key]json.RawMessage{"3": json.RawMessage(`{"tone":"SINCERE"}`)},
	}
	_, err = tr.Send(context.Background(), srv.URL, req)
	require.NoError(t, err)
	got := <-calls

	assert.Equal(t, http.MethodPatch, got.method)
	assert.Equal(t, "zstd", got.headers.Get("Content-Encoding"))
	var body BatchBody
	require.NoError(t, json.Unmarshal(got.body, &body))
	assert.JSONEq(t, `{"tone":"SINCERE"}`, string(body.Inputs["3"]))
}

func TestSendMethods(t *testing.T) {
	cases := []struct {
		method types.Method
		verb   string
		path   string
	}{
		{types.Get, http.MethodGet, "/greetings/7"},
		{types.BatchDelete, http.MethodDelete, "/greetings"},
		{types.BatchUpdate, http.MethodPut, "/greetings"},
		{types.BatchCreate, http.MethodPost, "/greetings"},
	}
	for _, tc := range cases {
		t.Run(string(tc.method), func(t *testing.T) {
			srv, calls := recordingServer(t, http.StatusOK, Envelope{Created: []string{"8"}})
			tr, err := NewHTTPTransport()
			require.NoError(t, err)
			req := &scatter.Request{Method: tc.method, Resource: "greetings", IDs: []types.Key{"7"}}
			if tc.method == types.BatchUpdate {
				req.Inputs = map[types.Key]json.RawMessage{"7": json.RawMessage(`{}`)}
			}
			res, err := tr.Send(context.Background(), srv.URL, req)
			require.NoError(t, err)
			got := <-calls
			assert.Equal(t, tc.verb, got.method)
			assert.Equal(t, tc.path, got.path)
			assert.Equal(t, []types.Key{"8"}, res.Created)
		})
	}
}

func TestSendNon2xxIsStatusError(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusServiceUnavailable, map[string]string{"error": "overloaded"})
	tr, err := NewHTTPTransport()
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), srv.URL, &scatter.Request{Method: types.BatchGet, Resource: "greetings", IDs: []types.Key{"1"}})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode())
	assert.Contains(t, se.Body, "overloaded")

	var sc scatter.StatusCoder
	assert.True(t, errors.As(err, &sc))
}

func TestSendUnsupportedMethod(t *testing.T) {
	tr, err := NewHTTPTransport()
	require.NoError(t, err)
	_, err = tr.Send(context.Background(), "localhost:1", &scatter.Request{Method: "FROB", Resource: "greetings"})
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8081", BaseURL("localhost:8081"))
	assert.Equal(t, "https://h/x", BaseURL("https://h/x/"))
}
