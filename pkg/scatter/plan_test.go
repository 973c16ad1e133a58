package scatter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgrouter/pkg/hashring"
	"sgrouter/pkg/types"
	"sgrouter/pkg/urimapper"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
		ok   bool
	}{
		{"nil", nil, false},
		{"batch get", greetingsRequest(types.BatchGet, keyRange(3)), true},
		{"empty resource", &Request{Method: types.BatchGet, IDs: keyRange(1)}, false},
		{"query in resource", &Request{Method: types.BatchGet, Resource: "greetings?x=1", IDs: keyRange(1)}, false},
		{"empty id", greetingsRequest(types.BatchGet, []types.Key{""}), false},
		{"duplicate id", greetingsRequest(types.BatchDelete, []types.Key{"1", "1"}), false},
		{"get two ids", greetingsRequest(types.Get, keyRange(2)), false},
		{"update missing input", greetingsRequest(types.BatchUpdate, keyRange(2)), false},
		{"unknown method", &Request{Method: "FROB", Resource: "greetings"}, false},
		{"create", &Request{Method: types.BatchCreate, Resource: "greetings", Entities: []json.RawMessage{[]byte(`{}`)}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrMalformedRequest)
		})
	}

	upd := greetingsRequest(types.BatchUpdate, keyRange(2))
	upd.Inputs = map[types.Key]json.RawMessage{"1": []byte(`{}`), "9": []byte(`{}`)}
	assert.ErrorIs(t, upd.Validate(), ErrMalformedRequest)
}

func TestRequestKeyURI(t *testing.T) {
	req := greetingsRequest(types.BatchGet, keyRange(1))
	assert.Equal(t, "greetings/1?fields=message&foo=bar", req.KeyURI("1"))

	bare := &Request{Method: types.BatchGet, Resource: "greetings", IDs: keyRange(1)}
	assert.Equal(t, "greetings/a%2Fb?", bare.KeyURI("a/b"))
}

func TestRequestSubsetIsDeepCopy(t *testing.T) {
	req := greetingsRequest(types.BatchUpdate, keyRange(4))
	req.Inputs = map[types.Key]json.RawMessage{
		"1": []byte(`{"message":"a"}`),
		"2": []byte(`{"message":"b"}`),
		"3": []byte(`{"message":"c"}`),
		"4": []byte(`{"message":"d"}`),
	}
	req.Headers = map[string]string{"X-Trace": "t"}
	req.Context.Attrs = map[string]string{"tenant": "x"}

	sub := req.Subset([]types.Key{"2", "4"})
	require.NoError(t, sub.Validate())
	assert.Equal(t, []types.Key{"2", "4"}, sub.IDs)
	assert.Len(t, sub.Inputs, 2)

	sub.Params.Set("foo", "changed")
	sub.Fields[0] = "changed"
	sub.Headers["X-Trace"] = "changed"
	sub.Context.Attrs["tenant"] = "changed"
	sub.Inputs["2"][2] = 'X'
	sub.IDs[0] = "changed"

	assert.Equal(t, "bar", req.Params.Get("foo"))
	assert.Equal(t, "message", req.Fields[0])
	assert.Equal(t, "t", req.Headers["X-Trace"])
	assert.Equal(t, "x", req.Context.Attrs["tenant"])
	assert.Equal(t, `{"message":"b"}`, string(req.Inputs["2"]))
	assert.Equal(t, types.Key("2"), req.IDs[1])
}

func TestScatterGroupsByHost(t *testing.T) {
	req := greetingsRequest(types.BatchGet, keyRange(5))
	mapping := &urimapper.Result{
		HostToKeys:       map[string][]types.Key{"b": {"2", "4"}, "a": {"1", "3"}},
		HostToPartitions: map[string][]int{"a": {0}, "b": {1, 3}},
		Unmapped:         map[types.Key]*urimapper.UnmappedKey{"5": {Key: "5", Partition: 2, Reason: errors.New("no ring")}},
	}

	plan, err := Scatter(req, mapping)
	require.NoError(t, err)
	require.Len(t, plan.SubRequests, 2)
	assert.Equal(t, "a", plan.SubRequests[0].Host)
	assert.Equal(t, []int{0}, plan.SubRequests[0].Partitions)
	assert.Equal(t, []int{1, 3}, plan.SubRequests[1].Partitions)
	assert.Equal(t, []types.Key{"1", "3"}, plan.SubRequests[0].Request.IDs)
	assert.Equal(t, "a", plan.SubRequests[0].Request.Context.TargetHost)
	assert.Equal(t, "b", plan.SubRequests[1].Host)
	assert.Contains(t, plan.Unresolved, types.Key("5"))
	assert.Equal(t, 5, plan.KeyCount())
}

func TestScatterRejectsBadMapping(t *testing.T) {
	req := greetingsRequest(types.BatchGet, keyRange(2))
	cases := map[string]*urimapper.Result{
		"duplicate": {HostToKeys: map[string][]types.Key{"a": {"1", "2"}, "b": {"2"}}},
		"missing":   {HostToKeys: map[string][]types.Key{"a": {"1"}}},
		"extra":     {HostToKeys: map[string][]types.Key{"a": {"1", "2", "3"}}},
		"both": {
			HostToKeys: map[string][]types.Key{"a": {"1", "2"}},
			Unmapped:   map[types.Key]*urimapper.UnmappedKey{"2": {Key: "2"}},
		},
	}
	for name, mapping := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Scatter(req, mapping)
			assert.ErrorIs(t, err, ErrInvalidPlan)
		})
	}
}

type slowTransport struct {
	active atomic.Int32
	peak   atomic.Int32
	delay  time.Duration
}

func (s *slowTransport) Send(ctx context.Context, host string, req *Request) (*Response, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if host == "bad" {
		return nil, errors.New("boom")
	}
	return &Response{Results: map[types.Key]*KeyResult{}}, nil
}

func subsFor(hosts ...string) []*SubRequest {
	out := make([]*SubRequest, len(hosts))
	for i, h := range hosts {
		out[i] = &SubRequest{Host: h, Keys: []types.Key{types.Key(h)}, Request: greetingsRequest(types.BatchGet, []types.Key{types.Key(h)})}
	}
	return out
}

func TestDispatchRunsConcurrently(t *testing.T) {
	tr := &slowTransport{delay: 50 * time.Millisecond}
	out, err := Dispatch(context.Background(), tr, subsFor("a", "bad", "c", "d"))
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, int32(4), tr.peak.Load())

	assert.NoError(t, out[0].Err)
	assert.Error(t, out[1].Err, "one failure is recorded")
	assert.NoError(t, out[2].Err, "siblings are not cancelled by a failure")
	assert.Equal(t, "d", out[3].Sub.Host)
}

func TestDispatchCancellation(t *testing.T) {
	tr := &slowTransport{delay: 5 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Dispatch(ctx, tr, subsFor("a", "b"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatchEmpty(t *testing.T) {
	out, err := Dispatch(context.Background(), &slowTransport{}, nil)
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestGather(t *testing.T) {
	keys := keyRange(6)
	plan := &Plan{
		SubRequests: []*SubRequest{
			{Host: "a", Keys: []types.Key{"1", "2"}},
			{Host: "b", Keys: []types.Key{"3", "4"}},
		},
		Unresolved: map[types.Key]*urimapper.UnmappedKey{"5": {Key: "5", Partition: 3, Reason: errors.New("no ring")}},
	}
	responses := []SubResponse{
		{
			Sub: plan.SubRequests[0],
			Result: &Response{Results: map[types.Key]*KeyResult{
				"1":  {Status: http.StatusOK, Entity: []byte(`{}`)},
				"99": {Status: http.StatusOK},
			}},
		},
		{Sub: plan.SubRequests[1], Err: &statusErr{code: http.StatusGatewayTimeout, msg: "timeout"}},
	}

	res := Gather(keys, plan, responses)
	require.Len(t, res.Results, 6)
	assert.NotContains(t, res.Results, types.Key("99"))

	assert.True(t, res.Results["1"].OK())

	assert.Equal(t, PerKeyRemoteError, res.Results["2"].Err.Kind)
	assert.Equal(t, "a", res.Results["2"].Err.Host)

	for _, k := range []types.Key{"3", "4"} {
		assert.Equal(t, SubRequestFailure, res.Results[k].Err.Kind)
		assert.Equal(t, http.StatusGatewayTimeout, res.Results[k].Status)
		assert.Equal(t, "b", res.Results[k].Err.Host)
	}

	assert.Equal(t, UnresolvedKey, res.Results["5"].Err.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, res.Results["5"].Status)

	assert.Equal(t, SubRequestFailure, res.Results["6"].Err.Kind)
	assert.Len(t, res.Errors(), 5)
	assert.Len(t, res.Successes(), 1)
}

func TestGatherNilResultIsFailure(t *testing.T) {
	sub := &SubRequest{Host: "a", Keys: []types.Key{"1"}}
	res := Gather([]types.Key{"1"}, &Plan{SubRequests: []*SubRequest{sub}}, []SubResponse{{Sub: sub}})
	require.False(t, res.Results["1"].OK())
	assert.Equal(t, http.StatusInternalServerError, res.Results["1"].Status)
	assert.ErrorIs(t, res.Results["1"].Err, errEmptyResponse)
}

func TestDefaultStrategy(t *testing.T) {
	mapper, _ := newPartitionedMapper(t, 10, 5, hashring.Sticky)
	s := DefaultStrategy{Mapper: mapper}
	assert.True(t, s.NeedScatterGather(greetingsRequest(types.BatchGet, keyRange(2))))
	assert.False(t, s.NeedScatterGather(greetingsRequest(types.Get, keyRange(1))))
	assert.False(t, s.NeedScatterGather(&Request{Method: types.BatchCreate, Resource: "greetings"}))
	assert.False(t, s.NeedScatterGather(greetingsRequest(types.BatchGet, nil)))
	assert.False(t, DefaultStrategy{}.NeedScatterGather(greetingsRequest(types.BatchGet, keyRange(2))))
	assert.False(t, Never{}.NeedScatterGather(greetingsRequest(types.BatchGet, keyRange(2))))
}
