package scatter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"sgrouter/pkg/hashring"
	"sgrouter/pkg/partition"
	"sgrouter/pkg/types"
	"sgrouter/pkg/urimapper"
)

const greetingPattern = `greetings/(.*)\?`

type statusErr struct {
	code int
	msg  string
}

func (e *statusErr) Error() string   { return e.msg }
func (e *statusErr) StatusCode() int { return e.code }

// fakeTransport serves every host from one shared greeting table.
type fakeTransport struct {
	mu       sync.Mutex
	entities map[types.Key]json.RawMessage
	down     map[string]bool
	calls    map[string][]*Request
}

func newFakeTransport(n int) *fakeTransport {
	f := &fakeTransport{
		entities: make(map[types.Key]json.RawMessage),
		down:     make(map[string]bool),
		calls:    make(map[string][]*Request),
	}
	for i := 1; i <= n; i++ {
		f.entities[types.Key(strconv.Itoa(i))] = json.RawMessage(fmt.Sprintf(`{"id":%d,"message":"hello %d"}`, i, i))
	}
	return f
}

func (f *fakeTransport) Send(ctx context.Context, host string, req *Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[host] = append(f.calls[host], req)

	if f.down[host] {
		return nil, &statusErr{code: http.StatusBadGateway, msg: "connection refused: " + host}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Response{Results: make(map[types.Key]*KeyResult)}
	for _, k := range req.IDs {
		cur, ok := f.entities[k]
		if !ok {
			res.Results[k] = &KeyResult{
				Status: http.StatusNotFound,
				Err:    &KeyError{Kind: PerKeyRemoteError, Status: http.StatusNotFound, Message: "not found"},
			}
			continue
		}
		switch req.Method {
		case types.BatchGet:
			res.Results[k] = &KeyResult{Status: http.StatusOK, Entity: cur}
		case types.BatchUpdate, types.BatchPartialUpdate:
			f.entities[k] = req.Inputs[k]
			res.Results[k] = &KeyResult{Status: http.StatusNoContent}
		case types.BatchDelete:
			delete(f.entities, k)
			res.Results[k] = &KeyResult{Status: http.StatusNoContent}
		}
	}
	return res, nil
}

func (f *fakeTransport) hostsCalled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for h := range f.calls {
		out = append(out, h)
	}
	return out
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, reqs := range f.calls {
		n += len(reqs)
	}
	return n
}

func testHosts(n int) []string {
	res := make([]string, n)
	for i := range res {
		res[i] = fmt.Sprintf("http://localhost:1338/host%d", i)
	}
	return res
}

func keyRange(n int) []types.Key {
	res := make([]types.Key, n)
	for i := range res {
		res[i] = types.Key(strconv.Itoa(i + 1))
	}
	return res
}

func greetingsRequest(m types.Method, ids []types.Key) *Request {
	return &Request{
		Method:   m,
		Resource: "greetings",
		IDs:      ids,
		Fields:   []string{"message"},
		Params:   map[string][]string{"foo": {"bar"}},
	}
}

func newPartitionedMapper(t *testing.T, hosts, partitions int, policy hashring.HashPolicy) (*urimapper.RingBased, *partition.HashBased) {
	t.Helper()
	info, err := partition.NewHashBased(partitions, greetingPattern, partition.Modulo)
	require.NoError(t, err)
	rings := hashring.NewStaticProvider(hashring.Distribute(testHosts(hosts), partitions), 32)
	return urimapper.New(rings, info, policy), info
}
