package scatter

import (
	"context"
	"time"

	"gopkg.in/tomb.v2"
)

// Transport sends one request to one host and decodes the keyed reply.
type Transport interface {
	Send(ctx context.Context, host string, req *Request) (*Response, error)
}

// SubResponse is what came back for one sub-request.
type SubResponse struct {
	Sub     *SubRequest
	Result  *Response
	Err     error
	Latency time.Duration
}

// Dispatch sends every sub-request concurrently and returns once all of them
// finished. Results are indexed like subs. A failing sub-request never cancels
// its siblings; cancelling ctx cancels all of them, and the returned error is
// then the reason ctx was cancelled.
func Dispatch(ctx context.Context, transport Transport, subs []*SubRequest) ([]SubResponse, error) {
	out := make([]SubResponse, len(subs))
	if len(subs) == 0 {
		return out, ctx.Err()
	}

	t, tctx := tomb.WithContext(ctx)
	// children are started from a tracked goroutine so the tomb cannot die between two Go calls
	t.Go(func() error {
		for i, sub := range subs {
			t.Go(func() error {
				start := time.Now()
				res, err := transport.Send(tctx, sub.Host, sub.Request)
				out[i] = SubResponse{Sub: sub, Result: res, Err: err, Latency: time.Since(start)}
				return nil
			})
		}
		return nil
	})

	if err := t.Wait(); err != nil {
		return out, err
	}
	return out, ctx.Err()
}
