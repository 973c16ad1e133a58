package scatter

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	kerrors "k8s.io/apimachinery/pkg/util/errors"

	"sgrouter/pkg/metrics"
	"sgrouter/pkg/urimapper"
)

// Client sends rest requests through a Transport and splits keyed batch
// requests across the hosts that own their keys.
type Client struct {
	Transport Transport
	// Prefix is the destination of requests that are not scattered.
	Prefix   string
	Strategy Strategy
	Mapper   urimapper.Mapper
	Metrics  metrics.Collector
	Logger   *slog.Logger

	inFlight atomic.Int64
}

// NewClient returns a client scattering with DefaultStrategy over mapper.
// A nil mapper disables scatter-gather.
func NewClient(transport Transport, prefix string, mapper urimapper.Mapper) *Client {
	c := &Client{
		Transport: transport,
		Prefix:    prefix,
		Mapper:    mapper,
		Metrics:   metrics.Nop{},
		Logger:    slog.Default(),
	}
	if mapper != nil {
		c.Strategy = DefaultStrategy{Mapper: mapper}
	}
	return c
}

// Send executes req. Requests the strategy does not scatter go to Prefix
// unchanged and the transport's reply is returned as is.
//
// A scattered request returns a response holding exactly the keys of req.
// When every sub-request failed the response is still returned, together with
// an error wrapping ErrAllDestinationsFailed. When ctx is cancelled mid-flight
// only ctx's error is returned.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if c.Strategy == nil || !c.Strategy.NeedScatterGather(req) {
		return c.sendDirect(ctx, req)
	}
	return c.scatterGather(ctx, req)
}

func (c *Client) sendDirect(ctx context.Context, req *Request) (*Response, error) {
	res, err := c.Transport.Send(ctx, c.Prefix, req)
	c.collector().IncCounter(metrics.Calls, map[string]string{
		"method":  string(req.Method),
		"mode":    "direct",
		"outcome": outcome(err),
	}, 1)
	return res, err
}

func (c *Client) scatterGather(ctx context.Context, req *Request) (*Response, error) {
	if c.Mapper == nil {
		return nil, ErrNoMapper
	}
	log := c.logger()
	m := c.collector()

	call := req.clone()
	if call.Context.CallID == "" {
		call.Context.CallID = uuid.NewString()
	}
	log = log.With("call_id", call.Context.CallID, "method", call.Method, "resource", call.Resource)

	c.trackInFlight(1)
	defer c.trackInFlight(-1)

	mapping, err := c.Mapper.MapURIs(URIKeys(call))
	if err != nil {
		log.Error("uri mapping failed", "err", err)
		return nil, fmt.Errorf("map keys: %w", err)
	}
	plan, err := Scatter(call, mapping)
	if err != nil {
		log.Error("scatter failed", "err", err)
		return nil, err
	}
	log.Debug("scattered request",
		"keys", plan.KeyCount(),
		"sub_requests", len(plan.SubRequests),
		"unresolved", len(plan.Unresolved))

	responses, err := Dispatch(ctx, c.Transport, plan.SubRequests)
	if err != nil {
		log.Warn("call cancelled", "err", err)
		m.IncCounter(metrics.Calls, c.callLabels(call, "cancelled"), 1)
		return nil, err
	}

	var failures []error
	for _, sr := range responses {
		labels := map[string]string{"method": string(call.Method), "outcome": outcome(sr.Err)}
		m.IncCounter(metrics.SubRequests, labels, 1)
		m.ObserveHistogram(metrics.SubRequestDuration, map[string]string{"method": string(call.Method)}, sr.Latency.Seconds())
		if sr.Err != nil {
			log.Warn("sub-request failed", "host", sr.Sub.Host, "keys", len(sr.Sub.Keys), "err", sr.Err)
			failures = append(failures, fmt.Errorf("%s: %w", sr.Sub.Host, sr.Err))
		}
	}

	merged := Gather(call.Keys(), plan, responses)
	if n := len(plan.Unresolved); n > 0 {
		m.IncCounter(metrics.UnresolvedKeys, map[string]string{"method": string(call.Method)}, float64(n))
	}
	if n := len(merged.Errors()); n > 0 {
		m.IncCounter(metrics.FailedKeys, map[string]string{"method": string(call.Method)}, float64(n))
	}

	if len(plan.SubRequests) > 0 && len(failures) == len(plan.SubRequests) {
		m.IncCounter(metrics.Calls, c.callLabels(call, "failed"), 1)
		return merged, fmt.Errorf("%w: %w", ErrAllDestinationsFailed, kerrors.NewAggregate(failures))
	}
	m.IncCounter(metrics.Calls, c.callLabels(call, "ok"), 1)
	return merged, nil
}

func (c *Client) callLabels(req *Request, result string) map[string]string {
	return map[string]string{"method": string(req.Method), "mode": "scatter", "outcome": result}
}

func (c *Client) trackInFlight(delta int64) {
	n := c.inFlight.Add(delta)
	c.collector().SetGauge(metrics.InFlightCalls, map[string]string{}, float64(n))
}

func (c *Client) collector() metrics.Collector {
	if c.Metrics == nil {
		return metrics.Nop{}
	}
	return c.Metrics
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
