package scatter

import "sgrouter/pkg/urimapper"

// Strategy decides whether a request has to be split across hosts.
type Strategy interface {
	NeedScatterGather(req *Request) bool
}

// DefaultStrategy scatters keyed batch operations whenever its mapper can
// route keys to more than one host.
type DefaultStrategy struct {
	Mapper urimapper.Mapper
}

func (s DefaultStrategy) NeedScatterGather(req *Request) bool {
	if s.Mapper == nil || req == nil {
		return false
	}
	if !req.Method.IsBatchKeyed() || len(req.IDs) == 0 {
		return false
	}
	return s.Mapper.NeedScatterGather()
}

// Never turns scatter-gather off.
type Never struct{}

func (Never) NeedScatterGather(*Request) bool { return false }

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(req *Request) bool

func (f StrategyFunc) NeedScatterGather(req *Request) bool { return f(req) }
