package scatter

import (
	"fmt"

	"golang.org/x/exp/slices"

	"sgrouter/pkg/types"
	"sgrouter/pkg/urimapper"
)

// SubRequest is the part of a batch request routed to one host.
type SubRequest struct {
	Host string
	// Partitions the keys of the sub-request belong to, ascending.
	Partitions []int
	Keys       []types.Key
	Request    *Request
}

// Plan is the scatter of one request: one sub-request per host plus the keys no host was found for.
type Plan struct {
	SubRequests []*SubRequest
	Unresolved  map[types.Key]*urimapper.UnmappedKey
}

// URIKeys builds the mapper input for every key of req.
func URIKeys(req *Request) []urimapper.URIKey {
	pairs := make([]urimapper.URIKey, 0, len(req.IDs))
	for _, k := range req.IDs {
		pairs = append(pairs, urimapper.URIKey{Key: k, URI: req.KeyURI(k)})
	}
	return pairs
}

// Scatter groups the keys of req by the host mapping assigned them to.
// Sub-requests are ordered by host and each keeps the original key order so
// a plan is reproducible for a given mapping.
func Scatter(req *Request, mapping *urimapper.Result) (*Plan, error) {
	owner := make(map[types.Key]string, len(req.IDs))
	for host, keys := range mapping.HostToKeys {
		for _, k := range keys {
			if prev, dup := owner[k]; dup {
				return nil, fmt.Errorf("%w: key %s mapped to %s and %s", ErrInvalidPlan, k, prev, host)
			}
			owner[k] = host
		}
	}

	plan := &Plan{Unresolved: make(map[types.Key]*urimapper.UnmappedKey)}
	byHost := make(map[string][]types.Key)
	for _, k := range req.IDs {
		host, mapped := owner[k]
		unmapped, failed := mapping.Unmapped[k]
		switch {
		case mapped && failed:
			return nil, fmt.Errorf("%w: key %s both mapped and unmapped", ErrInvalidPlan, k)
		case mapped:
			byHost[host] = append(byHost[host], k)
			delete(owner, k)
		case failed:
			plan.Unresolved[k] = unmapped
		default:
			return nil, fmt.Errorf("%w: key %s missing from mapping", ErrInvalidPlan, k)
		}
	}
	if len(owner) > 0 {
		return nil, fmt.Errorf("%w: mapping holds %d keys outside the request", ErrInvalidPlan, len(owner))
	}

	hosts := make([]string, 0, len(byHost))
	for host := range byHost {
		hosts = append(hosts, host)
	}
	slices.Sort(hosts)

	for _, host := range hosts {
		keys := byHost[host]
		sub := req.Subset(keys)
		sub.Context.TargetHost = host
		plan.SubRequests = append(plan.SubRequests, &SubRequest{
			Host:       host,
			Partitions: slices.Clone(mapping.HostToPartitions[host]),
			Keys:       keys,
			Request:    sub,
		})
	}
	return plan, nil
}

// KeyCount returns the number of keys covered by the plan.
func (p *Plan) KeyCount() int {
	n := len(p.Unresolved)
	for _, sub := range p.SubRequests {
		n += len(sub.Keys)
	}
	return n
}
