package hashring

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// HashPolicy selects a host of a ring for a key.
type HashPolicy int

const (
	// Sticky sends a key to the same host for as long as the ring is unchanged.
	Sticky HashPolicy = iota
	// Uniform picks any host of the ring at random.
	Uniform
)

// Select returns the host that should serve key under the policy.
func (p HashPolicy) Select(key string, r *Ring) (string, error) {
	if r.Len() == 0 {
		return "", ErrRingUnavailable
	}

	switch p {
	case Sticky:
		host, _ := r.Lookup(key)
		return host, nil
	case Uniform:
		return r.hosts[rand.IntN(len(r.hosts))], nil
	default:
		return "", fmt.Errorf("hashring: unknown policy %d", int(p))
	}
}

// Selector applies the policy across the keys of one call. Under Uniform the
// first key of a partition picks a host and the remaining keys of that
// partition follow it, so a call sends one sub-request per partition.
type Selector struct {
	policy HashPolicy
	picked map[int]string
}

// Selector returns a fresh per-call selector for p.
func (p HashPolicy) Selector() *Selector {
	return &Selector{policy: p, picked: make(map[int]string)}
}

// Select returns the host for key, which belongs to partition and its ring r.
func (s *Selector) Select(partition int, key string, r *Ring) (string, error) {
	if s.policy == Uniform {
		if host, ok := s.picked[partition]; ok {
			return host, nil
		}
	}
	host, err := s.policy.Select(key, r)
	if err != nil {
		return "", err
	}
	if s.policy == Uniform {
		s.picked[partition] = host
	}
	return host, nil
}

func (p HashPolicy) String() string {
	switch p {
	case Sticky:
		return "sticky"
	case Uniform:
		return "uniform"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy accepts "sticky" or "uniform" in any case.
func ParsePolicy(s string) (HashPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sticky":
		return Sticky, nil
	case "uniform", "random":
		return Uniform, nil
	}
	return 0, fmt.Errorf("hashring: unknown policy %q", s)
}
