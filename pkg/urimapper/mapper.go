// Package urimapper resolves the keys of a batch request to the hosts that
// should serve them by composing a partition provider with per-partition
// consistent hash rings.
package urimapper

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"

	"sgrouter/pkg/hashring"
	"sgrouter/pkg/partition"
	"sgrouter/pkg/types"
)

var ErrDuplicateKey = errors.New("sgrouter: duplicate key in batch")

// URIKey pairs a key with the logical URI of the single-entity request for it.
// The URI is what partition patterns are matched against.
type URIKey struct {
	Key types.Key
	URI string
}

// UnmappedKey explains why a key has no host.
type UnmappedKey struct {
	Key       types.Key
	Partition int // types.NoPartition when the partition itself is unknown
	Reason    error
}

func (u *UnmappedKey) Error() string {
	if u.Partition == types.NoPartition {
		return fmt.Sprintf("key %s: %v", u.Key, u.Reason)
	}
	return fmt.Sprintf("key %s (partition %d): %v", u.Key, u.Partition, u.Reason)
}

func (u *UnmappedKey) Unwrap() error { return u.Reason }

// Result is the outcome of one MapURIs call.
type Result struct {
	HostToKeys map[string][]types.Key
	// HostToPartitions lists, in ascending order, the partitions of the keys
	// mapped to each host. A host serving several partitions can hold keys of
	// more than one.
	HostToPartitions map[string][]int
	Unmapped         map[types.Key]*UnmappedKey
}

// Host returns the host a key was mapped to.
func (r *Result) Host(key types.Key) (string, bool) {
	for host, keys := range r.HostToKeys {
		if slices.Contains(keys, key) {
			return host, true
		}
	}
	return "", false
}

// Assignments flattens the result into key -> host.
func (r *Result) Assignments() map[types.Key]string {
	res := make(map[types.Key]string)
	for host, keys := range r.HostToKeys {
		for _, k := range keys {
			res[k] = host
		}
	}
	return res
}

// Mapper maps keys to hosts.
type Mapper interface {
	MapURIs(pairs []URIKey) (*Result, error)
	// NeedScatterGather reports whether requests through this mapper can land on more than one host.
	NeedScatterGather() bool
}

// RingBased resolves partitions with Partitions and hosts with Rings under Policy.
type RingBased struct {
	Rings      hashring.Provider
	Partitions partition.Provider
	Policy     hashring.HashPolicy
}

func New(rings hashring.Provider, partitions partition.Provider, policy hashring.HashPolicy) *RingBased {
	return &RingBased{Rings: rings, Partitions: partitions, Policy: policy}
}

func (m *RingBased) NeedScatterGather() bool {
	return m.Policy == hashring.Sticky || m.Partitions.Count() > 1
}

// MapURIs resolves every pair. A key that cannot be resolved lands in
// Result.Unmapped and never stops the others from being mapped. The whole
// call uses one snapshot of the ring provider.
func (m *RingBased) MapURIs(pairs []URIKey) (*Result, error) {
	rings := m.Rings
	if s, ok := rings.(hashring.Snapshotter); ok {
		rings = s.Snapshot()
	}

	res := &Result{
		HostToKeys:       make(map[string][]types.Key),
		HostToPartitions: make(map[string][]int),
		Unmapped:         make(map[types.Key]*UnmappedKey),
	}

	seen := make(map[types.Key]struct{}, len(pairs))
	sel := m.Policy.Selector()

	for _, pair := range pairs {
		if _, dup := seen[pair.Key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, pair.Key)
		}
		seen[pair.Key] = struct{}{}

		uri := pair.URI
		if uri == "" {
			uri = string(pair.Key)
		}

		pid, err := m.Partitions.PartitionID(uri)
		if err != nil {
			res.Unmapped[pair.Key] = &UnmappedKey{Key: pair.Key, Partition: types.NoPartition, Reason: err}
			continue
		}

		ring, err := rings.RingFor(pid)
		if err == nil && ring.Len() == 0 {
			err = fmt.Errorf("partition %d: %w", pid, hashring.ErrRingUnavailable)
		}
		if err != nil {
			res.Unmapped[pair.Key] = &UnmappedKey{Key: pair.Key, Partition: pid, Reason: err}
			continue
		}

		host, err := sel.Select(pid, string(pair.Key), ring)
		if err != nil {
			res.Unmapped[pair.Key] = &UnmappedKey{Key: pair.Key, Partition: pid, Reason: err}
			continue
		}

		res.HostToKeys[host] = append(res.HostToKeys[host], pair.Key)
		if pids := res.HostToPartitions[host]; !slices.Contains(pids, pid) {
			pids = append(pids, pid)
			slices.Sort(pids)
			res.HostToPartitions[host] = pids
		}
	}

	return res, nil
}
