package hashring

import (
	"errors"
	"fmt"
	"sort"
)

var ErrRingUnavailable = errors.New("sgrouter: no host available for partition")

// Provider returns the ring serving a partition.
type Provider interface {
	RingFor(partition int) (*Ring, error)
}

// Snapshotter is implemented by providers whose rings change over time.
// Snapshot returns a provider that keeps answering from one fixed topology.
type Snapshotter interface {
	Snapshot() Provider
}

// StaticProvider holds one ring per partition. It never changes after construction.
type StaticProvider struct {
	rings map[int]*Ring
}

func NewStaticProvider(hostsByPartition map[int][]string, virtualNodes int) *StaticProvider {
	rings := make(map[int]*Ring, len(hostsByPartition))
	for partition, hosts := range hostsByPartition {
		rings[partition] = New(hosts, virtualNodes)
	}
	return &StaticProvider{rings: rings}
}

func (p *StaticProvider) RingFor(partition int) (*Ring, error) {
	r, ok := p.rings[partition]
	if !ok || r.Len() == 0 {
		return nil, fmt.Errorf("partition %d: %w", partition, ErrRingUnavailable)
	}
	return r, nil
}

// Partitions returns the partition ids known to the provider in ascending order.
func (p *StaticProvider) Partitions() []int {
	ids := make([]int, 0, len(p.rings))
	for id := range p.rings {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Distribute spreads hosts over partitions round-robin: host i serves partition i % partitions.
func Distribute(hosts []string, partitions int) map[int][]string {
	res := make(map[int][]string, partitions)
	if partitions <= 0 {
		return res
	}
	for i := 0; i < partitions; i++ {
		res[i] = nil
	}
	for i, host := range hosts {
		res[i%partitions] = append(res[i%partitions], host)
	}
	return res
}
