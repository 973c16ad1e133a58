package hashring

import (
	"fmt"
	"hash/crc32"
	"sort"
)

// DefaultVirtualNodes is the number of ring points each host gets when the caller passes zero.
const DefaultVirtualNodes = 100

// Ring is a consistent hash ring over a fixed set of hosts with virtual nodes.
// It is immutable after New, so any number of goroutines may read it.
type Ring struct {
	points []uint32          // sorted point hashes
	owners map[uint32]string // point hash -> host
	hosts  []string          // sorted unique hosts
}

// New builds a ring over hosts. Duplicate hosts are collapsed.
func New(hosts []string, virtualNodes int) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}

	r := &Ring{owners: make(map[uint32]string, len(hosts)*virtualNodes)}
	seen := make(map[string]struct{}, len(hosts))
	for _, host := range hosts {
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		r.hosts = append(r.hosts, host)

		for i := 0; i < virtualNodes; i++ {
			point := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", host, i)))
			// first writer wins on a collision so the result does not depend on map order
			if _, taken := r.owners[point]; taken {
				continue
			}
			r.owners[point] = host
			r.points = append(r.points, point)
		}
	}
	sort.Slice(r.points, func(i, j int) bool { return r.points[i] < r.points[j] })
	sort.Strings(r.hosts)
	return r
}

// Len returns the number of distinct hosts on the ring.
func (r *Ring) Len() int {
	if r == nil {
		return 0
	}
	return len(r.hosts)
}

// Hosts returns a copy of the ring's hosts in sorted order.
func (r *Ring) Hosts() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.hosts...)
}

// Lookup returns the host owning key.
func (r *Ring) Lookup(key string) (string, bool) {
	if r.Len() == 0 {
		return "", false
	}
	return r.owners[r.points[r.search(key)]], true
}

// Preference walks the ring clockwise from key's position and returns every
// host once, in the order they are met. The first entry equals Lookup(key).
func (r *Ring) Preference(key string) []string {
	if r.Len() == 0 {
		return nil
	}

	start := r.search(key)
	order := make([]string, 0, len(r.hosts))
	seen := make(map[string]struct{}, len(r.hosts))
	for i := 0; i < len(r.points) && len(order) < len(r.hosts); i++ {
		host := r.owners[r.points[(start+i)%len(r.points)]]
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		order = append(order, host)
	}
	return order
}

func (r *Ring) search(key string) int {
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= hash })
	if idx == len(r.points) {
		idx = 0
	}
	return idx
}
