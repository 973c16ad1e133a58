package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-zookeeper/zk"

	"sgrouter/pkg/hashring"
)

var ErrInvalidHost = errors.New("cluster: host name must be non-empty and contain no '/'")

const retryDelay = 2 * time.Second

// zkConn is the part of *zk.Conn the ring source uses.
type zkConn interface {
	Children(path string) ([]string, *zk.Stat, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	State() zk.State
	Close()
}

// ZKRingSource keeps one hash ring per partition built from ephemeral nodes
// registered under {root}/partitions/{partition}/{host}. Readers always see a
// complete snapshot; a watch loop swaps in a new one whenever membership changes.
type ZKRingSource struct {
	conn         zkConn
	rootPath     string
	virtualNodes int
	log          *slog.Logger

	snap atomic.Pointer[hashring.StaticProvider]
}

// servers: ["zk1:2181", "zk2:2181"]
func NewZKRingSource(servers []string, rootPath string, sessionTimeout time.Duration, virtualNodes int) (*ZKRingSource, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	return newZKRingSource(conn, rootPath, virtualNodes), nil
}

func newZKRingSource(conn zkConn, rootPath string, virtualNodes int) *ZKRingSource {
	s := &ZKRingSource{
		conn:         conn,
		rootPath:     strings.TrimRight(rootPath, "/"),
		virtualNodes: virtualNodes,
		log:          slog.Default().With("component", "zk-rings"),
	}
	s.snap.Store(hashring.NewStaticProvider(nil, virtualNodes))
	return s
}

func (s *ZKRingSource) Close() error {
	s.conn.Close()
	return nil
}

// RingFor implements hashring.Provider on the current snapshot.
func (s *ZKRingSource) RingFor(partition int) (*hashring.Ring, error) {
	return s.snap.Load().RingFor(partition)
}

// Snapshot implements hashring.Snapshotter.
func (s *ZKRingSource) Snapshot() hashring.Provider {
	return s.snap.Load()
}

// Partitions lists the partitions of the current snapshot that have hosts.
func (s *ZKRingSource) Partitions() []int {
	return s.snap.Load().Partitions()
}

func (s *ZKRingSource) partitionsPath() string {
	return s.rootPath + "/partitions"
}

// Register creates the ephemeral node announcing host as a server of partition.
func (s *ZKRingSource) Register(partition int, host string) error {
	if host == "" || strings.Contains(host, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}
	if err := s.waitConnected(10 * time.Second); err != nil {
		return err
	}

	dir := fmt.Sprintf("%s/%d", s.partitionsPath(), partition)
	if err := s.ensurePath(dir); err != nil {
		return fmt.Errorf("ensure partition path: %w", err)
	}

	nodePath := dir + "/" + host
	_, err := s.conn.Create(nodePath, nil, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("create ephemeral node: %w", err)
	}

	s.log.Info("registered host", "path", nodePath)
	return nil
}

// Refresh rebuilds the snapshot from the current listing.
func (s *ZKRingSource) Refresh() error {
	prov, _, err := s.load(false)
	if err != nil {
		return err
	}
	s.snap.Store(prov)
	return nil
}

// RunWatch rebuilds the rings on every membership change until ctx is done.
func (s *ZKRingSource) RunWatch(ctx context.Context) {
	go func() {
		for {
			prov, watches, err := s.load(true)
			if err != nil {
				s.log.Warn("membership listing failed", "error", err)
				select {
				case <-time.After(retryDelay):
					continue
				case <-ctx.Done():
					return
				}
			}
			s.snap.Store(prov)
			s.log.Debug("rings rebuilt", "partitions", prov.Partitions())

			ev, ok := waitAny(ctx, watches)
			if !ok {
				s.log.Info("watch stopped")
				return
			}
			s.log.Debug("membership event", "type", ev.Type.String(), "path", ev.Path)
		}
	}()
}

// load reads every partition and its hosts. With watch set it also returns
// one-shot watches on the partition list and on every partition.
func (s *ZKRingSource) load(watch bool) (*hashring.StaticProvider, []<-chan zk.Event, error) {
	var watches []<-chan zk.Event
	children := func(path string) ([]string, error) {
		if !watch {
			names, _, err := s.conn.Children(path)
			return names, err
		}
		names, _, ch, err := s.conn.ChildrenW(path)
		if err == nil {
			watches = append(watches, ch)
		}
		return names, err
	}

	if err := s.ensurePath(s.partitionsPath()); err != nil {
		return nil, nil, fmt.Errorf("ensure partitions path: %w", err)
	}
	names, err := children(s.partitionsPath())
	if err != nil {
		return nil, nil, fmt.Errorf("zk children: %w", err)
	}

	hosts := make(map[int][]string, len(names))
	for _, name := range names {
		pid, err := strconv.Atoi(name)
		if err != nil {
			s.log.Warn("skipping non-numeric partition node", "name", name)
			continue
		}
		members, err := children(s.partitionsPath() + "/" + name)
		if err != nil {
			if errors.Is(err, zk.ErrNoNode) {
				continue
			}
			return nil, nil, fmt.Errorf("zk children of partition %d: %w", pid, err)
		}
		hosts[pid] = members
	}
	return hashring.NewStaticProvider(hosts, s.virtualNodes), watches, nil
}

func waitAny(ctx context.Context, watches []<-chan zk.Event) (zk.Event, bool) {
	cases := make([]reflect.SelectCase, 0, len(watches)+1)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
	for _, ch := range watches {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)})
	}
	chosen, v, ok := reflect.Select(cases)
	if chosen == 0 {
		return zk.Event{}, false
	}
	if !ok {
		return zk.Event{Type: zk.EventNotWatching}, true
	}
	return v.Interface().(zk.Event), true
}

func (s *ZKRingSource) ensurePath(path string) error {
	parts := strings.Split(path, "/")
	cur := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		cur = cur + "/" + p
		exists, _, err := s.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			_, err = s.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && !errors.Is(err, zk.ErrNodeExists) {
				return err
			}
		}
	}
	return nil
}

func (s *ZKRingSource) waitConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := s.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("zk: not connected after %s, state=%v", timeout, st)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
