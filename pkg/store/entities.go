package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/zhangyunhao116/skipmap"

	"sgrouter/pkg/types"
)

type entityMap = skipmap.FuncMap[string, json.RawMessage]

// Entities is an in-memory collection store. Entities are json objects kept
// ordered by resource and id. Reads are lock free; writes to one store are
// serialized so read-modify-write operations stay atomic.
type Entities struct {
	data *entityMap
	seq  atomic.Int64
	mu   sync.Mutex
}

func NewEntities() *Entities {
	return &Entities{
		data: skipmap.NewFunc[string, json.RawMessage](func(a, b string) bool {
			return a < b
		}),
	}
}

func entityKey(resource string, id types.Key) string {
	return resource + "/" + string(id)
}

// Create stores entity under a server assigned numeric id and returns the id.
// The stored entity carries the id in its "id" field.
func (e *Entities) Create(resource string, entity json.RawMessage) (types.Key, error) {
	obj, err := decodeObject(entity)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.seq.Add(1)
	id := types.Key(strconv.FormatInt(n, 10))
	obj["id"] = n
	body, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("encode entity: %w", err)
	}
	e.data.Store(entityKey(resource, id), body)
	return id, nil
}

func (e *Entities) Get(resource string, id types.Key) (json.RawMessage, error) {
	body, ok := e.data.Load(entityKey(resource, id))
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", resource, id, ErrNotFound)
	}
	return body, nil
}

// Put stores entity under id, creating it when absent. It reports whether
// the entity was created.
func (e *Entities) Put(resource string, id types.Key, entity json.RawMessage) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	if _, err := decodeObject(entity); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	k := entityKey(resource, id)
	_, existed := e.data.Load(k)
	e.data.Store(k, append(json.RawMessage(nil), entity...))
	return !existed, nil
}

// Update replaces an existing entity.
func (e *Entities) Update(resource string, id types.Key, entity json.RawMessage) error {
	if _, err := decodeObject(entity); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	k := entityKey(resource, id)
	if _, ok := e.data.Load(k); !ok {
		return fmt.Errorf("%s/%s: %w", resource, id, ErrNotFound)
	}
	e.data.Store(k, append(json.RawMessage(nil), entity...))
	return nil
}

// Patch applies a json merge patch to an existing entity: null removes a
// field, objects merge recursively, anything else replaces.
func (e *Entities) Patch(resource string, id types.Key, patch json.RawMessage) (json.RawMessage, error) {
	if _, err := decodeObject(patch); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	k := entityKey(resource, id)
	cur, ok := e.data.Load(k)
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", resource, id, ErrNotFound)
	}
	merged, err := jsonpatch.MergePatch(cur, patch)
	if err != nil {
		return nil, fmt.Errorf("merge patch: %w", err)
	}
	e.data.Store(k, merged)
	return merged, nil
}

func (e *Entities) Delete(resource string, id types.Key) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.data.LoadAndDelete(entityKey(resource, id)); !ok {
		return fmt.Errorf("%s/%s: %w", resource, id, ErrNotFound)
	}
	return nil
}

// Range calls f for every entity of resource in key order until f returns false.
func (e *Entities) Range(resource string, f func(id types.Key, entity json.RawMessage) bool) {
	prefix := resource + "/"
	e.data.Range(func(k string, v json.RawMessage) bool {
		if !strings.HasPrefix(k, prefix) {
			return k < prefix
		}
		return f(types.Key(strings.TrimPrefix(k, prefix)), v)
	})
}

// Len is the number of entities across all resources.
func (e *Entities) Len() int {
	return e.data.Len()
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, ErrInvalidEntity
	}
	return obj, nil
}

