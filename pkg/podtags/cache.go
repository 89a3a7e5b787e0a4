// Package podtags keeps track of which Kubernetes container currently holds each GPU.
package podtags

import (
	"bytes"
	"slices"
	"strings"
	"sync"

	"github.com/nxsre/nvml-collector/pkg/types"
)

// Cache holds the current GPU UUID to tags mapping. A published mapping is never modified,
// Replace swaps the whole map so readers see either the old or the new one
type Cache struct {
	lock sync.RWMutex
	tags types.TagMapping
}

func NewCache() *Cache {
	return &Cache{tags: types.TagMapping{}}
}

// Lookup returns a copy of the tags of the GPU, nil when nobody holds it
func (c *Cache) Lookup(uuid string) []string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return slices.Clone(c.tags[uuid])
}

// LookupBytes accepts the raw UUID buffer NVML fills in. The kubelet reports UUIDs as strings,
// so a miss on the raw form is retried with the decoded one
func (c *Cache) LookupBytes(uuid []byte) []string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if tags, ok := c.tags[string(uuid)]; ok {
		return slices.Clone(tags)
	}
	return slices.Clone(c.tags[decodeUUID(uuid)])
}

func decodeUUID(raw []byte) string {
	raw = bytes.TrimRight(raw, "\x00")
	return strings.ToValidUTF8(string(raw), "�")
}

// Replace publishes m as the current mapping. The caller must not modify m afterwards
func (c *Cache) Replace(m types.TagMapping) {
	if m == nil {
		m = types.TagMapping{}
	}
	c.lock.Lock()
	c.tags = m
	c.lock.Unlock()
}

// Snapshot copies the current mapping
func (c *Cache) Snapshot() types.TagMapping {
	c.lock.RLock()
	current := c.tags
	c.lock.RUnlock()
	// published maps are immutable, copying outside the lock is safe
	out := make(types.TagMapping, len(current))
	for uuid, tags := range current {
		out[uuid] = slices.Clone(tags)
	}
	return out
}

func (c *Cache) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.tags)
}
