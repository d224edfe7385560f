package skvm

import (
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"
)

// ProgramCache holds a bounded number of programs, evicting the least recently used
// one when full. Each program is scheduled and compiled at most once per key, even
// when requested concurrently.
//
// ProgramCache is safe for concurrent use.
type ProgramCache struct {
	cfg     *config
	entries *lru.Cache
	group   singleflight.Group
}

// NewProgramCache returns a cache holding at most size programs, scheduled with cfg.
// A nil cfg uses NewConfig.
func NewProgramCache(size int, cfg Config) (*ProgramCache, error) {
	c := &ProgramCache{cfg: configOf(cfg)}
	entries, err := lru.NewWithEvict(size, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("creating program cache of size %d: %w", size, err)
	}
	c.entries = entries
	return c, nil
}

// onEvict only logs: callers may still evaluate an evicted program, whose compiled
// code is released by its finalizer once unreachable.
func (c *ProgramCache) onEvict(key, value interface{}) {
	p := value.(*Program)
	Logger().Debug("skvm: evicting program", "key", key, "jit", p.HasJIT())
}

// Get returns the program recorded by b, scheduling and compiling it on the first
// request of its fingerprint.
func (c *ProgramCache) Get(b *Builder) *Program {
	return c.GetOrCreate(strconv.FormatUint(b.Fingerprint(), 16), func() *Program {
		return b.DoneWithConfig(c.cfg)
	})
}

// GetOrCreate returns the program cached under key, calling create to make it when
// absent. Concurrent callers for the same key wait for a single call of create.
func (c *ProgramCache) GetOrCreate(key string, create func() *Program) *Program {
	if p, ok := c.entries.Get(key); ok {
		return p.(*Program)
	}
	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		if p, ok := c.entries.Get(key); ok {
			return p, nil
		}
		p := create()
		if p.jit {
			_ = p.JIT()
		}
		c.entries.Add(key, p)
		return p, nil
	})
	return v.(*Program)
}

// Len returns the number of cached programs.
func (c *ProgramCache) Len() int {
	return c.entries.Len()
}

// Purge removes every program from the cache.
func (c *ProgramCache) Purge() {
	c.entries.Purge()
}
