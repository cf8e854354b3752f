package cache

import (
	"errors"
	"time"
)

// Layered reads through its tiers fastest first. A hit in a slower tier is
// copied into every faster tier that missed.
type Layered struct {
	tiers []Cache
}

// NewLayered stacks tiers, fastest first.
func NewLayered(tiers ...Cache) *Layered {
	return &Layered{tiers: tiers}
}

func (c *Layered) Get(key string) ([]byte, bool) {
	for i, tier := range c.tiers {
		val, ok := tier.Get(key)
		if !ok {
			continue
		}
		for _, faster := range c.tiers[:i] {
			_ = faster.Set(key, val, 0)
		}
		return val, true
	}
	return nil, false
}

// Set writes every tier and reports all failures.
func (c *Layered) Set(key string, value []byte, ttl time.Duration) error {
	var errs []error
	for _, tier := range c.tiers {
		errs = append(errs, tier.Set(key, value, ttl))
	}
	return errors.Join(errs...)
}

func (c *Layered) Delete(key string) error {
	var errs []error
	for _, tier := range c.tiers {
		errs = append(errs, tier.Delete(key))
	}
	return errors.Join(errs...)
}

func (c *Layered) Clear() error {
	var errs []error
	for _, tier := range c.tiers {
		errs = append(errs, tier.Clear())
	}
	return errors.Join(errs...)
}

// Prune drops expired entries from every tier that supports it and returns
// how many were removed.
func (c *Layered) Prune() (int, error) {
	var (
		total int
		errs  []error
	)
	for _, tier := range c.tiers {
		p, ok := tier.(Pruner)
		if !ok {
			continue
		}
		n, err := p.Prune()
		total += n
		errs = append(errs, err)
	}
	return total, errors.Join(errs...)
}
