package shard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"mercator-hq/sextant/pkg/config"
)

// Shard is a primary store and its replicas, tried in order.
type Shard struct {
	ID       string
	Primary  *Store
	Replicas []*Store
}

// Set holds every configured shard.
type Set struct {
	shards map[string]*Shard
}

// NewSet builds a set from already opened shards.
func NewSet(shards ...*Shard) *Set {
	s := &Set{shards: make(map[string]*Shard, len(shards))}
	for _, sh := range shards {
		s.shards[sh.ID] = sh
	}
	return s
}

// OpenSet opens the primary and replica databases of every configured shard.
// On error any store already opened is closed.
func OpenSet(cfgs []config.ShardConfig, logger *slog.Logger) (*Set, error) {
	set := NewSet()
	for _, cfg := range cfgs {
		primary, err := Open(StoreConfig{ShardID: cfg.ID, Path: cfg.Path, Logger: logger})
		if err != nil {
			set.Close()
			return nil, fmt.Errorf("failed to open shard %q: %w", cfg.ID, err)
		}
		sh := &Shard{ID: cfg.ID, Primary: primary}
		set.shards[cfg.ID] = sh

		for _, path := range cfg.Replicas {
			replica, err := Open(StoreConfig{ShardID: cfg.ID, Path: path, Logger: logger})
			if err != nil {
				set.Close()
				return nil, fmt.Errorf("failed to open replica %q of shard %q: %w", path, cfg.ID, err)
			}
			sh.Replicas = append(sh.Replicas, replica)
		}
	}
	return set, nil
}

// Resolve returns the fetch chain for a shard: primary first, then replicas.
// An unknown shard yields nil.
func (s *Set) Resolve(shardID string) []Fetcher {
	sh, ok := s.shards[shardID]
	if !ok {
		return nil
	}
	chain := make([]Fetcher, 0, 1+len(sh.Replicas))
	chain = append(chain, sh.Primary)
	for _, r := range sh.Replicas {
		chain = append(chain, r)
	}
	return chain
}

// Get returns a shard by ID.
func (s *Set) Get(shardID string) (*Shard, bool) {
	sh, ok := s.shards[shardID]
	return sh, ok
}

// IDs returns the shard IDs in sorted order.
func (s *Set) IDs() []string {
	ids := make([]string, 0, len(s.shards))
	for id := range s.shards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Ping checks every primary. Replicas are optional and not checked.
func (s *Set) Ping(ctx context.Context) error {
	var errs []error
	for _, id := range s.IDs() {
		if err := s.shards[id].Primary.Ping(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every store.
func (s *Set) Close() error {
	var errs []error
	for _, sh := range s.shards {
		if sh.Primary != nil {
			errs = append(errs, sh.Primary.Close())
		}
		for _, r := range sh.Replicas {
			errs = append(errs, r.Close())
		}
	}
	return errors.Join(errs...)
}
