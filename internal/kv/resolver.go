package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Tiers bundles the stores a Resolver reads through. Remote and Outbox are optional.
type Tiers struct {
	Cache  *Cache
	Local  Store
	Remote Store
	// Outbox carries writes to Remote.
	Outbox *Outbox
}

// Resolver reads a typed value through cache → local → remote, back-filling
// each faster tier from the one that answered. Malformed data counts as a
// miss; other tier errors are remembered so writers can tell a real miss from
// an outage.
type Resolver[T any] struct {
	tiers     Tiers
	freshness time.Duration
	log       zerolog.Logger
	locks     Locks
}

// NewResolver creates a Resolver. freshness bounds how old a cache hit may be.
func NewResolver[T any](tiers Tiers, freshness time.Duration, log zerolog.Logger) *Resolver[T] {
	if tiers.Cache == nil {
		tiers.Cache = NewCache()
	}
	return &Resolver[T]{tiers: tiers, freshness: freshness, log: log}
}

// Source names the tier that satisfied a read.
type Source string

const (
	SourceNone   Source = ""
	SourceCache  Source = "cache"
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Get returns the value at key and whether any tier had it. Tier failures read
// as a miss.
func (r *Resolver[T]) Get(ctx context.Context, key string) (T, bool) {
	v, src, _ := r.Lookup(ctx, key)
	return v, src != SourceNone
}

// Lookup is Get that also reports which tier answered. When no tier answered
// and a tier failed for a reason other than malformed data, the error wraps
// ErrUnavailable.
func (r *Resolver[T]) Lookup(ctx context.Context, key string) (T, Source, error) {
	var v T
	ok, err := r.tiers.Cache.Get(key, r.freshness, &v)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Str("tier", "cache").Msg("kv: discarding unreadable cache entry")
		r.tiers.Cache.Delete(key)
	}
	if ok {
		return v, SourceCache, nil
	}

	var failed []error
	if r.tiers.Local != nil {
		var local T
		ok, err := r.tiers.Local.GetJSON(ctx, key, &local)
		if err != nil {
			r.log.Warn().Err(err).Str("key", key).Str("tier", "local").Msg("kv: local read failed")
			if !errors.Is(err, ErrMalformed) {
				failed = append(failed, fmt.Errorf("local: %w", err))
			}
		}
		if ok {
			_ = r.tiers.Cache.Set(key, local)
			return local, SourceLocal, nil
		}
	}

	if r.tiers.Remote != nil {
		var remote T
		ok, err := r.tiers.Remote.GetJSON(ctx, key, &remote)
		if err != nil {
			r.log.Warn().Err(err).Str("key", key).Str("tier", "remote").Msg("kv: remote read failed")
			if !errors.Is(err, ErrMalformed) {
				failed = append(failed, fmt.Errorf("remote: %w", err))
			}
		}
		if ok {
			if r.tiers.Local != nil {
				if err := r.tiers.Local.SetJSON(ctx, key, remote); err != nil {
					r.log.Warn().Err(err).Str("key", key).Msg("kv: refresh local from remote")
				}
			}
			_ = r.tiers.Cache.Set(key, remote)
			return remote, SourceRemote, nil
		}
	}

	var zero T
	if len(failed) > 0 {
		return zero, SourceNone, fmt.Errorf("kv: read %s: %w", key, errors.Join(append([]error{ErrUnavailable}, failed...)...))
	}
	return zero, SourceNone, nil
}

// Put writes v to the local tier and the cache and queues it for the remote
// tier. Only the local write can fail the call; on failure the cache is untouched.
func (r *Resolver[T]) Put(ctx context.Context, key string, v T) error {
	if r.tiers.Local != nil {
		if err := r.tiers.Local.SetJSON(ctx, key, v); err != nil {
			return err
		}
	}
	if err := r.tiers.Cache.Set(key, v); err != nil {
		return fmt.Errorf("kv: cache %s: %w", key, err)
	}
	if r.tiers.Outbox != nil {
		r.tiers.Outbox.Enqueue(key, v)
	}
	return nil
}

// Merge reads the current value, applies fn and writes the result back.
// found tells fn whether a stored value existed.
func (r *Resolver[T]) Merge(ctx context.Context, key string, fn func(cur T, found bool) T) (T, error) {
	next, _, err := r.Modify(ctx, key, func(cur T, found bool) (T, bool) {
		return fn(cur, found), true
	})
	return next, err
}

// Modify is Merge where fn may decline the write by returning false. Calls
// for the same key are serialized within this Resolver. When the read could
// not tell a miss from a tier outage, fn is not called and nothing is written:
// writing would replace the unread value on every tier.
func (r *Resolver[T]) Modify(ctx context.Context, key string, fn func(cur T, found bool) (T, bool)) (T, bool, error) {
	unlock := r.locks.Lock(key)
	defer unlock()

	cur, src, err := r.Lookup(ctx, key)
	if err != nil {
		return cur, false, err
	}
	next, write := fn(cur, src != SourceNone)
	if !write {
		return cur, false, nil
	}
	if err := r.Put(ctx, key, next); err != nil {
		return next, false, err
	}
	return next, true, nil
}

// Invalidate forces the next Get past the cache.
func (r *Resolver[T]) Invalidate(key string) {
	r.tiers.Cache.Delete(key)
}

// Locks hands out one mutex per key and forgets it when no caller holds it.
// The zero value is ready to use.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is free and returns the matching unlock.
func (k *Locks) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
