// Package kvcache is the small durable key-value cache that carries the
// seed image and the signed-in user between screens and CLI invocations.
package kvcache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Well-known keys.
const (
	KeyEditImage = "editImage"
	KeyUser      = "user"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("kvcache: key not found")

// Store holds single string values by key.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Expiring is implemented by stores that can forget a key after a while.
type Expiring interface {
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error
}

// SetWithTTL stores value with an expiry when store supports one and falls
// back to a plain Set otherwise.
func SetWithTTL(ctx context.Context, store Store, key, value string, ttl time.Duration) error {
	if exp, ok := store.(Expiring); ok && ttl > 0 {
		return exp.SetTTL(ctx, key, value, ttl)
	}
	return store.Set(ctx, key, value)
}

type entry struct {
	value   string
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Memory is a process-local Store. Keys written with SetTTL disappear once
// they expire; Sweep reclaims their memory.
type Memory struct {
	mu     sync.RWMutex
	values map[string]entry
	now    func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: map[string]entry{}, now: time.Now}
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.values[key]
	if !ok || e.expired(m.now()) {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = entry{value: value}
	return nil
}

// SetTTL stores value until ttl has passed.
func (m *Memory) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = entry{value: value, expires: m.now().Add(ttl)}
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Sweep drops expired keys and returns how many were removed.
func (m *Memory) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.values {
		if e.expired(now) {
			delete(m.values, k)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Namespaced prefixes every key so several users can share one Store.
type Namespaced struct {
	inner  Store
	prefix string
}

// WithNamespace scopes store to ns.
func WithNamespace(store Store, ns string) *Namespaced {
	return &Namespaced{inner: store, prefix: strings.TrimSuffix(ns, ":") + ":"}
}

func (n *Namespaced) Get(ctx context.Context, key string) (string, error) {
	return n.inner.Get(ctx, n.prefix+key)
}

func (n *Namespaced) Set(ctx context.Context, key, value string) error {
	return n.inner.Set(ctx, n.prefix+key, value)
}

func (n *Namespaced) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return SetWithTTL(ctx, n.inner, n.prefix+key, value, ttl)
}

func (n *Namespaced) Delete(ctx context.Context, key string) error {
	return n.inner.Delete(ctx, n.prefix+key)
}

var (
	_ Store    = (*Memory)(nil)
	_ Store    = (*Namespaced)(nil)
	_ Expiring = (*Memory)(nil)
	_ Expiring = (*Namespaced)(nil)
)
