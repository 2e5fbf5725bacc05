// Package auth owns the bearer-token lifecycle for both vendor clouds.
//
// Each backend has its own acquisition protocol (Ngenic: static-client
// refresh-token grant, Netatmo: password grant), but the caching rules
// are identical: fetch lazily on first use, cache for the life of the
// process, and re-fetch only after an explicit invalidation. A 401
// from a data call is the invalidation trigger; see
// [Manager.Invalidate].
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// System identifies one of the two backends.
type System string

const (
	// SystemNgenic is the source system (ground truth for desired state).
	SystemNgenic System = "ngenic"
	// SystemNetatmo is the target system (written to mirror the source).
	SystemNetatmo System = "netatmo"
)

// TokenFunc performs one backend's acquisition protocol and returns a
// bearer token. Implemented by the vendor client packages.
type TokenFunc func(ctx context.Context) (string, error)

// Manager caches one bearer token per backend.
//
// A single mutex guards both systems' acquisition paths. That is
// coarser than necessary, but acquisition happens at most a handful of
// times per process, and the shared lock guarantees that concurrent
// callers waiting on the same missing token trigger exactly one
// network fetch.
type Manager struct {
	logger *slog.Logger

	mu     sync.Mutex
	fetch  map[System]TokenFunc
	cached map[System]string
}

// NewManager creates a token manager with no registered backends.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger: logger,
		fetch:  make(map[System]TokenFunc),
		cached: make(map[System]string),
	}
}

// Register installs the acquisition protocol for a system. Must be
// called during wiring, before any Token call for that system.
func (m *Manager) Register(sys System, fetch TokenFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetch[sys] = fetch
}

// Token returns the cached bearer for sys, acquiring one first if the
// cache is empty. The lock is held across the network fetch so that a
// burst of callers produces a single acquisition. Failures are
// returned to the caller and never cached.
func (m *Manager) Token(ctx context.Context, sys System) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tok, ok := m.cached[sys]; ok {
		return tok, nil
	}

	fetch, ok := m.fetch[sys]
	if !ok {
		return "", fmt.Errorf("no token source registered for %s", sys)
	}

	tok, err := fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire %s token: %w", sys, err)
	}

	m.cached[sys] = tok
	m.logger.Info("token refreshed", "system", string(sys))
	return tok, nil
}

// Invalidate drops the cached token for sys so the next Token call
// re-runs the acquisition protocol. Called when a data request comes
// back 401, which is the only signal that a cached token has expired;
// neither backend reports token lifetimes worth trusting.
func (m *Manager) Invalidate(sys System) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cached[sys]; ok {
		delete(m.cached, sys)
		m.logger.Warn("token invalidated", "system", string(sys))
	}
}
