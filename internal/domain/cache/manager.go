package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/policy-core/permissioncore/internal/domain/principal"
)

// Builder computes a fresh Entry's contents for a principal. It is called at
// most once per fingerprint per generation by Manager.GetOrBuild; concurrent
// callers for the same fingerprint share the result of a single call
// (spec §4.6: "builds once per fingerprint per generation, concurrent
// same-fingerprint callers serialize").
type Builder func(p principal.Principal) (BuildResult, error)

// BuildResult is what a Builder produces for a principal.
type BuildResult struct {
	AllowedToolIDs    map[string]struct{}
	PermissionsBitmap uint64
	RolesSnapshot     []string
}

// Manager owns the per-principal permission cache: entries keyed by
// fingerprint, evicted by TTL and by LRU-over-built_at once the cache grows
// past MaxCachedPrincipals, and invalidated wholesale whenever the
// RuleSet/PermissionIndex generation advances.
type Manager struct {
	mu      sync.RWMutex
	entries map[uint64]*Entry
	lru     *lruIndex

	// byUserID and byAPIKey index an entry's fingerprint by the identifier
	// (Principal.ID / Principal.APIKeyName) it was built for, so a single
	// identity can be invalidated without recomputing a fingerprint from a
	// partial principal (see InvalidateIdentity).
	byUserID map[string]map[uint64]struct{}
	byAPIKey map[string]map[uint64]struct{}

	maxCached int
	defaultTTL time.Duration
	adminTTL   time.Duration

	generation uint64

	buildMu  sync.Mutex
	building map[uint64]*buildWaiter

	hits   atomic.Uint64
	misses atomic.Uint64
}

// StatsSnapshot is a point-in-time read of a Manager's lifetime hit/miss
// counters, for the observability layer to expose as gauges: a cheap read
// of otherwise-atomic counters.
type StatsSnapshot struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// Stats returns the Manager's lifetime hit/miss counters plus its current
// entry count.
func (m *Manager) Stats() StatsSnapshot {
	return StatsSnapshot{
		Hits:   m.hits.Load(),
		Misses: m.misses.Load(),
		Size:   m.Len(),
	}
}

type buildWaiter struct {
	done  chan struct{}
	entry *Entry
	err   error
}

// Config configures a Manager's eviction policy.
type Config struct {
	MaxCachedPrincipals int
	DefaultTTL          time.Duration
	AdminTTL            time.Duration
}

// NewManager constructs an empty Manager at generation 0.
func NewManager(cfg Config) *Manager {
	return &Manager{
		entries:    make(map[uint64]*Entry),
		lru:        newLRUIndex(),
		byUserID:   make(map[string]map[uint64]struct{}),
		byAPIKey:   make(map[string]map[uint64]struct{}),
		maxCached:  cfg.MaxCachedPrincipals,
		defaultTTL: cfg.DefaultTTL,
		adminTTL:   cfg.AdminTTL,
		building:   make(map[uint64]*buildWaiter),
	}
}

// Generation returns the generation current entries were (or will be) built
// against.
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// BumpGeneration advances the generation counter and discards every cached
// entry: they were built against a RuleSet/PermissionIndex snapshot that no
// longer exists (spec §4.6/§5).
func (m *Manager) BumpGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.entries = make(map[uint64]*Entry)
	m.lru = newLRUIndex()
	m.byUserID = make(map[string]map[uint64]struct{})
	m.byAPIKey = make(map[string]map[uint64]struct{})
	return m.generation
}

// GetOrBuild returns the cache entry for p, building it with build if
// missing, expired, or stale relative to the current generation. Concurrent
// calls for the same fingerprint share one build.
func (m *Manager) GetOrBuild(p principal.Principal, build Builder) (*Entry, error) {
	fp := principal.Fingerprint(p)
	now := time.Now().UTC()

	m.mu.RLock()
	entry, ok := m.entries[fp]
	gen := m.generation
	m.mu.RUnlock()

	if ok && !entry.Expired(now) && !entry.StaleGeneration(gen) {
		m.recordHit(fp)
		m.hits.Add(1)
		return entry, nil
	}

	m.misses.Add(1)
	return m.build(fp, gen, p, build)
}

func (m *Manager) build(fp, gen uint64, p principal.Principal, builder Builder) (*Entry, error) {
	m.buildMu.Lock()
	if w, inFlight := m.building[fp]; inFlight {
		m.buildMu.Unlock()
		<-w.done
		return w.entry, w.err
	}
	w := &buildWaiter{done: make(chan struct{})}
	m.building[fp] = w
	m.buildMu.Unlock()

	result, err := builder(p)

	m.buildMu.Lock()
	delete(m.building, fp)
	m.buildMu.Unlock()

	if err != nil {
		w.err = err
		close(w.done)
		return nil, err
	}

	// The admin-TTL check must run against the RBAC-resolved effective role
	// set (result.RolesSnapshot), not the caller-supplied p.Roles: a
	// principal who is admin-like only via a store-bound assignment or role
	// inheritance carries no "admin"-named role in p.Roles at all, and
	// still must get the shorter TTL (spec §3: admin-like TTL <= default).
	ttl := m.defaultTTL
	if principal.IsAdminLikeRoles(result.RolesSnapshot) && m.adminTTL > 0 {
		ttl = m.adminTTL
	}

	entry := &Entry{
		PrincipalFingerprint: fp,
		AllowedToolIDs:       result.AllowedToolIDs,
		PermissionsBitmap:    result.PermissionsBitmap,
		RolesSnapshot:        result.RolesSnapshot,
		BuiltAt:              time.Now().UTC(),
		TTL:                  ttl,
		Generation:           gen,
		principalID:          p.ID,
		apiKeyName:           p.APIKeyName,
	}
	entry.Stats.Rebuilds = 1

	m.insert(entry)

	w.entry = entry
	close(w.done)
	return entry, nil
}

// insert stores entry and evicts the least-recently-built entry if the
// cache is now over capacity.
func (m *Manager) insert(entry *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.Generation != m.generation {
		// A generation bump raced with this build; discard the stale result
		// rather than resurrecting an entry for a retired snapshot.
		return
	}

	m.entries[entry.PrincipalFingerprint] = entry
	m.lru.touch(entry.PrincipalFingerprint)
	m.indexLocked(entry)

	if m.maxCached > 0 {
		for m.lru.len() > m.maxCached {
			oldest, ok := m.lru.oldest()
			if !ok {
				break
			}
			if e, ok := m.entries[oldest]; ok {
				m.deindexLocked(e)
			}
			m.lru.remove(oldest)
			delete(m.entries, oldest)
		}
	}
}

// indexLocked records entry's fingerprint under its principal/API-key
// identifiers. Callers must hold m.mu.
func (m *Manager) indexLocked(entry *Entry) {
	if entry.principalID != "" {
		if m.byUserID[entry.principalID] == nil {
			m.byUserID[entry.principalID] = make(map[uint64]struct{})
		}
		m.byUserID[entry.principalID][entry.PrincipalFingerprint] = struct{}{}
	}
	if entry.apiKeyName != "" {
		if m.byAPIKey[entry.apiKeyName] == nil {
			m.byAPIKey[entry.apiKeyName] = make(map[uint64]struct{})
		}
		m.byAPIKey[entry.apiKeyName][entry.PrincipalFingerprint] = struct{}{}
	}
}

// deindexLocked removes entry's fingerprint from the identity indexes.
// Callers must hold m.mu.
func (m *Manager) deindexLocked(entry *Entry) {
	if entry.principalID != "" {
		if set, ok := m.byUserID[entry.principalID]; ok {
			delete(set, entry.PrincipalFingerprint)
			if len(set) == 0 {
				delete(m.byUserID, entry.principalID)
			}
		}
	}
	if entry.apiKeyName != "" {
		if set, ok := m.byAPIKey[entry.apiKeyName]; ok {
			delete(set, entry.PrincipalFingerprint)
			if len(set) == 0 {
				delete(m.byAPIKey, entry.apiKeyName)
			}
		}
	}
}

func (m *Manager) recordHit(fp uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[fp]; ok {
		e.Stats.Hits++
	}
}

// Invalidate drops a single fingerprint's entry, if present.
func (m *Manager) Invalidate(fingerprint uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[fingerprint]; ok {
		m.deindexLocked(e)
	}
	delete(m.entries, fingerprint)
	m.lru.remove(fingerprint)
}

// InvalidateIdentity drops every cached entry built for the given
// identifier — a user id (isAPIKey false) or an API key name (isAPIKey
// true) — matching against the identity the entry was actually built
// under rather than recomputing a fingerprint from a partial principal
// (Principal.Fingerprint also hashes Roles and the other identifier, so a
// fingerprint built from id alone will not equal the real entry's
// fingerprint whenever those are non-empty).
func (m *Manager) InvalidateIdentity(id string, isAPIKey bool) {
	if id == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.byUserID
	if isAPIKey {
		idx = m.byAPIKey
	}
	for fp := range idx[id] {
		if e, ok := m.entries[fp]; ok {
			delete(m.entries, fp)
			m.lru.remove(fp)
			m.deindexLocked(e)
		}
	}
}

// InvalidateAll clears every entry without advancing the generation (used
// for EmergencyCacheClear, which must not change what generation future
// builds are validated against).
func (m *Manager) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[uint64]*Entry)
	m.lru = newLRUIndex()
	m.byUserID = make(map[string]map[uint64]struct{})
	m.byAPIKey = make(map[string]map[uint64]struct{})
}

// Sweep removes every entry whose TTL has elapsed as of now. Intended to be
// called periodically by a background sweeper goroutine.
func (m *Manager) Sweep(now time.Time) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []uint64
	for fp, e := range m.entries {
		if e.Expired(now) {
			expired = append(expired, fp)
		}
	}
	for _, fp := range expired {
		if e, ok := m.entries[fp]; ok {
			m.deindexLocked(e)
		}
		delete(m.entries, fp)
		m.lru.remove(fp)
	}
	return expired
}

// Len returns the number of cached entries.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
