package registry

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"muster/internal/logging"
)

// DefaultTTL is applied when a registration carries no positive TTL
// and the store was configured without one.
const DefaultTTL = 60 * time.Second

// Store owns the registry state: every live Provider plus the name and
// tag indices over them. The three indices always agree — an id in a
// name or tag entry refers to a live record with that name or tag, and
// a removed record leaves no trace in any index.
//
// Concurrency model:
//   - one RWMutex guards all three indices as a unit
//   - mutations take the write lock; no observer sees a partial update
//   - lookups take the read lock and return copies, never aliases
//   - OnChange runs after the lock is released, so slow or unreachable
//     listeners never block registry mutations
type Store struct {
	mu sync.RWMutex

	// Authoritative store: id → record.
	byID map[ProviderID]*Provider

	// Secondary indices: ids in registration order, oldest first.
	byName map[string][]ProviderID
	byTag  map[string][]ProviderID

	defaultTTL time.Duration
	onChange   func(Provider)

	// Clock for testing
	now func() time.Time

	logger *slog.Logger
}

// Config configures a Store.
type Config struct {
	// DefaultTTL is applied when Register is called with a
	// non-positive TTL. Defaults to DefaultTTL.
	DefaultTTL time.Duration

	// OnChange, if set, is invoked with a copy of the affected record
	// after every registry-shape mutation (register and deregister;
	// heartbeats do not change registry shape). It runs outside the
	// store lock, and the mutating call returns only after it does —
	// its completion is the caller's signal that change notifications
	// have been dispatched.
	OnChange func(Provider)

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Logger for structured logging. If nil, logging is disabled.
	// The store scopes this logger with component="registry".
	Logger *slog.Logger
}

// NewStore creates an empty Store with the given configuration.
func NewStore(cfg Config) *Store {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Store{
		byID:       make(map[ProviderID]*Provider),
		byName:     make(map[string][]ProviderID),
		byTag:      make(map[string][]ProviderID),
		defaultTTL: cfg.DefaultTTL,
		onChange:   cfg.OnChange,
		now:        cfg.Now,
		logger:     logging.Default(cfg.Logger).With("component", "registry"),
	}
}

// Register creates a Provider for the given service and endpoint and
// inserts it into all three indices as one atomic update. Tags are
// normalized to a set; a non-positive ttl takes the store default.
// The returned record is a copy, handed back after its change
// notification has completed.
func (s *Store) Register(service, endpoint string, tags []string, ttl time.Duration) (Provider, error) {
	if service == "" {
		return Provider{}, fmt.Errorf("%w: service name is required", ErrInvalidInput)
	}
	if endpoint == "" {
		return Provider{}, fmt.Errorf("%w: endpoint is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	now := s.now()
	p := &Provider{
		ID:              NewProviderID(),
		Service:         service,
		Endpoint:        endpoint,
		Tags:            normalizeTags(tags),
		CreatedAt:       now,
		LastHeartbeatAt: now,
		TTL:             ttl,
	}

	s.mu.Lock()
	s.byID[p.ID] = p
	s.byName[p.Service] = append(s.byName[p.Service], p.ID)
	for _, tag := range p.Tags {
		s.byTag[tag] = append(s.byTag[tag], p.ID)
	}
	out := copyProvider(p)
	s.mu.Unlock()

	s.logger.Debug("registered provider",
		"id", p.ID,
		"service", p.Service,
		"endpoint", p.Endpoint,
		"ttl", p.TTL,
	)

	s.notify(out)
	return out, nil
}

// Deregister removes the provider with the given id from every index
// it appears in. A name or tag entry emptied by the removal is deleted
// outright, so the indices never accumulate dead keys. The removed
// record is returned after its change notification has completed. An
// unknown id yields ErrNotFound and mutates nothing.
func (s *Store) Deregister(id ProviderID) (Provider, error) {
	s.mu.Lock()
	p, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return Provider{}, fmt.Errorf("deregister %s: %w", id, ErrNotFound)
	}

	delete(s.byID, id)
	dropID(s.byName, p.Service, id)
	for _, tag := range p.Tags {
		dropID(s.byTag, tag, id)
	}
	out := copyProvider(p)
	s.mu.Unlock()

	s.logger.Debug("deregistered provider",
		"id", out.ID,
		"service", out.Service,
	)

	s.notify(out)
	return out, nil
}

// Heartbeat records that the provider is still alive. Only
// LastHeartbeatAt changes — indices are untouched and no notification
// fires. The timestamp never moves backward. An unknown id yields
// ErrNotFound.
func (s *Store) Heartbeat(id ProviderID) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("heartbeat %s: %w", id, ErrNotFound)
	}
	if now.After(p.LastHeartbeatAt) {
		p.LastHeartbeatAt = now
	}
	return nil
}

// LookupByName returns copies of the providers registered under the
// given service name, oldest registration first. An unknown name
// yields an empty result, never an error.
func (s *Store) LookupByName(service string) []Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byName[service])
}

// LookupByTag returns copies of the providers carrying the given tag,
// oldest registration first. An unknown tag yields an empty result,
// never an error.
func (s *Store) LookupByTag(tag string) []Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byTag[tag])
}

// LookupByID returns a copy of the provider with the given id.
func (s *Store) LookupByID(id ProviderID) (Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return Provider{}, fmt.Errorf("lookup %s: %w", id, ErrNotFound)
	}
	return copyProvider(p), nil
}

// List returns copies of all live providers in no particular order.
func (s *Store) List() []Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Provider, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, copyProvider(p))
	}
	return out
}

// Snapshot is a point-in-time copy of the full registry state.
type Snapshot struct {
	Providers map[ProviderID]Provider
	ByName    map[string][]ProviderID
	ByTag     map[string][]ProviderID
}

// Snapshot returns a deep copy of all three indices. The result shares
// no structure with the live registry.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Providers: make(map[ProviderID]Provider, len(s.byID)),
		ByName:    copyIndex(s.byName),
		ByTag:     copyIndex(s.byTag),
	}
	for id, p := range s.byID {
		snap.Providers[id] = copyProvider(p)
	}
	return snap
}

// Stats summarizes registry size for metrics.
type Stats struct {
	Providers int
	Services  int
	Tags      int
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Providers: len(s.byID),
		Services:  len(s.byName),
		Tags:      len(s.byTag),
	}
}

// notify invokes the change hook, if any. Callers must not hold the
// store lock.
func (s *Store) notify(p Provider) {
	if s.onChange == nil {
		return
	}
	s.onChange(p)
}

// collect resolves ids to record copies in index order. Callers must
// hold at least the read lock.
func (s *Store) collect(ids []ProviderID) []Provider {
	if len(ids) == 0 {
		return nil
	}
	out := make([]Provider, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.byID[id]; ok {
			out = append(out, copyProvider(p))
		}
	}
	return out
}

// dropID splices id out of index[key], deleting the key when the
// entry empties.
func dropID(index map[string][]ProviderID, key string, id ProviderID) {
	ids := index[key]
	for i, candidate := range ids {
		if candidate == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(index, key)
		return
	}
	index[key] = ids
}

// normalizeTags drops empty strings and duplicates, keeping first
// occurrence order. Returns nil when nothing remains.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// copyProvider returns a copy detached from registry-owned state.
func copyProvider(p *Provider) Provider {
	cp := *p
	cp.Tags = slices.Clone(p.Tags)
	return cp
}

// copyIndex deep-copies a secondary index.
func copyIndex(index map[string][]ProviderID) map[string][]ProviderID {
	cp := make(map[string][]ProviderID, len(index))
	for key, ids := range index {
		cp[key] = slices.Clone(ids)
	}
	return cp
}
