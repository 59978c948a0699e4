package core

import (
	"sort"
	"sync"

	"dbconduit/internal/dbclient"
	"dbconduit/internal/domain"
	"dbconduit/internal/log"
)

// DriverFactory opens a driver for a connection spec.
type DriverFactory func(spec domain.ConnectionSpec) (dbclient.Driver, error)

// Registry holds the live connections of every source, keyed by ID.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*Connection
	current string
	factory DriverFactory
	opts    Options
}

// NewRegistry creates an empty registry. A nil factory uses dbclient.NewDriver.
func NewRegistry(factory DriverFactory, opts Options) *Registry {
	if factory == nil {
		factory = dbclient.NewDriver
	}
	return &Registry{
		conns:   make(map[string]*Connection),
		factory: factory,
		opts:    opts,
	}
}

// Get returns the connection with id.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Connections returns every live connection, in no particular order.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// FindCall searches every connection's history for id.
func (r *Registry) FindCall(id string) (*Call, bool) {
	for _, c := range r.Connections() {
		if call, ok := c.GetCall(id); ok {
			return call, true
		}
	}
	return nil, false
}

// List returns the connections of sourceID sorted by name, or all of them
// when sourceID is empty.
func (r *Registry) List(sourceID string) []domain.ConnectionParams {
	r.mu.RLock()
	out := make([]domain.ConnectionParams, 0, len(r.conns))
	for _, c := range r.conns {
		if sourceID == "" || c.params.SourceID == sourceID {
			out = append(out, c.params)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ApplyResult reports what Apply changed.
type ApplyResult struct {
	Added    []string
	Replaced []string
	Removed  []string
	Failed   map[string]error
}

// Changed reports whether the set of live connections changed.
func (a ApplyResult) Changed() bool {
	return len(a.Added)+len(a.Replaced)+len(a.Removed) > 0
}

// Apply makes the connections owned by sourceID match specs. Unchanged specs
// keep their instance. Changed specs get a fresh driver and adopt the old
// instance's history. Connections of sourceID absent from specs are closed.
// Drivers are opened and the database selection is carried over before the
// lock is taken, so readers neither wait on driver I/O nor observe a partial
// update.
func (r *Registry) Apply(sourceID string, specs []domain.ConnectionSpec) ApplyResult {
	res := ApplyResult{Failed: make(map[string]error)}

	wanted := make(map[string]domain.ConnectionParams, len(specs))
	for _, s := range specs {
		s = s.Normalized()
		id := s.ConnectionID()
		wanted[id] = domain.ConnectionParams{ID: id, Name: s.Name, Type: s.Type, URL: s.URL, SourceID: sourceID}
	}

	r.mu.RLock()
	pending := make(map[string]domain.ConnectionParams)
	carried := make(map[string]string)
	for id, p := range wanted {
		old, ok := r.conns[id]
		if ok && old.params == p {
			continue
		}
		pending[id] = p
		if ok {
			carried[id] = old.CurrentDatabase()
		}
	}
	r.mu.RUnlock()

	fresh := make(map[string]*Connection, len(pending))
	for id, p := range pending {
		drv, err := r.factory(domain.ConnectionSpec{ID: p.ID, Name: p.Name, Type: p.Type, URL: p.URL})
		if err != nil {
			log.Logger.WithField("conn_id", id).WithError(err).Warn("open driver")
			res.Failed[id] = err
			continue
		}
		c := NewConnection(p, drv, r.opts)
		if db := carried[id]; db != "" {
			if err := c.SelectDatabase(db); err != nil {
				log.Logger.WithField("conn_id", id).WithError(err).Warn("carry database selection")
			}
		}
		fresh[id] = c
	}

	var retired []*Connection
	r.mu.Lock()
	for id, c := range fresh {
		if old, ok := r.conns[id]; ok {
			c.adopt(old)
			retired = append(retired, old)
			res.Replaced = append(res.Replaced, id)
		} else {
			res.Added = append(res.Added, id)
		}
		r.conns[id] = c
	}
	for id, c := range r.conns {
		if c.params.SourceID != sourceID {
			continue
		}
		if _, ok := wanted[id]; ok {
			continue
		}
		if _, failed := res.Failed[id]; failed {
			continue
		}
		delete(r.conns, id)
		retired = append(retired, c)
		res.Removed = append(res.Removed, id)
		if r.current == id {
			r.current = ""
		}
	}
	r.mu.Unlock()

	for _, c := range retired {
		if contains(res.Removed, c.params.ID) {
			if err := c.Close(); err != nil {
				log.Logger.WithField("conn_id", c.params.ID).WithError(err).Warn("close removed connection")
			}
			continue
		}
		c.retire()
	}
	sort.Strings(res.Added)
	sort.Strings(res.Replaced)
	sort.Strings(res.Removed)
	return res
}

// RemoveSource closes every connection owned by sourceID.
func (r *Registry) RemoveSource(sourceID string) []string {
	return r.Apply(sourceID, nil).Removed
}

// SetCurrent marks id as the current connection. Returns false if unknown.
func (r *Registry) SetCurrent(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	r.current = id
	return true
}

// Current returns the current connection, if any.
func (r *Registry) Current() (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == "" {
		return nil, false
	}
	c, ok := r.conns[r.current]
	return c, ok
}

// Close closes every connection.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Connection)
	r.current = ""
	r.mu.Unlock()
	for id, c := range conns {
		if err := c.Close(); err != nil {
			log.Logger.WithField("conn_id", id).WithError(err).Warn("close connection")
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
