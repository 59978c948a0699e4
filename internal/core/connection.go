package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"dbconduit/internal/dbclient"
	"dbconduit/internal/domain"
	"dbconduit/internal/event"
	"dbconduit/internal/log"
)

// CallRecorder persists terminal calls so history survives restarts.
type CallRecorder interface {
	UpsertCall(c domain.CallDetails) error
	ListCalls(connID string) ([]domain.CallDetails, error)
}

// Options carries the collaborators shared by every connection of a handler.
// Zero values are valid: no events, in-memory caches, no recorder.
type Options struct {
	Context  context.Context
	Emitter  event.Emitter
	Archive  Archive
	Recorder CallRecorder
	InFlight *InFlight
}

// Connection owns a driver, its call history and its database selection.
type Connection struct {
	params domain.ConnectionParams
	driver dbclient.Driver
	opts   Options

	mu        sync.RWMutex
	calls     []*Call
	byID      map[string]*Call
	currentDB string
}

// NewConnection wraps driver. Terminal calls recorded for params.ID are
// restored into the history when a recorder is configured.
func NewConnection(params domain.ConnectionParams, driver dbclient.Driver, opts Options) *Connection {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	c := &Connection{
		params: params,
		driver: driver,
		opts:   opts,
		byID:   make(map[string]*Call),
	}
	c.restoreHistory()
	return c
}

// ID returns the connection identifier.
func (c *Connection) ID() string { return c.params.ID }

// Params returns the connection descriptor.
func (c *Connection) Params() domain.ConnectionParams { return c.params }

func (c *Connection) restoreHistory() {
	if c.opts.Recorder == nil {
		return
	}
	records, err := c.opts.Recorder.ListCalls(c.params.ID)
	if err != nil {
		log.Logger.WithField("conn_id", c.params.ID).WithError(err).Warn("restore call history")
		return
	}
	for _, rec := range records {
		var it *ResultIterator
		if c.opts.Archive != nil {
			cache := NewArchiveCache(c.opts.Archive, rec.ID)
			if n, err := cache.Count(); err == nil && (n > 0 || cache.Header() != nil) {
				it = restoredIterator(cache, n)
			}
		}
		call := restoreCall(rec, it)
		c.calls = append(c.calls, call)
		c.byID[call.id] = call
	}
}

// adopt takes over the call history of the instance this one replaces.
// It does no I/O; the registry calls it under its write lock.
func (c *Connection) adopt(old *Connection) {
	old.mu.RLock()
	calls := append([]*Call(nil), old.calls...)
	old.mu.RUnlock()

	c.mu.Lock()
	c.calls = calls
	c.byID = make(map[string]*Call, len(calls))
	for _, call := range calls {
		c.byID[call.id] = call
	}
	c.mu.Unlock()
}

// Execute creates a call, appends it to the history and starts it.
// It returns as soon as the call is executing.
func (c *Connection) Execute(query string) *Call {
	call := newCall(c.opts.Context, c.params.ID, query, c.opts.Emitter)

	var cache RowCache
	if c.opts.Archive != nil {
		cache = NewArchiveCache(c.opts.Archive, call.id)
	} else {
		cache = NewMemoryCache()
	}

	recorder := c.opts.Recorder
	inflight := c.opts.InFlight
	call.onTerminal = func(d domain.CallDetails) {
		if recorder != nil {
			if err := recorder.UpsertCall(d); err != nil {
				log.Logger.WithField("call_id", d.ID).WithError(err).Warn("record call")
			}
		}
	}

	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.byID[call.id] = call
	c.mu.Unlock()

	call.transition(domain.CallStateExecuting)
	if inflight != nil {
		inflight.Add(call.id)
	}
	go func() {
		if inflight != nil {
			defer inflight.Done(call.id)
		}
		call.run(c.driver, cache)
	}()
	return call
}

// GetCall looks up a call in the history.
func (c *Connection) GetCall(id string) (*Call, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	call, ok := c.byID[id]
	return call, ok
}

// GetCalls returns the history, oldest first.
func (c *Connection) GetCalls() []domain.CallDetails {
	c.mu.RLock()
	calls := append([]*Call(nil), c.calls...)
	c.mu.RUnlock()

	out := make([]domain.CallDetails, len(calls))
	for i, call := range calls {
		out[i] = call.Details()
	}
	return out
}

// GetStructure returns the driver's schema tree, preceded by a
// database_switch node when the driver hosts several databases and followed
// by a history node when calls exist.
func (c *Connection) GetStructure(ctx context.Context) ([]domain.StructureNode, error) {
	nodes, err := c.driver.Structure(ctx)
	if err != nil {
		return nil, fmt.Errorf("structure: %w", err)
	}

	if current, available, err := c.listDatabases(ctx); err == nil {
		sw := domain.StructureNode{Name: current, Type: domain.StructureTypeDatabaseSwitch}
		for _, db := range available {
			sw.Children = append(sw.Children, domain.StructureNode{Name: db, Type: domain.StructureTypeDatabaseSwitch})
		}
		nodes = append([]domain.StructureNode{sw}, nodes...)
	}

	if calls := c.GetCalls(); len(calls) > 0 {
		hist := domain.StructureNode{Name: "history", Type: domain.StructureTypeHistory}
		for _, call := range calls {
			hist.Children = append(hist.Children, domain.StructureNode{Name: call.ID, Type: domain.StructureTypeHistory})
		}
		nodes = append(nodes, hist)
	}
	return nodes, nil
}

func (c *Connection) listDatabases(ctx context.Context) (string, []string, error) {
	sw, ok := c.driver.(dbclient.DatabaseSwitcher)
	if !ok {
		return "", nil, dbclient.ErrNotSupported
	}
	return sw.ListDatabases(ctx)
}

// ListDatabases returns the selected database and the others available.
func (c *Connection) ListDatabases() (string, []string, error) {
	current, available, err := c.listDatabases(c.opts.Context)
	if err != nil {
		return "", nil, err
	}
	c.mu.Lock()
	c.currentDB = current
	c.mu.Unlock()
	return current, available, nil
}

// SelectDatabase switches the driver to name and remembers the selection.
func (c *Connection) SelectDatabase(name string) error {
	sw, ok := c.driver.(dbclient.DatabaseSwitcher)
	if !ok {
		return dbclient.ErrNotSupported
	}
	if err := sw.SelectDatabase(c.opts.Context, name); err != nil {
		return err
	}
	c.mu.Lock()
	c.currentDB = name
	c.mu.Unlock()
	return nil
}

// CurrentDatabase returns the last selected or listed database.
func (c *Connection) CurrentDatabase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentDB
}

// GetHelpers merges the type defaults with extras (extras win) and expands
// them for opts.
func (c *Connection) GetHelpers(opts domain.HelperOptions, extras map[string]string) map[string]string {
	templates := dbclient.DefaultHelpers(c.params.Type)
	for name, tpl := range extras {
		templates[name] = tpl
	}
	return dbclient.ExpandHelpers(templates, opts)
}

// Close cancels running calls and closes the driver.
func (c *Connection) Close() error {
	c.mu.RLock()
	calls := append([]*Call(nil), c.calls...)
	c.mu.RUnlock()
	for _, call := range calls {
		call.Cancel()
	}
	if err := c.driver.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// retire closes the driver of a replaced instance in the background.
// Calls already adopted by the successor keep running on it until done.
func (c *Connection) retire() {
	go func() {
		if err := c.driver.Close(); err != nil {
			log.Logger.WithField("conn_id", c.params.ID).WithError(err).Warn("close replaced driver")
		}
	}()
}
