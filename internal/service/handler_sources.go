package service

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"dbconduit/internal/core"
	"dbconduit/internal/domain"
	"dbconduit/internal/event"
	"dbconduit/internal/log"
	"dbconduit/internal/source"
)

// SourceStatus is the outcome of reloading one source.
type SourceStatus struct {
	Name        string `json:"name"`
	Connections int    `json:"connections"`
	Err         error  `json:"-"`
}

// ConnectionsChange is the payload of the connections_changed event.
type ConnectionsChange struct {
	SourceID string   `json:"sourceId"`
	Added    []string `json:"added,omitempty"`
	Replaced []string `json:"replaced,omitempty"`
	Removed  []string `json:"removed,omitempty"`
}

// AddSource registers src and loads it. If a source with the same name is
// already registered, the existing instance is kept and reloaded instead.
// A failing load is logged and reported in the status, never returned.
func (h *Handler) AddSource(src source.Source) SourceStatus {
	name := src.Name()
	h.mu.Lock()
	if _, exists := h.sources[name]; !exists {
		h.sources[name] = src
	} else {
		log.Logger.WithField("source", name).Debug("source already registered, reloading existing")
	}
	h.mu.Unlock()

	st := h.reload(name)
	if st.Err != nil {
		log.Logger.WithField("source", name).WithError(st.Err).Warn("source load failed")
	}
	return st
}

// SourceReload loads the source again and reconciles its connections.
func (h *Handler) SourceReload(id string) error {
	return h.reload(id).Err
}

// ReloadAll reloads every source. One failing source does not stop the rest.
func (h *Handler) ReloadAll() []SourceStatus {
	var out []SourceStatus
	for _, name := range h.sourceNames() {
		st := h.reload(name)
		if st.Err != nil {
			log.Logger.WithField("source", name).WithError(st.Err).Warn("source reload failed")
		}
		out = append(out, st)
	}
	return out
}

func (h *Handler) reload(id string) SourceStatus {
	st := SourceStatus{Name: id}
	src, ok := h.source(id)
	if !ok {
		st.Err = fmt.Errorf("%w: %s", source.ErrSourceUnknown, id)
		return st
	}

	specs, err := src.Load()
	if err != nil {
		st.Err = fmt.Errorf("load %s: %w", id, err)
		st.Connections = len(h.registry.List(id))
		return st
	}

	res := h.registry.Apply(id, specs)
	st.Connections = len(h.registry.List(id))
	for connID, ferr := range res.Failed {
		if st.Err == nil {
			st.Err = fmt.Errorf("open %s: %w", connID, ferr)
		}
	}

	h.purge(res.Removed)
	if res.Changed() {
		log.Logger.WithFields(logrus.Fields{
			"source":   id,
			"added":    len(res.Added),
			"replaced": len(res.Replaced),
			"removed":  len(res.Removed),
		}).Info("connections reconciled")
		h.bus.Emit(h.ctx, event.ConnectionsChanged, ConnectionsChange{
			SourceID: id,
			Added:    res.Added,
			Replaced: res.Replaced,
			Removed:  res.Removed,
		})
	}
	return st
}

func (h *Handler) purge(connIDs []string) {
	if h.purger == nil {
		return
	}
	for _, id := range connIDs {
		if err := h.purger.DeleteCallsByConnection(id); err != nil {
			log.Logger.WithField("conn_id", id).WithError(err).Warn("purge call history")
		}
	}
}

// SourceAddConnections persists specs through the source, when it can save,
// then reloads it. Empty specs or an unknown source are a no-op.
func (h *Handler) SourceAddConnections(id string, specs []domain.ConnectionSpec) error {
	return h.saveAndReload(id, specs, source.SaveAdd)
}

// SourceRemoveConnections is SourceAddConnections for deletion.
func (h *Handler) SourceRemoveConnections(id string, specs []domain.ConnectionSpec) error {
	return h.saveAndReload(id, specs, source.SaveDelete)
}

func (h *Handler) saveAndReload(id string, specs []domain.ConnectionSpec, op source.SaveOp) error {
	if len(specs) == 0 {
		return nil
	}
	src, ok := h.source(id)
	if !ok {
		return nil
	}
	if saver, ok := src.(source.Saver); ok {
		if err := saver.Save(specs, op); err != nil {
			return fmt.Errorf("save %s: %w", id, err)
		}
	} else {
		log.Logger.WithField("source", id).Debug("source cannot save, change is transient")
	}
	return h.SourceReload(id)
}

// SourceGetConnections returns the live connections of a source sorted by name.
func (h *Handler) SourceGetConnections(id string) []domain.ConnectionParams {
	if _, ok := h.source(id); !ok {
		return nil
	}
	return h.registry.List(id)
}

// GetSources returns the registered sources sorted by name.
func (h *Handler) GetSources() []source.Source {
	h.mu.RLock()
	out := make([]source.Source, 0, len(h.sources))
	for _, s := range h.sources {
		out = append(out, s)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (h *Handler) sourceNames() []string {
	srcs := h.GetSources()
	names := make([]string, len(srcs))
	for i, s := range srcs {
		names[i] = s.Name()
	}
	return names
}

func (h *Handler) source(id string) (source.Source, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sources[id]
	return s, ok
}

// SetCurrentConnection marks a connection as the editor's active one.
func (h *Handler) SetCurrentConnection(id string) error {
	if !h.registry.SetCurrent(id) {
		return fmt.Errorf("%w: %s", core.ErrConnectionUnknown, id)
	}
	conn, _ := h.registry.Get(id)
	h.bus.Emit(h.ctx, event.CurrentConnectionChanged, conn.Params())
	return nil
}

// GetCurrentConnection returns the active connection, if one is set.
func (h *Handler) GetCurrentConnection() (domain.ConnectionParams, bool) {
	conn, ok := h.registry.Current()
	if !ok {
		return domain.ConnectionParams{}, false
	}
	return conn.Params(), true
}
