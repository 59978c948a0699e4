package service

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"dbconduit/internal/log"
	"dbconduit/internal/source"
)

// StartAutoReload reloads every source on a cron schedule, replacing any
// schedule already running.
func (h *Handler) StartAutoReload(expr string) error {
	c := cron.New()
	if _, err := c.AddFunc(expr, func() {
		log.Logger.Debug("scheduled source reload")
		h.ReloadAll()
	}); err != nil {
		return fmt.Errorf("invalid reload schedule %q: %w", expr, err)
	}

	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	if h.cronSched != nil {
		h.cronSched.Stop()
	}
	c.Start()
	h.cronSched = c
	log.Logger.WithField("schedule", expr).Info("source auto reload scheduled")
	return nil
}

// StopAutoReload stops the reload schedule, if any.
func (h *Handler) StopAutoReload() {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	if h.cronSched != nil {
		<-h.cronSched.Stop().Done()
		h.cronSched = nil
	}
}

// WatchSources reloads file-backed sources whenever their file changes.
// It returns how many sources are watched.
func (h *Handler) WatchSources() (int, error) {
	var watchable []source.Watchable
	for _, s := range h.GetSources() {
		if w, ok := s.(source.Watchable); ok {
			watchable = append(watchable, w)
		}
	}

	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	if h.watcher != nil {
		h.watcher.Close()
		h.watcher = nil
	}
	if len(watchable) == 0 {
		return 0, nil
	}

	w, err := source.Watch(watchable, func(name string) {
		if err := h.SourceReload(name); err != nil {
			log.Logger.WithField("source", name).WithError(err).Warn("reload after change failed")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("watch sources: %w", err)
	}
	h.watcher = w
	return len(watchable), nil
}

// StopWatching stops the source file watcher, if any.
func (h *Handler) StopWatching() {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	if h.watcher != nil {
		h.watcher.Close()
		h.watcher = nil
	}
}
