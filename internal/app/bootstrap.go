package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"dbconduit/internal/config"
	"dbconduit/internal/log"
	mcpserver "dbconduit/internal/mcp"
	"dbconduit/internal/secret"
	"dbconduit/internal/service"
	"dbconduit/internal/source"
	"dbconduit/internal/storage"
)

// shutdownGrace bounds how long Close waits for running calls.
const shutdownGrace = 10 * time.Second

// App wires configuration, storage and the handler together.
type App struct {
	cfg     *config.Config
	db      *storage.DB
	handler *service.Handler
	version string
}

// New opens storage, builds the handler and registers the configured sources.
func New(cfg *config.Config, version string) (*App, error) {
	log.InitLogger(cfg.LogLevel)

	dbPath := filepath.Join(cfg.DataDir, "dbconduit.db")
	db, err := storage.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	calls := storage.NewCallStore(db)
	h := service.NewHandler(service.Options{
		Archive:  storage.NewArchiveStore(db),
		Recorder: calls,
		Purger:   calls,
		Resolver: secret.NewResolver(secretStore(cfg.SecretStore)),
		Helpers:  cfg.Helpers,
	})

	a := &App{cfg: cfg, db: db, handler: h, version: version}
	a.registerSources()
	return a, nil
}

func secretStore(kind string) secret.SecretStore {
	if kind == "keychain" {
		return secret.NewKeychainStore()
	}
	return secret.EnvStore{}
}

func (a *App) registerSources() {
	for _, path := range a.cfg.Sources.Files {
		a.report(a.handler.AddSource(source.NewFileSource(path)))
	}
	if a.cfg.Sources.Env != "" {
		a.report(a.handler.AddSource(source.NewEnvSource(a.cfg.Sources.Env)))
	}
	// scratch connections added from the editor for this session only
	a.report(a.handler.AddSource(source.NewMemorySource("memory")))
}

func (a *App) report(st service.SourceStatus) {
	entry := log.Logger.WithField("source", st.Name).WithField("connections", st.Connections)
	if st.Err != nil {
		entry.WithError(st.Err).Warn("source registered with errors")
		return
	}
	entry.Debug("source registered")
}

// Handler returns the handler.
func (a *App) Handler() *service.Handler { return a.handler }

// StartBackground starts the reload schedule and source file watching, as
// configured.
func (a *App) StartBackground() error {
	if a.cfg.ReloadSchedule != "" {
		if err := a.handler.StartAutoReload(a.cfg.ReloadSchedule); err != nil {
			return err
		}
	}
	if a.cfg.WatchSources {
		n, err := a.handler.WatchSources()
		if err != nil {
			return err
		}
		log.Logger.WithField("sources", n).Debug("watching source files")
	}
	return nil
}

// ServeMCP runs the MCP server on stdin/stdout until the client disconnects
// or the process is interrupted.
func (a *App) ServeMCP(ctx context.Context) error {
	if err := a.StartBackground(); err != nil {
		return err
	}
	srv := mcpserver.New(ctx, mcpserver.Deps{
		Handler:       a.handler,
		PageSize:      a.cfg.PageSize,
		ConfirmWrites: a.cfg.ConfirmWrites,
		Version:       a.version,
	})
	defer srv.Close()
	return srv.ServeStdio()
}

// Close waits briefly for running calls, then releases everything.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	a.handler.Close(ctx)
	if err := a.db.Close(); err != nil {
		log.Logger.WithError(err).Warn("close storage")
	}
}
