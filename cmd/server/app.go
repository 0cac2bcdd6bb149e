package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nxtg-forge/termbridge/internal/audit"
	"github.com/nxtg-forge/termbridge/internal/auth"
	"github.com/nxtg-forge/termbridge/internal/bridge"
	"github.com/nxtg-forge/termbridge/internal/config"
	"github.com/nxtg-forge/termbridge/internal/guard"
	"github.com/nxtg-forge/termbridge/internal/pty"
	"github.com/nxtg-forge/termbridge/internal/runspace"
	"github.com/nxtg-forge/termbridge/internal/sessions"
	"github.com/nxtg-forge/termbridge/internal/ws"
)

// auditRetention is how long audit events are kept.
const auditRetention = 30 * 24 * time.Hour

// app is the wired bridge: everything serve needs, and what to release on
// shutdown.
type app struct {
	manager *bridge.Manager
	server  *Server
	watcher *runspace.Watcher
	store   *audit.Store
	log     zerolog.Logger
}

func newApp(s config.Settings, spawner pty.Spawner, log zerolog.Logger) (*app, error) {
	a := &app{log: log}

	resolver, watcher, err := buildResolver(s, log)
	if err != nil {
		return nil, err
	}
	a.watcher = watcher

	g, err := guard.New(s.GuardExtraPatterns...)
	if err != nil {
		a.close()
		return nil, err
	}

	var recorder audit.Recorder = audit.Nop{}
	var events EventStore
	if s.AuditDBPath != "" {
		store, err := audit.Open(s.AuditDBPath, log.With().Str("component", "audit").Logger())
		if err != nil {
			a.close()
			return nil, err
		}
		if n, err := store.Prune(context.Background(), auditRetention); err != nil {
			log.Warn().Err(err).Msg("failed to prune audit log")
		} else if n > 0 {
			log.Info().Int64("events", n).Msg("pruned old audit events")
		}
		a.store = store
		recorder = store
		events = store
	}

	a.manager = bridge.NewManager(bridge.Config{
		Registry:         sessions.NewRegistry(s.ScrollbackBytes),
		Runspaces:        resolver,
		Spawner:          spawner,
		Guard:            g,
		Audit:            recorder,
		Logger:           log,
		GracePeriod:      s.GracePeriod,
		Shell:            s.ShellPath,
		GuardInteractive: s.GuardInteractive,
	})

	router := ws.NewRouter(a.manager, ws.NewOriginPolicy(s.AllowedOrigins), ws.ClientOptions{
		MaxMessageBytes: s.MaxMessageBytes,
		RateLimit:       s.InputRateLimit,
		RateBurst:       s.InputRateBurst,
	}, log)
	am := auth.NewMiddleware(s.InternalToken, s.AuthDisabled, log)
	a.server = NewServer(a.manager, router, am, events, log)
	return a, nil
}

// loadResolver chains the runspaces file (if any) in front of the
// workspace directory. The file is read once; nothing watches it.
func loadResolver(s config.Settings) (runspace.Chain, *runspace.FileResolver, error) {
	var chain runspace.Chain
	var file *runspace.FileResolver

	if s.RunspacesFile != "" {
		fr, err := runspace.LoadFile(s.RunspacesFile)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, fr)
		file = fr
	}
	if s.WorkspaceBase != "" {
		chain = append(chain, runspace.DirResolver{Base: s.WorkspaceBase})
	}
	if len(chain) == 0 {
		return nil, nil, errors.New("no runspaces: set RUNSPACES_FILE or WORKSPACE_BASE")
	}
	return chain, file, nil
}

// buildResolver is loadResolver with the runspaces file hot reloaded.
func buildResolver(s config.Settings, log zerolog.Logger) (runspace.Resolver, *runspace.Watcher, error) {
	chain, file, err := loadResolver(s)
	if err != nil {
		return nil, nil, err
	}
	if file == nil {
		return chain, nil, nil
	}

	watcher, err := runspace.NewWatcher(file, log.With().Str("component", "runspaces").Logger())
	if err != nil {
		return nil, nil, fmt.Errorf("watch runspaces file: %w", err)
	}
	if err := watcher.Start(); err != nil {
		watcher.Stop()
		return nil, nil, fmt.Errorf("watch runspaces file: %w", err)
	}
	return chain, watcher, nil
}

// shutdown closes every terminal and releases resources.
func (a *app) shutdown(ctx context.Context) error {
	err := a.manager.Shutdown(ctx)
	return errors.Join(err, a.close())
}

func (a *app) close() error {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}
