package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftsync/driftsync/internal/eventlog"
	eventsh "github.com/driftsync/driftsync/internal/server/handlers/events"
	indexh "github.com/driftsync/driftsync/internal/server/handlers/index"
	idxstore "github.com/driftsync/driftsync/internal/server/index"
	"github.com/driftsync/driftsync/internal/server/storage"
	"github.com/driftsync/driftsync/internal/utils"
)

const (
	shutdownTimeout = 10 * time.Second

	// Durable store open is retried at startup. If it still fails after
	// the last attempt the server exits instead of serving degraded.
	storeOpenAttempts = 5
	storeOpenBackoff  = 2 * time.Second
)

// Server is the authoritative node. It owns the durable store for its
// configured protocol and mirrors the replicated tree on local disk.
type Server struct {
	cfg   *Config
	store *storage.LocalStore

	// log-protocol state
	log    *eventlog.Log
	engine eventsh.Mirror

	// index-protocol state
	idx *idxstore.Store

	httpd *http.Server
}

func New(cfg *Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := storage.NewLocalStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open storage tree: %w", err)
	}
	return &Server{cfg: cfg, store: store}, nil
}

// Start opens the durable store, wires the protocol handlers, and runs the
// HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := utils.EnsureParent(s.cfg.DBPath); err != nil {
		return fmt.Errorf("prepare db path: %w", err)
	}

	var (
		events *eventsh.Handler
		index  *indexh.Handler
	)

	switch s.cfg.Protocol {
	case ProtocolLog:
		log, err := openLogWithRetry(ctx, s.cfg.DBPath)
		if err != nil {
			return err
		}
		s.log = log

		engine, err := newMirrorEngine(s.cfg, log)
		if err != nil {
			return fmt.Errorf("start mirror engine: %w", err)
		}
		if err := engine.Start(ctx); err != nil {
			return fmt.Errorf("start mirror engine: %w", err)
		}
		s.engine = engine
		defer func() {
			if err := engine.Stop(); err != nil {
				slog.Error("stop mirror engine", "error", err)
			}
		}()

		events = eventsh.New(log, engine, s.cfg.NodeID)

	case ProtocolIndex:
		idx, err := openIndexWithRetry(ctx, s.cfg.DBPath)
		if err != nil {
			return err
		}
		s.idx = idx

		index = indexh.New(s.store, idx)
		if err := index.RefreshFromDisk(ctx); err != nil {
			return fmt.Errorf("build server index: %w", err)
		}
	}

	s.httpd = &http.Server{
		Addr:    s.cfg.HTTP.Addr,
		Handler: setupRoutes(s.cfg, events, index),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening",
			"addr", s.cfg.HTTP.Addr,
			"protocol", s.cfg.Protocol,
			"dataDir", s.cfg.DataDir,
		)
		var err error
		if s.cfg.HTTP.CertFile != "" && s.cfg.HTTP.KeyFile != "" {
			err = s.httpd.ListenAndServeTLS(s.cfg.HTTP.CertFile, s.cfg.HTTP.KeyFile)
		} else {
			err = s.httpd.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	err := g.Wait()
	s.closeStores()
	return err
}

func (s *Server) shutdown() error {
	slog.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpd.Shutdown(ctx)
}

func (s *Server) closeStores() {
	if s.log != nil {
		if err := s.log.Close(); err != nil {
			slog.Error("close event log", "error", err)
		}
	}
	if s.idx != nil {
		if err := s.idx.Close(); err != nil {
			slog.Error("close server index", "error", err)
		}
	}
}

func openLogWithRetry(ctx context.Context, path string) (*eventlog.Log, error) {
	var lastErr error
	for attempt := 1; attempt <= storeOpenAttempts; attempt++ {
		log, err := eventlog.Open(path)
		if err == nil {
			return log, nil
		}
		lastErr = err
		slog.Warn("open event log failed", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(storeOpenBackoff):
		}
	}
	return nil, fmt.Errorf("open event log %s: %w", path, lastErr)
}

func openIndexWithRetry(ctx context.Context, path string) (*idxstore.Store, error) {
	var lastErr error
	for attempt := 1; attempt <= storeOpenAttempts; attempt++ {
		idx, err := idxstore.Open(path)
		if err == nil {
			return idx, nil
		}
		lastErr = err
		slog.Warn("open server index failed", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(storeOpenBackoff):
		}
	}
	return nil, fmt.Errorf("open server index %s: %w", path, lastErr)
}
