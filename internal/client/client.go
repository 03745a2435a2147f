package client

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/driftsync/driftsync/internal/client/config"
	"github.com/driftsync/driftsync/internal/client/poll"
	"github.com/driftsync/driftsync/internal/client/workspace"
	"github.com/driftsync/driftsync/internal/replica"
	"github.com/driftsync/driftsync/internal/sdk"
)

// Client runs one replicated tree against a server, over whichever
// protocol the config selects. The two protocols never mix: a client
// speaks either the event log or the polling index, not both.
type Client struct {
	config *config.Config
	ws     *workspace.Workspace
	sdk    *sdk.Client

	engine *replica.Engine // log protocol
	poller *poll.Poller    // index protocol
}

func New(cfg *config.Config) (*Client, error) {
	ws, err := workspace.NewWorkspace(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	sdk, err := sdk.New(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("create sdk: %w", err)
	}

	c := &Client{config: cfg, ws: ws, sdk: sdk}

	switch cfg.Protocol {
	case config.ProtocolLog:
		engine, err := replica.NewEngine(replica.Config{
			Root:      ws.SyncDir,
			NodeID:    cfg.NodeID,
			Transport: sdk.Events,
			StatePath: ws.StatePath(),
			WatchFS:   true,
		})
		if err != nil {
			return nil, fmt.Errorf("create engine: %w", err)
		}
		c.engine = engine

	case config.ProtocolIndex:
		poller, err := poll.NewPoller(poll.Config{
			Root:      ws.SyncDir,
			StatePath: ws.StatePath(),
			API:       sdk.Index,
		})
		if err != nil {
			return nil, fmt.Errorf("create poller: %w", err)
		}
		c.poller = poller

	default:
		return nil, fmt.Errorf("unknown protocol %q", cfg.Protocol)
	}

	return c, nil
}

// Start runs the client until ctx is cancelled.
func (c *Client) Start(ctx context.Context) error {
	slog.Info("client start",
		"datadir", c.config.DataDir,
		"server", c.config.ServerURL,
		"protocol", c.config.Protocol,
		"node", c.config.NodeID,
	)

	if err := c.ws.Setup(); err != nil {
		return fmt.Errorf("setup workspace: %w", err)
	}
	defer func() {
		if err := c.ws.Unlock(); err != nil {
			slog.Error("unlock workspace", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if c.engine != nil {
		if err := c.engine.Start(gctx); err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return c.engine.Stop()
		})
	}
	if c.poller != nil {
		g.Go(func() error {
			return c.poller.Run(gctx)
		})
	}

	err := g.Wait()
	slog.Info("client stop")
	return err
}
