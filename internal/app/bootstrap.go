// Package app wires the workspace database, configuration, connectivity
// monitor, remote gateway and engine into one runnable unit shared by the CLI
// and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strconv"

	"farehop/internal/config"
	"farehop/internal/db"
	"farehop/internal/engine"
	"farehop/internal/gateway"
	"farehop/internal/migrate"
	"farehop/internal/netmon"
	"farehop/internal/repo"
	"farehop/internal/syncer"
)

const netStateKey = "net_online"

type App struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Net    *netmon.Monitor
	Syncer *syncer.Syncer

	detach func()
}

type Options struct {
	Workspace string
	// Store overrides the HTTP gateway, for tests and embedded use.
	Store  gateway.Store
	Logger *log.Logger
}

// Bootstrap opens (migrating if needed) the workspace database and builds the
// application. The connectivity state is restored from its persisted copy and
// the syncer is attached to online transitions before Bootstrap returns.
func Bootstrap(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.Load(opts.Workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	r := repo.Repo{DB: conn}

	online := true
	if v, err := r.GetState(ctx, netStateKey); err == nil {
		online, _ = strconv.ParseBool(v)
	} else if !errors.Is(err, repo.ErrNotFound) {
		conn.Close()
		return nil, err
	}
	mon := netmon.New(online)
	mon.Persist = func(online bool) error {
		return r.SetState(context.Background(), netStateKey, strconv.FormatBool(online))
	}

	store := opts.Store
	if store == nil {
		client := gateway.NewClient(cfg.Remote.BaseURL, cfg.Remote.Token)
		client.PollInterval = cfg.Sync.PollInterval
		store = client
	}

	eng := engine.New(conn, store, mon, cfg)
	s := syncer.New(r, store)
	s.Logger = opts.Logger
	detach := s.Attach(mon)

	return &App{
		DB:     conn,
		Config: cfg,
		Engine: eng,
		Net:    mon,
		Syncer: s,
		detach: detach,
	}, nil
}

func (a *App) Close() error {
	if a.detach != nil {
		a.detach()
	}
	return a.DB.Close()
}
