package main

import (
	"fmt"

	"bairrosgo/pkg/cache"
	"bairrosgo/pkg/config"
	"bairrosgo/pkg/dataset"
	"bairrosgo/pkg/db"
	"bairrosgo/pkg/request"
	"bairrosgo/pkg/store"
	"bairrosgo/pkg/tracker"
)

// app holds the components shared by the commands.
type app struct {
	cfg     *config.Config
	db      *db.DB
	store   *store.SQLiteStore
	tracker *tracker.Tracker
	client  *request.Client
	loader  *dataset.Loader
	manager *dataset.Manager
}

func newApp(cfg *config.Config) (*app, error) {
	d, err := db.Init(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	st := store.NewSQLiteStore(d, cfg.History.H3Resolution)
	tr := tracker.New()
	client := request.New(cache.NewSQLiteCache(st, cfg.Dataset.CacheTTL.Std()), tr, request.ClientConfig{
		Retries:   cfg.Request.Retries,
		Timeout:   cfg.Request.Timeout.Std(),
		BaseDelay: cfg.Request.Backoff.BaseDelay.Std(),
		MaxDelay:  cfg.Request.Backoff.MaxDelay.Std(),
	})
	loader := dataset.NewLoader(cfg.Dataset, client)

	var opts []dataset.Option
	if cfg.Resolver.Index {
		opts = append(opts, dataset.WithIndex(cfg.Resolver.CellSizeDeg))
	}
	return &app{
		cfg:     cfg,
		db:      d,
		store:   st,
		tracker: tr,
		client:  client,
		loader:  loader,
		manager: dataset.NewManager(loader, opts...),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
