package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/harborml/drivesearch/internal/config"
	"github.com/harborml/drivesearch/internal/core"
	db "github.com/harborml/drivesearch/internal/core/database"
	"github.com/harborml/drivesearch/internal/core/drive"
	"github.com/harborml/drivesearch/internal/core/extractor"
	"github.com/harborml/drivesearch/internal/core/llm"
	objectclient "github.com/harborml/drivesearch/internal/core/object-client"
	"github.com/harborml/drivesearch/internal/syncer"
)

type App struct {
	DBClient    core.DbClient
	Engine      *syncer.Engine
	Coordinator *syncer.Coordinator
	Server      *Server

	cfg *config.Config
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Println("Database initialized and ready.")

	// The archive is optional: without AWS credentials the service still
	// indexes, it just keeps no raw copies.
	var objClient core.ObjectClient
	if cfg.ArchiveEnabled() {
		objClient, err = objectclient.NewS3Client(appCtx, cfg)
		if err != nil {
			return nil, err
		}
	} else {
		log.Println("Raw content archive disabled (no AWS credentials).")
	}

	geminiEmbedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}

	driveClient := drive.NewClient(drive.NewOAuthConfig(cfg))
	textExtractor := extractor.NewDocconvExtractor()

	engine := syncer.NewEngine(dbClient, driveClient, geminiEmbedder, textExtractor, objClient, cfg.BucketName, syncer.DefaultOptions())
	coordinator := syncer.NewCoordinator(dbClient, engine, cfg.SyncConcurrency)

	server := NewServer(cfg, dbClient, driveClient, geminiEmbedder, objClient, engine)

	return &App{
		DBClient:    dbClient,
		Engine:      engine,
		Coordinator: coordinator,
		Server:      server,
		cfg:         cfg,
	}, nil
}

// RunScheduler syncs all connected users on a fixed interval until the
// context ends. A zero interval disables it.
func (a *App) RunScheduler(ctx context.Context) {
	if a.cfg.SyncInterval <= 0 {
		return
	}
	log.Printf("Background sync every %s (concurrency %d)", a.cfg.SyncInterval, a.cfg.SyncConcurrency)

	ticker := time.NewTicker(a.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := a.Coordinator.RunAll(ctx)
			if err != nil {
				log.Printf("scheduled sync: %v", err)
				continue
			}
			log.Printf("scheduled sync: %d users, %d synced, %d busy, %d auth failures, %d errors (+%d ~%d -%d)",
				summary.Users, summary.Synced, summary.AlreadySyncing, summary.AuthFailures, summary.Errors,
				summary.Totals.Added, summary.Totals.Updated, summary.Totals.Deleted)
		}
	}
}

func (a *App) Close() {
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
