package syncer

import (
	"context"
	"errors"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/harborml/drivesearch/internal/core"
	"github.com/harborml/drivesearch/internal/models"
)

// RunSummary aggregates one coordinator pass over every connected user.
type RunSummary struct {
	Users          int
	Synced         int
	AlreadySyncing int
	AuthFailures   int
	Errors         int
	Totals         models.SyncResult
}

// Coordinator fans a sync pass out over all users with a connected Drive,
// bounded by a concurrency limit. Per-user outcomes never affect each other;
// the claim protocol already keeps two coordinators (or a coordinator and a
// user-triggered sync) from working the same user at once.
type Coordinator struct {
	db          core.DbClient
	engine      *Engine
	concurrency int
}

func NewCoordinator(db core.DbClient, engine *Engine, concurrency int) *Coordinator {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Coordinator{db: db, engine: engine, concurrency: concurrency}
}

// RunAll syncs every connected user once and reports the aggregate. It only
// returns an error when the user listing itself fails.
func (c *Coordinator) RunAll(ctx context.Context) (*RunSummary, error) {
	userIDs, err := c.db.ListConnectedUserIDs(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		summary = RunSummary{Users: len(userIDs)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			result, err := c.engine.SyncUser(gctx, userID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Synced++
				summary.Totals.Added += result.Added
				summary.Totals.Updated += result.Updated
				summary.Totals.Deleted += result.Deleted
			case errors.Is(err, ErrAlreadySyncing):
				summary.AlreadySyncing++
			case errors.Is(err, ErrAuthExpired):
				summary.AuthFailures++
				log.Printf("sync: user %s needs to reconnect drive", userID)
			default:
				summary.Errors++
				log.Printf("sync: user %s failed: %v", userID, err)
			}
			return nil
		})
	}

	_ = g.Wait()
	return &summary, nil
}
