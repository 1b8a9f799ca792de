package actors

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"socialsphere/internal/database"
	"socialsphere/internal/utils"
)

const defaultStoreTimeout = 5 * time.Second

// storeDeps are the collaborators every store-backed actor needs.
type storeDeps struct {
	store   database.DocumentStore
	metrics *utils.MetricsCollector
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func newStoreDeps(store database.DocumentStore, metrics *utils.MetricsCollector, logger *slog.Logger, timeout time.Duration) storeDeps {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return storeDeps{store: store, metrics: metrics, logger: logger, timeout: timeout, now: time.Now}
}

func (d storeDeps) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d.timeout)
}

// queryNewestFirst runs q ordered by creation time. When the store cannot
// serve the ordered query it fetches the unordered matches instead and
// reports fellBack so the caller sorts them.
func (d storeDeps) queryNewestFirst(ctx context.Context, collection string, q database.Query) (docs []database.Document, fellBack bool, err error) {
	q.OrderBy = database.NewestFirst
	docs, err = d.store.QueryDocuments(ctx, collection, q)
	if err == nil {
		return docs, false, nil
	}
	if !errors.Is(err, database.ErrQueryCapability) {
		return nil, false, err
	}

	d.logger.Info("ordered query unavailable, sorting in memory", "collection", collection, "error", err)
	d.metrics.IncrementFallbacks(collection)
	docs, err = d.store.QueryDocuments(ctx, collection, q.Unordered())
	if err != nil {
		return nil, true, err
	}
	return docs, true, nil
}

func storeError(message string, err error) *utils.AppError {
	if errors.Is(err, database.ErrNotFound) {
		return utils.NewAppError(utils.ErrNotFound, message, err)
	}
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return utils.NewAppError(utils.ErrDatabase, message, err)
}
