package database

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

const defaultPollInterval = 2 * time.Second

// liveQuery is the goroutine half of a SubscribeQuery on a remote store.
// It re-runs the query whenever the store signals a change and hands the
// result to the subscriber only when it differs from the last delivery.
type liveQuery struct {
	collection string
	query      Query
	fetch      func(ctx context.Context) ([]Document, error)
	onSnapshot func([]Document)
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	lastPrint uint64
}

func newLiveQuery(collection string, q Query, fetch func(ctx context.Context) ([]Document, error), onSnapshot func([]Document), logger *slog.Logger) *liveQuery {
	ctx, cancel := context.WithCancel(context.Background())
	return &liveQuery{
		collection: collection,
		query:      q,
		fetch:      fetch,
		onSnapshot: onSnapshot,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// start delivers the initial snapshot synchronously so query errors reach
// the caller, then hands control to run in the background.
func (l *liveQuery) start(ctx context.Context, run func(l *liveQuery)) (Unsubscribe, error) {
	docs, err := l.fetch(ctx)
	if err != nil {
		l.cancel()
		return nil, err
	}
	l.deliver(docs)

	go func() {
		defer close(l.done)
		run(l)
	}()
	return l.stop, nil
}

func (l *liveQuery) stop() {
	l.once.Do(func() {
		l.cancel()
		<-l.done
	})
}

// refresh re-runs the query and delivers it if anything changed.
func (l *liveQuery) refresh() {
	docs, err := l.fetch(l.ctx)
	if err != nil {
		if l.ctx.Err() == nil {
			l.logger.Warn("live query refresh failed", "collection", l.collection, "error", err)
		}
		return
	}
	l.deliver(docs)
}

func (l *liveQuery) deliver(docs []Document) {
	fp := fingerprint(docs)
	if fp == l.lastPrint && l.lastPrint != 0 {
		return
	}
	l.lastPrint = fp
	if l.ctx.Err() == nil {
		l.onSnapshot(docs)
	}
}

// poll re-runs the query on a fixed interval. Used when the store has no
// change notification available.
func (l *liveQuery) poll(interval time.Duration) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.refresh()
		}
	}
}

// fingerprint hashes a result set. fmt prints maps with sorted keys, so equal
// data hashes equally.
func fingerprint(docs []Document) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d;", len(docs))
	for _, doc := range docs {
		fmt.Fprintf(h, "%s=%v;", doc.ID, doc.Data)
	}
	return h.Sum64()
}
