package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/auctionledger/internal/metrics"
)

// DefaultScanInterval is how often the watcher looks for elapsed auctions.
const DefaultScanInterval = 15 * time.Second

const watcherBatch = 500

// Watcher periodically finds auctions whose bidding window has elapsed and
// announces them once. It never settles: only the seller may end an auction.
type Watcher struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	// announced holds IDs already reported; only touched by the scan loop.
	announced map[string]struct{}
}

// NewWatcher creates a new expiry watcher.
func NewWatcher(service *Service, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	return &Watcher{
		service:   service,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
		announced: make(map[string]struct{}),
	}
}

// Running reports whether the watcher loop is actively running.
func (w *Watcher) Running() bool {
	return w.running.Load()
}

// Start begins the scan loop. Call in a goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.running.Store(true)
	defer w.running.Store(false)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.safeScan(ctx)
		}
	}
}

// Stop signals the watcher to stop. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Watcher) safeScan(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in auction watcher", "panic", fmt.Sprint(r))
		}
	}()
	w.scan(ctx)
}

func (w *Watcher) scan(ctx context.Context) {
	awaiting, err := w.service.AwaitingSettlement(ctx, watcherBatch)
	if err != nil {
		w.logger.Warn("failed to list auctions awaiting settlement", "error", err)
		return
	}
	metrics.AuctionsAwaitingSettlement.Set(float64(len(awaiting)))

	current := make(map[string]struct{}, len(awaiting))
	for _, l := range awaiting {
		current[l.ID] = struct{}{}
		if _, seen := w.announced[l.ID]; seen {
			continue
		}
		w.logger.Info("auction window elapsed, awaiting seller settlement",
			"auctionId", l.ID,
			"seller", l.Seller,
			"highestBid", l.HighestBid,
			"highestBidder", l.HighestBidder,
		)
		w.service.emit(EventAuctionExpired, l, l.Seller, l.HighestBid)
	}

	// Settled auctions drop out so the set stays bounded.
	w.announced = current
}
