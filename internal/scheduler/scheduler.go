package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/tvsubscribe/internal/downloader"
	"github.com/eugenenazirov/tvsubscribe/internal/metrics"
	"github.com/eugenenazirov/tvsubscribe/internal/model"
	"github.com/eugenenazirov/tvsubscribe/internal/settings"
	"github.com/eugenenazirov/tvsubscribe/internal/storage"
)

// Run triggers recorded in metrics.
const (
	triggerTimer    = "timer"
	triggerKick     = "kick"
	triggerManual   = "manual"
	triggerNewEntry = "subscription"
)

// ErrClosed is returned by Trigger and Enqueue after Close.
var ErrClosed = errors.New("scheduler closed")

// Searcher finds torrents for a subscription on the tracker.
type Searcher interface {
	Search(ctx context.Context, cookie string, sub *model.Subscription) ([]model.Torrent, error)
}

// Fetcher downloads torrents and hands them to the BitTorrent client.
type Fetcher interface {
	Download(ctx context.Context, ids []string, s settings.Settings) (downloader.Report, error)
}

// SettingsSource provides the current runtime settings.
type SettingsSource interface {
	Get() settings.Settings
}

// Scheduler periodically searches the tracker for every subscription and
// downloads what it finds. Processing runs never overlap.
type Scheduler struct {
	store    storage.Storage
	settings SettingsSource
	searcher Searcher
	fetcher  Fetcher
	logger   *zap.Logger

	runMu sync.Mutex
	kick  chan struct{}

	// Background work started by Trigger and Enqueue.
	ctx    context.Context
	cancel context.CancelFunc
	bgMu   sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New returns a Scheduler. Close must be called to stop background work.
func New(store storage.Storage, src SettingsSource, searcher Searcher, fetcher Fetcher, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:    store,
		settings: src,
		searcher: searcher,
		fetcher:  fetcher,
		logger:   logger,
		kick:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Run processes all subscriptions immediately and then once per configured
// interval until ctx is cancelled. The interval is re-read after every cycle.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ProcessAll(ctx, triggerTimer)

	for {
		interval := s.interval()
		s.logger.Debug("next run scheduled", zap.Duration("in", interval))
		timer := time.NewTimer(interval)

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			s.ProcessAll(ctx, triggerTimer)
		case <-s.kick:
			timer.Stop()
			s.ProcessAll(ctx, triggerKick)
		}
	}
}

// Kick asks Run for an immediate cycle. Kicks arriving while one is pending
// are coalesced.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// ProcessAll searches and downloads for every subscription. Failures are
// logged and do not stop the loop.
func (s *Scheduler) ProcessAll(ctx context.Context, trigger string) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	metrics.SchedulerRuns.WithLabelValues(trigger).Inc()
	started := time.Now()
	defer func() {
		metrics.RunDuration.Observe(time.Since(started).Seconds())
	}()

	subs, err := s.store.List()
	if err != nil {
		s.logger.Error("list subscriptions failed", zap.Error(err))
		return
	}
	metrics.Subscriptions.Set(float64(len(subs)))

	current := s.settings.Get()
	if !current.Ready() {
		s.logger.Warn("tracker credentials missing, skipping run")
		return
	}

	s.logger.Info("processing subscriptions", zap.Int("count", len(subs)), zap.String("trigger", trigger))
	for _, sub := range subs {
		if ctx.Err() != nil {
			return
		}
		s.processOne(ctx, sub, current)
	}
	s.logger.Info("subscriptions processed", zap.Duration("took", time.Since(started)))
}

// ProcessOne searches and downloads for a single subscription.
func (s *Scheduler) ProcessOne(ctx context.Context, sub model.Subscription) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	current := s.settings.Get()
	if !current.Ready() {
		return errors.New("tracker credentials not configured")
	}
	return s.processOne(ctx, sub, current)
}

func (s *Scheduler) processOne(ctx context.Context, sub model.Subscription, current settings.Settings) error {
	log := s.logger.With(
		zap.String("douban_id", sub.DoubanID),
		zap.Stringer("resolution", sub.Resolution),
	)

	torrents, err := s.searcher.Search(ctx, current.Cookie, &sub)
	if err != nil {
		metrics.SubscriptionErrors.Inc()
		log.Warn("tracker search failed", zap.Error(err))
		return err
	}
	metrics.TorrentsFound.Add(float64(len(torrents)))
	if len(torrents) == 0 {
		log.Debug("no torrents found")
		return nil
	}

	ids := make([]string, 0, len(torrents))
	for _, t := range torrents {
		ids = append(ids, t.ID)
	}
	log.Info("torrents found", zap.Int("count", len(ids)))

	report, err := s.fetcher.Download(ctx, ids, current)
	metrics.TorrentsProcessed.WithLabelValues(metrics.ResultAdded).Add(float64(len(report.Added)))
	metrics.TorrentsProcessed.WithLabelValues(metrics.ResultSkipped).Add(float64(len(report.Skipped)))
	metrics.TorrentsProcessed.WithLabelValues(metrics.ResultFailed).Add(float64(len(report.Failed)))
	if err != nil {
		metrics.SubscriptionErrors.Inc()
		log.Warn("download failed", zap.Error(err))
		return err
	}
	return nil
}

// Trigger processes the subscriptions with the given IDs in the background
// and reports how many of them exist.
func (s *Scheduler) Trigger(ids []string) (int, error) {
	var subs []model.Subscription
	for _, id := range ids {
		sub, err := s.store.Get(id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		subs = append(subs, sub)
	}
	if len(subs) == 0 {
		return 0, nil
	}
	if err := s.goProcess(triggerManual, subs); err != nil {
		return 0, err
	}
	return len(subs), nil
}

// Enqueue processes a newly added subscription in the background.
func (s *Scheduler) Enqueue(sub model.Subscription) error {
	return s.goProcess(triggerNewEntry, []model.Subscription{sub})
}

func (s *Scheduler) goProcess(trigger string, subs []model.Subscription) error {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	metrics.SchedulerRuns.WithLabelValues(trigger).Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, sub := range subs {
			if err := s.ProcessOne(s.ctx, sub); err != nil && s.ctx.Err() == nil {
				s.logger.Warn("background processing failed", zap.String("id", sub.ID), zap.Error(err))
			}
		}
	}()
	return nil
}

// Close cancels background work and waits for it to finish.
func (s *Scheduler) Close() {
	s.bgMu.Lock()
	s.closed = true
	s.bgMu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) interval() time.Duration {
	return intervalFor(s.settings.Get().IntervalMinutes)
}

// intervalFor converts minutes to a wait, bounded so the multiplication
// cannot overflow into a negative duration.
func intervalFor(minutes int) time.Duration {
	switch {
	case minutes <= 0:
		minutes = settings.Defaults().IntervalMinutes
	case minutes > settings.MaxIntervalMinutes:
		minutes = settings.MaxIntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}
