package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"news_processor/internal/domain"
	"news_processor/internal/service"
)

// Config tunes the domain-aware processing worker.
type Config struct {
	// SameDomainDelay is the minimum spacing between attempt starts on the
	// same host.
	SameDomainDelay time.Duration
	// MaxConcurrentDomains bounds how many hosts are drained in parallel.
	MaxConcurrentDomains int
	// MaxRetries caps retries per link; a link makes MaxRetries+1 attempts
	// before failing terminally.
	MaxRetries int
	// ProcessingTimeout bounds a single processor call.
	ProcessingTimeout time.Duration
	// ClaimBatch is how many links a lane claims per round trip.
	ClaimBatch int
	// BackoffBase is the wait before the first retry; each further retry
	// doubles it.
	BackoffBase time.Duration
}

// Worker drains pending links from the ledger, one lane per host, with
// bounded parallelism across hosts. All cross-lane coordination goes through
// the ledger's atomic claim.
type Worker struct {
	links     service.LinkStore
	processor service.Processor
	publisher service.Publisher // optional
	logger    *slog.Logger
	cfg       Config
}

func New(
	links service.LinkStore,
	processor service.Processor,
	publisher service.Publisher,
	logger *slog.Logger,
	cfg Config,
) *Worker {
	return &Worker{
		links:     links,
		processor: processor,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
	}
}

// ProcessPending drains all claimable pending links. It runs rounds of up to
// MaxConcurrentDomains host lanes until nothing is pending; when remaining
// pending links are gated by retry backoff it waits for the earliest one.
// Returns early only on context cancellation or a store failure.
func (w *Worker) ProcessPending(ctx context.Context) (*domain.DrainStats, error) {
	startTime := time.Now()
	stats := &drainStats{
		DrainStats: domain.DrainStats{ByHost: make(map[string]domain.HostStats)},
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats.snapshot(startTime), err
		}

		hosts, err := w.links.ListPendingHosts(ctx)
		if err != nil {
			return stats.snapshot(startTime), err
		}

		if len(hosts) == 0 {
			next, err := w.links.NextRetryAt(ctx)
			if err != nil {
				return stats.snapshot(startTime), err
			}
			if next == nil {
				break
			}
			w.logger.Debug("waiting for retry backoff", "until", *next)
			if err := sleepUntil(ctx, *next); err != nil {
				return stats.snapshot(startTime), err
			}
			continue
		}

		w.logger.Info("starting drain round", "hosts", len(hosts))
		if err := w.runRound(ctx, hosts, stats); err != nil {
			return stats.snapshot(startTime), err
		}
	}

	result := stats.snapshot(startTime)
	w.logger.Info("drain completed",
		"claimed", result.Claimed,
		"completed", result.Completed,
		"failed", result.Failed,
		"retried", result.Retried,
		"duration", result.Duration,
	)
	return result, nil
}

// runRound drains each listed host once. Hosts are submitted in
// oldest-pending-first order; SetLimit makes a freed lane pick up the next
// host in that order.
func (w *Worker) runRound(ctx context.Context, hosts []domain.HostQueue, stats *drainStats) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.MaxConcurrentDomains)

	for _, h := range hosts {
		host := h.Host
		g.Go(func() error {
			return w.drainHost(gctx, host, stats)
		})
	}

	return g.Wait()
}

// drainHost processes one host's pending queue in discovery order, spacing
// attempt starts by SameDomainDelay, until a claim comes back empty.
func (w *Worker) drainHost(ctx context.Context, host string, stats *drainStats) error {
	logger := w.logger.With("host", host)
	limiter := rate.NewLimiter(rate.Every(w.cfg.SameDomainDelay), 1)

	for {
		links, err := w.links.ClaimNextPending(ctx, host, w.cfg.ClaimBatch)
		if err != nil {
			return err
		}
		if len(links) == 0 {
			return nil
		}

		logger.Debug("claimed links", "count", len(links))
		stats.claimed(host, len(links))

		for i := range links {
			if err := limiter.Wait(ctx); err != nil {
				// Shutdown while holding claims: route the rest through the
				// ordinary retry path so nothing is stranded in processing.
				w.requeueRemaining(ctx, links[i:], err, stats)
				return err
			}
			if err := w.processLink(ctx, logger, &links[i], stats); err != nil {
				return err
			}
		}
	}
}

// processLink runs one attempt against the content processor and records the
// outcome. Ledger writes survive cancellation of the surrounding drain.
func (w *Worker) processLink(ctx context.Context, logger *slog.Logger, link *domain.Link, stats *drainStats) error {
	attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.ProcessingTimeout)
	content, err := w.processor.Process(attemptCtx, link.URL)
	cancel()

	recordCtx := context.WithoutCancel(ctx)

	if err != nil {
		return w.recordFailure(recordCtx, logger, link, err.Error(), stats)
	}

	if err := w.links.MarkCompleted(recordCtx, link.ID, content); err != nil {
		return err
	}
	stats.completed(link.Host)
	logger.Debug("link completed", "id", link.ID, "url", link.URL)

	link.Status = domain.StatusCompleted
	w.publish(recordCtx, logger, link, content)
	return nil
}

func (w *Worker) recordFailure(ctx context.Context, logger *slog.Logger, link *domain.Link, msg string, stats *drainStats) error {
	if link.RetryCount >= w.cfg.MaxRetries {
		if err := w.links.MarkFailed(ctx, link.ID, msg, true, nil); err != nil {
			return err
		}
		stats.failed(link.Host)
		logger.Warn("link failed terminally",
			"id", link.ID,
			"url", link.URL,
			"retries", link.RetryCount,
			"error", msg,
		)

		link.Status = domain.StatusFailed
		w.publish(ctx, logger, link, nil)
		return nil
	}

	notBefore := time.Now().Add(w.backoff(link.RetryCount + 1))
	if err := w.links.MarkFailed(ctx, link.ID, msg, false, &notBefore); err != nil {
		return err
	}
	stats.retried(link.Host)
	logger.Warn("link attempt failed, queued for retry",
		"id", link.ID,
		"url", link.URL,
		"attempt", link.RetryCount+1,
		"not_before", notBefore,
		"error", msg,
	)
	return nil
}

// requeueRemaining pushes claimed-but-unprocessed links back to pending when
// a lane is cancelled mid-batch.
func (w *Worker) requeueRemaining(ctx context.Context, links []domain.Link, cause error, stats *drainStats) {
	recordCtx := context.WithoutCancel(ctx)
	for i := range links {
		if err := w.recordFailure(recordCtx, w.logger, &links[i], cause.Error(), stats); err != nil {
			w.logger.Error("failed to requeue claimed link", "id", links[i].ID, "error", err)
		}
	}
}

func (w *Worker) publish(ctx context.Context, logger *slog.Logger, link *domain.Link, content *domain.ProcessedContent) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.Publish(ctx, link, content); err != nil {
		logger.Warn("failed to publish link event", "id", link.ID, "error", err)
	}
}

// backoff returns the wait before the n-th retry: BackoffBase doubled n-1
// times, so waits grow monotonically.
func (w *Worker) backoff(n int) time.Duration {
	d := w.cfg.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
	}
	return d
}

func sleepUntil(ctx context.Context, t time.Time) error {
	timer := time.NewTimer(time.Until(t))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// drainStats accumulates counters across lanes.
type drainStats struct {
	mu sync.Mutex
	domain.DrainStats
}

func (s *drainStats) claimed(host string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Claimed += n
	h := s.ByHost[host]
	h.Claimed += n
	s.ByHost[host] = h
}

func (s *drainStats) completed(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Completed++
	h := s.ByHost[host]
	h.Completed++
	s.ByHost[host] = h
}

func (s *drainStats) failed(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failed++
	h := s.ByHost[host]
	h.Failed++
	s.ByHost[host] = h
}

func (s *drainStats) retried(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Retried++
	h := s.ByHost[host]
	h.Retried++
	s.ByHost[host] = h
}

func (s *drainStats) snapshot(start time.Time) *domain.DrainStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.DrainStats
	out.ByHost = make(map[string]domain.HostStats, len(s.ByHost))
	for k, v := range s.ByHost {
		out.ByHost[k] = v
	}
	out.Duration = time.Since(start)
	return &out
}
