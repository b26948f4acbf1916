package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"news_processor/internal/domain"
	"news_processor/internal/service/mocks"
)

type WorkerTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	links     *mocks.MockLinkStore
	processor *mocks.MockProcessor
	publisher *mocks.MockPublisher

	logger *slog.Logger
	cfg    Config
}

func (s *WorkerTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.links = mocks.NewMockLinkStore(s.ctrl)
	s.processor = mocks.NewMockProcessor(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.cfg = Config{
		SameDomainDelay:      time.Millisecond,
		MaxConcurrentDomains: 3,
		MaxRetries:           2,
		ProcessingTimeout:    5 * time.Second,
		ClaimBatch:           10,
		BackoffBase:          time.Millisecond,
	}
}

func (s *WorkerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestWorkerTestSuite(t *testing.T) {
	suite.Run(t, new(WorkerTestSuite))
}

func (s *WorkerTestSuite) newWorker() *Worker {
	return New(s.links, s.processor, nil, s.logger, s.cfg)
}

func pendingLink(id int64, host, url string, retries int) domain.Link {
	return domain.Link{
		ID:         id,
		URL:        url,
		Host:       host,
		Status:     domain.StatusProcessing, // as returned by a claim
		RetryCount: retries,
	}
}

func hostQueue(host string, count int) domain.HostQueue {
	return domain.HostQueue{Host: host, PendingCount: count, OldestAt: time.Now()}
}

func content(title string) *domain.ProcessedContent {
	return &domain.ProcessedContent{Title: &title}
}

func (s *WorkerTestSuite) TestProcessPending_PerHostFIFO() {
	ctx := context.Background()

	claimed := []domain.Link{
		pendingLink(1, "example.com", "https://example.com/first", 0),
		pendingLink(2, "example.com", "https://example.com/second", 0),
		pendingLink(3, "example.com", "https://example.com/third", 0),
	}

	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return([]domain.HostQueue{hostQueue("example.com", 3)}, nil)
	s.links.EXPECT().ClaimNextPending(gomock.Any(), "example.com", 10).Return(claimed, nil)
	s.links.EXPECT().ClaimNextPending(gomock.Any(), "example.com", 10).Return(nil, nil)
	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return(nil, nil)
	s.links.EXPECT().NextRetryAt(gomock.Any()).Return(nil, nil)

	var order []string
	s.processor.EXPECT().Process(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, url string) (*domain.ProcessedContent, error) {
			order = append(order, url)
			return content("t"), nil
		},
	).Times(3)

	s.links.EXPECT().MarkCompleted(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(3)

	stats, err := s.newWorker().ProcessPending(ctx)

	s.NoError(err)
	s.Equal(3, stats.Claimed)
	s.Equal(3, stats.Completed)
	s.Equal([]string{
		"https://example.com/first",
		"https://example.com/second",
		"https://example.com/third",
	}, order)
}

func (s *WorkerTestSuite) TestProcessPending_RetryThenCompleted() {
	ctx := context.Background()

	link := pendingLink(1, "example.com", "https://example.com/flaky", 0)

	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return([]domain.HostQueue{hostQueue("example.com", 1)}, nil)
	s.links.EXPECT().ClaimNextPending(gomock.Any(), "example.com", 10).Return([]domain.Link{link}, nil)
	s.processor.EXPECT().Process(gomock.Any(), link.URL).Return(nil, errors.New("boom"))

	var notBefore time.Time
	s.links.EXPECT().MarkFailed(gomock.Any(), int64(1), "boom", false, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ int64, _ string, _ bool, nb *time.Time) error {
			s.Require().NotNil(nb)
			notBefore = *nb
			return nil
		},
	)
	s.links.EXPECT().ClaimNextPending(gomock.Any(), "example.com", 10).Return(nil, nil)

	// Second round: the link is claimable again with its retry recorded.
	retried := pendingLink(1, "example.com", "https://example.com/flaky", 1)
	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return([]domain.HostQueue{hostQueue("example.com", 1)}, nil)
	s.links.EXPECT().ClaimNextPending(gomock.Any(), "example.com", 10).Return([]domain.Link{retried}, nil)
	s.processor.EXPECT().Process(gomock.Any(), link.URL).Return(content("ok"), nil)
	s.links.EXPECT().MarkCompleted(gomock.Any(), int64(1), gomock.Any()).Return(nil)
	s.links.EXPECT().ClaimNextPending(gomock.Any(), "example.com", 10).Return(nil, nil)

	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return(nil, nil)
	s.links.EXPECT().NextRetryAt(gomock.Any()).Return(nil, nil)

	stats, err := s.newWorker().ProcessPending(ctx)

	s.NoError(err)
	s.Equal(1, stats.Retried)
	s.Equal(1, stats.Completed)
	s.False(notBefore.Before(time.Now().Add(-time.Second)))
}

func (s *WorkerTestSuite) TestProcessPending_RetryCapEnforced() {
	ctx := context.Background()

	// MaxRetries=2: three attempts total, terminal failure carries retry
	// count 2, never higher.
	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return([]domain.HostQueue{hostQueue("example.com", 1)}, nil)

	for attempt := 0; attempt <= 2; attempt++ {
		link := pendingLink(1, "example.com", "https://example.com/broken", attempt)
		s.links.EXPECT().ClaimNextPending(gomock.Any(), "example.com", 10).Return([]domain.Link{link}, nil)
		s.processor.EXPECT().Process(gomock.Any(), link.URL).Return(nil, errors.New("always fails"))
		if attempt < 2 {
			s.links.EXPECT().MarkFailed(gomock.Any(), int64(1), "always fails", false, gomock.Any()).Return(nil)
		} else {
			s.links.EXPECT().MarkFailed(gomock.Any(), int64(1), "always fails", true, gomock.Nil()).Return(nil)
		}
	}

	s.links.EXPECT().ClaimNextPending(gomock.Any(), "example.com", 10).Return(nil, nil)
	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return(nil, nil)
	s.links.EXPECT().NextRetryAt(gomock.Any()).Return(nil, nil)

	stats, err := s.newWorker().ProcessPending(ctx)

	s.NoError(err)
	s.Equal(2, stats.Retried)
	s.Equal(1, stats.Failed)
	s.Equal(0, stats.Completed)
}

func (s *WorkerTestSuite) TestProcessPending_BackoffMonotonic() {
	ctx := context.Background()
	s.cfg.BackoffBase = 100 * time.Millisecond

	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return([]domain.HostQueue{hostQueue("example.com", 1)}, nil)

	var waits []time.Duration
	for attempt := 0; attempt < 2; attempt++ {
		link := pendingLink(1, "example.com", "https://example.com/broken", attempt)
		s.links.EXPECT().ClaimNextPending(gomock.Any(), "example.com", 10).Return([]domain.Link{link}, nil)
		s.processor.EXPECT().Process(gomock.Any(), link.URL).Return(nil, errors.New("boom"))
		s.links.EXPECT().MarkFailed(gomock.Any(), int64(1), "boom", false, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ int64, _ string, _ bool, nb *time.Time) error {
				waits = append(waits, time.Until(*nb))
				return nil
			},
		)
	}

	link := pendingLink(1, "example.com", "https://example.com/broken", 2)
	s.links.EXPECT().ClaimNextPending(gomock.Any(), "example.com", 10).Return([]domain.Link{link}, nil)
	s.processor.EXPECT().Process(gomock.Any(), link.URL).Return(nil, errors.New("boom"))
	s.links.EXPECT().MarkFailed(gomock.Any(), int64(1), "boom", true, gomock.Nil()).Return(nil)

	s.links.EXPECT().ClaimNextPending(gomock.Any(), "example.com", 10).Return(nil, nil)
	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return(nil, nil)
	s.links.EXPECT().NextRetryAt(gomock.Any()).Return(nil, nil)

	_, err := s.newWorker().ProcessPending(ctx)

	s.NoError(err)
	s.Require().Len(waits, 2)
	s.Greater(waits[1], waits[0])
}

func (s *WorkerTestSuite) TestProcessPending_BoundedParallelism() {
	ctx := context.Background()
	s.cfg.MaxConcurrentDomains = 2
	s.cfg.SameDomainDelay = 0

	hosts := []domain.HostQueue{
		hostQueue("a.com", 1),
		hostQueue("b.com", 1),
		hostQueue("c.com", 1),
		hostQueue("d.com", 1),
	}

	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return(hosts, nil)
	for i, h := range hosts {
		host := h.Host
		link := pendingLink(int64(i+1), host, "https://"+host+"/x", 0)
		s.links.EXPECT().ClaimNextPending(gomock.Any(), host, 10).Return([]domain.Link{link}, nil)
		s.links.EXPECT().ClaimNextPending(gomock.Any(), host, 10).Return(nil, nil)
	}
	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return(nil, nil)
	s.links.EXPECT().NextRetryAt(gomock.Any()).Return(nil, nil)

	var inFlight, peak int64
	s.processor.EXPECT().Process(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, string) (*domain.ProcessedContent, error) {
			n := atomic.AddInt64(&inFlight, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			return content("t"), nil
		},
	).Times(4)

	s.links.EXPECT().MarkCompleted(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(4)

	stats, err := s.newWorker().ProcessPending(ctx)

	s.NoError(err)
	s.Equal(4, stats.Completed)
	s.LessOrEqual(atomic.LoadInt64(&peak), int64(2))
}

// Twenty links over four hosts (8/6/4/2) with three lanes: wall clock is
// bounded by the busiest host's serial chain, not by the total link count.
func (s *WorkerTestSuite) TestProcessPending_WallClockBoundedByBusiestHost() {
	ctx := context.Background()
	delay := 30 * time.Millisecond
	s.cfg.SameDomainDelay = delay
	s.cfg.MaxConcurrentDomains = 3

	counts := map[string]int{"a.com": 8, "b.com": 6, "c.com": 4, "d.com": 2}
	hosts := []domain.HostQueue{
		hostQueue("a.com", 8),
		hostQueue("b.com", 6),
		hostQueue("c.com", 4),
		hostQueue("d.com", 2),
	}

	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return(hosts, nil)
	id := int64(0)
	total := 0
	for _, h := range hosts {
		host := h.Host
		links := make([]domain.Link, 0, counts[host])
		for i := 0; i < counts[host]; i++ {
			id++
			links = append(links, pendingLink(id, host, "https://"+host+"/x", 0))
		}
		total += len(links)
		s.links.EXPECT().ClaimNextPending(gomock.Any(), host, 10).Return(links, nil)
		s.links.EXPECT().ClaimNextPending(gomock.Any(), host, 10).Return(nil, nil)
	}
	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return(nil, nil)
	s.links.EXPECT().NextRetryAt(gomock.Any()).Return(nil, nil)

	s.processor.EXPECT().Process(gomock.Any(), gomock.Any()).Return(content("t"), nil).Times(total)
	s.links.EXPECT().MarkCompleted(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(total)

	start := time.Now()
	stats, err := s.newWorker().ProcessPending(ctx)
	elapsed := time.Since(start)

	s.NoError(err)
	s.Equal(20, stats.Completed)
	// Busiest host needs 7 inter-request waits; a serial run would need 19.
	s.GreaterOrEqual(elapsed, 7*delay)
	s.Less(elapsed, 15*delay)
}

func (s *WorkerTestSuite) TestProcessPending_PublishesTerminalEvents() {
	ctx := context.Background()
	s.cfg.MaxRetries = 0

	worker := New(s.links, s.processor, s.publisher, s.logger, s.cfg)

	good := pendingLink(1, "example.com", "https://example.com/good", 0)
	bad := pendingLink(2, "example.com", "https://example.com/bad", 0)

	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return([]domain.HostQueue{hostQueue("example.com", 2)}, nil)
	s.links.EXPECT().ClaimNextPending(gomock.Any(), "example.com", 10).Return([]domain.Link{good, bad}, nil)
	s.links.EXPECT().ClaimNextPending(gomock.Any(), "example.com", 10).Return(nil, nil)
	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return(nil, nil)
	s.links.EXPECT().NextRetryAt(gomock.Any()).Return(nil, nil)

	s.processor.EXPECT().Process(gomock.Any(), good.URL).Return(content("ok"), nil)
	s.processor.EXPECT().Process(gomock.Any(), bad.URL).Return(nil, errors.New("boom"))

	s.links.EXPECT().MarkCompleted(gomock.Any(), int64(1), gomock.Any()).Return(nil)
	s.links.EXPECT().MarkFailed(gomock.Any(), int64(2), "boom", true, gomock.Nil()).Return(nil)

	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, link *domain.Link, c *domain.ProcessedContent) error {
			s.Equal(int64(1), link.ID)
			s.Equal(domain.StatusCompleted, link.Status)
			s.NotNil(c)
			return nil
		},
	)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Nil()).DoAndReturn(
		func(_ context.Context, link *domain.Link, _ *domain.ProcessedContent) error {
			s.Equal(int64(2), link.ID)
			s.Equal(domain.StatusFailed, link.Status)
			return nil
		},
	)

	stats, err := worker.ProcessPending(ctx)

	s.NoError(err)
	s.Equal(1, stats.Completed)
	s.Equal(1, stats.Failed)
}

func (s *WorkerTestSuite) TestProcessPending_WaitsForBackoffGate() {
	ctx := context.Background()

	// No eligible host yet, one link gated slightly in the future.
	next := time.Now().Add(20 * time.Millisecond)
	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return(nil, nil)
	s.links.EXPECT().NextRetryAt(gomock.Any()).Return(&next, nil)

	link := pendingLink(1, "example.com", "https://example.com/x", 1)
	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return([]domain.HostQueue{hostQueue("example.com", 1)}, nil)
	s.links.EXPECT().ClaimNextPending(gomock.Any(), "example.com", 10).Return([]domain.Link{link}, nil)
	s.processor.EXPECT().Process(gomock.Any(), link.URL).Return(content("ok"), nil)
	s.links.EXPECT().MarkCompleted(gomock.Any(), int64(1), gomock.Any()).Return(nil)
	s.links.EXPECT().ClaimNextPending(gomock.Any(), "example.com", 10).Return(nil, nil)
	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return(nil, nil)
	s.links.EXPECT().NextRetryAt(gomock.Any()).Return(nil, nil)

	start := time.Now()
	stats, err := s.newWorker().ProcessPending(ctx)

	s.NoError(err)
	s.Equal(1, stats.Completed)
	s.GreaterOrEqual(time.Since(start), 20*time.Millisecond)
}

func (s *WorkerTestSuite) TestProcessPending_StoreFailureAborts() {
	ctx := context.Background()

	s.links.EXPECT().ListPendingHosts(gomock.Any()).Return(nil, errors.New("connection refused"))

	_, err := s.newWorker().ProcessPending(ctx)

	s.Error(err)
	s.Contains(err.Error(), "connection refused")
}

func (s *WorkerTestSuite) TestProcessPending_CanceledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.newWorker().ProcessPending(ctx)

	s.ErrorIs(err, context.Canceled)
}
