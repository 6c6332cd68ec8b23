package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"enviroflow/internal/config"
	"enviroflow/internal/database"
	"enviroflow/internal/poll"
)

// controllerPoller is what the scheduler needs from the poll pipeline.
type controllerPoller interface {
	Poll(ctx context.Context, controller database.Controller) poll.Result
}

// Scheduler drives the poll pipeline across all controllers on a fixed
// cadence, fanning the work out over a bounded worker pool. A controller
// whose previous poll is still running is skipped for that round, so a slow
// brand API can never stack overlapping polls for the same device.
type Scheduler struct {
	store     database.Store
	poller    controllerPoller
	publisher *Publisher
	latest    *LatestCache
	log       *slog.Logger
	interval  time.Duration
	workers   int

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewScheduler constructs the polling service.
func NewScheduler(store database.Store, poller controllerPoller, publisher *Publisher, latest *LatestCache, cfg config.AppConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		store:     store,
		poller:    poller,
		publisher: publisher,
		latest:    latest,
		log:       logger.With("component", "scheduler"),
		interval:  time.Duration(cfg.Intervals.PollSeconds) * time.Second,
		workers:   cfg.Intervals.Workers,
		inFlight:  make(map[string]bool),
	}
}

// Run starts the polling loop until cancellation.
func (s *Scheduler) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.log.Info("starting poll loop", "interval", s.interval, "workers", s.workers)

	if err := s.pollAll(ctx); err != nil {
		s.log.Error("initial poll round failed", "err", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopping poll loop", "reason", ctx.Err())
			return
		case <-ticker.C:
			if err := s.pollAll(ctx); err != nil {
				s.log.Error("poll round failed", "err", err)
			}
		}
	}
}

// PollOne runs the pipeline for a single controller on demand, honouring the
// same in-flight guard as the scheduled rounds.
func (s *Scheduler) PollOne(ctx context.Context, id string) (poll.Result, error) {
	controller, err := s.store.GetController(ctx, id)
	if err != nil {
		return poll.Result{}, fmt.Errorf("load controller %s: %w", id, err)
	}

	if !s.claim(controller.ID) {
		return poll.Result{}, fmt.Errorf("controller %s is already being polled", id)
	}
	defer s.release(controller.ID)

	result := s.poller.Poll(ctx, controller)
	s.fanout(ctx, &result)
	return result, nil
}

func (s *Scheduler) pollAll(ctx context.Context) error {
	controllers, err := s.store.ListControllers(ctx)
	if err != nil {
		return fmt.Errorf("list controllers: %w", err)
	}

	var targets []database.Controller
	for _, controller := range controllers {
		if controller.Brand == database.BrandCSVUpload {
			continue
		}
		if !s.claim(controller.ID) {
			s.log.Warn("skipping controller with poll still in flight", "controller_id", controller.ID)
			continue
		}
		targets = append(targets, controller)
	}

	if len(targets) == 0 {
		return nil
	}

	jobs := make(chan database.Controller)

	var wg sync.WaitGroup
	workers := s.workers
	if len(targets) < workers {
		workers = len(targets)
	}
	if workers < 1 {
		workers = 1
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for controller := range jobs {
				select {
				case <-ctx.Done():
					s.release(controller.ID)
					continue
				default:
				}

				result := s.poller.Poll(ctx, controller)
				s.fanout(ctx, &result)
				s.release(controller.ID)
			}
		}()
	}

	for _, controller := range targets {
		jobs <- controller
	}
	close(jobs)
	wg.Wait()

	return nil
}

// fanout pushes a poll outcome to the optional Redis and MQTT sinks. Both
// are best-effort: the readings are already durable in the store, so sink
// failures surface as result warnings, never as poll failures.
func (s *Scheduler) fanout(ctx context.Context, result *poll.Result) {
	if s.latest != nil && (result.Status == poll.StatusSuccess || result.Status == poll.StatusDegraded) {
		if err := s.latest.Refresh(ctx, result.ControllerID); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("refresh latest cache: %v", err))
			s.log.Warn("latest cache refresh failed", "controller_id", result.ControllerID, "err", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishResult(*result); err != nil {
			s.log.Warn("mqtt publish failed", "controller_id", result.ControllerID, "err", err)
		}
	}
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}
