// Package notify delivers user notifications raised by task actions. It is
// an async pipeline: bounded queue, worker pool, rate limit, one retry.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
)

// Sink delivers one notification to the user-facing channel.
type Sink interface {
	Send(ctx context.Context, text string) error
}

type Config struct {
	Enabled    bool
	Workers    int
	QueueSize  int
	RatePerSec int
}

type Service struct {
	cfg     Config
	sink    Sink
	log     zerolog.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	queue   chan string
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg Config, sink Sink, log zerolog.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	return &Service{
		cfg:  cfg,
		sink: sink,
		log:  log,
		// burst = rate per sec so short spikes don't block too hard
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled && s.sink != nil }

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || !s.Enabled() {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.queue = make(chan string, s.cfg.QueueSize)
	s.started = true

	s.wg.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		go func() {
			defer s.wg.Done()
			s.worker(runCtx)
		}()
	}
	s.log.Info().Int("workers", s.cfg.Workers).Msg("notifier started")
}

func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.log.Info().Msg("notifier stopped")
}

// Enqueue queues a notification without blocking the caller. A full queue
// is reported, not waited on: task execution must not stall on Telegram.
func (s *Service) Enqueue(text string) error {
	s.mu.Lock()
	started, queue := s.started, s.queue
	s.mu.Unlock()
	if !started {
		return ErrDisabled
	}
	select {
	case queue <- text:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			if err := s.deliver(ctx, text); err != nil {
				s.log.Warn().Err(err).Msg("notification delivery failed")
			}
		}
	}
}

func (s *Service) deliver(ctx context.Context, text string) error {
	err := s.sink.Send(ctx, text)
	if err == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return err
	case <-time.After(500 * time.Millisecond):
	}
	return s.sink.Send(ctx, text)
}
