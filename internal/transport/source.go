package transport

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/rcdrive/internal/groutine"
)

// DefaultPollInterval is the telemetry polling cadence.
const DefaultPollInterval = 500 * time.Millisecond

// Source delivers inbound telemetry payloads. A transport picks one variant
// during setup and keeps it for the life of the link.
type Source interface {
	Start(ctx context.Context, deliver func([]byte)) error
	Stop()
	Mode() string
}

// NotifySource is a push source backed by a subscription.
type NotifySource struct {
	subscribe   func(deliver func([]byte)) error
	unsubscribe func() error
	logger      *logrus.Logger

	mu     sync.Mutex
	active bool
}

// NewNotifySource creates a push source. unsubscribe may be nil.
func NewNotifySource(subscribe func(func([]byte)) error, unsubscribe func() error, logger *logrus.Logger) *NotifySource {
	if logger == nil {
		logger = logrus.New()
	}
	return &NotifySource{subscribe: subscribe, unsubscribe: unsubscribe, logger: logger}
}

func (s *NotifySource) Mode() string { return ReceptionNotify }

// Start subscribes. ctx is unused because the subscription lives until Stop.
func (s *NotifySource) Start(_ context.Context, deliver func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil
	}
	if err := s.subscribe(deliver); err != nil {
		return err
	}
	s.active = true
	return nil
}

// Stop unsubscribes. Unsubscribe failures are logged only.
func (s *NotifySource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	if s.unsubscribe == nil {
		return
	}
	if err := s.unsubscribe(); err != nil {
		s.logger.WithError(err).Debug("Unsubscribe failed")
	}
}

// PollSource calls a read function on a fixed cadence.
type PollSource struct {
	name     string
	interval time.Duration
	read     func(ctx context.Context) ([]byte, error)
	logger   *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPollSource creates a polling source. A zero interval uses
// DefaultPollInterval.
func NewPollSource(name string, interval time.Duration, read func(context.Context) ([]byte, error), logger *logrus.Logger) *PollSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &PollSource{name: name, interval: interval, read: read, logger: logger}
}

func (s *PollSource) Mode() string { return ReceptionPoll }

// Start launches the poller. Read errors are logged and the next tick retries.
func (s *PollSource) Start(ctx context.Context, deliver func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	groutine.Go(pollCtx, s.name, func(ctx context.Context) {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			data, err := s.read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.WithFields(logrus.Fields{
						"poller": s.name,
						"error":  err,
					}).Debug("Telemetry poll failed")
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if len(data) > 0 {
				deliver(data)
			}
		}
	})
	return nil
}

// Stop cancels the poller and waits for it to exit. It must not be called
// from inside deliver.
func (s *PollSource) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
