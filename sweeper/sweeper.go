// Package sweeper periodically resolves promotions whose voting window has
// closed and nobody touched since.
package sweeper

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/axiomesh/axiom-kit/storage"
	"github.com/axiomesh/axiom-kit/storage/leveldb"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	defaultInterval = 5 * time.Minute

	lastSweepKey     = "lastSweepAt"
	totalResolvedKey = "totalResolved"
)

// Resolver is the part of the engine the sweeper drives.
type Resolver interface {
	ResolveExpiredPromotions(ctx context.Context) (int, error)
}

type Config struct {
	Resolver Resolver
	// State is optional; when nil nothing is persisted between runs.
	State    storage.Storage
	Interval time.Duration
	Logger   logrus.FieldLogger
}

type Sweeper struct {
	resolver Resolver
	state    storage.Storage
	interval time.Duration
	logger   logrus.FieldLogger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// OpenState opens the leveldb directory holding sweep bookkeeping.
func OpenState(dir string) (storage.Storage, error) {
	db, err := leveldb.New(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "open sweeper state %s", dir)
	}
	return db, nil
}

func NewSweeper(cfg Config) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Sweeper{
		resolver: cfg.Resolver,
		state:    cfg.State,
		interval: interval,
		logger:   logger.WithField("component", "sweeper"),
		now:      time.Now,
	}
}

// Start runs a sweep immediately and then once per interval until ctx is
// done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)

	s.logger.WithField("interval", s.interval).Info("sweeper started")
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	resolved, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.WithField("err", err).Error("sweep failed")
	}
	if resolved > 0 {
		s.logger.WithField("resolved", resolved).Info("swept expired promotions")
	}
}

// RunOnce performs a single sweep and records it.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if s.resolver == nil {
		return 0, errors.New("sweeper has no resolver")
	}
	resolved, err := s.resolver.ResolveExpiredPromotions(ctx)
	s.record(resolved)
	return resolved, err
}

func (s *Sweeper) record(resolved int) {
	if s.state == nil {
		return
	}
	s.state.Put([]byte(lastSweepKey), encodeUint64(uint64(s.now().UnixNano())))
	if resolved > 0 {
		total := decodeUint64(s.state.Get([]byte(totalResolvedKey))) + uint64(resolved)
		s.state.Put([]byte(totalResolvedKey), encodeUint64(total))
	}
}

// LastSweep returns when the last sweep finished and how many promotions
// all recorded sweeps resolved. ok is false if no sweep was ever recorded.
func (s *Sweeper) LastSweep() (at time.Time, totalResolved uint64, ok bool) {
	if s.state == nil {
		return time.Time{}, 0, false
	}
	data := s.state.Get([]byte(lastSweepKey))
	if data == nil {
		return time.Time{}, 0, false
	}
	at = time.Unix(0, int64(decodeUint64(data)))
	return at, decodeUint64(s.state.Get([]byte(totalResolvedKey))), true
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(data []byte) uint64 {
	if len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}
