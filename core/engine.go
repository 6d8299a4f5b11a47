package core

import (
	"sync"
	"time"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/constitution/metrics"
	"github.com/axiomesh/constitution/repo"
)

// Engine drives registration, promotions and governance proposals on top
// of a Repository.
type Engine struct {
	repo     Repository
	cfg      repo.Governance
	logger   logrus.FieldLogger
	verifier SignatureVerifier
	oracle   Oracle
	metrics  *metrics.Metrics
	now      func() time.Time

	locks *keyedMutex
}

type Option func(*Engine)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithVerifier(v SignatureVerifier) Option {
	return func(e *Engine) {
		e.verifier = v
	}
}

func WithOracle(o Oracle) Option {
	return func(e *Engine) {
		e.oracle = o
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock replaces time.Now, mostly for tests that need to cross a
// voting deadline.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(repository Repository, cfg repo.Governance, opts ...Option) (*Engine, error) {
	if repository == nil {
		return nil, errors.New("repository is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		repo:  repository,
		cfg:   cfg,
		now:   time.Now,
		locks: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		logger := log.New()
		logger.SetLevel(log.ParseLevel("info"))
		e.logger = logger
	}
	return e, nil
}

// Tiers returns a registry reading through the engine's repository.
func (e *Engine) Tiers() *TierRegistry {
	return e.tierRegistry(e.repo)
}

// Eligibility returns a checker reading through the engine's repository.
func (e *Engine) Eligibility() *EligibilityChecker {
	return NewEligibilityChecker(e.repo)
}

func (e *Engine) Config() repo.Governance {
	return e.cfg
}

func (e *Engine) tierRegistry(r Repository) *TierRegistry {
	return NewTierRegistry(r, e.cfg.DefaultPromotionThreshold, e.now)
}

// keyedMutex serializes work per key and drops idle entries.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
