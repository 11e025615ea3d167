// Package scheduler runs one polling task per active symbol.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"crypto-signal-bot-go/internal/coinmarketcap"
	"crypto-signal-bot-go/internal/config"
	"crypto-signal-bot-go/internal/database"
	"crypto-signal-bot-go/internal/metrics"
	"go.uber.org/zap"
)

var (
	ErrUnknownSymbol  = errors.New("symbol is not configured")
	ErrInactiveSymbol = errors.New("symbol is not active")
)

// Processor runs one pipeline pass for a symbol.
type Processor interface {
	Process(ctx context.Context, sc config.SymbolConfig) (bool, error)
}

// FetchStatus is the last observed activity of a symbol.
type FetchStatus struct {
	Symbol     string     `json:"symbol"`
	Running    bool       `json:"running"`
	Active     bool       `json:"active"`
	Interval   string     `json:"interval"`
	LastFetch  *time.Time `json:"last_fetch,omitempty"`
	LastSignal *time.Time `json:"last_signal,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	Runs       int64      `json:"runs"`
	Signals    int64      `json:"signals"`
}

type task struct {
	cancel   context.CancelFunc
	done     chan struct{}
	settings config.SymbolConfig
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Supervisor owns the symbol tasks. At most one task per symbol exists at
// any time; Restart waits for the old task to exit before spawning.
type Supervisor struct {
	mu    sync.Mutex
	tasks map[string]*task

	statusMu sync.Mutex
	status   map[string]*FetchStatus

	source   *config.Source
	proc     Processor
	sem      chan struct{}
	metrics  *metrics.Recorder
	logger   *zap.Logger
	interval func(config.SymbolConfig) time.Duration
	now      func() time.Time
}

// NewSupervisor creates a Supervisor. maxConcurrent bounds how many
// pipelines run at once across all symbols.
func NewSupervisor(source *config.Source, proc Processor, maxConcurrent int, recorder *metrics.Recorder, logger *zap.Logger) *Supervisor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Supervisor{
		tasks:    make(map[string]*task),
		status:   make(map[string]*FetchStatus),
		source:   source,
		proc:     proc,
		sem:      make(chan struct{}, maxConcurrent),
		metrics:  recorder,
		logger:   logger.Named("scheduler"),
		interval: config.SymbolConfig.FetchInterval,
		now:      time.Now,
	}
}

// Start spawns the task of symbol unless one is already running.
func (s *Supervisor) Start(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx, symbol)
}

func (s *Supervisor) startLocked(ctx context.Context, symbol string) error {
	sc, ok := s.source.Symbol(symbol)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	if !sc.Enabled() {
		return fmt.Errorf("%w: %s", ErrInactiveSymbol, sc.Coin)
	}
	if t, ok := s.tasks[sc.Coin]; ok && !t.finished() {
		return nil
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel, done: make(chan struct{}), settings: sc}
	s.tasks[sc.Coin] = t
	go s.loop(tctx, sc.Coin, t)

	s.logger.Info("Task started",
		zap.String("symbol", sc.Coin),
		zap.Duration("interval", s.interval(sc)))
	s.updateGauge()
	return nil
}

// Stop cancels the task of symbol and waits for it to exit.
func (s *Supervisor) Stop(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(symbol)
}

func (s *Supervisor) stopLocked(symbol string) {
	symbol = strings.ToUpper(symbol)
	t, ok := s.tasks[symbol]
	if !ok {
		return
	}
	t.cancel()
	<-t.done
	delete(s.tasks, symbol)
	s.logger.Info("Task stopped", zap.String("symbol", symbol))
	s.updateGauge()
}

// Restart replaces the task of symbol with one using its current settings.
// The lock is held from cancel to spawn so no two tasks poll the same symbol.
func (s *Supervisor) Restart(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(symbol)
	return s.startLocked(ctx, symbol)
}

// StartAll starts every enabled symbol.
func (s *Supervisor) StartAll(ctx context.Context) {
	for _, sc := range s.source.Symbols() {
		if !sc.Enabled() {
			continue
		}
		if err := s.Start(ctx, sc.Coin); err != nil {
			s.logger.Warn("Failed to start task", zap.String("symbol", sc.Coin), zap.Error(err))
		}
	}
}

// StopAll stops every task.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for symbol := range s.tasks {
		s.stopLocked(symbol)
	}
}

// Reconcile aligns running tasks with the current configuration: removed or
// disabled symbols are stopped, changed ones restarted and new ones started.
func (s *Supervisor) Reconcile(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]config.SymbolConfig)
	for _, sc := range s.source.Symbols() {
		if sc.Enabled() {
			wanted[sc.Coin] = sc
		}
	}

	for symbol, t := range s.tasks {
		sc, ok := wanted[symbol]
		switch {
		case !ok:
			s.stopLocked(symbol)
		case t.finished() || !sc.Equal(t.settings):
			s.stopLocked(symbol)
			if err := s.startLocked(ctx, symbol); err != nil {
				s.logger.Warn("Failed to restart task", zap.String("symbol", symbol), zap.Error(err))
			}
		}
	}
	for symbol := range wanted {
		if _, ok := s.tasks[symbol]; ok {
			continue
		}
		if err := s.startLocked(ctx, symbol); err != nil {
			s.logger.Warn("Failed to start task", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// Running returns the symbols with a live task, sorted.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

func (s *Supervisor) runningLocked() []string {
	out := make([]string, 0, len(s.tasks))
	for symbol, t := range s.tasks {
		if !t.finished() {
			out = append(out, symbol)
		}
	}
	sort.Strings(out)
	return out
}

// Status reports every configured symbol plus any symbol that still has a task.
func (s *Supervisor) Status() []FetchStatus {
	running := make(map[string]bool)
	for _, symbol := range s.Running() {
		running[symbol] = true
	}

	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	seen := make(map[string]bool)
	var out []FetchStatus
	for _, sc := range s.source.Symbols() {
		st := FetchStatus{Symbol: sc.Coin}
		if recorded, ok := s.status[sc.Coin]; ok {
			st = *recorded
		}
		st.Running = running[sc.Coin]
		st.Active = sc.Enabled()
		st.Interval = s.interval(sc).String()
		out = append(out, st)
		seen[sc.Coin] = true
	}
	for symbol := range running {
		if seen[symbol] {
			continue
		}
		st := FetchStatus{Symbol: symbol, Running: true}
		if recorded, ok := s.status[symbol]; ok {
			st = *recorded
			st.Running = true
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *Supervisor) loop(ctx context.Context, symbol string, t *task) {
	defer close(t.done)
	log := s.logger.With(zap.String("symbol", symbol))

	for {
		// Settings are re-read every pass so edits apply without a restart.
		sc, ok := s.source.Symbol(symbol)
		if !ok {
			log.Info("Symbol removed from config, task exiting")
			return
		}
		if !sc.Enabled() {
			log.Info("Symbol is no longer active, task exiting")
			return
		}

		if !s.runOnce(ctx, log, sc) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.interval(sc)):
		}
	}
}

// runOnce runs the processor under the concurrency limit. It returns false
// when ctx ended before the pass could run.
func (s *Supervisor) runOnce(ctx context.Context, log *zap.Logger, sc config.SymbolConfig) bool {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	defer func() { <-s.sem }()

	fired, err := s.proc.Process(ctx, sc)
	if ctx.Err() != nil {
		return false
	}
	s.record(sc.Coin, fired, err)
	if err != nil {
		log.Error("Pipeline failed", zap.String("stage", stage(err)), zap.Error(err))
	}
	return true
}

func stage(err error) string {
	var fe *coinmarketcap.FetchError
	var pe *database.PersistenceError
	switch {
	case errors.As(err, &fe):
		return "fetch"
	case errors.As(err, &pe):
		return "persist"
	default:
		return "pipeline"
	}
}

func (s *Supervisor) record(symbol string, fired bool, err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st, ok := s.status[symbol]
	if !ok {
		st = &FetchStatus{Symbol: symbol}
		s.status[symbol] = st
	}
	now := s.now().UTC()
	st.Runs++
	st.LastFetch = &now
	st.LastError = ""
	if err != nil {
		st.LastError = err.Error()
	}
	if fired {
		st.Signals++
		st.LastSignal = &now
	}
}

func (s *Supervisor) updateGauge() {
	s.metrics.SetRunningTasks(len(s.runningLocked()))
}
