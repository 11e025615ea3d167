package config

import (
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Source serves the current configuration and reloads it when the file changes.
// Readers always get a copy, so a reload never mutates a snapshot in use.
type Source struct {
	mu          sync.RWMutex
	v           *viper.Viper
	cfg         Config
	logger      *zap.Logger
	subscribers []func(Config)
}

// NewSource reads the config file under path and returns a Source for it.
func NewSource(path string, logger *zap.Logger) (*Source, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Source{v: v, cfg: cfg, logger: logger.Named("config")}, nil
}

// NewStaticSource wraps an already built Config. It never reloads.
func NewStaticSource(cfg Config) *Source {
	cfg.applyDefaults()
	return &Source{cfg: cfg, logger: zap.NewNop()}
}

// Config returns a snapshot of the whole configuration.
func (s *Source) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.cfg
	cfg.Symbols = append([]SymbolConfig(nil), s.cfg.Symbols...)
	return cfg
}

// Symbol returns a fresh snapshot of one coin's settings.
func (s *Source) Symbol(coin string) (SymbolConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Symbol(coin)
}

// Symbols returns a snapshot of every configured coin.
func (s *Source) Symbols() []SymbolConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SymbolConfig(nil), s.cfg.Symbols...)
}

// Defaults returns the global defaults section.
func (s *Source) Defaults() Defaults {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Defaults
}

// OnChange registers fn to be called after every successful reload.
func (s *Source) OnChange(fn func(Config)) {
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.mu.Unlock()
}

// Update replaces the configuration and notifies subscribers. Only the
// symbol list is validated here; file reloads are fully validated on decode.
func (s *Source) Update(cfg Config) error {
	cfg.applyDefaults()
	if err := cfg.validateSymbols(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	subs := append([]func(Config){}, s.subscribers...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(s.Config())
	}
	return nil
}

// UpsertSymbol adds or replaces the settings of a single coin.
func (s *Source) UpsertSymbol(sc SymbolConfig) error {
	cfg := s.Config()
	sc.Coin = strings.ToUpper(sc.Coin)
	replaced := false
	for i := range cfg.Symbols {
		if cfg.Symbols[i].Coin == sc.Coin {
			cfg.Symbols[i] = sc
			replaced = true
		}
	}
	if !replaced {
		cfg.Symbols = append(cfg.Symbols, sc)
	}
	return s.Update(cfg)
}

// Watch starts watching the config file. A reload that fails to decode or
// validate keeps the previous configuration.
func (s *Source) Watch() {
	if s.v == nil {
		return
	}
	s.v.OnConfigChange(func(e fsnotify.Event) {
		s.logger.Info("Config file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		cfg, err := decode(s.v)
		if err != nil {
			s.logger.Error("Failed to reload config, keeping previous", zap.Error(err))
			return
		}
		if err := s.Update(cfg); err != nil {
			s.logger.Error("Failed to apply reloaded config", zap.Error(err))
		}
	})
	s.v.WatchConfig()
}
