package app

import (
	"net"
	"sync"

	"github.com/NodePath81/pmugateway/internal/config"
	"github.com/NodePath81/pmugateway/internal/util"
)

// Supervisor owns the running gateway and rebuilds it from the config file
// on Restart.
type Supervisor struct {
	configPath string
	logger     util.Logger
	newLogger  func(level, format string) util.Logger
	mu         sync.Mutex
	runtime    *Runtime
}

func NewSupervisor(configPath string, logger util.Logger) *Supervisor {
	return &Supervisor{
		configPath: configPath,
		logger:     logger,
		newLogger:  util.NewLogger,
	}
}

func (s *Supervisor) Start() error {
	cfg, err := config.LoadConfig(s.configPath)
	if err != nil {
		return err
	}
	logger := s.newLogger(cfg.Logging.Level, cfg.Logging.Format).With("hostname", cfg.Hostname)
	runtime, err := NewRuntime(cfg, logger)
	if err != nil {
		return err
	}
	if err := runtime.Start(); err != nil {
		return err
	}
	s.mu.Lock()
	s.runtime = runtime
	s.mu.Unlock()
	return nil
}

// Restart stops the current gateway and starts a new one from the config
// file. Configured estimators do not survive a restart.
func (s *Supervisor) Restart() error {
	s.mu.Lock()
	current := s.runtime
	s.runtime = nil
	s.mu.Unlock()

	if current != nil {
		current.Stop()
	}
	s.logger.Info("restarting gateway", "config", s.configPath)
	return s.Start()
}

func (s *Supervisor) Stop() {
	s.mu.Lock()
	current := s.runtime
	s.runtime = nil
	s.mu.Unlock()
	if current != nil {
		current.Stop()
	}
}

// Addr is the running gateway's listening address, or nil.
func (s *Supervisor) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtime == nil {
		return nil
	}
	return s.runtime.Addr()
}
