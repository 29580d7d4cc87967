// Package nats runs or attaches to the NATS server behind the run queue.
package nats

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const (
	readyTimeout  = 10 * time.Second
	readyInterval = 200 * time.Millisecond
)

// Server manages a local NATS server instance, or a connection to one that was
// already listening.
type Server struct {
	binPath   string
	storeDir  string
	url       string
	logger    *zap.Logger
	cmd       *exec.Cmd
	nc        *nats.Conn
	js        jetstream.JetStream
	mu        sync.Mutex
	isRunning bool
}

// ServerConfig holds configuration for the NATS server
type ServerConfig struct {
	BinPath  string
	StoreDir string
	URL      string
	AutoDL   bool
}

// NewServer creates a new NATS server manager. The binary is only required
// when nothing is listening on cfg.URL yet.
func NewServer(ctx context.Context, cfg ServerConfig, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nats")

	s := &Server{
		binPath:  cfg.BinPath,
		storeDir: cfg.StoreDir,
		url:      cfg.URL,
		logger:   logger,
	}
	if s.isReachable() {
		return s, nil
	}

	binPath, err := EnsureNATSBinary(ctx, cfg.BinPath, cfg.AutoDL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure NATS binary: %w", err)
	}
	s.binPath = binPath
	return s, nil
}

// Start starts the NATS server if not already running
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	if s.isReachable() {
		s.logger.Info("NATS server already running", zap.String("url", s.url))
		if err := s.connect(); err != nil {
			return err
		}
		s.isRunning = true
		return nil
	}

	absStoreDir, err := filepath.Abs(s.storeDir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for store dir: %w", err)
	}
	if err := os.MkdirAll(absStoreDir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	host, port, err := parseNatsURL(s.url)
	if err != nil {
		return fmt.Errorf("failed to parse NATS URL: %w", err)
	}

	// Not bound to ctx: the server outlives the startup context.
	s.cmd = exec.Command(s.binPath,
		"-js",
		"-sd", absStoreDir,
		"-a", host,
		"-p", port,
	)
	s.cmd.Stdout = os.Stderr
	s.cmd.Stderr = os.Stderr

	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start NATS server: %w", err)
	}

	if err := s.waitReady(ctx); err != nil {
		s.kill()
		return err
	}
	if err := s.connect(); err != nil {
		s.kill()
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	s.isRunning = true
	s.logger.Info("NATS server started with JetStream", zap.String("url", s.url), zap.String("store", absStoreDir))
	return nil
}

func (s *Server) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	ticker := time.NewTicker(readyInterval)
	defer ticker.Stop()

	for {
		if s.isReachable() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("NATS server did not become ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Server) kill() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	if err := s.cmd.Process.Kill(); err != nil {
		s.logger.Warn("Failed to kill NATS process", zap.Error(err))
	}
	_ = s.cmd.Wait()
	s.cmd = nil
}

// Stop closes the connection and stops the server if this process started it.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}
	s.kill()

	s.js = nil
	s.isRunning = false

	s.logger.Info("NATS server stopped")
	return nil
}

// IsRunning returns true if NATS server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// GetConnection returns the NATS connection
func (s *Server) GetConnection() *nats.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nc
}

// GetJetStream returns the JetStream context
func (s *Server) GetJetStream() jetstream.JetStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.js
}

func (s *Server) isReachable() bool {
	host, port, err := parseNatsURL(s.url)
	if err != nil {
		return false
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (s *Server) connect() error {
	nc, err := nats.Connect(s.url,
		nats.Name("shoprobot"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	s.nc = nc
	s.js = js
	return nil
}

func parseNatsURL(natsURL string) (host, port string, err error) {
	u, err := url.Parse(natsURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid NATS URL %q: %w", natsURL, err)
	}
	if u.Scheme != "nats" || u.Hostname() == "" || u.Port() == "" {
		return "", "", fmt.Errorf("invalid NATS URL format: %s", natsURL)
	}
	return u.Hostname(), u.Port(), nil
}
