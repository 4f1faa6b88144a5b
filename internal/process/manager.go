package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	PIDFilename = ".ccx.pid"
	RefFilename = ".ccx.refs"

	DefaultStartTimeout = 10 * time.Second
	stopTimeout         = 5 * time.Second
	pollInterval        = 100 * time.Millisecond
)

// Manager tracks the background gateway through a PID file and counts the
// `ccx code` sessions sharing it through a reference file.
type Manager struct {
	pidFile string
	refFile string
	client  *http.Client
	logger  *slog.Logger
	mu      sync.RWMutex
}

func NewManager(baseDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		pidFile: filepath.Join(baseDir, PIDFilename),
		refFile: filepath.Join(baseDir, RefFilename),
		client:  &http.Client{Timeout: time.Second},
		logger:  logger,
	}
}

func (m *Manager) PIDFile() string {
	return m.pidFile
}

func (m *Manager) WritePID() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.pidFile), 0o750); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}

	pid := strconv.Itoa(os.Getpid())

	return os.WriteFile(m.pidFile, []byte(pid), 0o600)
}

func (m *Manager) ReadPID() int {
	return m.readInt(m.pidFile)
}

// IsRunning reports whether the recorded process is alive. A stale PID file
// is removed.
func (m *Manager) IsRunning() bool {
	pid := m.ReadPID()
	if pid == 0 {
		return false
	}

	if err := syscall.Kill(pid, 0); err != nil {
		m.CleanupPID()
		return false
	}

	return true
}

func (m *Manager) Stop() error {
	pid := m.ReadPID()
	if pid == 0 {
		return nil
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM to process %d: %w", pid, err)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) && m.IsRunning() {
		time.Sleep(pollInterval)
	}

	m.CleanupPID()

	return nil
}

func (m *Manager) CleanupPID() {
	m.remove(m.pidFile)
}

func (m *Manager) IncrementRef() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeRef(m.readIntLocked(m.refFile) + 1)
}

func (m *Manager) DecrementRef() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c := m.readIntLocked(m.refFile); c > 0 {
		m.writeRef(c - 1)
	}
}

func (m *Manager) ReadRef() int {
	return m.readInt(m.refFile)
}

func (m *Manager) CleanupRef() {
	m.remove(m.refFile)
}

// WaitForService polls healthURL until it answers 200 or ctx ends.
func (m *Manager) WaitForService(ctx context.Context, healthURL string) bool {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if m.healthy(ctx, healthURL) {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (m *Manager) healthy(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// StartServiceIfNeeded launches `<self> start` in the background unless a
// gateway is already answering on healthURL. It reports whether it started
// one.
func (m *Manager) StartServiceIfNeeded(ctx context.Context, healthURL string) (bool, error) {
	if m.IsRunning() || m.healthy(ctx, healthURL) {
		return false, nil
	}

	cmd := exec.Command(os.Args[0], "start")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("start service: %w", err)
	}

	m.logger.Debug("Spawned background gateway", "pid", cmd.Process.Pid)

	// The child outlives us; release it so it is not left as a zombie.
	_ = cmd.Process.Release()

	ctx, cancel := context.WithTimeout(ctx, DefaultStartTimeout)
	defer cancel()

	if !m.WaitForService(ctx, healthURL) {
		return false, errors.New("service startup timeout")
	}

	return true, nil
}

func (m *Manager) readInt(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.readIntLocked(path)
}

func (m *Manager) readIntLocked(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}

	return n
}

func (m *Manager) writeRef(count int) {
	if err := os.MkdirAll(filepath.Dir(m.refFile), 0o750); err != nil {
		m.logger.Warn("Failed to create reference directory", "error", err)
		return
	}

	if err := os.WriteFile(m.refFile, []byte(strconv.Itoa(count)), 0o600); err != nil {
		m.logger.Warn("Failed to write reference file", "path", m.refFile, "error", err)
	}
}

func (m *Manager) remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Failed to remove file", "path", path, "error", err)
	}
}
