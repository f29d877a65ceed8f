// Package browser starts a Chromium with remote debugging when none is
// listening on the configured DevTools port.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"
)

const defaultReadyTimeout = 15 * time.Second

// Config holds browser launch configuration.
type Config struct {
	CDPAddress string
	CDPPort    int
	StartURL   string
	// ProfileDir defaults to <user cache dir>/tabpanel/profile.
	ProfileDir   string
	WindowSize   string
	ReadyTimeout time.Duration
}

// Launcher owns a browser process it started itself.
type Launcher struct {
	cfg      Config
	lookPath func() (string, error)

	mu      sync.Mutex
	cmd     *exec.Cmd
	waitErr chan error
}

func NewLauncher(cfg Config) *Launcher {
	if cfg.WindowSize == "" {
		cfg.WindowSize = "1440,900"
	}
	if cfg.StartURL == "" {
		cfg.StartURL = "about:blank"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.ProfileDir == "" {
		cfg.ProfileDir = defaultProfileDir()
	}
	return &Launcher{cfg: cfg, lookPath: detectBrowser}
}

func defaultProfileDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "tabpanel", "profile")
}

func detectBrowser() (string, error) {
	if p := os.Getenv("CHROME_PATH"); p != "" {
		return p, nil
	}
	for _, name := range []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", fmt.Errorf("no supported browser found (set CHROME_PATH or install chromium)")
}

func (l *Launcher) hostPort() string {
	return net.JoinHostPort(l.cfg.CDPAddress, strconv.Itoa(l.cfg.CDPPort))
}

func (l *Launcher) args() []string {
	return []string{
		"--remote-debugging-port=" + strconv.Itoa(l.cfg.CDPPort),
		"--remote-debugging-address=" + l.cfg.CDPAddress,
		"--user-data-dir=" + l.cfg.ProfileDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
		"--window-size=" + l.cfg.WindowSize,
		l.cfg.StartURL,
	}
}

// Launch starts the browser unless something already listens on the
// DevTools port, then waits for /json/version to answer.
func (l *Launcher) Launch(ctx context.Context) error {
	if portOpen(l.hostPort()) {
		slog.Info("browser already listening, skipping launch", "addr", l.hostPort())
		return nil
	}

	browserPath, err := l.lookPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	cmd := exec.Command(browserPath, l.args()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	l.mu.Lock()
	l.cmd = cmd
	l.waitErr = waitErr
	l.mu.Unlock()
	slog.Info("browser process started", "path", browserPath, "pid", cmd.Process.Pid, "profile", l.cfg.ProfileDir)

	if err := l.waitReady(ctx, waitErr); err != nil {
		l.Stop()
		return fmt.Errorf("waiting for CDP: %w", err)
	}
	slog.Info("CDP endpoint ready", "addr", l.hostPort())
	return nil
}

func (l *Launcher) waitReady(ctx context.Context, exited <-chan error) error {
	url := "http://" + l.hostPort() + "/json/version"
	deadline := time.NewTimer(l.cfg.ReadyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	client := &http.Client{Timeout: time.Second}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("CDP did not become ready within %s at %s", l.cfg.ReadyTimeout, url)
		case err := <-exited:
			return fmt.Errorf("browser exited early: %v", err)
		case <-ticker.C:
			resp, err := client.Get(url)
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// Running reports whether this launcher started a browser that has not been
// stopped.
func (l *Launcher) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cmd != nil
}

// Stop sends SIGTERM and escalates to SIGKILL after five seconds. A browser
// the launcher did not start is left alone.
func (l *Launcher) Stop() {
	l.mu.Lock()
	cmd, waitErr := l.cmd, l.waitErr
	l.cmd, l.waitErr = nil, nil
	l.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	slog.Info("stopping browser", "pid", cmd.Process.Pid)
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-waitErr:
		slog.Info("browser stopped")
	case <-time.After(5 * time.Second):
		slog.Warn("browser did not exit, sending SIGKILL")
		_ = cmd.Process.Kill()
		<-waitErr
	}
}

func portOpen(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
