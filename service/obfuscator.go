package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/cenkalti/backoff/v4"
	"github.com/clusterw/wgo-ui/config"
	"github.com/clusterw/wgo-ui/database/model"
	"github.com/clusterw/wgo-ui/logger"
	"github.com/clusterw/wgo-ui/util/common"
)

type ProcessState string

const (
	StateStopped  ProcessState = "stopped"
	StateStarting ProcessState = "starting"
	StateRunning  ProcessState = "running"
	StateCrashed  ProcessState = "crashed"
)

const (
	stopGracePeriod   = 5 * time.Second
	versionProbeLimit = 5 * time.Second
)

var obfuscatorLogLines = config.GetObfuscatorLogLines()

var versionPattern = regexp.MustCompile(`v?\d+\.\d+(\.\d+)?`)

type ObfuscatorStatus struct {
	Enabled  bool   `json:"enabled"`
	Running  bool   `json:"running"`
	State    string `json:"state"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Error    string `json:"error,omitempty"`
	Version  string `json:"version"`
}

// ObfuscatorService supervises the traffic obfuscation process. A
// running process is identified by the arguments it was launched with;
// syncing against an unchanged configuration is a no-op, a changed one
// restarts it. Crashes trigger a bounded number of automatic restarts
// with exponential backoff.
type ObfuscatorService struct {
	mu          sync.Mutex
	cmd         *exec.Cmd
	done        chan struct{}
	stopping    bool
	state       ProcessState
	lastErr     string
	exitCode    *int
	args        []string
	fingerprint string
	restarts    int
	maxRestarts int
	retry       *backoff.ExponentialBackOff

	logMu sync.Mutex
	logs  ringbuffer.RingP[string]

	versionMu sync.Mutex
	version   string
}

func NewObfuscatorService() *ObfuscatorService {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	s := &ObfuscatorService{
		state:       StateStopped,
		maxRestarts: config.GetObfuscatorMaxRestarts(),
		retry:       bo,
		logs:        ringbuffer.NewRingP[string](obfuscatorLogLines),
	}
	go s.Version()
	return s
}

// BuildArgs derives the process command line from the server config.
func BuildArgs(cfg *ServerConfig) []string {
	args := []string{
		"--source", fmt.Sprintf("0.0.0.0:%d", cfg.ExternalPort),
		"--target", fmt.Sprintf("127.0.0.1:%d", InternalWGPort),
		"--key", cfg.ObfuscationKey,
		"--verbosity", cfg.VerbosityLevel,
		"--masking", cfg.MaskingType,
	}
	if cfg.MaskingForced {
		args = append(args, "--masking-forced")
	}
	return args
}

// ProcessFingerprint identifies the desired process state: the command
// line plus every per-peer obfuscator port override. Changing either
// means the running process is stale.
func ProcessFingerprint(args []string, peers []model.Peer) string {
	parts := append([]string{}, args...)
	var ports []string
	for _, peer := range peers {
		if peer.Enabled && peer.ObfuscatorPort != nil {
			ports = append(ports, fmt.Sprintf("%s=%d", peer.Username, *peer.ObfuscatorPort))
		}
	}
	sort.Strings(ports)
	return strings.Join(append(parts, ports...), "\x00")
}

// SyncState converges the process to the desired state: stopped when
// the tunnel or obfuscation is off, otherwise running with the current
// configuration.
func (s *ObfuscatorService) SyncState(cfg *ServerConfig, peers []model.Peer) error {
	if !cfg.Enabled || !cfg.Obfuscation {
		s.Stop()
		return nil
	}
	args := BuildArgs(cfg)
	fp := ProcessFingerprint(args, peers)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning && s.fingerprint == fp {
		return nil
	}
	if s.cmd != nil {
		s.stopLocked()
	}
	s.restarts = 0
	s.retry.Reset()
	return s.startLocked(args, fp)
}

func (s *ObfuscatorService) startLocked(args []string, fp string) error {
	s.state = StateStarting
	cmd := exec.Command(config.GetObfuscatorBinary(), args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		s.state = StateCrashed
		s.lastErr = err.Error()
		pw.Close()
		return common.NewErrorf("%w: start obfuscator: %v", ErrApply, err)
	}
	done := make(chan struct{})
	s.cmd = cmd
	s.done = done
	s.args = args
	s.fingerprint = fp
	s.state = StateRunning
	s.lastErr = ""
	s.exitCode = nil
	logger.Infof("obfuscator started, pid %d", cmd.Process.Pid)

	go s.consumeLogs(pr)
	go s.monitor(cmd, pw, done)
	return nil
}

func (s *ObfuscatorService) consumeLogs(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := time.Now().Format("2006/01/02 15:04:05 ") + scanner.Text()
		s.logMu.Lock()
		s.logs.Add(line)
		s.logMu.Unlock()
	}
	// the scanner gives up on lines beyond its cap; keep draining so
	// the process's output pipe never backs up and wedges cmd.Wait
	io.Copy(io.Discard, r)
}

func (s *ObfuscatorService) monitor(cmd *exec.Cmd, pw *io.PipeWriter, done chan struct{}) {
	err := cmd.Wait()
	pw.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	close(done)
	if s.cmd != cmd {
		return
	}
	code := 0
	if err != nil {
		code = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
	}
	s.exitCode = &code
	s.cmd = nil
	if s.stopping {
		s.stopping = false
		s.state = StateStopped
		return
	}
	if code == 0 {
		s.state = StateStopped
		logger.Info("obfuscator exited")
		return
	}
	s.state = StateCrashed
	s.lastErr = common.NewErrorf("%w: exit code %d", ErrProcessCrash, code).Error()
	logger.Errorf("obfuscator crashed with exit code %d", code)
	s.scheduleRestartLocked()
}

func (s *ObfuscatorService) scheduleRestartLocked() {
	if s.restarts >= s.maxRestarts {
		logger.Errorf("obfuscator restart limit reached after %d attempts, giving up", s.restarts)
		return
	}
	s.restarts++
	delay := s.retry.NextBackOff()
	args := s.args
	fp := s.fingerprint
	attempt := s.restarts
	logger.Warningf("restarting obfuscator in %s (attempt %d/%d)", delay, attempt, s.maxRestarts)
	go func() {
		time.Sleep(delay)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state != StateCrashed || s.fingerprint != fp {
			return
		}
		if err := s.startLocked(args, fp); err != nil {
			logger.Error("obfuscator restart failed:", err)
			s.scheduleRestartLocked()
		}
	}()
}

// Stop terminates the process group, escalating to SIGKILL after the
// grace period.
func (s *ObfuscatorService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *ObfuscatorService) stopLocked() {
	if s.cmd == nil {
		return
	}
	s.stopping = true
	pid := s.cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		logger.Debug("signal obfuscator:", err)
	}
	done := s.done
	s.mu.Unlock()
	select {
	case <-done:
	case <-time.After(stopGracePeriod):
		logger.Warning("obfuscator did not stop in time, killing")
		syscall.Kill(-pid, syscall.SIGKILL)
		<-done
	}
	s.mu.Lock()
	s.state = StateStopped
	logger.Info("obfuscator stopped")
}

func (s *ObfuscatorService) Status(enabled bool) ObfuscatorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ObfuscatorStatus{
		Enabled:  enabled,
		Running:  s.state == StateRunning,
		State:    string(s.state),
		ExitCode: s.exitCode,
		Error:    s.lastErr,
		Version:  s.cachedVersion(),
	}
}

// Tail returns up to n recent log lines, oldest first.
func (s *ObfuscatorService) Tail(n int) []string {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	total := s.logs.Len()
	if n <= 0 || n > total {
		n = total
	}
	out := make([]string, 0, n)
	for i := total - n; i < total; i++ {
		out = append(out, s.logs.Peek(i))
	}
	return out
}

// cachedVersion returns the probed version without blocking on the
// probe itself; empty until the first probe finishes.
func (s *ObfuscatorService) cachedVersion() string {
	s.versionMu.Lock()
	defer s.versionMu.Unlock()
	return s.version
}

// Version probes the binary once and caches the result. The probe runs
// outside versionMu so cachedVersion never waits on it.
func (s *ObfuscatorService) Version() string {
	if v := s.cachedVersion(); v != "" {
		return v
	}
	ctx, cancel := context.WithTimeout(context.Background(), versionProbeLimit)
	defer cancel()
	out, _ := exec.CommandContext(ctx, config.GetObfuscatorBinary(), "--help").CombinedOutput()
	probed := "unknown"
	if match := versionPattern.Find(out); match != nil {
		probed = string(match)
	}
	s.versionMu.Lock()
	defer s.versionMu.Unlock()
	if s.version == "" {
		s.version = probed
	}
	return s.version
}
