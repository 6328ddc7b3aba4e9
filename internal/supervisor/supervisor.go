// Package supervisor implements the long-lived parent process: it loads the
// rule configuration, runs the scheduling loop, spawns an isolated worker
// per due rule, reaps finished workers, and reloads configuration on
// SIGHUP, mirroring original_source/fetch/auto.py run_loop/RunConfig
// (spec.md §4.G).
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oceanfetch/fetchd/internal/config"
	"github.com/oceanfetch/fetchd/internal/logging"
	"github.com/oceanfetch/fetchd/internal/mailer"
	"github.com/oceanfetch/fetchd/internal/schedule"
	"github.com/oceanfetch/fetchd/internal/worker"
)

// WorkerFlag is the hidden leading argument the supervisor re-execs its own
// binary with to hand off to internal/worker.Run, per SPEC_FULL.md §4.G.1's
// Go-native re-exec process model.
const WorkerFlag = "--fetchd-worker"

// idleSleep is how long the supervisor sleeps when the schedule is empty,
// mirroring auto.py run_loop's 500-second idle sleep.
const idleSleep = 500 * time.Second

// WorkerHandle tracks one spawned worker process, mirroring spec.md §3's
// WorkerHandle.
type WorkerHandle struct {
	Pid           int
	Name          string
	LogFile       string
	LockFile      string
	ScheduledTime time.Time
	Rule          *config.Rule
}

type workerResult struct {
	handle   *WorkerHandle
	exitCode int
}

// Supervisor runs the scheduling loop on a single control goroutine.
type Supervisor struct {
	configPath string
	binaryPath string
	log        *logging.Logger

	cfg atomic.Pointer[config.Config]

	schedule *schedule.Schedule
	done     chan workerResult
	live     map[int]*WorkerHandle

	reloadRequested atomic.Bool
	exiting         atomic.Bool
}

// New loads configPath and prepares a Supervisor, failing with the same
// ConfigError Load would return on an unusable document (spec.md §6 exit
// code 1 "unusable config").
func New(configPath string) (*Supervisor, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	binaryPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve own executable path: %w", err)
	}

	log, err := logging.New(filepath.Join(cfg.Directory, "log", "supervisor.log"), logging.OptionsFromEnv())
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		configPath: configPath,
		binaryPath: binaryPath,
		log:        log,
		schedule:   schedule.New(),
		done:       make(chan workerResult, 16),
		live:       make(map[int]*WorkerHandle),
	}
	s.cfg.Store(cfg)

	if err := s.ensureDirs(cfg); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, name := range cfg.OrderedRuleNames() {
		s.schedule.Add(cfg.Rules[name], now)
	}
	return s, nil
}

func (s *Supervisor) config() *config.Config {
	return s.cfg.Load()
}

// ensureDirs creates {directory}/lock and {directory}/log at startup and
// again after each successfully loaded reload, mirroring spec.md §4.G step 1. Per-day log subdirectories are created
// lazily by internal/worker as each rule fires.
func (s *Supervisor) ensureDirs(cfg *config.Config) error {
	if err := os.MkdirAll(filepath.Join(cfg.Directory, "lock"), 0o755); err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(cfg.Directory, "log"), 0o755)
}

// Run installs signal handlers and blocks in the scheduling loop until
// SIGINT/SIGTERM, joining every outstanding worker before returning,
// mirroring auto.py run_loop.
func (s *Supervisor) Run() error {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	s.log.LogInfo("supervisor starting, %d rule(s) loaded", len(s.config().Rules))

	for !s.exiting.Load() {
		s.drainSignals(sigCh)
		s.reap()

		if s.reloadRequested.Swap(false) {
			s.reload()
		}
		if s.exiting.Load() {
			break
		}

		entry, ok := s.schedule.Peek()
		if !ok {
			s.waitFor(idleSleep, sigCh)
			continue
		}

		now := time.Now().UTC()
		if now.Unix() >= entry.NextFireEpoch {
			s.schedule.Pop()
			s.spawn(entry.Rule, now)
			s.schedule.Add(entry.Rule, now)
			continue
		}

		wait := time.Duration(entry.NextFireEpoch-now.Unix())*time.Second + 100*time.Millisecond
		s.waitFor(wait, sigCh)
	}

	s.log.LogInfo("supervisor shutting down, joining %d worker(s)", len(s.live))
	for len(s.live) > 0 {
		result := <-s.done
		s.recordResult(result)
	}
	s.log.Close()
	return nil
}

// RunItems triggers exactly the named rules once and waits for them all,
// mirroring auto.py run_items. It fails fast, listing available rule names,
// if any requested name is unknown.
func (s *Supervisor) RunItems(names []string) error {
	cfg := s.config()
	for _, name := range names {
		if _, ok := cfg.Rules[name]; !ok {
			return fmt.Errorf("unknown rule %q; available rules: %v", name, cfg.OrderedRuleNames())
		}
	}

	now := time.Now().UTC()
	pending := 0
	for _, name := range names {
		s.spawn(cfg.Rules[name], now)
		pending++
	}
	for pending > 0 {
		result := <-s.done
		s.recordResult(result)
		pending--
	}
	return nil
}

// drainSignals handles every signal queued since the last iteration without
// blocking, mirroring spec.md §4.G step 2's handler semantics.
func (s *Supervisor) drainSignals(sigCh chan os.Signal) {
	for {
		select {
		case sig := <-sigCh:
			s.handleSignal(sig)
		default:
			return
		}
	}
}

// waitFor sleeps up to d, waking early on a finished worker or a signal so
// reaping and reload stay responsive even during a long idle sleep.
func (s *Supervisor) waitFor(d time.Duration, sigCh chan os.Signal) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case sig := <-sigCh:
		s.handleSignal(sig)
	case result := <-s.done:
		s.recordResult(result)
	}
}

func (s *Supervisor) handleSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM:
		s.log.LogInfo("received %s, shutting down after this iteration", sig)
		s.exiting.Store(true)
	case syscall.SIGHUP:
		s.log.LogInfo("received SIGHUP, reloading configuration")
		s.reloadRequested.Store(true)
	}
}

// reload re-reads the config file and, on success, atomically swaps the
// live config pointer and replaces the Schedule, mirroring spec.md §4.G
// step 2's "live Schedule is replaced atomically at the next iteration
// boundary." A failing reload leaves the current config and schedule
// untouched and is logged, not fatal (spec.md §7 Config error).
func (s *Supervisor) reload() {
	newCfg, err := config.Load(s.configPath)
	if err != nil {
		s.log.LogError("config reload failed, keeping previous configuration: %v", err)
		return
	}
	if err := s.ensureDirs(newCfg); err != nil {
		s.log.LogError("config reload failed ensuring directories, keeping previous configuration: %v", err)
		return
	}
	s.cfg.Store(newCfg)
	fresh := schedule.New()
	now := time.Now().UTC()
	for _, name := range newCfg.OrderedRuleNames() {
		fresh.Add(newCfg.Rules[name], now)
	}
	s.schedule = fresh
	s.log.LogInfo("configuration reloaded, %d rule(s) loaded", len(newCfg.Rules))
}

// spawn re-execs the supervisor's own binary with WorkerFlag to run one
// rule's trigger in an isolated child process, per SPEC_FULL.md §4.G.1.
func (s *Supervisor) spawn(rule *config.Rule, scheduledTime time.Time) {
	cfg := s.config()
	cmd := exec.Command(s.binaryPath, WorkerFlag, s.configPath, rule.Name, fmt.Sprintf("%d", scheduledTime.Unix()))
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		s.log.LogError("rule %s: failed to spawn worker: %v", rule.Name, err)
		return
	}

	handle := &WorkerHandle{
		Pid:           cmd.Process.Pid,
		Name:          fmt.Sprintf("fetch-%s-%s", scheduledTime.UTC().Format("1504"), rule.SanitizedName),
		LogFile:       filepath.Join(cfg.Directory, "log", scheduledTime.UTC().Format("2006"), scheduledTime.UTC().Format("01-02"), fmt.Sprintf("%s-%s.log", scheduledTime.UTC().Format("1504"), rule.SanitizedName)),
		LockFile:      filepath.Join(cfg.Directory, "lock", rule.SanitizedName+".lck"),
		ScheduledTime: scheduledTime,
		Rule:          rule,
	}
	s.live[handle.Pid] = handle
	s.log.LogInfo("spawned worker %s (pid %d) for rule %s", handle.Name, handle.Pid, rule.Name)

	go func() {
		err := cmd.Wait()
		exitCode := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if err != nil {
			exitCode = -1
		}
		s.done <- workerResult{handle: handle, exitCode: exitCode}
	}()
}

// reap drains any worker completions queued since the last iteration
// without blocking, mirroring spec.md §4.G step 3's "reap any finished
// workers" pass.
func (s *Supervisor) reap() {
	for {
		select {
		case result := <-s.done:
			s.recordResult(result)
		default:
			return
		}
	}
}

// recordResult classifies a finished worker's exit code and, on an
// unsuppressed failure, sends the per-rule failure email with the worker's
// full log contents, mirroring spec.md §4.G step 3 and §6's email spec.
func (s *Supervisor) recordResult(result workerResult) {
	delete(s.live, result.handle.Pid)

	switch {
	case result.exitCode == 0:
		s.log.LogInfo("worker %s (pid %d) exited cleanly", result.handle.Name, result.handle.Pid)
	case result.exitCode < 0:
		// Negative exit code means the worker was killed by a signal,
		// assumed operator-initiated; suppress the failure email
		// (spec.md §5 Cancellation, §6 Exit Codes).
		s.log.LogInfo("worker %s (pid %d) was signal-killed, not reporting", result.handle.Name, result.handle.Pid)
	default:
		s.log.LogError("worker %s (pid %d) exited with status %d", result.handle.Name, result.handle.Pid, result.exitCode)
		s.notifyFailure(result.handle, result.exitCode)
	}
}

// MaybeRunWorker inspects os.Args for the hidden WorkerFlag re-exec
// dispatch (SPEC_FULL.md §4.G.1) and, if present, runs internal/worker.Run
// in-process and returns its exit code. Both cmd/fetch-service and
// cmd/fetch-now call this before any normal flag parsing, since a
// Supervisor re-execs whichever binary it was itself invoked as.
func MaybeRunWorker() (code int, handled bool) {
	if len(os.Args) < 2 || os.Args[1] != WorkerFlag {
		return 0, false
	}
	if len(os.Args) != 5 {
		fmt.Fprintf(os.Stderr, "usage: %s %s <config.yaml> <rule-name> <scheduled-unix-seconds>\n", os.Args[0], WorkerFlag)
		return 2, true
	}
	configPath, ruleName, scheduledStr := os.Args[2], os.Args[3], os.Args[4]

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		return 1, true
	}
	rule, ok := cfg.Rules[ruleName]
	if !ok {
		fmt.Fprintf(os.Stderr, "worker: unknown rule %q\n", ruleName)
		return 1, true
	}
	unixSeconds, err := strconv.ParseInt(scheduledStr, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: invalid scheduled time %q: %v\n", scheduledStr, err)
		return 1, true
	}
	return worker.Run(cfg, rule, time.Unix(unixSeconds, 0).UTC()), true
}

func (s *Supervisor) notifyFailure(handle *WorkerHandle, exitCode int) {
	cfg := s.config()
	if len(cfg.NotifyEmail) == 0 {
		return
	}
	logTail, err := os.ReadFile(handle.LogFile)
	if err != nil {
		s.log.LogError("worker %s: could not read log file %s for failure email: %v", handle.Name, handle.LogFile, err)
		logTail = []byte(fmt.Sprintf("(log file unavailable: %v)", err))
	}
	m := mailer.New(mailer.ConfigFromEnv(), cfg.NotifyEmail)
	if err := m.NotifyProcessFailure(handle.Rule.Name, exitCode, string(logTail)); err != nil {
		s.log.LogError("worker %s: failed sending failure email: %v", handle.Name, err)
	}
}
