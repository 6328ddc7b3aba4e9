// Package worker implements the re-exec'd child process body that executes
// exactly one rule trigger, mirroring original_source/fetch/auto.py
// ScheduledProcess (spec.md §4.H).
package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
	"unsafe"

	"github.com/gofrs/flock"

	"github.com/oceanfetch/fetchd/internal/bus"
	"github.com/oceanfetch/fetchd/internal/config"
	"github.com/oceanfetch/fetchd/internal/fetch"
	"github.com/oceanfetch/fetchd/internal/mailer"
	"github.com/oceanfetch/fetchd/internal/notify"
)

// Exit codes, mirroring spec.md §6 Exit Codes for the Worker.
const (
	ExitSuccessOrLocked = 0
	ExitInitialFailure  = 1
	ExitInternalFailure = 2
)

// Name formats the per-run worker/log/lock identity, mirroring auto.py
// ScheduledProcess's "fetch-HHMM-{sanitized_name}" naming (doctest:
// name for rule "ls7-cpf" scheduled at 04:36 UTC is "fetch-0436-ls7-cpf").
func Name(sanitizedName string, scheduledTime time.Time) string {
	return fmt.Sprintf("fetch-%s-%s", scheduledTime.UTC().Format("1504"), sanitizedName)
}

// LogPath returns {directory}/log/{YYYY}/{MM-DD}/{HHMM}-{sanitizedName}.log,
// mirroring spec.md §3's Log files layout and auto.py get_day_log_dir.
func LogPath(baseDir, sanitizedName string, scheduledTime time.Time) string {
	t := scheduledTime.UTC()
	dayDir := filepath.Join(baseDir, "log", t.Format("2006"), t.Format("01-02"))
	return filepath.Join(dayDir, fmt.Sprintf("%s-%s.log", t.Format("1504"), sanitizedName))
}

// LockPath returns {directory}/lock/{sanitizedName}.lck, mirroring spec.md
// §6's on-disk layout.
func LockPath(baseDir, sanitizedName string) string {
	return filepath.Join(baseDir, "lock", sanitizedName+".lck")
}

// Run executes spec.md §4.H steps 1-9 for a single rule trigger and returns
// the process exit code the caller should use. It is invoked in an
// already-isolated child process (see cmd/fetch-service's --fetchd-worker
// re-exec dispatch, SPEC_FULL.md §4.G.1); it does not fork again.
func Run(cfg *config.Config, rule *config.Rule, scheduledTime time.Time) int {
	name := Name(rule.SanitizedName, scheduledTime)
	setProcessTitle(name)

	logPath := LogPath(cfg.Directory, rule.SanitizedName, scheduledTime)
	logFile, err := redirectOutput(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker %s: could not open log file %s: %v\n", name, logPath, err)
		return ExitInternalFailure
	}
	defer logFile.Close()

	lockPath := LockPath(cfg.Directory, rule.SanitizedName)
	lock, locked, err := acquireLock(lockPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker %s: lock error: %v\n", name, err)
		return ExitInternalFailure
	}
	if !locked {
		// A previous run of this rule is still in flight; this is not an
		// error (spec.md §4.H step 3, §7 "Lock contention").
		fmt.Fprintf(logFile, "worker %s: lock %s held by another process, exiting\n", name, lockPath)
		return ExitSuccessOrLocked
	}
	defer lock.Unlock()

	var busClient bus.Bus = bus.NoopBus{}
	if cfg.Messaging != nil {
		busClient = bus.NewWebhookBus(*cfg.Messaging)
	}
	var mailerClient *mailer.Mailer
	if len(cfg.NotifyEmail) > 0 {
		mailerClient = mailer.New(mailer.ConfigFromEnv(), cfg.NotifyEmail)
	}

	sink := &notify.SinkReporter{
		Log:           stderrLogger{},
		Bus:           busClient,
		Mailer:        mailerClient,
		RuleName:      rule.Name,
		SanitizedName: rule.SanitizedName,
	}
	wrapped := &notify.ProcessingReporter{
		Inner:       sink,
		Process:     rule.Process,
		RuleName:    rule.Name,
		CronPattern: rule.CronPattern,
		TriggerTime: scheduledTime,
	}

	triggerErr := rule.Source.Trigger(wrapped)

	if triggerErr == nil && wrapped.FirstErr != nil {
		fmt.Fprintf(os.Stderr, "worker %s: post-processing failed: %v\n", name, wrapped.FirstErr)
		return ExitInternalFailure
	}
	if triggerErr == nil {
		return ExitSuccessOrLocked
	}

	if remoteErr, ok := triggerErr.(*fetch.RemoteFetchError); ok {
		fmt.Fprintf(os.Stderr, "worker %s: %s\n%s\n", name, remoteErr.Summary, remoteErr.Detailed)
		return ExitInitialFailure
	}
	fmt.Fprintf(os.Stderr, "worker %s: %v\n", name, triggerErr)
	return ExitInternalFailure
}

// redirectOutput creates (and idempotently creates the parent tree for) the
// per-run log file and redirects stdout/stderr to it, mirroring auto.py
// ScheduledProcess._redirect_output.
func redirectOutput(logPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	os.Stdout = f
	os.Stderr = f
	return f, nil
}

// acquireLock creates lockPath world-writable within a zeroed umask and
// attempts a non-blocking exclusive flock, mirroring auto.py
// ScheduledProcess._attempt_lock. The returned bool is false (with a nil
// error) when some other process already holds the lock.
func acquireLock(lockPath string) (*flock.Flock, bool, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, false, err
	}
	oldUmask := umask(0)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDONLY, 0o222)
	umask(oldUmask)
	if err != nil {
		return nil, false, err
	}
	f.Close()

	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, false, err
	}
	if !locked {
		return nil, false, nil
	}
	return lock, true, nil
}

// stderrLogger adapts the process's (already redirected) stderr into the
// notify.Logger shape for the worker's own SinkReporter.
type stderrLogger struct{}

func (stderrLogger) LogInfo(format string, v ...interface{}) {
	fmt.Fprintf(os.Stdout, "INFO: "+format+"\n", v...)
}

func (stderrLogger) LogError(format string, v ...interface{}) {
	fmt.Fprintf(os.Stderr, "ERROR: "+format+"\n", v...)
}

// setProcessTitle best-effort overwrites os.Args[0]'s backing bytes in
// place so /proc/self/cmdline reflects name, mirroring setproctitle(name) in
// original_source/fetch/auto.py ScheduledProcess.run. No process-title
// library appears anywhere in the retrieval pack (see DESIGN.md); this is
// the standard, if narrow, Go technique and is never load-bearing for
// correctness — it does not affect `ps`'s cached argv[0], and truncates
// rather than extends when name is longer than the original argv[0].
func setProcessTitle(name string) {
	if len(os.Args) == 0 || len(os.Args[0]) == 0 {
		return
	}
	argv0 := unsafe.Slice(unsafe.StringData(os.Args[0]), len(os.Args[0]))
	n := copy(argv0, name)
	for i := n; i < len(argv0); i++ {
		argv0[i] = 0
	}
}

// umask wraps syscall.Umask for the lock-file creation path, named for
// readability at the call site (auto.py _attempt_lock zeroes the umask
// around its os.open so the 0222 mode isn't masked down).
func umask(mask int) int {
	return syscall.Umask(mask)
}

