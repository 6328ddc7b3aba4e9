// Package mailer sends plain-text failure notification emails: one per
// file-level error, and one per worker process that exits with a nonzero,
// non-signal status.
package mailer

import (
	"fmt"
	"net/smtp"
	"os"
	"strconv"
)

// Config mirrors the subset of SMTP settings a failure notifier needs.
// RequireAuth/EnableTLS/Username/Password follow the teacher's
// internal/email.Service shape; Username/Password are expected to come from
// the environment (see internal/config), not committed to YAML.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	RequireAuth bool
	EnableTLS   bool
}

// Mailer sends failure notifications to a fixed set of addresses, mirroring
// original_source/fetch/_core.py TaskFailureEmailer.
type Mailer struct {
	cfg       Config
	addresses []string
	hostname  string
}

// ConfigFromEnv reads SMTP settings from the process environment (an
// optional .env beside the rule config is loaded into it by
// internal/config.Load), keeping credentials out of the committed YAML.
func ConfigFromEnv() Config {
	port := 25
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			port = n
		}
	}
	return Config{
		Host:        os.Getenv("SMTP_HOST"),
		Port:        port,
		Username:    os.Getenv("SMTP_USERNAME"),
		Password:    os.Getenv("SMTP_PASSWORD"),
		RequireAuth: os.Getenv("SMTP_REQUIRE_AUTH") == "true",
		EnableTLS:   os.Getenv("SMTP_ENABLE_TLS") == "true",
	}
}

func New(cfg Config, addresses []string) *Mailer {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return &Mailer{cfg: cfg, addresses: addresses, hostname: hostname}
}

// NotifyFileError sends "uri: {uri}\n{summary}\n\n{body}" to every configured
// address, mirroring TaskFailureEmailer.on_file_failure.
func (m *Mailer) NotifyFileError(ruleName, uri, summary, body string) error {
	if len(m.addresses) == 0 {
		return nil
	}
	subject := fmt.Sprintf("%s failure on %s", ruleName, m.hostname)
	text := fmt.Sprintf("uri: %s\n%s\n\n%s", uri, summary, body)
	return m.send(subject, text)
}

// NotifyProcessFailure sends the worker's captured log output to every
// configured address. Callers must suppress this for signal-killed workers
// (negative/os/signal exit status) before calling, mirroring
// on_process_failure's `process.exitcode < 0` check — os/exec reports signal
// deaths separately from exit codes in Go, so that check lives in the caller.
func (m *Mailer) NotifyProcessFailure(ruleName string, exitCode int, logTail string) error {
	if len(m.addresses) == 0 {
		return nil
	}
	subject := fmt.Sprintf("%s failure on %s", ruleName, m.hostname)
	text := fmt.Sprintf("rule %q exited with status %d\n\n%s", ruleName, exitCode, logTail)
	return m.send(subject, text)
}

func (m *Mailer) send(subject, body string) error {
	var firstErr error
	for _, addr := range m.addresses {
		if err := m.sendOne(addr, subject, body); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Mailer) from() string {
	return fmt.Sprintf("fetch-%d@%s", os.Getpid(), m.hostname)
}

func (m *Mailer) sendOne(to, subject, body string) error {
	from := m.from()
	headers := map[string]string{
		"From":         from,
		"To":           to,
		"Subject":      subject,
		"MIME-Version": "1.0",
		"Content-Type": "text/plain; charset=UTF-8",
	}
	message := ""
	for k, v := range headers {
		message += fmt.Sprintf("%s: %s\r\n", k, v)
	}
	message += "\r\n" + body

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	if m.cfg.Host == "" {
		addr = "localhost:25"
	}

	if m.cfg.RequireAuth {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		return smtp.SendMail(addr, auth, from, []string{to}, []byte(message))
	}

	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("dial smtp server: %w", err)
	}
	defer client.Close()

	if m.cfg.EnableTLS {
		if err := client.StartTLS(nil); err != nil {
			return fmt.Errorf("start tls: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("open data writer: %w", err)
	}
	if _, err := w.Write([]byte(message)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data writer: %w", err)
	}
	return client.Quit()
}
