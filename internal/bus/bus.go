// Package bus publishes ancillary-file-update events to whatever downstream
// system cares (a message queue, a webhook receiver, a sibling service).
// WebhookBus is adapted from the teacher's job-webhook notifier
// (internal/scheduler/notification.go sendJobWebhookNotification), retargeted
// at the ancillary-update payload shape instead of job/run-history fields.
package bus

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// AncillaryUpdate is the event published whenever a rule completes a batch
// of files, mirroring original_source/fetch/auto.py NotifyResultHandler's
// announce_ancillary call.
type AncillaryUpdate struct {
	AncillaryType string            `json:"ancillary_type"`
	URIs          []string          `json:"uris"`
	Properties    map[string]string `json:"properties,omitempty"`
}

// Bus is the fan-out sink for AncillaryUpdate events.
type Bus interface {
	Publish(update AncillaryUpdate) error
}

// NoopBus discards every update; it is the default when no messaging
// configuration is present, mirroring _announce_files_complete's no-op path
// when the optional neocommon import is unavailable/unconfigured.
type NoopBus struct{}

func (NoopBus) Publish(AncillaryUpdate) error { return nil }

// WebhookConfig configures a single HTTP sink.
type WebhookConfig struct {
	URL           string
	Secret        string // HMAC-SHA256 signing key, sent as X-Hub-Signature-256
	Headers       map[string]string
	SkipTLSVerify bool
	Timeout       time.Duration
}

// WebhookBus POSTs each update as JSON to a configured URL.
type WebhookBus struct {
	cfg    WebhookConfig
	client *http.Client
}

func NewWebhookBus(cfg WebhookConfig) *WebhookBus {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	transport := &http.Transport{}
	if cfg.SkipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &WebhookBus{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}
}

func (b *WebhookBus) Publish(update AncillaryUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal ancillary update: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, b.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "fetchd-bus/1.0")
	for k, v := range b.cfg.Headers {
		req.Header.Set(k, v)
	}
	if b.cfg.Secret != "" {
		mac := hmac.New(sha256.New, []byte(b.cfg.Secret))
		mac.Write(body)
		req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", b.cfg.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", b.cfg.URL, resp.StatusCode)
	}
	return nil
}
