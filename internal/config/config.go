// Package config loads and validates the YAML rule configuration document,
// mirroring original_source/fetch/load.py: a tagged-node dispatch for
// sources/transforms/processors, fail-fast validation of cron patterns and
// regexes, and the sanitize() helper used for lock/log file names.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/oceanfetch/fetchd/internal/bus"
	"github.com/oceanfetch/fetchd/internal/fetch"
)

// ConfigError signals that the configuration document itself is unusable,
// mirroring original_source/fetch/load.py's ValueError raises out of
// verify_can_construct. The supervisor must not replace its live config with
// one that failed to load this way.
type ConfigError struct {
	Path   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Path, e.Reason)
}

// Rule is one named, fully-constructed schedule entry: a cron pattern paired
// with a Source and an optional Processor, mirroring spec.md §3's Rule.
type Rule struct {
	Name          string
	SanitizedName string
	CronPattern   string
	CronSchedule  cron.Schedule
	Source        fetch.Source
	Process       fetch.Processor
}

// Config is the fully validated, in-memory form of one config.yaml,
// mirroring spec.md §3's Config and §6's top-level keys.
type Config struct {
	Directory     string
	NotifyEmail   []string
	Messaging     *bus.WebhookConfig
	LogLevels     map[string]string
	Rules         map[string]*Rule
	orderedNames  []string
}

// OrderedRuleNames returns rule names in the order they appeared in the
// document, for deterministic log/error output.
func (c *Config) OrderedRuleNames() []string {
	return append([]string(nil), c.orderedNames...)
}

// Sanitize lowercases name and maps every non-alphanumeric rune to '-',
// mirroring original_source/fetch/load.py _sanitize_for_filename exactly
// (doctests: sanitize("LS8 BPF") == "ls8-bpf", sanitize("s@me One") == "s-me-one").
func Sanitize(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// rawDocument mirrors the top-level YAML keys in spec.md §6. Rules is kept
// as a raw yaml.Node (rather than a Go map) so Load can walk its mapping
// pairs in document order — a plain map[string]rawRule would discard that
// order, and OrderedRuleNames' ordering guarantee depends on it.
type rawDocument struct {
	Directory string            `yaml:"directory"`
	Notify    *rawNotify        `yaml:"notify"`
	Messaging *rawMessaging     `yaml:"messaging"`
	Log       map[string]string `yaml:"log"`
	Rules     yaml.Node         `yaml:"rules"`
}

type rawNotify struct {
	Email []string `yaml:"email"`
}

type rawMessaging struct {
	WebhookURL    string            `yaml:"webhook_url"`
	Secret        string            `yaml:"secret"`
	Headers       map[string]string `yaml:"headers"`
	SkipTLSVerify bool              `yaml:"skip_tls_verify"`
}

type rawRule struct {
	Schedule string    `yaml:"schedule"`
	Source   yaml.Node `yaml:"source"`
	Process  *yaml.Node `yaml:"process"`
}

// Load reads and validates path, returning a *ConfigError on any problem, mirroring load.py load_config's fail-fast validation.
func Load(path string) (*Config, error) {
	loadDotEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Reason: err.Error()}
	}

	var doc rawDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("parse: %v", err)}
	}

	if doc.Directory == "" {
		return nil, &ConfigError{Path: path, Reason: "directory is required"}
	}
	if info, err := os.Stat(doc.Directory); err != nil || !info.IsDir() {
		return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("directory %q does not exist", doc.Directory)}
	}

	if doc.Rules.Kind != 0 && doc.Rules.Kind != yaml.MappingNode {
		return nil, &ConfigError{Path: path, Reason: "rules must be a mapping"}
	}

	cfg := &Config{
		Directory: doc.Directory,
		LogLevels: doc.Log,
		Rules:     make(map[string]*Rule, len(doc.Rules.Content)/2),
	}
	if doc.Notify != nil {
		cfg.NotifyEmail = doc.Notify.Email
	}
	if doc.Messaging != nil {
		cfg.Messaging = &bus.WebhookConfig{
			URL:           doc.Messaging.WebhookURL,
			Secret:        doc.Messaging.Secret,
			Headers:       doc.Messaging.Headers,
			SkipTLSVerify: doc.Messaging.SkipTLSVerify,
		}
	}

	sanitized := make(map[string]string, len(doc.Rules.Content)/2)
	// doc.Rules.Content holds alternating key/value nodes; walking it in
	// order (rather than ranging over a Go map) is what lets
	// OrderedRuleNames reflect the document's own rule order.
	for i := 0; i+1 < len(doc.Rules.Content); i += 2 {
		name := doc.Rules.Content[i].Value
		var raw rawRule
		if err := doc.Rules.Content[i+1].Decode(&raw); err != nil {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("rule %q: %v", name, err)}
		}

		schedule, err := cronParser.Parse(raw.Schedule)
		if err != nil {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("rule %q: invalid cron pattern %q: %v", name, raw.Schedule, err)}
		}

		src, err := decodeSource(&raw.Source)
		if err != nil {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("rule %q: source: %v", name, err)}
		}

		var proc fetch.Processor
		if raw.Process != nil {
			proc, err = decodeProcessor(raw.Process)
			if err != nil {
				return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("rule %q: process: %v", name, err)}
			}
		}

		sname := Sanitize(name)
		if existing, ok := sanitized[sname]; ok {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("rule %q and rule %q collide on sanitized name %q", name, existing, sname)}
		}
		sanitized[sname] = name

		cfg.Rules[name] = &Rule{
			Name:          name,
			SanitizedName: sname,
			CronPattern:   raw.Schedule,
			CronSchedule:  schedule,
			Source:        src,
			Process:       proc,
		}
		cfg.orderedNames = append(cfg.orderedNames, name)
	}

	return cfg, nil
}

// cronParser accepts the standard five-field cron syntax (no seconds field),
// matching croniter's default field count in the original. Descriptors such
// as "@hourly" or "@every 5m" are not accepted.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// loadDotEnv loads an optional .env file beside the config file, ignoring a
// missing file entirely (mirroring SPEC_FULL.md §1.2's secret-injection story).
func loadDotEnv(configPath string) {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		_ = godotenv.Load(envPath)
	}
}
