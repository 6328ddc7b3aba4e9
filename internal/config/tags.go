package config

import (
	"fmt"
	"net/url"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oceanfetch/fetchd/internal/fetch"
)

// decodeSource dispatches node to a concrete fetch.Source by its YAML tag,
// mirroring original_source/fetch/load.py's yaml.add_constructor table for
// !http-files, !http-directory, !rss, !ftp-files, !ftp-directory, !rsync,
// !date-range, !empty (spec.md §6).
func decodeSource(node *yaml.Node) (fetch.Source, error) {
	switch node.Tag {
	case "!http-files":
		var raw struct {
			URLs                  []string   `yaml:"urls"`
			TargetDir             string     `yaml:"target_dir"`
			Transform             *yaml.Node `yaml:"transform"`
			Beforehand            *yaml.Node `yaml:"beforehand"`
			RetryCount            int        `yaml:"retry_count"`
			RetryDelaySeconds     int        `yaml:"retry_delay_seconds"`
			ConnectTimeoutSeconds int        `yaml:"connect_timeout_seconds"`
		}
		if err := node.Decode(&raw); err != nil {
			return nil, err
		}
		if len(raw.URLs) == 0 {
			return nil, fmt.Errorf("!http-files requires urls")
		}
		transform, err := decodeTransform(raw.Transform)
		if err != nil {
			return nil, err
		}
		beforehand, err := decodeBeforehand(raw.Beforehand)
		if err != nil {
			return nil, err
		}
		return fetch.NewHttpSource(raw.URLs, raw.TargetDir, transform, beforehand, raw.RetryCount, raw.RetryDelaySeconds, raw.ConnectTimeoutSeconds), nil

	case "!http-directory":
		var raw struct {
			URL                   string     `yaml:"url"`
			NamePattern           string     `yaml:"name_pattern"`
			TargetDir             string     `yaml:"target_dir"`
			Transform             *yaml.Node `yaml:"transform"`
			Beforehand            *yaml.Node `yaml:"beforehand"`
			RetryCount            int        `yaml:"retry_count"`
			RetryDelaySeconds     int        `yaml:"retry_delay_seconds"`
			ConnectTimeoutSeconds int        `yaml:"connect_timeout_seconds"`
		}
		if err := node.Decode(&raw); err != nil {
			return nil, err
		}
		if raw.URL == "" {
			return nil, fmt.Errorf("!http-directory requires url")
		}
		transform, err := decodeTransform(raw.Transform)
		if err != nil {
			return nil, err
		}
		beforehand, err := decodeBeforehand(raw.Beforehand)
		if err != nil {
			return nil, err
		}
		return fetch.NewHttpListingSource(raw.URL, raw.NamePattern, raw.TargetDir, transform, beforehand, raw.RetryCount, raw.RetryDelaySeconds, raw.ConnectTimeoutSeconds), nil

	case "!rss":
		var raw struct {
			URL       string     `yaml:"url"`
			TargetDir string     `yaml:"target_dir"`
			Transform *yaml.Node `yaml:"transform"`
		}
		if err := node.Decode(&raw); err != nil {
			return nil, err
		}
		if raw.URL == "" {
			return nil, fmt.Errorf("!rss requires url")
		}
		transform, err := decodeTransform(raw.Transform)
		if err != nil {
			return nil, err
		}
		return fetch.NewRssSource(raw.URL, raw.TargetDir, transform), nil

	case "!ftp-files":
		var raw struct {
			Host              string     `yaml:"host"`
			Port              int        `yaml:"port"`
			Paths             []string   `yaml:"paths"`
			TargetDir         string     `yaml:"target_dir"`
			Transform         *yaml.Node `yaml:"transform"`
			TimeoutSeconds    int        `yaml:"timeout_seconds"`
			RetryCount        int        `yaml:"retry_count"`
			RetryDelaySeconds int        `yaml:"retry_delay_seconds"`
		}
		if err := node.Decode(&raw); err != nil {
			return nil, err
		}
		if raw.Host == "" || len(raw.Paths) == 0 {
			return nil, fmt.Errorf("!ftp-files requires host and paths")
		}
		transform, err := decodeTransform(raw.Transform)
		if err != nil {
			return nil, err
		}
		return fetch.NewFtpSource(raw.Host, raw.Port, raw.Paths, raw.TargetDir, transform, raw.TimeoutSeconds, raw.RetryCount, raw.RetryDelaySeconds), nil

	case "!ftp-directory":
		var raw struct {
			Host              string     `yaml:"host"`
			Port              int        `yaml:"port"`
			SourceDir         string     `yaml:"source_dir"`
			NamePattern       string     `yaml:"name_pattern"`
			TargetDir         string     `yaml:"target_dir"`
			Transform         *yaml.Node `yaml:"transform"`
			TimeoutSeconds    int        `yaml:"timeout_seconds"`
			RetryCount        int        `yaml:"retry_count"`
			RetryDelaySeconds int        `yaml:"retry_delay_seconds"`
		}
		if err := node.Decode(&raw); err != nil {
			return nil, err
		}
		if raw.Host == "" || raw.SourceDir == "" {
			return nil, fmt.Errorf("!ftp-directory requires host and source_dir")
		}
		transform, err := decodeTransform(raw.Transform)
		if err != nil {
			return nil, err
		}
		return fetch.NewFtpListingSource(raw.Host, raw.Port, raw.SourceDir, raw.NamePattern, raw.TargetDir, transform, raw.TimeoutSeconds, raw.RetryCount, raw.RetryDelaySeconds), nil

	case "!empty":
		return fetch.EmptySource{}, nil

	case "!rsync":
		var raw struct {
			SourceHost string `yaml:"source_host"`
			SourcePath string `yaml:"source_path"`
			TargetHost string `yaml:"target_host"`
			TargetPath string `yaml:"target_path"`
		}
		if err := node.Decode(&raw); err != nil {
			return nil, err
		}
		if raw.SourcePath == "" || raw.TargetPath == "" {
			return nil, fmt.Errorf("!rsync requires source_path and target_path")
		}
		return &fetch.RsyncMirrorSource{
			SourcePath: raw.SourcePath,
			SourceHost: raw.SourceHost,
			TargetPath: raw.TargetPath,
			TargetHost: raw.TargetHost,
		}, nil

	case "!date-range":
		var raw struct {
			Using      yaml.Node         `yaml:"using"`
			Properties map[string]string `yaml:"properties"`
			StartDay   int               `yaml:"start_day"`
			EndDay     int               `yaml:"end_day"`
		}
		if err := node.Decode(&raw); err != nil {
			return nil, err
		}
		if raw.Using.Kind == 0 {
			return nil, fmt.Errorf("!date-range requires using")
		}
		// Validate the wrapped source builds cleanly with no overrides
		// before accepting the config, mirroring load.py's construct-time
		// validation of nested sources.
		if _, err := decodeSource(cloneNode(&raw.Using)); err != nil {
			return nil, fmt.Errorf("using: %w", err)
		}
		overrides := make([]fetch.DateRangeOverride, 0, len(raw.Properties))
		for field, pattern := range raw.Properties {
			overrides = append(overrides, fetch.DateRangeOverride{Field: field, Pattern: pattern})
		}
		using := raw.Using
		return &fetch.DateRangeSource{
			Overrides: overrides,
			StartDay:  raw.StartDay,
			EndDay:    raw.EndDay,
			Build: func(_ time.Time, fields map[string]string) (fetch.Source, error) {
				clone := cloneNode(&using)
				for field, value := range fields {
					setMappingField(clone, field, value)
				}
				return decodeSource(clone)
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown source tag %q", node.Tag)
	}
}

// decodeTransform dispatches to a concrete fetch.Transform, or returns nil
// (fetch.FetchFile treats a nil Transform as fetch.Identity) when node is nil.
func decodeTransform(node *yaml.Node) (fetch.Transform, error) {
	if node == nil {
		return nil, nil
	}
	switch node.Tag {
	case "!regexp-extract":
		var raw struct {
			Pattern string `yaml:"pattern"`
		}
		if err := node.Decode(&raw); err != nil {
			return nil, err
		}
		return fetch.NewRegexpOutputPathTransform(raw.Pattern)

	case "!date-pattern":
		var raw struct {
			Pattern   string `yaml:"pattern"`
			FixedDate string `yaml:"fixed_date"`
		}
		if err := node.Decode(&raw); err != nil {
			return nil, err
		}
		t := &fetch.DateFilenameTransform{Pattern: raw.Pattern}
		if raw.FixedDate != "" {
			date, err := time.Parse("2006-01-02", raw.FixedDate)
			if err != nil {
				return nil, fmt.Errorf("invalid fixed_date %q: %w", raw.FixedDate, err)
			}
			t.Date = date
		}
		return t, nil

	default:
		return nil, fmt.Errorf("unknown transform tag %q", node.Tag)
	}
}

// decodeBeforehand dispatches to a concrete fetch.Beforehand, or returns nil
// when node is nil (no pre-fetch step configured).
func decodeBeforehand(node *yaml.Node) (fetch.Beforehand, error) {
	if node == nil {
		return nil, nil
	}
	switch node.Tag {
	case "!http-auth":
		var raw struct {
			URL      string `yaml:"url"`
			Username string `yaml:"username"`
			Password string `yaml:"password"`
		}
		if err := node.Decode(&raw); err != nil {
			return nil, err
		}
		return &fetch.HttpAuthAction{URL: raw.URL, Username: raw.Username, Password: raw.Password}, nil

	case "!http-post":
		var raw struct {
			URL    string            `yaml:"url"`
			Fields map[string]string `yaml:"fields"`
		}
		if err := node.Decode(&raw); err != nil {
			return nil, err
		}
		values := make(url.Values, len(raw.Fields))
		for k, v := range raw.Fields {
			values.Set(k, v)
		}
		return &fetch.HttpPostAction{URL: raw.URL, Fields: values}, nil

	default:
		return nil, fmt.Errorf("unknown beforehand tag %q", node.Tag)
	}
}

// decodeProcessor dispatches to a concrete fetch.Processor.
func decodeProcessor(node *yaml.Node) (fetch.Processor, error) {
	switch node.Tag {
	case "!shell":
		var raw struct {
			Command              string   `yaml:"command"`
			ExpectFile           string   `yaml:"expect_file"`
			RequiredFilesPattern string   `yaml:"required_files_pattern"`
			RequiredFiles        []string `yaml:"required_files"`
		}
		if err := node.Decode(&raw); err != nil {
			return nil, err
		}
		if raw.Command == "" {
			return nil, fmt.Errorf("!shell requires command")
		}
		return &fetch.ShellProcessor{
			Command:              raw.Command,
			ExpectFile:           raw.ExpectFile,
			RequiredFilesPattern: raw.RequiredFilesPattern,
			RequiredFiles:        raw.RequiredFiles,
		}, nil

	default:
		return nil, fmt.Errorf("unknown process tag %q", node.Tag)
	}
}

// cloneNode deep-copies a yaml.Node tree so DateRangeSource can apply
// per-iteration overrides without mutating the document's parsed form,
// per DESIGN.md's resolution of spec.md §9's shared-mutable-state question.
func cloneNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	clone := *n
	clone.Content = make([]*yaml.Node, len(n.Content))
	for i, c := range n.Content {
		clone.Content[i] = cloneNode(c)
	}
	return &clone
}

// setMappingField overwrites (or appends) a scalar string value under key in
// a YAML mapping node, used to stamp date-derived overrides into a cloned
// !date-range "using" node before rebuilding its wrapped source.
func setMappingField(mapping *yaml.Node, key, value string) {
	if mapping.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1] = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
			return
		}
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value},
	)
}
