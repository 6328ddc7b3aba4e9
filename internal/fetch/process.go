package fetch

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Processor runs once a file has landed, mirroring
// original_source/fetch/_core.py FileProcessor.
type Processor interface {
	Process(filePath string) (string, error)
}

// ShellProcessor runs an operator-supplied shell command against a fetched
// file, mirroring _core.py ShellFileProcessor.
type ShellProcessor struct {
	// Command is shell-interpreted (via `sh -c`), with {file_pattern}-style
	// placeholders substituted first.
	Command string
	// ExpectFile, if set, is templated the same way and must exist after
	// Command runs; its resolved path is returned.
	ExpectFile string
	// RequiredFilesPattern and RequiredFiles implement the original's
	// required_files option: RequiredFilesPattern is a regexp (as used by
	// RegexpOutputPathTransform) matched against the input file's name, and
	// each template in RequiredFiles is resolved using its captured groups;
	// if any resolved path does not exist, Process returns the input path
	// unchanged without running Command, mirroring the original's
	// "not all required files present yet" short-circuit.
	RequiredFilesPattern string
	RequiredFiles         []string
}

func (p *ShellProcessor) Process(filePath string) (string, error) {
	if p.RequiredFilesPattern != "" && len(p.RequiredFiles) > 0 {
		ready, err := p.requiredFilesPresent(filePath)
		if err != nil {
			return "", err
		}
		if !ready {
			return filePath, nil
		}
	}

	vars := filePatternVars(filePath)
	if p.RequiredFilesPattern != "" {
		if re, err := NewRegexpOutputPathTransform(p.RequiredFilesPattern); err == nil {
			if m := re.Pattern.FindStringSubmatch(filepath.Base(filePath)); m != nil {
				for i, name := range re.Pattern.SubexpNames() {
					if i == 0 || name == "" {
						continue
					}
					vars[name] = m[i]
				}
			}
		}
	}

	command := applyFilePattern(p.Command, vars)
	cmd := exec.Command("sh", "-c", command)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", &ProcessError{Path: filePath, Reason: err.Error()}
	}

	if p.ExpectFile == "" {
		return filePath, nil
	}
	expected := applyFilePattern(p.ExpectFile, vars)
	if _, err := os.Stat(expected); err != nil {
		return "", &ProcessError{Path: filePath, Reason: fmt.Sprintf("expected file %s not found", expected)}
	}
	return expected, nil
}

func (p *ShellProcessor) requiredFilesPresent(filePath string) (bool, error) {
	re, err := NewRegexpOutputPathTransform(p.RequiredFilesPattern)
	if err != nil {
		return false, err
	}
	match := re.Pattern.FindStringSubmatch(filepath.Base(filePath))
	if match == nil {
		return false, nil
	}
	vars := filePatternVars(filePath)
	for i, name := range re.Pattern.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		vars[name] = match[i]
	}
	for _, tmpl := range p.RequiredFiles {
		resolved := applyFilePattern(tmpl, vars)
		if _, err := os.Stat(resolved); err != nil {
			return false, nil
		}
	}
	return true, nil
}

// filePatternVars builds the substitution table _apply_file_pattern's
// doctests exercise: {filename}, {file_stem}, {file_suffix}, {parent_dir},
// {parent_dirs[N]}, {path}.
func filePatternVars(filePath string) map[string]string {
	dir := filepath.Dir(filePath)
	base := filepath.Base(filePath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	vars := map[string]string{
		"filename":    base,
		"file_stem":   stem,
		"file_suffix": ext,
		"parent_dir":  dir,
		"path":        filePath,
	}
	parts := strings.Split(dir, string(filepath.Separator))
	// parent_dirs[0] is the immediate parent, parent_dirs[1] its parent, etc,
	// matching the original's path.parts[::-1] ordering.
	for i := 0; i < len(parts); i++ {
		idx := len(parts) - 1 - i
		if idx < 0 {
			break
		}
		key := fmt.Sprintf("parent_dirs[%d]", i)
		value := strings.Join(parts[:idx+1], string(filepath.Separator))
		if value == "" {
			value = string(filepath.Separator)
		}
		vars[key] = value
	}
	return vars
}

// applyFilePattern substitutes {key} placeholders (including bracketed keys
// like {parent_dirs[0]}) found in vars into pattern.
func applyFilePattern(pattern string, vars map[string]string) string {
	out := pattern
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}
