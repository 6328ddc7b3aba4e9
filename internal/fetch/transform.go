package fetch

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Transform renames an incoming remote filename and/or relocates its target
// directory before it is fetched, mirroring
// original_source/fetch/_core.py FilenameTransform.
type Transform interface {
	// TransformName rewrites the bare filename extracted from the remote.
	TransformName(name string) string
	// TransformDir rewrites the destination directory a file will land in.
	TransformDir(dir, name string) string
}

// identityTransform is used wherever no transform is configured.
type identityTransform struct{}

func (identityTransform) TransformName(name string) string    { return name }
func (identityTransform) TransformDir(dir, name string) string { return dir }

// Identity is the no-op Transform.
var Identity Transform = identityTransform{}

// RegexpOutputPathTransform relocates files into a subdirectory templated
// from a regex match against the filename, mirroring _core.py
// RegexpOutputPathTransform. The regex is not anchored implicitly (Go's
// regexp.FindStringSubmatch searches anywhere in the string, matching
// Python's re.search semantics used by the original).
//
// Example (from the original's doctest):
//
//	t := RegexpOutputPathTransform{Pattern: regexp.MustCompile(`LS8_(?P<year>\d{4})`)}
//	t.TransformDir("/tmp/out/{year}", "LS8_2003") == "/tmp/out/2003"
type RegexpOutputPathTransform struct {
	Pattern *regexp.Regexp
}

// NewRegexpOutputPathTransform compiles pattern, returning an error if it is
// not a valid regular expression (mirroring the original's
// constructor-time validation).
func NewRegexpOutputPathTransform(pattern string) (*RegexpOutputPathTransform, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regexp %q: %w", pattern, err)
	}
	return &RegexpOutputPathTransform{Pattern: re}, nil
}

func (t *RegexpOutputPathTransform) TransformName(name string) string { return name }

// TransformDir substitutes named capture groups from matching name into
// dir's "{group}" placeholders. If the pattern does not match, dir is
// returned unchanged, matching the original's no-match behavior.
func (t *RegexpOutputPathTransform) TransformDir(dir, name string) string {
	match := t.Pattern.FindStringSubmatch(name)
	if match == nil {
		return dir
	}
	out := dir
	for i, groupName := range t.Pattern.SubexpNames() {
		if i == 0 || groupName == "" {
			continue
		}
		out = strings.ReplaceAll(out, "{"+groupName+"}", match[i])
	}
	return out
}

// DateFilenameTransform prefixes (or otherwise templates) a filename with
// date components, mirroring _core.py DateFilenameTransform. Pattern
// supports the plain substitution keys {filename}, {date}, {year}, {month},
// {day}, {julday}, plus the structured {path.stem}, {path.suffix},
// {path.parent} (mirroring Python's pathlib.Path attributes) and
// strftime-style {date:%Y-%m} formatting (mirroring Python's str.format
// calling datetime.__format__).
//
// Examples (from the original's doctest):
//
//	t := DateFilenameTransform{Pattern: "{year}{month}{day}.{filename}", Date: time.Date(2013, 8, 6, 0, 0, 0, 0, time.UTC)}
//	t.TransformName("output.log") == "20130806.output.log"
//
//	t = DateFilenameTransform{Pattern: "{path.stem}-{date:%Y-%m}{path.suffix}", Date: time.Date(2013, 8, 6, 0, 0, 0, 0, time.UTC)}
//	t.TransformName("output.log") == "output-2013-08.log"
type DateFilenameTransform struct {
	Pattern string
	// Date overrides "now" for testability; zero value means use time.Now().
	Date time.Time
}

func (t *DateFilenameTransform) now() time.Time {
	if t.Date.IsZero() {
		return time.Now().UTC()
	}
	return t.Date
}

// patternTokenRe matches one {key}, {key.attr}, or {key:format} template
// token, the subset of Python's str.format mini-language this transform's
// pattern strings use.
var patternTokenRe = regexp.MustCompile(`\{(\w+)(?:\.(\w+))?(?::([^}]*))?\}`)

func (t *DateFilenameTransform) TransformName(name string) string {
	d := t.now()
	return patternTokenRe.ReplaceAllStringFunc(t.Pattern, func(token string) string {
		m := patternTokenRe.FindStringSubmatch(token)
		key, attr, format := m[1], m[2], m[3]
		switch key {
		case "path":
			return pathAttr(name, attr)
		case "date":
			if format != "" {
				return formatStrftime(d, format)
			}
			return d.Format("2006-01-02")
		case "filename":
			return filepath.Base(name)
		case "year":
			return fmt.Sprintf("%04d", d.Year())
		case "month":
			return fmt.Sprintf("%02d", d.Month())
		case "day":
			return fmt.Sprintf("%02d", d.Day())
		case "julday":
			return fmt.Sprintf("%03d", d.YearDay())
		default:
			return token
		}
	})
}

// pathAttr mirrors pathlib.Path(name).stem / .suffix / .parent for the bare
// filename and structured {path...} tokens.
func pathAttr(name, attr string) string {
	switch attr {
	case "stem":
		base := filepath.Base(name)
		return strings.TrimSuffix(base, filepath.Ext(base))
	case "suffix":
		return filepath.Ext(name)
	case "parent":
		dir := filepath.Dir(name)
		if dir == "" {
			return "."
		}
		return dir
	default:
		return name
	}
}

// formatStrftime renders d using the subset of strftime directives
// {date:...} patterns in the wild actually use. Go's reference-time layout
// strings can't express %j (day-of-year), so this walks spec directly
// instead of translating to a time.Format layout.
func formatStrftime(d time.Time, spec string) string {
	var sb strings.Builder
	for i := 0; i < len(spec); i++ {
		if spec[i] != '%' || i+1 >= len(spec) {
			sb.WriteByte(spec[i])
			continue
		}
		i++
		switch spec[i] {
		case 'Y':
			sb.WriteString(fmt.Sprintf("%04d", d.Year()))
		case 'y':
			sb.WriteString(fmt.Sprintf("%02d", d.Year()%100))
		case 'm':
			sb.WriteString(fmt.Sprintf("%02d", int(d.Month())))
		case 'd':
			sb.WriteString(fmt.Sprintf("%02d", d.Day()))
		case 'H':
			sb.WriteString(fmt.Sprintf("%02d", d.Hour()))
		case 'M':
			sb.WriteString(fmt.Sprintf("%02d", d.Minute()))
		case 'S':
			sb.WriteString(fmt.Sprintf("%02d", d.Second()))
		case 'j':
			sb.WriteString(fmt.Sprintf("%03d", d.YearDay()))
		case 'B':
			sb.WriteString(d.Month().String())
		case 'b':
			sb.WriteString(d.Month().String()[:3])
		case 'A':
			sb.WriteString(d.Weekday().String())
		case 'a':
			sb.WriteString(d.Weekday().String()[:3])
		case '%':
			sb.WriteByte('%')
		default:
			sb.WriteByte('%')
			sb.WriteByte(spec[i])
		}
	}
	return sb.String()
}

func (t *DateFilenameTransform) TransformDir(dir, name string) string { return dir }
