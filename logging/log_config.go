package logging

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// LoggerPatternConfig sets the level of every logger whose name matches Pattern. A `*` matches
// any run of characters, e.g. `cartesian-plan.sco` or `*.trajopt`.
type LoggerPatternConfig struct {
	Pattern string `json:"pattern"`
	Level   string `json:"level"`
}

const (
	// e.g. "foo" or "foo-bar".
	validLoggerSectionName = `[a-zA-Z0-9]+([_-]*[a-zA-Z0-9]+)*`
	// e.g. "foo" or "*".
	validLoggerSectionNameWithWildcard = `(` + validLoggerSectionName + `|\*)`
	// e.g. "foo.*.bar".
	validLoggerName = `^` + validLoggerSectionNameWithWildcard + `(\.` + validLoggerSectionNameWithWildcard + `)*$`
)

var loggerPatternRegexp = regexp.MustCompile(validLoggerName)

// Validate checks the pattern syntax and the level string.
func (lpc LoggerPatternConfig) Validate() error {
	if !loggerPatternRegexp.MatchString(lpc.Pattern) {
		return errors.Errorf("invalid logger pattern %q", lpc.Pattern)
	}
	if _, err := LevelFromString(lpc.Level); err != nil {
		return errors.Wrapf(err, "pattern %q", lpc.Pattern)
	}
	return nil
}

func buildRegexFromPattern(pattern string) string {
	var matcher strings.Builder
	matcher.WriteRune('^')
	for _, ch := range pattern {
		switch ch {
		case '*':
			matcher.WriteString(`.*`)
		case '.':
			matcher.WriteString(`\.`)
		default:
			matcher.WriteRune(ch)
		}
	}
	matcher.WriteRune('$')
	return matcher.String()
}

// levelForName returns the level of the last pattern matching name.
func levelForName(patterns []LoggerPatternConfig, name string) (Level, bool) {
	found := false
	level := INFO
	for _, lpc := range patterns {
		r, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil || !r.MatchString(name) {
			continue
		}
		parsed, err := LevelFromString(lpc.Level)
		if err != nil {
			continue
		}
		level = parsed
		found = true
	}
	return level, found
}
