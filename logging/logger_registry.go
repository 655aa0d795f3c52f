package logging

import (
	"sync"

	"go.uber.org/multierr"
)

// Registry tracks the subloggers created from one root logger so that level patterns can be
// applied to loggers that already exist as well as ones created later.
type Registry struct {
	mu        sync.Mutex
	loggers   map[string]Logger
	logConfig []LoggerPatternConfig
}

func newRegistry() *Registry {
	return &Registry{
		loggers: make(map[string]Logger),
	}
}

func (lr *Registry) register(name string, logger Logger) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
	if level, ok := levelForName(lr.logConfig, name); ok {
		logger.SetLevel(level)
	}
}

// UpdateConfig validates and installs the level patterns, then re-levels every registered logger.
func (lr *Registry) UpdateConfig(logConfig []LoggerPatternConfig) error {
	var errs error
	for _, lpc := range logConfig {
		errs = multierr.Append(errs, lpc.Validate())
	}
	if errs != nil {
		return errs
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.logConfig = logConfig
	for name, logger := range lr.loggers {
		if level, ok := levelForName(logConfig, name); ok {
			logger.SetLevel(level)
		}
	}
	return nil
}

// ApplyPatterns installs level patterns on the registry behind `logger`. Loggers that were not
// built by this package are left untouched.
func ApplyPatterns(logger Logger, patterns []LoggerPatternConfig) error {
	imp, ok := logger.(*impl)
	if !ok || imp.registry == nil {
		return nil
	}
	if level, ok := levelForName(patterns, imp.name); ok {
		imp.SetLevel(level)
	}
	return imp.registry.UpdateConfig(patterns)
}
