package logging

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	impl struct {
		name  string
		level AtomicLevel
		inUTC bool

		appenders []Appender
		// fields are prepended to the fields of every entry.
		fields []zapcore.Field
		// registry is shared by a logger and all of its subloggers.
		registry *Registry
	}

	// LogEntry embeds a zapcore Entry and slice of Fields.
	LogEntry struct {
		zapcore.Entry
		fields []zapcore.Field
	}
)

// callerSkip is the number of frames between getCaller and the code that called a public logging method.
const callerSkip = 3

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Name() string {
	return imp.name
}

func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = imp.name + "." + subname
	}
	sub := &impl{
		name:      newName,
		level:     NewAtomicLevelAt(imp.level.Get()),
		inUTC:     imp.inUTC,
		appenders: imp.appenders,
		fields:    imp.fields,
		registry:  imp.registry,
	}
	if imp.registry != nil {
		imp.registry.register(newName, sub)
	}
	return sub
}

// WithFields returns a logger with the same name and level that adds the pairs to every entry.
func (imp *impl) WithFields(keysAndValues ...interface{}) Logger {
	with := *imp
	with.fields = append(append([]zapcore.Field(nil), imp.fields...), toFields(keysAndValues)...)
	return &with
}

func (imp *impl) Sync() error {
	var errs error
	for _, appender := range imp.appenders {
		errs = multierr.Append(errs, appender.Sync())
	}
	return errs
}

func (imp *impl) AsZap() *zap.SugaredLogger {
	config := NewZapLoggerConfig()
	config.Level = zap.NewAtomicLevelAt(imp.level.Get().AsZap())
	ret := zap.Must(config.Build()).Sugar().Named(imp.name)
	// only appenders that are full zap cores, such as test observers, can be teed in
	for _, appender := range imp.appenders {
		if core, ok := appender.(zapcore.Core); ok {
			ret = ret.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
				return zapcore.NewTee(c, core)
			}))
		}
	}
	if len(imp.fields) > 0 {
		ret = ret.Desugar().With(imp.fields...).Sugar()
	}
	return ret
}

func (imp *impl) shouldLog(logLevel Level) bool {
	return logLevel >= imp.level.Get()
}

// entry must be called directly from a public logging method so the caller is attributed correctly.
func (imp *impl) entry(level Level, msg string, fields []zapcore.Field) *LogEntry {
	e := &LogEntry{}
	e.Time = time.Now()
	if imp.inUTC {
		e.Time = e.Time.UTC()
	}
	e.Level = level.AsZap()
	e.LoggerName = imp.name
	e.Message = msg
	e.Caller = getCaller()
	switch {
	case len(imp.fields) == 0:
		e.fields = fields
	case len(fields) == 0:
		e.fields = imp.fields
	default:
		e.fields = append(append(make([]zapcore.Field, 0, len(imp.fields)+len(fields)), imp.fields...), fields...)
	}
	return e
}

func (imp *impl) log(entry *LogEntry) {
	for _, appender := range imp.appenders {
		if err := appender.Write(entry.Entry, entry.fields); err != nil {
			fmt.Fprint(os.Stderr, err)
		}
	}
}

// toFields pairs up keysAndValues. Keys are stringified and values are encoded by the appender. A dangling key is
// kept with an error value.
func toFields(keysAndValues []interface{}) []zapcore.Field {
	if len(keysAndValues) == 0 {
		return nil
	}
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		var key string
		if stringer, ok := keysAndValues[i].(fmt.Stringer); ok {
			key = stringer.String()
		} else {
			key = fmt.Sprint(keysAndValues[i])
		}
		if i+1 < len(keysAndValues) {
			fields = append(fields, zap.Any(key, keysAndValues[i+1]))
		} else {
			fields = append(fields, zap.Any(key, errors.New("unpaired log key")))
		}
	}
	return fields
}

func (imp *impl) Debug(args ...interface{}) {
	if imp.shouldLog(DEBUG) {
		imp.log(imp.entry(DEBUG, fmt.Sprint(args...), nil))
	}
}

func (imp *impl) Debugf(template string, args ...interface{}) {
	if imp.shouldLog(DEBUG) {
		imp.log(imp.entry(DEBUG, fmt.Sprintf(template, args...), nil))
	}
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(DEBUG) {
		imp.log(imp.entry(DEBUG, msg, toFields(keysAndValues)))
	}
}

// CDebugf logs at debug level when the logger is at debug level or ctx is in debug mode.
func (imp *impl) CDebugf(ctx context.Context, template string, args ...interface{}) {
	key := DebugKey(ctx)
	if imp.shouldLog(DEBUG) || key != "" {
		imp.log(imp.entry(DEBUG, fmt.Sprintf(template, args...), debugKeyField(key, nil)))
	}
}

// CDebugw is the structured form of CDebugf.
func (imp *impl) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	key := DebugKey(ctx)
	if imp.shouldLog(DEBUG) || key != "" {
		imp.log(imp.entry(DEBUG, msg, debugKeyField(key, toFields(keysAndValues))))
	}
}

func debugKeyField(key string, fields []zapcore.Field) []zapcore.Field {
	if key == "" {
		return fields
	}
	return append(fields, zap.String("debug_key", key))
}

func (imp *impl) Info(args ...interface{}) {
	if imp.shouldLog(INFO) {
		imp.log(imp.entry(INFO, fmt.Sprint(args...), nil))
	}
}

func (imp *impl) Infof(template string, args ...interface{}) {
	if imp.shouldLog(INFO) {
		imp.log(imp.entry(INFO, fmt.Sprintf(template, args...), nil))
	}
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(INFO) {
		imp.log(imp.entry(INFO, msg, toFields(keysAndValues)))
	}
}

func (imp *impl) Warn(args ...interface{}) {
	if imp.shouldLog(WARN) {
		imp.log(imp.entry(WARN, fmt.Sprint(args...), nil))
	}
}

func (imp *impl) Warnf(template string, args ...interface{}) {
	if imp.shouldLog(WARN) {
		imp.log(imp.entry(WARN, fmt.Sprintf(template, args...), nil))
	}
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(WARN) {
		imp.log(imp.entry(WARN, msg, toFields(keysAndValues)))
	}
}

func (imp *impl) Error(args ...interface{}) {
	if imp.shouldLog(ERROR) {
		imp.log(imp.entry(ERROR, fmt.Sprint(args...), nil))
	}
}

func (imp *impl) Errorf(template string, args ...interface{}) {
	if imp.shouldLog(ERROR) {
		imp.log(imp.entry(ERROR, fmt.Sprintf(template, args...), nil))
	}
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(ERROR) {
		imp.log(imp.entry(ERROR, msg, toFields(keysAndValues)))
	}
}

// Fatal logs as an error then exits the process.
func (imp *impl) Fatal(args ...interface{}) {
	imp.log(imp.entry(ERROR, fmt.Sprint(args...), nil))
	os.Exit(1)
}

// Fatalf logs as an error then exits the process.
func (imp *impl) Fatalf(template string, args ...interface{}) {
	imp.log(imp.entry(ERROR, fmt.Sprintf(template, args...), nil))
	os.Exit(1)
}

func getCaller() zapcore.EntryCaller {
	var caller zapcore.EntryCaller
	var ok bool
	caller.PC, caller.File, caller.Line, ok = runtime.Caller(callerSkip)
	if !ok {
		return caller
	}
	caller.Defined = true
	if fn := runtime.FuncForPC(caller.PC); fn != nil {
		caller.Function = fn.Name()
	}
	return caller
}
