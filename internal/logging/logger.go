package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

type Level int

const (
	LevelDebug Level = iota - 4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// ParseLevel maps LOG_LEVEL values; unknown values fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithContext(ctx context.Context) Logger
	// Slog exposes the underlying handler chain for libraries that take *slog.Logger.
	Slog() *slog.Logger
}

type Config struct {
	Level      Level
	Format     string // "json", "text", "dev"
	Output     io.Writer
	AddSource  bool
	TimeFormat string
}

type logger struct {
	slog   *slog.Logger
	config *Config
}

// Credentials for every upstream (Jellyfin token, *arr api keys, bearer auth).
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|auth)["\s]*[:=]["\s]*([^\s"&]+)`),
	regexp.MustCompile(`(?i)authorization:\s*bearer\s+([^\s]+)`),
	regexp.MustCompile(`(?i)x-(emby-token|api-key):\s*([^\s"&]+)`),
}

// NewLogger creates a new structured logger with the given configuration
func NewLogger(config *Config) Logger {
	if config == nil {
		config = &Config{
			Level:      LevelInfo,
			Format:     "text",
			Output:     os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     slog.Level(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(config.Output, opts)
	case "dev":
		handler = NewDevHandler(config.Output, opts)
	default:
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return &logger{
		slog:   slog.New(handler),
		config: config,
	}
}

func (l *logger) Debug(msg string, args ...any) {
	l.slog.Debug(sanitize(msg), sanitizeArgs(args)...)
}

func (l *logger) Info(msg string, args ...any) {
	l.slog.Info(sanitize(msg), sanitizeArgs(args)...)
}

func (l *logger) Warn(msg string, args ...any) {
	l.slog.Warn(sanitize(msg), sanitizeArgs(args)...)
}

func (l *logger) Error(msg string, args ...any) {
	l.slog.Error(sanitize(msg), sanitizeArgs(args)...)
}

func (l *logger) With(args ...any) Logger {
	return &logger{
		slog:   l.slog.With(sanitizeArgs(args)...),
		config: l.config,
	}
}

func (l *logger) WithContext(ctx context.Context) Logger {
	return &logger{
		slog:   l.slog.With(extractContextFields(ctx)...),
		config: l.config,
	}
}

func (l *logger) Slog() *slog.Logger { return l.slog }

// Redact strips credentials from s. Exported for error strings that leave the
// process (sync_metadata.error_message, HTTP responses).
func Redact(s string) string { return sanitize(s) }

func sanitize(msg string) string {
	for _, pattern := range sensitivePatterns {
		msg = pattern.ReplaceAllStringFunc(msg, func(match string) string {
			parts := strings.SplitN(match, ":", 2)
			if len(parts) == 2 {
				return parts[0] + ": [REDACTED]"
			}
			parts = strings.SplitN(match, "=", 2)
			if len(parts) == 2 {
				return parts[0] + "=[REDACTED]"
			}
			return "[REDACTED]"
		})
	}
	return msg
}

func sanitizeArgs(args []any) []any {
	sanitized := make([]any, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case string:
			sanitized[i] = sanitize(v)
		case error:
			sanitized[i] = sanitize(v.Error())
		default:
			sanitized[i] = arg
		}
	}
	return sanitized
}

type ctxKey string

const (
	keyRequestID ctxKey = "request_id"
	keySource    ctxKey = "source"
	keySessionID ctxKey = "session_id"
)

// WithRequestID, WithSource and WithSessionID annotate ctx for WithContext.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, keySource, source)
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keySessionID, id)
}

// RequestID returns the id FiberMiddleware stored for this request.
func RequestID(c fiber.Ctx) string {
	id, _ := c.Locals(string(keyRequestID)).(string)
	return id
}

func extractContextFields(ctx context.Context) []any {
	var fields []any
	for _, k := range []ctxKey{keyRequestID, keySource, keySessionID} {
		if v := ctx.Value(k); v != nil {
			fields = append(fields, string(k), v)
		}
	}
	return fields
}

// DevHandler is a custom handler for development-friendly logging
type DevHandler struct {
	opts   *slog.HandlerOptions
	output io.Writer
	mu     *sync.Mutex
	attrs  []slog.Attr
	group  string
}

func NewDevHandler(output io.Writer, opts *slog.HandlerOptions) *DevHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &DevHandler{
		opts:   opts,
		output: output,
		mu:     &sync.Mutex{},
	}
}

func (h *DevHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *DevHandler) Handle(_ context.Context, record slog.Record) error {
	var levelColor string
	switch record.Level {
	case slog.LevelDebug:
		levelColor = "\033[36m"
	case slog.LevelInfo:
		levelColor = "\033[32m"
	case slog.LevelWarn:
		levelColor = "\033[33m"
	case slog.LevelError:
		levelColor = "\033[31m"
	default:
		levelColor = "\033[0m"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s[%s %s]\033[0m %s",
		levelColor, record.Time.Format("15:04:05"), strings.ToUpper(record.Level.String()), record.Message)

	write := func(attr slog.Attr) {
		key := attr.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(&b, " %s=%v", key, attr.Value)
	}
	for _, a := range h.attrs {
		write(a)
	}
	record.Attrs(func(attr slog.Attr) bool {
		write(attr)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.output, b.String())
	return err
}

func (h *DevHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *DevHandler) WithGroup(name string) slog.Handler {
	next := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	next.group = name
	return &next
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger
)

// SetDefault sets the default global logger
func SetDefault(l Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Default returns the default global logger
func Default() Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}

// FiberMiddleware logs one line per request and stores a request id in Locals.
func FiberMiddleware(logger Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Locals(string(keyRequestID), requestID)
		c.Set("X-Request-ID", requestID)

		err := c.Next()

		status := c.Response().StatusCode()
		logArgs := []any{
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID,
			"ip", c.IP(),
		}
		msg := fmt.Sprintf("%s %s - %d", c.Method(), c.Path(), status)

		switch {
		case status >= 500:
			logger.Error(msg, logArgs...)
		case status >= 400:
			logger.Warn(msg, logArgs...)
		default:
			logger.Debug(msg, logArgs...)
		}
		return err
	}
}
