package logger

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

const (
	ansiReset = "\033[0m"
	ansiDim   = "\033[2m"
	ansiRed   = "\033[31m"
	ansiAmber = "\033[33m"
	ansiBlue  = "\033[34m"
	ansiCyan  = "\033[36m"
)

// PrettyHandler is a slog.Handler for terminals. Records are one line each:
//
//	15:04:05.000 INF message key=value key=value
//
// Attributes added with WithAttrs are rendered once, when the child handler
// is created.
type PrettyHandler struct {
	level  slog.Leveler
	mu     *sync.Mutex
	w      io.Writer
	prefix string // dotted group path
	static []byte // pre-rendered WithAttrs attributes
}

// NewPrettyHandler creates a PrettyHandler writing to w.
func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	h := &PrettyHandler{level: slog.LevelInfo, mu: &sync.Mutex{}, w: w}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	line := make([]byte, 0, 160+len(h.static))
	line = append(line, ansiDim...)
	line = r.Time.AppendFormat(line, "15:04:05.000")
	line = append(line, ansiReset...)
	line = append(line, ' ')
	line = appendLevel(line, r.Level)
	line = append(line, ' ')
	line = append(line, r.Message...)

	if len(h.static) > 0 || r.NumAttrs() > 0 {
		line = append(line, ansiCyan...)
		line = append(line, h.static...)
		r.Attrs(func(a slog.Attr) bool {
			line = appendAttr(line, h.prefix, a)
			return true
		})
		line = append(line, ansiReset...)
	}
	line = append(line, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(line)
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	child := *h
	child.static = append([]byte(nil), h.static...)
	for _, a := range attrs {
		child.static = appendAttr(child.static, h.prefix, a)
	}
	return &child
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	child := *h
	child.prefix = joinKey(h.prefix, name)
	return &child
}

func appendLevel(buf []byte, level slog.Level) []byte {
	switch {
	case level >= slog.LevelError:
		return append(buf, ansiRed+"ERR"+ansiReset...)
	case level >= slog.LevelWarn:
		return append(buf, ansiAmber+"WRN"+ansiReset...)
	case level >= slog.LevelInfo:
		return append(buf, ansiBlue+"INF"+ansiReset...)
	default:
		return append(buf, ansiDim+"DBG"+ansiReset...)
	}
}

// appendAttr renders a as " key=value", flattening groups into dotted keys.
func appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	key := joinKey(prefix, a.Key)
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			buf = appendAttr(buf, key, ga)
		}
		return buf
	}

	buf = append(buf, ' ')
	buf = append(buf, key...)
	buf = append(buf, '=')
	switch v := a.Value; v.Kind() {
	case slog.KindString:
		if s := v.String(); needsQuoting(s) {
			buf = strconv.AppendQuote(buf, s)
		} else {
			buf = append(buf, s...)
		}
	case slog.KindInt64:
		buf = strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindFloat64:
		buf = strconv.AppendFloat(buf, v.Float64(), 'g', 6, 64)
	case slog.KindDuration:
		buf = append(buf, v.Duration().Round(time.Microsecond).String()...)
	case slog.KindTime:
		buf = v.Time().AppendFormat(buf, time.RFC3339)
	default:
		buf = append(buf, v.String()...)
	}
	return buf
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	if key == "" {
		return prefix
	}
	return prefix + "." + key
}

func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	for _, c := range s {
		if c <= ' ' || c == '"' || c == '=' {
			return true
		}
	}
	return false
}
