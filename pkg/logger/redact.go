package logger

import (
	"context"
	"log/slog"
	"regexp"
)

// Credential shapes masked from every log record. The list mirrors what the
// gateway actually carries: bearer headers, OpenAI/Slack/GitHub/AWS key
// prefixes, and quoted secret-bearing JSON fields.
var redactPatterns = []struct {
	re   *regexp.Regexp
	mask string
}{
	{regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/]+=*`), "Bearer ***"},
	{regexp.MustCompile(`sk-[A-Za-z0-9_\-]{8,}`), "sk-***"},
	{regexp.MustCompile(`xox[bpars]-[A-Za-z0-9\-]+`), "xox*-***"},
	{regexp.MustCompile(`ghp_[A-Za-z0-9]{20,}`), "ghp_***"},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "AKIA***"},
	{regexp.MustCompile(`(?i)("?(?:api_key|apikey|access_token|refresh_token|token|secret|password|authorization)"?\s*[:=]\s*)"[^"]*"`), `${1}"***"`},
}

// Redact masks credential-shaped substrings in s.
func Redact(s string) string {
	for _, p := range redactPatterns {
		s = p.re.ReplaceAllString(s, p.mask)
	}
	return s
}

// RedactingHandler wraps a slog.Handler and rewrites record messages and
// string attribute values before delegation. Handlers returned by WithAttrs
// and WithGroup keep the wrapper, so derived loggers stay covered.
type RedactingHandler struct {
	handler slog.Handler
}

func NewRedactingHandler(h slog.Handler) *RedactingHandler {
	return &RedactingHandler{handler: h}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, Redact(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(redactAttr(attr))
		return true
	})
	return h.handler.Handle(ctx, clean)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cleaned := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		cleaned[i] = redactAttr(attr)
	}
	return &RedactingHandler{handler: h.handler.WithAttrs(cleaned)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{handler: h.handler.WithGroup(name)}
}

func redactAttr(attr slog.Attr) slog.Attr {
	switch attr.Value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, Redact(attr.Value.String()))
	case slog.KindGroup:
		members := attr.Value.Group()
		cleaned := make([]any, 0, len(members))
		for _, member := range members {
			cleaned = append(cleaned, redactAttr(member))
		}
		return slog.Group(attr.Key, cleaned...)
	default:
		return attr
	}
}
