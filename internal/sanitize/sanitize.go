// Package sanitize implements the error sanitization boundary (§4.11)
// between internal error text and external MCP/REST clients: classify
// first, redact second, truncate last. Grounded verbatim on
// original_source/ratchet-core/src/validation/error_sanitization.rs —
// the classification keyword lists, sensitive-pattern set and
// final-sanitization rules below are a direct port of that file. Go's
// regexp package is used rather than an ecosystem library: this is a
// narrow, bespoke set of patterns with no natural library boundary (see
// DESIGN.md).
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// Config mirrors ErrorSanitizationConfig from the original source.
type Config struct {
	IncludeErrorCodes  bool
	IncludeSafeContext bool
	MaxMessageLength   int
	CustomMappings     map[string]string
}

// DefaultConfig matches the original's Default impl.
func DefaultConfig() Config {
	return Config{IncludeErrorCodes: true, IncludeSafeContext: true, MaxMessageLength: 200}
}

// Sanitized is the externally-safe error shape named in §4.11.
type Sanitized struct {
	Message string
	Code    string
	Context map[string]string
}

// Sanitizer converts internal error text into a Sanitized value.
type Sanitizer struct {
	cfg              Config
	sensitivePatterns []*regexp.Regexp
	pathPatterns      []*regexp.Regexp
}

func New(cfg Config) *Sanitizer {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 200
	}
	return &Sanitizer{
		cfg: cfg,
		sensitivePatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(postgresql|mysql|sqlite)://\S+`),
			regexp.MustCompile(`(?i)(jwt|token|key|secret|password)[=:\s]+[a-zA-Z0-9+/=]{20,}`),
			regexp.MustCompile(`(/[a-zA-Z0-9_\-./]+){2,}|([A-Z]:\\[a-zA-Z0-9_\-\\./]+)`),
			regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`),
			regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			regexp.MustCompile(`\$\{[^}]+\}|\$[A-Z_][A-Z0-9_]*`),
			regexp.MustCompile(`(?i)(table|column|constraint|foreign key|primary key)\s+[a-zA-Z0-9_]+`),
			regexp.MustCompile(`(?m)^\s*at\s+.*$`),
			regexp.MustCompile(`(in\s+function\s+)?[a-zA-Z_][a-zA-Z0-9_]*::\w+\(\)\s+(at\s+line\s+\d+)?`),
		},
		pathPatterns: []*regexp.Regexp{
			regexp.MustCompile(`/(?:home|root|var|etc|usr|opt)/[a-zA-Z0-9_\-./]*`),
			regexp.MustCompile(`[A-Z]:\\(?:Users|Windows|Program Files)[a-zA-Z0-9_\-\\./]*`),
			regexp.MustCompile(`/workspace/[a-zA-Z0-9_\-./]*`),
		},
	}
}

// SanitizeMessage classifies message (first match wins, per §4.11's
// order: database, auth, validation, filesystem, network, configuration,
// task) and returns the corresponding fixed safe message and code, or a
// generically-redacted message with INTERNAL_ERROR if nothing matches.
func (s *Sanitizer) SanitizeMessage(message string) Sanitized {
	if custom, ok := s.checkCustomMappings(message); ok {
		return s.finalize(Sanitized{Message: custom, Code: "CUSTOM_ERROR"})
	}
	return s.finalize(s.categorize(message))
}

// SanitizeError is the error-typed convenience wrapper.
func (s *Sanitizer) SanitizeError(err error) Sanitized {
	if err == nil {
		return s.finalize(Sanitized{Message: "An error occurred", Code: "INTERNAL_ERROR"})
	}
	return s.SanitizeMessage(err.Error())
}

func (s *Sanitizer) checkCustomMappings(message string) (string, bool) {
	for pattern, replacement := range s.cfg.CustomMappings {
		if strings.Contains(message, pattern) {
			return replacement, true
		}
	}
	return "", false
}

func (s *Sanitizer) categorize(message string) Sanitized {
	lower := strings.ToLower(message)

	switch {
	case containsAny(lower, dbKeywords):
		return Sanitized{Message: "Database operation failed", Code: "DATABASE_ERROR"}
	case containsAny(lower, authKeywords):
		return Sanitized{Message: "Authentication or authorization failed", Code: "AUTH_ERROR"}
	case containsAny(lower, validationKeywords):
		return Sanitized{Message: "Input validation failed", Code: "VALIDATION_ERROR", Context: map[string]string{"hint": "Please check your input format"}}
	case containsAny(lower, fsKeywords):
		return Sanitized{Message: "File operation failed", Code: "FILESYSTEM_ERROR"}
	case containsAny(lower, networkKeywords):
		return Sanitized{Message: "Network operation failed", Code: "NETWORK_ERROR"}
	case containsAny(lower, configKeywords):
		return Sanitized{Message: "Configuration error", Code: "CONFIG_ERROR"}
	case containsAny(lower, taskKeywords):
		return Sanitized{Message: "Task execution failed", Code: "TASK_ERROR"}
	}

	text := s.redact(message)
	if text == "" {
		text = "An error occurred"
	}
	return Sanitized{Message: text, Code: "INTERNAL_ERROR"}
}

var (
	dbKeywords         = []string{"database", "sql", "connection", "sqlite", "postgresql", "mysql", "table", "column", "constraint", "foreign key", "primary key", "deadlock", "timeout", "transaction", "rollback", "commit"}
	authKeywords       = []string{"unauthorized", "forbidden", "access denied", "permission", "authentication", "authorization", "token", "credential", "login", "session", "expired"}
	validationKeywords = []string{"validation", "invalid", "required", "format", "schema", "constraint", "length", "range", "pattern", "type"}
	fsKeywords         = []string{"file", "directory", "path", "permission", "not found", "exists", "read", "write", "create", "delete", "io error"}
	networkKeywords    = []string{"network", "connection", "timeout", "dns", "http", "https", "ssl", "tls", "certificate", "host", "unreachable", "refused"}
	configKeywords     = []string{"config", "configuration", "setting", "option", "parameter", "property", "environment", "variable", "missing", "parse"}
	taskKeywords       = []string{"task", "execution", "runtime", "script", "javascript", "eval", "syntax", "reference", "undefined", "null"}
)

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// redact strips sensitive patterns, collapses stack-trace lines, and
// removes common debug preambles — a direct port of sanitize_text.
func (s *Sanitizer) redact(text string) string {
	out := text
	for _, p := range s.sensitivePatterns {
		out = p.ReplaceAllString(out, "[REDACTED]")
	}
	for _, p := range s.pathPatterns {
		out = p.ReplaceAllString(out, "[PATH]")
	}

	lines := strings.Split(out, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "at ") || strings.Contains(line, "Error:") {
			continue
		}
		filtered = append(filtered, line)
		if len(filtered) == 3 {
			break
		}
	}
	out = strings.Join(filtered, " ")
	out = strings.Join(strings.Fields(out), " ")

	out = strings.ReplaceAll(out, "Error: ", "")
	out = strings.ReplaceAll(out, "panic: ", "")
	out = strings.ReplaceAll(out, "thread 'main' panicked at", "")
	out = strings.ReplaceAll(out, "note: run with `RUST_BACKTRACE=1`", "")
	return strings.TrimSpace(out)
}

func (s *Sanitizer) finalize(e Sanitized) Sanitized {
	if len(e.Message) > s.cfg.MaxMessageLength {
		cut := s.cfg.MaxMessageLength - 3
		if cut < 0 {
			cut = 0
		}
		e.Message = fmt.Sprintf("%s...", e.Message[:cut])
	}
	if strings.TrimSpace(e.Message) == "" {
		e.Message = "An error occurred"
	}
	if !s.cfg.IncludeErrorCodes {
		e.Code = ""
	}
	if !s.cfg.IncludeSafeContext {
		e.Context = nil
	}
	return e
}

// Convenience constructors mirroring the original source's impl block.

func ValidationError(field string) Sanitized {
	return Sanitized{Message: "Input validation failed", Code: "VALIDATION_ERROR", Context: map[string]string{"field": field}}
}

func NotFoundError(resourceType string) Sanitized {
	return Sanitized{Message: fmt.Sprintf("%s not found", resourceType), Code: "NOT_FOUND"}
}

func PermissionError() Sanitized {
	return Sanitized{Message: "Permission denied", Code: "PERMISSION_DENIED"}
}

func InternalError() Sanitized {
	return Sanitized{Message: "Internal server error", Code: "INTERNAL_ERROR"}
}
