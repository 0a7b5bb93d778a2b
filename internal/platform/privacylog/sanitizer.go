// Package privacylog keeps the client's diagnostic channel free of secrets
// and stable user identifiers. The multiplexer and bindings log through a
// wrapped handler that redacts token material outright and replaces ids
// with per-boot fingerprints, so two log lines about the same contact
// correlate within a run but not across runs.
package privacylog

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const redactedValue = "[REDACTED]"

var (
	bootNonce = randomNonce()

	fingerprintKeys = map[string]struct{}{
		"contact_id":  {},
		"message_id":  {},
		"group_id":    {},
		"identity_id": {},
	}
	sensitiveKeyParts = []string{"token", "secret", "passphrase", "password", "authorization", "mnemonic", "phrase"}
)

// Handler wraps another slog.Handler and sanitizes every record before
// forwarding it.
type Handler struct {
	next slog.Handler
}

func Wrap(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &Handler{next: next}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(SanitizeAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	sanitized := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		sanitized = append(sanitized, SanitizeAttr(attr))
	}
	return &Handler{next: h.next.WithAttrs(sanitized)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{next: h.next.WithGroup(name)}
}

func SanitizeAttr(attr slog.Attr) slog.Attr {
	key := strings.TrimSpace(attr.Key)
	lowerKey := strings.ToLower(key)
	if isSensitiveKey(lowerKey) {
		return slog.String(key, redactedValue)
	}
	if _, ok := fingerprintKeys[lowerKey]; ok {
		return slog.String(key+"_fp", FingerprintID(valueToString(attr.Value)))
	}
	return attr
}

// FingerprintID hashes an identifier with a per-boot nonce.
func FingerprintID(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(trimmed + "|" + bootNonce))
	return "fp_" + hex.EncodeToString(sum[:8])
}

func isSensitiveKey(lowerKey string) bool {
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lowerKey, part) {
			return true
		}
	}
	return false
}

func valueToString(v slog.Value) string {
	if v.Kind() == slog.KindString {
		return v.String()
	}
	return fmt.Sprint(v.Any())
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "static-nonce"
	}
	return hex.EncodeToString(buf)
}

// DefaultLogger returns the client's JSON logger with sanitization applied.
func DefaultLogger() *slog.Logger {
	return slog.New(Wrap(slog.NewJSONHandler(os.Stderr, nil)))
}
