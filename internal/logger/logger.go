// Package logger is the service's structured logger.  Values logged under
// credential-like keys are redacted and patient names are replaced by a short
// hash, so neither reaches the sink verbatim.
package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type Logger struct {
	SugaredLogger *zap.SugaredLogger
}

// New builds a logger.  "prod" selects zap's JSON production config; anything
// else the development console config.
func New(mode string) (*Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if m := strings.ToLower(mode); m == "prod" || m == "production" {
		cfg = zap.NewProductionConfig()
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: z.Sugar()}, nil
}

// NewNop discards everything.
func NewNop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func (l *Logger) Sync() { _ = l.SugaredLogger.Sync() }

func (l *Logger) Info(msg string, kv ...any)  { l.SugaredLogger.Infow(msg, scrub(kv)...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.SugaredLogger.Warnw(msg, scrub(kv)...) }
func (l *Logger) Error(msg string, kv ...any) { l.SugaredLogger.Errorw(msg, scrub(kv)...) }
func (l *Logger) Fatal(msg string, kv ...any) { l.SugaredLogger.Fatalw(msg, scrub(kv)...) }

func (l *Logger) With(kv ...any) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(scrub(kv)...)}
}

var secretKeys = []string{"api_key", "apikey", "token", "secret", "password", "authorization"}

// scrub rewrites the values of a key/value list.  A trailing key without a
// value is passed through for zap to report.
func scrub(kv []any) []any {
	out := make([]any, len(kv))
	copy(out, kv)
	for i := 0; i+1 < len(kv); i += 2 {
		key := strings.ToLower(fmt.Sprint(kv[i]))
		switch {
		case containsAny(key, secretKeys):
			out[i+1] = "[REDACTED]"
		case strings.Contains(key, "patient_name"):
			out[i+1] = nameHash(fmt.Sprint(kv[i+1]))
		}
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// nameHash is stable per name so log lines for one patient still correlate.
func nameHash(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:6])
}
