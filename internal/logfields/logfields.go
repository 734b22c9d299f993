package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyPhase      = "phase"
	KeyStep       = "step"
	KeyCommand    = "command"
	KeyExitCode   = "exit_code"
	KeyOutcome    = "outcome"
	KeyDurationMS = "duration_ms"
	KeyBranch     = "branch"
	KeyRuntime    = "runtime"
	KeyPath       = "path"
	KeyURL        = "url"
	KeyName       = "name"
	KeyProvider   = "provider"
	KeySchedule   = "schedule_name"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Phase(p string) slog.Attr        { return slog.String(KeyPhase, p) }
func Step(i int) slog.Attr            { return slog.Int(KeyStep, i) }
func Command(c string) slog.Attr      { return slog.String(KeyCommand, c) }
func ExitCode(c int) slog.Attr        { return slog.Int(KeyExitCode, c) }
func Outcome(o string) slog.Attr      { return slog.String(KeyOutcome, o) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Branch(b string) slog.Attr       { return slog.String(KeyBranch, b) }
func Runtime(r string) slog.Attr      { return slog.String(KeyRuntime, r) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Name(n string) slog.Attr         { return slog.String(KeyName, n) }
func Provider(p string) slog.Attr     { return slog.String(KeyProvider, p) }
func ScheduleName(n string) slog.Attr { return slog.String(KeySchedule, n) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
