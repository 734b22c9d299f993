package logfields

import (
	"errors"
	"log/slog"
	"testing"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"RunID", KeyRunID, "r1", RunID("r1")},
		{"Phase", KeyPhase, "script", Phase("script")},
		{"Command", KeyCommand, "pytest", Command("pytest")},
		{"Outcome", KeyOutcome, "passed", Outcome("passed")},
		{"Branch", KeyBranch, "master", Branch("master")},
		{"Runtime", KeyRuntime, "3.6", Runtime("3.6")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"URL", KeyURL, "http://example", URL("http://example")},
		{"Name", KeyName, "n", Name("n")},
		{"Provider", KeyProvider, "pages", Provider("pages")},
		{"ScheduleName", KeySchedule, "nightly", ScheduleName("nightly")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

func TestIntHelpers(t *testing.T) {
	if a := Step(3); a.Key != KeyStep || a.Value.Int64() != 3 {
		t.Fatalf("Step attr mismatch: %v", a)
	}
	if a := ExitCode(2); a.Key != KeyExitCode || a.Value.Int64() != 2 {
		t.Fatalf("ExitCode attr mismatch: %v", a)
	}
}

func TestErrorHelper(t *testing.T) {
	if a := Error(nil); a.Value.String() != "" {
		t.Fatalf("nil error should render empty, got %q", a.Value.String())
	}
	if a := Error(errors.New("boom")); a.Value.String() != "boom" {
		t.Fatalf("error value mismatch: %q", a.Value.String())
	}
}
