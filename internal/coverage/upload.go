package coverage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"git.home.luguber.info/inful/cirunner/internal/logfields"
	"git.home.luguber.info/inful/cirunner/internal/metrics"
	"git.home.luguber.info/inful/cirunner/internal/retry"
)

// uploadPayload is the JSON body posted to the coverage service.
type uploadPayload struct {
	RunID   string  `json:"run_id"`
	Branch  string  `json:"branch,omitempty"`
	Commit  string  `json:"commit,omitempty"`
	Covered int     `json:"covered"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

// Uploader posts coverage reports to an external service.
type Uploader struct {
	url      string
	tokenEnv string
	client   *http.Client
	policy   retry.Policy
	recorder metrics.Recorder
}

// NewUploader creates an uploader for the configured endpoint.
func NewUploader(url, tokenEnv string, policy retry.Policy, recorder metrics.Recorder) *Uploader {
	if recorder == nil {
		recorder = metrics.NewNoopRecorder()
	}
	return &Uploader{
		url:      url,
		tokenEnv: tokenEnv,
		client:   &http.Client{Timeout: 30 * time.Second},
		policy:   policy,
		recorder: recorder,
	}
}

// Upload posts the report, retrying transient failures (network errors
// and 5xx responses) under the retry policy.
func (u *Uploader) Upload(ctx context.Context, report Report, runID, branch, commit string) error {
	body, err := json.Marshal(uploadPayload{
		RunID:   runID,
		Branch:  branch,
		Commit:  commit,
		Covered: report.Covered,
		Total:   report.Total,
		Percent: report.Percent(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal coverage payload: %w", err)
	}

	token := os.Getenv(u.tokenEnv)

	attempt := 0
	post := func() error {
		if attempt > 0 {
			u.recorder.IncCoverageUploadRetry()
			slog.Warn("Retrying coverage upload", logfields.URL(u.url), slog.Int("attempt", attempt))
		}
		attempt++

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(body))
		if err != nil {
			return &permanentUploadError{err}
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := u.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("coverage service returned %d", resp.StatusCode)
		default:
			return &permanentUploadError{fmt.Errorf("coverage service rejected upload: %d", resp.StatusCode)}
		}
	}

	if err := u.policy.Do(ctx, post, isTransientUploadError); err != nil {
		return fmt.Errorf("coverage upload failed: %w", err)
	}

	slog.Info("Coverage uploaded",
		logfields.URL(u.url),
		slog.Float64("percent", report.Percent()))
	return nil
}

type permanentUploadError struct{ err error }

func (e *permanentUploadError) Error() string { return e.err.Error() }
func (e *permanentUploadError) Unwrap() error { return e.err }

func isTransientUploadError(err error) bool {
	var perm *permanentUploadError
	return !errors.As(err, &perm)
}
