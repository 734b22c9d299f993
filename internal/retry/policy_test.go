package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"git.home.luguber.info/inful/cirunner/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyValid(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())
}

func TestDelay_Fixed(t *testing.T) {
	p := Policy{Mode: config.RetryBackoffFixed, Initial: 2 * time.Second, Max: time.Minute, MaxRetries: 3}
	require.Equal(t, 2*time.Second, p.Delay(1))
	require.Equal(t, 2*time.Second, p.Delay(5))
}

func TestDelay_LinearCapped(t *testing.T) {
	p := Policy{Mode: config.RetryBackoffLinear, Initial: time.Second, Max: 3 * time.Second, MaxRetries: 5}
	require.Equal(t, time.Second, p.Delay(1))
	require.Equal(t, 2*time.Second, p.Delay(2))
	require.Equal(t, 3*time.Second, p.Delay(4))
}

func TestDelay_ExponentialCapped(t *testing.T) {
	p := Policy{Mode: config.RetryBackoffExponential, Initial: time.Second, Max: 5 * time.Second, MaxRetries: 5}
	require.Equal(t, time.Second, p.Delay(1))
	require.Equal(t, 2*time.Second, p.Delay(2))
	require.Equal(t, 4*time.Second, p.Delay(3))
	require.Equal(t, 5*time.Second, p.Delay(4))
}

func TestDelay_ZeroForNoRetry(t *testing.T) {
	require.Equal(t, time.Duration(0), DefaultPolicy().Delay(0))
}

func TestFromConfig_NilGivesDefault(t *testing.T) {
	require.Equal(t, DefaultPolicy(), FromConfig(nil))
}

func TestFromConfig_Overrides(t *testing.T) {
	four := 4
	rc := &config.RetryConfig{
		Backoff:    config.RetryBackoffExponential,
		Initial:    config.Duration(500 * time.Millisecond),
		Max:        config.Duration(10 * time.Second),
		MaxRetries: &four,
	}
	p := FromConfig(rc)
	require.Equal(t, config.RetryBackoffExponential, p.Mode)
	require.Equal(t, 500*time.Millisecond, p.Initial)
	require.Equal(t, 10*time.Second, p.Max)
	require.Equal(t, 4, p.MaxRetries)
}

func TestFromConfig_OmittedMaxRetriesKeepsDefault(t *testing.T) {
	p := FromConfig(&config.RetryConfig{Backoff: config.RetryBackoffFixed})
	require.Equal(t, DefaultPolicy().MaxRetries, p.MaxRetries)
}

func TestFromConfig_ExplicitZeroDisablesRetries(t *testing.T) {
	zero := 0
	p := FromConfig(&config.RetryConfig{MaxRetries: &zero})
	require.Equal(t, 0, p.MaxRetries)
}

func TestFromConfig_InitialClampedToMax(t *testing.T) {
	rc := &config.RetryConfig{
		Initial: config.Duration(time.Minute),
		Max:     config.Duration(time.Second),
	}
	p := FromConfig(rc)
	require.Equal(t, p.Max, p.Initial)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	p := Policy{Mode: config.RetryBackoffFixed, Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: 5}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return errors.New("permanent")
	}, func(error) bool { return false })
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDo_RetriesTransientUntilExhausted(t *testing.T) {
	p := Policy{Mode: config.RetryBackoffFixed, Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: 2}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return errors.New("transient")
	}, nil)
	require.Error(t, err)
	require.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestDo_SucceedsAfterRetry(t *testing.T) {
	p := Policy{Mode: config.RetryBackoffFixed, Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: 3}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}
