package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_UnmarshalString(t *testing.T) {
	var p Pipeline
	require.NoError(t, yaml.Unmarshal([]byte("script: [\"true\"]\nstep_timeout: 90s\n"), &p))
	require.Equal(t, 90*time.Second, p.StepTimeout.Std())
}

func TestDuration_RejectsGarbage(t *testing.T) {
	var p Pipeline
	err := yaml.Unmarshal([]byte("step_timeout: quickly\n"), &p)
	require.Error(t, err)
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	d := Duration(5 * time.Minute)
	out, err := yaml.Marshal(d)
	require.NoError(t, err)
	require.Equal(t, "5m0s\n", string(out))
}
