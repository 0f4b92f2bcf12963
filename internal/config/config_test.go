package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.Session.StepBudget)
	assert.Equal(t, 3, cfg.Session.MaxConsecutiveFailures)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.StabilityInterval)
	assert.Equal(t, 10*time.Second, cfg.Session.StabilityTimeout)
	assert.Equal(t, 15*time.Second, cfg.Session.AppearanceTimeout)
	assert.Equal(t, 3, cfg.Session.RetryAttempts)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, "applypilot.db", cfg.Store.Path)
}

func TestLoad_Overrides(t *testing.T) {
	v := newViper(t)
	v.Set("session.step_budget", 5)
	v.Set("browser.headless", true)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Session.StepBudget)
	assert.True(t, cfg.Browser.Headless)
}

func TestValidate_RejectsDisabledEnvelopes(t *testing.T) {
	tests := []struct {
		name string
		set  func(v *viper.Viper)
	}{
		{"zero step budget", func(v *viper.Viper) { v.Set("session.step_budget", 0) }},
		{"negative failure cap", func(v *viper.Viper) { v.Set("session.max_consecutive_failures", -1) }},
		{"single stability sample", func(v *viper.Viper) { v.Set("session.stability_samples", 1) }},
		{"zero retry attempts", func(v *viper.Viper) { v.Set("session.retry_attempts", 0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper(t)
			tt.set(v)
			_, err := Load(v)
			assert.Error(t, err)
		})
	}
}
