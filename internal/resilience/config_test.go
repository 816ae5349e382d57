package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/cdm-builder/internal/config"
)

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.RetryConfig{
		MaxAttempts:      6,
		InitialBackoffMs: 250,
		MaxBackoffMs:     4000,
		Multiplier:       3,
		JitterFraction:   0.1,
	})
	assert.Equal(t, 6, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 4*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 3.0, cfg.Multiplier)
	assert.Equal(t, 0.1, cfg.JitterFraction)
}

func TestFromConfig_ZeroKeepsDefaults(t *testing.T) {
	assert.Equal(t, DefaultRetryConfig().MaxAttempts, FromConfig(config.RetryConfig{}).MaxAttempts)
	assert.Equal(t, DefaultRetryConfig().InitialBackoff, FromConfig(config.RetryConfig{}).InitialBackoff)
}
