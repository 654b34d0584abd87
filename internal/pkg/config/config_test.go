package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ClaimAgent/internal/pkg/env"
)

const testKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="

func setRequired(t *testing.T) {
	env.Env = map[string]string{}
	t.Setenv("PROVIDER_CODE", "PRV1")
	t.Setenv("ENCRYPTION_KEY", testKey)
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "PRV1", cfg.ProviderCode)
	assert.Equal(t, 5*time.Minute, cfg.Lease)
	assert.Equal(t, 40, cfg.PacketSize)
	assert.Equal(t, time.Minute, cfg.DispatchBackoff)
	assert.Equal(t, 5*time.Minute, cfg.AttachmentBackoff)
	assert.Equal(t, 300, cfg.StagePageSize)
	assert.Equal(t, 25, cfg.StageTxSize)
	assert.Equal(t, 500, cfg.MappingPostChunk)
	assert.Equal(t, 60*time.Second, cfg.Intake.Timeout)
	assert.Equal(t, "127.0.0.1:8085", cfg.Addr())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"missing provider", "PROVIDER_CODE", ""},
		{"key not base64", "ENCRYPTION_KEY", "not base64!"},
		{"packet too large", "DISPATCH_PACKET_SIZE", "41"},
		{"lease too short", "LEASE_SECONDS", "10"},
		{"tx too large", "STAGE_TX_SIZE", "26"},
		{"unknown env", "APP_ENV", "staging"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)
			if tt.value == "" {
				env.Env = map[string]string{tt.key: ""}
			}

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
