package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDefaults(t *testing.T) {
	setupTest(t)
	settings := SettingService{}

	cfg, err := settings.GetServerConfig()
	require.NoError(t, err)

	assert.Equal(t, "10.6.13", cfg.Subnet)
	assert.Equal(t, 1, cfg.OwnIP)
	assert.Equal(t, "10.6.13.1", cfg.ServerIP())
	assert.Equal(t, "wg0", cfg.WGInterface)
	assert.True(t, cfg.Enabled)
	assert.True(t, cfg.Obfuscation)
	assert.Equal(t, "INFO", cfg.VerbosityLevel)
	assert.Equal(t, "NONE", cfg.MaskingType)
	assert.False(t, cfg.MaskingForced)
	assert.Len(t, cfg.ObfuscationKey, 64)
	assert.NotEmpty(t, cfg.ServerPublicKey)
	assert.Equal(t, "203.0.113.10", cfg.ExternalIP)
	assert.Equal(t, DefaultExternalPort, cfg.ExternalPort)
}

func TestEnsureDefaultsIsStable(t *testing.T) {
	setupTest(t)
	settings := SettingService{}

	before, err := settings.GetServerConfig()
	require.NoError(t, err)

	// a second run must not rotate keys or overwrite settings
	require.NoError(t, settings.EnsureDefaults())
	after, err := settings.GetServerConfig()
	require.NoError(t, err)

	assert.Equal(t, before.ServerPublicKey, after.ServerPublicKey)
	assert.Equal(t, before.ObfuscationKey, after.ObfuscationKey)
}

func TestRegenerateObfuscationKey(t *testing.T) {
	setupTest(t)
	settings := SettingService{}

	before, err := settings.GetServerConfig()
	require.NoError(t, err)

	key, err := settings.RegenerateObfuscationKey()
	require.NoError(t, err)
	assert.Len(t, key, 64)
	assert.NotEqual(t, before.ObfuscationKey, key)
}

func TestVerbosityAndMaskingValidation(t *testing.T) {
	for _, level := range []string{"ERROR", "WARNING", "INFO", "DEBUG", "TRACE"} {
		assert.True(t, IsValidVerbosity(level))
	}
	assert.False(t, IsValidVerbosity("info"))
	assert.False(t, IsValidVerbosity(""))

	assert.True(t, IsValidMasking("NONE"))
	assert.True(t, IsValidMasking("STUN"))
	assert.False(t, IsValidMasking("AUTO"))
}
