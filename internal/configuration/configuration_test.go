package configuration

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Read(filenames ...string) (map[string]string, error) {
	args := m.Called(filenames)

	envMap, _ := args.Get(0).(map[string]string)

	return envMap, args.Error(1)
}

// TestMapKeyTo_Success tests the typed accessors.
func TestMapKeyTo_Success(t *testing.T) {
	t.Parallel()

	c := &ConfigProviderImpl{}
	envMap := map[string]string{
		"S": "text", "I": "42", "B": "TRUE", "D1": "90", "D2": "1m30s", "BAD": "x",
	}

	assert.Equal(t, "text", c.MapKeyToString(envMap, "S"))
	assert.Empty(t, c.MapKeyToString(envMap, "MISSING"))
	assert.Equal(t, 42, c.MapKeyToInt(envMap, "I"))
	assert.Equal(t, -1, c.MapKeyToInt(envMap, "BAD"))
	assert.Equal(t, int64(42), c.MapKeyToInt64(envMap, "I"))
	assert.True(t, c.MapKeyToBool(envMap, "B", false))
	assert.True(t, c.MapKeyToBool(envMap, "BAD", true))
	assert.Equal(t, 90*time.Second, c.MapKeyToDuration(envMap, "D1"))
	assert.Equal(t, 90*time.Second, c.MapKeyToDuration(envMap, "D2"))
	assert.Equal(t, time.Duration(-1), c.MapKeyToDuration(envMap, "BAD"))
}

// TestLoad_Success tests loading a file with environment precedence.
func TestLoad_Success(t *testing.T) {
	t.Parallel()

	p := &mockProvider{}
	p.On("Read", []string{"workio.conf"}).Return(map[string]string{
		KeyIdleTimeout:   "60",
		KeyMaxIdlePerKey: "2",
		KeySchemeDirs:    "/a:/b",
	}, nil)

	cfg, err := Load(&ConfigProviderImpl{GenericConfigReader: p},
		[]string{"WORKIO_MAX_IDLE_PER_KEY=4", "HOME=/root"}, "workio.conf")
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 4, cfg.MaxIdlePerKey)
	assert.Equal(t, []string{"/a", "/b"}, cfg.SchemeDirs)
	assert.Equal(t, 30*time.Second, cfg.ResumeAnswerTimeout)
	assert.Equal(t, 8, cfg.SpeedSamples)

	p.AssertExpectations(t)
}

// TestLoad_Fail_Invalid tests that present but invalid values are rejected.
func TestLoad_Fail_Invalid(t *testing.T) {
	t.Parallel()

	_, err := Load(&ConfigProviderImpl{}, []string{"WORKIO_SPAWN_TIMEOUT=soon"})
	require.ErrorIs(t, err, ErrInvalidValue)

	_, err = Load(&ConfigProviderImpl{}, []string{"WORKIO_SPEED_SAMPLES=1"})
	require.ErrorIs(t, err, ErrInvalidValue)
}

// TestLoad_Fail_Read tests that read errors are propagated.
func TestLoad_Fail_Read(t *testing.T) {
	t.Parallel()

	readErr := errors.New("boom")

	p := &mockProvider{}
	p.On("Read", []string{"missing.conf"}).Return(nil, readErr)

	_, err := Load(&ConfigProviderImpl{GenericConfigReader: p}, nil, "missing.conf")
	require.ErrorIs(t, err, readErr)

	p.AssertExpectations(t)
}

// TestGodotenvProvider_Read_Success tests reading a real environment file.
func TestGodotenvProvider_Read_Success(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "workio.conf")
	require.NoError(t, os.WriteFile(path, []byte("WORKIO_SPEED_SAMPLES=16\n# comment\nWORKIO_LOG_LEVEL=DEBUG\n"), 0o600))

	cfg, err := Load(&ConfigProviderImpl{GenericConfigReader: &GodotenvProvider{}}, nil, path)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.SpeedSamples)
	assert.Equal(t, "debug", cfg.LogLevel)
}

// TestGodotenvProvider_Read_Descriptor_Success tests reading a scheme
// descriptor with an override file, and an empty file list.
func TestGodotenvProvider_Read_Descriptor_Success(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := filepath.Join(dir, "mem.protocol")
	override := filepath.Join(dir, "override.protocol")
	require.NoError(t, os.WriteFile(base, []byte("EXEC=/usr/lib/workio/mem\nMAX_INSTANCES=2\nREADING=true\n"), 0o600))
	require.NoError(t, os.WriteFile(override, []byte("MAX_INSTANCES=4\n"), 0o600))

	envMap, err := (&GodotenvProvider{}).Read(base, override)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"EXEC":          "/usr/lib/workio/mem",
		"MAX_INSTANCES": "4",
		"READING":       "true",
	}, envMap)

	envMap, err = (&GodotenvProvider{}).Read()
	require.NoError(t, err)
	assert.Empty(t, envMap)
}

// TestGodotenvProvider_Read_Fail tests reading a missing file.
func TestGodotenvProvider_Read_Fail(t *testing.T) {
	t.Parallel()

	_, err := (&GodotenvProvider{}).Read(filepath.Join(t.TempDir(), "nope"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
