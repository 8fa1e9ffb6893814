package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/desertwitch/workio/internal/configuration"
	"github.com/desertwitch/workio/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDescriptor(t *testing.T, dir, name, content string) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, name+DescriptorSuffix), []byte(content), 0o600))
}

func newReader() *configuration.ConfigProviderImpl {
	return &configuration.ConfigProviderImpl{GenericConfigReader: &configuration.GodotenvProvider{}}
}

// TestNew_Success tests reading descriptors from a directory.
func TestNew_Success(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDescriptor(t, dir, "sftp", "EXEC=workio-worker\nMAX_INSTANCES=4\nMAX_INSTANCES_PER_HOST=2\nREADING=true\nLISTING=true\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o600))

	r, err := New(newReader(), dir)
	require.NoError(t, err)

	s, ok := r.Lookup("sftp")
	require.True(t, ok)
	assert.Equal(t, "workio-worker", s.Exec)
	assert.Equal(t, 4, s.MaxWorkers)
	assert.Equal(t, 2, s.HostLimit())
	assert.True(t, s.Source)
	assert.True(t, s.Supports(schema.OpGet))
	assert.True(t, s.Supports(schema.OpStat))
	assert.False(t, s.Supports(schema.OpDelete))
	assert.False(t, s.Supports(schema.OpCopy))
	assert.Equal(t, []string{"sftp"}, r.Schemes())
}

// TestNew_Defaults tests the defaults of a minimal descriptor.
func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDescriptor(t, dir, "trash", "EXEC=trash-worker\n")

	r, err := New(newReader(), dir)
	require.NoError(t, err)

	s, ok := r.Lookup("trash")
	require.True(t, ok)
	assert.Equal(t, 1, s.MaxWorkers)
	assert.Equal(t, 0, s.MaxWorkersPerHost)
	assert.Equal(t, 1, s.HostLimit())
}

// TestNew_Fail_MissingExec tests that descriptors need an executable.
func TestNew_Fail_MissingExec(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDescriptor(t, dir, "broken", "READING=true\n")

	_, err := New(newReader(), dir)
	require.ErrorIs(t, err, ErrInvalidDescriptor)
}

// TestLookup_RescanOnMiss tests that a miss rescans the directories once.
func TestLookup_RescanOnMiss(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	r, err := New(newReader(), dir, filepath.Join(dir, "missing"))
	require.NoError(t, err)

	_, ok := r.Lookup("late")
	assert.False(t, ok, "unknown scheme is not zero capability")

	writeDescriptor(t, dir, "late", "EXEC=late-worker\nDELETING=1\n")

	s, ok := r.Lookup("late")
	require.True(t, ok)
	assert.True(t, s.Supports(schema.OpDelete))
}

// TestNewStatic_Success tests an in-memory registry.
func TestNewStatic_Success(t *testing.T) {
	t.Parallel()

	r := NewStatic(Scheme{Name: "mem", MaxWorkers: 0, Reading: true, Writing: true})
	r.Register(Scheme{Name: "other", MaxWorkers: 3, MaxWorkersPerHost: 5})

	s, ok := r.Lookup("mem")
	require.True(t, ok)
	assert.Equal(t, 1, s.MaxWorkers)
	assert.True(t, s.Supports(schema.OpCopy))

	o, ok := r.Lookup("other")
	require.True(t, ok)
	assert.Equal(t, 3, o.HostLimit())

	_, ok = r.Lookup("nope")
	assert.False(t, ok)
}
