package protocol

import (
	"testing"

	"github.com/desertwitch/workio/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStartRequest_RoundTrip tests packing arguments into a start request.
func TestStartRequest_RoundTrip(t *testing.T) {
	t.Parallel()

	args, err := Marshal(OpArgs{URL: "file:///tmp/a", Dest: "file:///tmp/b", Overwrite: true, Mode: 0o644})
	require.NoError(t, err)

	b, err := Marshal(StartRequest{Kind: schema.OpCopy, Args: args})
	require.NoError(t, err)

	var req StartRequest
	require.NoError(t, Unmarshal(b, &req))
	assert.Equal(t, schema.OpCopy, req.Kind)

	var got OpArgs
	require.NoError(t, Unmarshal(req.Args, &got))
	assert.Equal(t, "file:///tmp/a", got.URL)
	assert.Equal(t, "file:///tmp/b", got.Dest)
	assert.True(t, got.Overwrite)
	assert.Equal(t, uint32(0o644), got.Mode)
}

// TestUnmarshal_Malformed tests that garbage payloads are reported.
func TestUnmarshal_Malformed(t *testing.T) {
	t.Parallel()

	var ws WorkerStatus
	require.ErrorIs(t, Unmarshal([]byte{0xff, 0x00}, &ws), ErrMalformedPayload)
}

// TestMetaData_WireOrder tests that metadata keeps its order on the wire.
func TestMetaData_WireOrder(t *testing.T) {
	t.Parallel()

	b, err := EncodeMetaData(schema.NewMetaData("z", "1", "a", "2"))
	require.NoError(t, err)

	m, err := DecodeMetaData(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a"}, m.Keys())
	assert.Equal(t, "2", m.Value("a"))
}

// TestEntries_RoundTrip tests list entries on the wire.
func TestEntries_RoundTrip(t *testing.T) {
	t.Parallel()

	e := schema.NewEntry("file.txt")
	e.SetNumber(schema.FieldSize, 42)
	e.SetString(schema.FieldUser, "root")

	b, err := Marshal([]schema.Entry{e})
	require.NoError(t, err)

	var got []schema.Entry
	require.NoError(t, Unmarshal(b, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "file.txt", got[0].Name())
	assert.Equal(t, int64(42), got[0].Size())
	assert.Equal(t, "root", got[0].String(schema.FieldUser))
}

// TestSizeAndBool tests the fixed size payload helpers.
func TestSizeAndBool(t *testing.T) {
	t.Parallel()

	n, err := DecodeSize(EncodeSize(1 << 40))
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), n)

	_, err = DecodeSize([]byte{1, 2})
	require.ErrorIs(t, err, ErrMalformedPayload)

	v, err := DecodeBool(EncodeBool(true))
	require.NoError(t, err)
	assert.True(t, v)

	_, err = DecodeBool(nil)
	require.ErrorIs(t, err, ErrMalformedPayload)
}

// TestIsCompatibleVersion tests the major version check.
func TestIsCompatibleVersion(t *testing.T) {
	t.Parallel()

	assert.True(t, IsCompatibleVersion(Major, Minor+3))
	assert.False(t, IsCompatibleVersion(Major+1, 0))
}
