package header

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRPC_OK(t *testing.T) {
	h, err := ParseRPC([]byte("1.1 json Single"))
	require.NoError(t, err)
	require.Equal(t, "1.1", h.Version)
	require.Equal(t, "json", h.Serializer)
	require.Equal(t, Single, h.Type)
}

func TestParseRPC_CompatibleMinor(t *testing.T) {
	_, err := ParseRPC([]byte("1.2 json Single"))
	require.NoError(t, err, "1.2 should satisfy the >=1.1,<2.0 constraint")
}

func TestParseRPC_UnsupportedMajor(t *testing.T) {
	_, err := ParseRPC([]byte("2.0 json Single"))
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestParseRPC_Malformed(t *testing.T) {
	_, err := ParseRPC([]byte("1.1 json"))
	require.Error(t, err, "missing message type should fail to parse")
}

func TestParseEvent_OK(t *testing.T) {
	h, err := ParseEvent([]byte("1.1 proto"))
	require.NoError(t, err)
	require.Equal(t, "1.1", h.Version)
	require.Equal(t, "proto", h.Serializer)
}

func TestFormatRPC_RoundTrip(t *testing.T) {
	line := FormatRPC("json", Single)
	h, err := ParseRPC(line)
	require.NoError(t, err)
	require.Equal(t, "json", h.Serializer)
	require.Equal(t, Single, h.Type)
}

func TestFormatEvent_RoundTrip(t *testing.T) {
	line := FormatEvent("json")
	h, err := ParseEvent(line)
	require.NoError(t, err)
	require.Equal(t, "json", h.Serializer)
}
