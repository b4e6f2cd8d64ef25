package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileHeaderRoundTrip(t *testing.T) {
	h := fileHeader{version: formatVers1, flags: flagCaseSensitive, fileSize: 12345}

	buf := encodeFileHeader(h)
	require.Len(t, buf, fileHeaderSize)

	got, err := decodeFileHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
	require.True(t, got.caseSensitive())
}

func TestDecodeFileHeaderBadMagic(t *testing.T) {
	buf := encodeFileHeader(fileHeader{version: formatVers1})
	buf[0] = 'X'

	_, err := decodeFileHeader(buf)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCorrupt))
}

func TestDecodeFileHeaderBadVersion(t *testing.T) {
	buf := encodeFileHeader(fileHeader{version: 99})

	_, err := decodeFileHeader(buf)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCorrupt))
}

func TestSlotHeaderRoundTrip(t *testing.T) {
	h := slotHeader{state: slotUsed, pathLen: 10, capacity: 200, payloadLen: 50, version: 7}

	buf := encodeSlotHeader(h)
	require.Len(t, buf, slotHeaderSize)

	got, err := decodeSlotHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDecodeSlotHeaderBadMagic(t *testing.T) {
	buf := encodeSlotHeader(slotHeader{state: slotUsed, capacity: 64})
	buf[0] = 0

	_, err := decodeSlotHeader(buf)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCorrupt))

	// Even with a bad magic, the raw fields must still be recoverable so
	// recover-mode Open can keep advancing the scan (§8.3 S6).
	raw := rawSlotHeaderFields(buf)
	require.EqualValues(t, 64, raw.capacity)
}

func TestDecodeSlotHeaderBadState(t *testing.T) {
	buf := encodeSlotHeader(slotHeader{state: slotUsed, capacity: 64})
	buf[4] = 9

	_, err := decodeSlotHeader(buf)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCorrupt))
}
