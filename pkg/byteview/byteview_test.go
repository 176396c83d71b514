package byteview

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cilium-io/xdploader/pkg/loaderr"
)

func TestReadFixedBounds(t *testing.T) {
	v := New([]byte{1, 2, 3, 4})

	b, err := v.ReadFixed(1, 2)
	require.NoError(t, err)
	require.Equal(t, []byte{2, 3}, b)

	_, err = v.ReadFixed(3, 2)
	require.ErrorIs(t, err, loaderr.ErrOutOfBounds)

	_, err = v.ReadFixed(-1, 2)
	require.ErrorIs(t, err, loaderr.ErrOutOfBounds)
}

func TestReadIntegers(t *testing.T) {
	v := New([]byte{0xEF, 0xBE, 0xAD, 0xDE, 0x01, 0x00, 0x00, 0x00, 0x02, 0x00})

	u32, err := v.ReadUint32(0)
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), u32)

	u64, err := v.ReadUint64(0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x0000000100000000)|0xDEADBEEF, u64)

	u16, err := v.ReadUint16(8)
	require.NoError(t, err)
	require.Equal(t, uint16(2), u16)
}

func TestReadCString(t *testing.T) {
	table := []byte("\x00foo\x00bar")

	s, err := ReadCString(table, 1)
	require.NoError(t, err)
	require.Equal(t, "foo", s)

	// No trailing NUL: reads to end of table.
	s, err = ReadCString(table, 5)
	require.NoError(t, err)
	require.Equal(t, "bar", s)

	_, err = ReadCString(table, len(table)+1)
	require.ErrorIs(t, err, loaderr.ErrOutOfBounds)

	_, err = ReadCString([]byte{0xff, 0xfe, 0x00}, 0)
	require.ErrorIs(t, err, loaderr.ErrInvalidEncoding)
}
