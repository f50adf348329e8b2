package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))

	header := binary.BigEndian.Uint32(buf.Bytes()[:4])
	assert.Equal(t, uint32(0x80000005), header)

	msg, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), msg)
}

func TestReadFrame_Fragments(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	frag := func(last bool, body string) {
		h := uint32(len(body))
		if last {
			h |= lastFragment
		}
		var hb [4]byte
		binary.BigEndian.PutUint32(hb[:], h)
		buf.Write(hb[:])
		buf.WriteString(body)
	}
	frag(false, "cred")
	frag(false, "")
	frag(true, "cache")

	msg, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "credcache", string(msg))
}

func TestReadFrame_TooLarge(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, make([]byte, 64)))

	_, err := ReadFrame(&buf, 32)
	assert.True(t, errors.Is(err, ErrMessageTooLarge))
}

func TestReadFrame_Truncated(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("complete")))
	truncated := bytes.NewReader(buf.Bytes()[:6])

	_, err := ReadFrame(truncated, 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadFrame(bytes.NewReader(nil), 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	in := &LockStatus{
		Object: "ccache:1",
		Locks: []LockEntry{
			{ID: "a", Mode: 1, Pending: false, Client: "c1", Since: 1700000000},
			{ID: "b", Mode: 0, Pending: true, Client: "c2", Since: 1700000001},
		},
	}
	data, err := Encode(in)
	require.NoError(t, err)

	out := new(LockStatus)
	require.NoError(t, Decode(data, out))
	assert.Equal(t, in, out)

	assert.Equal(t, "LOCK", OpLock.String())
	assert.Equal(t, "OP_99", Op(99).String())
}
