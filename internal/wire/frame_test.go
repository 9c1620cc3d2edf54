package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantfold/gatewire/errs"
)

// chunkedReader drips bytes out in fixed-size chunks to simulate partial
// socket arrivals.
type chunkedReader struct {
	data  []byte
	chunk int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.chunk
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func frameBytes(t *testing.T, payloads ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	for _, p := range payloads {
		require.NoError(t, fw.WriteFrame(p))
	}
	return buf.Bytes()
}

func TestFrameReaderReassemblesPartialArrivals(t *testing.T) {
	first := []byte("1\x002\x00AAPL\x00")
	second := []byte("9\x001\x0042\x00")
	stream := frameBytes(t, first, second)

	fr := NewFrameReader(&chunkedReader{data: stream, chunk: 3}, 1<<20)

	got, err := fr.Next()
	require.NoError(t, err)
	require.Equal(t, first, got)

	got, err = fr.Next()
	require.NoError(t, err)
	require.Equal(t, second, got)

	_, err = fr.Next()
	require.Equal(t, io.EOF, err)

	frames, total := fr.Stats()
	require.Equal(t, uint64(2), frames)
	require.Equal(t, uint64(len(stream)), total)
}

func TestFrameReaderRejectsOversizeFrame(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 1<<24)
	buf.Write(header[:])

	fr := NewFrameReader(&buf, 1<<20)
	_, err := fr.Next()
	require.Error(t, err)
	require.Equal(t, errs.CodeFraming, errs.CodeOf(err))
}

func TestFrameReaderRejectsZeroLengthFrame(t *testing.T) {
	fr := NewFrameReader(bytes.NewReader([]byte{0, 0, 0, 0}), 1<<20)
	_, err := fr.Next()
	require.Error(t, err)
	require.Equal(t, errs.CodeFraming, errs.CodeOf(err))
}

func TestFrameReaderTruncatedPayloadIsNetworkError(t *testing.T) {
	stream := frameBytes(t, []byte("1\x00data\x00"))
	fr := NewFrameReader(bytes.NewReader(stream[:len(stream)-2]), 1<<20)
	_, err := fr.Next()
	require.Error(t, err)
	require.Equal(t, errs.CodeNetwork, errs.CodeOf(err))
}

func TestFrameReaderHandlesFramesLargerThanScratch(t *testing.T) {
	big := bytes.Repeat([]byte{'x'}, reusableBufferCap*2)
	big = append(big, 0)
	stream := frameBytes(t, big)

	fr := NewFrameReader(bytes.NewReader(stream), 1<<20)
	got, err := fr.Next()
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestFrameWriterRejectsEmptyPayload(t *testing.T) {
	fw := NewFrameWriter(&bytes.Buffer{})
	err := fw.WriteFrame(nil)
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
}
