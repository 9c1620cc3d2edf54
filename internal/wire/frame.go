// Package wire implements the gateway's length-prefixed framing and
// NUL-delimited field encoding.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/quantfold/gatewire/errs"
)

const (
	// lengthPrefixSize is the big-endian frame length header width.
	lengthPrefixSize = 4
	// reusableBufferCap caps the scratch buffer retained between frames; larger
	// frames allocate one-off so sustained tick streaming cannot pin memory.
	reusableBufferCap = 8 << 10
)

// FrameReader reassembles length-prefixed frames from an append-only byte
// stream. Frames are yielded in arrival order; the returned payload is valid
// only until the next call to Next.
type FrameReader struct {
	r        io.Reader
	maxFrame int

	header  [lengthPrefixSize]byte
	scratch []byte

	frames uint64
	bytes  uint64
}

// NewFrameReader wraps the reader with a frame reassembler. Frames declaring
// more than maxFrame payload bytes fail with a framing error.
func NewFrameReader(r io.Reader, maxFrame int) *FrameReader {
	if maxFrame <= 0 {
		maxFrame = 1 << 20
	}
	return &FrameReader{
		r:        r,
		maxFrame: maxFrame,
		scratch:  make([]byte, 0, reusableBufferCap),
	}
}

// Next blocks until one complete frame is available and returns its payload.
// io.EOF is returned unwrapped when the stream ends cleanly between frames.
func (fr *FrameReader) Next() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errs.New("wire/frame", errs.CodeNetwork,
			errs.WithMessage("read length prefix"), errs.WithCause(err))
	}

	size := binary.BigEndian.Uint32(fr.header[:])
	if size == 0 {
		return nil, errs.New("wire/frame", errs.CodeFraming,
			errs.WithMessage("zero-length frame"))
	}
	if int(size) > fr.maxFrame {
		return nil, errs.New("wire/frame", errs.CodeFraming,
			errs.WithMessage(fmt.Sprintf("declared frame length %d exceeds limit %d", size, fr.maxFrame)))
	}

	var payload []byte
	if int(size) <= reusableBufferCap {
		payload = fr.scratch[:size]
	} else {
		payload = make([]byte, size)
	}
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, errs.New("wire/frame", errs.CodeNetwork,
			errs.WithMessage("read frame payload"), errs.WithCause(err))
	}

	fr.frames++
	fr.bytes += uint64(size) + lengthPrefixSize
	return payload, nil
}

// Stats reports frames and bytes consumed since construction.
func (fr *FrameReader) Stats() (frames, bytes uint64) {
	return fr.frames, fr.bytes
}

// FrameWriter emits length-prefixed frames onto a byte stream. Callers must
// serialize access; the session's write queue owns that guarantee.
type FrameWriter struct {
	w io.Writer

	frames uint64
	bytes  uint64
}

// NewFrameWriter wraps the writer with frame encoding.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes one payload with its length prefix.
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	if len(payload) == 0 {
		return errs.New("wire/frame", errs.CodeInvalid,
			errs.WithMessage("empty frame payload"))
	}
	var header [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := fw.w.Write(header[:]); err != nil {
		return errs.New("wire/frame", errs.CodeNetwork,
			errs.WithMessage("write length prefix"), errs.WithCause(err))
	}
	if _, err := fw.w.Write(payload); err != nil {
		return errs.New("wire/frame", errs.CodeNetwork,
			errs.WithMessage("write frame payload"), errs.WithCause(err))
	}
	fw.frames++
	fw.bytes += uint64(len(payload)) + lengthPrefixSize
	return nil
}

// Stats reports frames and bytes written since construction.
func (fw *FrameWriter) Stats() (frames, bytes uint64) {
	return fw.frames, fw.bytes
}
