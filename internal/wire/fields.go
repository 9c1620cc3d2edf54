package wire

import (
	"bytes"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/gatewire/errs"
)

// Sentinels distinguishing "field absent" from a real zero. They mirror the
// gateway's convention of encoding unset numerics as empty fields.
var (
	// UnsetInt marks an integer field that arrived empty.
	UnsetInt int64 = math.MaxInt64
	// UnsetFloat marks a floating-point field that arrived empty.
	UnsetFloat = math.MaxFloat64
	// UnsetDecimal marks a decimal field that arrived empty.
	UnsetDecimal = decimal.New(math.MaxInt64, 0)
)

// IsUnsetDecimal reports whether d carries the unset sentinel.
func IsUnsetDecimal(d decimal.Decimal) bool {
	return d.Equal(UnsetDecimal)
}

var fieldSep = []byte{0}

// Cursor iterates the NUL-delimited fields of one frame, left to right,
// exactly once. Typed reads fail with a decode error on underrun; the router
// checks for overrun after each message decode.
type Cursor struct {
	fields [][]byte
	idx    int
}

// NewCursor splits the frame payload into its delimited fields.
func NewCursor(frame []byte) *Cursor {
	fields := bytes.Split(frame, fieldSep)
	// Payloads terminate each field with NUL, leaving one empty trailing split.
	if n := len(fields); n > 0 && len(fields[n-1]) == 0 {
		fields = fields[:n-1]
	}
	return &Cursor{fields: fields}
}

// Len returns the total field count of the frame.
func (c *Cursor) Len() int { return len(c.fields) }

// Remaining returns the number of unconsumed fields.
func (c *Cursor) Remaining() int { return len(c.fields) - c.idx }

func (c *Cursor) next(kind string) ([]byte, error) {
	if c.idx >= len(c.fields) {
		return nil, errs.New("wire/fields", errs.CodeDecode,
			errs.WithMessage("field underrun reading "+kind))
	}
	raw := c.fields[c.idx]
	c.idx++
	return raw, nil
}

// NextString consumes the next field as a string. Empty fields are legal and
// decode to "".
func (c *Cursor) NextString() (string, error) {
	raw, err := c.next("string")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// NextInt consumes the next field as an integer; empty decodes to UnsetInt.
func (c *Cursor) NextInt() (int64, error) {
	raw, err := c.next("int")
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return UnsetInt, nil
	}
	v, perr := strconv.ParseInt(string(raw), 10, 64)
	if perr != nil {
		return 0, errs.New("wire/fields", errs.CodeDecode,
			errs.WithMessage("parse int field"), errs.WithCause(perr))
	}
	return v, nil
}

// NextFloat consumes the next field as a float; empty decodes to UnsetFloat.
func (c *Cursor) NextFloat() (float64, error) {
	raw, err := c.next("float")
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return UnsetFloat, nil
	}
	v, perr := strconv.ParseFloat(string(raw), 64)
	if perr != nil {
		return 0, errs.New("wire/fields", errs.CodeDecode,
			errs.WithMessage("parse float field"), errs.WithCause(perr))
	}
	return v, nil
}

// NextDecimal consumes the next field as an exact decimal; empty decodes to
// UnsetDecimal.
func (c *Cursor) NextDecimal() (decimal.Decimal, error) {
	raw, err := c.next("decimal")
	if err != nil {
		return decimal.Zero, err
	}
	if len(raw) == 0 {
		return UnsetDecimal, nil
	}
	v, perr := decimal.NewFromString(string(raw))
	if perr != nil {
		return decimal.Zero, errs.New("wire/fields", errs.CodeDecode,
			errs.WithMessage("parse decimal field"), errs.WithCause(perr))
	}
	return v, nil
}

// NextBool consumes the next field as a boolean. The gateway encodes booleans
// as "0"/"1"; empty decodes to false.
func (c *Cursor) NextBool() (bool, error) {
	raw, err := c.next("bool")
	if err != nil {
		return false, err
	}
	if len(raw) == 0 {
		return false, nil
	}
	return string(raw) != "0" && string(raw) != "false", nil
}

// NextTime consumes the next field as a unix-seconds timestamp; empty decodes
// to the zero time.
func (c *Cursor) NextTime() (time.Time, error) {
	raw, err := c.next("time")
	if err != nil {
		return time.Time{}, err
	}
	if len(raw) == 0 {
		return time.Time{}, nil
	}
	secs, perr := strconv.ParseInt(string(raw), 10, 64)
	if perr != nil {
		return time.Time{}, errs.New("wire/fields", errs.CodeDecode,
			errs.WithMessage("parse timestamp field"), errs.WithCause(perr))
	}
	return time.Unix(secs, 0).UTC(), nil
}

// RemainingFields snapshots the unconsumed fields, used when routing unknown
// message tags forward-compatibly.
func (c *Cursor) RemainingFields() []string {
	out := make([]string, 0, c.Remaining())
	for c.idx < len(c.fields) {
		out = append(out, string(c.fields[c.idx]))
		c.idx++
	}
	return out
}
