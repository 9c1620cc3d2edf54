package wire

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// Builder assembles an outbound message payload field by field. Every field is
// NUL-terminated; unset numerics encode as empty fields so the server can tell
// absent from zero.
type Builder struct {
	buf []byte
}

// NewBuilder returns an empty payload builder.
func NewBuilder() *Builder {
	return &Builder{buf: make([]byte, 0, 128)}
}

// AddInt appends an integer field; UnsetInt encodes as empty.
func (b *Builder) AddInt(v int64) *Builder {
	if v != UnsetInt {
		b.buf = strconv.AppendInt(b.buf, v, 10)
	}
	return b.terminate()
}

// AddFloat appends a float field; UnsetFloat encodes as empty.
func (b *Builder) AddFloat(v float64) *Builder {
	if v != UnsetFloat {
		b.buf = strconv.AppendFloat(b.buf, v, 'g', -1, 64)
	}
	return b.terminate()
}

// AddDecimal appends a decimal field; UnsetDecimal encodes as empty.
func (b *Builder) AddDecimal(v decimal.Decimal) *Builder {
	if !IsUnsetDecimal(v) {
		b.buf = append(b.buf, v.String()...)
	}
	return b.terminate()
}

// AddString appends a string field.
func (b *Builder) AddString(v string) *Builder {
	b.buf = append(b.buf, v...)
	return b.terminate()
}

// AddBool appends a boolean field encoded as "0"/"1".
func (b *Builder) AddBool(v bool) *Builder {
	if v {
		b.buf = append(b.buf, '1')
	} else {
		b.buf = append(b.buf, '0')
	}
	return b.terminate()
}

// AddEmpty appends an explicitly empty field.
func (b *Builder) AddEmpty() *Builder {
	return b.terminate()
}

func (b *Builder) terminate() *Builder {
	b.buf = append(b.buf, 0)
	return b
}

// Bytes returns the assembled payload.
func (b *Builder) Bytes() []byte {
	return b.buf
}
