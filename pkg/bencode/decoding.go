package bencode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

var (
	ErrDecode       = errors.New("bencode: decode error")
	ErrMalformed    = fmt.Errorf("%w: malformed input", ErrDecode)
	ErrTruncated    = fmt.Errorf("%w: truncated input", ErrDecode)
	ErrTrailingData = fmt.Errorf("%w: trailing data", ErrDecode)
	ErrUnsortedKeys = fmt.Errorf("%w: dictionary keys out of order", ErrDecode)
)

const maxDepth = 512

// Decode reads r to the end and decodes exactly one value from it.
func Decode(r io.Reader) (BenType, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeBytes(data)
}

// DecodeBytes decodes exactly one value from data. Dictionary keys are
// accepted in any order; duplicate keys are rejected.
func DecodeBytes(data []byte) (BenType, error) {
	d := &decoder{data: data}
	return d.decode()
}

// DecodeStrict is DecodeBytes that also rejects dictionaries whose keys are
// not in ascending byte order.
func DecodeStrict(data []byte) (BenType, error) {
	d := &decoder{data: data, strict: true}
	return d.decode()
}

type decoder struct {
	data   []byte
	pos    int
	strict bool
}

func (d *decoder) decode() (BenType, error) {
	v, err := d.value(0)
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.data) {
		return nil, d.errorf(ErrTrailingData, "%d unconsumed bytes", len(d.data)-d.pos)
	}
	return v, nil
}

func (d *decoder) errorf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", kind, d.pos, fmt.Sprintf(format, args...))
}

func (d *decoder) value(depth int) (BenType, error) {
	if d.pos >= len(d.data) {
		return nil, d.errorf(ErrMalformed, "unexpected end of input")
	}
	if depth > maxDepth {
		return nil, d.errorf(ErrMalformed, "nesting deeper than %d", maxDepth)
	}
	switch c := d.data[d.pos]; {
	case c == 'i':
		return d.integer()
	case c == 'l':
		return d.list(depth)
	case c == 'd':
		return d.dictionary(depth)
	case isDigit(c):
		return d.string()
	default:
		return nil, d.errorf(ErrMalformed, "unexpected byte %q", c)
	}
}

// integer parses i[-]<digits>e
func (d *decoder) integer() (*Integer, error) {
	d.pos++
	end := bytes.IndexByte(d.data[d.pos:], 'e')
	if end < 0 {
		return nil, d.errorf(ErrMalformed, "unterminated integer")
	}
	raw := d.data[d.pos : d.pos+end]
	digits := raw
	negative := len(digits) > 0 && digits[0] == '-'
	if negative {
		digits = digits[1:]
	}
	if err := d.checkDigits(digits); err != nil {
		return nil, err
	}
	if negative && digits[0] == '0' {
		return nil, d.errorf(ErrMalformed, "negative zero")
	}
	val, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return nil, d.errorf(ErrMalformed, "integer %q out of range", raw)
	}
	d.pos += end + 1
	return NewInteger(val), nil
}

// string parses <length>:<bytes>
func (d *decoder) string() (*String, error) {
	colon := bytes.IndexByte(d.data[d.pos:], ':')
	if colon < 0 {
		return nil, d.errorf(ErrMalformed, "string length without ':'")
	}
	digits := d.data[d.pos : d.pos+colon]
	if err := d.checkDigits(digits); err != nil {
		return nil, err
	}
	length, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return nil, d.errorf(ErrMalformed, "string length %q out of range", digits)
	}
	start := d.pos + colon + 1
	if length > int64(len(d.data)-start) {
		return nil, d.errorf(ErrTruncated, "string of %d bytes, %d available", length, len(d.data)-start)
	}
	d.pos = start + int(length)
	return NewString(string(d.data[start:d.pos])), nil
}

func (d *decoder) list(depth int) (*List, error) {
	d.pos++
	list := NewList(make([]BenType, 0))
	for {
		if d.pos >= len(d.data) {
			return nil, d.errorf(ErrMalformed, "unterminated list")
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return list, nil
		}
		item, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}
		list.Add(item)
	}
}

func (d *decoder) dictionary(depth int) (*Dictionary, error) {
	d.pos++
	dict := NewDictionary(nil)
	var prev *String
	for {
		if d.pos >= len(d.data) {
			return nil, d.errorf(ErrMalformed, "unterminated dictionary")
		}
		c := d.data[d.pos]
		if c == 'e' {
			d.pos++
			return dict, nil
		}
		if !isDigit(c) {
			return nil, d.errorf(ErrMalformed, "dictionary key must be a string, got %q", c)
		}
		keyPos := d.pos
		key, err := d.string()
		if err != nil {
			return nil, err
		}
		if dict.Has(key.val) {
			d.pos = keyPos
			return nil, d.errorf(ErrMalformed, "duplicate key %q", key.val)
		}
		if d.strict && prev != nil && key.val < prev.val {
			d.pos = keyPos
			return nil, d.errorf(ErrUnsortedKeys, "%q after %q", key.val, prev.val)
		}
		prev = key
		value, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}
		dict.Add(*key, value)
	}
}

// checkDigits rejects empty input, non-digits and leading zeros ("0" itself
// is fine).
func (d *decoder) checkDigits(digits []byte) error {
	if len(digits) == 0 {
		return d.errorf(ErrMalformed, "digits expected")
	}
	for _, c := range digits {
		if !isDigit(c) {
			return d.errorf(ErrMalformed, "digit expected, got %q", c)
		}
	}
	if digits[0] == '0' && len(digits) > 1 {
		return d.errorf(ErrMalformed, "leading zero in %q", digits)
	}
	return nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
