package bencode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
)

var ErrUnsupportedType = errors.New("bencode: unsupported type")

// BenType is one of *Integer, *String, *List or *Dictionary.
type BenType interface {
	fmt.Stringer
	Encode(w io.Writer) error
	benType()
}

// Encode writes every item of data one after another.
func Encode(w io.Writer, data []BenType) error {
	for _, item := range data {
		if err := encodeValue(w, item); err != nil {
			return err
		}
	}
	return nil
}

// Marshal returns the canonical encoding of v.
func Marshal(v BenType) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := encodeValue(buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(w io.Writer, v BenType) error {
	switch t := v.(type) {
	case *Integer:
		if t == nil {
			break
		}
		_, err := w.Write(strconv.AppendInt([]byte{'i'}, t.val, 10))
		if err != nil {
			return err
		}
		_, err = w.Write([]byte{'e'})
		return err
	case *String:
		if t == nil {
			break
		}
		_, err := w.Write(append(strconv.AppendInt(nil, int64(len(t.val)), 10), ':'))
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, t.val)
		return err
	case *List:
		if t == nil {
			break
		}
		if _, err := w.Write([]byte{'l'}); err != nil {
			return err
		}
		for _, item := range t.val {
			if err := encodeValue(w, item); err != nil {
				return err
			}
		}
		_, err := w.Write([]byte{'e'})
		return err
	case *Dictionary:
		if t == nil {
			break
		}
		if _, err := w.Write([]byte{'d'}); err != nil {
			return err
		}
		keys := make([]String, 0, len(t.val))
		for key := range t.val {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool {
			return keys[i].val < keys[j].val
		})
		for _, key := range keys {
			key := key
			if err := encodeValue(w, &key); err != nil {
				return err
			}
			if err := encodeValue(w, t.val[key]); err != nil {
				return fmt.Errorf("key %q: %w", key.val, err)
			}
		}
		_, err := w.Write([]byte{'e'})
		return err
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}
