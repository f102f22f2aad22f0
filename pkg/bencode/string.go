package bencode

import (
	"encoding/hex"
	"io"
	"unicode"
)

// String is a Bencode byte string. The bytes are kept in a Go string so that
// String values can be used as map keys; they are not required to be UTF-8.
type String struct {
	val string
}

func NewString(val string) *String {
	return &String{val: val}
}

func NewBytes(val []byte) *String {
	return &String{val: string(val)}
}

func (s *String) Encode(w io.Writer) error {
	return encodeValue(w, s)
}

func (s *String) Value() string {
	return s.val
}

func (s *String) Bytes() []byte {
	return []byte(s.val)
}

func (s *String) Len() int {
	return len(s.val)
}

func (s *String) String() string {
	for i := 0; i < len(s.val); i++ {
		if s.val[i] > unicode.MaxASCII || !unicode.IsPrint(rune(s.val[i])) {
			// binary data such as piece hashes
			return hex.EncodeToString([]byte(s.val))
		}
	}
	return s.val
}

func (*String) benType() {}
