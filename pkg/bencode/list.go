package bencode

import (
	"io"
	"strings"
)

type List struct {
	val []BenType
}

func NewList(val []BenType) *List {
	return &List{val: val}
}

func (l *List) Encode(w io.Writer) error {
	return encodeValue(w, l)
}

func (l *List) Add(item BenType) {
	l.val = append(l.val, item)
}

func (l *List) Value() []BenType {
	return l.val
}

func (l *List) Len() int {
	return len(l.val)
}

func (l *List) String() string {
	items := make([]string, 0, len(l.val))
	for _, benType := range l.val {
		items = append(items, stringOf(benType))
	}
	return "[" + strings.Join(items, " ") + "]"
}

func (*List) benType() {}

func stringOf(v BenType) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}
