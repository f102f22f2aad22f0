package bencode

import (
	"io"
	"sort"
	"strings"
)

type Dictionary struct {
	val map[String]BenType
}

func NewDictionary(val map[String]BenType) *Dictionary {
	if val == nil {
		val = make(map[String]BenType)
	}
	return &Dictionary{val: val}
}

// Encode writes the dictionary with its keys in ascending byte order,
// whatever order they were added or decoded in.
func (d *Dictionary) Encode(w io.Writer) error {
	return encodeValue(w, d)
}

// Get returns nil when key is absent.
func (d *Dictionary) Get(key string) BenType {
	return d.val[String{val: key}]
}

func (d *Dictionary) Has(key string) bool {
	_, ok := d.val[String{val: key}]
	return ok
}

func (d *Dictionary) Add(key String, value BenType) {
	d.val[key] = value
}

func (d *Dictionary) Set(key string, value BenType) {
	d.val[String{val: key}] = value
}

func (d *Dictionary) Len() int {
	return len(d.val)
}

// Keys returns the keys in encoding order.
func (d *Dictionary) Keys() []string {
	keys := make([]string, 0, len(d.val))
	for key := range d.val {
		keys = append(keys, key.val)
	}
	sort.Strings(keys)
	return keys
}

func (d *Dictionary) String() string {
	items := make([]string, 0, len(d.val))
	for _, key := range d.Keys() {
		items = append(items, key+":"+stringOf(d.Get(key)))
	}
	return "{" + strings.Join(items, " ") + "}"
}

func (*Dictionary) benType() {}
