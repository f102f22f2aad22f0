package bencode

import (
	"fmt"
	"math"
	"reflect"
)

// FromGo converts a native Go value into a BenType. Integers of any width,
// bools (as 0 or 1), strings, byte slices, slices and arrays, and maps with
// string keys are supported; anything else fails with ErrUnsupportedType.
func FromGo(v any) (BenType, error) {
	switch t := v.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil", ErrUnsupportedType)
	case BenType:
		if reflect.ValueOf(t).IsNil() {
			return nil, fmt.Errorf("%w: nil %T", ErrUnsupportedType, t)
		}
		return t, nil
	case bool:
		if t {
			return NewInteger(1), nil
		}
		return NewInteger(0), nil
	case string:
		return NewString(t), nil
	case []byte:
		return NewBytes(t), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return NewInteger(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedType, u)
		}
		return NewInteger(int64(u)), nil
	case reflect.String:
		return NewString(rv.String()), nil
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			// the element type may be a named uint8
			buf := make([]byte, rv.Len())
			for i := range buf {
				buf[i] = byte(rv.Index(i).Uint())
			}
			return NewBytes(buf), nil
		}
		list := NewList(make([]BenType, 0, rv.Len()))
		for i := 0; i < rv.Len(); i++ {
			item, err := FromGo(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			list.Add(item)
		}
		return list, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key %s", ErrUnsupportedType, rv.Type().Key())
		}
		dict := NewDictionary(nil)
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			value, err := FromGo(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			dict.Set(key, value)
		}
		return dict, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}
