package serializer

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"unicode/utf8"

	"github.com/mr-tron/base58"
)

var (
	ErrEmptyInput  = errors.New("empty base58 input")
	ErrInvalidUTF8 = errors.New("string is not valid UTF-8")
)

// Base58Encode encodes byte slice to base58 string.
func Base58Encode(input []byte) string {
	return base58.Encode(input)
}

// Base58Decode decodes base58 string to byte slice.
func Base58Decode(input string) ([]byte, error) {
	if input == "" {
		return nil, ErrEmptyInput
	}
	decode, err := base58.Decode(input)
	if err != nil {
		return nil, err
	}

	return decode, nil
}

// Canonical serializes v to the canonical JSON form used for hashing and signing.
// Object keys are sorted, there is no insignificant white space, HTML characters are not escaped
// and numbers keep their literal representation, so the same document always results in the same bytes.
// Documents with invalid UTF-8 strings are rejected, encoding/json would replace the bytes with U+FFFD.
func Canonical(v any) ([]byte, error) {
	if !ValidUTF8(v) {
		return nil, ErrInvalidUTF8
	}
	raw, err := marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	return marshal(generic)
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ValidUTF8 reports whether every string reachable from v, map keys included, is valid UTF-8.
func ValidUTF8(v any) bool {
	return validUTF8(reflect.ValueOf(v), 0)
}

// maxDepth stops the walk on cyclic values, encoding/json reports the cycle.
const maxDepth = 1000

func validUTF8(v reflect.Value, depth int) bool {
	if depth > maxDepth {
		return true
	}
	depth++
	switch v.Kind() {
	case reflect.String:
		return utf8.ValidString(v.String())
	case reflect.Interface, reflect.Pointer:
		return v.IsNil() || validUTF8(v.Elem(), depth)
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if !validUTF8(iter.Key(), depth) || !validUTF8(iter.Value(), depth) {
				return false
			}
		}
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return true
		}
		for i := 0; i < v.Len(); i++ {
			if !validUTF8(v.Index(i), depth) {
				return false
			}
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() && !validUTF8(v.Field(i), depth) {
				return false
			}
		}
	}
	return true
}
