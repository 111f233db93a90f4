package msg

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// DomainMessage separates message key hashes from any other use of the
// same digest. The version suffix allows a future algorithm change.
const DomainMessage = "viewfold/message/v1"

// Key computes the content-addressed key of a message.
// Format: "%" + base64(SHA256(domain + 0x00 + canonical)) + ".sha256"
// where canonical is the canonical JSON of {author, content, timestamp}.
func Key(author string, timestamp int64, content Content) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"author":    author,
		"timestamp": timestamp,
		"content":   map[string]any(content),
	})
	if err != nil {
		return "", fmt.Errorf("message key: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(DomainMessage))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return "%" + base64.StdEncoding.EncodeToString(h.Sum(nil)) + ".sha256", nil
}

// MarshalCanonical produces canonical JSON used for key derivation.
//
// Differences from json.Marshal:
//  1. Object keys sorted bytewise, at every depth
//  2. No HTML escaping
//  3. Strings are NFC normalized
//  4. Numbers must be integral; fractional values are rejected
//  5. null is rejected
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		return writeCanonicalString(buf, val)
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case float64:
		if math.Trunc(val) != val || math.IsInf(val, 0) {
			return fmt.Errorf("non-integral number in canonical JSON: %v", val)
		}
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case json.Number:
		i, err := val.Int64()
		if err != nil {
			return fmt.Errorf("non-integral number in canonical JSON: %s", val)
		}
		buf.WriteString(strconv.FormatInt(i, 10))
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case Content:
		return writeCanonical(buf, map[string]any(val))
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

// writeCanonicalString writes an NFC-normalized JSON string without HTML
// escaping.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	// Encoder appends a newline.
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}
