package giftcode

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const signField = "sign"

// Signer produces the md5 request signature the gift code API expects.
type Signer struct {
	Salt string
}

// Canonical renders fields as sorted key=value pairs joined by '&' followed
// by the salt. The sign field itself is never part of the input.
func (s Signer) Canonical(fields map[string]any) (string, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == signField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		v, err := renderValue(fields[k])
		if err != nil {
			return "", fmt.Errorf("field %s: %w", k, err)
		}
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	b.WriteString(s.Salt)
	return b.String(), nil
}

func (s Signer) Signature(fields map[string]any) (string, error) {
	canonical, err := s.Canonical(fields)
	if err != nil {
		return "", err
	}
	sum := md5.Sum([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// Sign returns a copy of fields with the sign field added.
func (s Signer) Sign(fields map[string]any) (map[string]any, error) {
	sig, err := s.Signature(fields)
	if err != nil {
		return nil, err
	}
	signed := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		signed[k] = v
	}
	signed[signField] = sig
	return signed, nil
}

// SignValues signs form values, using the first value of each key.
func (s Signer) SignValues(values url.Values) (url.Values, error) {
	fields := make(map[string]any, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}
	signed, err := s.Sign(fields)
	if err != nil {
		return nil, err
	}
	out := make(url.Values, len(values)+1)
	for k, v := range values {
		out[k] = append([]string(nil), v...)
	}
	out.Set(signField, signed[signField].(string))
	return out, nil
}

func renderValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case json.Number:
		return x.String(), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
