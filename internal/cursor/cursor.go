// Package cursor encodes and decodes opaque pagination cursors.
// A cursor is base64url JSON followed by a truncated HMAC-SHA256 tag, so
// tokens are tamper-evident but not encrypted. Sort key values are carried
// as string literals to avoid float64 precision loss.
package cursor

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"dcsa-query/internal/queryerr"
	"dcsa-query/internal/valuetype"
)

const (
	version = 1
	tagSize = 16
)

// ParameterName is the query parameter reported in decoding errors.
var ParameterName = "cursor"

// Mode selects the paging strategy a cursor continues.
type Mode string

const (
	ModeKeyset Mode = "keyset"
	ModeOffset Mode = "offset"
)

// SortKey is one entry of the cursor's sort snapshot, by external field name.
type SortKey struct {
	Field      string `json:"f"`
	Descending bool   `json:"d,omitempty"`
}

// Cursor is the decoded pagination position plus the request it continues.
// Values holds the boundary row's sort key literals; a nil entry is SQL NULL
// and an empty slice means the first page.
type Cursor struct {
	Entity   string              `json:"e"`
	Mode     Mode                `json:"m"`
	Backward bool                `json:"b,omitempty"`
	Sort     []SortKey           `json:"s"`
	Values   []*string           `json:"v,omitempty"`
	PageSize int                 `json:"n"`
	Offset   int                 `json:"o,omitempty"`
	Filters  map[string][]string `json:"q,omitempty"`
	Fields   []string            `json:"p,omitempty"`
	Count    bool                `json:"c,omitempty"`
	Total    *int64              `json:"t,omitempty"`
}

type payload struct {
	Version int `json:"ver"`
	Cursor
}

// Codec signs and verifies cursor tokens with a shared secret.
type Codec struct {
	secret []byte
}

// NewCodec returns a codec keyed by secret. An empty secret still detects
// corruption but not forgery.
func NewCodec(secret []byte) *Codec {
	return &Codec{secret: append([]byte(nil), secret...)}
}

// Encode produces the opaque token for c.
func (k *Codec) Encode(c Cursor) (string, error) {
	if err := c.validate(); err != nil {
		return "", fmt.Errorf("cannot encode cursor: %w", err)
	}
	data, err := json.Marshal(payload{Version: version, Cursor: c})
	if err != nil {
		return "", fmt.Errorf("cannot encode cursor: %w", err)
	}
	buf := make([]byte, 0, len(data)+tagSize)
	buf = append(buf, data...)
	buf = append(buf, k.tag(data)...)
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Decode verifies and parses a token. Every failure is an InvalidParameterError.
func (k *Codec) Decode(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, invalid("malformed token", err)
	}
	if len(raw) <= tagSize {
		return Cursor{}, invalid("token is too short", nil)
	}
	data, tag := raw[:len(raw)-tagSize], raw[len(raw)-tagSize:]
	if !hmac.Equal(tag, k.tag(data)) {
		return Cursor{}, invalid("checksum mismatch", nil)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var p payload
	if err := dec.Decode(&p); err != nil {
		return Cursor{}, invalid("unreadable payload", err)
	}
	if p.Version != version {
		return Cursor{}, invalid(fmt.Sprintf("unsupported version %d", p.Version), nil)
	}
	if err := p.Cursor.validate(); err != nil {
		return Cursor{}, invalid("inconsistent payload", err)
	}
	return p.Cursor, nil
}

func (k *Codec) tag(data []byte) []byte {
	mac := hmac.New(sha256.New, k.secret)
	mac.Write(data)
	return mac.Sum(nil)[:tagSize]
}

func (c Cursor) validate() error {
	if c.Entity == "" {
		return errors.New("missing entity")
	}
	if len(c.Sort) == 0 {
		return errors.New("missing sort keys")
	}
	for i, key := range c.Sort {
		if key.Field == "" {
			return fmt.Errorf("sort key %d has no field", i)
		}
	}
	if c.PageSize <= 0 {
		return errors.New("page size must be positive")
	}
	switch c.Mode {
	case ModeKeyset:
		if c.Offset != 0 {
			return errors.New("keyset cursor carries an offset")
		}
		if len(c.Values) != 0 && len(c.Values) != len(c.Sort) {
			return fmt.Errorf("value count mismatch: %d values for %d sort keys", len(c.Values), len(c.Sort))
		}
		if c.Backward && len(c.Values) == 0 {
			return errors.New("backward cursor without a position")
		}
	case ModeOffset:
		if c.Offset < 0 {
			return errors.New("offset must not be negative")
		}
		if len(c.Values) != 0 || c.Backward {
			return errors.New("offset cursor carries a keyset position")
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Total != nil && *c.Total < 0 {
		return errors.New("total must not be negative")
	}
	return nil
}

func invalid(msg string, err error) error {
	return &queryerr.InvalidParameterError{
		Parameter: ParameterName,
		Message:   "invalid cursor: " + msg,
		Err:       err,
	}
}

// EncodeValues renders row values as cursor literals; nil stays nil.
func EncodeValues(values []any) []*string {
	out := make([]*string, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		s := valuetype.FormatLiteral(v)
		out[i] = &s
	}
	return out
}
