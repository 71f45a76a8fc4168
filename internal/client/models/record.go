package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// TimeLayout is the fixed-width UTC layout used for every stored timestamp,
// so that lexical order in SQLite equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Reserved record keys shared by every entity.
const (
	FieldID           = "id"
	FieldClientID     = "client_id"
	FieldLastModified = "last_modified"
	FieldDeleted      = "deleted"
)

var ErrInvalidValue = errors.New("invalid field value")

// Record is a loosely typed entity row as exchanged with the server. Numbers
// decoded from the wire arrive as json.Number.
type Record map[string]any

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts any RFC 3339 timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// String returns the string stored under key.
func (r Record) String(key string) (string, bool) {
	s, ok := r[key].(string)
	return s, ok
}

// Int64 returns the integer stored under key, if present and integral.
func (r Record) Int64(key string) (int64, bool, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// Deleted reports whether the record carries a server-side deletion flag.
func (r Record) Deleted() bool {
	switch v := r[FieldDeleted].(type) {
	case bool:
		return v
	case json.Number:
		return v.String() != "0"
	case float64:
		return v != 0
	case int64:
		return v != 0
	case int:
		return v != 0
	}
	return false
}

// StorageValue converts v into the value stored for a column of the given
// kind: nil, string, int64 or float64. Booleans are stored as 0/1 and
// timestamps in TimeLayout.
func StorageValue(kind ColumnKind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case KindText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: want text, got %T", ErrInvalidValue, v)
		}
		return s, nil
	case KindInteger:
		return toInt64(v)
	case KindReal:
		return toFloat64(v)
	case KindBool:
		switch b := v.(type) {
		case bool:
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		default:
			n, err := toInt64(v)
			if err != nil || (n != 0 && n != 1) {
				return nil, fmt.Errorf("%w: want boolean, got %v", ErrInvalidValue, v)
			}
			return n, nil
		}
	case KindTime:
		switch t := v.(type) {
		case time.Time:
			return FormatTime(t), nil
		case string:
			parsed, err := ParseTime(t)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			return FormatTime(parsed), nil
		default:
			return nil, fmt.Errorf("%w: want timestamp, got %T", ErrInvalidValue, v)
		}
	}
	return nil, fmt.Errorf("%w: unknown column kind %d", ErrInvalidValue, kind)
}

// WireValue converts a stored value back into its typed form: text and
// timestamps as string, integers as int64, reals as float64, booleans as bool.
func WireValue(kind ColumnKind, stored any) any {
	if stored == nil {
		return nil
	}
	if b, ok := stored.([]byte); ok {
		stored = string(b)
	}
	switch kind {
	case KindBool:
		n, err := toInt64(stored)
		if err != nil {
			return stored
		}
		return n != 0
	case KindReal:
		f, err := toFloat64(stored)
		if err != nil {
			return stored
		}
		return f
	}
	return stored
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: want integer, got %s", ErrInvalidValue, n)
		}
		return i, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: want integer, got %v", ErrInvalidValue, n)
		}
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: want integer, got %q", ErrInvalidValue, n)
		}
		return i, nil
	}
	return 0, fmt.Errorf("%w: want integer, got %T", ErrInvalidValue, v)
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: want number, got %s", ErrInvalidValue, n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: want number, got %T", ErrInvalidValue, v)
}
