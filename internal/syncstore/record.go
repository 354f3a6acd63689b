package syncstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LocalIDPrefix marks ids synthesised on the device. Remote ids never carry it.
const LocalIDPrefix = "local-"

// Record is one row of a domain table as a JSON object. Every record carries
// "id", "user_id" and "created_at"; the remaining keys are table specific.
type Record map[string]any

func (r Record) ID() string {
	return stringField(r["id"])
}

func (r Record) UserID() string {
	return stringField(r["user_id"])
}

// CreatedAt parses the created_at field; unparsable values give the zero time.
func (r Record) CreatedAt() time.Time {
	switch v := r["created_at"].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// IsLocal reports whether the record only has a device-assigned id.
func (r Record) IsLocal() bool {
	return IsLocalID(r.ID())
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

func stringField(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	default:
		return fmt.Sprint(x)
	}
}
