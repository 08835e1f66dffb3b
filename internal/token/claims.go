package token

import (
	"encoding/json"
	"math"
	"time"
)

// Claims is the verified claim set of a token. Numbers decode as float64, so
// the accessors normalize them.
type Claims map[string]any

func (c Claims) String(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c Claims) Int(key string) (int, bool) {
	switch v := c[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

// Time reads a claim stored as unix seconds.
func (c Claims) Time(key string) (time.Time, bool) {
	n, ok := c.Int(key)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(n), 0).UTC(), true
}

func (c Claims) UserID() string { return c.String(ClaimUserID) }

func (c Claims) Email() string { return c.String(ClaimEmail) }

func (c Claims) TokenID() string { return c.String("jti") }
