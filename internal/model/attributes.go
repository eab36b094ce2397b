package model

import (
	"math"
	"strconv"
	"strings"
	"time"
)

type Attributes map[string]any

func (a Attributes) String(key string) (string, bool) {
	switch t := a[key].(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int:
		return strconv.Itoa(t), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func (a Attributes) Float(key string) (float64, bool) {
	switch t := a[key].(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func (a Attributes) Int(key string) (int64, bool) {
	if f, ok := a.Float(key); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int64(math.Round(f)), true
	}
	return 0, false
}

func (a Attributes) Bool(key string) (bool, bool) {
	switch t := a[key].(type) {
	case bool:
		return t, true
	case string:
		if b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(t))); err == nil {
			return b, true
		}
	}
	return false, false
}

func (a Attributes) BoolOr(key string, fallback bool) bool {
	if v, ok := a.Bool(key); ok {
		return v
	}
	return fallback
}

func (a Attributes) FloatOr(key string, fallback float64) float64 {
	if v, ok := a.Float(key); ok {
		return v
	}
	return fallback
}

func (a Attributes) StringOr(key, fallback string) string {
	if v, ok := a.String(key); ok && v != "" {
		return v
	}
	return fallback
}

func (a Attributes) Time(key string) (time.Time, bool) {
	if s, ok := a.String(key); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}, false
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (a Attributes) Section(key string) (Attributes, bool) {
	switch t := a[key].(type) {
	case Attributes:
		return t, true
	case map[string]any:
		return Attributes(t), true
	}
	return nil, false
}

func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

func SplitCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
