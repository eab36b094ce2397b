package ingest

import (
	"encoding/json"
	"strconv"
	"strings"

	"fleetguard/internal/model"
	"fleetguard/internal/normalize"
)

// DecodePosition decodes one JSON position object.
func DecodePosition(data []byte) (normalize.Record, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return normalize.Record{}, err
	}
	return DecodePositionMap(obj), nil
}

// DecodePositionMap maps loosely keyed position JSON onto a record.
// Lookup is case-insensitive and tolerates snake_case aliases.
func DecodePositionMap(obj map[string]any) normalize.Record {
	lower := make(map[string]any, len(obj))
	for key, val := range obj {
		lower[strings.ToLower(key)] = val
	}
	rec := normalize.Record{
		DeviceID:   intValue(first(lower, "deviceid", "device_id", "device")),
		FixTime:    stringValue(first(lower, "fixtime", "fix_time", "time", "timestamp")),
		DeviceTime: stringValue(first(lower, "devicetime", "device_time")),
		Latitude:   floatValue(first(lower, "latitude", "lat")),
		Longitude:  floatValue(first(lower, "longitude", "lon", "lng")),
		Speed:      floatValue(first(lower, "speed")),
		Course:     floatValue(first(lower, "course", "heading")),
	}
	if v, ok := lower["valid"].(bool); ok {
		rec.Valid = &v
	}
	if attrs, ok := lower["attributes"].(map[string]any); ok {
		rec.Attributes = model.Attributes(attrs)
	}
	return rec
}

func first(obj map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := obj[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		// Epoch timestamps must not pick up an exponent.
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func floatValue(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func intValue(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case int:
		return int64(t)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
