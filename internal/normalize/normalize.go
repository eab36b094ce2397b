package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"fleetguard/internal/config"
	"fleetguard/internal/model"
)

// Record is the decoded wire form of a position before validation.
// Timestamps stay raw strings so every source can share the layout
// handling below.
type Record struct {
	DeviceID   int64
	FixTime    string
	DeviceTime string
	Valid      *bool
	Latitude   float64
	Longitude  float64
	Speed      float64
	Course     float64
	Attributes model.Attributes
}

// Normalize validates rec and produces a position ready for the pipeline.
// Fix times outside the configured skew window are replaced with server
// time; missing device time falls back to the fix time.
func Normalize(rec Record, now time.Time, cfg *config.Config) (model.Position, error) {
	if rec.DeviceID <= 0 {
		return model.Position{}, errors.New("missing device id")
	}
	if !finite(rec.Latitude) || rec.Latitude < -90 || rec.Latitude > 90 {
		return model.Position{}, fmt.Errorf("latitude out of range: %v", rec.Latitude)
	}
	if !finite(rec.Longitude) || rec.Longitude < -180 || rec.Longitude > 180 {
		return model.Position{}, fmt.Errorf("longitude out of range: %v", rec.Longitude)
	}
	if !finite(rec.Speed) || rec.Speed < 0 {
		return model.Position{}, fmt.Errorf("invalid speed: %v", rec.Speed)
	}

	now = now.UTC()
	fixTime := now
	if rec.FixTime != "" {
		parsed, err := ParseTimestamp(rec.FixTime)
		if err != nil {
			return model.Position{}, fmt.Errorf("parse fix time: %w", err)
		}
		fixTime = parsed.UTC()
	}
	past := time.Duration(cfg.Pipeline.MaxPastSkew)
	future := time.Duration(cfg.Pipeline.MaxFutureSkew)
	if past > 0 && fixTime.Before(now.Add(-past)) {
		fixTime = now
	}
	if future > 0 && fixTime.After(now.Add(future)) {
		fixTime = now
	}

	deviceTime := fixTime
	if rec.DeviceTime != "" {
		if parsed, err := ParseTimestamp(rec.DeviceTime); err == nil {
			deviceTime = parsed.UTC()
		}
	}

	valid := true
	if rec.Valid != nil {
		valid = *rec.Valid
	}

	course := rec.Course
	if !finite(course) {
		course = 0
	}

	return model.Position{
		DeviceID:   rec.DeviceID,
		ServerTime: now,
		DeviceTime: deviceTime,
		FixTime:    fixTime,
		Valid:      valid,
		Latitude:   rec.Latitude,
		Longitude:  rec.Longitude,
		Speed:      rec.Speed,
		Course:     course,
		Attributes: rec.Attributes,
	}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
}

// ParseTimestamp accepts RFC3339 variants and bare epoch seconds or
// milliseconds.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	// 13+ digits can only be milliseconds.
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
