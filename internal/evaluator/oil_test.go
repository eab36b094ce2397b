package evaluator

import (
	"testing"
	"time"

	"fleetguard/internal/model"
)

func oilDevice(id int64, section map[string]any) *model.Device {
	return &model.Device{
		ID:   id,
		Name: "truck-01",
		Attributes: model.Attributes{
			"maintenance": map[string]any{"oil": section},
		},
	}
}

func oilPosition(deviceID int64, fixTime time.Time, odometerMeters float64) model.Position {
	p := testPosition(deviceID, fixTime, 0)
	if odometerMeters > 0 {
		p.Attributes[model.KeyOdometer] = odometerMeters
	}
	return p
}

func TestOilDueByKm(t *testing.T) {
	e, _, _ := newEvaluatorForTest(testConfig())
	device := oilDevice(1, map[string]any{
		"lastServiceOdometer": 10000,
		"intervalKm":          5000,
	})
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	previous := oilPosition(1, base, 14_900_000)
	position := oilPosition(1, base.Add(10*time.Second), 15_200_000)

	event := e.evaluateOil(device, &position, &previous)
	if event == nil || event.Type != model.TypeOilChangeDue {
		t.Fatalf("expected due event, got %+v", event)
	}
	if v, _ := event.Attributes.String("oilReason"); v != "km" {
		t.Fatalf("expected reason km, got %q", v)
	}
	if v, _ := event.Attributes.String("maintenanceName"); v != "Troca de oleo" {
		t.Fatalf("expected maintenance name, got %q", v)
	}
	if v, _ := event.Attributes.Int("oilDueKm"); v != 15000 {
		t.Fatalf("expected due km 15000, got %d", v)
	}
	if v, _ := event.Attributes.Int("oilCurrentKm"); v != 15200 {
		t.Fatalf("expected current km 15200, got %d", v)
	}
	if v, _ := event.Attributes.Int("oilKmRemaining"); v != -200 {
		t.Fatalf("expected km remaining -200, got %d", v)
	}
	if _, ok := event.Attributes["oilDueDate"]; ok {
		t.Fatalf("expected no date attributes without date config")
	}

	sameDay := oilPosition(1, base.Add(time.Hour), 15_250_000)
	if event := e.evaluateOil(device, &sameDay, &position); event != nil {
		t.Fatalf("expected same-day repeat suppressed, got %+v", event)
	}

	nextDay := oilPosition(1, base.Add(25*time.Hour), 15_300_000)
	if event := e.evaluateOil(device, &nextDay, &sameDay); event == nil {
		t.Fatalf("expected event again on the next day")
	}
}

func TestOilSoonByKm(t *testing.T) {
	e, _, _ := newEvaluatorForTest(testConfig())
	device := oilDevice(1, map[string]any{
		"lastServiceOdometer": 10000,
		"intervalKm":          5000,
	})
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	start := oilPosition(1, base.Add(-10*time.Second), 14_935_000)
	previous := oilPosition(1, base, 14_940_000)
	if event := e.evaluateOil(device, &previous, &start); event != nil {
		t.Fatalf("expected no event below reminder window, got %+v", event)
	}

	position := oilPosition(1, base.Add(10*time.Second), 14_960_000)
	event := e.evaluateOil(device, &position, &previous)
	if event == nil || event.Type != model.TypeOilChangeSoon {
		t.Fatalf("expected soon event, got %+v", event)
	}
	if v, _ := event.Attributes.String("oilReason"); v != "km" {
		t.Fatalf("expected reason km, got %q", v)
	}
	if v, _ := event.Attributes.Int("oilKmRemaining"); v != 40 {
		t.Fatalf("expected km remaining 40, got %d", v)
	}
}

func TestOilDueByDate(t *testing.T) {
	e, _, _ := newEvaluatorForTest(testConfig())
	device := oilDevice(1, map[string]any{
		"lastServiceDate": "2026-01-31T10:00:00Z",
		"intervalMonths":  1,
	})

	soonAt := time.Date(2026, 2, 22, 10, 0, 0, 0, time.UTC)
	previous := oilPosition(1, soonAt.Add(-10*time.Second), 0)
	position := oilPosition(1, soonAt, 0)
	event := e.evaluateOil(device, &position, &previous)
	if event == nil || event.Type != model.TypeOilChangeSoon {
		t.Fatalf("expected soon event in reminder window, got %+v", event)
	}
	if v, _ := event.Attributes.String("oilReason"); v != "date" {
		t.Fatalf("expected reason date, got %q", v)
	}
	if v, _ := event.Attributes.Int("oilDaysRemaining"); v != 6 {
		t.Fatalf("expected 6 days remaining, got %d", v)
	}

	dueAt := time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC)
	previous = oilPosition(1, dueAt.Add(-10*time.Second), 0)
	position = oilPosition(1, dueAt, 0)
	event = e.evaluateOil(device, &position, &previous)
	if event == nil || event.Type != model.TypeOilChangeDue {
		t.Fatalf("expected due event at clamped month end, got %+v", event)
	}
	if v, _ := event.Attributes.String("oilDueDate"); v != "2026-02-28T10:00:00Z" {
		t.Fatalf("expected clamped due date, got %q", v)
	}
	if v, _ := event.Attributes.Int("oilDaysRemaining"); v != 0 {
		t.Fatalf("expected 0 days remaining, got %d", v)
	}
}

func TestOilDueByKmAndDate(t *testing.T) {
	e, _, _ := newEvaluatorForTest(testConfig())
	device := oilDevice(1, map[string]any{
		"lastServiceOdometer": 10000,
		"intervalKm":          5000,
		"lastServiceDate":     "2026-01-31T10:00:00Z",
		"intervalMonths":      1,
	})
	dueAt := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)

	previous := oilPosition(1, dueAt.Add(-10*time.Second), 15_100_000)
	position := oilPosition(1, dueAt, 15_200_000)
	event := e.evaluateOil(device, &position, &previous)
	if event == nil || event.Type != model.TypeOilChangeDue {
		t.Fatalf("expected due event, got %+v", event)
	}
	if v, _ := event.Attributes.String("oilReason"); v != "km,date" {
		t.Fatalf("expected combined reason, got %q", v)
	}
}

func TestOilRequiresPreviousPosition(t *testing.T) {
	e, _, _ := newEvaluatorForTest(testConfig())
	device := oilDevice(1, map[string]any{
		"lastServiceOdometer": 10000,
		"intervalKm":          5000,
	})
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	position := oilPosition(1, base, 15_200_000)

	if event := e.evaluateOil(device, &position, nil); event != nil {
		t.Fatalf("expected no event without a previous position, got %+v", event)
	}

	newer := oilPosition(1, base.Add(time.Minute), 15_300_000)
	if event := e.evaluateOil(device, &position, &newer); event != nil {
		t.Fatalf("expected no event for stale fix, got %+v", event)
	}
}

func TestOilDisabled(t *testing.T) {
	e, _, _ := newEvaluatorForTest(testConfig())
	device := oilDevice(1, map[string]any{
		"enabled":             false,
		"lastServiceOdometer": 10000,
		"intervalKm":          5000,
	})
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	previous := oilPosition(1, base, 14_900_000)
	position := oilPosition(1, base.Add(10*time.Second), 15_200_000)

	if event := e.evaluateOil(device, &position, &previous); event != nil {
		t.Fatalf("expected no event when disabled, got %+v", event)
	}
}

func TestResolveCurrentKm(t *testing.T) {
	device := oilDevice(1, map[string]any{
		"odometerCurrent":    12000,
		"baselineDistanceKm": 500,
		"baselineOdometerKm": 11900,
	})
	oil := oilConfigFromDevice(device)
	if oil == nil {
		t.Fatalf("expected oil config")
	}

	position := testPosition(1, time.Now().UTC(), 0)
	position.Attributes[model.KeyTotalDistance] = 700_000.0
	if v := resolveCurrentKm(oil, &position); v == nil || *v != 12100 {
		t.Fatalf("expected baseline-derived 12100, got %v", v)
	}

	bare := testPosition(1, time.Now().UTC(), 0)
	if v := resolveCurrentKm(oil, &bare); v == nil || *v != 12000 {
		t.Fatalf("expected configured odometer 12000, got %v", v)
	}
}

func TestPositionOdometerKm(t *testing.T) {
	position := testPosition(1, time.Now().UTC(), 0)
	position.Attributes[model.KeyOdometer] = 500_000.0
	position.Attributes[model.KeyTotalDistance] = 800_000.0
	if v := positionOdometerKm(&position); v == nil || *v != 800 {
		t.Fatalf("expected larger source 800, got %v", v)
	}

	position.Attributes[model.KeyOdometer] = 900_000.0
	if v := positionOdometerKm(&position); v == nil || *v != 900 {
		t.Fatalf("expected odometer 900, got %v", v)
	}

	empty := testPosition(1, time.Now().UTC(), 0)
	if v := positionOdometerKm(&empty); v != nil {
		t.Fatalf("expected nil without odometer sources, got %v", v)
	}
}

func TestAddMonthsClamped(t *testing.T) {
	cases := []struct {
		start  time.Time
		months int
		want   time.Time
	}{
		{time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC), 1, time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC)},
		{time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC), 1, time.Date(2024, 2, 29, 10, 0, 0, 0, time.UTC)},
		{time.Date(2026, 11, 30, 8, 30, 45, 0, time.UTC), 3, time.Date(2027, 2, 28, 8, 30, 45, 0, time.UTC)},
		{time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), 12, time.Date(2027, 3, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := addMonthsClamped(tc.start, tc.months); !got.Equal(tc.want) {
			t.Fatalf("%v + %d months: expected %v, got %v", tc.start, tc.months, tc.want, got)
		}
	}
}
