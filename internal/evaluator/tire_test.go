package evaluator

import (
	"testing"
	"time"

	"fleetguard/internal/model"
)

func tireDevice(id int64, section map[string]any) *model.Device {
	return &model.Device{
		ID:   id,
		Name: "truck-01",
		Attributes: model.Attributes{
			"maintenance": map[string]any{"tireRotation": section},
		},
	}
}

func tirePosition(deviceID int64, odometerMeters float64) model.Position {
	p := testPosition(deviceID, time.Now().UTC(), 0)
	p.Attributes[model.KeyOdometer] = odometerMeters
	return p
}

func TestComputeTireSchedule(t *testing.T) {
	last := int64(100000)
	tire := &tireConfig{lastRotationKm: &last}

	cases := []struct {
		currentKm     int64
		wantStatus    string
		wantNext      int64
		wantRemaining int64
	}{
		{100500, tireStatusOK, 108000, 7500},
		{106999, tireStatusOK, 108000, 1001},
		{107000, tireStatusDueSoon, 108000, 1000},
		{107500, tireStatusDueSoon, 108000, 500},
		{107999, tireStatusDueSoon, 108000, 1},
		{108000, tireStatusOverdue, 108000, 0},
		{108500, tireStatusOverdue, 108000, -500},
	}
	for _, tc := range cases {
		schedule := computeTireSchedule(tire, tc.currentKm)
		if schedule.status != tc.wantStatus || schedule.nextKm != tc.wantNext || schedule.remaining != tc.wantRemaining {
			t.Fatalf("current %d: expected %s next %d remaining %d, got %+v",
				tc.currentKm, tc.wantStatus, tc.wantNext, tc.wantRemaining, schedule)
		}
	}

	interval := int64(6000)
	reminder := int64(500)
	tire = &tireConfig{lastRotationKm: &last, intervalKm: &interval, reminderThresholdKm: &reminder}
	schedule := computeTireSchedule(tire, 105_600)
	if schedule.status != tireStatusDueSoon || schedule.nextKm != 106000 || schedule.remaining != 400 {
		t.Fatalf("expected configured interval schedule, got %+v", schedule)
	}
}

func TestTireStateTransitions(t *testing.T) {
	e, _, _ := newEvaluatorForTest(testConfig())
	device := tireDevice(1, map[string]any{"lastRotationOdometerKm": 100000})

	ok := tirePosition(1, 100_500_000)
	if event := e.evaluateTire(device, &ok); event != nil {
		t.Fatalf("expected no event while OK, got %+v", event)
	}

	soon := tirePosition(1, 107_500_000)
	event := e.evaluateTire(device, &soon)
	if event == nil || event.Type != model.TypeTireRotationSoon {
		t.Fatalf("expected soon event, got %+v", event)
	}
	if v, _ := event.Attributes.String("tireStatus"); v != tireStatusDueSoon {
		t.Fatalf("expected DUE_SOON status, got %q", v)
	}
	if v, _ := event.Attributes.Int("tireNextKm"); v != 108000 {
		t.Fatalf("expected next km 108000, got %d", v)
	}
	if v, _ := event.Attributes.Int("tireKmRemaining"); v != 500 {
		t.Fatalf("expected 500 km remaining, got %d", v)
	}
	if _, ok := event.Attributes["tireIntervalKm"]; ok {
		t.Fatalf("default interval must not be echoed")
	}

	repeat := tirePosition(1, 107_600_000)
	if event := e.evaluateTire(device, &repeat); event != nil {
		t.Fatalf("expected repeated state suppressed, got %+v", event)
	}

	overdue := tirePosition(1, 108_500_000)
	event = e.evaluateTire(device, &overdue)
	if event == nil || event.Type != model.TypeTireRotationDue {
		t.Fatalf("expected overdue event, got %+v", event)
	}
	if v, _ := event.Attributes.Int("tireKmRemaining"); v != -500 {
		t.Fatalf("expected -500 km remaining, got %d", v)
	}

	back := tirePosition(1, 100_500_000)
	if event := e.evaluateTire(device, &back); event != nil {
		t.Fatalf("expected silent return to OK, got %+v", event)
	}
}

func TestTireConfiguredThresholdsEchoed(t *testing.T) {
	e, _, _ := newEvaluatorForTest(testConfig())
	device := tireDevice(1, map[string]any{
		"lastRotationOdometerKm": 100000,
		"intervalKm":             6000,
		"reminderThresholdKm":    500,
	})

	position := tirePosition(1, 105_600_000)
	event := e.evaluateTire(device, &position)
	if event == nil || event.Type != model.TypeTireRotationSoon {
		t.Fatalf("expected soon event, got %+v", event)
	}
	if v, _ := event.Attributes.Int("tireIntervalKm"); v != 6000 {
		t.Fatalf("expected interval 6000, got %d", v)
	}
	if v, _ := event.Attributes.Int("tireReminderKm"); v != 500 {
		t.Fatalf("expected reminder 500, got %d", v)
	}
}

func TestTireRequiresConfigAndOdometer(t *testing.T) {
	e, _, _ := newEvaluatorForTest(testConfig())

	plain := &model.Device{ID: 1}
	position := tirePosition(1, 108_500_000)
	if event := e.evaluateTire(plain, &position); event != nil {
		t.Fatalf("expected no event without config, got %+v", event)
	}

	missingLast := tireDevice(2, map[string]any{"intervalKm": 6000})
	if event := e.evaluateTire(missingLast, &position); event != nil {
		t.Fatalf("expected no event without last rotation, got %+v", event)
	}

	device := tireDevice(3, map[string]any{"lastRotationOdometerKm": 100000})
	noOdometer := testPosition(3, time.Now().UTC(), 0)
	if event := e.evaluateTire(device, &noOdometer); event != nil {
		t.Fatalf("expected no event without odometer, got %+v", event)
	}
}

func TestTireFallsBackToTotalDistance(t *testing.T) {
	e, _, _ := newEvaluatorForTest(testConfig())
	device := tireDevice(1, map[string]any{"lastRotationOdometerKm": 100000})

	position := testPosition(1, time.Now().UTC(), 0)
	position.Attributes[model.KeyTotalDistance] = 108_500_000.0
	event := e.evaluateTire(device, &position)
	if event == nil || event.Type != model.TypeTireRotationDue {
		t.Fatalf("expected overdue event from total distance, got %+v", event)
	}
}
