package evaluator

import (
	"math"

	"fleetguard/internal/model"
)

const (
	tireDefaultIntervalKm = 8000
	tireDefaultReminderKm = 1000

	tireStatusOK      = "OK"
	tireStatusDueSoon = "DUE_SOON"
	tireStatusOverdue = "OVERDUE"
)

type tireConfig struct {
	intervalKm          *int64
	reminderThresholdKm *int64
	lastRotationKm      *int64
}

type tireSchedule struct {
	nextKm    int64
	remaining int64
	status    string
}

func tireConfigFromDevice(device *model.Device) *tireConfig {
	maintenance, ok := device.Attributes.Section("maintenance")
	if !ok {
		return nil
	}
	tire, ok := maintenance.Section("tireRotation")
	if !ok {
		return nil
	}
	return &tireConfig{
		intervalKm:          longAttr(tire, "intervalKm"),
		reminderThresholdKm: longAttr(tire, "reminderThresholdKm"),
		lastRotationKm:      longAttr(tire, "lastRotationOdometerKm"),
	}
}

func computeTireSchedule(tire *tireConfig, currentKm int64) tireSchedule {
	interval := int64(tireDefaultIntervalKm)
	if tire.intervalKm != nil && *tire.intervalKm > 0 {
		interval = *tire.intervalKm
	}
	reminder := int64(tireDefaultReminderKm)
	if tire.reminderThresholdKm != nil && *tire.reminderThresholdKm > 0 {
		reminder = *tire.reminderThresholdKm
	}
	nextKm := *tire.lastRotationKm + interval
	remaining := nextKm - currentKm
	status := tireStatusOverdue
	if remaining > reminder {
		status = tireStatusOK
	} else if remaining > 0 {
		status = tireStatusDueSoon
	}
	return tireSchedule{nextKm: nextKm, remaining: remaining, status: status}
}

func (e *Evaluator) evaluateTire(device *model.Device, position *model.Position) *model.Event {
	tire := tireConfigFromDevice(device)
	if tire == nil || tire.lastRotationKm == nil {
		return nil
	}
	currentKm := tireOdometerKm(position)
	if currentKm == nil {
		return nil
	}
	schedule := computeTireSchedule(tire, *currentKm)

	e.mu.Lock()
	if e.tireStates[device.ID] == schedule.status {
		e.mu.Unlock()
		return nil
	}
	e.tireStates[device.ID] = schedule.status
	e.mu.Unlock()

	if schedule.status == tireStatusOK {
		return nil
	}

	eventType := model.TypeTireRotationSoon
	if schedule.status == tireStatusOverdue {
		eventType = model.TypeTireRotationDue
	}
	event := model.NewEvent(eventType, *position)
	event.Attributes["tireStatus"] = schedule.status
	event.Attributes["tireNextKm"] = schedule.nextKm
	event.Attributes["tireKmRemaining"] = schedule.remaining
	if tire.intervalKm != nil {
		event.Attributes["tireIntervalKm"] = *tire.intervalKm
	}
	if tire.reminderThresholdKm != nil {
		event.Attributes["tireReminderKm"] = *tire.reminderThresholdKm
	}
	return &event
}

func tireOdometerKm(position *model.Position) *int64 {
	meters, ok := position.Attributes.Float(model.KeyOdometer)
	if !ok {
		meters, ok = position.Attributes.Float(model.KeyTotalDistance)
	}
	if !ok {
		return nil
	}
	km := int64(math.Round(meters / 1000))
	if km < 0 {
		km = 0
	}
	return &km
}
