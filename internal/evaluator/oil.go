package evaluator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"fleetguard/internal/model"
)

const (
	oilPreDueKmThreshold = 50
	oilPreDueDays        = 7
	oilMaintenanceName   = "Troca de oleo"
)

type oilConfig struct {
	enabled             bool
	odometerCurrentKm   *int64
	lastServiceOdometer *int64
	lastServiceDate     *time.Time
	intervalKm          *int64
	intervalMonths      *int64
	baselineDistanceKm  *int64
	baselineOdometerKm  *int64
}

func oilConfigFromDevice(device *model.Device) *oilConfig {
	maintenance, ok := device.Attributes.Section("maintenance")
	if !ok {
		return nil
	}
	oil, ok := maintenance.Section("oil")
	if !ok {
		return nil
	}
	return &oilConfig{
		enabled:             oil.BoolOr("enabled", true),
		odometerCurrentKm:   longAttr(oil, "odometerCurrent"),
		lastServiceOdometer: longAttr(oil, "lastServiceOdometer"),
		lastServiceDate:     timeAttr(oil, "lastServiceDate"),
		intervalKm:          positiveLongAttr(oil, "intervalKm"),
		intervalMonths:      positiveLongAttr(oil, "intervalMonths"),
		baselineDistanceKm:  longAttr(oil, "baselineDistanceKm"),
		baselineOdometerKm:  longAttr(oil, "baselineOdometerKm"),
	}
}

func (c *oilConfig) dueKm() *int64 {
	if c.lastServiceOdometer == nil || c.intervalKm == nil {
		return nil
	}
	v := *c.lastServiceOdometer + *c.intervalKm
	return &v
}

func (c *oilConfig) dueDate() *time.Time {
	if c.lastServiceDate == nil || c.intervalMonths == nil {
		return nil
	}
	v := addMonthsClamped(*c.lastServiceDate, int(*c.intervalMonths))
	return &v
}

func (e *Evaluator) evaluateOil(device *model.Device, position, previous *model.Position) *model.Event {
	if previous == nil || position.FixTime.Before(previous.FixTime) {
		return nil
	}
	oil := oilConfigFromDevice(device)
	if oil == nil || !oil.enabled {
		return nil
	}

	dueKm := oil.dueKm()
	dueDate := oil.dueDate()
	var soonKm *int64
	if dueKm != nil {
		v := *dueKm - oilPreDueKmThreshold
		if v < 0 {
			v = 0
		}
		soonKm = &v
	}
	var soonDate *time.Time
	if dueDate != nil {
		v := dueDate.Add(-oilPreDueDays * 24 * time.Hour)
		soonDate = &v
	}

	oldKm := resolveCurrentKm(oil, previous)
	currentKm := resolveCurrentKm(oil, position)
	oldTime := resolvePositionTime(previous)
	newTime := resolvePositionTime(position)
	if newTime == nil {
		return nil
	}

	dueByKm := dueKm != nil && currentKm != nil && *currentKm >= *dueKm
	dueByDate := dueDate != nil && !newTime.Before(*dueDate)
	soonByKm := !dueByKm && soonKm != nil && currentKm != nil &&
		*currentKm >= *soonKm && *currentKm < *dueKm
	soonByDate := !dueByDate && soonDate != nil &&
		!newTime.Before(*soonDate) && newTime.Before(*dueDate)

	cycleKey := oilCycleKey(device.ID, dueKm, dueDate)

	if dueByKm || dueByDate {
		if !e.shouldNotifyToday(cycleKey, model.TypeOilChangeDue, *newTime) {
			e.logOilEvaluation(device.ID, oil, dueKm, dueDate, oldKm, currentKm, oldTime, newTime, "due_suppressed")
			return nil
		}
		event := oilEvent(position, currentKm, dueKm, dueDate, dueByKm, dueByDate, model.TypeOilChangeDue)
		e.logOilEvaluation(device.ID, oil, dueKm, dueDate, oldKm, currentKm, oldTime, newTime, "due")
		return event
	}

	if soonByKm || soonByDate {
		if !e.shouldNotifyToday(cycleKey, model.TypeOilChangeSoon, *newTime) {
			e.logOilEvaluation(device.ID, oil, dueKm, dueDate, oldKm, currentKm, oldTime, newTime, "soon_suppressed")
			return nil
		}
		event := oilEvent(position, currentKm, dueKm, dueDate, soonByKm, soonByDate, model.TypeOilChangeSoon)
		e.logOilEvaluation(device.ID, oil, dueKm, dueDate, oldKm, currentKm, oldTime, newTime, "soon")
		return event
	}

	e.logOilEvaluation(device.ID, oil, dueKm, dueDate, oldKm, currentKm, oldTime, newTime, "none")
	return nil
}

func oilEvent(position *model.Position, currentKm, dueKm *int64, dueDate *time.Time, byKm, byDate bool, eventType string) *model.Event {
	reasons := make([]string, 0, 2)
	if byKm {
		reasons = append(reasons, "km")
	}
	if byDate {
		reasons = append(reasons, "date")
	}
	if len(reasons) == 0 {
		return nil
	}
	event := model.NewEvent(eventType, *position)
	event.Attributes["oilReason"] = strings.Join(reasons, ",")
	event.Attributes["maintenanceName"] = oilMaintenanceName
	if dueKm != nil {
		event.Attributes["oilDueKm"] = *dueKm
	}
	if currentKm != nil {
		event.Attributes["oilCurrentKm"] = *currentKm
	}
	if dueDate != nil {
		event.Attributes["oilDueDate"] = dueDate.UTC().Format(time.RFC3339)
		days := math.Round(float64(dueDate.UnixMilli()-event.EventTime.UnixMilli()) / (24 * 60 * 60 * 1000))
		event.Attributes["oilDaysRemaining"] = int64(days)
	}
	if currentKm != nil && dueKm != nil {
		event.Attributes["oilKmRemaining"] = *dueKm - *currentKm
	}
	return &event
}

type oilNotifyKey struct {
	cycle     string
	eventType string
}

func (e *Evaluator) shouldNotifyToday(cycleKey, eventType string, when time.Time) bool {
	key := oilNotifyKey{cycle: cycleKey, eventType: eventType}
	today := when.UTC().Format("2006-01-02")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.oilNotified[key] == today {
		return false
	}
	e.oilNotified[key] = today
	return true
}

func (e *Evaluator) logOilEvaluation(deviceID int64, oil *oilConfig, dueKm *int64, dueDate *time.Time, oldKm, currentKm *int64, oldTime, newTime *time.Time, decision string) {
	if e.logger == nil {
		return
	}
	e.logger.Debug("oil maintenance evaluated",
		"device_id", deviceID,
		"due_km", logLong(dueKm),
		"due_date", logTime(dueDate),
		"old_km", logLong(oldKm),
		"current_km", logLong(currentKm),
		"old_time", logTime(oldTime),
		"new_time", logTime(newTime),
		"interval_km", logLong(oil.intervalKm),
		"interval_months", logLong(oil.intervalMonths),
		"decision", decision,
	)
}

func oilCycleKey(deviceID int64, dueKm *int64, dueDate *time.Time) string {
	km := "no-km"
	if dueKm != nil {
		km = strconv.FormatInt(*dueKm, 10)
	}
	date := "no-date"
	if dueDate != nil {
		date = dueDate.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%d|%s|%s", deviceID, km, date)
}

func resolvePositionTime(position *model.Position) *time.Time {
	if position == nil {
		return nil
	}
	for _, candidate := range []time.Time{position.FixTime, position.DeviceTime, position.ServerTime} {
		if !candidate.IsZero() {
			t := candidate
			return &t
		}
	}
	return nil
}

func resolveCurrentKm(oil *oilConfig, position *model.Position) *int64 {
	positionKm := positionOdometerKm(position)
	baselineKm := baselineDerivedKm(oil, positionKm)
	var result *int64
	for _, candidate := range []*int64{oil.odometerCurrentKm, positionKm, baselineKm} {
		if candidate == nil {
			continue
		}
		if result == nil || *candidate > *result {
			result = candidate
		}
	}
	return result
}

func baselineDerivedKm(oil *oilConfig, positionKm *int64) *int64 {
	if positionKm == nil || oil.baselineDistanceKm == nil || oil.baselineOdometerKm == nil {
		return nil
	}
	traveled := *positionKm - *oil.baselineDistanceKm
	if traveled < 0 {
		traveled = 0
	}
	v := *oil.baselineOdometerKm + traveled
	return &v
}

func positionOdometerKm(position *model.Position) *int64 {
	odometerKm := kmFromMeters(position.Attributes, model.KeyOdometer)
	distanceKm := kmFromMeters(position.Attributes, model.KeyTotalDistance)
	if odometerKm == nil {
		return distanceKm
	}
	if distanceKm != nil && *distanceKm > *odometerKm {
		return distanceKm
	}
	return odometerKm
}

func kmFromMeters(attrs model.Attributes, key string) *int64 {
	meters, ok := attrs.Float(key)
	if !ok || math.IsNaN(meters) || math.IsInf(meters, 0) || meters <= 0 {
		return nil
	}
	km := int64(math.Round(meters / 1000))
	return &km
}

func addMonthsClamped(t time.Time, months int) time.Time {
	t = t.UTC()
	year, month, day := t.Date()
	total := int(month) - 1 + months
	year += total / 12
	month = time.Month(total%12 + 1)
	if last := lastDayOfMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func longAttr(attrs model.Attributes, key string) *int64 {
	if v, ok := attrs.Int(key); ok {
		return &v
	}
	return nil
}

func positiveLongAttr(attrs model.Attributes, key string) *int64 {
	if v := longAttr(attrs, key); v != nil && *v > 0 {
		return v
	}
	return nil
}

func timeAttr(attrs model.Attributes, key string) *time.Time {
	if v, ok := attrs.Time(key); ok {
		return &v
	}
	return nil
}

func logLong(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func logTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC().Format(time.RFC3339)
}
