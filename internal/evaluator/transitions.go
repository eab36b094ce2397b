package evaluator

import (
	"fleetguard/internal/model"
)

func (e *Evaluator) evaluateTransitions(position, previous *model.Position) []model.Event {
	if previous != nil && position.FixTime.Before(previous.FixTime) {
		return nil
	}

	var out []model.Event
	var previousIDs []int64
	if previous != nil {
		previousIDs = previous.GeofenceIDs
	}
	for _, id := range position.GeofenceIDs {
		if !containsID(previousIDs, id) {
			event := model.NewEvent(model.TypeGeofenceEnter, *position)
			event.GeofenceID = id
			out = append(out, event)
		}
	}
	for _, id := range previousIDs {
		if !containsID(position.GeofenceIDs, id) {
			event := model.NewEvent(model.TypeGeofenceExit, *position)
			event.GeofenceID = id
			out = append(out, event)
		}
	}

	if previous != nil {
		current, currentOK := position.Attributes.Bool(model.KeyIgnition)
		before, beforeOK := previous.Attributes.Bool(model.KeyIgnition)
		if currentOK && beforeOK && current != before {
			eventType := model.TypeIgnitionOff
			if current {
				eventType = model.TypeIgnitionOn
			}
			out = append(out, model.NewEvent(eventType, *position))
		}
	}
	return out
}

func evaluateAlarm(position *model.Position) *model.Event {
	alarm, ok := position.Attributes.String(model.KeyAlarm)
	if !ok || alarm == "" {
		return nil
	}
	event := model.NewEvent(model.TypeAlarm, *position)
	event.Attributes[model.KeyAlarm] = alarm
	return &event
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
