package evaluator

import (
	"context"
	"time"

	"fleetguard/internal/config"
	"fleetguard/internal/geo"
	"fleetguard/internal/model"
)

const (
	attrRadar              = "radar"
	attrRadarActive        = "radarActive"
	attrRadarSpeedLimitKph = "radarSpeedLimitKph"
	attrRadarID            = "radarId"
	attrRadarName          = "radarName"
	attrLimitKph           = "limitKph"
	attrSpeedKph           = "speedKph"
)

type speedLimitSource struct {
	limitKnots float64
	geofenceID int64
	radar      bool
	radarID    int64
	radarName  string
	radarKph   float64
}

func (e *Evaluator) evaluateOverspeed(ctx context.Context, cfg *config.Config, device *model.Device, position, previous *model.Position) *model.Event {
	if previous != nil && position.FixTime.Before(previous.FixTime) {
		return nil
	}

	limit := cfg.Overspeed.SpeedLimit
	if v, ok := device.Attributes.Float(model.KeySpeedLimit); ok {
		limit = v
	}
	if v, ok := position.Attributes.Float(model.KeySpeedLimit); ok && v > 0 {
		limit = v
	}

	selection := e.selectGeofenceLimit(ctx, cfg, position)
	if !selection.radar && e.radars != nil {
		if catalog := e.matchCatalogRadar(position); catalog != nil {
			selection = *catalog
		}
	}
	if selection.limitKnots > 0 {
		limit = selection.limitKnots
	}
	if limit == 0 {
		return nil
	}

	state := model.OverspeedStateOf(*device)
	before := state
	event := advanceOverspeed(&state, position, limit, cfg.Overspeed.Multiplier, time.Duration(cfg.Overspeed.MinimalDuration), selection.geofenceID)
	if state != before {
		flag, at, geofenceID := state.Columns()
		if err := e.cache.UpdateDeviceOverspeed(ctx, device.ID, flag, at, geofenceID); err != nil && e.logger != nil {
			e.logger.Warn("update device overspeed state failed", "err", err, "device_id", device.ID)
		}
	}

	cooldown := time.Duration(cfg.Overspeed.RadarCooldown)
	if selection.radar {
		if position.Speed <= limit*cfg.Overspeed.Multiplier {
			return nil
		}
		if !e.cooldown.Allow(device.ID, selection.radarID, position.FixTime, cooldown) {
			return nil
		}
		alert := model.NewEvent(model.TypeDeviceOverspeed, *position)
		alert.GeofenceID = selection.geofenceID
		alert.Attributes[model.KeySpeed] = position.Speed
		alert.Attributes[model.KeySpeedLimit] = limit
		appendRadarAttributes(&alert, selection.radarID, selection.radarName, selection.radarKph)
		return &alert
	}

	if event == nil {
		return nil
	}
	if event.GeofenceID != 0 {
		if geofence, err := e.cache.Geofence(ctx, event.GeofenceID); err == nil && radarEnabled(geofence) {
			if !e.cooldown.Allow(device.ID, event.GeofenceID, position.FixTime, cooldown) {
				return nil
			}
			kph, _ := geofence.Attributes.Float(attrRadarSpeedLimitKph)
			appendRadarAttributes(event, geofence.ID, geofence.Name, kph)
		}
	}
	return event
}

func (e *Evaluator) selectGeofenceLimit(ctx context.Context, cfg *config.Config, position *model.Position) speedLimitSource {
	var regular, radarSource speedLimitSource
	for _, geofenceID := range position.GeofenceIDs {
		geofence, err := e.cache.Geofence(ctx, geofenceID)
		if err != nil || geofence == nil {
			continue
		}
		if radarEnabled(geofence) {
			kph, _ := geofence.Attributes.Float(attrRadarSpeedLimitKph)
			limit := 0.0
			if kph > 0 {
				limit = geo.KnotsFromKph(kph)
			} else {
				limit, _ = geofence.Attributes.Float(model.KeySpeedLimit)
			}
			if limit > 0 && shouldReplaceLimit(cfg.Overspeed.PreferLowest, limit, radarSource.limitKnots) {
				radarSource = speedLimitSource{
					limitKnots: limit,
					geofenceID: geofenceID,
					radar:      true,
					radarID:    geofenceID,
					radarName:  geofence.Name,
					radarKph:   kph,
				}
			}
		} else {
			limit, _ := geofence.Attributes.Float(model.KeySpeedLimit)
			if limit > 0 && shouldReplaceLimit(cfg.Overspeed.PreferLowest, limit, regular.limitKnots) {
				regular = speedLimitSource{limitKnots: limit, geofenceID: geofenceID}
			}
		}
	}
	if radarSource.limitKnots > 0 {
		return radarSource
	}
	return regular
}

func (e *Evaluator) matchCatalogRadar(position *model.Position) *speedLimitSource {
	e.radars.EnsureFresh(time.Now().UTC())
	source := e.radars.Match(position.Latitude, position.Longitude)
	if source == nil || source.SpeedLimitKph <= 0 {
		return nil
	}
	return &speedLimitSource{
		limitKnots: geo.KnotsFromKph(source.SpeedLimitKph),
		radar:      true,
		radarID:    source.ID,
		radarName:  source.Name,
		radarKph:   source.SpeedLimitKph,
	}
}

func radarEnabled(geofence *model.Geofence) bool {
	if geofence == nil {
		return false
	}
	if !geofence.Attributes.BoolOr(attrRadar, false) {
		return false
	}
	if _, present := geofence.Attributes[attrRadarActive]; !present {
		return true
	}
	return geofence.Attributes.BoolOr(attrRadarActive, false)
}

func shouldReplaceLimit(preferLowest bool, current, selected float64) bool {
	return current > 0 && (selected == 0 ||
		preferLowest && current < selected ||
		!preferLowest && current > selected)
}

func advanceOverspeed(state *model.OverspeedState, position *model.Position, limitKnots, multiplier float64, minimalDuration time.Duration, geofenceID int64) *model.Event {
	over := position.Speed > limitKnots*multiplier
	if state.Phase != model.OverspeedIdle {
		if !over {
			*state = model.OverspeedState{}
			return nil
		}
		return checkOverspeedEvent(state, position, limitKnots, minimalDuration)
	}
	if over {
		state.Phase = model.OverspeedExceeding
		state.Since = position.FixTime
		state.GeofenceID = geofenceID
		return checkOverspeedEvent(state, position, limitKnots, minimalDuration)
	}
	return nil
}

func checkOverspeedEvent(state *model.OverspeedState, position *model.Position, limitKnots float64, minimalDuration time.Duration) *model.Event {
	if state.Phase != model.OverspeedExceeding || state.Since.IsZero() {
		return nil
	}
	if position.FixTime.Sub(state.Since) < minimalDuration {
		return nil
	}
	event := model.NewEvent(model.TypeDeviceOverspeed, *position)
	event.GeofenceID = state.GeofenceID
	event.Attributes[model.KeySpeed] = position.Speed
	event.Attributes[model.KeySpeedLimit] = limitKnots
	state.Phase = model.OverspeedReported
	state.Since = time.Time{}
	state.GeofenceID = 0
	return &event
}

func appendRadarAttributes(event *model.Event, radarID int64, radarName string, radarKph float64) {
	event.Attributes[attrRadarID] = radarID
	event.Attributes[attrRadarName] = radarName
	limitKph := radarKph
	if limitKph <= 0 {
		if limitKnots, ok := event.Attributes.Float(model.KeySpeedLimit); ok && limitKnots > 0 {
			limitKph = geo.KphFromKnots(limitKnots)
		}
	}
	if limitKph > 0 {
		event.Attributes[attrRadarSpeedLimitKph] = limitKph
		event.Attributes[attrLimitKph] = limitKph
	}
	if speedKnots, ok := event.Attributes.Float(model.KeySpeed); ok && speedKnots > 0 {
		event.Attributes[attrSpeedKph] = geo.KphFromKnots(speedKnots)
	}
}
