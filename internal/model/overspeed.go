package model

import "time"

type OverspeedPhase int

const (
	OverspeedIdle OverspeedPhase = iota
	OverspeedExceeding
	OverspeedReported
)

type OverspeedState struct {
	Phase      OverspeedPhase
	Since      time.Time
	GeofenceID int64
}

func OverspeedStateOf(device Device) OverspeedState {
	switch {
	case device.OverspeedState && !device.OverspeedTime.IsZero():
		return OverspeedState{
			Phase:      OverspeedExceeding,
			Since:      device.OverspeedTime,
			GeofenceID: device.OverspeedGeofenceID,
		}
	case device.OverspeedState:
		return OverspeedState{Phase: OverspeedReported}
	default:
		return OverspeedState{}
	}
}

func (s OverspeedState) Flag() bool {
	return s.Phase != OverspeedIdle
}

func (s OverspeedState) Columns() (bool, time.Time, int64) {
	if s.Phase == OverspeedExceeding {
		return true, s.Since, s.GeofenceID
	}
	return s.Phase != OverspeedIdle, time.Time{}, 0
}
