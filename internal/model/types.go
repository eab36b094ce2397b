package model

import "time"

const (
	TypeDeviceOverspeed  = "deviceOverspeed"
	TypeGeofenceEnter    = "geofenceEnter"
	TypeGeofenceExit     = "geofenceExit"
	TypeIgnitionOn       = "ignitionOn"
	TypeIgnitionOff      = "ignitionOff"
	TypeOilChangeDue     = "oilChangeDue"
	TypeOilChangeSoon    = "oilChangeSoon"
	TypeTireRotationDue  = "tireRotationDue"
	TypeTireRotationSoon = "tireRotationSoon"
	TypeAlarm            = "alarm"
	TypeMaintenance      = "maintenance"
)

const (
	KeyOdometer      = "odometer"
	KeyTotalDistance = "totalDistance"
	KeyIgnition      = "ignition"
	KeyAlarm         = "alarm"
	KeySpeed         = "speed"
	KeySpeedLimit    = "speedLimit"
)

type Position struct {
	ID          int64      `json:"id"`
	DeviceID    int64      `json:"device_id"`
	ServerTime  time.Time  `json:"server_time"`
	DeviceTime  time.Time  `json:"device_time"`
	FixTime     time.Time  `json:"fix_time"`
	Valid       bool       `json:"valid"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	Speed       float64    `json:"speed"`
	Course      float64    `json:"course"`
	GeofenceIDs []int64    `json:"geofence_ids,omitempty"`
	Attributes  Attributes `json:"attributes,omitempty"`
}

type Device struct {
	ID                  int64      `json:"id"`
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	Category            string     `json:"category,omitempty"`
	Disabled            bool       `json:"disabled,omitempty"`
	Attributes          Attributes `json:"attributes,omitempty"`
	OverspeedState      bool       `json:"overspeed_state,omitempty"`
	OverspeedTime       time.Time  `json:"overspeed_time,omitempty"`
	OverspeedGeofenceID int64      `json:"overspeed_geofence_id,omitempty"`
}

type Event struct {
	ID         int64      `json:"id"`
	Type       string     `json:"type"`
	DeviceID   int64      `json:"device_id"`
	PositionID int64      `json:"position_id,omitempty"`
	GeofenceID int64      `json:"geofence_id,omitempty"`
	EventTime  time.Time  `json:"event_time"`
	ServerTime time.Time  `json:"server_time"`
	Attributes Attributes `json:"attributes,omitempty"`
}

func NewEvent(eventType string, position Position) Event {
	eventTime := position.FixTime
	if eventTime.IsZero() {
		eventTime = time.Now().UTC()
	}
	return Event{
		Type:       eventType,
		DeviceID:   position.DeviceID,
		PositionID: position.ID,
		EventTime:  eventTime,
		Attributes: Attributes{},
	}
}

type User struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	Disabled   bool       `json:"disabled,omitempty"`
	Temporary  bool       `json:"temporary,omitempty"`
	Attributes Attributes `json:"attributes,omitempty"`
}

type Notification struct {
	ID           int64      `json:"id"`
	Type         string     `json:"type"`
	Description  string     `json:"description,omitempty"`
	Always       bool       `json:"always"`
	CalendarID   int64      `json:"calendar_id,omitempty"`
	Notificators string     `json:"notificators,omitempty"`
	Attributes   Attributes `json:"attributes,omitempty"`
}

func (n Notification) NotificatorList() []string {
	return SplitCSV(n.Notificators)
}

type Geofence struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	CalendarID int64      `json:"calendar_id,omitempty"`
	Area       string     `json:"area,omitempty"`
	Attributes Attributes `json:"attributes,omitempty"`
}

type Calendar struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Attributes Attributes `json:"attributes,omitempty"`
}

type DeliveryRecord struct {
	ID             int64     `json:"id"`
	EventID        int64     `json:"event_id"`
	NotificationID int64     `json:"notification_id"`
	UserID         int64     `json:"user_id"`
	Channel        string    `json:"channel"`
	Delivered      bool      `json:"delivered"`
	Error          string    `json:"error,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}
