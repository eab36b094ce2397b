package notification

import (
	"fmt"
	"strconv"

	"fleetguard/internal/geo"
	"fleetguard/internal/model"
)

type Message struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

func BuildMessage(event model.Event, position *model.Position) Message {
	message := Message{
		Data: map[string]string{
			"eventType": event.Type,
			"deviceId":  strconv.FormatInt(event.DeviceID, 10),
		},
	}
	if event.ID != 0 {
		message.Data["eventId"] = strconv.FormatInt(event.ID, 10)
	}

	switch event.Type {
	case model.TypeDeviceOverspeed:
		message.Title = "Excesso de velocidade"
		message.Body = fmt.Sprintf("Velocidade %.1f km/h, limite %.1f km/h",
			eventSpeedKph(event), eventLimitKph(event))
		if name, ok := event.Attributes.String("radarName"); ok && name != "" {
			message.Body += " - " + name
		}
	case model.TypeGeofenceEnter:
		message.Title = "Cerca virtual"
		message.Body = "Entrada em cerca"
	case model.TypeGeofenceExit:
		message.Title = "Cerca virtual"
		message.Body = "Saida de cerca"
	case model.TypeIgnitionOn:
		message.Title = "Ignicao"
		message.Body = "Ignicao ligada"
	case model.TypeIgnitionOff:
		message.Title = "Ignicao"
		message.Body = "Ignicao desligada"
	case model.TypeAlarm:
		message.Title = "Alarme"
		alarm, _ := event.Attributes.String(model.KeyAlarm)
		message.Body = "Alarme: " + alarm
	case model.TypeOilChangeDue:
		message.Title = event.Attributes.StringOr("maintenanceName", "Manutencao")
		message.Body = "Troca de oleo vencida" + oilDetail(event)
	case model.TypeOilChangeSoon:
		message.Title = event.Attributes.StringOr("maintenanceName", "Manutencao")
		message.Body = "Troca de oleo proxima" + oilDetail(event)
	case model.TypeTireRotationDue:
		message.Title = "Rodizio de pneus"
		message.Body = "Rodizio de pneus vencido" + tireDetail(event)
	case model.TypeTireRotationSoon:
		message.Title = "Rodizio de pneus"
		message.Body = "Rodizio de pneus proximo" + tireDetail(event)
	default:
		message.Title = event.Type
		message.Body = event.Type
	}
	return message
}

func eventSpeedKph(event model.Event) float64 {
	if kph, ok := event.Attributes.Float("speedKph"); ok && kph > 0 {
		return kph
	}
	knots, _ := event.Attributes.Float(model.KeySpeed)
	return geo.KphFromKnots(knots)
}

func eventLimitKph(event model.Event) float64 {
	if kph, ok := event.Attributes.Float("limitKph"); ok && kph > 0 {
		return kph
	}
	knots, _ := event.Attributes.Float(model.KeySpeedLimit)
	return geo.KphFromKnots(knots)
}

func oilDetail(event model.Event) string {
	detail := ""
	current, hasCurrent := event.Attributes.Int("oilCurrentKm")
	due, hasDue := event.Attributes.Int("oilDueKm")
	if hasCurrent && hasDue {
		detail += fmt.Sprintf(" (%d km de %d km)", current, due)
	}
	if date, ok := event.Attributes.String("oilDueDate"); ok && date != "" {
		detail += ", data limite " + date
	}
	return detail
}

func tireDetail(event model.Event) string {
	if remaining, ok := event.Attributes.Int("tireKmRemaining"); ok {
		return fmt.Sprintf(" (%d km restantes)", remaining)
	}
	return ""
}
