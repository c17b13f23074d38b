package messages

import "time"

const TopicStatusChanged = "notification.status-changed"

// StatusChanged is published whenever a notification's denormalized last
// state moves. Consumed by the panel dashboards.
type StatusChanged struct {
	MovementID        int64  `json:"movimiento_id"`
	ActionID          int64  `json:"actuacion_id"`
	ElectronicAddress string `json:"domicilio_electronico"`
	TrackingCode      string `json:"codigo_seguimiento"`

	PreviousState string     `json:"estado_anterior,omitempty"`
	State         string     `json:"estado"`
	StateAt       *time.Time `json:"fecha_estado,omitempty"`
	Finished      bool       `json:"finalizada"`

	ChangedAt time.Time `json:"fecha_cambio"`
}
