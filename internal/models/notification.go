package models

import (
	"strings"
	"time"
)

// Environment selects which SOAP host and credentials set the client talks to.
// It is passed explicitly into every constructor that needs it.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvTest       Environment = "test"
)

func (e Environment) SOAPHost() string {
	if e == EnvTest {
		return "pruebasian.mpublico.gov.ar"
	}
	return "sian.mpublico.gov.ar"
}

// Terminal states: once the last known state is one of these, no further
// remote updates are expected for the notification.
var terminalStates = map[string]struct{}{
	"ENTREGADA":    {},
	"NO ENTREGADA": {},
	"DESCARTADA":   {},
	"FINALIZADA":   {},
}

func IsTerminalState(state string) bool {
	_, ok := terminalStates[strings.ToUpper(strings.TrimSpace(state))]
	return ok
}

// NormalizeTrackingCode trims the code and maps the "NONE" sentinel (and
// empty strings) to "", meaning the notification has no remote counterpart.
func NormalizeTrackingCode(code string) string {
	c := strings.TrimSpace(code)
	if strings.EqualFold(c, "NONE") {
		return ""
	}
	return c
}

// RecordKey is the composite key of an operational notification record.
// Stable once the upstream ingestion pipeline creates the row.
type RecordKey struct {
	MovementID        int64
	ActionID          int64
	ElectronicAddress string
}

// Notification is one notification send attempt against the prosecutor's
// office. Created by the upstream pipeline; this system only mutates the
// denormalized last-state fields and the finished/discarded flags.
type Notification struct {
	Key          RecordKey
	TrackingCode string
	LastState    string
	LastStateAt  *time.Time
	Discarded    bool
	SianFinished bool
	CategoryCode string
	CreatedAt    time.Time
}

// StatusEvent is one entry in the remote service's reported history for a
// tracking code. Persisted append-only, never updated in place.
type StatusEvent struct {
	OrdinalID    *int64
	EventTime    *time.Time
	RawTime      string
	State        string
	Observations *string
	Reason       *string
	Responsible  *string
	Dependency   *string
	FileID       *string
	FileName     *string
}

// EventKey is the dedup identity of a StatusEvent. Two fetches of the same
// remote history must collapse to the same key even if raw text differs in
// whitespace or letter case.
type EventKey struct {
	OrdinalID int64
	HasID     bool
	EventTime time.Time
	HasTime   bool
	State     string
}

func (e StatusEvent) Key() EventKey {
	k := EventKey{State: strings.ToUpper(strings.TrimSpace(e.State))}
	if e.OrdinalID != nil {
		k.OrdinalID = *e.OrdinalID
		k.HasID = true
	}
	if e.EventTime != nil {
		k.EventTime = NaiveTime(*e.EventTime)
		k.HasTime = true
	}
	return k
}

// NaiveTime normalizes a timestamp for identity comparison: UTC, second
// precision. Timestamps read back from the database then compare equal to
// freshly parsed ones regardless of session timezone or sub-second noise.
func NaiveTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
