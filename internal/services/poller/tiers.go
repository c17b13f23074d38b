package poller

import "github.com/justiciasalta/sian-sync/internal/storage/pgnotif"

// Tier is one polling bucket: a set of last-known states plus the age
// window (days since the state was recorded) in which records of that
// bucket are still worth asking about. Urgent category codes get the
// tighter UrgentMaxAgeDays window when it is set.
type Tier struct {
	Name             string
	States           []string
	MinAgeDays       int
	MaxAgeDays       int
	UrgentMaxAgeDays int

	// AlwaysSyncHistory runs the staged-history pass even when this tier
	// selected nothing, so data staged by other tiers or by the ad-hoc
	// endpoint still gets reconciled.
	AlwaysSyncHistory bool
}

func (t Tier) Query(urgentCategories []string) pgnotif.TierQuery {
	return pgnotif.TierQuery{
		States:           t.States,
		MinAgeDays:       t.MinAgeDays,
		MaxAgeDays:       t.MaxAgeDays,
		MaxAgeDaysUrgent: t.UrgentMaxAgeDays,
		UrgentCategories: urgentCategories,
	}
}

// DefaultTiers mirrors the SLA the notification office works with: fresh
// submissions are checked often, older ones at police dependencies less
// often, and the delivery bucket only within its 45-day claim window.
func DefaultTiers() []Tier {
	return []Tier{
		{
			Name:             "ingresadas",
			States:           []string{"Ingresada", "Sin info"},
			MaxAgeDays:       10,
			UrgentMaxAgeDays: 5,
		},
		{
			Name:       "dependencia-policial",
			States:     []string{"En Dependencia Policial", "Enviada"},
			MinAgeDays: 10,
			MaxAgeDays: 20,
		},
		{
			Name:              "notificaciones",
			States:            []string{"En Notificaciones", "Entregada", "No Entregada"},
			MinAgeDays:        20,
			MaxAgeDays:        45,
			AlwaysSyncHistory: true,
		},
		{
			Name:             "rectificaciones",
			States:           []string{"Rectificación Entregada", "Rectificación No Entregada"},
			MaxAgeDays:       10,
			UrgentMaxAgeDays: 5,
		},
	}
}
