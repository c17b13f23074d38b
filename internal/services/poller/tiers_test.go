package poller

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultTiers_Windows(t *testing.T) {
	tiers := DefaultTiers()
	require.Len(t, tiers, 4)

	byName := map[string]Tier{}
	for _, tier := range tiers {
		byName[tier.Name] = tier
	}

	require.Equal(t, 10, byName["ingresadas"].MaxAgeDays)
	require.Equal(t, 5, byName["ingresadas"].UrgentMaxAgeDays)
	require.Equal(t, 10, byName["dependencia-policial"].MinAgeDays)
	require.Equal(t, 45, byName["notificaciones"].MaxAgeDays)
	require.True(t, byName["notificaciones"].AlwaysSyncHistory)
}

func TestTier_Query(t *testing.T) {
	tier := Tier{
		Name:             "ingresadas",
		States:           []string{"Ingresada"},
		MaxAgeDays:       10,
		UrgentMaxAgeDays: 5,
	}
	q := tier.Query([]string{"HAB"})
	require.Equal(t, []string{"Ingresada"}, q.States)
	require.Equal(t, 10, q.MaxAgeDays)
	require.Equal(t, 5, q.MaxAgeDaysUrgent)
	require.Equal(t, []string{"HAB"}, q.UrgentCategories)
}
