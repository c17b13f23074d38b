package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsTerminalState(t *testing.T) {
	cases := []struct {
		state    string
		terminal bool
	}{
		{"ENTREGADA", true},
		{"Entregada", true},
		{"NO ENTREGADA", true},
		{"no entregada", true},
		{"DESCARTADA", true},
		{"Descartada", true},
		{"FINALIZADA", true},
		{"finalizada", true},
		{"  Entregada  ", true},
		{"Ingresada", false},
		{"En Notificaciones", false},
		{"En Dependencia Policial", false},
		{"Rectificación Entregada", false},
		{"Sin info", false},
		{"", false},
	}
	for _, c := range cases {
		require.Equal(t, c.terminal, IsTerminalState(c.state), "estado %q", c.state)
	}
}

func TestNormalizeTrackingCode(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"MP-123", "MP-123"},
		{"  MP-123  ", "MP-123"},
		{"NONE", ""},
		{"none", ""},
		{" None ", ""},
		{"", ""},
		{"   ", ""},
		{"NONE-2", "NONE-2"}, // solo el centinela exacto se descarta
	}
	for _, c := range cases {
		require.Equal(t, c.want, NormalizeTrackingCode(c.in), "codigo %q", c.in)
	}
}

func TestStatusEventKey_Normalization(t *testing.T) {
	id := int64(5)
	local := time.Date(2026, 8, 20, 7, 0, 0, 123456789, time.FixedZone("ART", -3*60*60))
	utc := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	a := StatusEvent{OrdinalID: &id, EventTime: &local, State: "  entregada "}
	b := StatusEvent{OrdinalID: &id, EventTime: &utc, State: "ENTREGADA"}
	require.Equal(t, a.Key(), b.Key(), "zona horaria, subsegundos y mayusculas no cambian la identidad")

	// sin ordinal ni fecha la identidad cae solo al estado
	c := StatusEvent{State: "Entregada"}
	d := StatusEvent{State: "entregada"}
	require.Equal(t, c.Key(), d.Key())
	require.False(t, c.Key().HasID)
	require.False(t, c.Key().HasTime)
	require.NotEqual(t, a.Key(), c.Key())
}

func TestEnvironmentSOAPHost(t *testing.T) {
	require.Equal(t, "sian.mpublico.gov.ar", EnvProduction.SOAPHost())
	require.Equal(t, "pruebasian.mpublico.gov.ar", EnvTest.SOAPHost())
	require.Equal(t, "sian.mpublico.gov.ar", Environment("").SOAPHost())
}
