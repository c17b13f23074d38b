package pgnotif

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/justiciasalta/sian-sync/internal/models"
)

const notificationColumns = `
  pmovimientoid, pactuacionid, pdomicilioelectronicopj,
  COALESCE(codigoseguimientomp, ''),
  COALESCE(laststagesian, ''),
  fechalaststate,
  COALESCE(descartada, FALSE),
  COALESCE(finsian, FALSE),
  COALESCE(pdac_codigo, ''),
  penviocedulanotificacionfechahora`

// TierQuery describes one polling tier: a state bucket plus an age window
// measured in days since fechalaststate. Urgent category codes get the
// tighter MaxAgeDaysUrgent window instead of MaxAgeDays.
type TierQuery struct {
	States           []string
	MinAgeDays       int
	MaxAgeDays       int
	MaxAgeDaysUrgent int
	UrgentCategories []string
}

func (s *Storage) SelectDue(ctx context.Context, q TierQuery) ([]*models.Notification, error) {
	states := make([]string, 0, len(q.States))
	for _, st := range q.States {
		states = append(states, strings.ToUpper(strings.TrimSpace(st)))
	}
	urgent := q.UrgentCategories
	if urgent == nil {
		urgent = []string{}
	}
	maxUrgent := q.MaxAgeDaysUrgent
	if maxUrgent <= 0 {
		maxUrgent = q.MaxAgeDays
	}

	rows, err := s.db.Query(ctx, `
SELECT `+notificationColumns+`
FROM enviocedulanotificacionpolicia
WHERE COALESCE(descartada, FALSE) = FALSE
  AND COALESCE(finsian, FALSE) = FALSE
  AND codigoseguimientomp IS NOT NULL
  AND TRIM(codigoseguimientomp) <> ''
  AND UPPER(TRIM(codigoseguimientomp)) <> 'NONE'
  AND UPPER(TRIM(COALESCE(laststagesian, ''))) = ANY($1)
  AND (fechalaststate IS NULL OR fechalaststate <= now() - make_interval(days => $2))
  AND (fechalaststate IS NULL OR (
        CASE WHEN TRIM(COALESCE(pdac_codigo, '')) = ANY($3)
             THEN fechalaststate >= now() - make_interval(days => $4)
             ELSE fechalaststate >= now() - make_interval(days => $5)
        END))
ORDER BY fechalaststate ASC NULLS FIRST, pmovimientoid, pactuacionid
`, states, q.MinAgeDays, urgent, maxUrgent, q.MaxAgeDays)
	if err != nil {
		return nil, errors.Wrap(err, "select due notifications")
	}
	defer rows.Close()

	return scanNotifications(rows)
}

func (s *Storage) GetByKey(ctx context.Context, key models.RecordKey) (*models.Notification, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+notificationColumns+`
FROM enviocedulanotificacionpolicia
WHERE pmovimientoid = $1 AND pactuacionid = $2 AND pdomicilioelectronicopj = $3
`, key.MovementID, key.ActionID, key.ElectronicAddress)
	if err != nil {
		return nil, errors.Wrap(err, "select notification")
	}
	defer rows.Close()

	ns, err := scanNotifications(rows)
	if err != nil {
		return nil, err
	}
	if len(ns) == 0 {
		return nil, nil
	}
	return ns[0], nil
}

func (s *Storage) GetByTrackingCode(ctx context.Context, code string) (*models.Notification, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+notificationColumns+`
FROM enviocedulanotificacionpolicia
WHERE TRIM(codigoseguimientomp) = $1
LIMIT 1
`, strings.TrimSpace(code))
	if err != nil {
		return nil, errors.Wrap(err, "select notification by code")
	}
	defer rows.Close()

	ns, err := scanNotifications(rows)
	if err != nil {
		return nil, err
	}
	if len(ns) == 0 {
		return nil, nil
	}
	return ns[0], nil
}

// CodesByLastState returns the tracking codes whose denormalized last state
// matches; the reprocessor merges this with the event-history view to cover
// desynchronized records.
func (s *Storage) CodesByLastState(ctx context.Context, state string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
SELECT TRIM(codigoseguimientomp)
FROM enviocedulanotificacionpolicia
WHERE codigoseguimientomp IS NOT NULL
  AND TRIM(codigoseguimientomp) <> ''
  AND UPPER(TRIM(codigoseguimientomp)) <> 'NONE'
  AND UPPER(TRIM(COALESCE(laststagesian, ''))) = UPPER(TRIM($1))
`, state)
	if err != nil {
		return nil, errors.Wrap(err, "select codes by last state")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, errors.Wrap(err, "scan code")
		}
		out = append(out, code)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

// ActiveCodes returns every tracking code still in play: not discarded,
// not finished, with a usable code.
func (s *Storage) ActiveCodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
SELECT TRIM(codigoseguimientomp)
FROM enviocedulanotificacionpolicia
WHERE COALESCE(descartada, FALSE) = FALSE
  AND COALESCE(finsian, FALSE) = FALSE
  AND codigoseguimientomp IS NOT NULL
  AND TRIM(codigoseguimientomp) <> ''
  AND UPPER(TRIM(codigoseguimientomp)) <> 'NONE'
`)
	if err != nil {
		return nil, errors.Wrap(err, "select active codes")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, errors.Wrap(err, "scan code")
		}
		out = append(out, code)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

// UpdateLastState writes the denormalized last-state triple in one
// statement; finsian follows the terminal-state set.
func (s *Storage) UpdateLastState(ctx context.Context, code, state string, at *time.Time) (int64, error) {
	finished := models.IsTerminalState(state)
	tag, err := s.db.Exec(ctx, `
UPDATE enviocedulanotificacionpolicia
SET laststagesian = $2,
    fechalaststate = $3,
    finsian = $4
WHERE TRIM(codigoseguimientomp) = $1
`, strings.TrimSpace(code), state, at, finished)
	if err != nil {
		return 0, errors.Wrap(err, "update last state")
	}
	return tag.RowsAffected(), nil
}

// FinishDiscarded marks discarded-but-unfinished records finished so no
// tier ever picks them up again.
func (s *Storage) FinishDiscarded(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE enviocedulanotificacionpolicia
SET finsian = TRUE
WHERE COALESCE(descartada, FALSE) = TRUE AND COALESCE(finsian, FALSE) <> TRUE
`)
	if err != nil {
		return 0, errors.Wrap(err, "finish discarded")
	}
	return tag.RowsAffected(), nil
}

// ResetFresh stamps records created within the last day with the neutral
// placeholder state so the first tier window sees them. Only called under
// the "placeholder" empty-history policy.
func (s *Storage) ResetFresh(ctx context.Context, placeholder string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE enviocedulanotificacionpolicia
SET laststagesian = $1, fechalaststate = now()
WHERE penviocedulanotificacionfechahora >= current_date - INTERVAL '1 day'
  AND COALESCE(descartada, FALSE) = FALSE
`, placeholder)
	if err != nil {
		return 0, errors.Wrap(err, "reset fresh")
	}
	return tag.RowsAffected(), nil
}
