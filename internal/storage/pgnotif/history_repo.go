package pgnotif

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/justiciasalta/sian-sync/internal/models"
)

const eventColumns = `
  notpolhistoricompestadonid, notpolhistoricompfecha,
  COALESCE(notpolhistoricompfecharaw, ''),
  COALESCE(notpolhistoricompestado, ''),
  notpolhistoricompobservaciones, notpolhistoricompmotivo,
  notpolhistoricompresponsable, notpolhistoricompdependencia,
  notpolhistoricomparchivoid, notpolhistoricomparchivonombre`

// ExistingEventKeys loads the dedup identities already persisted for one
// notification. The reconciler filters incoming history against this set
// before inserting.
func (s *Storage) ExistingEventKeys(ctx context.Context, key models.RecordKey, code string) (map[models.EventKey]struct{}, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+eventColumns+`
FROM notpolhistoricomp
WHERE pmovimientoid = $1 AND pactuacionid = $2 AND pdomicilioelectronicopj = $3
  AND codigoseguimientomp = $4
`, key.MovementID, key.ActionID, key.ElectronicAddress, strings.TrimSpace(code))
	if err != nil {
		return nil, errors.Wrap(err, "select event keys")
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	keys := make(map[models.EventKey]struct{}, len(events))
	for _, ev := range events {
		keys[ev.Key()] = struct{}{}
	}
	return keys, nil
}

// InsertEvents appends new history rows in one transaction. The unique
// dedup index is the final arbiter: rows that collide are silently skipped
// and the returned count reflects only rows actually written.
func (s *Storage) InsertEvents(ctx context.Context, key models.RecordKey, code string, events []*models.StatusEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var inserted int64
	for _, ev := range events {
		tag, err := tx.Exec(ctx, `
INSERT INTO notpolhistoricomp (
  pmovimientoid, pactuacionid, pdomicilioelectronicopj, codigoseguimientomp,
  notpolhistoricompestadonid, notpolhistoricompfecha, notpolhistoricompfecharaw,
  notpolhistoricompestado, notpolhistoricompobservaciones, notpolhistoricompmotivo,
  notpolhistoricompresponsable, notpolhistoricompdependencia,
  notpolhistoricomparchivoid, notpolhistoricomparchivonombre
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT DO NOTHING
`,
			key.MovementID, key.ActionID, key.ElectronicAddress, strings.TrimSpace(code),
			ev.OrdinalID, ev.EventTime, ev.RawTime,
			ev.State, ev.Observations, ev.Reason,
			ev.Responsible, ev.Dependency,
			ev.FileID, ev.FileName,
		)
		if err != nil {
			return 0, errors.Wrap(err, "insert event")
		}
		inserted += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return inserted, nil
}

// LatestPersistedEvent returns the newest event on record for the code,
// or nil when no history exists. Events without a timestamp sort last;
// insertion order breaks ties.
func (s *Storage) LatestPersistedEvent(ctx context.Context, code string) (*models.StatusEvent, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+eventColumns+`
FROM notpolhistoricomp
WHERE codigoseguimientomp = $1
ORDER BY notpolhistoricompfecha DESC NULLS LAST, notpolhistoricompid DESC
LIMIT 1
`, strings.TrimSpace(code))
	if err != nil {
		return nil, errors.Wrap(err, "select latest event")
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

// HistoryByCode returns the full persisted history, newest first.
func (s *Storage) HistoryByCode(ctx context.Context, code string) ([]*models.StatusEvent, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+eventColumns+`
FROM notpolhistoricomp
WHERE codigoseguimientomp = $1
ORDER BY notpolhistoricompfecha DESC NULLS LAST, notpolhistoricompid DESC
`, strings.TrimSpace(code))
	if err != nil {
		return nil, errors.Wrap(err, "select history")
	}
	defer rows.Close()

	return scanEvents(rows)
}

// CodesByLatestState returns the tracking codes whose newest history event
// carries the given state, regardless of the denormalized column.
func (s *Storage) CodesByLatestState(ctx context.Context, state string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
SELECT codigoseguimientomp FROM (
  SELECT DISTINCT ON (codigoseguimientomp)
    codigoseguimientomp,
    COALESCE(notpolhistoricompestado, '') AS estado
  FROM notpolhistoricomp
  ORDER BY codigoseguimientomp, notpolhistoricompfecha DESC NULLS LAST, notpolhistoricompid DESC
) latest
WHERE UPPER(TRIM(estado)) = UPPER(TRIM($1))
`, state)
	if err != nil {
		return nil, errors.Wrap(err, "select codes by latest state")
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

// SetEventFile stores the fetched attachment on the history row for the
// given remote status ordinal. Rows that already carry content are left
// alone.
func (s *Storage) SetEventFile(ctx context.Context, code string, ordinalID int64, fileID, fileName, content string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE notpolhistoricomp
SET notpolhistoricomparchivoid = $3,
    notpolhistoricomparchivonombre = $4,
    notpolhistoricomparchcont = $5
WHERE codigoseguimientomp = $1
  AND notpolhistoricompestadonid = $2
  AND notpolhistoricomparchcont IS NULL
`, strings.TrimSpace(code), ordinalID, fileID, fileName, content)
	if err != nil {
		return 0, errors.Wrap(err, "set event file")
	}
	return tag.RowsAffected(), nil
}
