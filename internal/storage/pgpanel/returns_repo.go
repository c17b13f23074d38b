package pgpanel

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/justiciasalta/sian-sync/internal/models"
)

// UpsertOutcome says what a staging write actually did. The poller's run
// summary counts each kind separately.
type UpsertOutcome string

const (
	OutcomeInserted  UpsertOutcome = "inserted"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeUnchanged UpsertOutcome = "unchanged"
)

// StagedReturn is one raw SOAP response parked for reconciliation.
type StagedReturn struct {
	Key          models.RecordKey
	TrackingCode string
	RawXML       string
	Processed    bool
	UpdatedAt    *time.Time
	ProcessedAt  *time.Time
}

// UpsertReturn stages a raw response for the record. A byte-for-byte
// identical payload (after trimming) leaves the row alone; anything else
// overwrites it and clears the processed flag so the reconciler picks it
// up again.
func (s *Storage) UpsertReturn(ctx context.Context, key models.RecordKey, code, rawXML string) (UpsertOutcome, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var existing string
	err = tx.QueryRow(ctx, `
SELECT retornompxml FROM retornomp
WHERE pmovimientoid = $1 AND pactuacionid = $2 AND pdomicilioelectronicopj = $3
FOR UPDATE
`, key.MovementID, key.ActionID, key.ElectronicAddress).Scan(&existing)

	outcome := OutcomeInserted
	switch {
	case err == nil:
		if strings.TrimSpace(existing) == strings.TrimSpace(rawXML) {
			return OutcomeUnchanged, errors.Wrap(tx.Commit(ctx), "commit tx")
		}
		outcome = OutcomeUpdated
		_, err = tx.Exec(ctx, `
UPDATE retornomp
SET codigoseguimientomp = $4, retornompxml = $5, procesado = FALSE, ultactualizacion = now()
WHERE pmovimientoid = $1 AND pactuacionid = $2 AND pdomicilioelectronicopj = $3
`, key.MovementID, key.ActionID, key.ElectronicAddress, strings.TrimSpace(code), rawXML)
	default:
		if !isNoRows(err) {
			return "", errors.Wrap(err, "select staged return")
		}
		_, err = tx.Exec(ctx, `
INSERT INTO retornomp (
  pmovimientoid, pactuacionid, pdomicilioelectronicopj,
  codigoseguimientomp, retornompxml, procesado, ultactualizacion
) VALUES ($1, $2, $3, $4, $5, FALSE, now())
`, key.MovementID, key.ActionID, key.ElectronicAddress, strings.TrimSpace(code), rawXML)
	}
	if err != nil {
		return "", errors.Wrap(err, "write staged return")
	}

	if err := tx.Commit(ctx); err != nil {
		return "", errors.Wrap(err, "commit tx")
	}
	return outcome, nil
}

// PendingReturns lists unprocessed staged responses, oldest update first.
func (s *Storage) PendingReturns(ctx context.Context, limit int) ([]*StagedReturn, error) {
	rows, err := s.db.Query(ctx, `
SELECT pmovimientoid, pactuacionid, pdomicilioelectronicopj,
       codigoseguimientomp, retornompxml, procesado, ultactualizacion, fechaproceso
FROM retornomp
WHERE procesado = FALSE
ORDER BY ultactualizacion ASC NULLS FIRST
LIMIT $1
`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select pending returns")
	}
	defer rows.Close()

	return scanReturns(rows)
}

// PendingReturnsByCode lists unprocessed staged responses for one
// tracking code. Several records can share a code after a rectification.
func (s *Storage) PendingReturnsByCode(ctx context.Context, code string) ([]*StagedReturn, error) {
	rows, err := s.db.Query(ctx, `
SELECT pmovimientoid, pactuacionid, pdomicilioelectronicopj,
       codigoseguimientomp, retornompxml, procesado, ultactualizacion, fechaproceso
FROM retornomp
WHERE procesado = FALSE AND codigoseguimientomp = $1
ORDER BY ultactualizacion ASC NULLS FIRST
`, strings.TrimSpace(code))
	if err != nil {
		return nil, errors.Wrap(err, "select pending returns by code")
	}
	defer rows.Close()

	return scanReturns(rows)
}

// PendingReturnForKey returns the unprocessed staged response for one
// record, or nil if there is none.
func (s *Storage) PendingReturnForKey(ctx context.Context, key models.RecordKey) (*StagedReturn, error) {
	rows, err := s.db.Query(ctx, `
SELECT pmovimientoid, pactuacionid, pdomicilioelectronicopj,
       codigoseguimientomp, retornompxml, procesado, ultactualizacion, fechaproceso
FROM retornomp
WHERE pmovimientoid = $1 AND pactuacionid = $2 AND pdomicilioelectronicopj = $3
  AND procesado = FALSE
`, key.MovementID, key.ActionID, key.ElectronicAddress)
	if err != nil {
		return nil, errors.Wrap(err, "select staged return")
	}
	defer rows.Close()

	rs, err := scanReturns(rows)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, nil
	}
	return rs[0], nil
}

// MarkProcessed stamps the staged row as consumed by the reconciler.
func (s *Storage) MarkProcessed(ctx context.Context, key models.RecordKey) error {
	_, err := s.db.Exec(ctx, `
UPDATE retornomp
SET procesado = TRUE, fechaproceso = now()
WHERE pmovimientoid = $1 AND pactuacionid = $2 AND pdomicilioelectronicopj = $3
`, key.MovementID, key.ActionID, key.ElectronicAddress)
	return errors.Wrap(err, "mark processed")
}
