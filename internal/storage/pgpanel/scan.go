package pgpanel

import (
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func scanReturns(rows pgx.Rows) ([]*StagedReturn, error) {
	var out []*StagedReturn
	for rows.Next() {
		var r StagedReturn
		err := rows.Scan(
			&r.Key.MovementID, &r.Key.ActionID, &r.Key.ElectronicAddress,
			&r.TrackingCode, &r.RawXML, &r.Processed, &r.UpdatedAt, &r.ProcessedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scan staged return")
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows")
	}
	return out, nil
}
