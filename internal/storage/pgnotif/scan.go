package pgnotif

import (
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/justiciasalta/sian-sync/internal/models"
)

func scanNotifications(rows pgx.Rows) ([]*models.Notification, error) {
	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		err := rows.Scan(
			&n.Key.MovementID, &n.Key.ActionID, &n.Key.ElectronicAddress,
			&n.TrackingCode, &n.LastState, &n.LastStateAt,
			&n.Discarded, &n.SianFinished, &n.CategoryCode, &n.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scan notification")
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows")
	}
	return out, nil
}

func scanEvents(rows pgx.Rows) ([]*models.StatusEvent, error) {
	var out []*models.StatusEvent
	for rows.Next() {
		var ev models.StatusEvent
		err := rows.Scan(
			&ev.OrdinalID, &ev.EventTime, &ev.RawTime, &ev.State,
			&ev.Observations, &ev.Reason, &ev.Responsible, &ev.Dependency,
			&ev.FileID, &ev.FileName,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows")
	}
	return out, nil
}
