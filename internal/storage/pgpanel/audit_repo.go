package pgpanel

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

const maxExecutionNote = 400

// EnsureProcess registers the named scheduled process if needed and
// returns its id. The description is what the panel shows next to the
// process name, so re-registering refreshes it.
func (s *Storage) EnsureProcess(ctx context.Context, name, description string) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
INSERT INTO procesosat (procesosatnombre, procesosatdescripcion)
VALUES ($1, $2)
ON CONFLICT (procesosatnombre) DO UPDATE SET procesosatdescripcion = EXCLUDED.procesosatdescripcion
RETURNING procesosatid
`, name, description).Scan(&id)
	return id, errors.Wrap(err, "ensure process")
}

// RecordRun stamps the process as just executed and schedules the next
// due time ten minutes out. The panel's scheduler view reads these two
// columns.
func (s *Storage) RecordRun(ctx context.Context, processID int64) error {
	_, err := s.db.Exec(ctx, `
UPDATE procesosat
SET procesosatultiej = now(), procesosatprxej = now() + INTERVAL '10 minutes'
WHERE procesosatid = $1
`, processID)
	return errors.Wrap(err, "record run")
}

// AppendExecution logs one execution outcome: resultado 0 on success,
// 1 on error. Notes longer than the column allows are truncated, not
// rejected.
func (s *Storage) AppendExecution(ctx context.Context, processID int64, ok bool, note string) error {
	result := 1
	if ok {
		result = 0
	}
	if r := []rune(note); len(r) > maxExecutionNote {
		note = string(r[:maxExecutionNote])
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO ejecproc (procesosatid, ejecprocfecha, ejecprocresultado, ejecprocnota)
VALUES ($1, $2, $3, $4)
`, processID, time.Now(), result, note)
	return errors.Wrap(err, "append execution")
}
