package pgpanel

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS retornomp (
  pmovimientoid BIGINT NOT NULL,
  pactuacionid BIGINT NOT NULL,
  pdomicilioelectronicopj TEXT NOT NULL,
  codigoseguimientomp TEXT NOT NULL,
  retornompxml TEXT NOT NULL,
  procesado BOOLEAN NOT NULL DEFAULT FALSE,
  ultactualizacion TIMESTAMPTZ NULL,
  fechaproceso TIMESTAMPTZ NULL,
  PRIMARY KEY (pmovimientoid, pactuacionid, pdomicilioelectronicopj)
)`,
		`CREATE INDEX IF NOT EXISTS idx_retornomp_procesado ON retornomp(procesado, ultactualizacion)`,
		`
CREATE TABLE IF NOT EXISTS procesosat (
  procesosatid BIGSERIAL PRIMARY KEY,
  procesosatnombre TEXT NOT NULL UNIQUE,
  procesosatdescripcion TEXT NULL,
  procesosatultiej TIMESTAMPTZ NULL,
  procesosatprxej TIMESTAMPTZ NULL
)`,
		`
CREATE TABLE IF NOT EXISTS ejecproc (
  ejecprocid BIGSERIAL PRIMARY KEY,
  procesosatid BIGINT NOT NULL REFERENCES procesosat(procesosatid),
  ejecprocfecha TIMESTAMPTZ NOT NULL DEFAULT now(),
  ejecprocresultado SMALLINT NOT NULL,
  ejecprocnota VARCHAR(400) NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
