package pgnotif

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		// Only the columns this system reads or writes. In production the
		// table already exists with many more columns and the statement is
		// a no-op.
		`
CREATE TABLE IF NOT EXISTS enviocedulanotificacionpolicia (
  pmovimientoid BIGINT NOT NULL,
  pactuacionid BIGINT NOT NULL,
  pdomicilioelectronicopj TEXT NOT NULL,
  codigoseguimientomp TEXT NULL,
  laststagesian TEXT NULL,
  fechalaststate TIMESTAMPTZ NULL,
  descartada BOOLEAN NOT NULL DEFAULT FALSE,
  finsian BOOLEAN NOT NULL DEFAULT FALSE,
  pdac_codigo TEXT NOT NULL DEFAULT '',
  penviocedulanotificacionfechahora TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (pmovimientoid, pactuacionid, pdomicilioelectronicopj)
)`,
		`CREATE INDEX IF NOT EXISTS idx_enviocedula_codigoseguimiento ON enviocedulanotificacionpolicia(codigoseguimientomp)`,
		`CREATE INDEX IF NOT EXISTS idx_enviocedula_fechalaststate ON enviocedulanotificacionpolicia(fechalaststate)`,
		`
CREATE TABLE IF NOT EXISTS notpolhistoricomp (
  notpolhistoricompid BIGSERIAL PRIMARY KEY,
  pmovimientoid BIGINT NOT NULL,
  pactuacionid BIGINT NOT NULL,
  pdomicilioelectronicopj TEXT NOT NULL,
  codigoseguimientomp TEXT NOT NULL,
  notpolhistoricompestadonid BIGINT NULL,
  notpolhistoricompfecha TIMESTAMPTZ NULL,
  notpolhistoricompfecharaw TEXT NOT NULL DEFAULT '',
  notpolhistoricompestado TEXT NULL,
  notpolhistoricompobservaciones TEXT NULL,
  notpolhistoricompmotivo TEXT NULL,
  notpolhistoricompresponsable TEXT NULL,
  notpolhistoricompdependencia TEXT NULL,
  notpolhistoricomparchivoid TEXT NULL,
  notpolhistoricomparchivonombre TEXT NULL,
  notpolhistoricomparchcont TEXT NULL,
  creado TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_notpolhistoricomp_codigo_fecha ON notpolhistoricomp(codigoseguimientomp, notpolhistoricompfecha DESC)`,
		// Enforce event identity at the database level. Duplicate passes
		// (scheduled batch racing the ad-hoc endpoint) land on this index,
		// not on the in-memory dedup.
		`
CREATE UNIQUE INDEX IF NOT EXISTS uq_notpolhistoricomp_dedup ON notpolhistoricomp(
  pmovimientoid, pactuacionid, pdomicilioelectronicopj, codigoseguimientomp,
  COALESCE(notpolhistoricompestadonid, -1),
  COALESCE(notpolhistoricompfecha, 'epoch'::timestamptz),
  UPPER(TRIM(COALESCE(notpolhistoricompestado, '')))
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
