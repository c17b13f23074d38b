// Package sian defines the contract against the prosecutor-office tracking
// web service. Implementations live in subpackages (mpsoap for the real
// endpoint, fake for tests and local runs).
package sian

import "context"

type Client interface {
	// FetchStatus retrieves the raw status-history XML for a tracking code.
	// All failures come back as error values; callers log and move on.
	FetchStatus(ctx context.Context, trackingCode string) (string, error)

	// FetchStatusFile retrieves the attached-file XML for a remote status
	// ordinal id (ObtenerArchivoEstadoNotificacion).
	FetchStatusFile(ctx context.Context, statusOrdinalID string) (string, error)
}
