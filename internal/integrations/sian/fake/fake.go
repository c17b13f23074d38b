// Package fake is a canned stand-in for the prosecutor-office service, used
// in tests and local runs without network access.
package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"
)

type Client struct{}

func New() *Client { return &Client{} }

// FetchStatus returns a deterministic two-event history per tracking code;
// roughly a fifth of codes come back already delivered.
func (f *Client) FetchStatus(ctx context.Context, trackingCode string) (string, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(trackingCode))
	v := h.Sum32()

	last := "En Notificaciones"
	if v%5 == 0 {
		last = "Entregada"
	}

	base := time.Now().UTC().Add(-48 * time.Hour)
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:tem="http://tempuri.org/">
  <soap:Body>
    <tem:ObtenerEstadoNotificacionResponse>
      <tem:ObtenerEstadoNotificacionResult>
        <tem:HistorialEstados>
          <tem:EstadoNotificacion>
            <tem:EstadoNotificacionId>%d</tem:EstadoNotificacionId>
            <tem:Fecha>%s</tem:Fecha>
            <tem:Estado>Ingresada</tem:Estado>
          </tem:EstadoNotificacion>
          <tem:EstadoNotificacion>
            <tem:EstadoNotificacionId>%d</tem:EstadoNotificacionId>
            <tem:Fecha>%s</tem:Fecha>
            <tem:Estado>%s</tem:Estado>
            <tem:DependenciaNotificacion>CRIA %d</tem:DependenciaNotificacion>
          </tem:EstadoNotificacion>
        </tem:HistorialEstados>
      </tem:ObtenerEstadoNotificacionResult>
    </tem:ObtenerEstadoNotificacionResponse>
  </soap:Body>
</soap:Envelope>`,
		v%1000,
		base.Format("2006-01-02T15:04:05"),
		v%1000+1,
		base.Add(24*time.Hour).Format("2006-01-02T15:04:05"),
		last,
		v%10+1,
	), nil
}

func (f *Client) FetchStatusFile(ctx context.Context, statusOrdinalID string) (string, error) {
	return fmt.Sprintf(`<?xml version="1.0"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:tem="http://tempuri.org/">
  <soapenv:Body>
    <tem:ObtenerArchivoEstadoNotificacionResponse>
      <tem:ObtenerArchivoEstadoNotificacionResult>
        <tem:ArchivoId>%s</tem:ArchivoId>
        <tem:ArchivoNombre>acta_%s.pdf</tem:ArchivoNombre>
        <tem:ArchivoContenido>UERGLWZha2U=</tem:ArchivoContenido>
      </tem:ObtenerArchivoEstadoNotificacionResult>
    </tem:ObtenerArchivoEstadoNotificacionResponse>
  </soapenv:Body>
</soapenv:Envelope>`, statusOrdinalID, statusOrdinalID), nil
}
