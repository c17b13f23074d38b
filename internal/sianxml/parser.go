// Package sianxml parses the SOAP XML returned by the prosecutor-office
// tracking service into normalized status events.
package sianxml

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/justiciasalta/sian-sync/internal/models"
)

const tempuriNS = "http://tempuri.org/"

type estadoNotificacion struct {
	EstadoNotificacionId    string `xml:"EstadoNotificacionId"`
	Fecha                   string `xml:"Fecha"`
	Estado                  string `xml:"Estado"`
	Observaciones           string `xml:"Observaciones"`
	Motivo                  string `xml:"Motivo"`
	ResponsableNotificacion string `xml:"ResponsableNotificacion"`
	DependenciaNotificacion string `xml:"DependenciaNotificacion"`
	ArchivoId               string `xml:"ArchivoId"`
	ArchivoNombre           string `xml:"ArchivoNombre"`
}

// ParseHistory extracts every EstadoNotificacion node of the HistorialEstados
// collection, in document order. Malformed XML or a missing history node
// yields an empty slice, never an error: downstream treats that as "nothing
// new".
func ParseHistory(raw string) []models.StatusEvent {
	var events []models.StatusEvent

	dec := xml.NewDecoder(strings.NewReader(raw))
	inHistory := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space == tempuriNS && t.Name.Local == "HistorialEstados" {
				inHistory++
				continue
			}
			if inHistory > 0 && t.Name.Space == tempuriNS && t.Name.Local == "EstadoNotificacion" {
				var node estadoNotificacion
				if dec.DecodeElement(&node, &t) != nil {
					continue
				}
				events = append(events, toStatusEvent(node))
			}
		case xml.EndElement:
			if t.Name.Space == tempuriNS && t.Name.Local == "HistorialEstados" && inHistory > 0 {
				inHistory--
			}
		}
	}
	return events
}

func toStatusEvent(node estadoNotificacion) models.StatusEvent {
	rawTime := strings.TrimSpace(node.Fecha)
	ev := models.StatusEvent{
		EventTime:    ParseTime(rawTime),
		RawTime:      rawTime,
		State:        strings.TrimSpace(node.Estado),
		Observations: optText(node.Observaciones),
		Reason:       optText(node.Motivo),
		Responsible:  optText(node.ResponsableNotificacion),
		Dependency:   optText(node.DependenciaNotificacion),
		FileID:       optText(node.ArchivoId),
		FileName:     optText(node.ArchivoNombre),
	}
	if id := strings.TrimSpace(node.EstadoNotificacionId); id != "" {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			ev.OrdinalID = &n
		}
	}
	return ev
}

func optText(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

var timeLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTime tries the ISO-8601 variants the remote service has been observed
// to emit, then the plain date-time form. First match wins; exhausting all
// layouts yields nil (the raw string stays available for audit/display).
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// LatestEvent picks the most recent event: timestamp descending, nil
// timestamps sort below everything, ties broken by the later document
// position. Nil when the slice is empty.
func LatestEvent(events []models.StatusEvent) *models.StatusEvent {
	if len(events) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(events); i++ {
		if !laterThan(events[best], events[i]) {
			best = i
		}
	}
	return &events[best]
}

// laterThan reports whether a is strictly more recent than b.
func laterThan(a, b models.StatusEvent) bool {
	switch {
	case a.EventTime == nil && b.EventTime == nil:
		return false
	case a.EventTime == nil:
		return false
	case b.EventTime == nil:
		return true
	default:
		return a.EventTime.After(*b.EventTime)
	}
}

// FilePayload is the body of an ObtenerArchivoEstadoNotificacion response.
type FilePayload struct {
	FileID   string
	FileName string
	Content  string
}

type archivoResult struct {
	ArchivoId        string `xml:"ArchivoId"`
	ArchivoNombre    string `xml:"ArchivoNombre"`
	ArchivoContenido string `xml:"ArchivoContenido"`
}

// ParseFilePayload extracts the attached-file triple from the file-lookup
// response. Nil when the result node is absent or empty.
func ParseFilePayload(raw string) *FilePayload {
	dec := xml.NewDecoder(strings.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		if t, ok := tok.(xml.StartElement); ok {
			if t.Name.Space == tempuriNS && t.Name.Local == "ObtenerArchivoEstadoNotificacionResult" {
				var node archivoResult
				if dec.DecodeElement(&node, &t) != nil {
					return nil
				}
				p := FilePayload{
					FileID:   strings.TrimSpace(node.ArchivoId),
					FileName: strings.TrimSpace(node.ArchivoNombre),
					Content:  strings.TrimSpace(node.ArchivoContenido),
				}
				if p.FileID == "" && p.FileName == "" && p.Content == "" {
					return nil
				}
				return &p
			}
		}
	}
}

// FirstOrdinalID returns the first EstadoNotificacionId found anywhere in
// the document, used to key the file-lookup call. Empty when absent.
func FirstOrdinalID(raw string) string {
	dec := xml.NewDecoder(strings.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		if t, ok := tok.(xml.StartElement); ok {
			if t.Name.Space == tempuriNS && t.Name.Local == "EstadoNotificacionId" {
				var id string
				if dec.DecodeElement(&id, &t) != nil {
					return ""
				}
				return strings.TrimSpace(id)
			}
		}
	}
}
