package intake

import (
	"fmt"
	"strings"

	"github.com/user/conserje/internal/catalog"
	"github.com/user/conserje/internal/types"
)

// Guest-facing texts.
const (
	msgGreeting         = "¡Hola! Soy el asistente de reportes del hotel. Cuéntame qué sucedió y dónde, y lo envío al equipo correcto."
	msgReset            = "Listo, empecemos de nuevo. ¿Qué sucedió?"
	msgCancelled        = "Reporte cancelado. Si necesitas algo más, escríbeme."
	msgWhatHappened     = "Recibí la foto. ¿Qué sucedió?"
	msgAskPlace         = "¿En qué lugar o habitación ocurre?"
	msgConfirmReprompt  = "Responde «sí» para enviarlo o «no» para corregir algo."
	msgWhatToCorrect    = "¿Qué quieres corregir?"
	msgChooseVersion    = "Ya tengo un reporte en curso. ¿Cuál quieres enviar?\n1) primero: %s\n2) segundo: %s\nResponde «primero» o «segundo»."
	msgChooseReprompt   = "Responde «primero» para seguir con el reporte actual o «segundo» para reemplazarlo por el nuevo."
	msgKeptFirst        = "De acuerdo, sigo con el reporte actual."
	msgMediaCapReached  = "Ya tengo demasiadas fotos para este reporte; no guardaré más."
	msgSendQuestion     = "¿Lo envío? (sí/no)"
	msgPartialDelivery  = "Algunos equipos no recibieron el aviso: %s. Lo revisaremos."
	msgUnknownArea      = "Aviso: no hay destino configurado para %s."
	msgFinalized        = "✅ Reporte enviado a %s. Folio: %s"
	msgFinalizedNoFolio = "✅ Reporte enviado a %s. No pude registrar el folio; el equipo ya fue avisado."
)

func askPlaceText(suggestions []string) string {
	if len(suggestions) == 0 {
		return msgAskPlace
	}
	return fmt.Sprintf("%s ¿Te refieres a %s?", msgAskPlace, joinOr(suggestions))
}

func askAreaText(areas *catalog.Areas) string {
	return fmt.Sprintf("¿A qué área lo envío? Opciones: %s.", areas.Menu())
}

func suggestAreaText(areas *catalog.Areas, code string) string {
	return fmt.Sprintf("Parece un tema de %s. ¿Lo envío a %s? (sí/no)", areas.Name(code), areas.Name(code))
}

func chooseVersionText(current *types.Draft, candidate string) string {
	return fmt.Sprintf(msgChooseVersion, current.Summary(), candidate)
}

// RenderPreview formats the draft for the guest to confirm.
func RenderPreview(d *types.Draft, areas *catalog.Areas) string {
	var b strings.Builder
	b.WriteString("📝 Resumen del reporte\n")
	fmt.Fprintf(&b, "• Qué: %s\n", orDash(d.Summary()))
	fmt.Fprintf(&b, "• Dónde: %s\n", orDash(placeLine(d)))
	fmt.Fprintf(&b, "• Área: %s\n", orDash(areaLine(d, areas)))
	if d.Interpretacion != "" && d.Interpretacion != d.Summary() {
		fmt.Fprintf(&b, "• Foto: %s\n", d.Interpretacion)
	}
	for _, detail := range d.Details {
		fmt.Fprintf(&b, "• Detalle: %s\n", detail)
	}
	if len(d.Safety) > 0 {
		fmt.Fprintf(&b, "⚠️ Seguridad: %s\n", strings.Join(d.Safety, "; "))
	}
	b.WriteString(msgSendQuestion)
	return b.String()
}

// RenderDispatch formats the message sent to area destinations.
func RenderDispatch(ref types.IncidentRef, d *types.Draft, areas *catalog.Areas, mediaCount int) string {
	var b strings.Builder
	if ref.Folio != "" {
		fmt.Fprintf(&b, "🛎️ Nuevo reporte %s\n", ref.Folio)
	} else {
		b.WriteString("🛎️ Nuevo reporte\n")
	}
	fmt.Fprintf(&b, "Lugar: %s\n", placeLine(d))
	fmt.Fprintf(&b, "Área: %s\n", areaLine(d, areas))
	fmt.Fprintf(&b, "Descripción: %s\n", orDash(d.Summary()))
	if d.Interpretacion != "" && d.Interpretacion != d.Summary() {
		fmt.Fprintf(&b, "Foto: %s\n", d.Interpretacion)
	}
	for _, detail := range d.Details {
		fmt.Fprintf(&b, "- %s\n", detail)
	}
	if len(d.Tags) > 0 {
		fmt.Fprintf(&b, "Etiquetas: %s\n", strings.Join(d.Tags, ", "))
	}
	if len(d.Safety) > 0 {
		fmt.Fprintf(&b, "⚠️ Seguridad: %s\n", strings.Join(d.Safety, "; "))
	}
	if mediaCount > 0 {
		fmt.Fprintf(&b, "Fotos: %d\n", mediaCount)
	}
	return strings.TrimRight(b.String(), "\n")
}

func placeLine(d *types.Draft) string {
	line := d.Lugar
	var extra []string
	if d.Building != "" && !strings.Contains(line, d.Building) {
		extra = append(extra, d.Building)
	}
	if d.Floor != "" {
		extra = append(extra, "piso "+d.Floor)
	}
	if len(extra) > 0 && line != "" {
		line += " (" + strings.Join(extra, ", ") + ")"
	}
	return line
}

func areaLine(d *types.Draft, areas *catalog.Areas) string {
	if d.AreaDestino == "" {
		return ""
	}
	line := areas.Name(d.AreaDestino)
	var cc []string
	for _, a := range d.Areas {
		if a != d.AreaDestino {
			cc = append(cc, areas.Name(a))
		}
	}
	if len(cc) > 0 {
		line += " (CC: " + strings.Join(cc, ", ") + ")"
	}
	return line
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

func joinOr(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " o " + items[len(items)-1]
}

// RenderStatus describes the conversation's current draft for status commands.
func RenderStatus(sess *types.Session, areas *catalog.Areas) string {
	if sess == nil || (sess.Draft.Summary() == "" && sess.Draft.Lugar == "" && len(sess.PendingMedia) == 0) {
		return "No hay ningún reporte en curso."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Estado: %s\n", sess.Mode)
	fmt.Fprintf(&b, "• Qué: %s\n", orDash(sess.Draft.Summary()))
	fmt.Fprintf(&b, "• Dónde: %s\n", orDash(placeLine(&sess.Draft)))
	fmt.Fprintf(&b, "• Área: %s\n", orDash(areaLine(&sess.Draft, areas)))
	if n := len(sess.PendingMedia); n > 0 {
		fmt.Fprintf(&b, "• Fotos: %d\n", n)
	}
	return strings.TrimRight(b.String(), "\n")
}
