package nlu

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// InterpreterPrompt is the system prompt of the turn interpreter. It uses
// text/template syntax with PromptData fields.
const InterpreterPrompt = `Eres el intérprete de un asistente que recibe reportes de incidentes de huéspedes de un hotel.
Convierte el mensaje del huésped en operaciones sobre el borrador del reporte. No converses: responde solo con un objeto JSON.

## Áreas válidas
{{.Areas}}

## Estado actual
- Modo: {{.Mode}}
- Borrador: {{.Draft}}
{{- if .History}}

## Mensajes recientes (más antiguo primero)
{{.History}}
{{- end}}

## Operaciones
- {"op":"set_field","field":"lugar|descripcion|area_destino|building|floor|room|interpretacion","value":"..."}
- {"op":"add_area","area":"CÓDIGO"} / {"op":"remove_area","area":"CÓDIGO"} / {"op":"replace_areas","areas":["CÓDIGO"]}
- {"op":"append_detail","text":"..."} para información adicional sobre el mismo problema
- {"op":"show_preview"} cuando pida ver el resumen
- {"op":"confirm"} solo si confirma explícitamente el envío
- {"op":"cancel"} si quiere cancelar el reporte

## Formato de respuesta
{"ops":[...],"analysis":"frase breve","meta":{"is_new_incident_candidate":false,"is_place_correction_only":false}}

- is_new_incident_candidate: el mensaje describe un problema distinto al del borrador.
- is_place_correction_only: el mensaje solo corrige el lugar.
- Si es un saludo o charla sin reporte, devuelve "ops":[] y escribe "smalltalk" en analysis.
- Usa solo códigos de área de la lista. No inventes lugares.`

// VisionPrompt is the system prompt of the photo analyzer.
const VisionPrompt = `Analizas fotos enviadas por huéspedes de un hotel para reportar un problema.
Describe en una frase, en español, el problema visible. Responde solo con JSON:
{"interpretation":"...","tags":["..."],"safety":["riesgos visibles, si los hay"],"area_hints":["CÓDIGO"]}
Áreas válidas para area_hints:
%s`

// AreaPrompt is the system prompt of the area detector.
const AreaPrompt = `Clasifica el reporte de un huésped de hotel en una de estas áreas:
%s
Responde solo con JSON: {"area":"CÓDIGO"} o {"area":""} si ninguna aplica.`

// PlacePrompt is the system prompt of the informal place classifier.
const PlacePrompt = `Un huésped describe un lugar del hotel con sus propias palabras.
Elige la etiqueta que corresponde de esta lista, o indica que no hay ninguna:
%s
Responde solo con JSON: {"found":true,"label":"etiqueta exacta","confidence":0.0-1.0} o {"found":false}.`

// PromptData holds the values rendered into InterpreterPrompt.
type PromptData struct {
	Areas   string
	Mode    string
	Draft   string
	History string
}

var interpreterTemplate = template.Must(template.New("interpreter").Parse(InterpreterPrompt))

func renderInterpreterPrompt(data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := interpreterTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render interpreter prompt: %w", err)
	}
	return buf.String(), nil
}

func bulletList(items []string) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
