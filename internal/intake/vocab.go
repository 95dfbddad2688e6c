package intake

import (
	"regexp"
	"strings"

	"github.com/user/conserje/internal/catalog"
	"github.com/user/conserje/internal/textnorm"
)

var ambiguousNumber = regexp.MustCompile(`^\d{1,3}$`)

// IsAmbiguousNumber reports whether s is a bare 1-3 digit number, which is
// never read as a yes or a no.
func IsAmbiguousNumber(s string) bool {
	return ambiguousNumber.MatchString(strings.TrimSpace(s))
}

var resetTokens = textnorm.Set(
	"reset", "reiniciar", "reinicia", "/reset", "empezar de nuevo", "borrar todo", "nuevo reporte",
)

// IsReset reports whether s is exactly one of the reset tokens.
func IsReset(s string) bool {
	return textnorm.MatchesAny(strings.TrimPrefix(strings.TrimSpace(s), "/"), resetTokens)
}

var greetings = []string{
	"hola", "buenos dias", "buenas tardes", "buenas noches", "buenas", "que tal",
	"hey", "hi", "hello", "saludos", "buen dia",
}

var nonIncident = textnorm.Set(
	"gracias", "muchas gracias", "ok gracias", "no es un reporte", "solo saludaba",
	"nada", "no pasa nada", "todo bien", "era una prueba", "prueba", "test",
	"adios", "hasta luego", "bye",
)

// IsGreeting reports whether s is a greeting alone or begins with one and
// says little else. A greeting followed by a room or villa is not one.
func IsGreeting(s string) bool {
	simple := textnorm.Simplify(s)
	for _, g := range greetings {
		if simple == g {
			return true
		}
		rest, ok := strings.CutPrefix(simple, g+" ")
		if !ok || textnorm.WordCount(rest) > 2 || mentionsIncident(rest) {
			continue
		}
		if _, _, place := catalog.StrongSignal(rest); place {
			return false
		}
		return true
	}
	return false
}

// IsNonIncident reports whether s explicitly says it is not a report.
func IsNonIncident(s string) bool {
	return textnorm.MatchesAny(s, nonIncident)
}

var smalltalkMarkers = []string{
	"smalltalk", "small talk", "saludo", "greeting", "no es un incidente",
	"no es un reporte", "not an incident", "conversacion casual", "chitchat",
}

// isSmalltalkAnalysis reports whether the interpreter's analysis flags the
// turn as conversation rather than a report.
func isSmalltalkAnalysis(analysis string) bool {
	simple := textnorm.Simplify(analysis)
	for _, m := range smalltalkMarkers {
		if textnorm.ContainsPhrase(simple, textnorm.Simplify(m)) {
			return true
		}
	}
	return false
}

var affirmativeEmoji = []string{"✅", "👍", "👌", "✔️", "✔"}

var affirmatives = textnorm.Set(
	"si", "sí", "sip", "simon", "claro", "ok", "okay", "dale", "correcto", "confirmo",
	"confirmar", "envialo", "enviar", "adelante", "de acuerdo", "si por favor",
	"si envialo", "esta bien", "yes", "listo", "va",
)

var negatives = textnorm.Set(
	"no", "nop", "nel", "no gracias", "incorrecto", "corregir", "cambiar", "esta mal", "todavia no",
)

var cancelWords = textnorm.Set(
	"cancelar", "cancela", "cancelalo", "olvidalo", "ya no", "ya no importa", "anular",
)

// IsAffirmative reports whether s is in the fixed affirmative set.
func IsAffirmative(s string) bool {
	trimmed := strings.TrimSpace(s)
	for _, e := range affirmativeEmoji {
		if trimmed == e {
			return true
		}
	}
	return textnorm.MatchesAny(trimmed, affirmatives)
}

// IsNegative reports whether s is in the fixed negative set.
func IsNegative(s string) bool {
	if strings.TrimSpace(s) == "👎" || strings.TrimSpace(s) == "❌" {
		return true
	}
	return textnorm.MatchesAny(s, negatives)
}

// IsCancel reports whether s asks to drop the report.
func IsCancel(s string) bool {
	return textnorm.MatchesAny(s, cancelWords)
}

var (
	chooseFirst  = textnorm.Set("primero", "el primero", "1", "primer", "el anterior", "mantener", "conservar")
	chooseSecond = textnorm.Set("segundo", "el segundo", "2", "el nuevo", "nuevo")
)

// incidentVerbs are words that typically describe a new problem.
var incidentVerbs = []string{
	"no funciona", "no sirve", "no prende", "no enciende", "no hay", "se cayo", "se rompio",
	"roto", "rota", "fuga", "gotea", "tirando", "huele", "ruido", "atascado", "tapado",
	"falla", "descompuesto", "descompuesta", "sucio", "sucia", "inundado", "quemado",
	"no jala", "se descompuso", "se fue", "esta fallando",
}

func mentionsIncident(s string) bool {
	simple := textnorm.Simplify(s)
	for _, v := range incidentVerbs {
		if textnorm.ContainsPhrase(simple, v) {
			return true
		}
	}
	return false
}
