package intake

import (
	"errors"
	"fmt"
	"strings"

	"github.com/user/conserje/internal/textnorm"
)

// ErrUnknownOp is returned when an operation kind or field is not recognised.
var ErrUnknownOp = errors.New("unknown operation")

// Draft fields settable with SetField.
const (
	FieldLugar          = "lugar"
	FieldDescripcion    = "descripcion"
	FieldAreaDestino    = "area_destino"
	FieldBuilding       = "building"
	FieldFloor          = "floor"
	FieldRoom           = "room"
	FieldInterpretacion = "interpretacion"
)

// Op is one draft edit emitted by the turn interpreter. The set of
// implementations is closed; see the type switch in applyOp.
type Op interface {
	// Kind returns the wire name of the operation.
	Kind() string
	key() string
}

type SetField struct {
	Field string
	Value string
}

type AddArea struct{ Area string }

type RemoveArea struct{ Area string }

type ReplaceAreas struct{ Areas []string }

type AppendDetail struct{ Text string }

type ShowPreview struct{}

type Confirm struct{}

type Cancel struct{}

func (SetField) Kind() string     { return "set_field" }
func (AddArea) Kind() string      { return "add_area" }
func (RemoveArea) Kind() string   { return "remove_area" }
func (ReplaceAreas) Kind() string { return "replace_areas" }
func (AppendDetail) Kind() string { return "append_detail" }
func (ShowPreview) Kind() string  { return "show_preview" }
func (Confirm) Kind() string      { return "confirm" }
func (Cancel) Kind() string       { return "cancel" }

func (o SetField) key() string   { return o.Kind() + "|" + o.Field + "|" + textnorm.Simplify(o.Value) }
func (o AddArea) key() string    { return o.Kind() + "|" + textnorm.Simplify(o.Area) }
func (o RemoveArea) key() string { return o.Kind() + "|" + textnorm.Simplify(o.Area) }
func (o ReplaceAreas) key() string {
	parts := make([]string, len(o.Areas))
	for i, a := range o.Areas {
		parts[i] = textnorm.Simplify(a)
	}
	return o.Kind() + "|" + strings.Join(parts, ",")
}
func (o AppendDetail) key() string { return o.Kind() + "|" + textnorm.Simplify(o.Text) }
func (o ShowPreview) key() string  { return o.Kind() }
func (o Confirm) key() string      { return o.Kind() }
func (o Cancel) key() string       { return o.Kind() }

// RawOp is the loose wire shape of an operation.
type RawOp struct {
	Op    string   `json:"op"`
	Field string   `json:"field,omitempty"`
	Value string   `json:"value,omitempty"`
	Area  string   `json:"area,omitempty"`
	Areas []string `json:"areas,omitempty"`
	Text  string   `json:"text,omitempty"`
}

// DecodeOp converts a wire operation into its typed form.
func DecodeOp(raw RawOp) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(raw.Op)) {
	case "set_field":
		field := strings.ToLower(strings.TrimSpace(raw.Field))
		switch field {
		case FieldLugar, FieldDescripcion, FieldAreaDestino, FieldBuilding,
			FieldFloor, FieldRoom, FieldInterpretacion:
		default:
			return nil, fmt.Errorf("%w: set_field %q", ErrUnknownOp, raw.Field)
		}
		return SetField{Field: field, Value: strings.TrimSpace(raw.Value)}, nil
	case "add_area":
		return AddArea{Area: firstNonEmpty(raw.Area, raw.Value)}, nil
	case "remove_area":
		return RemoveArea{Area: firstNonEmpty(raw.Area, raw.Value)}, nil
	case "replace_areas":
		return ReplaceAreas{Areas: raw.Areas}, nil
	case "append_detail":
		return AppendDetail{Text: firstNonEmpty(raw.Text, raw.Value)}, nil
	case "show_preview":
		return ShowPreview{}, nil
	case "confirm":
		return Confirm{}, nil
	case "cancel":
		return Cancel{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOp, raw.Op)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Dedupe collapses identical operations, keeping the first occurrence.
func Dedupe(ops []Op) []Op {
	seen := make(map[string]struct{}, len(ops))
	out := make([]Op, 0, len(ops))
	for _, op := range ops {
		k := op.key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, op)
	}
	return out
}

// Order sorts ops into application order: cancel first, then field and area
// mutations, then preview/confirm. Relative order within a group is kept.
func Order(ops []Op) []Op {
	var cancel, mutate, gate []Op
	for _, op := range ops {
		switch op.(type) {
		case Cancel:
			cancel = append(cancel, op)
		case ShowPreview, Confirm:
			gate = append(gate, op)
		default:
			mutate = append(mutate, op)
		}
	}
	out := make([]Op, 0, len(ops))
	out = append(out, cancel...)
	out = append(out, mutate...)
	return append(out, gate...)
}
