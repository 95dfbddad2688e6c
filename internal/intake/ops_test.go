package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeOp(t *testing.T) {
	tests := []struct {
		name string
		raw  RawOp
		want Op
	}{
		{"set field", RawOp{Op: "set_field", Field: "Lugar", Value: " Villa 6 "}, SetField{Field: FieldLugar, Value: "Villa 6"}},
		{"add area from value", RawOp{Op: "add_area", Value: "hk"}, AddArea{Area: "hk"}},
		{"remove area", RawOp{Op: "remove_area", Area: "it"}, RemoveArea{Area: "it"}},
		{"replace areas", RawOp{Op: "replace_areas", Areas: []string{"man", "hk"}}, ReplaceAreas{Areas: []string{"man", "hk"}}},
		{"append detail", RawOp{Op: "APPEND_DETAIL", Text: "desde ayer"}, AppendDetail{Text: "desde ayer"}},
		{"preview", RawOp{Op: "show_preview"}, ShowPreview{}},
		{"confirm", RawOp{Op: "confirm"}, Confirm{}},
		{"cancel", RawOp{Op: "cancel"}, Cancel{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeOp(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeOpRejectsUnknown(t *testing.T) {
	_, err := DecodeOp(RawOp{Op: "delete_everything"})
	assert.ErrorIs(t, err, ErrUnknownOp)

	_, err = DecodeOp(RawOp{Op: "set_field", Field: "reporter"})
	assert.ErrorIs(t, err, ErrUnknownOp)
}

func TestDedupeKeepsFirst(t *testing.T) {
	ops := Dedupe([]Op{
		AppendDetail{Text: "Gotea mucho."},
		AddArea{Area: "hk"},
		AppendDetail{Text: "gotea mucho"},
		AddArea{Area: "HK"},
		ReplaceAreas{Areas: []string{"man", "hk"}},
		ReplaceAreas{Areas: []string{"man", "hk"}},
	})
	assert.Equal(t, []Op{
		AppendDetail{Text: "Gotea mucho."},
		AddArea{Area: "hk"},
		ReplaceAreas{Areas: []string{"man", "hk"}},
	}, ops)
}

func TestOrderPutsCancelFirstAndGatesLast(t *testing.T) {
	ops := Order([]Op{
		Confirm{},
		SetField{Field: FieldLugar, Value: "lobby"},
		ShowPreview{},
		Cancel{},
		AddArea{Area: "man"},
	})
	assert.Equal(t, []Op{
		Cancel{},
		SetField{Field: FieldLugar, Value: "lobby"},
		AddArea{Area: "man"},
		Confirm{},
		ShowPreview{},
	}, ops)
}
