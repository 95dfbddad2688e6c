package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/user/conserje/internal/catalog"
	"github.com/user/conserje/internal/intake"
	"github.com/user/conserje/pkg/llm"
)

// Interpreter turns guest messages into draft operations with an LLM.
type Interpreter struct {
	provider llm.Provider
	areas    *catalog.Areas
	budget   *PromptBudget
	logger   *zap.Logger
}

// NewInterpreter creates an interpreter. budget may be nil, in which case
// the whole recorded history is sent.
func NewInterpreter(provider llm.Provider, areas *catalog.Areas, budget *PromptBudget, logger *zap.Logger) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{provider: provider, areas: areas, budget: budget, logger: logger.Named("interpreter")}
}

type interpretationWire struct {
	Ops      []intake.RawOp `json:"ops"`
	Analysis string         `json:"analysis"`
	Meta     intake.Meta    `json:"meta"`
}

// Interpret asks the model for the turn's operations. Operations the engine
// does not know are dropped; a malformed answer is an ErrInvalidResponse.
func (i *Interpreter) Interpret(ctx context.Context, in intake.TurnInput) (intake.Interpretation, error) {
	messages, err := i.buildMessages(in)
	if err != nil {
		return intake.Interpretation{}, err
	}
	resp, err := i.provider.Complete(ctx, messages, &llm.Options{JSON: true})
	if err != nil {
		return intake.Interpretation{}, fmt.Errorf("interpreter completion: %w", err)
	}

	var wire interpretationWire
	if err := decodeJSON(resp.Content, interpretationValidator, &wire); err != nil {
		return intake.Interpretation{}, err
	}

	out := intake.Interpretation{Analysis: wire.Analysis, Meta: wire.Meta}
	for _, raw := range wire.Ops {
		op, err := intake.DecodeOp(raw)
		if err != nil {
			i.logger.Debug("dropping operation", zap.String("op", raw.Op), zap.Error(err))
			continue
		}
		out.Ops = append(out.Ops, op)
	}
	return out, nil
}

func (i *Interpreter) buildMessages(in intake.TurnInput) ([]llm.Message, error) {
	draft, err := json.Marshal(in.Draft)
	if err != nil {
		return nil, fmt.Errorf("marshal draft: %w", err)
	}
	data := PromptData{
		Areas: areaList(i.areas),
		Mode:  string(in.FocusMode),
		Draft: string(draft),
	}

	// The current turn is sent as the user message; history is what came before.
	history := in.History
	if n := len(history); n > 0 && history[n-1].Text == in.Text {
		history = history[:n-1]
	}
	if i.budget != nil {
		fixedPrompt, err := renderInterpreterPrompt(data)
		if err != nil {
			return nil, err
		}
		history = i.budget.FitHistory([]string{fixedPrompt, in.Text}, history)
	}
	lines := make([]string, 0, len(history))
	for _, h := range history {
		if h.Text == "" {
			lines = append(lines, fmt.Sprintf("[%s] (foto)", h.Mode))
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", h.Mode, h.Text))
	}
	data.History = bulletList(lines)

	system, err := renderInterpreterPrompt(data)
	if err != nil {
		return nil, err
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: in.Text},
	}, nil
}

func areaList(areas *catalog.Areas) string {
	if areas == nil {
		return ""
	}
	var lines []string
	for _, a := range areas.List() {
		line := fmt.Sprintf("%s: %s", strings.ToUpper(a.Code), a.Name)
		if len(a.Keywords) > 0 {
			line += " (" + strings.Join(a.Keywords, ", ") + ")"
		}
		lines = append(lines, line)
	}
	return bulletList(lines)
}
