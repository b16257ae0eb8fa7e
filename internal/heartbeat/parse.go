package heartbeat

import (
	"encoding/json"
	"fmt"
)

// Advisor actions. The reply parser only ever yields these; anything else
// is rejected at validation.
const (
	ActionHold             = "hold"
	ActionTightenStop      = "tighten_stop"
	ActionAdjustTakeProfit = "adjust_take_profit"
	ActionPartialClose     = "partial_close"
	ActionClose            = "close"
)

// AdvisorAction is the parsed reply. Param pointers are nil when the reply
// omitted them; validation decides whether that is acceptable.
type AdvisorAction struct {
	Action             string   `json:"action"`
	NewStopPrice       *float64 `json:"newStopPrice,omitempty"`
	NewTpPrice         *float64 `json:"newTpPrice,omitempty"`
	FractionOfPosition *float64 `json:"fractionOfPosition,omitempty"`
	Reason             string   `json:"reason"`
}

// Params re-encodes the set params for journaling.
func (a *AdvisorAction) Params() map[string]float64 {
	m := map[string]float64{}
	if a.NewStopPrice != nil {
		m["newStopPrice"] = *a.NewStopPrice
	}
	if a.NewTpPrice != nil {
		m["newTpPrice"] = *a.NewTpPrice
	}
	if a.FractionOfPosition != nil {
		m["fractionOfPosition"] = *a.FractionOfPosition
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// ParseAdvisorReply extracts the first balanced JSON object from the reply
// and decodes it. Prose around the object is ignored; a reply without one
// is a parse failure (advisor outcome "failed").
func ParseAdvisorReply(reply string) (*AdvisorAction, error) {
	obj, ok := firstJSONObject(reply)
	if !ok {
		return nil, fmt.Errorf("no JSON object in reply (%d bytes)", len(reply))
	}

	var wire struct {
		Action string `json:"action"`
		Params struct {
			NewStopPrice       *float64 `json:"newStopPrice"`
			NewTpPrice         *float64 `json:"newTpPrice"`
			FractionOfPosition *float64 `json:"fractionOfPosition"`
		} `json:"params"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(obj), &wire); err != nil {
		return nil, fmt.Errorf("malformed advisor JSON: %w", err)
	}
	if wire.Action == "" {
		return nil, fmt.Errorf("advisor JSON has no action")
	}

	return &AdvisorAction{
		Action:             wire.Action,
		NewStopPrice:       wire.Params.NewStopPrice,
		NewTpPrice:         wire.Params.NewTpPrice,
		FractionOfPosition: wire.Params.FractionOfPosition,
		Reason:             wire.Reason,
	}, nil
}

// firstJSONObject scans for the first balanced {...}, honoring strings and
// escapes so braces inside the reason text don't end the object early.
func firstJSONObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if start == -1 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}
