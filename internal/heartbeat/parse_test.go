package heartbeat

import (
	"strings"
	"testing"
)

func TestParseAdvisorReply(t *testing.T) {
	testCases := []struct {
		name       string
		reply      string
		wantErr    bool
		wantAction string
		check      func(*testing.T, *AdvisorAction)
	}{
		{
			name:       "bare object",
			reply:      `{"action":"hold","params":{},"reason":"thesis intact"}`,
			wantAction: ActionHold,
			check: func(t *testing.T, act *AdvisorAction) {
				if act.Reason != "thesis intact" {
					t.Fatalf("reason = %q", act.Reason)
				}
			},
		},
		{
			name:       "params decoded",
			reply:      `{"action":"tighten_stop","params":{"newStopPrice":2060.5},"reason":"lock in gains"}`,
			wantAction: ActionTightenStop,
			check: func(t *testing.T, act *AdvisorAction) {
				if act.NewStopPrice == nil || *act.NewStopPrice != 2060.5 {
					t.Fatalf("newStopPrice = %v", act.NewStopPrice)
				}
				if act.NewTpPrice != nil || act.FractionOfPosition != nil {
					t.Fatal("unset params should stay nil")
				}
			},
		},
		{
			name:       "prose around the object",
			reply:      "Given the funding flip I would reduce exposure.\n{\"action\":\"partial_close\",\"params\":{\"fractionOfPosition\":0.5},\"reason\":\"derisk\"}\nWatch the next funding print.",
			wantAction: ActionPartialClose,
			check: func(t *testing.T, act *AdvisorAction) {
				if act.FractionOfPosition == nil || *act.FractionOfPosition != 0.5 {
					t.Fatalf("fractionOfPosition = %v", act.FractionOfPosition)
				}
			},
		},
		{
			name:       "markdown fenced",
			reply:      "```json\n{\"action\":\"close\",\"reason\":\"liquidation risk\"}\n```",
			wantAction: ActionClose,
		},
		{
			name:       "braces inside the reason string",
			reply:      `{"action":"hold","reason":"range {2000, 2200} still holding"}`,
			wantAction: ActionHold,
			check: func(t *testing.T, act *AdvisorAction) {
				if !strings.Contains(act.Reason, "{2000, 2200}") {
					t.Fatalf("reason = %q", act.Reason)
				}
			},
		},
		{
			name:       "escaped quotes inside the reason",
			reply:      `{"action":"hold","reason":"support is \"strong\" here"}`,
			wantAction: ActionHold,
		},
		{
			name:       "first of two objects wins",
			reply:      `{"action":"hold","reason":"first"} {"action":"close","reason":"second"}`,
			wantAction: ActionHold,
		},
		{
			name:    "no json at all",
			reply:   "I would simply hold this position.",
			wantErr: true,
		},
		{
			name:    "unbalanced object",
			reply:   `{"action":"hold","reason":"oops"`,
			wantErr: true,
		},
		{
			name:    "unquoted keys",
			reply:   `{action: hold}`,
			wantErr: true,
		},
		{
			name:    "missing action field",
			reply:   `{"params":{"newStopPrice":2060},"reason":"no action"}`,
			wantErr: true,
		},
		{
			name:    "empty reply",
			reply:   "",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			act, err := ParseAdvisorReply(tc.reply)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("want error, got %+v", act)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if act.Action != tc.wantAction {
				t.Fatalf("action = %q, want %q", act.Action, tc.wantAction)
			}
			if tc.check != nil {
				tc.check(t, act)
			}
		})
	}
}

func TestAdvisorActionParams(t *testing.T) {
	fraction := 0.25
	act := &AdvisorAction{Action: ActionPartialClose, FractionOfPosition: &fraction}
	params := act.Params()
	if len(params) != 1 || params["fractionOfPosition"] != 0.25 {
		t.Fatalf("params = %v", params)
	}

	hold := &AdvisorAction{Action: ActionHold}
	if got := hold.Params(); len(got) != 0 {
		t.Fatalf("hold params = %v, want none", got)
	}
}
