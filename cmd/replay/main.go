package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/YoByron/Bijaz/internal/heartbeat"
)

// replay feeds recorded position ticks through the trigger evaluator and
// prints what fired, one JSON line per tick. The evaluator is pure, so the
// same tick file always produces the same output; diffing two runs is the
// fastest way to see what a threshold change does.

type symbolRun struct {
	buf   *heartbeat.RollingBuffer
	state heartbeat.TriggerState
	seen  bool
}

type replayLine struct {
	Timestamp int64    `json:"timestamp"`
	Symbol    string   `json:"symbol"`
	Breaker   string   `json:"circuit_breaker,omitempty"`
	Triggers  []string `json:"triggers,omitempty"`
	Detail    []string `json:"detail,omitempty"`
}

func main() {
	log.SetFlags(0)

	var ticksPath string
	var bufferSize int
	var quiet bool
	flag.StringVar(&ticksPath, "ticks", "fixtures/position_ticks.jsonl", "recorded ticks, one JSON object per line")
	flag.IntVar(&bufferSize, "buffer", 60, "rolling buffer capacity")
	flag.BoolVar(&quiet, "quiet", false, "only print ticks where something fired")
	flag.Parse()

	f, err := os.Open(ticksPath)
	if err != nil {
		log.Fatalf("open %s: %v", ticksPath, err)
	}
	defer f.Close()

	cfg := heartbeat.DefaultTriggerConfig()
	breakers := heartbeat.DefaultBreakerConfig()
	runs := map[string]*symbolRun{}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var tick heartbeat.PositionTick
		if err := json.Unmarshal(raw, &tick); err != nil {
			log.Fatalf("line %d: %v", lineNo, err)
		}

		run, ok := runs[tick.Symbol]
		if !ok {
			run = &symbolRun{
				buf:   heartbeat.NewRollingBuffer(bufferSize),
				state: heartbeat.NewTriggerState(),
			}
			runs[tick.Symbol] = run
		}
		run.buf.Push(tick)

		out := replayLine{Timestamp: tick.Timestamp, Symbol: tick.Symbol}

		if reason, tripped := heartbeat.CheckCircuitBreakers(tick, breakers); tripped {
			out.Breaker = reason
			emit(out, quiet)
			continue
		}

		fired, next := heartbeat.EvaluateTriggers(tick.Timestamp, tick, run.buf, run.state,
			cfg, heartbeat.ExtraFlags{PositionOpened: !run.seen})
		run.seen = true
		run.state = next
		if len(fired) > 0 {
			// Live, the advisor baseline moves only when an advisory
			// completes; replay assumes it always does.
			run.state.CommitAdvisor(tick)
		}

		for _, ft := range fired {
			out.Triggers = append(out.Triggers, ft.Name)
			out.Detail = append(out.Detail, ft.Detail)
		}
		emit(out, quiet)
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("read %s: %v", ticksPath, err)
	}
}

func emit(out replayLine, quiet bool) {
	if quiet && out.Breaker == "" && len(out.Triggers) == 0 {
		return
	}
	b, err := json.Marshal(out)
	if err != nil {
		log.Fatalf("marshal: %v", err)
	}
	fmt.Println(string(b))
}
