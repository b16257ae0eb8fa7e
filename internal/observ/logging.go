package observ

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	logMu  sync.Mutex
	logOut io.Writer = os.Stdout
)

// Log emits one JSON line: {"ts":..., "event":..., ...fields}.
// Severity is part of the event name (snapshot_fail, watcher_fatal);
// there are no levels.
func Log(event string, kv map[string]any) {
	out := map[string]any{}
	for k, v := range kv {
		out[k] = v
	}
	out["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	out["event"] = event
	b, _ := json.Marshal(out)
	logMu.Lock()
	defer logMu.Unlock()
	fmt.Fprintln(logOut, string(b))
}

// SetOutput redirects log lines, e.g. io.Discard in tests. Returns the
// previous writer so callers can restore it.
func SetOutput(w io.Writer) io.Writer {
	logMu.Lock()
	defer logMu.Unlock()
	prev := logOut
	logOut = w
	return prev
}
