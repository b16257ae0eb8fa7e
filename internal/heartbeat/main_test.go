package heartbeat

import (
	"io"
	"os"
	"testing"

	"github.com/YoByron/Bijaz/internal/observ"
)

func TestMain(m *testing.M) {
	prev := observ.SetOutput(io.Discard)
	code := m.Run()
	observ.SetOutput(prev)
	os.Exit(code)
}
