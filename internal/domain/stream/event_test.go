package stream_test

import (
	"encoding/json"
	"testing"

	"github.com/alertforge/alertforge/internal/domain/stream"
)

func TestTerminal(t *testing.T) {
	tests := []struct {
		ev   stream.Event
		want bool
	}{
		{stream.StepStart(1, "metrics"), false},
		{stream.ActionExecuted(1, "create_ticket", nil), false},
		{stream.RetryReset(), false},
		{stream.Message("done"), true},
		{stream.Error("failed"), true},
	}

	for _, tt := range tests {
		if got := tt.ev.Terminal(); got != tt.want {
			t.Errorf("%s: Terminal() = %v, want %v", tt.ev.Type, got, tt.want)
		}
	}
}

func TestEventJSONShape(t *testing.T) {
	data, err := json.Marshal(stream.StepStart(3, "logs"))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"step_start","payload":{"step":3,"agent":"logs"}}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}

	data, err = json.Marshal(stream.RetryReset())
	if err != nil {
		t.Fatal(err)
	}
	want = `{"type":"retry_reset","payload":{}}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}
