package obs

import "testing"

func TestNewLogger_ZeroValueDefaultsToInfoConsole(t *testing.T) {
	log, err := NewLogger(Config{})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if log == nil {
		t.Fatal("expected a non-nil logger")
	}
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "not-a-level"}); err == nil {
		t.Error("expected an error for an unparseable level")
	}
}

func TestNewLogger_AcceptsJSONFormat(t *testing.T) {
	log, err := NewLogger(Config{Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if log == nil {
		t.Fatal("expected a non-nil logger")
	}
}

func TestNoop_NeverPanicsOnLogCalls(t *testing.T) {
	log := Noop()
	log.Info("should be discarded")
	log.Error("also discarded")
}
