package monitoring

import (
	"fmt"
	"testing"
)

func TestLogfDefault(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf is nil by default")
	}
	// Must not panic with the default logger installed.
	Logf("progress %d/%d", 1, 2)
}

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	Logf("completed %d lagtimes", 5)

	if got != "completed 5 lagtimes" {
		t.Errorf("captured %q, want %q", got, "completed 5 lagtimes")
	}
}

func TestSetLoggerNilMutes(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(string, ...interface{}) { called = true })
	SetLogger(nil)
	Logf("should be dropped")

	if called {
		t.Error("nil logger still forwarded to the previous one")
	}
}
