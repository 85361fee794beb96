package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInitFallsBackToInfo(t *testing.T) {
	Init("debug")
	if got := logrus.GetLevel(); got != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", got)
	}

	Init("not-a-level")
	if got := logrus.GetLevel(); got != logrus.InfoLevel {
		t.Fatalf("expected fallback to info, got %s", got)
	}
}

func TestNewDefaultLoggerSatisfiesInterface(t *testing.T) {
	var l Logger = NewDefaultLogger()
	if l == nil {
		t.Fatal("expected a logger")
	}
	l.Debugf("format check %d", 1)
}
