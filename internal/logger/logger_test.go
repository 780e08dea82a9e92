package logger

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestPrettyFormatter(t *testing.T) {
	f := &PrettyFormatter{NoColor: true}
	entry := &logrus.Entry{
		Time:    time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC),
		Level:   logrus.WarnLevel,
		Message: "chunk out of range",
		Data:    logrus.Fields{"peer": "pixel", "chunk": 7},
	}

	out, err := f.Format(entry)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}

	expected := "15:04:05 WARN  chunk out of range chunk=7 peer=pixel\n"
	if string(out) != expected {
		t.Errorf("expected %q, got %q", expected, string(out))
	}
}

func TestPrettyFormatterColors(t *testing.T) {
	f := &PrettyFormatter{}
	out, err := f.Format(&logrus.Entry{Level: logrus.ErrorLevel, Message: "boom"})
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	if !strings.Contains(string(out), colorRed+"ERROR"+colorReset) {
		t.Errorf("expected red ERROR level, got %q", string(out))
	}
}
