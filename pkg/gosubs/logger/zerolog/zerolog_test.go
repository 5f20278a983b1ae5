package zerolog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/loyaltyforge/gosubs/pkg/gosubs"
)

func TestLogger_StructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(zerolog.New(&buf))

	logger.Info("billing event reconciled",
		gosubs.Field{Key: "user_id", Value: "user_1"},
		gosubs.Field{Key: "plan", Value: "monthly"},
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}

	if entry["message"] != "billing event reconciled" {
		t.Errorf("unexpected message: %v", entry["message"])
	}
	if entry["user_id"] != "user_1" {
		t.Errorf("unexpected user_id: %v", entry["user_id"])
	}
	if entry["plan"] != "monthly" {
		t.Errorf("unexpected plan: %v", entry["plan"])
	}
	if entry["level"] != "info" {
		t.Errorf("unexpected level: %v", entry["level"])
	}
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(zerolog.New(&buf).Level(zerolog.WarnLevel))

	logger.Debug("suppressed")
	logger.Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("expected debug/info to be suppressed, got %q", buf.String())
	}

	logger.Warn("visible")
	if buf.Len() == 0 {
		t.Error("expected warn to be logged")
	}
}
