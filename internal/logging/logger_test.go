// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func TestInit(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	t.Run("json format produces valid JSON", func(t *testing.T) {
		var buf bytes.Buffer
		Init(Config{Level: "debug", Format: "json", Timestamp: true, Output: &buf})

		Info().Str("component", "test").Msg("hello")

		var entry map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("output is not JSON: %v", err)
		}
		if entry["message"] != "hello" {
			t.Errorf("expected message=hello, got %v", entry["message"])
		}
		if entry["component"] != "test" {
			t.Errorf("expected component=test, got %v", entry["component"])
		}
	})

	t.Run("level filters lower levels", func(t *testing.T) {
		var buf bytes.Buffer
		Init(Config{Level: "warn", Format: "json", Output: &buf})

		Debug().Msg("dropped")
		Info().Msg("dropped")
		Warn().Msg("kept")

		out := buf.String()
		if strings.Contains(out, "dropped") {
			t.Errorf("expected debug/info output suppressed, got %q", out)
		}
		if !strings.Contains(out, "kept") {
			t.Errorf("expected warn output present, got %q", out)
		}
	})

	t.Run("unknown level defaults to info", func(t *testing.T) {
		if got := parseLevel("bogus"); got != zerolog.InfoLevel {
			t.Errorf("expected info level, got %v", got)
		}
	})
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)

	slogger := slog.New(NewSlogHandlerWithLogger(logger))
	slogger.Info("service started", "worker_id", int64(2), "running", true)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["message"] != "service started" {
		t.Errorf("expected message, got %v", entry["message"])
	}
	if entry["worker_id"] != float64(2) {
		t.Errorf("expected worker_id=2, got %v", entry["worker_id"])
	}
	if entry["running"] != true {
		t.Errorf("expected running=true, got %v", entry["running"])
	}
}

func TestSlogHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)

	slogger := slog.New(NewSlogHandlerWithLogger(logger)).WithGroup("queue")
	slogger.Info("popped", "subject", "events_queue")

	if !strings.Contains(buf.String(), `"queue.subject":"events_queue"`) {
		t.Errorf("expected grouped field, got %q", buf.String())
	}
}
