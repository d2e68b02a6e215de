package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestTextHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTextHandler(&buf, slog.LevelDebug, false, false))

	tests := []struct {
		name string
		log  func()
		want string
	}{
		{
			name: "default_component",
			log:  func() { logger.Info("watching", "files", 42) },
			want: "main  | watching files=42\n",
		},
		{
			name: "component_tag",
			log:  func() { Component(logger, "build").Info("running", "cmd", "go build .") },
			want: "build | running cmd=\"go build .\"\n",
		},
		{
			name: "warn_label",
			log:  func() { Component(logger, "watch").Warn("falling back") },
			want: "watch | WARN falling back\n",
		},
		{
			name: "error_label",
			log:  func() { logger.Error("boom", "err", "exit status 1") },
			want: "main  | ERROR boom err=\"exit status 1\"\n",
		},
		{
			name: "relayed_line",
			log: func() {
				Component(logger, "run").Info("listening on :8080", StreamKey, "stdout")
			},
			want: "run   | listening on :8080\n",
		},
		{
			name: "group",
			log:  func() { logger.WithGroup("req").Info("served", "status", 200) },
			want: "main  | served req.status=200\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.log()
			if got := buf.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTextHandler_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTextHandler(&buf, slog.LevelWarn, false, false))
	logger.Info("hidden")
	logger.Debug("hidden")
	logger.Warn("shown")
	if got := buf.String(); got != "main  | WARN shown\n" {
		t.Errorf("output = %q", got)
	}
}

func TestTextHandler_Time(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTextHandler(&buf, nil, true, false))
	logger.Info("tick")
	if got := buf.String(); !strings.HasPrefix(got, "[") || !strings.HasSuffix(got, "] main  | tick\n") {
		t.Errorf("output = %q", got)
	}
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Options{Level: "info", Format: "json"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	Component(logger, "run").Info("started", "pid", 12)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v: %q", err, buf.String())
	}
	if rec["msg"] != "started" || rec[ComponentKey] != "run" || rec["pid"] != float64(12) {
		t.Errorf("record = %v", rec)
	}

	if _, err := New(&buf, Options{Format: "xml"}); err == nil {
		t.Error("New() accepted an unknown format")
	}
	if _, err := New(&buf, Options{Level: "loud"}); err == nil {
		t.Error("New() accepted an unknown level")
	}
}

func TestLineWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(slog.New(NewTextHandler(&buf, nil, false, false)), "run")
	w := NewLineWriter(logger, "stdout")

	w.Write([]byte("hel"))
	if buf.Len() != 0 {
		t.Fatalf("partial line emitted early: %q", buf.String())
	}
	w.Write([]byte("lo\r\nworld\npart"))
	w.Flush()
	w.Flush()

	want := "run   | hello\nrun   | world\nrun   | part\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestLineWriter_LongLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewLineWriter(slog.New(NewTextHandler(&buf, nil, false, false)), "stderr")

	w.Write(bytes.Repeat([]byte("x"), maxLine+10))
	if got := strings.Count(buf.String(), "\n"); got != 1 {
		t.Errorf("emitted %d lines, want 1", got)
	}
}
