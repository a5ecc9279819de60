package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestExpvarMetricsRecorderExports(t *testing.T) {
	recorder := NewExpvarMetricsRecorder("")
	if recorder.Name() == "" {
		t.Fatalf("expected generated name")
	}
	ctx := context.Background()
	recorder.Observe(ctx, "commit", true, 20*time.Millisecond)
	recorder.Observe(ctx, "commit", false, 5*time.Millisecond)
	recorder.Observe(ctx, "", true, time.Millisecond)

	snapshot := recorder.Snapshot()
	if snapshot.Results["commit"]["success"] != 1 || snapshot.Results["commit"]["error"] != 1 {
		t.Fatalf("unexpected counters: %+v", snapshot.Results)
	}
	if snapshot.DurationsMS["commit"] < 24 {
		t.Fatalf("durations not aggregated: %+v", snapshot.DurationsMS)
	}
	if _, ok := snapshot.Results[""]; ok {
		t.Fatalf("empty operation must be dropped")
	}
}

func TestJSONTracerWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "read")
	span.End(nil)
	_, span = tracer.Start(context.Background(), "commit")
	span.End(errors.New("boom"))

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(entries))
	}
	if entries[0].Status != "success" || entries[1].Status != "error" || entries[1].Error != "boom" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 encoded lines, got %d", len(lines))
	}
	var decoded JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("decode span: %v", err)
	}
	if decoded.Operation != "commit" {
		t.Fatalf("unexpected span: %+v", decoded)
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()
	recorder.Observe(ctx, "commit", true, 10*time.Millisecond)
	recorder.Observe(ctx, "commit", false, time.Millisecond)
	recorder.Observe(ctx, "", true, time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	byName := map[string]bool{}
	for _, mf := range families {
		byName[mf.GetName()] = true
	}
	if !byName["resourcecache_operation_duration_seconds"] || !byName["resourcecache_operation_results_total"] {
		t.Fatalf("expected registered collectors, got %v", byName)
	}

	// Double registration must fail.
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
