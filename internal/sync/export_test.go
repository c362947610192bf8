package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/alfredjeanlab/relaymux/internal/model"
)

func TestExportJSONL_Empty(t *testing.T) {
	ms := newMockStore()
	var buf bytes.Buffer
	n, err := ExportJSONL(context.Background(), ms, &buf, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 events, got %d", n)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (header only), got %d", len(lines))
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != "1" || h.Type != "header" || h.EventCount != 0 || h.Since != nil {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestExportJSONL_OrdersOldestFirst(t *testing.T) {
	ms := newMockStore()
	ms.add(
		&model.Event{ID: "late", Author: "alice", Kind: 1, CreatedAt: 30, Tags: [][]string{}},
		&model.Event{ID: "b", Author: "bob", Kind: 1, CreatedAt: 10, Tags: [][]string{{"p", "alice"}}},
		&model.Event{ID: "a", Author: "carol", Kind: 0, CreatedAt: 10, Tags: [][]string{}, Content: "<b>&</b>"},
	)

	var buf bytes.Buffer
	if _, err := ExportJSONL(context.Background(), ms, &buf, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), buf.String())
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.EventCount != 3 {
		t.Fatalf("header event_count = %d", h.EventCount)
	}

	var ids []string
	for _, line := range lines[1:] {
		var rec struct {
			Type string      `json:"type"`
			Data model.Event `json:"data"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal %s: %v", line, err)
		}
		if rec.Type != "event" {
			t.Fatalf("expected event type, got %q", rec.Type)
		}
		ids = append(ids, rec.Data.ID)
	}
	if strings.Join(ids, ",") != "a,b,late" {
		t.Fatalf("events not ordered: %v", ids)
	}
	if !strings.Contains(lines[1], "<b>&</b>") {
		t.Errorf("content should not be HTML-escaped: %s", lines[1])
	}
}

func TestExportJSONL_Since(t *testing.T) {
	ms := newMockStore()
	ms.add(
		&model.Event{ID: "old", CreatedAt: 5},
		&model.Event{ID: "new", CreatedAt: 50},
	)
	var buf bytes.Buffer
	n, err := ExportJSONL(context.Background(), ms, &buf, model.Int64(10))
	if err != nil || n != 1 {
		t.Fatalf("ExportJSONL() = %d, %v", n, err)
	}
	if !strings.Contains(buf.String(), `"since":10`) {
		t.Errorf("header should carry since: %s", buf.String())
	}
}

func TestExportJSONL_QueryError(t *testing.T) {
	ms := newMockStore()
	ms.queryErr = errors.New("db down")
	if _, err := ExportJSONL(context.Background(), ms, &bytes.Buffer{}, nil); err == nil {
		t.Fatal("expected error")
	}
}

func nonEmptyLines(s string) []string {
	var result []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}
