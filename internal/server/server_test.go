package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labelbot/labelbot/pkg/storage"
)

func seed(t *testing.T) *storage.DB {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	if err := db.StartRun(ctx, storage.Run{ID: "run-1", StartedAt: start, Strategy: "stay", Queue: 45}); err != nil {
		t.Fatalf("start run: %v", err)
	}
	for i, action := range []string{"approve", "defer", "defer"} {
		rec := storage.Record{RunID: "run-1", OccurredAt: start.Add(time.Duration(i) * time.Second), Link: "l", Match: "no-match", Action: action}
		if _, err := db.InsertRecord(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return db
}

func get(t *testing.T, h http.Handler, path string, auth bool, out interface{}) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth {
		req.SetBasicAuth("admin", "pw")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code == http.StatusOK && out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rec.Code
}

func TestHistoryAPI(t *testing.T) {
	h := New(seed(t), "", "").Handler()

	var stats []storage.ActionStats
	if code := get(t, h, "/api/stats", false, &stats); code != http.StatusOK {
		t.Fatalf("stats: unexpected status %d", code)
	}
	if len(stats) != 2 || stats[1].Action != "defer" || stats[1].Count != 2 {
		t.Fatalf("unexpected stats %#v", stats)
	}

	var runs []storage.Run
	if code := get(t, h, "/api/runs?limit=5", false, &runs); code != http.StatusOK {
		t.Fatalf("runs: unexpected status %d", code)
	}
	if len(runs) != 1 || runs[0].Processed != 3 || runs[0].Approved != 1 {
		t.Fatalf("unexpected runs %#v", runs)
	}

	var recs []storage.Record
	if code := get(t, h, "/api/runs/run-1/records?action=defer", false, &recs); code != http.StatusOK {
		t.Fatalf("records: unexpected status %d", code)
	}
	if len(recs) != 2 {
		t.Fatalf("unexpected records %#v", recs)
	}

	if code := get(t, h, "/api/records?since=2024-05-01T09:00:01Z", false, &recs); code != http.StatusOK || len(recs) != 2 {
		t.Fatalf("since filter: status %d, records %#v", code, recs)
	}

	if code := get(t, h, "/api/runs/missing", false, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run, got %d", code)
	}
	if code := get(t, h, "/api/runs/missing/records", false, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run records, got %d", code)
	}
	if code := get(t, h, "/api/runs?limit=abc", false, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", code)
	}
	if code := get(t, h, "/api/records?since=yesterday", false, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad since, got %d", code)
	}
}

func TestBasicAuth(t *testing.T) {
	h := New(seed(t), "admin", "pw").Handler()

	if code := get(t, h, "/api/stats", false, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", code)
	}
	if code := get(t, h, "/api/stats", true, nil); code != http.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d", code)
	}
}
