package attendance

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/rollcall/internal/database"
)

func TestOverride(t *testing.T) {
	svc, stores := newTestService(t, nil)

	rec, err := svc.Override(context.Background(), OverrideRequest{
		StudentID: "S001",
		Name:      "Alice",
		Division:  strPtr("10A"),
		Date:      "2026-03-02",
		Status:    database.StatusAbsent,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != database.StatusAbsent || rec.Date != "2026-03-02" || rec.Time != "10:30:15" {
		t.Errorf("unexpected record %+v", rec)
	}

	// A second override flips the status and keeps the division.
	rec, err = svc.Override(context.Background(), OverrideRequest{
		StudentID: "S001",
		Name:      "Alice",
		Date:      "2026-03-02",
		Status:    database.StatusPresent,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != database.StatusPresent || rec.Division == nil || *rec.Division != "10A" {
		t.Errorf("unexpected record %+v", rec)
	}
	if len(stores.Ledger.All()) != 1 {
		t.Errorf("expected a single ledger row, got %d", len(stores.Ledger.All()))
	}
}

func TestOverride_DefaultsFromStudent(t *testing.T) {
	svc, stores := newTestService(t, nil)
	stores.Biometric.AddStudent(database.StudentRecord{
		StudentProfile: database.StudentProfile{StudentID: "S001", Name: "Alice"},
		Embeddings:     []database.StoredEmbedding{{Vector: []float32{1}}},
	})

	rec, err := svc.Override(context.Background(), OverrideRequest{StudentID: "S001", Status: database.StatusPresent})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.StudentName != "Alice" || rec.Date != "2026-03-09" {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestOverride_Validation(t *testing.T) {
	svc, _ := newTestService(t, nil)

	tests := []struct {
		name string
		req  OverrideRequest
	}{
		{"missing id", OverrideRequest{Name: "A", Status: database.StatusPresent}},
		{"bad status", OverrideRequest{StudentID: "S1", Name: "A", Status: "late"}},
		{"bad date", OverrideRequest{StudentID: "S1", Name: "A", Status: database.StatusPresent, Date: "09/03/2026"}},
		{"unknown student without name", OverrideRequest{StudentID: "S404", Status: database.StatusPresent}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Override(context.Background(), tt.req); !errors.Is(err, database.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestOverride_StoreFailure(t *testing.T) {
	svc, stores := newTestService(t, nil)
	stores.Ledger.SetStatusError = errors.New("database is locked")

	_, err := svc.Override(context.Background(), OverrideRequest{StudentID: "S1", Name: "A", Status: database.StatusPresent})
	if !errors.Is(err, database.ErrPersistence) {
		t.Errorf("expected ErrPersistence, got %v", err)
	}
}

func TestRoster(t *testing.T) {
	svc, stores := newTestService(t, nil)
	ctx := context.Background()
	for _, r := range []database.AttendanceRecord{
		{StudentID: "S002", StudentName: "Bob", Date: "2026-03-09", Time: "08:05:00"},
		{StudentID: "S001", StudentName: "Alice", Date: "2026-03-09", Time: "08:01:00"},
		{StudentID: "S003", StudentName: "Cyril", Date: "2026-03-08", Time: "08:00:00"},
	} {
		if _, _, err := stores.Ledger.UpsertPresent(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	roster, err := svc.Roster(ctx, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if roster.Date != "2026-03-09" || roster.Total != 2 {
		t.Fatalf("unexpected roster %+v", roster)
	}
	if roster.Records[0].StudentID != "S001" {
		t.Errorf("expected records ordered by time, got %+v", roster.Records)
	}

	empty, err := svc.Roster(ctx, "2025-01-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if empty.Total != 0 || empty.Records == nil {
		t.Errorf("expected empty non-nil records, got %+v", empty)
	}

	if _, err := svc.Roster(ctx, "yesterday"); !errors.Is(err, database.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
