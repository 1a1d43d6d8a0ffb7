package repo

import (
	"context"
	"testing"

	"github.com/dscpl/go-dscpl-backend/internal/domain"
)

func TestMarkDayCompleted_AppendsEveryTime(t *testing.T) {
	db := newTestDB(t, &domain.DailyProgress{})

	if err := MarkDayCompleted(context.Background(), db, "s1", 1, ""); err != nil {
		t.Fatalf("MarkDayCompleted: %v", err)
	}
	if err := MarkDayCompleted(context.Background(), db, "s1", 1, "re-confirmed"); err != nil {
		t.Fatalf("MarkDayCompleted twice: %v", err)
	}

	rows, err := ListProgress(context.Background(), db, "s1")
	if err != nil {
		t.Fatalf("ListProgress: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("append-only log should hold 2 rows, got %d", len(rows))
	}
	for _, r := range rows {
		if !r.Completed || r.CompletedAt == nil || r.DayNumber != 1 {
			t.Fatalf("bad completion row: %+v", r)
		}
	}
	if rows[1].Notes != "re-confirmed" {
		t.Fatalf("notes lost: %+v", rows[1])
	}
}

func TestListProgress_OrderAndScope(t *testing.T) {
	db := newTestDB(t, &domain.DailyProgress{})
	for _, day := range []int{3, 1, 2} {
		if err := MarkDayCompleted(context.Background(), db, "s1", day, ""); err != nil {
			t.Fatalf("seed day %d: %v", day, err)
		}
	}
	if err := MarkDayCompleted(context.Background(), db, "other", 9, ""); err != nil {
		t.Fatalf("seed other: %v", err)
	}

	rows, err := ListProgress(context.Background(), db, "s1")
	if err != nil {
		t.Fatalf("ListProgress: %v", err)
	}
	if len(rows) != 3 || rows[0].DayNumber != 1 || rows[1].DayNumber != 2 || rows[2].DayNumber != 3 {
		t.Fatalf("unexpected order: %#v", rows)
	}
}
