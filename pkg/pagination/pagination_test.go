package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNormalizeLimit(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, DefaultLimit},
		{-5, DefaultLimit},
		{1, 1},
		{100, 100},
		{101, MaxLimit},
	}
	for _, tt := range tests {
		if got := NormalizeLimit(tt.in); got != tt.want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCursorRoundTrip(t *testing.T) {
	in := Cursor{
		CreatedAt: time.Date(2026, 3, 10, 12, 30, 0, 123456000, time.UTC),
		ID:        uuid.New(),
	}

	out, err := ParseCursor(EncodeCursor(in))
	if err != nil {
		t.Fatalf("ParseCursor error: %v", err)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) {
		t.Fatalf("created_at = %s, want %s", out.CreatedAt, in.CreatedAt)
	}
	if out.ID != in.ID {
		t.Fatalf("id = %s, want %s", out.ID, in.ID)
	}
}

func TestParseCursorEmptyMeansFirstPage(t *testing.T) {
	cursor, err := ParseCursor("  ")
	if err != nil {
		t.Fatalf("ParseCursor error: %v", err)
	}
	if cursor != nil {
		t.Fatal("expected nil cursor for empty token")
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"not-base64!!", "bm9wZQ==", "MjAyNnxub3QtYS11dWlk"} {
		if _, err := ParseCursor(token); err == nil {
			t.Fatalf("expected error for token %q", token)
		}
	}
}
