package gmail

import (
	"testing"
	"time"
)

func TestBuildQuery(t *testing.T) {
	w := MonthWindow(2025, time.April, time.UTC)
	tests := []struct {
		name    string
		filters SearchFilters
		want    string
	}{
		{
			name: "window only",
			want: "has:attachment after:1743465600 before:1746057600",
		},
		{
			name:    "single extension normalised",
			filters: SearchFilters{Extensions: []string{" .JSON "}},
			want:    "has:attachment after:1743465600 before:1746057600 filename:json",
		},
		{
			name:    "extensions and senders grouped",
			filters: SearchFilters{Extensions: []string{".json", "pdf", ""}, Senders: []string{"a@x.io", "b@x.io"}},
			want:    "has:attachment after:1743465600 before:1746057600 {filename:json filename:pdf} {from:a@x.io from:b@x.io}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildQuery(w, tt.filters).Raw; got != tt.want {
				t.Errorf("BuildQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWindowLabel(t *testing.T) {
	tests := []struct {
		name string
		w    Window
		want string
	}{
		{name: "calendar month", w: MonthWindow(2025, time.April, time.UTC), want: "2025-04"},
		{name: "december rolls year", w: MonthWindow(2024, time.December, time.UTC), want: "2024-12"},
		{
			name: "arbitrary range",
			w: Window{
				Start: time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2025, time.April, 16, 0, 0, 0, 0, time.UTC),
			},
			want: "20250401-20250415",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.w.Label(); got != tt.want {
				t.Errorf("Label() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseMonthAndRange(t *testing.T) {
	w, err := ParseMonth("2025-04", time.UTC)
	if err != nil {
		t.Fatalf("ParseMonth: %v", err)
	}
	if !w.End.Equal(time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected end %v", w.End)
	}

	if _, err := ParseMonth("April", time.UTC); err == nil {
		t.Error("expected error for malformed month")
	}

	r, err := ParseRange("2025-04-01", "2025-04-15", time.UTC)
	if err != nil {
		t.Fatalf("ParseRange: %v", err)
	}
	if r.Label() != "20250401-20250415" {
		t.Errorf("unexpected label %q", r.Label())
	}

	if _, err := ParseRange("2025-04-15", "2025-04-01", time.UTC); err == nil {
		t.Error("expected error for reversed range")
	}
}
