package shift

import (
	"strings"
	"testing"
	"time"
)

func TestRecordMatches(t *testing.T) {
	criteria := Criteria{
		StartHour:   8,
		EndHour:     14,
		NamePattern: "all",
	}

	tests := []struct {
		name   string
		record Record
		c      Criteria
		want   bool
	}{
		{
			name:   "fits window exactly at start",
			record: Record{Name: "Checkout", Time: "08:00", Hour: 8},
			c:      criteria,
			want:   true,
		},
		{
			name:   "starts too early",
			record: Record{Name: "Checkout", Time: "07:00", Hour: 7},
			c:      criteria,
			want:   false,
		},
		{
			name:   "would run past the window end",
			record: Record{Name: "Stock", Time: "13:00", Hour: 13}, // 13 + 2.75 = 15.75 > 14
			c:      criteria,
			want:   false,
		},
		{
			name:   "latest start that still fits",
			record: Record{Name: "Stock", Time: "11:00", Hour: 11}, // 11 + 2.75 = 13.75 <= 14
			c:      criteria,
			want:   true,
		},
		{
			name:   "claimed shifts are never offered",
			record: Record{Name: "Cashier", Time: "09:00", Hour: 9, Claimed: true},
			c:      criteria,
			want:   false,
		},
		{
			name:   "claimed beats a perfect name and time match",
			record: Record{Name: "Checkout", Time: "08:00", Hour: 8, Claimed: true},
			c:      Criteria{StartHour: 8, EndHour: 14, NamePattern: "checkout"},
			want:   false,
		},
		{
			name:   "name pattern matches case-insensitively",
			record: Record{Name: "Checkout", Time: "09:00", Hour: 9},
			c:      Criteria{StartHour: 8, EndHour: 14, NamePattern: "checkout"},
			want:   true,
		},
		{
			name:   "name pattern is exact, not substring",
			record: Record{Name: "Checkout Helper", Time: "09:00", Hour: 9},
			c:      Criteria{StartHour: 8, EndHour: 14, NamePattern: "checkout"},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.Matches(tt.c); got != tt.want {
				t.Errorf("Matches() = %v, want %v (record=%+v)", got, tt.want, tt.record)
			}
		})
	}
}

func TestFormatList(t *testing.T) {
	records := []Record{
		{Name: "Checkout", Time: "08:00"},
		{Name: "Stock", Time: "13:00"},
	}

	got := FormatList(records)
	want := "08:00: Checkout\n13:00: Stock"
	if got != want {
		t.Errorf("FormatList() = %q, want %q", got, want)
	}

	if lines := strings.Split(got, "\n"); lines[0] != "08:00: Checkout" {
		t.Errorf("input order not preserved, first line = %q", lines[0])
	}
}

func TestSameDate(t *testing.T) {
	a := time.Date(2022, time.April, 13, 0, 0, 0, 0, time.UTC)
	b := time.Date(2022, time.April, 13, 18, 30, 0, 0, time.UTC)
	c := time.Date(2022, time.April, 14, 0, 0, 0, 0, time.UTC)

	if !SameDate(a, b) {
		t.Error("SameDate() should ignore time of day")
	}
	if SameDate(a, c) {
		t.Error("SameDate() should distinguish calendar days")
	}
}
