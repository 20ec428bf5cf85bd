package buffer

import (
	"errors"
	"testing"
	"time"
)

func TestThreshold_Validate(t *testing.T) {
	if err := (Threshold{}).Validate(); !errors.Is(err, ErrNoThreshold) {
		t.Fatalf("expected ErrNoThreshold, got %v", err)
	}
	if err := (Threshold{MaxRecords: 100}).Validate(); err != nil {
		t.Fatalf("single enabled threshold should validate: %v", err)
	}
	if err := (Threshold{MaxRecords: -1, MaxAge: time.Second}).Validate(); err != nil {
		t.Fatalf("disabled-by-negative plus enabled age should validate: %v", err)
	}
}

func TestThreshold_ShouldFlush(t *testing.T) {
	cases := []struct {
		name  string
		th    Threshold
		count int
		bytes int64
		age   time.Duration
		want  bool
	}{
		{"empty never flushes", Threshold{MaxRecords: 1, MaxBytes: 1, MaxAge: time.Nanosecond}, 0, 0, time.Hour, false},
		{"below all limits", Threshold{MaxRecords: 10, MaxBytes: 100, MaxAge: time.Minute}, 5, 50, time.Second, false},
		{"record count reached", Threshold{MaxRecords: 10}, 10, 0, 0, true},
		{"byte size reached", Threshold{MaxBytes: 100}, 1, 100, 0, true},
		{"age reached", Threshold{MaxAge: time.Second}, 1, 0, time.Second, true},
		{"disabled record limit ignored", Threshold{MaxRecords: 0, MaxBytes: 100}, 50, 10, 0, false},
		{"disabled age never triggers", Threshold{MaxRecords: 10}, 1, 1, time.Hour, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.th.ShouldFlush(tc.count, tc.bytes, tc.age); got != tc.want {
				t.Fatalf("ShouldFlush(%d, %d, %v) = %t, want %t", tc.count, tc.bytes, tc.age, got, tc.want)
			}
		})
	}
}
