package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/eventmarket/internal/clock"
)

type fakeBlobArchiver struct {
	cutoffs []time.Time
	err     error
	ran     chan struct{}
}

func (f *fakeBlobArchiver) ArchiveSoldItems(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	if f.ran != nil {
		select {
		case f.ran <- struct{}{}:
		default:
		}
	}
	return 2, f.err
}

func TestArchiverRunUsesRetention(t *testing.T) {
	now := time.Date(2024, 6, 15, 3, 0, 0, 0, time.UTC)
	blob := &fakeBlobArchiver{}
	a := NewArchiver(blob, 30*24*time.Hour, clock.NewFixed(now), slog.New(slog.DiscardHandler))

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := now.Add(-30 * 24 * time.Hour)
	if len(blob.cutoffs) != 1 || !blob.cutoffs[0].Equal(want) {
		t.Fatalf("cutoffs = %v, want [%v]", blob.cutoffs, want)
	}

	blob.err = errors.New("s3 down")
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunCronStopsOnCancel(t *testing.T) {
	sched, err := ParseSchedule("* * * * *")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	// A clock sitting at the last nanosecond of a minute makes the first
	// trigger fire almost immediately.
	now := time.Date(2024, 6, 15, 3, 0, 59, 999_000_000, time.UTC)
	blob := &fakeBlobArchiver{ran: make(chan struct{}, 1)}
	a := NewArchiver(blob, time.Hour, clock.NewFixed(now), slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunCron(ctx, sched) }()

	select {
	case <-blob.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("cron never fired")
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("RunCron = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunCron did not stop")
	}
}

func TestScheduleNext(t *testing.T) {
	base := time.Date(2024, 1, 31, 22, 17, 30, 0, time.UTC) // Wednesday
	cases := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2024, 1, 31, 22, 18, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2024, 2, 1, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2024, 1, 31, 22, 30, 0, 0, time.UTC)},
		{"0 9-17 * * 1-5", time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)},
		{"30 4 * * 0", time.Date(2024, 2, 4, 4, 30, 0, 0, time.UTC)},
		{"0 0 29 2 *", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"5,45 22 * * *", time.Date(2024, 1, 31, 22, 45, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			s, err := ParseSchedule(tc.expr)
			if err != nil {
				t.Fatalf("ParseSchedule: %v", err)
			}
			got, err := s.Next(base)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("Next = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseScheduleRejects(t *testing.T) {
	for _, expr := range []string{
		"", "* * * *", "60 * * * *", "* 24 * * *", "* * 0 * *",
		"* * * 13 *", "* * * * 7", "*/0 * * * *", "5-1 * * * *", "a * * * *",
	} {
		if _, err := ParseSchedule(expr); err == nil {
			t.Errorf("ParseSchedule(%q) succeeded", expr)
		}
	}
}

func TestScheduleNeverMatches(t *testing.T) {
	s, err := ParseSchedule("0 0 31 2 *")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	if _, err := s.Next(time.Now()); err == nil {
		t.Fatal("expected no match for February 31st")
	}
}
