package worker

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"gowa-gateway/internal/service"
)

type fakeMaintainer struct {
	mu           sync.Mutex
	reaps        int
	consolidates int
}

func (f *fakeMaintainer) ReapIdle() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reaps++
	return []string{"idle"}
}

func (f *fakeMaintainer) Consolidate() service.ConsolidationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consolidates++
	return service.ConsolidationResult{Kept: []string{"client_1"}, Cleaned: []string{"client_1_old"}}
}

func TestNewMaintenanceWorkerSchedules(t *testing.T) {
	cases := []struct {
		name string
		opts Options
		jobs int
	}{
		{"default", DefaultOptions(), 1},
		{"both", Options{ReaperSchedule: "@every 1m", ConsolidateSchedule: "0 3 * * *"}, 2},
		{"none", Options{}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, err := NewMaintenanceWorker(&fakeMaintainer{}, tc.opts, zerolog.Nop())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if w.Jobs() != tc.jobs {
				t.Fatalf("expected %d jobs, got %d", tc.jobs, w.Jobs())
			}
		})
	}
}

func TestNewMaintenanceWorkerRejectsBadSchedule(t *testing.T) {
	if _, err := NewMaintenanceWorker(&fakeMaintainer{}, Options{ReaperSchedule: "every now and then"}, zerolog.Nop()); err == nil {
		t.Fatalf("expected an error for an invalid schedule")
	}
}

func TestJobsDriveMaintainer(t *testing.T) {
	f := &fakeMaintainer{}
	w, err := NewMaintenanceWorker(f, DefaultOptions(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	w.Reap()
	w.Consolidate()
	w.Start()
	w.Stop()

	if f.reaps != 1 || f.consolidates != 1 {
		t.Fatalf("expected one run of each job, got reaps=%d consolidates=%d", f.reaps, f.consolidates)
	}
}
