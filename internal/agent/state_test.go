// internal/agent/state_test.go
package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStateReadWrite(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "nested", "state.yaml")

	// Initially should return zero state
	st, err := ReadState(statePath)
	if err != nil {
		t.Fatalf("ReadState (missing file) error: %v", err)
	}
	if !st.LastUpload.IsZero() {
		t.Errorf("expected zero state for missing file, got %+v", st)
	}

	now := time.Date(2026, 2, 3, 12, 30, 0, 0, time.UTC)
	want := State{
		LastUpload:    now,
		LastDiscovery: now.Add(-time.Minute),
		MeasurementID: 1001,
		Probes:        []string{"12", "6001"},
		Processed:     6,
		Failed:        1,
	}
	if err := WriteState(statePath, want); err != nil {
		t.Fatalf("WriteState error: %v", err)
	}

	st, err = ReadState(statePath)
	if err != nil {
		t.Fatalf("ReadState error: %v", err)
	}
	if !st.LastUpload.Equal(now) {
		t.Errorf("LastUpload = %v, want %v", st.LastUpload, now)
	}
	if st.MeasurementID != 1001 || st.Processed != 6 || st.Failed != 1 {
		t.Errorf("ReadState = %+v, want %+v", st, want)
	}
	if len(st.Probes) != 2 || st.Probes[1] != "6001" {
		t.Errorf("Probes = %v, want [12 6001]", st.Probes)
	}

	// No temp files left behind
	entries, _ := os.ReadDir(filepath.Dir(statePath))
	if len(entries) != 1 {
		t.Errorf("state dir has %d entries, want 1", len(entries))
	}
}

func TestStateCorruptFile(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.yaml")

	os.WriteFile(statePath, []byte("last_upload: [not, a, time"), 0644)

	// Should return zero state (fresh start)
	st, err := ReadState(statePath)
	if err != nil {
		t.Fatalf("ReadState (corrupt) error: %v", err)
	}
	if !st.LastUpload.IsZero() || st.MeasurementID != 0 {
		t.Errorf("expected zero state for corrupt file, got %+v", st)
	}
}

func TestNeedsDiscovery(t *testing.T) {
	now := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	base := State{
		LastDiscovery: now.Add(-10 * time.Minute),
		MeasurementID: 1001,
		Probes:        []string{"12", "6001"},
	}

	tests := []struct {
		name    string
		st      State
		msm     int
		probes  []string
		refresh time.Duration
		want    bool
	}{
		{"fresh state", State{}, 1001, []string{"12"}, time.Hour, true},
		{"unchanged and recent", base, 1001, []string{"12", "6001"}, time.Hour, false},
		{"probe added", base, 1001, []string{"12", "6001", "7000"}, time.Hour, true},
		{"probe removed", base, 1001, []string{"6001"}, time.Hour, true},
		{"other measurement", base, 2002, []string{"12", "6001"}, time.Hour, true},
		{"refresh elapsed", base, 1001, []string{"12", "6001"}, 5 * time.Minute, true},
		{"refresh disabled", base, 1001, []string{"12", "6001"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.st.NeedsDiscovery(tt.msm, tt.probes, now, tt.refresh); got != tt.want {
				t.Errorf("NeedsDiscovery = %v, want %v", got, tt.want)
			}
		})
	}
}
