// internal/agent/state.go
package agent

import (
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// State is what the agent remembers between runs
type State struct {
	LastUpload    time.Time `yaml:"last_upload"`
	LastDiscovery time.Time `yaml:"last_discovery"`
	MeasurementID int       `yaml:"measurement_id"`
	Probes        []string  `yaml:"probes"` // probe ids covered by the last discovery
	Processed     int       `yaml:"processed"`
	Failed        int       `yaml:"failed"`
}

// ReadState loads the state file.
// Returns a zero State if the file doesn't exist or is corrupt.
func ReadState(path string) (State, error) {
	var st State
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return st, err
	}

	if err := yaml.Unmarshal(data, &st); err != nil {
		// Corrupt file - fresh start
		return State{}, nil
	}
	return st, nil
}

// WriteState replaces the state file atomically.
// Creates parent directories if needed.
func WriteState(path string, st State) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(st)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// NeedsDiscovery reports whether the discovery record must be sent again:
// the measurement or its probe set changed, or the last one is older than refresh.
func (st State) NeedsDiscovery(msmID int, probes []string, now time.Time, refresh time.Duration) bool {
	if st.LastDiscovery.IsZero() || st.MeasurementID != msmID {
		return true
	}
	if !slices.Equal(st.Probes, probes) {
		return true
	}
	return refresh <= 0 || now.Sub(st.LastDiscovery) >= refresh
}
