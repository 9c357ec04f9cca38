// internal/protocol/status.go
package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var statusRe = regexp.MustCompile(`(?i)^[Pp]rocessed:?\s*(\d+);?\s*[Ff]ailed:?\s*(\d+);?\s*[Tt]otal:?\s*(\d+);?\s*[Ss]econds spent:?\s*(\d+\.\d+)`)

// Status holds the counters reported in the collector's info line
type Status struct {
	Processed int
	Failed    int
	Total     int
	Seconds   float64
}

// Consistent reports whether processed and failed add up to total.
// Collectors are trusted; callers may log a mismatch but nothing rejects it.
func (s Status) Consistent() bool {
	return s.Processed+s.Failed == s.Total
}

// ParseStatus extracts counters from a line such as
// "processed: 3; failed: 1; total: 4; seconds spent: 0.0123".
// The counters must open the line; trailing text is ignored.
func ParseStatus(info string) (Status, error) {
	m := statusRe.FindStringSubmatch(info)
	if m == nil {
		return Status{}, &InvalidResponseError{Raw: info, Err: errors.New("status line does not match")}
	}

	var s Status
	var err error
	if s.Processed, err = strconv.Atoi(m[1]); err != nil {
		return Status{}, &InvalidResponseError{Raw: info, Err: fmt.Errorf("processed: %w", err)}
	}
	if s.Failed, err = strconv.Atoi(m[2]); err != nil {
		return Status{}, &InvalidResponseError{Raw: info, Err: fmt.Errorf("failed: %w", err)}
	}
	if s.Total, err = strconv.Atoi(m[3]); err != nil {
		return Status{}, &InvalidResponseError{Raw: info, Err: fmt.Errorf("total: %w", err)}
	}
	if s.Seconds, err = strconv.ParseFloat(m[4], 64); err != nil {
		return Status{}, &InvalidResponseError{Raw: info, Err: fmt.Errorf("seconds: %w", err)}
	}
	return s, nil
}
