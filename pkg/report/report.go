package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/vango-dev/reactor/pkg/reactive"
)

// ErrNotFound is returned when a report doesn't exist.
var ErrNotFound = errors.New("report: not found")

// ErrInvalidName is returned for names that are not safe as file names or
// object keys.
var ErrInvalidName = errors.New("report: invalid name")

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store persists stress reports.
type Store interface {
	// Put stores r under name and returns where it was written.
	Put(ctx context.Context, name string, r *Report) (location string, err error)

	// Get loads the report stored under name.
	Get(ctx context.Context, name string) (*Report, error)

	// List returns stored report names, sorted.
	List(ctx context.Context) ([]string, error)
}

// Result is the outcome of one stress scenario.
type Result struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Report is a stress run.
type Report struct {
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration_ns"`
	Goroutines int            `json:"goroutines"`
	Iterations int            `json:"iterations"`
	Results    []Result       `json:"results"`
	Stats      reactive.Stats `json:"stats"`
}

// Passed reports whether every scenario passed.
func (r *Report) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Failed returns the failed results.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}

// Name returns the default report name for a run started at t.
func Name(t time.Time) string {
	return "stress-" + t.UTC().Format("20060102T150405Z")
}

func checkName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func encode(r *Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func decode(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
