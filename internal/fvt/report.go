package fvt

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// CaseResult is the outcome of one case.
type CaseResult struct {
	Name       string        `json:"name"`
	Passed     bool          `json:"passed"`
	Skipped    bool          `json:"skipped,omitempty"`
	Duration   time.Duration `json:"duration"`
	Steps      int           `json:"steps"`
	FailedStep string        `json:"failedStep,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// SuiteResult collects the cases of one suite.
type SuiteResult struct {
	Name     string        `json:"name"`
	File     string        `json:"file,omitempty"`
	RunID    string        `json:"runID"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Cases    []CaseResult  `json:"cases"`
}

// Counts returns passed, failed and skipped cases.
func (s SuiteResult) Counts() (passed, failed, skipped int) {
	for _, c := range s.Cases {
		switch {
		case c.Skipped:
			skipped++
		case c.Passed:
			passed++
		default:
			failed++
		}
	}
	return
}

// Report is the result of a run.
type Report struct {
	RunID    string        `json:"runID"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Suites   []SuiteResult `json:"suites"`
}

// Failed counts failed cases over all suites.
func (r *Report) Failed() int {
	n := 0
	for _, s := range r.Suites {
		_, f, _ := s.Counts()
		n += f
	}
	return n
}

// WriteText prints a summary in the mocha reporter's spirit.
func (r *Report) WriteText(w io.Writer) error {
	var passed, failed, skipped int
	for _, s := range r.Suites {
		fmt.Fprintf(w, "%s\n", s.Name)
		for _, c := range s.Cases {
			switch {
			case c.Skipped:
				fmt.Fprintf(w, "  - %s (skipped)\n", c.Name)
			case c.Passed:
				fmt.Fprintf(w, "  ok %s (%v)\n", c.Name, c.Duration.Round(time.Millisecond))
			default:
				fmt.Fprintf(w, "  FAIL %s (%v)\n", c.Name, c.Duration.Round(time.Millisecond))
				fmt.Fprintf(w, "      step %s: %s\n", c.FailedStep, c.Error)
			}
		}
		p, f, sk := s.Counts()
		passed += p
		failed += f
		skipped += sk
	}
	_, err := fmt.Fprintf(w, "\n%d passing, %d failing, %d pending (%v)\n",
		passed, failed, skipped, r.Duration.Round(time.Millisecond))
	return err
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
