package schemas

import (
	"fmt"
	"sort"
	"time"
)

// -- Session --

// SessionRecord is one normalized authentication cookie. Optional attributes
// are pointers so that "absent in source" stays absent after a round trip.
type SessionRecord struct {
	Name     string   `json:"name"`
	Value    string   `json:"value"`
	Domain   string   `json:"domain"`
	Path     string   `json:"path"`
	Expires  *float64 `json:"expires,omitempty"`
	Secure   *bool    `json:"secure,omitempty"`
	HTTPOnly *bool    `json:"httpOnly,omitempty"`
}

// SessionState is the ordered set of records handed from the authenticated
// session to the fetch workers. It is treated as read-only once built.
type SessionState struct {
	Records []SessionRecord `json:"records"`
}

// Len returns the number of records, tolerating a nil state.
func (s *SessionState) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// -- Directory extraction --

// ExtractionStatus is the terminal state of a directory extraction.
type ExtractionStatus string

const (
	ExtractionSuccess ExtractionStatus = "success"
	ExtractionPartial ExtractionStatus = "partial"
	ExtractionEmpty   ExtractionStatus = "empty"
)

// TerminationReason records which bound ended the collection loop.
type TerminationReason string

const (
	ReasonTargetReached  TerminationReason = "target_reached"
	ReasonStagnation     TerminationReason = "stagnation"
	ReasonAttemptCeiling TerminationReason = "attempt_ceiling"
	ReasonCancelled      TerminationReason = "cancelled"
)

// Extraction is the outcome of Phase A.
type Extraction struct {
	Owner      string            `json:"owner"`
	Directory  string            `json:"directory"`
	Target     int               `json:"target"`
	Handles    []string          `json:"handles"`
	Status     ExtractionStatus  `json:"status"`
	Reason     TerminationReason `json:"reason"`
	Attempts   int               `json:"attempts"`
	Scans      int               `json:"scans"`
	Advertised *int64            `json:"advertised,omitempty"`
}

// Err exposes the soft termination condition, if any. It is diagnostic only;
// a partial extraction is still a usable result.
func (e *Extraction) Err() error {
	if e == nil {
		return nil
	}
	switch e.Reason {
	case ReasonStagnation:
		return fmt.Errorf("%w after %d attempts with %d handles", ErrPaginationStagnation, e.Attempts, len(e.Handles))
	case ReasonAttemptCeiling:
		return fmt.Errorf("%w (%d attempts, %d handles)", ErrExtractionCeilingReached, e.Attempts, len(e.Handles))
	default:
		return nil
	}
}

// -- Fetch results --

// FetchStatus classifies the per-handle outcome of Phase B.
type FetchStatus string

const (
	FetchResolved FetchStatus = "resolved"
	FetchAbsent   FetchStatus = "absent"
	FetchNotFound FetchStatus = "not_found"
	FetchSkipped  FetchStatus = "skipped"
)

// FetchResult is the outcome for a single handle. Count is nil unless the
// status is FetchResolved.
type FetchResult struct {
	Handle   string      `json:"handle"`
	Count    *int64      `json:"count,omitempty"`
	Status   FetchStatus `json:"status"`
	Strategy string      `json:"strategy,omitempty"`
	Worker   int         `json:"worker"`
	Err      string      `json:"error,omitempty"`
}

// Resolved reports whether the result carries a count.
func (r FetchResult) Resolved() bool {
	return r.Status == FetchResolved && r.Count != nil
}

// FetchResults maps each input handle to its outcome.
type FetchResults map[string]FetchResult

// Tally summarizes a result set.
type Tally struct {
	Total    int `json:"total"`
	Resolved int `json:"resolved"`
	Absent   int `json:"absent"`
	NotFound int `json:"not_found"`
	Skipped  int `json:"skipped"`
}

// SuccessRate returns resolved/total as a percentage.
func (t Tally) SuccessRate() float64 {
	if t.Total == 0 {
		return 0
	}
	return float64(t.Resolved) / float64(t.Total) * 100
}

// Tally counts results per status. NotFound and Skipped are also counted as
// absent, since neither carries a value.
func (r FetchResults) Tally() Tally {
	t := Tally{Total: len(r)}
	for _, res := range r {
		if res.Resolved() {
			t.Resolved++
			continue
		}
		t.Absent++
		switch res.Status {
		case FetchNotFound:
			t.NotFound++
		case FetchSkipped:
			t.Skipped++
		}
	}
	return t
}

// -- Locators and credentials --

// LocatorStrategy selects how a Locator expression is interpreted.
type LocatorStrategy string

const (
	LocatorCSS   LocatorStrategy = "css"
	LocatorXPath LocatorStrategy = "xpath"
)

// Locator identifies an element on a page.
type Locator struct {
	Strategy LocatorStrategy `mapstructure:"strategy" json:"strategy"`
	Expr     string          `mapstructure:"expr" json:"expr"`
}

// CSS is a shorthand constructor.
func CSS(expr string) Locator { return Locator{Strategy: LocatorCSS, Expr: expr} }

// XPath is a shorthand constructor.
func XPath(expr string) Locator { return Locator{Strategy: LocatorXPath, Expr: expr} }

func (l Locator) String() string {
	return string(l.Strategy) + ":" + l.Expr
}

// Credentials for the scripted login. The password is never logged.
type Credentials struct {
	Username string
	Password string
}

// -- Run summary --

// RunSummary is the full record of one harvest run, handed to result sinks.
type RunSummary struct {
	RunID      string       `json:"run_id"`
	Owner      string       `json:"owner"`
	Directory  string       `json:"directory"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Extraction *Extraction  `json:"extraction"`
	Results    FetchResults `json:"results"`
	Tally      Tally        `json:"tally"`
	Cancelled  bool         `json:"cancelled"`
}

// Elapsed returns the wall time of the run.
func (s *RunSummary) Elapsed() time.Duration {
	if s.FinishedAt.IsZero() || s.StartedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// ProfilesPerMinute is the fetch throughput over the whole run.
func (s *RunSummary) ProfilesPerMinute() float64 {
	elapsed := s.Elapsed()
	if elapsed <= 0 {
		return 0
	}
	return float64(len(s.Results)) / elapsed.Minutes()
}

// OrderedHandles lists the result keys in discovery order. Keys missing from
// the extraction follow in lexical order.
func (s *RunSummary) OrderedHandles() []string {
	out := make([]string, 0, len(s.Results))
	seen := make(map[string]struct{}, len(s.Results))
	if s.Extraction != nil {
		for _, h := range s.Extraction.Handles {
			if _, ok := s.Results[h]; !ok {
				continue
			}
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, h)
		}
	}
	var rest []string
	for h := range s.Results {
		if _, ok := seen[h]; !ok {
			rest = append(rest, h)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
