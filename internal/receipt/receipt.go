package receipt

import "time"

// Record keys, in export column order
const (
	FieldPaidAt = "paid_at"
	FieldName   = "name"
	FieldRoute  = "route"
	FieldFare   = "fare"
)

// Record is one extracted receipt: a flat map of field name to scalar value.
// Values are kept as the model returned them; fare may be an int64, a float64
// or a string such as "15,300원".
type Record map[string]any

// Clone returns a shallow copy, so callers may change it freely
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Pair is one physical receipt: a front photo and the back photo after it
type Pair struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// Result is a validated record plus the advisory warnings raised for it
type Result struct {
	Record   Record    `json:"record"`
	Warnings []Warning `json:"warnings"`
}

// PairFailure records a pair whose extraction failed during a run
type PairFailure struct {
	Front string `json:"front"`
	Back  string `json:"back"`
	Error string `json:"error"`
}

// Run summarises one batch over a directory
type Run struct {
	ID         string        `json:"id"`
	Dir        string        `json:"dir"`
	Export     string        `json:"export,omitempty"` // file name within the artifact storage
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Cached     int           `json:"cached"`
	Cancelled  bool          `json:"cancelled"`
	Records    []Record      `json:"records"`
	Failures   []PairFailure `json:"failures,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}
