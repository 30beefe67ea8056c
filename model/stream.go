package model

// Delta is one partial element of a streamed response. Fields hold only the
// newly produced text, never the accumulated value.
type Delta struct {
	Content   string `json:"content,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Empty reports whether the delta carries no text.
func (d Delta) Empty() bool {
	return d.Content == "" && d.Reasoning == ""
}

// DeltaStream is a single-pass sequence of deltas, iterated the same way as
// the SDK streams it wraps:
//
//	for s.Next() {
//	    d := s.Current()
//	}
//	if err := s.Err(); err != nil { ... }
type DeltaStream interface {
	Next() bool
	Current() Delta
	Err() error
	Close() error
}
