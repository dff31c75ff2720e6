package tracelens

import "errors"

// FeedbackScore is a named evaluation attached to a trace or span.
type FeedbackScore struct {
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Category string  `json:"categoryName,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// ScoreAddOptions holds additional options for Trace.Score and Span.Score.
type ScoreAddOptions struct {
	Category string
	Reason   string
}

var errMissingScoreTarget = errors.New("tracelens: score requires a trace or span id")
