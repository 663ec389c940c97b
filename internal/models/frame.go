package models

// Frame is the single captured still held by the frame relay.
type Frame struct {
	Data       string `json:"frame"`      // base64 encoded image, stored as received
	CapturedAt int64  `json:"capturedAt"` // unix milliseconds
}

// Scores is the quality record produced by the external scorer.
type Scores struct {
	Uniformity     float64 `json:"uniformity"`
	Coverage       float64 `json:"coverage"`
	Defects        float64 `json:"defects"`
	OverallFitness float64 `json:"overall_fitness"`
}

// Analysis is Scores stamped with the time of scoring and, for
// score_latest requests, the time the frame was captured.
type Analysis struct {
	Scores
	Timestamp  int64 `json:"timestamp"`
	CapturedAt int64 `json:"capturedAt,omitempty"`
}

// CaptureRequest is the body of POST /signal/capture.
type CaptureRequest struct {
	Frame       string `json:"frame,omitempty"`
	ScoreLatest bool   `json:"score_latest,omitempty"`
	Reference   string `json:"reference,omitempty"`
}

// CaptureResponse is returned by a successful capture or score_latest call.
type CaptureResponse struct {
	OK       bool      `json:"ok"`
	Analysis *Analysis `json:"analysis,omitempty"`
}

// FrameEvent is pushed to capture event subscribers.
type FrameEvent struct {
	Type       string `json:"type"`
	CapturedAt int64  `json:"capturedAt"`
}
