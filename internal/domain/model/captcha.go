package model

// Recognition is one reading of a challenge image by an OCR engine.
// Confidence is normalized to [0, 1].
type Recognition struct {
	Text       string
	Confidence float64
}

// CaptchaCandidate is a recognition attributed to the transform that produced
// it. Votes counts the transforms that agreed on Text; Order is the position
// of the first of them in the ensemble.
type CaptchaCandidate struct {
	Text       string
	Confidence float64
	Method     string
	Votes      int
	Order      int
}
