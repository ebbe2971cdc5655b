package chat

import (
	"errors"
	"fmt"
)

// Confidence is the heuristic agreement between an answer and its retrieved chunks.
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// Source is a retrieved chunk as shown to the user.
type Source struct {
	Text   string
	Source string
}

type Response struct {
	Answer     string
	Sources    []Source
	Confidence Confidence
	// Question is the standalone question used for retrieval. It differs from the asked
	// question only when history was condensed into it.
	Question string
}

// ErrEmptyQuestion is returned for blank questions before any external call.
var ErrEmptyQuestion = errors.New("question cannot be empty")

// Stage names the step of answer generation that failed.
type Stage string

const (
	StageCondense Stage = "condense"
	StageRetrieve Stage = "retrieve"
	StageComplete Stage = "complete"
)

// GenerationError reports a failed answer. It never carries a partial answer.
type GenerationError struct {
	Stage Stage
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate answer (%s): %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
