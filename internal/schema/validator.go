// Package schema checks backend success bodies before they reach session state.
package schema

import (
	"errors"
	"fmt"

	"call-analysis-console/internal/models"
)

// ErrInvalidResponse marks a 200 response whose body breaks the contract.
var ErrInvalidResponse = errors.New("invalid backend response")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Transcription requires both flattened transcripts and at least one
// diarized utterance. A body missing any of them would leave the session
// looking transcribed with nothing to analyze or index.
func (v *Validator) Transcription(resp *models.TranscribeResponse) error {
	if resp == nil {
		return fmt.Errorf("%w: empty transcription body", ErrInvalidResponse)
	}
	if resp.FullTranscript == "" {
		return fmt.Errorf("%w: missing full_transcript", ErrInvalidResponse)
	}
	if resp.CombinedTranscript == "" {
		return fmt.Errorf("%w: missing combined_transcript", ErrInvalidResponse)
	}
	if len(resp.Utterances) == 0 {
		return fmt.Errorf("%w: missing utterances", ErrInvalidResponse)
	}
	for i, u := range resp.Utterances {
		if u.Speaker == "" {
			return fmt.Errorf("%w: utterance %d has no speaker", ErrInvalidResponse, i)
		}
	}
	return nil
}

func (v *Validator) Analysis(resp *models.AnalyzeResponse) error {
	if resp == nil || resp.Analysis == "" {
		return fmt.Errorf("%w: missing analysis", ErrInvalidResponse)
	}
	return nil
}

func (v *Validator) Answer(resp *models.AskResponse) error {
	if resp == nil || resp.Response == "" {
		return fmt.Errorf("%w: missing response", ErrInvalidResponse)
	}
	return nil
}
