package schema

import (
	"errors"
	"testing"

	"call-analysis-console/internal/models"
)

func TestValidator_Transcription(t *testing.T) {
	v := New()
	tests := []struct {
		name    string
		resp    *models.TranscribeResponse
		wantErr bool
	}{
		{"nil", nil, true},
		{"empty body", &models.TranscribeResponse{}, true},
		{"error body on success", &models.TranscribeResponse{UserID: "x"}, true},
		{"no utterances", &models.TranscribeResponse{
			FullTranscript:     "Hi there.",
			CombinedTranscript: "Hi there.",
		}, true},
		{"missing full transcript", &models.TranscribeResponse{
			CombinedTranscript: "Hi",
			Utterances:         []models.Utterance{{Speaker: "A", Text: "Hi"}},
		}, true},
		{"complete", &models.TranscribeResponse{
			FullTranscript:     "Hi there.",
			CombinedTranscript: "Hi there.",
			Utterances:         []models.Utterance{{Speaker: "A", Text: "Hi"}},
		}, false},
		{"utterances without transcript", &models.TranscribeResponse{
			FullTranscript: "Hi",
			Utterances:     []models.Utterance{{Speaker: "A", Text: "Hi"}},
		}, true},
		{"missing speaker", &models.TranscribeResponse{
			FullTranscript:     "Hi",
			CombinedTranscript: "Hi",
			Utterances:         []models.Utterance{{Text: "Hi"}},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Transcription(tt.resp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Transcription() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidResponse) {
				t.Errorf("expected ErrInvalidResponse, got %v", err)
			}
		})
	}
}

func TestValidator_Analysis(t *testing.T) {
	v := New()
	if err := v.Analysis(&models.AnalyzeResponse{Analysis: "# Summary"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := v.Analysis(&models.AnalyzeResponse{}); err == nil {
		t.Error("expected error for empty analysis")
	}
}

func TestValidator_Answer(t *testing.T) {
	v := New()
	tests := []struct {
		name    string
		resp    *models.AskResponse
		wantErr bool
	}{
		{"nil", nil, true},
		{"missing response", &models.AskResponse{}, true},
		{"answered", &models.AskResponse{Response: "A greeted B."}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Answer(tt.resp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Answer() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidResponse) {
				t.Errorf("expected ErrInvalidResponse, got %v", err)
			}
		})
	}
}
