package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// KindAnalyze is the job kind of the simulated data analysis pipeline.
const KindAnalyze = "analyze"

// AnalyzeParams are the submission parameters of an analyze job.
type AnalyzeParams struct {
	DataSize int `json:"data_size"`
}

// DecodeAnalyzeParams strictly decodes analyze parameters: unknown fields,
// a missing data_size and negative sizes are rejected.
func DecodeAnalyzeParams(raw []byte) (AnalyzeParams, error) {
	var p struct {
		DataSize *int `json:"data_size"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return AnalyzeParams{}, fmt.Errorf("invalid analyze params: %w", err)
	}
	if p.DataSize == nil {
		return AnalyzeParams{}, errors.New("invalid analyze params: data_size is required")
	}
	if *p.DataSize < 0 {
		return AnalyzeParams{}, fmt.Errorf("invalid analyze params: data_size must be >= 0, got %d", *p.DataSize)
	}
	return AnalyzeParams{DataSize: *p.DataSize}, nil
}

// AnalysisResult is the payload of a successful analyze job.
type AnalysisResult struct {
	AnalyzedItems     int     `json:"analyzed_items"`
	AnomaliesDetected int     `json:"anomalies_detected"`
	ProcessingTime    float64 `json:"processing_time"`
}

// Result is the success payload of a job, tagged by the kind that produced
// it. Exactly one variant field is set, matching Kind.
type Result struct {
	Kind     string
	Analysis *AnalysisResult
}

// NewAnalysisResult wraps r as an analyze result.
func NewAnalysisResult(r AnalysisResult) *Result {
	return &Result{Kind: KindAnalyze, Analysis: &r}
}

// MarshalJSON flattens the variant next to its "kind" tag.
func (r Result) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindAnalyze:
		if r.Analysis == nil {
			return nil, fmt.Errorf("result kind %q has no payload", r.Kind)
		}
		return json.Marshal(struct {
			Kind string `json:"kind"`
			*AnalysisResult
		}{r.Kind, r.Analysis})
	default:
		return nil, fmt.Errorf("unknown result kind %q", r.Kind)
	}
}

// UnmarshalJSON reads the "kind" tag and decodes the matching variant.
func (r *Result) UnmarshalJSON(data []byte) error {
	var tag struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	switch tag.Kind {
	case KindAnalyze:
		var a AnalysisResult
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("decode %s result: %w", tag.Kind, err)
		}
		*r = Result{Kind: tag.Kind, Analysis: &a}
		return nil
	default:
		return fmt.Errorf("unknown result kind %q", tag.Kind)
	}
}
