// Package schema validates analysis records at the storage read boundary.
package schema

import (
	"fmt"
	"strings"

	"meeting-insight-service/internal/models"
)

// ValidationError lists what is wrong with a record.
type ValidationError struct {
	Missing  []string
	Problems []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Missing, ", "))
	}
	parts = append(parts, e.Problems...)
	return "invalid analysis record: " + strings.Join(parts, "; ")
}

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// ValidateRecord checks the fields a report needs and the ordering of aligned segments.
func (v *Validator) ValidateRecord(rec *models.AnalysisRecord) error {
	if rec == nil {
		return &ValidationError{Problems: []string{"record is empty"}}
	}

	verr := &ValidationError{}
	a := rec.Analysis
	if a.Summary == nil {
		verr.Missing = append(verr.Missing, "summary")
	}
	if a.Sentiment == nil {
		verr.Missing = append(verr.Missing, "sentiment")
	}
	if a.SpeakerStats == nil {
		verr.Missing = append(verr.Missing, "speaker_stats")
	}
	if a.SpeakerDialogues == nil {
		verr.Missing = append(verr.Missing, "speaker_dialogues")
	}

	for i, seg := range rec.AlignedSegments {
		if seg.Start > seg.End {
			verr.Problems = append(verr.Problems,
				fmt.Sprintf("aligned segment %d starts after it ends (%.2f > %.2f)", i, seg.Start, seg.End))
		}
	}
	for speaker, lines := range a.SpeakerDialogues {
		for i, line := range lines {
			if line.StartTime > line.EndTime {
				verr.Problems = append(verr.Problems,
					fmt.Sprintf("dialogue %s[%d] starts after it ends", speaker, i))
			}
		}
	}

	if len(verr.Missing) > 0 || len(verr.Problems) > 0 {
		return verr
	}
	return nil
}
