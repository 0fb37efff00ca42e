package models

import (
	"sort"
	"time"
)

// AnalysisRecord is the terminal payload of a completed remote job.
type AnalysisRecord struct {
	JobID             string           `json:"job_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	TranscriptionText string           `json:"transcription"`
	AlignedSegments   []AlignedSegment `json:"aligned_segments"`
	Speakers          []string         `json:"speakers,omitempty"`
	Analysis          Analysis         `json:"analysis"`
}

// AlignedSegment is one diarized stretch of transcript.
type AlignedSegment struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
}

// Analysis holds the meeting level results. Pointer and map fields are nil when
// the producing service omitted them. Required fields are always encoded so an
// empty map survives a round trip as {}.
type Analysis struct {
	Summary            *string                   `json:"summary"`
	Topic              string                    `json:"topic,omitempty"`
	Sentiment          *Sentiment                `json:"sentiment"`
	Participation      map[string]float64        `json:"participation,omitempty"`
	SpeakerStats       map[string]SpeakerStat    `json:"speaker_stats"`
	SpeakerDialogues   map[string][]DialogueLine `json:"speaker_dialogues"`
	UsedAdditionalText bool                      `json:"used_additional_text"`
	AdditionalTextInfo *AdditionalTextInfo       `json:"additional_text_info,omitempty"`
}

// Sentiment is the overall meeting mood.
type Sentiment struct {
	Overall     string  `json:"overall"`
	Description string  `json:"description"`
	Score       float64 `json:"score,omitempty"`
}

// SpeakerStat summarizes how much one speaker talked.
type SpeakerStat struct {
	SpeakingTime float64 `json:"speaking_time"`
	Segments     int     `json:"segments"`
	Words        int     `json:"words"`
}

// DialogueLine is one utterance attributed to a speaker.
type DialogueLine struct {
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// AdditionalTextInfo notes that a supplementary document shaped the summary.
type AdditionalTextInfo struct {
	Used    bool   `json:"used"`
	Message string `json:"message"`
}

// SortedSegments returns a copy of the aligned segments ordered by start time.
func (r *AnalysisRecord) SortedSegments() []AlignedSegment {
	out := make([]AlignedSegment, len(r.AlignedSegments))
	copy(out, r.AlignedSegments)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// SpeakerKeys returns the speaker_stats keys in sorted order.
func (a *Analysis) SpeakerKeys() []string {
	keys := make([]string, 0, len(a.SpeakerStats))
	for k := range a.SpeakerStats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DialogueKeys returns the speaker_dialogues keys in sorted order.
func (a *Analysis) DialogueKeys() []string {
	keys := make([]string, 0, len(a.SpeakerDialogues))
	for k := range a.SpeakerDialogues {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
