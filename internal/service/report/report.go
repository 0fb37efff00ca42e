// Package report renders analysis records as PDF and Word documents.
// Output depends only on the record.
package report

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"meeting-insight-service/internal/models"
	"meeting-insight-service/internal/observability/metrics"
	"meeting-insight-service/internal/schema"
)

// Format is an output document format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatWord Format = "word"
)

// ErrUnknownFormat is returned for formats other than pdf and word.
var ErrUnknownFormat = errors.New("unknown report format")

// ParseFormat maps a user supplied format name.
func ParseFormat(v string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "pdf":
		return FormatPDF, nil
	case "word", "docx":
		return FormatWord, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, v)
	}
}

// Extension returns the file extension of the format.
func (f Format) Extension() string {
	if f == FormatWord {
		return ".docx"
	}
	return ".pdf"
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatWord {
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	return "application/pdf"
}

// FileName derives the download name of a report from its record file name.
func FileName(recordName string, f Format) string {
	return strings.TrimSuffix(recordName, ".json") + f.Extension()
}

// RenderError reports a record that cannot be rendered.
type RenderError struct {
	Missing []string
	Err     error
}

func (e *RenderError) Error() string {
	if len(e.Missing) > 0 {
		return "cannot render report: missing " + strings.Join(e.Missing, ", ")
	}
	return "cannot render report: " + e.Err.Error()
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Renderer renders records in either format.
type Renderer struct {
	validator *schema.Validator
	metrics   *metrics.Metrics
}

func New() *Renderer {
	return &Renderer{
		validator: schema.New(),
		metrics:   metrics.DefaultMetrics,
	}
}

// Render produces the document bytes for rec.
func (r *Renderer) Render(format Format, rec *models.AnalysisRecord) ([]byte, error) {
	data, err := r.render(format, rec)
	r.metrics.RecordReport(string(format), err)
	return data, err
}

func (r *Renderer) render(format Format, rec *models.AnalysisRecord) ([]byte, error) {
	if format != FormatPDF && format != FormatWord {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err := r.validator.ValidateRecord(rec); err != nil {
		rerr := &RenderError{Err: err}
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			rerr.Missing = verr.Missing
		}
		return nil, rerr
	}

	blocks := layout(rec)
	if format == FormatWord {
		return renderWord(blocks)
	}
	return renderPDF(blocks, documentDate(rec), reportTitle)
}

// FormatTimestamp formats seconds as mm:ss.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(math.Floor(seconds))
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

const reportTitle = "Meeting Analysis Report"

type blockKind int

const (
	blockTitle blockKind = iota
	blockSubtitle
	blockHeading
	blockSubheading
	blockText
	blockEntry
)

// block is one paragraph of the format independent layout.
type block struct {
	kind  blockKind
	label string
	text  string
}

// layout orders the report: header, summary, sentiment, participation,
// dialogues, full transcript.
func layout(rec *models.AnalysisRecord) []block {
	a := rec.Analysis
	blocks := []block{
		{kind: blockTitle, text: reportTitle},
		{kind: blockSubtitle, text: documentDate(rec).Format("January 2, 2006 15:04 MST")},
	}
	if a.Topic != "" {
		blocks = append(blocks, block{kind: blockEntry, label: "Topic:", text: a.Topic})
	}

	blocks = append(blocks,
		block{kind: blockHeading, text: "Summary"},
		block{kind: blockText, text: *a.Summary},
	)
	if a.AdditionalTextInfo != nil && a.AdditionalTextInfo.Used {
		blocks = append(blocks, block{kind: blockText, text: a.AdditionalTextInfo.Message})
	}

	blocks = append(blocks,
		block{kind: blockHeading, text: "Sentiment"},
		block{kind: blockEntry, label: "Overall:", text: a.Sentiment.Overall},
		block{kind: blockEntry, label: "Description:", text: a.Sentiment.Description},
	)

	blocks = append(blocks, block{kind: blockHeading, text: "Speaker Participation"})
	for _, speaker := range a.SpeakerKeys() {
		st := a.SpeakerStats[speaker]
		text := fmt.Sprintf("speaking time %s, %d segments, %d words",
			FormatTimestamp(st.SpeakingTime), st.Segments, st.Words)
		if share, ok := a.Participation[speaker]; ok {
			text += fmt.Sprintf(", %.1f%% of the meeting", share*100)
		}
		blocks = append(blocks, block{kind: blockEntry, label: speaker + ":", text: text})
	}

	blocks = append(blocks, block{kind: blockHeading, text: "Speaker Dialogues"})
	for _, speaker := range a.DialogueKeys() {
		blocks = append(blocks, block{kind: blockSubheading, text: speaker})
		for _, line := range a.SpeakerDialogues[speaker] {
			blocks = append(blocks, block{kind: blockEntry, label: stampRange(line.StartTime, line.EndTime), text: line.Text})
		}
	}

	if segments := rec.SortedSegments(); len(segments) > 0 {
		blocks = append(blocks, block{kind: blockHeading, text: "Transcript"})
		for _, seg := range segments {
			blocks = append(blocks, block{
				kind:  blockEntry,
				label: stampRange(seg.Start, seg.End) + " " + seg.Speaker + ":",
				text:  seg.Text,
			})
		}
	}
	return blocks
}

func stampRange(start, end float64) string {
	return "[" + FormatTimestamp(start) + " - " + FormatTimestamp(end) + "]"
}

func documentDate(rec *models.AnalysisRecord) time.Time {
	if rec.CreatedAt.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return rec.CreatedAt.UTC()
}
