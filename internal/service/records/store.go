// Package records persists analysis records as meeting_analysis_*.json files.
package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"meeting-insight-service/internal/models"
	"meeting-insight-service/internal/observability/logging"
	"meeting-insight-service/internal/schema"
)

const (
	FilePrefix = "meeting_analysis_"
	FileSuffix = ".json"
)

var (
	ErrNotFound    = errors.New("analysis record not found")
	ErrInvalidName = errors.New("invalid analysis file name")
)

var (
	validName   = regexp.MustCompile(`^meeting_analysis_[A-Za-z0-9_.-]+\.json$`)
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

// Store reads and writes analysis records in one directory.
type Store struct {
	dir       string
	validator *schema.Validator
	logger    zerolog.Logger
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, validator *schema.Validator) *Store {
	if validator == nil {
		validator = schema.New()
	}
	return &Store{
		dir:       dir,
		validator: validator,
		logger:    logging.WithComponent("records"),
	}
}

// Dir returns the directory holding the records.
func (s *Store) Dir() string {
	return s.dir
}

// FileName derives the record file name for a job.
func FileName(jobId string) string {
	return FilePrefix + unsafeChars.ReplaceAllString(jobId, "_") + FileSuffix
}

// ValidName reports whether name is a bare record file name.
func ValidName(name string) bool {
	return validName.MatchString(name) && !strings.Contains(name, "..")
}

// Save validates rec, writes it as the record for rec.JobID and returns the
// file name. A record Load would reject is never written. The file is written
// under a temporary name and renamed into place.
func (s *Store) Save(rec *models.AnalysisRecord) (string, error) {
	if rec == nil || rec.JobID == "" {
		return "", fmt.Errorf("save analysis record: job id is required")
	}
	name := FileName(rec.JobID)

	if err := s.validator.ValidateRecord(rec); err != nil {
		s.logger.Warn().Err(err).Str("jobId", rec.JobID).Msg("Refusing to store incomplete analysis record")
		return "", err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode analysis record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".record-*")
	if err != nil {
		return "", fmt.Errorf("create analysis record: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write analysis record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write analysis record: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("store analysis record: %w", err)
	}

	s.logger.Info().Str("jobId", rec.JobID).Str("file", name).Msg("Analysis record saved")
	return name, nil
}

// Load reads and validates the record stored under name.
func (s *Store) Load(name string) (*models.AnalysisRecord, error) {
	if !ValidName(name) {
		return nil, ErrInvalidName
	}
	path := filepath.Join(s.dir, name)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read analysis record: %w", err)
	}

	rec, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if rec.JobID == "" {
		rec.JobID = jobIdFromName(name)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = createdFromName(name, path)
	}

	if err := s.validator.ValidateRecord(rec); err != nil {
		s.logger.Warn().Err(err).Str("file", name).Msg("Stored analysis record is malformed")
		return nil, err
	}
	return rec, nil
}

// LoadByJob reads the record of jobId.
func (s *Store) LoadByJob(jobId string) (*models.AnalysisRecord, error) {
	return s.Load(FileName(jobId))
}

// decode accepts either a full record or a bare analysis object as written
// by the analysis service itself.
func decode(data []byte) (*models.AnalysisRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}

	rec := &models.AnalysisRecord{}
	if _, ok := fields["analysis"]; ok {
		if err := json.Unmarshal(data, rec); err != nil {
			return nil, err
		}
		if len(rec.AlignedSegments) == 0 {
			if raw, ok := fields["aligned_transcript"]; ok {
				if err := json.Unmarshal(raw, &rec.AlignedSegments); err != nil {
					return nil, err
				}
			}
		}
		return rec, nil
	}

	if err := json.Unmarshal(data, &rec.Analysis); err != nil {
		return nil, err
	}
	return rec, nil
}

func jobIdFromName(name string) string {
	return strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), FileSuffix)
}

func createdFromName(name, path string) time.Time {
	if t, err := time.Parse("20060102_150405", jobIdFromName(name)); err == nil {
		return t.UTC()
	}
	if info, err := os.Stat(path); err == nil {
		return info.ModTime().UTC().Truncate(time.Second)
	}
	return time.Time{}
}
