// Package intake validates and persists multipart uploads.
package intake

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"meeting-insight-service/internal/models"
	"meeting-insight-service/internal/observability/logging"
	"meeting-insight-service/internal/observability/metrics"
)

// Field names accepted in an upload request.
const (
	FieldVideo = "video"
	FieldText  = "textFile"
)

// DefaultMaxFileBytes is the per-file size cap.
const DefaultMaxFileBytes int64 = 500 * 1024 * 1024

var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".webm": true,
}

var videoContentTypes = map[string]bool{
	"video/mp4":        true,
	"video/x-msvideo":  true,
	"video/avi":        true,
	"video/msvideo":    true,
	"video/quicktime":  true,
	"video/x-matroska": true,
	"video/webm":       true,
}

// InvalidUploadError is a client fault in an upload request.
type InvalidUploadError struct {
	Field  string
	Reason string
}

func (e *InvalidUploadError) Error() string {
	if e.Field == "" {
		return "invalid upload: " + e.Reason
	}
	return fmt.Sprintf("invalid upload: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &InvalidUploadError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Config holds intake settings.
type Config struct {
	UploadDir    string
	MaxFileBytes int64
}

// Result holds the accepted assets of one request.
type Result struct {
	Video *models.UploadedAsset
	Text  *models.UploadedAsset
}

// Intake receives multipart uploads into the upload directory.
type Intake struct {
	cfg     Config
	names   *NameGenerator
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates an Intake writing into cfg.UploadDir.
func New(cfg Config) *Intake {
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	return &Intake{
		cfg:     cfg,
		names:   NewNameGenerator(),
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("intake"),
	}
}

// MaxRequestBytes bounds a whole upload request: one video, one text file and
// form overhead.
func (in *Intake) MaxRequestBytes() int64 {
	return 2*in.cfg.MaxFileBytes + 1<<20
}

// Receive streams the parts of r to disk. On any error every file written
// for this request is removed before returning.
func (in *Intake) Receive(r *http.Request) (*Result, error) {
	res, err := in.receive(r)
	var total int64
	if res != nil {
		total = res.size()
	}
	in.metrics.RecordUpload(err, total)
	return res, err
}

func (in *Intake) receive(r *http.Request) (res *Result, err error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, invalid("", "request is not multipart/form-data")
	}

	res = &Result{}
	defer func() {
		if err != nil {
			res.remove()
			res = nil
		}
	}()

	for {
		part, perr := mr.NextPart()
		if perr == io.EOF {
			break
		}
		if perr != nil {
			return res, in.readError("", perr)
		}

		switch part.FormName() {
		case FieldVideo:
			if res.Video != nil {
				part.Close()
				return res, invalid(FieldVideo, "only one video file is allowed")
			}
			res.Video, err = in.store(part, models.AssetVideo)
		case FieldText:
			if res.Text != nil {
				part.Close()
				return res, invalid(FieldText, "only one text file is allowed")
			}
			res.Text, err = in.store(part, models.AssetSupplementaryText)
		default:
			name := part.FormName()
			part.Close()
			return res, invalid(name, "unexpected field")
		}
		part.Close()
		if err != nil {
			return res, err
		}
	}

	if res.Video == nil {
		return res, invalid(FieldVideo, "no video file uploaded")
	}
	return res, nil
}

func (in *Intake) store(part *multipart.Part, kind models.AssetKind) (*models.UploadedAsset, error) {
	field := part.FormName()
	original := filepath.Base(part.FileName())
	if part.FileName() == "" || original == "." || original == string(filepath.Separator) {
		return nil, invalid(field, "must be a file")
	}
	ext := strings.ToLower(filepath.Ext(original))
	contentType := part.Header.Get("Content-Type")

	if err := validate(kind, ext, contentType); err != nil {
		return nil, invalid(field, "%s", err.Error())
	}

	name := in.names.Next(ext)
	path := filepath.Join(in.cfg.UploadDir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(part, in.cfg.MaxFileBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > in.cfg.MaxFileBytes {
		err = invalid(field, "file exceeds maximum size of %d bytes", in.cfg.MaxFileBytes)
	}
	if err == nil && kind == models.AssetVideo && n == 0 {
		err = invalid(field, "video file is empty")
	}
	if err != nil {
		os.Remove(path)
		return nil, in.readError(field, err)
	}

	asset := &models.UploadedAsset{
		ID:           uuid.NewString(),
		OriginalName: original,
		StoredName:   name,
		StoredPath:   path,
		Kind:         kind,
		ContentType:  contentType,
		SizeBytes:    n,
		CreatedAt:    time.Now().UTC(),
	}
	in.logger.Info().
		Str("assetId", asset.ID).
		Str("kind", string(kind)).
		Str("storedName", name).
		Int64("bytes", n).
		Msg("Upload stored")
	return asset, nil
}

func (in *Intake) readError(field string, err error) error {
	var invalidErr *InvalidUploadError
	if errors.As(err, &invalidErr) {
		return err
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return invalid(field, "request exceeds maximum size of %d bytes", tooLarge.Limit)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || strings.Contains(err.Error(), "multipart") {
		return invalid(field, "malformed multipart body")
	}
	return fmt.Errorf("read upload: %w", err)
}

func validate(kind models.AssetKind, ext, contentType string) error {
	mediaType := ""
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return fmt.Errorf("invalid content type %q", contentType)
		}
		mediaType = mt
	}
	generic := mediaType == "" || mediaType == "application/octet-stream"

	switch kind {
	case models.AssetVideo:
		if !videoExtensions[ext] {
			return fmt.Errorf("only video files are allowed (mp4, avi, mov, mkv, webm)")
		}
		if !generic && !videoContentTypes[mediaType] {
			return fmt.Errorf("content type %s is not an allowed video type", mediaType)
		}
	case models.AssetSupplementaryText:
		if ext != ".txt" {
			return fmt.Errorf("only .txt files are allowed")
		}
		if !generic && mediaType != "text/plain" {
			return fmt.Errorf("content type %s is not text/plain", mediaType)
		}
	}
	return nil
}

func (r *Result) size() int64 {
	var n int64
	if r.Video != nil {
		n += r.Video.SizeBytes
	}
	if r.Text != nil {
		n += r.Text.SizeBytes
	}
	return n
}

func (r *Result) remove() {
	if r.Video != nil {
		os.Remove(r.Video.StoredPath)
	}
	if r.Text != nil {
		os.Remove(r.Text.StoredPath)
	}
}
