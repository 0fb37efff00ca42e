// Package models defines the data structures shared across the meeting pipeline.
package models

import "time"

// AssetKind distinguishes the two upload fields.
type AssetKind string

const (
	AssetVideo             AssetKind = "video"
	AssetSupplementaryText AssetKind = "text"
)

// UploadedAsset is a file accepted by upload intake. It is immutable once created.
type UploadedAsset struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"originalName"`
	StoredName   string    `json:"storedName"`
	StoredPath   string    `json:"storedPath"`
	Kind         AssetKind `json:"kind"`
	ContentType  string    `json:"contentType"`
	SizeBytes    int64     `json:"sizeBytes"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ExtractionTask describes one audio transduction call.
type ExtractionTask struct {
	SourcePath string
	DestPath   string
	Codec      string
	Quality    int
}
