package models

import (
	"time"
)

// HarvestState is the processing state stored on a catalog record.
type HarvestState string

const (
	StateNew               HarvestState = "New"
	StateUpdated           HarvestState = "Updated"
	StateRequested         HarvestState = "Requested"
	StateUnknown           HarvestState = "Unknown"
	StateInProgress        HarvestState = "InProgress"
	StateDone              HarvestState = "Done"
	StateAborted           HarvestState = "Aborted"
	StateFailed            HarvestState = "Failed"
	StateFailedPermanently HarvestState = "FailedPermanently"
)

// Terminal reports whether the state ends a processing attempt.
func (s HarvestState) Terminal() bool {
	switch s {
	case StateDone, StateFailed, StateFailedPermanently, StateAborted:
		return true
	}
	return false
}

// ArtifactKind names one kind of rendered artifact.
type ArtifactKind string

const (
	ArtifactEpub       ArtifactKind = "epub"
	ArtifactBloomPub   ArtifactKind = "bloomPub"
	ArtifactThumbnails ArtifactKind = "thumbnails"
)

// AllArtifacts lists every artifact kind in upload order.
var AllArtifacts = []ArtifactKind{ArtifactEpub, ArtifactBloomPub, ArtifactThumbnails}

// Hide reasons recorded in the visibility block.
const (
	HideNotSuitable  = "notSuitable"
	HideMissingFont  = "missingFont"
	HideRenderFailed = "renderFailed"
)

// Visibility holds the per-artifact display flags.
type Visibility struct {
	Exists     bool   `bson:"exists" json:"exists"`
	Harvester  bool   `bson:"harvester" json:"harvester"`
	Librarian  *bool  `bson:"librarian,omitempty" json:"librarian,omitempty"`
	HideReason string `bson:"hideReason,omitempty" json:"hideReason,omitempty"`
}

// ArtifactShow is the visibility block keyed by artifact kind.
type ArtifactShow map[ArtifactKind]Visibility

// LogLevel is the severity of a harvest log entry.
type LogLevel string

const (
	LogInfo  LogLevel = "Info"
	LogWarn  LogLevel = "Warn"
	LogError LogLevel = "Error"
)

// Harvest log entry types.
const (
	LogTypeGeneral             = "General"
	LogTypeMissingFont         = "MissingFont"
	LogTypeInvalidFont         = "InvalidFont"
	LogTypeArtifactSuitability = "ArtifactSuitability"
	LogTypeTimeout             = "Timeout"
	LogTypeRenderFailure       = "RenderFailure"
	LogTypeFingerprint         = "Fingerprint"
	LogTypeDownload            = "Download"
	LogTypeUpload              = "Upload"
	LogTypeInterrupted         = "Interrupted"
)

// ComputedLevelTag is the tag key holding the computed reading level.
const ComputedLevelTag = "computedLevel"

// LogEntry is one leveled, categorized message written back to the catalog.
type LogEntry struct {
	Level   LogLevel `bson:"level" json:"level"`
	Type    string   `bson:"type" json:"type"`
	Message string   `bson:"message" json:"message"`
}

// DocumentRecord is the catalog row describing one submitted book.
type DocumentRecord struct {
	ID                       string       `bson:"_id" json:"id"`
	Title                    string       `bson:"title,omitempty" json:"title,omitempty"`
	BaseURL                  string       `bson:"baseUrl" json:"baseUrl"`
	InCirculation            bool         `bson:"inCirculation" json:"inCirculation"`
	Draft                    bool         `bson:"draft" json:"draft"`
	HarvestState             HarvestState `bson:"harvestState" json:"harvestState"`
	HarvesterID              string       `bson:"harvesterId,omitempty" json:"harvesterId,omitempty"`
	HarvesterVersion         string       `bson:"harvesterVersion,omitempty" json:"harvesterVersion,omitempty"`
	HarvestStartedAt         time.Time    `bson:"harvestStartedAt,omitempty" json:"harvestStartedAt,omitempty"`
	LastUploaded             time.Time    `bson:"lastUploaded,omitempty" json:"lastUploaded,omitempty"`
	Tags                     []string     `bson:"tags,omitempty" json:"tags,omitempty"`
	Show                     ArtifactShow `bson:"show,omitempty" json:"show,omitempty"`
	PHashOfFirstContentImage string       `bson:"phashOfFirstContentImage,omitempty" json:"phashOfFirstContentImage,omitempty"`
	BookHashFromImages       string       `bson:"bookHashFromImages,omitempty" json:"bookHashFromImages,omitempty"`
	License                  string       `bson:"license,omitempty" json:"license,omitempty"`
	HarvestLog               []LogEntry   `bson:"harvestLog,omitempty" json:"harvestLog,omitempty"`
}

// MissingFonts returns the font names previously reported missing, in log order without duplicates.
func (r *DocumentRecord) MissingFonts() []string {
	seen := make(map[string]bool)
	var fonts []string
	for _, e := range r.HarvestLog {
		if e.Type != LogTypeMissingFont || e.Message == "" || seen[e.Message] {
			continue
		}
		seen[e.Message] = true
		fonts = append(fonts, e.Message)
	}
	return fonts
}

// Fingerprint holds the content hashes derived from a book's images.
type Fingerprint struct {
	FirstImageHash string
	BookHash       string
	ImageCount     int
}
