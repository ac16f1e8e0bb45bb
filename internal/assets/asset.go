package assets

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"cutroom/internal/media/ffprobe"
)

// Kind is the media family of an asset.
type Kind string

const (
	KindVideo Kind = "video"
	KindImage Kind = "image"
	KindAudio Kind = "audio"
	// KindGenerated is accepted as a declared upload type. The stored kind is
	// always the sniffed media family; provenance lives in AIGenerated.
	KindGenerated Kind = "generated"
)

// Source records how an asset entered the session.
type Source string

const (
	SourceUpload    Source = "upload"
	SourceGenerated Source = "generated"
	SourceRender    Source = "render"
	SourceDerived   Source = "derived"
	SourceAnimation Source = "animation"
)

var (
	// ErrEmptyFile rejects zero-byte uploads.
	ErrEmptyFile = errors.New("empty file")
	// ErrUnsupportedType rejects uploads that are not video, image or audio.
	ErrUnsupportedType = errors.New("unsupported media type")
	// ErrAssetNotFound reports an unknown asset id within an existing session.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrNoChange lets an EditFunc report that the asset needs no rewrite.
	ErrNoChange = errors.New("no change")
)

// Asset is the persisted description of one media file in a session.
type Asset struct {
	ID           string           `json:"id"`
	SessionID    string           `json:"sessionId"`
	Kind         Kind             `json:"kind"`
	FileName     string           `json:"fileName"`
	OriginalName string           `json:"originalName"`
	Thumbnail    string           `json:"thumbnail,omitempty"`
	Metadata     *ffprobe.Summary `json:"metadata,omitempty"`
	SizeBytes    int64            `json:"sizeBytes"`
	AIGenerated  bool             `json:"aiGenerated"`
	EditCount    int              `json:"editCount"`
	Source       Source           `json:"source"`
	Scene        json.RawMessage  `json:"scene,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`

	// Derived on read; never trusted from disk.
	Version      string `json:"version,omitempty"`
	StreamURL    string `json:"streamUrl,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// Duration returns the probed duration in seconds, or zero when unknown.
func (a Asset) Duration() float64 {
	if a.Metadata == nil {
		return 0
	}
	return a.Metadata.Duration
}

// HasAudio reports probed audio presence. Unprobed video is assumed to carry audio.
func (a Asset) HasAudio() bool {
	if a.Metadata == nil {
		return a.Kind != KindImage
	}
	return a.Metadata.HasAudio
}

// HasVideo reports whether the asset has a picture.
func (a Asset) HasVideo() bool {
	if a.Metadata == nil {
		return a.Kind == KindVideo || a.Kind == KindImage
	}
	return a.Metadata.HasVideo
}

// Patch merges selected fields into persisted metadata. Nil fields are left alone.
type Patch struct {
	AIGenerated *bool           `json:"aiGenerated,omitempty"`
	EditCount   *int            `json:"editCount,omitempty"`
	Scene       json.RawMessage `json:"scene,omitempty"`
	Name        *string         `json:"originalName,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.AIGenerated == nil && p.EditCount == nil && len(p.Scene) == 0 && p.Name == nil
}

func (a *Asset) stripDerived() {
	a.Version = ""
	a.StreamURL = ""
	a.ThumbnailURL = ""
}

func (a *Asset) decorate(version string) {
	a.Version = version
	v := url.QueryEscape(version)
	a.StreamURL = fmt.Sprintf("/session/%s/assets/%s/stream?v=%s", a.SessionID, a.ID, v)
	if a.Kind != KindAudio {
		a.ThumbnailURL = fmt.Sprintf("/session/%s/assets/%s/thumbnail?v=%s", a.SessionID, a.ID, v)
	} else {
		a.ThumbnailURL = ""
	}
}

// metaDocument is the on-disk shape of assets-meta.json.
type metaDocument struct {
	Assets map[string]Asset `json:"assets"`
}
