package timeline

import (
	"context"
	"encoding/json"
	"maps"

	"cutroom/internal/keylock"
	"cutroom/internal/services"
	"cutroom/internal/storage"
)

// Project is the decoded manifest returned by the project endpoints.
type Project struct {
	Version   int            `json:"version"`
	UpdatedAt string         `json:"updatedAt,omitempty"`
	Timeline  *Timeline      `json:"timeline"`
	Settings  map[string]any `json:"settings"`
}

// Store reads and writes project.json. Writes happen only when a caller saves
// explicitly; edits are serialized per session.
type Store struct {
	layout *storage.Layout
	locks  keylock.Map
}

// NewStore returns a project store over layout.
func NewStore(layout *storage.Layout) *Store {
	return &Store{layout: layout}
}

// Load returns the saved project. A session that was never saved has a nil
// timeline and version 0.
func (s *Store) Load(ctx context.Context, sessionID string) (Project, error) {
	m, err := s.layout.ReadManifest(sessionID)
	if err != nil {
		return Project{}, err
	}
	return decode(m)
}

// Save validates tl and replaces the manifest. Settings are merged into the
// existing ones when non-nil.
func (s *Store) Save(ctx context.Context, sessionID string, tl Timeline, settings map[string]any) (Project, error) {
	if err := tl.Validate(); err != nil {
		return Project{}, err
	}
	unlock, err := s.lock(ctx, sessionID)
	if err != nil {
		return Project{}, err
	}
	defer unlock()
	return s.write(sessionID, tl, settings)
}

// EditClip applies one clip edit to the saved timeline and persists the
// result. The manifest is not written when the edit is rejected.
func (s *Store) EditClip(ctx context.Context, sessionID, clipID string, e Edit) (Project, []Clip, error) {
	unlock, err := s.lock(ctx, sessionID)
	if err != nil {
		return Project{}, nil, err
	}
	defer unlock()

	current, err := s.Load(ctx, sessionID)
	if err != nil {
		return Project{}, nil, err
	}
	if current.Timeline == nil {
		return Project{}, nil, services.Wrap(services.ErrNotFound, "edit clip", "", "project has no saved timeline", ErrClipNotFound)
	}
	tl := *current.Timeline
	changed, err := tl.Apply(clipID, e)
	if err != nil {
		return Project{}, nil, err
	}
	if err := tl.Validate(); err != nil {
		return Project{}, nil, err
	}
	project, err := s.write(sessionID, tl, nil)
	if err != nil {
		return Project{}, nil, err
	}
	return project, changed, nil
}

func (s *Store) write(sessionID string, tl Timeline, settings map[string]any) (Project, error) {
	prev, err := s.layout.ReadManifest(sessionID)
	if err != nil {
		return Project{}, err
	}
	raw, err := json.Marshal(tl)
	if err != nil {
		return Project{}, services.Wrap(services.ErrProcessing, "save project", "encode", "encode timeline", err)
	}
	merged := map[string]any{}
	maps.Copy(merged, prev.Settings)
	maps.Copy(merged, settings)
	saved, err := s.layout.WriteManifest(sessionID, storage.Manifest{Timeline: raw, Settings: merged})
	if err != nil {
		return Project{}, err
	}
	return decode(saved)
}

func (s *Store) lock(ctx context.Context, sessionID string) (func(), error) {
	if _, err := s.layout.SessionPath(sessionID); err != nil {
		return nil, err
	}
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, services.Wrap(services.ErrProcessing, "save project", "lock", "canceled while waiting for project", err)
	}
	return unlock, nil
}

func decode(m storage.Manifest) (Project, error) {
	p := Project{Version: m.Version, Settings: m.Settings}
	if !m.UpdatedAt.IsZero() {
		p.UpdatedAt = m.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00")
	}
	if p.Settings == nil {
		p.Settings = map[string]any{}
	}
	if len(m.Timeline) > 0 && string(m.Timeline) != "null" {
		var tl Timeline
		if err := json.Unmarshal(m.Timeline, &tl); err != nil {
			return Project{}, services.Wrap(services.ErrProcessing, "load project", "decode", "saved timeline is corrupt", err)
		}
		p.Timeline = &tl
	}
	return p, nil
}
