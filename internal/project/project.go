package project

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Common errors.
var (
	ErrProjectNotFound      = errors.New("project not found")
	ErrProjectLimitExceeded = errors.New("project limit exceeded")
	ErrStorageQuotaExceeded = errors.New("storage quota exceeded")
	ErrStorageReadCorrupted = errors.New("stored document is corrupted")
	ErrUnsupportedVersion   = errors.New("unsupported document version")
	ErrInvalidName          = errors.New("project name cannot be empty")
	ErrInvalidSettings      = errors.New("invalid settings")
	ErrInvalidCoordinates   = errors.New("invalid coordinates")
	ErrInvalidDocument      = errors.New("invalid document")
)

// Defaults applied to new projects.
const (
	DefaultName      = "New Project"
	DefaultMaxPoints = 20
	CopySuffix       = " (copy)"
)

// DefaultMapCenter is Berlin.
var DefaultMapCenter = LatLng{52.5200, 13.4050}

// LatLng is a [lat, lng] pair, serialized as a two-element array.
type LatLng [2]float64

func (l LatLng) Lat() float64 { return l[0] }
func (l LatLng) Lng() float64 { return l[1] }

// IsZero reports whether both coordinates are zero.
func (l LatLng) IsZero() bool { return l[0] == 0 && l[1] == 0 }

// PointID identifies a reference point. Older documents used numeric ids;
// those are accepted and kept as their decimal text.
type PointID string

func (id *PointID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = PointID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("point id must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = PointID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = PointID(n.String())
	return nil
}

// Stamp is a point modification time. Edits made by this release write
// RFC3339; older documents hold clock-time text such as "14:23:05", which is
// kept verbatim.
type Stamp string

// NewStamp formats t as a Stamp.
func NewStamp(t time.Time) Stamp {
	return Stamp(t.UTC().Format(time.RFC3339))
}

// Time parses s as RFC3339. It reports false for empty or legacy stamps.
func (s Stamp) Time() (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, string(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// UnmarshalJSON accepts any JSON string or number; null clears the stamp.
func (s *Stamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var text string
		if err := json.Unmarshal(b, &text); err != nil {
			return err
		}
		*s = Stamp(text)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("lastModified must be a string or number: %w", err)
	}
	*s = Stamp(n.String())
	return nil
}

// ReferencePoint is one distance observation from a known location.
type ReferencePoint struct {
	ID                 PointID  `json:"id"`
	Lat                float64  `json:"lat"`
	Lng                float64  `json:"lng"`
	Distance           float64  `json:"distance"`
	Accuracy           *float64 `json:"accuracy,omitempty"`
	Name               string   `json:"name"`
	Timestamp          string   `json:"timestamp"`
	IsDragModified     bool     `json:"isDragModified"`
	IsDistanceModified bool     `json:"isDistanceModified"`
	IsAccuracyModified bool     `json:"isAccuracyModified"`
	LastModified       Stamp    `json:"lastModified,omitempty"`
}

// Clone returns a deep copy of p.
func (p ReferencePoint) Clone() ReferencePoint {
	if p.Accuracy != nil {
		a := *p.Accuracy
		p.Accuracy = &a
	}
	return p
}

// Position is a solved target location.
type Position struct {
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Accuracy   float64 `json:"accuracy"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method,omitempty"`
	PointCount int     `json:"point_count,omitempty"`
}

// Settings are per-project calculation preferences.
type Settings struct {
	AutoCalculate       bool            `json:"autoCalculate"`
	MaxPoints           int             `json:"maxPoints"`
	AccuracySettings    json.RawMessage `json:"accuracySettings,omitempty"`
	ShowAccuracyCircles bool            `json:"showAccuracyCircles"`
}

// DefaultSettings returns the settings of a new project.
func DefaultSettings() Settings {
	return Settings{AutoCalculate: true, MaxPoints: DefaultMaxPoints}
}

// Data is the working payload of a project.
type Data struct {
	ReferencePoints    []ReferencePoint `json:"referencePoints"`
	CalculatedPosition *Position        `json:"calculatedPosition"`
	MapCenter          LatLng           `json:"mapCenter"`
	Statistics         json.RawMessage  `json:"statistics,omitempty"`
	Settings           Settings         `json:"settings"`
}

// Clone returns a deep copy of d.
func (d Data) Clone() Data {
	out := d
	if d.ReferencePoints != nil {
		out.ReferencePoints = make([]ReferencePoint, len(d.ReferencePoints))
		for i, p := range d.ReferencePoints {
			out.ReferencePoints[i] = p.Clone()
		}
	}
	if d.CalculatedPosition != nil {
		pos := *d.CalculatedPosition
		out.CalculatedPosition = &pos
	}
	out.Statistics = cloneRaw(d.Statistics)
	out.Settings.AccuracySettings = cloneRaw(d.Settings.AccuracySettings)
	return out
}

// Project is a named, persisted collection of observations.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Data        Data      `json:"data"`
}

// Clone returns a deep copy of p.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	out := *p
	out.Data = p.Data.Clone()
	return &out
}

// NullableID is a project id serialized as null when empty.
type NullableID string

func (id NullableID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(id))
}

func (id *NullableID) UnmarshalJSON(b []byte) error {
	if string(bytes.TrimSpace(b)) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*id = NullableID(s)
	return nil
}

// Document is the persisted root holding every project.
type Document struct {
	Version         int        `json:"version"`
	Projects        []Project  `json:"projects"`
	ActiveProjectID NullableID `json:"activeProjectId"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	out := *d
	out.Projects = make([]Project, len(d.Projects))
	for i := range d.Projects {
		out.Projects[i] = *d.Projects[i].Clone()
	}
	return &out
}

// Find returns the index of the project with id, or -1.
func (d *Document) Find(id string) int {
	for i := range d.Projects {
		if d.Projects[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return bytes.Clone(raw)
}
