package project

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Field is an optional value in a partial update. A Field decoded from JSON is
// Set whenever its key is present, including an explicit null.
type Field[T any] struct {
	Value T
	Set   bool
}

// Set returns a Field holding v.
func Set[T any](v T) Field[T] {
	return Field[T]{Value: v, Set: true}
}

func (f *Field[T]) UnmarshalJSON(b []byte) error {
	f.Set = true
	if string(bytes.TrimSpace(b)) == "null" {
		var zero T
		f.Value = zero
		return nil
	}
	return json.Unmarshal(b, &f.Value)
}

// Update is a partial project update. Top-level fields and the fields of
// Data are merged shallowly; Data.Settings merges per field.
type Update struct {
	Name        Field[string] `json:"name"`
	Description Field[string] `json:"description"`
	Data        *DataUpdate   `json:"data"`
}

// DataUpdate is a partial update of a project's Data.
type DataUpdate struct {
	ReferencePoints    Field[[]ReferencePoint] `json:"referencePoints"`
	CalculatedPosition Field[*Position]        `json:"calculatedPosition"`
	MapCenter          Field[LatLng]           `json:"mapCenter"`
	Statistics         Field[json.RawMessage]  `json:"statistics"`
	Settings           *SettingsUpdate         `json:"settings"`
}

// SettingsUpdate is a partial update of project Settings.
type SettingsUpdate struct {
	AutoCalculate       Field[bool]            `json:"autoCalculate"`
	MaxPoints           Field[int]             `json:"maxPoints"`
	AccuracySettings    Field[json.RawMessage] `json:"accuracySettings"`
	ShowAccuracyCircles Field[bool]            `json:"showAccuracyCircles"`
}

// Spec describes a project to create. Data fields left unset take defaults.
type Spec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Data        *DataUpdate `json:"data"`
}

// FullUpdate returns a DataUpdate that sets every field of d.
func FullUpdate(d Data) *DataUpdate {
	d = d.Clone()
	return &DataUpdate{
		ReferencePoints:    Set(d.ReferencePoints),
		CalculatedPosition: Set(d.CalculatedPosition),
		MapCenter:          Set(d.MapCenter),
		Statistics:         Set(d.Statistics),
		Settings: &SettingsUpdate{
			AutoCalculate:       Set(d.Settings.AutoCalculate),
			MaxPoints:           Set(d.Settings.MaxPoints),
			AccuracySettings:    Set(d.Settings.AccuracySettings),
			ShowAccuracyCircles: Set(d.Settings.ShowAccuracyCircles),
		},
	}
}

// apply merges u into p. It does not touch timestamps or the id.
func (u Update) apply(p *Project) error {
	if u.Name.Set {
		name := strings.TrimSpace(u.Name.Value)
		if name == "" {
			return ErrInvalidName
		}
		p.Name = name
	}
	if u.Description.Set {
		p.Description = u.Description.Value
	}
	if u.Data != nil {
		return u.Data.apply(&p.Data)
	}
	return nil
}

func (u *DataUpdate) apply(d *Data) error {
	if u.ReferencePoints.Set {
		points := make([]ReferencePoint, len(u.ReferencePoints.Value))
		for i, pt := range u.ReferencePoints.Value {
			points[i] = pt.Clone()
		}
		d.ReferencePoints = points
	}
	if u.CalculatedPosition.Set {
		d.CalculatedPosition = nil
		if u.CalculatedPosition.Value != nil {
			pos := *u.CalculatedPosition.Value
			d.CalculatedPosition = &pos
		}
	}
	if u.MapCenter.Set {
		d.MapCenter = u.MapCenter.Value
	}
	if u.Statistics.Set {
		d.Statistics = cloneRaw(u.Statistics.Value)
	}
	if u.Settings != nil {
		return u.Settings.apply(&d.Settings)
	}
	return nil
}

func (u *SettingsUpdate) apply(s *Settings) error {
	if u.MaxPoints.Set && u.MaxPoints.Value < 1 {
		return ErrInvalidSettings
	}
	if u.AutoCalculate.Set {
		s.AutoCalculate = u.AutoCalculate.Value
	}
	if u.MaxPoints.Set {
		s.MaxPoints = u.MaxPoints.Value
	}
	if u.AccuracySettings.Set {
		s.AccuracySettings = cloneRaw(u.AccuracySettings.Value)
	}
	if u.ShowAccuracyCircles.Set {
		s.ShowAccuracyCircles = u.ShowAccuracyCircles.Value
	}
	return nil
}
