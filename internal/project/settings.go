package project

import (
	"fmt"
	"strings"
	"time"
)

// Application setting defaults.
const (
	DefaultTheme            = "default"
	DefaultAutoSaveInterval = 30 * time.Second
	minAutoSaveInterval     = time.Second
)

// AppSettings are user preferences persisted beside the project document.
type AppSettings struct {
	DefaultMapCenter LatLng    `json:"defaultMapCenter"`
	Theme            string    `json:"theme"`
	AutoSave         bool      `json:"autoSave"`
	AutoSaveInterval int64     `json:"autoSaveInterval"` // milliseconds
	MaxProjects      int       `json:"maxProjects"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Interval returns AutoSaveInterval as a duration.
func (s AppSettings) Interval() time.Duration {
	return time.Duration(s.AutoSaveInterval) * time.Millisecond
}

// AppSettingsUpdate is a partial AppSettings update.
type AppSettingsUpdate struct {
	DefaultMapCenter Field[LatLng] `json:"defaultMapCenter"`
	Theme            Field[string] `json:"theme"`
	AutoSave         Field[bool]   `json:"autoSave"`
	AutoSaveInterval Field[int64]  `json:"autoSaveInterval"`
	MaxProjects      Field[int]    `json:"maxProjects"`
}

// defaultAppSettings returns the record written when none exists yet.
func (s *Store) defaultAppSettings() AppSettings {
	autosave := s.autosave
	if autosave <= 0 {
		autosave = DefaultAutoSaveInterval
	}
	return AppSettings{
		DefaultMapCenter: DefaultMapCenter,
		Theme:            DefaultTheme,
		AutoSave:         !s.noAutoSave,
		AutoSaveInterval: autosave.Milliseconds(),
		MaxProjects:      s.maxProjects,
	}
}

// defaultSettings returns the settings given to a project created without
// explicit ones.
func (s *Store) defaultSettings() Settings {
	def := DefaultSettings()
	def.AutoCalculate = !s.manualCalc
	return def
}

// apply merges u into s, validating against the store's hard limit.
func (u AppSettingsUpdate) apply(s *AppSettings, hardLimit int) error {
	if u.DefaultMapCenter.Set {
		if err := validateLatLng(u.DefaultMapCenter.Value); err != nil {
			return err
		}
		s.DefaultMapCenter = u.DefaultMapCenter.Value
	}
	if u.Theme.Set {
		theme := strings.TrimSpace(u.Theme.Value)
		if theme == "" {
			theme = DefaultTheme
		}
		s.Theme = theme
	}
	if u.AutoSave.Set {
		s.AutoSave = u.AutoSave.Value
	}
	if u.AutoSaveInterval.Set {
		if time.Duration(u.AutoSaveInterval.Value)*time.Millisecond < minAutoSaveInterval {
			return fmt.Errorf("%w: autoSaveInterval must be at least %d ms",
				ErrInvalidSettings, minAutoSaveInterval.Milliseconds())
		}
		s.AutoSaveInterval = u.AutoSaveInterval.Value
	}
	if u.MaxProjects.Set {
		if u.MaxProjects.Value < 1 || u.MaxProjects.Value > hardLimit {
			return fmt.Errorf("%w: maxProjects must be between 1 and %d", ErrInvalidSettings, hardLimit)
		}
		s.MaxProjects = u.MaxProjects.Value
	}
	return nil
}

// normalize repairs values an older or hand-edited record may carry.
func (s *AppSettings) normalize(hardLimit int, def AppSettings) {
	if s.Theme == "" {
		s.Theme = def.Theme
	}
	if s.AutoSaveInterval <= 0 {
		s.AutoSaveInterval = def.AutoSaveInterval
	}
	if s.MaxProjects < 1 || s.MaxProjects > hardLimit {
		s.MaxProjects = hardLimit
	}
	if validateLatLng(s.DefaultMapCenter) != nil {
		s.DefaultMapCenter = def.DefaultMapCenter
	}
}

// ValidateCoordinates checks that lat and lng are within WGS84 bounds.
func ValidateCoordinates(lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrInvalidCoordinates, lat)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrInvalidCoordinates, lng)
	}
	return nil
}

func validateLatLng(l LatLng) error {
	return ValidateCoordinates(l.Lat(), l.Lng())
}
