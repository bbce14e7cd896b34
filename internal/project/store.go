package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trilat/internal/storage"
)

// Backend keys.
const (
	DocumentKey = "projects"
	SettingsKey = "settings"
)

// Store limits.
const (
	DefaultMaxProjects  = 50
	DefaultMaxSizeBytes = 5 * 1024 * 1024
)

// Options configures a Store. Zero values take defaults.
type Options struct {
	MaxProjects       int
	MaxSizeBytes      int64
	AutoSaveInterval  time.Duration // default for a new settings record
	DisableAutoSave   bool          // new settings record starts with autoSave off
	ManualCalculation bool          // new projects start with autoCalculate off
	Clock             clockwork.Clock
	Logger            *zap.Logger
	Metrics           *Metrics
}

// Store is the single owner of the persisted project document.
type Store struct {
	backend      storage.Backend
	maxProjects  int
	maxSizeBytes int64
	autosave     time.Duration
	noAutoSave   bool
	manualCalc   bool
	clock        clockwork.Clock
	logger       *zap.Logger
	metrics      *Metrics

	mu sync.Mutex
}

// NewStore creates a Store on backend.
func NewStore(backend storage.Backend, opts Options) (*Store, error) {
	if backend == nil {
		return nil, errors.New("storage backend is required")
	}
	if opts.MaxProjects <= 0 {
		opts.MaxProjects = DefaultMaxProjects
	}
	if opts.MaxSizeBytes <= 0 {
		opts.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}

	return &Store{
		backend:      backend,
		maxProjects:  opts.MaxProjects,
		maxSizeBytes: opts.MaxSizeBytes,
		autosave:     opts.AutoSaveInterval,
		noAutoSave:   opts.DisableAutoSave,
		manualCalc:   opts.ManualCalculation,
		clock:        opts.Clock,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}, nil
}

// MaxProjects returns the hard project-count limit.
func (s *Store) MaxProjects() int { return s.maxProjects }

// MaxSizeBytes returns the serialized document size ceiling.
func (s *Store) MaxSizeBytes() int64 { return s.maxSizeBytes }

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Store) newDocument() *Document {
	now := s.now()
	return &Document{
		Version:   CurrentVersion,
		Projects:  []Project{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Initialize creates the default document and settings if they do not exist.
// Existing records are left untouched.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.backend.Load(ctx, DocumentKey); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to check project document: %w", err)
		}
		if err := s.writeLocked(ctx, s.newDocument()); err != nil {
			return fmt.Errorf("failed to create project document: %w", err)
		}
		s.logger.Info("initialized project document")
	}

	if _, err := s.backend.Load(ctx, SettingsKey); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to check settings: %w", err)
		}
		if _, err := s.saveSettingsLocked(ctx, s.defaultAppSettings()); err != nil {
			return fmt.Errorf("failed to create settings: %w", err)
		}
	}

	return nil
}

// Read returns a copy of the current document, migrating it first if it was
// written by an older release.
func (s *Store) Read(ctx context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Clone(), nil
}

// Write validates and persists doc as the new document.
func (s *Store) Write(ctx context.Context, doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidDocument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeLocked(ctx, doc.Clone())
}

func (s *Store) readLocked(ctx context.Context) (*Document, error) {
	data, err := s.backend.Load(ctx, DocumentKey)
	if errors.Is(err, storage.ErrNotFound) {
		doc := s.newDocument()
		if err := s.writeLocked(ctx, doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project document: %w", err)
	}

	doc, from, err := s.parse(data)
	switch {
	case errors.Is(err, ErrUnsupportedVersion):
		return nil, err
	case err != nil:
		return s.heal(ctx, err)
	}

	repaired := s.normalize(doc)
	if from < CurrentVersion {
		s.metrics.MigrationsTotal.WithLabelValues(strconv.Itoa(from)).Inc()
		s.logger.Info("migrated project document",
			zap.Int("from_version", from),
			zap.Int("to_version", CurrentVersion),
			zap.Int("projects", len(doc.Projects)))
	}
	if from < CurrentVersion || repaired {
		if err := s.writeLocked(ctx, doc); err != nil {
			return nil, fmt.Errorf("failed to persist upgraded document: %w", err)
		}
	}
	return doc, nil
}

// parse decodes and migrates a stored document.
func (s *Store) parse(data []byte) (*Document, int, error) {
	raw, err := decodeRaw(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrStorageReadCorrupted, err)
	}

	raw, from, err := migrate(raw)
	if err != nil {
		if errors.Is(err, ErrUnsupportedVersion) {
			return nil, from, err
		}
		return nil, from, fmt.Errorf("%w: %v", ErrStorageReadCorrupted, err)
	}

	upgraded, err := json.Marshal(raw)
	if err != nil {
		return nil, from, fmt.Errorf("%w: %v", ErrStorageReadCorrupted, err)
	}
	var doc Document
	if err := json.Unmarshal(upgraded, &doc); err != nil {
		return nil, from, fmt.Errorf("%w: %v", ErrStorageReadCorrupted, err)
	}
	return &doc, from, nil
}

// heal replaces an unreadable document with a fresh one. The previous
// contents are lost.
func (s *Store) heal(ctx context.Context, cause error) (*Document, error) {
	s.metrics.CorruptedTotal.Inc()
	s.logger.Error("discarding corrupted project document", zap.Error(cause))

	doc := s.newDocument()
	if err := s.writeLocked(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to reinitialize corrupted document: %w", err)
	}
	return doc, nil
}

// normalize enforces document invariants on data read from disk and reports
// whether anything changed.
func (s *Store) normalize(doc *Document) bool {
	changed := false

	if doc.Projects == nil {
		doc.Projects = []Project{}
	}

	seen := make(map[string]bool, len(doc.Projects))
	kept := doc.Projects[:0]
	for _, p := range doc.Projects {
		if p.ID == "" || seen[p.ID] {
			s.logger.Warn("dropping project with missing or duplicate id",
				zap.String("project_id", p.ID), zap.String("name", p.Name))
			changed = true
			continue
		}
		seen[p.ID] = true
		if p.Data.ReferencePoints == nil {
			p.Data.ReferencePoints = []ReferencePoint{}
		}
		kept = append(kept, p)
	}
	doc.Projects = kept

	if doc.ActiveProjectID != "" && !seen[string(doc.ActiveProjectID)] {
		s.logger.Warn("clearing dangling active project pointer",
			zap.String("project_id", string(doc.ActiveProjectID)))
		doc.ActiveProjectID = ""
		changed = true
	}

	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now()
		changed = true
	}
	return changed
}

// validate checks the invariants every persisted document must hold.
func (s *Store) validate(doc *Document) error {
	if len(doc.Projects) > s.maxProjects {
		return fmt.Errorf("%w: %d projects (max %d)", ErrProjectLimitExceeded, len(doc.Projects), s.maxProjects)
	}
	seen := make(map[string]bool, len(doc.Projects))
	for _, p := range doc.Projects {
		if p.ID == "" {
			return fmt.Errorf("%w: project without id", ErrInvalidDocument)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate project id %s", ErrInvalidDocument, p.ID)
		}
		seen[p.ID] = true
	}
	if doc.ActiveProjectID != "" && !seen[string(doc.ActiveProjectID)] {
		return fmt.Errorf("%w: active project %s does not exist", ErrInvalidDocument, doc.ActiveProjectID)
	}
	return nil
}

// writeLocked stamps, size-checks and persists doc. Nothing is persisted on
// failure.
func (s *Store) writeLocked(ctx context.Context, doc *Document) error {
	if err := s.validate(doc); err != nil {
		s.metrics.WritesTotal.WithLabelValues("error").Inc()
		return err
	}

	if doc.Projects == nil {
		doc.Projects = []Project{}
	}
	doc.Version = CurrentVersion
	doc.UpdatedAt = s.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = doc.UpdatedAt
	}

	data, err := json.Marshal(doc)
	if err != nil {
		s.metrics.WritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to encode project document: %w", err)
	}
	if int64(len(data)) > s.maxSizeBytes {
		s.metrics.WritesTotal.WithLabelValues("quota_exceeded").Inc()
		s.logger.Warn("project document exceeds storage quota",
			zap.Int("size_bytes", len(data)),
			zap.Int64("max_bytes", s.maxSizeBytes))
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrStorageQuotaExceeded, len(data), s.maxSizeBytes)
	}

	if err := s.backend.Save(ctx, DocumentKey, data); err != nil {
		s.metrics.WritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to save project document: %w", err)
	}

	s.metrics.WritesTotal.WithLabelValues("ok").Inc()
	s.metrics.Projects.Set(float64(len(doc.Projects)))
	s.metrics.DocumentBytes.Set(float64(len(data)))
	return nil
}

// Update runs fn in a transaction against a copy of the document and writes
// the result once if fn succeeds and changed anything. A failing fn or a
// rejected write leaves the stored document untouched.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateLocked(ctx, fn)
}

func (s *Store) updateLocked(ctx context.Context, fn func(tx *Tx) error) error {
	doc, err := s.readLocked(ctx)
	if err != nil {
		return err
	}
	settings, err := s.loadSettingsLocked(ctx)
	if err != nil {
		return err
	}

	tx := &Tx{
		doc:       doc.Clone(),
		now:       s.now(),
		limit:     min(s.maxProjects, settings.MaxProjects),
		mapCenter: settings.DefaultMapCenter,
		settings:  s.defaultSettings(),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}
	return s.writeLocked(ctx, tx.doc)
}

// View runs fn against a read-only copy of the document.
func (s *Store) View(ctx context.Context, fn func(doc *Document) error) error {
	s.mu.Lock()
	doc, err := s.readLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(doc.Clone())
}

// CreateProject adds a project built from spec and returns it.
func (s *Store) CreateProject(ctx context.Context, spec Spec) (*Project, error) {
	var created *Project
	err := s.Update(ctx, func(tx *Tx) error {
		p, err := tx.Create(spec)
		created = p
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("project created", zap.String("project_id", created.ID), zap.String("name", created.Name))
	return created, nil
}

// GetProject returns the project with id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var found *Project
	err := s.View(ctx, func(doc *Document) error {
		i := doc.Find(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
		}
		found = &doc.Projects[i]
		return nil
	})
	return found, err
}

// UpdateProject merges u into the project with id.
func (s *Store) UpdateProject(ctx context.Context, id string, u Update) (*Project, error) {
	var updated *Project
	err := s.Update(ctx, func(tx *Tx) error {
		p, err := tx.Update(id, u)
		updated = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteProject removes the project with id. It reports false if no such
// project exists. Deleting the active project clears the active pointer.
func (s *Store) DeleteProject(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.Update(ctx, func(tx *Tx) error {
		deleted = tx.Delete(id)
		return nil
	})
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.Info("project deleted", zap.String("project_id", id))
	}
	return deleted, nil
}

// DuplicateProject copies the project with id under a new id and a name
// carrying CopySuffix.
func (s *Store) DuplicateProject(ctx context.Context, id string) (*Project, error) {
	var dup *Project
	err := s.Update(ctx, func(tx *Tx) error {
		src, ok := tx.Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
		}
		p, err := tx.Create(Spec{
			Name:        src.Name + CopySuffix,
			Description: src.Description,
			Data:        FullUpdate(src.Data),
		})
		dup = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return dup, nil
}

// SetActiveProject points the document at id. An empty id clears the pointer.
func (s *Store) SetActiveProject(ctx context.Context, id string) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.SetActive(id)
	})
}

// GetActiveProject returns the active project, or nil if none is set.
func (s *Store) GetActiveProject(ctx context.Context) (*Project, error) {
	var active *Project
	err := s.View(ctx, func(doc *Document) error {
		if doc.ActiveProjectID == "" {
			return nil
		}
		if i := doc.Find(string(doc.ActiveProjectID)); i >= 0 {
			active = &doc.Projects[i]
		}
		return nil
	})
	return active, err
}

// Stats describes storage usage.
type Stats struct {
	Size         int64   `json:"size"`
	MaxSize      int64   `json:"maxSize"`
	Percentage   float64 `json:"percentage"`
	Available    int64   `json:"available"`
	ProjectCount int     `json:"projectCount"`
	MaxProjects  int     `json:"maxProjects"`
}

// Stats reports the serialized size of the document against its quota.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked(ctx)
	if err != nil {
		return Stats{}, err
	}
	settings, err := s.loadSettingsLocked(ctx)
	if err != nil {
		return Stats{}, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to encode project document: %w", err)
	}

	size := int64(len(data))
	return Stats{
		Size:         size,
		MaxSize:      s.maxSizeBytes,
		Percentage:   math.Round(float64(size)/float64(s.maxSizeBytes)*10000) / 100,
		Available:    max(s.maxSizeBytes-size, 0),
		ProjectCount: len(doc.Projects),
		MaxProjects:  min(s.maxProjects, settings.MaxProjects),
	}, nil
}

// Clear deletes all projects and settings and re-creates the defaults.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	if err := s.backend.Delete(ctx, DocumentKey); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to delete project document: %w", err)
	}
	if err := s.backend.Delete(ctx, SettingsKey); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to delete settings: %w", err)
	}
	s.mu.Unlock()

	s.logger.Warn("cleared all project data")
	return s.Initialize(ctx)
}

// AppSettings returns the persisted application settings.
func (s *Store) AppSettings(ctx context.Context) (AppSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSettingsLocked(ctx)
}

// UpdateAppSettings merges u into the settings and persists them.
func (s *Store) UpdateAppSettings(ctx context.Context, u AppSettingsUpdate) (AppSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.loadSettingsLocked(ctx)
	if err != nil {
		return AppSettings{}, err
	}
	if err := u.apply(&settings, s.maxProjects); err != nil {
		return AppSettings{}, err
	}
	return s.saveSettingsLocked(ctx, settings)
}

func (s *Store) loadSettingsLocked(ctx context.Context) (AppSettings, error) {
	data, err := s.backend.Load(ctx, SettingsKey)
	if errors.Is(err, storage.ErrNotFound) {
		return s.defaultAppSettings(), nil
	}
	if err != nil {
		return AppSettings{}, fmt.Errorf("failed to load settings: %w", err)
	}

	var settings AppSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		s.logger.Error("discarding corrupted settings", zap.Error(err))
		return s.defaultAppSettings(), nil
	}
	settings.normalize(s.maxProjects, s.defaultAppSettings())
	return settings, nil
}

func (s *Store) saveSettingsLocked(ctx context.Context, settings AppSettings) (AppSettings, error) {
	settings.UpdatedAt = s.now()
	data, err := json.Marshal(settings)
	if err != nil {
		return AppSettings{}, fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := s.backend.Save(ctx, SettingsKey, data); err != nil {
		return AppSettings{}, fmt.Errorf("failed to save settings: %w", err)
	}
	return settings, nil
}
