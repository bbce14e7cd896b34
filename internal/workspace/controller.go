// Package workspace tracks the working project: its in-memory edits, the
// clean/dirty/saving lifecycle and debounced autosave against the store.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trilat/internal/debounce"
	"github.com/fyrsmithlabs/trilat/internal/project"
)

var (
	ErrNoProject        = errors.New("no working project")
	ErrUnsavedChanges   = errors.New("working project has unsaved changes")
	ErrSaveInProgress   = errors.New("save already in progress")
	ErrMaxPointsReached = errors.New("maximum number of points reached")
	ErrInvalidPoint     = errors.New("invalid reference point")
	ErrPointNotFound    = errors.New("reference point not found")
	ErrInvalidMaxPoints = errors.New("max points must be at least 1")
)

// State is the lifecycle state of the working project.
type State int

const (
	NoProject State = iota
	Clean
	Dirty
	Saving
)

func (s State) String() string {
	switch s {
	case NoProject:
		return "no_project"
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case Saving:
		return "saving"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Snapshot is an immutable view of the working point collection handed to
// observers.
type Snapshot struct {
	ProjectID     string
	Revision      uint64
	Points        []project.ReferencePoint
	AutoCalculate bool
}

// Observer receives a snapshot after every point or calculation-mode change.
type Observer func(Snapshot)

// Options configures a Controller.
type Options struct {
	AutoSave         bool
	AutoSaveInterval time.Duration
	Clock            clockwork.Clock
	Logger           *zap.Logger
}

// Controller owns the working project. All methods are safe for concurrent
// use; observers are called without the lock held.
type Controller struct {
	store  *project.Store
	clock  clockwork.Clock
	logger *zap.Logger

	mu        sync.Mutex
	state     State
	working   *project.Project
	points    PointSet
	edits     uint64 // tracked mutations since load
	saved     uint64 // edits value covered by the last successful save
	autosave  bool
	interval  time.Duration
	timer     *debounce.Timer
	observers []Observer
}

// NewController creates a Controller with no working project.
func NewController(store *project.Store, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AutoSaveInterval <= 0 {
		opts.AutoSaveInterval = project.DefaultAutoSaveInterval
	}
	return &Controller{
		store:    store,
		clock:    opts.Clock,
		logger:   opts.Logger,
		state:    NoProject,
		autosave: opts.AutoSave,
		interval: opts.AutoSaveInterval,
		timer:    debounce.New(opts.Clock),
	}
}

// Subscribe registers an observer.
func (c *Controller) Subscribe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// ApplySettings adopts the autosave preferences from app settings.
func (c *Controller) ApplySettings(s project.AppSettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autosave = s.AutoSave
	if d := s.Interval(); d > 0 {
		c.interval = d
	}
	if !c.autosave {
		c.timer.Cancel()
	}
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AutosavePending reports whether an autosave is armed.
func (c *Controller) AutosavePending() bool {
	return c.timer.Pending()
}

// Project returns a copy of the working project including unsaved edits, or
// nil when there is none.
func (c *Controller) Project() *project.Project {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

func (c *Controller) currentLocked() *project.Project {
	if c.working == nil {
		return nil
	}
	p := c.working.Clone()
	p.Data.ReferencePoints = c.points.Points()
	return p
}

// Snapshot returns the current point snapshot.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{Revision: c.points.Revision(), Points: c.points.Points()}
	if c.working != nil {
		snap.ProjectID = c.working.ID
		snap.AutoCalculate = c.working.Data.Settings.AutoCalculate
	}
	return snap
}

func (c *Controller) notify(snap Snapshot, observers []Observer) {
	for _, o := range observers {
		o(snap)
	}
}

// Load makes p the working project in the Clean state, discarding any
// in-memory edits.
func (c *Controller) Load(p *project.Project) {
	c.mu.Lock()
	c.timer.Cancel()
	c.working = p.Clone()
	c.points.Reset(p.Data.ReferencePoints)
	c.working.Data.ReferencePoints = nil
	c.edits, c.saved = 0, 0
	c.state = Clean
	snap, obs := c.snapshotLocked(), c.observers
	c.mu.Unlock()

	c.logger.Debug("working project loaded", zap.String("project_id", p.ID))
	c.notify(snap, obs)
}

// Sync adopts a copy of p written to the store by someone else. When p is
// the working project with the same points and calculation mode, only its
// metadata is refreshed (and, while Clean, its stored results), so no
// snapshot is published. Otherwise p is loaded. It reports whether p was
// loaded.
func (c *Controller) Sync(p *project.Project) bool {
	c.mu.Lock()
	same := c.working != nil && c.working.ID == p.ID &&
		c.working.Data.Settings.AutoCalculate == p.Data.Settings.AutoCalculate &&
		equalPoints(c.points.points, p.Data.ReferencePoints)
	if !same {
		c.mu.Unlock()
		c.Load(p)
		return true
	}
	if c.state == Clean {
		c.working = p.Clone()
		c.working.Data.ReferencePoints = nil
	} else {
		c.working.Name = p.Name
		c.working.Description = p.Description
	}
	c.mu.Unlock()
	return false
}

// Unload drops the working project and returns to NoProject.
func (c *Controller) Unload() {
	c.mu.Lock()
	c.timer.Cancel()
	c.working = nil
	c.points.Reset(nil)
	c.edits, c.saved = 0, 0
	c.state = NoProject
	snap, obs := c.snapshotLocked(), c.observers
	c.mu.Unlock()
	c.notify(snap, obs)
}

// Open loads the stored project with id and makes it active.
func (c *Controller) Open(ctx context.Context, id string) error {
	p, err := c.store.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if err := c.store.SetActiveProject(ctx, id); err != nil {
		return fmt.Errorf("failed to set active project: %w", err)
	}
	c.Load(p)
	return nil
}

// Resume loads the store's active project, if any. It reports whether a
// project was loaded.
func (c *Controller) Resume(ctx context.Context) (bool, error) {
	p, err := c.store.GetActiveProject(ctx)
	if err != nil || p == nil {
		return false, err
	}
	c.Load(p)
	return true, nil
}

// Create persists a new project, marks it active and loads it.
func (c *Controller) Create(ctx context.Context, name, description string) (*project.Project, error) {
	if name == "" {
		name = project.DefaultName
	}
	p, err := c.store.CreateProject(ctx, project.Spec{Name: name, Description: description})
	if err != nil {
		return nil, err
	}
	if err := c.store.SetActiveProject(ctx, p.ID); err != nil {
		return nil, fmt.Errorf("failed to set active project: %w", err)
	}
	c.Load(p)
	return p, nil
}

// Switch replaces the working project with the stored project id. While
// Dirty, confirm must return true or ErrUnsavedChanges is returned and
// nothing changes.
func (c *Controller) Switch(ctx context.Context, id string, confirm func() bool) error {
	c.mu.Lock()
	unsaved := c.state == Dirty || c.state == Saving
	c.mu.Unlock()

	if unsaved && (confirm == nil || !confirm()) {
		return ErrUnsavedChanges
	}
	if unsaved {
		c.logger.Info("discarding unsaved changes", zap.String("next_project_id", id))
	}
	return c.Open(ctx, id)
}

// Save persists the working project. Saving a Clean project is a no-op.
// Edits made while the save is running leave the project Dirty.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case NoProject:
		c.mu.Unlock()
		return ErrNoProject
	case Clean:
		c.mu.Unlock()
		return nil
	case Saving:
		c.mu.Unlock()
		return ErrSaveInProgress
	}
	c.timer.Cancel()
	c.state = Saving
	current := c.currentLocked()
	edits := c.edits
	c.mu.Unlock()

	_, err := c.store.UpdateProject(ctx, current.ID, project.Update{
		Name:        project.Set(current.Name),
		Description: project.Set(current.Description),
		Data:        project.FullUpdate(current.Data),
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.working == nil || c.working.ID != current.ID {
		// Unloaded or switched while saving.
		return err
	}
	if err != nil {
		c.state = Dirty
		c.logger.Warn("save failed", zap.String("project_id", current.ID), zap.Error(err))
		return fmt.Errorf("failed to save project: %w", err)
	}
	c.saved = edits
	if c.edits != edits {
		c.state = Dirty
		c.armAutosaveLocked()
	} else {
		c.state = Clean
	}
	c.logger.Debug("project saved", zap.String("project_id", current.ID))
	return nil
}

// FlushAutosave runs a pending autosave immediately. It reports whether one
// was pending.
func (c *Controller) FlushAutosave() bool {
	return c.timer.Flush()
}

// Close cancels any pending autosave.
func (c *Controller) Close() {
	c.timer.Cancel()
}

func (c *Controller) armAutosaveLocked() {
	if !c.autosave {
		return
	}
	c.timer.Arm(c.interval, func() {
		if err := c.Save(context.Background()); err != nil && !errors.Is(err, ErrSaveInProgress) {
			c.logger.Error("autosave failed", zap.Error(err))
		}
	})
}

// mutate runs fn against the working project under the lock. fn reports
// whether it changed anything; changes mark the project Dirty, rearm the
// autosave timer and, when notify is set, publish a snapshot.
func (c *Controller) mutate(notify bool, fn func() (bool, error)) error {
	c.mu.Lock()
	if c.working == nil {
		c.mu.Unlock()
		return ErrNoProject
	}
	changed, err := fn()
	if err != nil || !changed {
		c.mu.Unlock()
		return err
	}
	c.edits++
	if c.state == Clean {
		c.state = Dirty
	}
	if c.state == Dirty {
		c.armAutosaveLocked()
	}
	snap, obs := c.snapshotLocked(), c.observers
	c.mu.Unlock()

	if notify {
		c.notify(snap, obs)
	}
	return nil
}

// AddPoint appends a reference point. accuracy may be nil.
func (c *Controller) AddPoint(lat, lng, distance float64, accuracy *float64) (project.ReferencePoint, error) {
	var added project.ReferencePoint
	err := c.mutate(true, func() (bool, error) {
		if err := validatePoint(lat, lng); err != nil {
			return false, err
		}
		if err := validateDistance(distance); err != nil {
			return false, err
		}
		if limit := c.working.Data.Settings.MaxPoints; limit > 0 && c.points.Len() >= limit {
			return false, fmt.Errorf("%w: %d", ErrMaxPointsReached, limit)
		}
		now := c.clock.Now()
		added = project.ReferencePoint{
			ID:        project.PointID(uuid.NewString()),
			Lat:       lat,
			Lng:       lng,
			Distance:  distance,
			Accuracy:  cloneFloat(accuracy),
			Name:      PointName(c.points.Len() + 1),
			Timestamp: now.Format("15:04:05"),
		}
		c.points.add(added)
		return true, nil
	})
	return added.Clone(), err
}

// MovePoint relocates a point and flags it as drag-modified.
func (c *Controller) MovePoint(id project.PointID, lat, lng float64) error {
	return c.mutate(true, func() (bool, error) {
		if err := validatePoint(lat, lng); err != nil {
			return false, err
		}
		now := project.NewStamp(c.clock.Now())
		return true, c.points.modify(id, func(p *project.ReferencePoint) {
			p.Lat, p.Lng = lat, lng
			p.IsDragModified = true
			p.LastModified = now
		})
	})
}

// SetPointDistance changes a point's distance.
func (c *Controller) SetPointDistance(id project.PointID, distance float64) error {
	return c.mutate(true, func() (bool, error) {
		if err := validateDistance(distance); err != nil {
			return false, err
		}
		now := project.NewStamp(c.clock.Now())
		return true, c.points.modify(id, func(p *project.ReferencePoint) {
			p.Distance = distance
			p.IsDistanceModified = true
			p.LastModified = now
		})
	})
}

// SetPointAccuracy changes or, with nil, removes a point's accuracy.
func (c *Controller) SetPointAccuracy(id project.PointID, accuracy *float64) error {
	return c.mutate(true, func() (bool, error) {
		if accuracy != nil && *accuracy <= 0 {
			return false, fmt.Errorf("%w: accuracy must be greater than 0", ErrInvalidPoint)
		}
		now := project.NewStamp(c.clock.Now())
		return true, c.points.modify(id, func(p *project.ReferencePoint) {
			p.Accuracy = cloneFloat(accuracy)
			p.IsAccuracyModified = true
			p.LastModified = now
		})
	})
}

// RemovePoint deletes a point and renumbers the remaining names.
func (c *Controller) RemovePoint(id project.PointID) error {
	return c.mutate(true, func() (bool, error) {
		return true, c.points.remove(id)
	})
}

// ClearPoints removes all points.
func (c *Controller) ClearPoints() error {
	return c.mutate(true, func() (bool, error) {
		return c.points.clear(), nil
	})
}

// SetMapCenter changes the map center.
func (c *Controller) SetMapCenter(center project.LatLng) error {
	return c.mutate(false, func() (bool, error) {
		if err := project.ValidateCoordinates(center.Lat(), center.Lng()); err != nil {
			return false, err
		}
		if c.working.Data.MapCenter == center {
			return false, nil
		}
		c.working.Data.MapCenter = center
		return true, nil
	})
}

// SetAutoCalculate switches automatic calculation on or off.
func (c *Controller) SetAutoCalculate(on bool) error {
	return c.mutate(true, func() (bool, error) {
		if c.working.Data.Settings.AutoCalculate == on {
			return false, nil
		}
		c.working.Data.Settings.AutoCalculate = on
		return true, nil
	})
}

// SetMaxPoints changes the point limit. Existing points beyond the limit
// are kept; only further additions are refused.
func (c *Controller) SetMaxPoints(n int) error {
	return c.mutate(false, func() (bool, error) {
		if n < 1 {
			return false, ErrInvalidMaxPoints
		}
		if c.working.Data.Settings.MaxPoints == n {
			return false, nil
		}
		c.working.Data.Settings.MaxPoints = n
		return true, nil
	})
}

// SetCalculatedPosition replaces the committed position. nil clears it.
func (c *Controller) SetCalculatedPosition(pos *project.Position) error {
	return c.mutate(false, func() (bool, error) {
		cur := c.working.Data.CalculatedPosition
		if (cur == nil && pos == nil) || (cur != nil && pos != nil && *cur == *pos) {
			return false, nil
		}
		c.working.Data.CalculatedPosition = nil
		if pos != nil {
			p := *pos
			c.working.Data.CalculatedPosition = &p
		}
		return true, nil
	})
}

// SetStatistics replaces the statistics of the committed position. nil
// clears them.
func (c *Controller) SetStatistics(stats []byte) error {
	return c.mutate(false, func() (bool, error) {
		if bytes.Equal(c.working.Data.Statistics, stats) {
			return false, nil
		}
		c.working.Data.Statistics = append([]byte(nil), stats...)
		if stats == nil {
			c.working.Data.Statistics = nil
		}
		return true, nil
	})
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
