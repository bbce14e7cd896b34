package workspace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/trilat/internal/project"
)

func TestEdit_SavesChanges(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	p, err := f.store.CreateProject(ctx, project.Spec{Name: "Harbour"})
	require.NoError(t, err)

	saved, err := Edit(ctx, f.store, p, nil, func(c *Controller) error {
		_, err := c.AddPoint(52.5, 13.4, 800, nil)
		return err
	})
	require.NoError(t, err)
	assert.Len(t, saved.Data.ReferencePoints, 1)
	assert.Equal(t, 1, f.storedPoints(t, p.ID))
}

func TestEdit_FailureWritesNothing(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	p, err := f.store.CreateProject(ctx, project.Spec{Name: "Harbour"})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = Edit(ctx, f.store, p, nil, func(c *Controller) error {
		if _, err := c.AddPoint(52.5, 13.4, 800, nil); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, f.storedPoints(t, p.ID))
}

func TestController_PointAt(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.ctrl.PointAt(1)
	assert.ErrorIs(t, err, ErrNoProject)

	f.create(t, "Office")
	first, err := f.ctrl.AddPoint(52.5, 13.4, 100, nil)
	require.NoError(t, err)
	second, err := f.ctrl.AddPoint(52.6, 13.4, 100, nil)
	require.NoError(t, err)

	id, err := f.ctrl.PointAt(2)
	require.NoError(t, err)
	assert.Equal(t, second.ID, id)

	require.NoError(t, f.ctrl.RemovePoint(first.ID))
	id, err = f.ctrl.PointAt(1)
	require.NoError(t, err)
	assert.Equal(t, second.ID, id)

	for _, n := range []int{0, 2, -1} {
		_, err := f.ctrl.PointAt(n)
		assert.ErrorIs(t, err, ErrPointNotFound, "n=%d", n)
	}
}

func TestController_Sync(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.create(t, "Office")
	_, err := f.ctrl.AddPoint(52.5, 13.4, 100, nil)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Save(ctx))

	var snapshots int
	f.ctrl.Subscribe(func(Snapshot) { snapshots++ })
	rev := f.ctrl.Snapshot().Revision

	// Metadata and results only: no reload, no snapshot.
	stored, err := f.store.UpdateProject(ctx, p.ID, project.Update{
		Name: project.Set("Office (north)"),
		Data: &project.DataUpdate{CalculatedPosition: project.Set(&project.Position{Lat: 52.5, Lng: 13.4, Confidence: 70})},
	})
	require.NoError(t, err)
	assert.False(t, f.ctrl.Sync(stored))
	assert.Equal(t, 0, snapshots)
	assert.Equal(t, rev, f.ctrl.Snapshot().Revision)
	assert.Equal(t, "Office (north)", f.ctrl.Project().Name)
	assert.NotNil(t, f.ctrl.Project().Data.CalculatedPosition)
	assert.Len(t, f.ctrl.Project().Data.ReferencePoints, 1)

	// Changed points reload.
	stored.Data.ReferencePoints[0].Distance = 250
	assert.True(t, f.ctrl.Sync(stored))
	assert.Equal(t, 1, snapshots)
	assert.Equal(t, 250.0, f.ctrl.Project().Data.ReferencePoints[0].Distance)

	// A different project always loads.
	other, err := f.store.CreateProject(ctx, project.Spec{Name: "Depot"})
	require.NoError(t, err)
	assert.True(t, f.ctrl.Sync(other))
	assert.Equal(t, other.ID, f.ctrl.Project().ID)
}
