package workspace

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trilat/internal/project"
)

// Edit loads p into a short-lived controller, applies fn and saves the
// result. It returns the saved project. Nothing is written when fn fails.
func Edit(ctx context.Context, store *project.Store, p *project.Project, logger *zap.Logger, fn func(c *Controller) error) (*project.Project, error) {
	ctrl := NewController(store, Options{Logger: logger})
	defer ctrl.Close()
	ctrl.Load(p)

	if err := fn(ctrl); err != nil {
		return nil, err
	}
	if err := ctrl.Save(ctx); err != nil {
		return nil, err
	}
	return ctrl.Project(), nil
}

// PointAt returns the id of the n-th point (1-based) in display order.
func (c *Controller) PointAt(n int) (project.PointID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.working == nil {
		return "", ErrNoProject
	}
	if n < 1 || n > c.points.Len() {
		return "", fmt.Errorf("%w: %s", ErrPointNotFound, PointName(n))
	}
	return c.points.points[n-1].ID, nil
}
