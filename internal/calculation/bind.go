package calculation

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trilat/internal/project"
	"github.com/fyrsmithlabs/trilat/internal/solver"
	"github.com/fyrsmithlabs/trilat/internal/workspace"
)

// InputFrom converts a workspace snapshot into pipeline input.
func InputFrom(s workspace.Snapshot) Input {
	points := make([]solver.Point, len(s.Points))
	for i, p := range s.Points {
		points[i] = solver.Point{Lat: p.Lat, Lng: p.Lng, Distance: p.Distance, Accuracy: p.Accuracy}
	}
	return Input{
		ProjectID: s.ProjectID,
		Revision:  s.Revision,
		Points:    points,
		Automatic: s.AutoCalculate,
	}
}

// PositionOf converts a confirmed result into the stored position.
func PositionOf(r *solver.Result) *project.Position {
	if r == nil {
		return nil
	}
	return &project.Position{
		Lat:        r.Lat,
		Lng:        r.Lng,
		Accuracy:   r.Accuracy,
		Confidence: r.Confidence,
		Method:     r.Method,
		PointCount: r.PointCount,
	}
}

// Bind connects a controller and an orchestrator: point changes feed the
// pipeline, and committed or cleared results are written back to the
// working project.
func Bind(ctrl *workspace.Controller, o *Orchestrator, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctrl.Subscribe(func(s workspace.Snapshot) {
		o.Update(InputFrom(s))
	})
	o.Subscribe(func(ev Event) {
		var pos *project.Position
		var stats []byte
		switch ev.Kind {
		case EventCommitted:
			pos, stats = PositionOf(ev.Result), ev.Result.Statistics
		case EventCleared, EventFailed:
		default:
			return
		}
		err := errors.Join(ctrl.SetCalculatedPosition(pos), ctrl.SetStatistics(stats))
		if err != nil && !errors.Is(err, workspace.ErrNoProject) {
			logger.Warn("failed to store calculation result", zap.Error(err))
		}
	})
	o.Update(InputFrom(ctrl.Snapshot()))
}

// Run performs a one-shot manual calculation of ctrl's current points and
// writes the result into the working project. The caller saves.
func Run(ctx context.Context, ctrl *workspace.Controller, opts Options) (*solver.Result, error) {
	o, err := New(opts)
	if err != nil {
		return nil, err
	}
	defer o.Close()

	in := InputFrom(ctrl.Snapshot())
	in.Automatic = false
	o.Update(in)

	res, err := o.Calculate(ctx)
	if err != nil {
		return nil, err
	}
	if err := errors.Join(ctrl.SetCalculatedPosition(PositionOf(res)), ctrl.SetStatistics(res.Statistics)); err != nil {
		return nil, err
	}
	return res, nil
}
