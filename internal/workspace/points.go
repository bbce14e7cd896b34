package workspace

import (
	"fmt"
	"math"

	"github.com/fyrsmithlabs/trilat/internal/project"
)

// Point collection thresholds.
const (
	MinPoints     = 3
	OptimalPoints = 6
)

// PointSet is the ordered reference point collection of the working project.
// Every mutation increments the revision. Revisions never go backwards, even
// across Reset.
type PointSet struct {
	points   []project.ReferencePoint
	revision uint64
}

// Reset replaces the collection and bumps the revision.
func (s *PointSet) Reset(points []project.ReferencePoint) {
	s.points = make([]project.ReferencePoint, len(points))
	for i, p := range points {
		s.points[i] = p.Clone()
	}
	s.revision++
}

// Revision returns the current revision.
func (s *PointSet) Revision() uint64 { return s.revision }

// Len returns the number of points.
func (s *PointSet) Len() int { return len(s.points) }

// Points returns a deep copy of the points in insertion order.
func (s *PointSet) Points() []project.ReferencePoint {
	out := make([]project.ReferencePoint, len(s.points))
	for i, p := range s.points {
		out[i] = p.Clone()
	}
	return out
}

func (s *PointSet) index(id project.PointID) int {
	for i := range s.points {
		if s.points[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *PointSet) add(p project.ReferencePoint) {
	s.points = append(s.points, p)
	s.revision++
}

// modify applies fn to the point with id.
func (s *PointSet) modify(id project.PointID, fn func(p *project.ReferencePoint)) error {
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrPointNotFound, id)
	}
	fn(&s.points[i])
	s.revision++
	return nil
}

// remove deletes the point with id and renumbers display names.
func (s *PointSet) remove(id project.PointID) error {
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrPointNotFound, id)
	}
	s.points = append(s.points[:i], s.points[i+1:]...)
	for j := range s.points {
		s.points[j].Name = PointName(j + 1)
	}
	s.revision++
	return nil
}

func (s *PointSet) clear() bool {
	if len(s.points) == 0 {
		return false
	}
	s.points = nil
	s.revision++
	return true
}

// equalPoints reports whether a and b hold the same observations in the
// same order. Modification flags and timestamps are ignored.
func equalPoints(a, b []project.ReferencePoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.Lat != y.Lat || x.Lng != y.Lng || x.Distance != y.Distance || x.Name != y.Name {
			return false
		}
		if (x.Accuracy == nil) != (y.Accuracy == nil) || (x.Accuracy != nil && *x.Accuracy != *y.Accuracy) {
			return false
		}
	}
	return true
}

// PointName is the display name of the n-th point (1-based).
func PointName(n int) string {
	return fmt.Sprintf("Point %d", n)
}

// Progress maps a point count to a collection progress percentage: 0 to 50
// up to MinPoints, 50 to 100 up to OptimalPoints.
func Progress(count int) float64 {
	if count <= 0 {
		return 0
	}
	if count <= MinPoints {
		return float64(count) / MinPoints * 50
	}
	pct := 50 + float64(count-MinPoints)/(OptimalPoints-MinPoints)*50
	return math.Min(pct, 100)
}

// validatePoint checks coordinates and distance of a new or moved point.
func validatePoint(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return fmt.Errorf("%w: coordinates must be numbers", ErrInvalidPoint)
	}
	if err := project.ValidateCoordinates(lat, lng); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPoint, err)
	}
	return nil
}

func validateDistance(d float64) error {
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return fmt.Errorf("%w: distance must be greater than 0", ErrInvalidPoint)
	}
	return nil
}
