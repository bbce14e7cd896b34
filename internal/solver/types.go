// Package solver is the client for the external position Solver Service.
package solver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrService matches every *ServiceError.
var ErrService = errors.New("solver service error")

// ServiceError is a failure reported by the Solver Service.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return "solver: " + e.Message
	}
	return fmt.Sprintf("solver (%d): %s", e.StatusCode, e.Message)
}

// Is reports whether target is ErrService.
func (e *ServiceError) Is(target error) bool {
	return target == ErrService
}

// Point is the observation payload sent to the solver.
type Point struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Distance float64  `json:"distance"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// Validation carries advice about point geometry.
type Validation struct {
	Valid            bool     `json:"valid"`
	PointCount       int      `json:"point_count"`
	RecommendedCount int      `json:"recommended_count"`
	Warnings         []string `json:"warnings"`
	Suggestions      []string `json:"suggestions"`
	Error            string   `json:"error,omitempty"`
}

// Estimate is a cheap provisional position.
type Estimate struct {
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Accuracy   float64 `json:"accuracy"`
	Confidence float64 `json:"confidence"`
	PointCount int     `json:"point_count"`
}

// Preview is the response of a preview computation. Estimate is set only
// when Ready.
type Preview struct {
	Ready        bool      `json:"ready"`
	Estimate     *Estimate `json:"preview,omitempty"`
	PointsNeeded int       `json:"points_needed,omitempty"`
	Message      string    `json:"message,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Confidence returns the estimate's confidence, or 0 if not ready.
func (p *Preview) Confidence() float64 {
	if p == nil || !p.Ready || p.Estimate == nil {
		return 0
	}
	return p.Estimate.Confidence
}

// Result is a confirmed position.
type Result struct {
	Lat        float64         `json:"lat"`
	Lng        float64         `json:"lng"`
	Accuracy   float64         `json:"accuracy"`
	Confidence float64         `json:"confidence"`
	Method     string          `json:"method"`
	PointCount int             `json:"point_count"`
	Statistics json.RawMessage `json:"statistics,omitempty"`
}

// Health is the service health report.
type Health struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Version string `json:"version,omitempty"`
}

// Service is the Solver Service contract.
type Service interface {
	Validate(ctx context.Context, points []Point) (*Validation, error)
	Preview(ctx context.Context, points []Point) (*Preview, error)
	Compute(ctx context.Context, points []Point) (*Result, error)
}
