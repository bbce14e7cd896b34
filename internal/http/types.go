package http

import (
	"github.com/fyrsmithlabs/trilat/internal/project"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	// Solver is "ok" or "unavailable", omitted when no solver is configured.
	Solver string `json:"solver,omitempty"`
}

// ProjectListResponse is the response body for GET /api/v1/projects.
type ProjectListResponse struct {
	Projects []*project.Project `json:"projects"`
	Total    int                `json:"total"`
}

// ActiveProjectRequest is the request body for PUT /api/v1/active.
type ActiveProjectRequest struct {
	ID string `json:"id"`
}

// ActiveProjectResponse is the response body for the active project routes.
type ActiveProjectResponse struct {
	Project *project.Project `json:"project"`
}
