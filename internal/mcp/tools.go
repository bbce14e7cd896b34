package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trilat/internal/calculation"
	"github.com/fyrsmithlabs/trilat/internal/project"
	"github.com/fyrsmithlabs/trilat/internal/solver"
	"github.com/fyrsmithlabs/trilat/internal/workspace"
)

var errNoActiveProject = errors.New("no active project: pass project_id or call project_activate")

// addTool registers a typed tool handler wrapped with metrics and debug
// logging.
func addTool[In, Out any](s *Server, tool *mcp.Tool, fn func(ctx context.Context, args In) (*mcp.CallToolResult, Out, error)) {
	mcp.AddTool(s.mcp, tool, func(ctx context.Context, _ *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, tool.Name)
		res, out, err := fn(ctx, args)
		s.metrics.DecrementActive(ctx, tool.Name)
		s.metrics.RecordInvocation(ctx, tool.Name, time.Since(start), err)
		if err != nil {
			s.logger.Debug("tool failed", zap.String("tool", tool.Name), zap.Error(err))
		}
		return res, out, err
	})
}

func text(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.registerProjectTools()
	s.registerPointTools()
	if s.solver != nil {
		s.registerCalculationTools()
	}
}

// resolve returns the project with id, or the active project when id is
// empty.
func (s *Server) resolve(ctx context.Context, id string) (*project.Project, error) {
	if id != "" {
		return s.store.GetProject(ctx, id)
	}
	p, err := s.store.GetActiveProject(ctx)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errNoActiveProject
	}
	return p, nil
}

func (s *Server) activeID(ctx context.Context) (string, error) {
	var id string
	err := s.store.View(ctx, func(doc *project.Document) error {
		id = string(doc.ActiveProjectID)
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// detail renders p, marking it active if it is the active project.
func (s *Server) detail(ctx context.Context, p *project.Project) (projectDetail, error) {
	active, err := s.activeID(ctx)
	if err != nil {
		return projectDetail{}, err
	}
	return detail(p, active), nil
}

// ===== OUTPUT TYPES =====

type positionOutput struct {
	Lat        float64 `json:"lat" jsonschema:"Latitude of the target"`
	Lng        float64 `json:"lng" jsonschema:"Longitude of the target"`
	Accuracy   float64 `json:"accuracy" jsonschema:"Estimated accuracy in meters"`
	Confidence float64 `json:"confidence" jsonschema:"Confidence in percent"`
	Method     string  `json:"method,omitempty" jsonschema:"Solver method"`
	PointCount int     `json:"point_count,omitempty" jsonschema:"Number of points used"`
}

type projectSummary struct {
	ID          string          `json:"id" jsonschema:"Project ID"`
	Name        string          `json:"name" jsonschema:"Project name"`
	Description string          `json:"description" jsonschema:"Project description"`
	Active      bool            `json:"active" jsonschema:"True for the active project"`
	PointCount  int             `json:"point_count" jsonschema:"Number of reference points"`
	UpdatedAt   string          `json:"updated_at" jsonschema:"Last modification time (RFC 3339)"`
	Position    *positionOutput `json:"position,omitempty" jsonschema:"Calculated position, if any"`
}

type pointOutput struct {
	Number   int      `json:"number" jsonschema:"1-based point number"`
	ID       string   `json:"id" jsonschema:"Point ID"`
	Name     string   `json:"name" jsonschema:"Display name"`
	Lat      float64  `json:"lat" jsonschema:"Latitude"`
	Lng      float64  `json:"lng" jsonschema:"Longitude"`
	Distance float64  `json:"distance" jsonschema:"Measured distance to the target in meters"`
	Accuracy *float64 `json:"accuracy,omitempty" jsonschema:"Measurement accuracy in meters"`
}

type projectDetail struct {
	Project  projectSummary `json:"project" jsonschema:"Project summary"`
	Points   []pointOutput  `json:"points" jsonschema:"Reference points in display order"`
	Progress float64        `json:"progress" jsonschema:"Collection progress towards the recommended point count, 0-100"`
}

func positionFrom(p *project.Position) *positionOutput {
	if p == nil {
		return nil
	}
	return &positionOutput{
		Lat:        p.Lat,
		Lng:        p.Lng,
		Accuracy:   p.Accuracy,
		Confidence: p.Confidence,
		Method:     p.Method,
		PointCount: p.PointCount,
	}
}

func summarize(p *project.Project, activeID string) projectSummary {
	return projectSummary{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Active:      p.ID == activeID,
		PointCount:  len(p.Data.ReferencePoints),
		UpdatedAt:   p.UpdatedAt.UTC().Format(time.RFC3339),
		Position:    positionFrom(p.Data.CalculatedPosition),
	}
}

func detail(p *project.Project, activeID string) projectDetail {
	points := make([]pointOutput, len(p.Data.ReferencePoints))
	for i, rp := range p.Data.ReferencePoints {
		points[i] = pointOutput{
			Number:   i + 1,
			ID:       string(rp.ID),
			Name:     rp.Name,
			Lat:      rp.Lat,
			Lng:      rp.Lng,
			Distance: rp.Distance,
			Accuracy: rp.Accuracy,
		}
	}
	return projectDetail{
		Project:  summarize(p, activeID),
		Points:   points,
		Progress: workspace.Progress(len(points)),
	}
}

// ===== PROJECT TOOLS =====

type projectListInput struct {
	Search     string `json:"search,omitempty" jsonschema:"Case-insensitive filter on name and description"`
	SortBy     string `json:"sort_by,omitempty" jsonschema:"Sort key: updatedAt (default) createdAt or name"`
	Descending bool   `json:"descending,omitempty" jsonschema:"Sort in descending order"`
}

type projectListOutput struct {
	Projects []projectSummary `json:"projects" jsonschema:"Matching projects"`
	Count    int              `json:"count" jsonschema:"Number of projects returned"`
}

type projectIDInput struct {
	ProjectID string `json:"project_id,omitempty" jsonschema:"Project ID (default: the active project)"`
}

type projectCreateInput struct {
	Name        string `json:"name,omitempty" jsonschema:"Project name (default: New Project)"`
	Description string `json:"description,omitempty" jsonschema:"Project description"`
}

type projectActivateInput struct {
	ProjectID string `json:"project_id" jsonschema:"Project ID to make active"`
}

type projectDeleteInput struct {
	ProjectID string `json:"project_id" jsonschema:"Project ID to delete"`
}

type projectDeleteOutput struct {
	Deleted bool `json:"deleted" jsonschema:"False if the project did not exist"`
}

type storageStatsOutput struct {
	Size         int64   `json:"size" jsonschema:"Serialized size of all projects in bytes"`
	MaxSize      int64   `json:"max_size" jsonschema:"Storage quota in bytes"`
	Percentage   float64 `json:"percentage" jsonschema:"Quota usage in percent"`
	ProjectCount int     `json:"project_count" jsonschema:"Number of stored projects"`
	MaxProjects  int     `json:"max_projects" jsonschema:"Project limit"`
}

func (s *Server) registerProjectTools() {
	addTool(s, &mcp.Tool{
		Name:        "project_list",
		Description: "List trilateration projects",
	}, func(ctx context.Context, args projectListInput) (*mcp.CallToolResult, projectListOutput, error) {
		projects, err := s.store.ListProjects(ctx, project.ListOptions{
			Search:     args.Search,
			SortBy:     args.SortBy,
			Descending: args.Descending,
		})
		if err != nil {
			return nil, projectListOutput{}, err
		}
		active, err := s.activeID(ctx)
		if err != nil {
			return nil, projectListOutput{}, err
		}
		out := projectListOutput{Projects: make([]projectSummary, len(projects)), Count: len(projects)}
		for i, p := range projects {
			out.Projects[i] = summarize(p, active)
		}
		return text("Found %d projects", out.Count), out, nil
	})

	addTool(s, &mcp.Tool{
		Name:        "project_get",
		Description: "Show a project with its reference points",
	}, func(ctx context.Context, args projectIDInput) (*mcp.CallToolResult, projectDetail, error) {
		p, err := s.resolve(ctx, args.ProjectID)
		if err != nil {
			return nil, projectDetail{}, err
		}
		out, err := s.detail(ctx, p)
		if err != nil {
			return nil, projectDetail{}, err
		}
		return text("Project %s has %d reference points", p.Name, len(out.Points)), out, nil
	})

	addTool(s, &mcp.Tool{
		Name:        "project_create",
		Description: "Create a project and make it active",
	}, func(ctx context.Context, args projectCreateInput) (*mcp.CallToolResult, projectSummary, error) {
		p, err := s.store.CreateProject(ctx, project.Spec{Name: args.Name, Description: args.Description})
		if err != nil {
			return nil, projectSummary{}, err
		}
		if err := s.store.SetActiveProject(ctx, p.ID); err != nil {
			return nil, projectSummary{}, fmt.Errorf("failed to set active project: %w", err)
		}
		return text("Project created: %s", p.ID), summarize(p, p.ID), nil
	})

	addTool(s, &mcp.Tool{
		Name:        "project_activate",
		Description: "Make a project the active project",
	}, func(ctx context.Context, args projectActivateInput) (*mcp.CallToolResult, projectSummary, error) {
		p, err := s.store.GetProject(ctx, args.ProjectID)
		if err != nil {
			return nil, projectSummary{}, err
		}
		if err := s.store.SetActiveProject(ctx, p.ID); err != nil {
			return nil, projectSummary{}, err
		}
		return text("Active project: %s", p.Name), summarize(p, p.ID), nil
	})

	addTool(s, &mcp.Tool{
		Name:        "project_delete",
		Description: "Delete a project",
	}, func(ctx context.Context, args projectDeleteInput) (*mcp.CallToolResult, projectDeleteOutput, error) {
		deleted, err := s.store.DeleteProject(ctx, args.ProjectID)
		if err != nil {
			return nil, projectDeleteOutput{}, err
		}
		if !deleted {
			return text("Project %s not found", args.ProjectID), projectDeleteOutput{}, nil
		}
		return text("Project deleted: %s", args.ProjectID), projectDeleteOutput{Deleted: true}, nil
	})

	addTool(s, &mcp.Tool{
		Name:        "storage_stats",
		Description: "Report storage usage against the quota",
	}, func(ctx context.Context, _ struct{}) (*mcp.CallToolResult, storageStatsOutput, error) {
		st, err := s.store.Stats(ctx)
		if err != nil {
			return nil, storageStatsOutput{}, err
		}
		out := storageStatsOutput{
			Size:         st.Size,
			MaxSize:      st.MaxSize,
			Percentage:   st.Percentage,
			ProjectCount: st.ProjectCount,
			MaxProjects:  st.MaxProjects,
		}
		return text("%d projects, %.1f%% of storage used", out.ProjectCount, out.Percentage), out, nil
	})
}

// ===== POINT TOOLS =====

type pointAddInput struct {
	ProjectID string   `json:"project_id,omitempty" jsonschema:"Project ID (default: the active project)"`
	Lat       float64  `json:"lat" jsonschema:"Latitude of the known location"`
	Lng       float64  `json:"lng" jsonschema:"Longitude of the known location"`
	Distance  float64  `json:"distance" jsonschema:"Measured distance to the target in meters"`
	Accuracy  *float64 `json:"accuracy,omitempty" jsonschema:"Measurement accuracy in meters"`
}

type pointUpdateInput struct {
	ProjectID string   `json:"project_id,omitempty" jsonschema:"Project ID (default: the active project)"`
	Number    int      `json:"number" jsonschema:"1-based point number"`
	Lat       *float64 `json:"lat,omitempty" jsonschema:"New latitude (requires lng)"`
	Lng       *float64 `json:"lng,omitempty" jsonschema:"New longitude (requires lat)"`
	Distance  *float64 `json:"distance,omitempty" jsonschema:"New distance in meters"`
	Accuracy  *float64 `json:"accuracy,omitempty" jsonschema:"New accuracy in meters"`
}

type pointRemoveInput struct {
	ProjectID string `json:"project_id,omitempty" jsonschema:"Project ID (default: the active project)"`
	Number    int    `json:"number" jsonschema:"1-based point number"`
}

// edit applies fn to the resolved project and saves it.
func (s *Server) edit(ctx context.Context, id string, fn func(c *workspace.Controller) error) (*project.Project, error) {
	p, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return workspace.Edit(ctx, s.store, p, s.logger.Named("workspace"), fn)
}

func (s *Server) registerPointTools() {
	addTool(s, &mcp.Tool{
		Name:        "point_add",
		Description: "Add a reference point: a known location and its measured distance to the target",
	}, func(ctx context.Context, args pointAddInput) (*mcp.CallToolResult, projectDetail, error) {
		var added project.ReferencePoint
		p, err := s.edit(ctx, args.ProjectID, func(c *workspace.Controller) error {
			var err error
			added, err = c.AddPoint(args.Lat, args.Lng, args.Distance, args.Accuracy)
			return err
		})
		if err != nil {
			return nil, projectDetail{}, err
		}
		out, err := s.detail(ctx, p)
		if err != nil {
			return nil, projectDetail{}, err
		}
		msg := fmt.Sprintf("Added %s (%d points)", added.Name, len(out.Points))
		if missing := workspace.MinPoints - len(out.Points); missing > 0 {
			msg += fmt.Sprintf("; %d more needed to calculate", missing)
		}
		return text("%s", msg), out, nil
	})

	addTool(s, &mcp.Tool{
		Name:        "point_update",
		Description: "Move a reference point or change its distance or accuracy",
	}, func(ctx context.Context, args pointUpdateInput) (*mcp.CallToolResult, projectDetail, error) {
		if (args.Lat == nil) != (args.Lng == nil) {
			return nil, projectDetail{}, fmt.Errorf("%w: lat and lng must be given together", workspace.ErrInvalidPoint)
		}
		p, err := s.edit(ctx, args.ProjectID, func(c *workspace.Controller) error {
			id, err := c.PointAt(args.Number)
			if err != nil {
				return err
			}
			if args.Lat != nil {
				if err := c.MovePoint(id, *args.Lat, *args.Lng); err != nil {
					return err
				}
			}
			if args.Distance != nil {
				if err := c.SetPointDistance(id, *args.Distance); err != nil {
					return err
				}
			}
			if args.Accuracy != nil {
				return c.SetPointAccuracy(id, args.Accuracy)
			}
			return nil
		})
		if err != nil {
			return nil, projectDetail{}, err
		}
		out, err := s.detail(ctx, p)
		if err != nil {
			return nil, projectDetail{}, err
		}
		return text("Updated %s", workspace.PointName(args.Number)), out, nil
	})

	addTool(s, &mcp.Tool{
		Name:        "point_remove",
		Description: "Remove a reference point; later points are renumbered",
	}, func(ctx context.Context, args pointRemoveInput) (*mcp.CallToolResult, projectDetail, error) {
		p, err := s.edit(ctx, args.ProjectID, func(c *workspace.Controller) error {
			id, err := c.PointAt(args.Number)
			if err != nil {
				return err
			}
			return c.RemovePoint(id)
		})
		if err != nil {
			return nil, projectDetail{}, err
		}
		out, err := s.detail(ctx, p)
		if err != nil {
			return nil, projectDetail{}, err
		}
		return text("Removed %s", workspace.PointName(args.Number)), out, nil
	})
}

// ===== CALCULATION TOOLS =====

type calculateOutput struct {
	Position   positionOutput `json:"position" jsonschema:"Computed target position"`
	Statistics any            `json:"statistics,omitempty" jsonschema:"Solver statistics"`
}

type previewOutput struct {
	Valid            bool            `json:"valid" jsonschema:"True if the points are usable"`
	RecommendedCount int             `json:"recommended_count" jsonschema:"Recommended number of points"`
	Warnings         []string        `json:"warnings" jsonschema:"Validation warnings"`
	Suggestions      []string        `json:"suggestions" jsonschema:"Suggestions for better results"`
	Ready            bool            `json:"ready" jsonschema:"True if a provisional estimate is available"`
	PointsNeeded     int             `json:"points_needed,omitempty" jsonschema:"Points still missing for an estimate"`
	Estimate         *positionOutput `json:"estimate,omitempty" jsonschema:"Provisional estimate"`
}

func solverPoints(p *project.Project) []solver.Point {
	return calculation.InputFrom(workspace.Snapshot{Points: p.Data.ReferencePoints}).Points
}

func (s *Server) registerCalculationTools() {
	addTool(s, &mcp.Tool{
		Name:        "position_calculate",
		Description: "Compute the target position from the reference points and store it in the project",
	}, func(ctx context.Context, args projectIDInput) (*mcp.CallToolResult, calculateOutput, error) {
		var res *solver.Result
		_, err := s.edit(ctx, args.ProjectID, func(c *workspace.Controller) error {
			var err error
			res, err = calculation.Run(ctx, c, calculation.Options{
				Service:   s.solver,
				Threshold: s.threshold,
				Logger:    s.logger.Named("calculation"),
			})
			return err
		})
		if err != nil {
			return nil, calculateOutput{}, err
		}
		out := calculateOutput{Position: *positionFrom(calculation.PositionOf(res))}
		if len(res.Statistics) > 0 {
			if err := json.Unmarshal(res.Statistics, &out.Statistics); err != nil {
				s.logger.Warn("discarding malformed solver statistics", zap.Error(err))
			}
		}
		return text("Position %.6f, %.6f (±%.1f m, %.1f%% confidence)",
			res.Lat, res.Lng, res.Accuracy, res.Confidence), out, nil
	})

	addTool(s, &mcp.Tool{
		Name:        "position_preview",
		Description: "Validate the reference points and get a provisional estimate without saving",
	}, func(ctx context.Context, args projectIDInput) (*mcp.CallToolResult, previewOutput, error) {
		p, err := s.resolve(ctx, args.ProjectID)
		if err != nil {
			return nil, previewOutput{}, err
		}
		points := solverPoints(p)
		v, err := s.solver.Validate(ctx, points)
		if err != nil {
			return nil, previewOutput{}, fmt.Errorf("validation failed: %w", err)
		}
		pv, err := s.solver.Preview(ctx, points)
		if err != nil {
			return nil, previewOutput{}, fmt.Errorf("preview failed: %w", err)
		}

		out := previewOutput{
			Valid:            v.Valid,
			RecommendedCount: v.RecommendedCount,
			Warnings:         append([]string{}, v.Warnings...),
			Suggestions:      append([]string{}, v.Suggestions...),
			Ready:            pv.Ready,
			PointsNeeded:     pv.PointsNeeded,
		}
		if e := pv.Estimate; pv.Ready && e != nil {
			out.Estimate = &positionOutput{
				Lat: e.Lat, Lng: e.Lng, Accuracy: e.Accuracy,
				Confidence: e.Confidence, PointCount: e.PointCount,
			}
			return text("Estimate %.6f, %.6f (%.1f%% confidence)", e.Lat, e.Lng, e.Confidence), out, nil
		}
		return text("No estimate yet: %d more points needed", pv.PointsNeeded), out, nil
	})
}
