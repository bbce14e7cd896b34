package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trilat/internal/project"
	"github.com/fyrsmithlabs/trilat/internal/transfer"
)

const (
	// maxImportBytes bounds the body of import requests.
	maxImportBytes = 32 << 20

	solverHealthTimeout = 2 * time.Second
)

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.version}
	if s.solver != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), solverHealthTimeout)
		defer cancel()
		resp.Solver = "ok"
		if _, err := s.solver.Health(ctx); err != nil {
			s.logger.Warn(ctx, "solver health check failed", zap.Error(err))
			resp.Solver = "unavailable"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListProjects(c echo.Context) error {
	opts := project.ListOptions{
		Search: c.QueryParam("search"),
		SortBy: c.QueryParam("sort"),
	}
	switch order := c.QueryParam("order"); order {
	case "", "asc":
	case "desc":
		opts.Descending = true
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown sort order %q", order))
	}

	projects, err := s.store.ListProjects(c.Request().Context(), opts)
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, ProjectListResponse{Projects: projects, Total: len(projects)})
}

func (s *Server) handleCreateProject(c echo.Context) error {
	var spec project.Spec
	if err := c.Bind(&spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := s.store.CreateProject(c.Request().Context(), spec)
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) handleGetProject(c echo.Context) error {
	p, err := s.store.GetProject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleUpdateProject(c echo.Context) error {
	var u project.Update
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := s.store.UpdateProject(c.Request().Context(), c.Param("id"), u)
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleDeleteProject(c echo.Context) error {
	id := c.Param("id")
	deleted, err := s.store.DeleteProject(c.Request().Context(), id)
	if err != nil {
		return s.apiError(c, err)
	}
	if !deleted {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("%s: %s", project.ErrProjectNotFound, id))
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDuplicateProject(c echo.Context) error {
	p, err := s.store.DuplicateProject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) handleGetActive(c echo.Context) error {
	p, err := s.store.GetActiveProject(c.Request().Context())
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, ActiveProjectResponse{Project: p})
}

func (s *Server) handleSetActive(c echo.Context) error {
	var req ActiveProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	if err := s.store.SetActiveProject(ctx, req.ID); err != nil {
		return s.apiError(c, err)
	}
	p, err := s.store.GetActiveProject(ctx)
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, ActiveProjectResponse{Project: p})
}

func (s *Server) handleExport(c echo.Context) error {
	var ids []string
	for _, id := range strings.Split(c.QueryParam("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	doc, err := s.gateway.Export(c.Request().Context(), ids...)
	if err != nil {
		return s.apiError(c, err)
	}
	data, err := transfer.Encode(doc)
	if err != nil {
		return s.apiError(c, err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", transfer.ExportFileName(doc.ExportedAt)))
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
}

func (s *Server) handleImport(c echo.Context) error {
	// Name collisions are skipped unless keep_existing=false is given.
	opts := transfer.ImportOptions{KeepExisting: true}
	if err := echo.QueryParamsBinder(c).
		Bool("overwrite", &opts.Overwrite).
		Bool("keep_existing", &opts.KeepExisting).
		BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	text, err := readBody(c)
	if err != nil {
		return err
	}

	res, err := s.gateway.Import(c.Request().Context(), text, opts)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error(c.Request().Context(), "import failed", zap.Error(err))
		}
		return c.JSON(status, res)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleValidateImport(c echo.Context) error {
	text, err := readBody(c)
	if err != nil {
		return err
	}
	preview, err := transfer.Validate(text)
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, preview)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.store.Stats(c.Request().Context())
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleGetSettings(c echo.Context) error {
	settings, err := s.store.AppSettings(c.Request().Context())
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(c echo.Context) error {
	var u project.AppSettingsUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	settings, err := s.store.UpdateAppSettings(c.Request().Context(), u)
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, settings)
}

func (s *Server) handleClear(c echo.Context) error {
	if err := s.store.Clear(c.Request().Context()); err != nil {
		return s.apiError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// readBody reads an import document, rejecting bodies over maxImportBytes.
func readBody(c echo.Context) ([]byte, error) {
	text, err := io.ReadAll(io.LimitReader(c.Request().Body, maxImportBytes+1))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if len(text) > maxImportBytes {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "import document too large")
	}
	return text, nil
}
