package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/trilat/internal/project"
	"github.com/fyrsmithlabs/trilat/internal/solver"
	"github.com/fyrsmithlabs/trilat/internal/transfer"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TRILAT_STORAGE_DIR", t.TempDir())
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func runJSON[T any](t *testing.T, args ...string) T {
	t.Helper()
	out, err := runCLI(t, "", append(args, "--json")...)
	require.NoError(t, err, out)
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestProjectCommands(t *testing.T) {
	isolate(t)

	created := runJSON[project.Project](t, "project", "create", "Harbor", "-d", "east pier")
	assert.Equal(t, "Harbor", created.Name)

	other := runJSON[project.Project](t, "project", "create", "Airfield", "--no-activate")

	shown := runJSON[project.Project](t, "project", "show")
	assert.Equal(t, created.ID, shown.ID, "create activates the new project")

	list := runJSON[[]project.Project](t, "project", "list", "--sort", "name")
	require.Len(t, list, 2)
	assert.Equal(t, "Airfield", list[0].Name)

	list = runJSON[[]project.Project](t, "project", "list", "--search", "PIER")
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	renamed := runJSON[project.Project](t, "project", "rename", other.ID, "Airstrip")
	assert.Equal(t, "Airstrip", renamed.Name)

	dup := runJSON[project.Project](t, "project", "duplicate", created.ID)
	assert.Equal(t, "Harbor"+project.CopySuffix, dup.Name)

	out, err := runCLI(t, "", "project", "use", other.ID)
	require.NoError(t, err)
	assert.Contains(t, out, other.ID)
	assert.Equal(t, other.ID, runJSON[project.Project](t, "project", "show").ID)

	_, err = runCLI(t, "", "project", "delete", other.ID)
	require.NoError(t, err)
	_, err = runCLI(t, "", "project", "delete", other.ID)
	assert.ErrorIs(t, err, project.ErrProjectNotFound)

	_, err = runCLI(t, "", "project", "show")
	assert.ErrorContains(t, err, "no active project")

	out, err = runCLI(t, "", "project", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Harbor")
}

func TestPointCommands(t *testing.T) {
	isolate(t)
	runJSON[project.Project](t, "project", "create", "Survey")

	runJSON[[]project.ReferencePoint](t, "point", "add", "52.52", "13.405", "850")
	runJSON[[]project.ReferencePoint](t, "point", "add", "52.51", "13.39", "1200", "--accuracy", "25")
	points := runJSON[[]project.ReferencePoint](t, "point", "add", "52.50", "13.42", "900")
	require.Len(t, points, 3)
	assert.Equal(t, "Point 3", points[2].Name)
	require.NotNil(t, points[1].Accuracy)
	assert.Equal(t, 25.0, *points[1].Accuracy)

	points = runJSON[[]project.ReferencePoint](t, "point", "move", "1", "52.53", "13.41")
	assert.True(t, points[0].IsDragModified)
	assert.Equal(t, 52.53, points[0].Lat)

	points = runJSON[[]project.ReferencePoint](t, "point", "distance", "3", "950")
	assert.True(t, points[2].IsDistanceModified)

	points = runJSON[[]project.ReferencePoint](t, "point", "accuracy", "2", "--clear")
	assert.Nil(t, points[1].Accuracy)
	assert.True(t, points[1].IsAccuracyModified)

	points = runJSON[[]project.ReferencePoint](t, "point", "remove", "1")
	require.Len(t, points, 2)
	assert.Equal(t, "Point 1", points[0].Name)
	assert.Equal(t, "Point 2", points[1].Name)

	listed := runJSON[[]project.ReferencePoint](t, "point", "list")
	assert.Equal(t, points, listed)

	_, err := runCLI(t, "", "point", "add", "91", "0", "100")
	assert.Error(t, err)
	_, err = runCLI(t, "", "point", "add", "10", "10", "0")
	assert.Error(t, err)
	_, err = runCLI(t, "", "point", "remove", "7")
	assert.Error(t, err)

	out, err := runCLI(t, "", "point", "add", "52.49", "13.40", "700")
	require.NoError(t, err)
	assert.Contains(t, out, "Point 3")

	points = runJSON[[]project.ReferencePoint](t, "point", "clear")
	assert.Empty(t, points)
}

func newSolver(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/triangulate":
			calls.Add(1)
			_, _ = w.Write([]byte(`{"lat":52.515,"lng":13.401,"accuracy":12.5,"confidence":87,` +
				`"method":"least_squares","point_count":3,"statistics":{"rmse":4.2}}`))
		case "/api/points/validate":
			_, _ = w.Write([]byte(`{"valid":true,"point_count":3,"recommended_count":6,` +
				`"warnings":["points nearly collinear"],"suggestions":[]}`))
		case "/api/triangulate/preview":
			_, _ = w.Write([]byte(`{"ready":true,"preview":{"lat":52.5,"lng":13.4,"accuracy":40,` +
				`"confidence":61,"point_count":3}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCalcCommand(t *testing.T) {
	isolate(t)
	var calls atomic.Int32
	t.Setenv("TRILAT_SOLVER_BASE_URL", newSolver(t, &calls).URL)

	runJSON[project.Project](t, "project", "create", "Survey")

	_, err := runCLI(t, "", "calc")
	assert.ErrorContains(t, err, "at least 3 points")

	for _, args := range [][]string{
		{"52.52", "13.405", "850"},
		{"52.51", "13.39", "1200"},
		{"52.50", "13.42", "900"},
	} {
		_, err := runCLI(t, "", append([]string{"point", "add"}, args...)...)
		require.NoError(t, err)
	}

	preview := runJSON[struct {
		Validation solver.Validation `json:"validation"`
		Preview    solver.Preview    `json:"preview"`
	}](t, "calc", "--preview")
	assert.True(t, preview.Validation.Valid)
	assert.Equal(t, []string{"points nearly collinear"}, preview.Validation.Warnings)
	require.NotNil(t, preview.Preview.Estimate)
	assert.Equal(t, 61.0, preview.Preview.Estimate.Confidence)
	assert.Equal(t, int32(0), calls.Load())
	assert.Nil(t, runJSON[project.Project](t, "project", "show").Data.CalculatedPosition)

	res := runJSON[solver.Result](t, "calc")
	assert.Equal(t, 52.515, res.Lat)
	assert.Equal(t, int32(1), calls.Load())

	p := runJSON[project.Project](t, "project", "show")
	require.NotNil(t, p.Data.CalculatedPosition)
	assert.Equal(t, "least_squares", p.Data.CalculatedPosition.Method)
	assert.Equal(t, 87.0, p.Data.CalculatedPosition.Confidence)
	assert.JSONEq(t, `{"rmse":4.2}`, string(p.Data.Statistics))
}

func TestExportImportCommands(t *testing.T) {
	isolate(t)
	runJSON[project.Project](t, "project", "create", "Harbor")
	runJSON[project.Project](t, "project", "create", "Airfield")

	out, err := runCLI(t, "", "export", "-o", "-")
	require.NoError(t, err)
	var doc transfer.ExportDocument
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, 2, doc.TotalProjects)

	path := filepath.Join(t.TempDir(), "backup.json")
	_, err = runCLI(t, "", "export", "-o", path)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	preview := runJSON[transfer.Preview](t, "import", "--validate", path)
	assert.ElementsMatch(t, []string{"Harbor", "Airfield"}, preview.Names)

	res := runJSON[transfer.Result](t, "import", path)
	assert.Equal(t, 0, res.Imported, "existing names are kept by default")
	assert.Equal(t, 2, res.Skipped)
	assert.Len(t, runJSON[[]project.Project](t, "project", "list"), 2)

	res = runJSON[transfer.Result](t, "import", "--keep-existing=false", path)
	assert.Equal(t, 2, res.Imported)
	assert.Len(t, runJSON[[]project.Project](t, "project", "list"), 4)

	out, err = runCLI(t, out, "import", "--overwrite", "-", "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Imported)
	assert.Len(t, runJSON[[]project.Project](t, "project", "list"), 2)

	_, err = runCLI(t, "", "import", "-", "--json")
	assert.ErrorIs(t, err, transfer.ErrInvalidImportFormat)
}

func TestImportFromStdin(t *testing.T) {
	isolate(t)
	doc := `{"version":2,"projects":[{"name":"Imported","data":{"referencePoints":[]}}]}`

	out, err := runCLI(t, doc, "import", "-", "--json")
	require.NoError(t, err)
	var res transfer.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.Imported)

	list := runJSON[[]project.Project](t, "project", "list")
	require.Len(t, list, 1)
	assert.Equal(t, "Imported", list[0].Name)
}

func TestSettingsStatsAndClear(t *testing.T) {
	isolate(t)

	settings := runJSON[project.AppSettings](t, "settings", "set", "--theme", "dark", "--map-center", "48.137,11.575")
	assert.Equal(t, "dark", settings.Theme)
	assert.Equal(t, project.LatLng{48.137, 11.575}, settings.DefaultMapCenter)

	_, err := runCLI(t, "", "settings", "set", "--map-center", "95,0")
	assert.ErrorIs(t, err, project.ErrInvalidCoordinates)
	_, err = runCLI(t, "", "settings", "set", "--map-center", "north")
	assert.Error(t, err)

	shown := runJSON[project.AppSettings](t, "settings", "show")
	assert.Equal(t, "dark", shown.Theme)

	runJSON[project.Project](t, "project", "create", "Harbor")
	stats := runJSON[project.Stats](t, "stats")
	assert.Equal(t, 1, stats.ProjectCount)
	assert.Positive(t, stats.Size)

	out, err := runCLI(t, "n\n", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted")
	assert.Len(t, runJSON[[]project.Project](t, "project", "list"), 1)

	_, err = runCLI(t, "", "clear", "--yes")
	require.NoError(t, err)
	assert.Empty(t, runJSON[[]project.Project](t, "project", "list"))
	assert.Equal(t, project.DefaultTheme, runJSON[project.AppSettings](t, "settings", "show").Theme)
}

func TestConfigDefaultsForNewRecords(t *testing.T) {
	isolate(t)

	p := runJSON[project.Project](t, "project", "create", "Harbor")
	assert.True(t, p.Data.Settings.AutoCalculate)
	assert.True(t, runJSON[project.AppSettings](t, "settings", "show").AutoSave)

	isolate(t)
	t.Setenv("TRILAT_CALCULATION_AUTO", "false")
	t.Setenv("TRILAT_AUTOSAVE_ENABLED", "false")

	p = runJSON[project.Project](t, "project", "create", "Harbor")
	assert.False(t, p.Data.Settings.AutoCalculate)
	assert.False(t, runJSON[project.AppSettings](t, "settings", "show").AutoSave)

	// explicit settings still win over the configured default
	settings := runJSON[project.AppSettings](t, "settings", "set", "--autosave=true")
	assert.True(t, settings.AutoSave)
}

func TestInteractiveCommandsRegistered(t *testing.T) {
	isolate(t)

	out, err := runCLI(t, "", "watch", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "--manual")

	out, err = runCLI(t, "", "mcp", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "MCP")
}
