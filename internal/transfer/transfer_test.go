package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/trilat/internal/project"
	"github.com/fyrsmithlabs/trilat/internal/storage"
)

var epoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, opts project.Options) (*project.Store, *Gateway, *storage.MemoryBackend) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(epoch)
	opts.Clock = clock
	backend := storage.NewMemoryBackend()
	store, err := project.NewStore(backend, opts)
	require.NoError(t, err)
	require.NoError(t, store.Initialize(context.Background()))

	gw, err := NewGateway(store, Options{Clock: clock})
	require.NoError(t, err)
	return store, gw, backend
}

func seed(t *testing.T, store *project.Store, names ...string) []*project.Project {
	t.Helper()
	out := make([]*project.Project, 0, len(names))
	for i, name := range names {
		p, err := store.CreateProject(context.Background(), project.Spec{
			Name:        name,
			Description: "desc " + name,
			Data: &project.DataUpdate{
				ReferencePoints: project.Set([]project.ReferencePoint{
					{ID: project.PointID(fmt.Sprint(i)), Lat: 52.5, Lng: 13.4, Distance: 100 + float64(i), Name: "Point 1"},
				}),
				CalculatedPosition: project.Set(&project.Position{Lat: 52.51, Lng: 13.41, Confidence: 77}),
				Settings:           &project.SettingsUpdate{AutoCalculate: project.Set(i%2 == 0)},
			},
		})
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func encode(t *testing.T, doc *ExportDocument) []byte {
	t.Helper()
	data, err := Encode(doc)
	require.NoError(t, err)
	return data
}

func TestNewGateway_RequiresStore(t *testing.T) {
	_, err := NewGateway(nil, Options{})
	assert.Error(t, err)
}

func TestExport_SelectedAndAll(t *testing.T) {
	store, gw, backend := newFixture(t, project.Options{})
	ctx := context.Background()
	ps := seed(t, store, "Office", "Home", "Depot")
	before, _ := backend.Raw(project.DocumentKey)

	all, err := gw.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, all.TotalProjects)
	assert.Equal(t, project.CurrentVersion, all.Version)
	assert.Equal(t, epoch, all.ExportedAt)

	some, err := gw.Export(ctx, ps[2].ID, "unknown", ps[0].ID)
	require.NoError(t, err)
	require.Equal(t, 2, some.TotalProjects)
	assert.Equal(t, "Office", some.Projects[0].Name)
	assert.Equal(t, "Depot", some.Projects[1].Name)

	after, _ := backend.Raw(project.DocumentKey)
	assert.Equal(t, string(before), string(after))
}

func TestExportImport_RoundTrip(t *testing.T) {
	store, gw, _ := newFixture(t, project.Options{})
	ctx := context.Background()
	ps := seed(t, store, "Office", "Home", "Depot")

	doc, err := gw.Export(ctx, ps[0].ID, ps[1].ID)
	require.NoError(t, err)

	res, err := gw.Import(ctx, encode(t, doc), ImportOptions{Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, Result{Success: true, Imported: 2, Skipped: 0, Total: 2}, res)

	got, err := store.ListProjects(ctx, project.ListOptions{SortBy: project.SortByName})
	require.NoError(t, err)
	require.Len(t, got, 2)

	want := map[string]*project.Project{ps[0].Name: ps[0], ps[1].Name: ps[1]}
	for _, p := range got {
		orig, ok := want[p.Name]
		require.True(t, ok, p.Name)
		assert.NotEqual(t, orig.ID, p.ID)
		assert.Equal(t, orig.Description, p.Description)
		assert.Equal(t, orig.Data, p.Data)
	}
}

func TestImport_KeepExistingSkipsNameCollision(t *testing.T) {
	store, gw, _ := newFixture(t, project.Options{})
	ctx := context.Background()
	office := seed(t, store, "Office")[0]

	doc, err := gw.Export(ctx, office.ID)
	require.NoError(t, err)

	res, err := gw.Import(ctx, encode(t, doc), ImportOptions{KeepExisting: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Imported)
	assert.Equal(t, 1, res.Skipped)
	assert.True(t, res.Success)

	all, err := store.ListProjects(ctx, project.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestImport_WithoutKeepExistingAddsDuplicateName(t *testing.T) {
	store, gw, _ := newFixture(t, project.Options{})
	ctx := context.Background()
	office := seed(t, store, "Office")[0]

	doc, err := gw.Export(ctx, office.ID)
	require.NoError(t, err)

	res, err := gw.Import(ctx, encode(t, doc), ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)

	all, err := store.ListProjects(ctx, project.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.NotEqual(t, all[0].ID, all[1].ID)
}

func TestImport_OverwriteWinsOverKeepExisting(t *testing.T) {
	store, gw, _ := newFixture(t, project.Options{})
	ctx := context.Background()
	ps := seed(t, store, "Office", "Home")
	require.NoError(t, store.SetActiveProject(ctx, ps[1].ID))

	doc, err := gw.Export(ctx, ps[0].ID)
	require.NoError(t, err)

	res, err := gw.Import(ctx, encode(t, doc), ImportOptions{Overwrite: true, KeepExisting: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)

	all, err := store.ListProjects(ctx, project.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Office", all[0].Name)

	active, err := store.GetActiveProject(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestImport_ReusedIdsGetFreshIds(t *testing.T) {
	store, gw, _ := newFixture(t, project.Options{})
	ctx := context.Background()
	office := seed(t, store, "Office")[0]

	text := fmt.Sprintf(`{"projects":[{"id":%q,"name":"Clone","data":{}}]}`, office.ID)
	res, err := gw.Import(ctx, []byte(text), ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)

	all, err := store.ListProjects(ctx, project.ListOptions{SortBy: project.SortByName})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.NotEqual(t, all[0].ID, all[1].ID)

	clone := all[0]
	assert.Equal(t, "Clone", clone.Name)
	assert.Equal(t, epoch, clone.CreatedAt)
	assert.True(t, clone.Data.Settings.AutoCalculate)
	assert.Equal(t, project.DefaultMaxPoints, clone.Data.Settings.MaxPoints)
}

func TestImport_SkipsIncompleteEntries(t *testing.T) {
	_, gw, _ := newFixture(t, project.Options{})

	text := `{"projects":[
		{"name":"ok","data":{"referencePoints":[{"id":1714557600000,"lat":1,"lng":2,"distance":3,"name":"Punkt 1"}]}},
		{"name":"","data":{}},
		{"data":{}},
		{"name":"no data"},
		{"name":"null data","data":null},
		{"name":"bad settings","data":{"settings":{"maxPoints":0}}},
		null
	]}`
	res, err := gw.Import(context.Background(), []byte(text), ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, Result{Success: true, Imported: 1, Skipped: 6, Total: 7}, res)
}

func TestImport_ClockTimeModificationIsKept(t *testing.T) {
	store, gw, _ := newFixture(t, project.Options{})
	ctx := context.Background()

	text := `{"version":"1.0","exportedAt":"2024-05-02T10:00:00.000Z","totalProjects":1,"projects":[
		{"id":"p1","name":"Office","description":"","data":{
			"referencePoints":[
				{"id":1714557600000,"lat":52.5,"lng":13.4,"distance":150,"name":"Punkt 1",
				 "timestamp":"10:00:00","isDragModified":true,"lastModified":"14:23:05"}
			],
			"calculatedPosition":null,
			"settings":{"autoCalculate":true,"maxPoints":6}
		}}
	]}`
	res, err := gw.Import(ctx, []byte(text), ImportOptions{KeepExisting: true})
	require.NoError(t, err)
	assert.Equal(t, Result{Success: true, Imported: 1, Skipped: 0, Total: 1}, res)

	list, err := store.ListProjects(ctx, project.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	got, err := store.GetProject(ctx, list[0].ID)
	require.NoError(t, err)
	require.Len(t, got.Data.ReferencePoints, 1)
	assert.Equal(t, project.Stamp("14:23:05"), got.Data.ReferencePoints[0].LastModified)
	assert.True(t, got.Data.ReferencePoints[0].IsDragModified)
}

func TestImport_FormatErrors(t *testing.T) {
	_, gw, _ := newFixture(t, project.Options{})
	ctx := context.Background()

	tests := []struct {
		name string
		text string
		want error
	}{
		{"not json", `{{{`, ErrInvalidImportFormat},
		{"no projects key", `{"version":2}`, ErrInvalidImportFormat},
		{"projects not a list", `{"projects":{"name":"x"}}`, ErrInvalidImportFormat},
		{"projects null", `{"projects":null}`, ErrInvalidImportFormat},
		{"array at top level", `[{"name":"x","data":{}}]`, ErrInvalidImportFormat},
		{"empty list", `{"projects":[]}`, ErrEmptyImportSet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := gw.Import(ctx, []byte(tt.text), ImportOptions{})
			require.ErrorIs(t, err, tt.want)
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Error)
		})
	}
}

func TestImport_RespectsProjectLimit(t *testing.T) {
	store, gw, _ := newFixture(t, project.Options{MaxProjects: 3})
	ctx := context.Background()
	seed(t, store, "one", "two")

	text := `{"projects":[{"name":"a","data":{}},{"name":"b","data":{}},{"name":"c","data":{}}]}`
	res, err := gw.Import(ctx, []byte(text), ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 2, res.Skipped)

	all, err := store.ListProjects(ctx, project.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestImport_QuotaFailureImportsNothing(t *testing.T) {
	store, gw, backend := newFixture(t, project.Options{MaxSizeBytes: 4096})
	ctx := context.Background()
	seed(t, store, "Office")
	before, _ := backend.Raw(project.DocumentKey)

	entries := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		entries = append(entries, fmt.Sprintf(`{"name":"big %d","description":%q,"data":{}}`, i, strings.Repeat("x", 1000)))
	}
	text := `{"projects":[` + strings.Join(entries, ",") + `]}`

	res, err := gw.Import(ctx, []byte(text), ImportOptions{Overwrite: true})
	require.ErrorIs(t, err, project.ErrStorageQuotaExceeded)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Imported)

	after, _ := backend.Raw(project.DocumentKey)
	assert.Equal(t, string(before), string(after))
}

func TestValidate(t *testing.T) {
	_, gw, _ := newFixture(t, project.Options{})
	doc, err := gw.Export(context.Background())
	require.NoError(t, err)
	doc.Projects = []project.Project{{ID: "x", Name: "Office"}}

	preview, err := Validate(encode(t, doc))
	require.NoError(t, err)
	assert.Equal(t, 1, preview.ProjectCount)
	assert.Equal(t, "2", preview.Version)
	require.NotNil(t, preview.ExportedAt)
	assert.Equal(t, epoch, *preview.ExportedAt)
	assert.Equal(t, []string{"Office"}, preview.Names)

	legacy, err := Validate([]byte(`{"version":"1.0","projects":[{"name":"A","data":{}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "1.0", legacy.Version)
	assert.Nil(t, legacy.ExportedAt)

	_, err = Validate([]byte(`{"projects":[{"name":"A","data":{}},{"name":"B"}]}`))
	assert.ErrorIs(t, err, ErrInvalidProject)

	_, err = Validate([]byte(`{"projects":[]}`))
	assert.ErrorIs(t, err, ErrEmptyImportSet)
}

func TestExportFileName(t *testing.T) {
	at := time.Date(2026, 10, 19, 14, 5, 9, 0, time.UTC)
	assert.Equal(t, "triangulation-projects-2026-10-19T14-05-09.json", ExportFileName(at))
}

func TestEncode_IsIndentedJSON(t *testing.T) {
	data := encode(t, &ExportDocument{Version: 2, Projects: []project.Project{}})
	assert.Contains(t, string(data), "\n  \"version\": 2")

	var back ExportDocument
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 2, back.Version)
}
