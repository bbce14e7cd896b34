// Package transfer moves projects between a project.Store and portable JSON
// export documents.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trilat/internal/project"
)

// Import errors.
var (
	ErrInvalidImportFormat = errors.New("invalid import format: projects not found")
	ErrEmptyImportSet      = errors.New("no projects in import document")
	ErrInvalidProject      = errors.New("invalid project structure")
)

// ExportDocument is the portable form of a set of projects.
type ExportDocument struct {
	Version       int               `json:"version"`
	ExportedAt    time.Time         `json:"exportedAt"`
	Projects      []project.Project `json:"projects"`
	TotalProjects int               `json:"totalProjects"`
}

// ImportOptions control conflict handling. Overwrite replaces every existing
// project and takes precedence over KeepExisting.
type ImportOptions struct {
	Overwrite    bool `json:"overwrite"`
	KeepExisting bool `json:"keepExisting"`
}

// Result summarizes an import.
type Result struct {
	Success  bool   `json:"success"`
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
	Total    int    `json:"total"`
	Error    string `json:"error,omitempty"`
}

// Preview describes an import document without touching the store.
type Preview struct {
	ProjectCount int        `json:"projectCount"`
	Version      string     `json:"version,omitempty"`
	ExportedAt   *time.Time `json:"exportedAt,omitempty"`
	Names        []string   `json:"names"`
}

// Options configures a Gateway.
type Options struct {
	Clock  clockwork.Clock
	Logger *zap.Logger
}

// Gateway exports and imports projects against a store.
type Gateway struct {
	store  *project.Store
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewGateway creates a Gateway on store.
func NewGateway(store *project.Store, opts Options) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("project store is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Gateway{store: store, clock: opts.Clock, logger: opts.Logger}, nil
}

// Export returns the projects with the given ids, or all projects when no
// ids are given. Unknown ids are ignored. The store is not modified.
func (g *Gateway) Export(ctx context.Context, ids ...string) (*ExportDocument, error) {
	var want map[string]bool
	if len(ids) > 0 {
		want = make(map[string]bool, len(ids))
		for _, id := range ids {
			want[id] = true
		}
	}

	out := &ExportDocument{
		Version:    project.CurrentVersion,
		ExportedAt: g.clock.Now().UTC(),
		Projects:   []project.Project{},
	}
	err := g.store.View(ctx, func(doc *project.Document) error {
		for _, p := range doc.Projects {
			if want == nil || want[p.ID] {
				out.Projects = append(out.Projects, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read projects: %w", err)
	}

	out.TotalProjects = len(out.Projects)
	return out, nil
}

// Encode renders doc as indented JSON.
func Encode(doc *ExportDocument) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// ExportFileName returns the conventional file name for an export made at now.
func ExportFileName(now time.Time) string {
	return "triangulation-projects-" + now.UTC().Format("2006-01-02T15-04-05") + ".json"
}

// importEnvelope is the loosely typed shape accepted on import.
type importEnvelope struct {
	Version    json.RawMessage   `json:"version"`
	ExportedAt json.RawMessage   `json:"exportedAt"`
	Projects   []json.RawMessage `json:"projects"`
}

type importEntry struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Data        *project.DataUpdate `json:"data"`
}

// parse checks the document shape shared by Import and Validate.
func parse(text []byte) (*importEnvelope, error) {
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(text, &shape); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImportFormat, err)
	}
	projects, ok := shape["projects"]
	if !ok || !bytes.HasPrefix(bytes.TrimSpace(projects), []byte("[")) {
		return nil, ErrInvalidImportFormat
	}

	var env importEnvelope
	if err := json.Unmarshal(text, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImportFormat, err)
	}
	if len(env.Projects) == 0 {
		return nil, ErrEmptyImportSet
	}
	return &env, nil
}

// decodeEntry returns the entry, or false if it lacks a name or data.
func decodeEntry(raw json.RawMessage) (importEntry, bool) {
	var e importEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return e, false
	}
	e.Name = strings.TrimSpace(e.Name)
	return e, e.Name != "" && e.Data != nil
}

// Import adds the projects in text to the store in one write. Entries
// without a name or data are skipped, as are entries whose name already
// exists when KeepExisting is set, and entries beyond the project limit.
// Imported projects always get fresh ids and timestamps. If the result would
// exceed the storage quota nothing is imported.
func (g *Gateway) Import(ctx context.Context, text []byte, opts ImportOptions) (Result, error) {
	env, err := parse(text)
	if err != nil {
		return Result{Error: err.Error()}, err
	}

	res := Result{Total: len(env.Projects)}
	limited := 0
	err = g.store.Update(ctx, func(tx *project.Tx) error {
		res.Imported, res.Skipped, limited = 0, 0, 0
		if opts.Overwrite {
			tx.Clear()
		}

		for _, raw := range env.Projects {
			entry, ok := decodeEntry(raw)
			if !ok {
				res.Skipped++
				continue
			}
			if !opts.Overwrite && opts.KeepExisting && tx.HasName(entry.Name) {
				res.Skipped++
				continue
			}
			if tx.Remaining() == 0 {
				res.Skipped++
				limited++
				continue
			}

			_, err := tx.Create(project.Spec{
				Name:        entry.Name,
				Description: entry.Description,
				Data:        entry.Data,
			})
			if errors.Is(err, project.ErrInvalidSettings) {
				res.Skipped++
				continue
			}
			if err != nil {
				return err
			}
			res.Imported++
		}
		return nil
	})
	if err != nil {
		g.logger.Warn("import failed", zap.Error(err), zap.Int("total", res.Total))
		return Result{Total: res.Total, Error: err.Error()}, err
	}

	if limited > 0 {
		g.logger.Warn("import truncated at project limit", zap.Int("skipped", limited))
	}
	g.logger.Info("projects imported",
		zap.Int("imported", res.Imported),
		zap.Int("skipped", res.Skipped),
		zap.Bool("overwrite", opts.Overwrite))

	res.Success = true
	return res, nil
}

// Validate checks that text is an importable document in which every entry
// has a name and data.
func Validate(text []byte) (Preview, error) {
	env, err := parse(text)
	if err != nil {
		return Preview{}, err
	}

	p := Preview{ProjectCount: len(env.Projects), Names: make([]string, 0, len(env.Projects))}
	for i, raw := range env.Projects {
		entry, ok := decodeEntry(raw)
		if !ok {
			return Preview{}, fmt.Errorf("%w: entry %d needs a name and data", ErrInvalidProject, i)
		}
		p.Names = append(p.Names, entry.Name)
	}

	p.Version = versionText(env.Version)
	var at time.Time
	if len(env.ExportedAt) > 0 && json.Unmarshal(env.ExportedAt, &at) == nil && !at.IsZero() {
		p.ExportedAt = &at
	}
	return p, nil
}

// versionText renders a version written either as a number or a string.
func versionText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}
