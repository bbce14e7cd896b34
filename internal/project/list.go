package project

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidSortKey is returned by ListProjects for an unknown sort key.
var ErrInvalidSortKey = errors.New("unknown sort key")

// Sort keys for ListProjects.
const (
	SortByUpdatedAt = "updatedAt"
	SortByCreatedAt = "createdAt"
	SortByName      = "name"
)

// ListOptions filters and orders ListProjects results.
type ListOptions struct {
	// Search matches name or description, case-insensitively.
	Search     string
	SortBy     string // default SortByUpdatedAt
	Descending bool
}

// ListProjects returns copies of the projects matching opts.
func (s *Store) ListProjects(ctx context.Context, opts ListOptions) ([]*Project, error) {
	less, err := lessFunc(opts.SortBy)
	if err != nil {
		return nil, err
	}

	var out []*Project
	err = s.View(ctx, func(doc *Document) error {
		needle := strings.ToLower(strings.TrimSpace(opts.Search))
		out = make([]*Project, 0, len(doc.Projects))
		for i := range doc.Projects {
			p := &doc.Projects[i]
			if needle != "" &&
				!strings.Contains(strings.ToLower(p.Name), needle) &&
				!strings.Contains(strings.ToLower(p.Description), needle) {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if opts.Descending {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return out, nil
}

func lessFunc(sortBy string) (func(a, b *Project) bool, error) {
	switch sortBy {
	case "", SortByUpdatedAt:
		return func(a, b *Project) bool { return a.UpdatedAt.Before(b.UpdatedAt) }, nil
	case SortByCreatedAt:
		return func(a, b *Project) bool { return a.CreatedAt.Before(b.CreatedAt) }, nil
	case SortByName:
		return func(a, b *Project) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrInvalidSortKey, sortBy)
	}
}
