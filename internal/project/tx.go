package project

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tx is a pending change to the document, valid only inside Store.Update.
type Tx struct {
	doc       *Document
	now       time.Time
	limit     int
	mapCenter LatLng
	settings  Settings
	dirty     bool
}

// Len returns the number of projects.
func (tx *Tx) Len() int { return len(tx.doc.Projects) }

// Remaining returns how many more projects fit under the limit.
func (tx *Tx) Remaining() int { return max(tx.limit-len(tx.doc.Projects), 0) }

// Now returns the timestamp applied to changes in this transaction.
func (tx *Tx) Now() time.Time { return tx.now }

// Projects returns copies of all projects in document order.
func (tx *Tx) Projects() []*Project {
	out := make([]*Project, len(tx.doc.Projects))
	for i := range tx.doc.Projects {
		out[i] = tx.doc.Projects[i].Clone()
	}
	return out
}

// Get returns a copy of the project with id.
func (tx *Tx) Get(id string) (*Project, bool) {
	i := tx.doc.Find(id)
	if i < 0 {
		return nil, false
	}
	return tx.doc.Projects[i].Clone(), true
}

// HasName reports whether a project with exactly this name exists.
func (tx *Tx) HasName(name string) bool {
	for _, p := range tx.doc.Projects {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Create appends a new project built from spec with a fresh id and
// timestamps.
func (tx *Tx) Create(spec Spec) (*Project, error) {
	if len(tx.doc.Projects) >= tx.limit {
		return nil, fmt.Errorf("%w: maximum of %d projects reached", ErrProjectLimitExceeded, tx.limit)
	}

	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = DefaultName
	}

	p := Project{
		ID:          tx.newID(),
		Name:        name,
		Description: spec.Description,
		CreatedAt:   tx.now,
		UpdatedAt:   tx.now,
		Data: Data{
			ReferencePoints: []ReferencePoint{},
			MapCenter:       tx.mapCenter,
			Settings:        tx.settings,
		},
	}
	if spec.Data != nil {
		if err := spec.Data.apply(&p.Data); err != nil {
			return nil, err
		}
		if p.Data.ReferencePoints == nil {
			p.Data.ReferencePoints = []ReferencePoint{}
		}
	}

	tx.doc.Projects = append(tx.doc.Projects, p)
	tx.dirty = true
	return p.Clone(), nil
}

// newID returns a uuid not used by any project in the document.
func (tx *Tx) newID() string {
	for {
		id := uuid.NewString()
		if tx.doc.Find(id) < 0 {
			return id
		}
	}
}

// Update merges u into the project with id and restamps it.
func (tx *Tx) Update(id string, u Update) (*Project, error) {
	i := tx.doc.Find(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}

	p := tx.doc.Projects[i].Clone()
	if err := u.apply(p); err != nil {
		return nil, err
	}
	p.ID = id
	p.UpdatedAt = tx.now

	tx.doc.Projects[i] = *p
	tx.dirty = true
	return p.Clone(), nil
}

// Delete removes the project with id, clearing the active pointer if it
// referenced it.
func (tx *Tx) Delete(id string) bool {
	i := tx.doc.Find(id)
	if i < 0 {
		return false
	}
	tx.doc.Projects = append(tx.doc.Projects[:i], tx.doc.Projects[i+1:]...)
	if string(tx.doc.ActiveProjectID) == id {
		tx.doc.ActiveProjectID = ""
	}
	tx.dirty = true
	return true
}

// Clear removes every project and the active pointer.
func (tx *Tx) Clear() {
	tx.doc.Projects = []Project{}
	tx.doc.ActiveProjectID = ""
	tx.dirty = true
}

// SetActive points the document at id; an empty id clears the pointer.
func (tx *Tx) SetActive(id string) error {
	if id != "" && tx.doc.Find(id) < 0 {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	tx.doc.ActiveProjectID = NullableID(id)
	tx.dirty = true
	return nil
}

// Active returns the active project id, or "".
func (tx *Tx) Active() string {
	return string(tx.doc.ActiveProjectID)
}
