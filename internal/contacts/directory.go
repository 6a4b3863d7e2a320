// Package contacts keeps the ranked contacts of each subject entity.
package contacts

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/origami/internal/models"
)

var (
	// ErrNotFound is returned for an unknown contact id.
	ErrNotFound = errors.New("contact not found")
	// ErrRankConflict is returned when two active contacts of a subject
	// would share a rank.
	ErrRankConflict = errors.New("rank already taken by an active contact")
)

// Directory is an in-memory contact directory safe for concurrent use.
type Directory struct {
	mu        sync.RWMutex
	byID      map[string]models.Contact
	bySubject map[string][]string
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		byID:      make(map[string]models.Contact),
		bySubject: make(map[string][]string),
	}
}

// Upsert adds or replaces a contact. An active contact may not take the rank
// of another active contact of the same subject.
func (d *Directory) Upsert(c models.Contact) error {
	if err := c.Validate(); err != nil {
		return err
	}
	c = c.Clone()

	d.mu.Lock()
	defer d.mu.Unlock()

	if c.Active {
		if err := d.checkRankLocked(c.SubjectID, c.ID, c.Rank); err != nil {
			return err
		}
	}

	prev, exists := d.byID[c.ID]
	if exists && prev.SubjectID != c.SubjectID {
		d.unlinkLocked(prev.SubjectID, prev.ID)
		exists = false
	}
	if !exists {
		d.bySubject[c.SubjectID] = append(d.bySubject[c.SubjectID], c.ID)
	}
	d.byID[c.ID] = c
	return nil
}

func (d *Directory) checkRankLocked(subject, id string, rank int) error {
	for _, otherID := range d.bySubject[subject] {
		if otherID == id {
			continue
		}
		other := d.byID[otherID]
		if other.Active && other.Rank == rank {
			return fmt.Errorf("%w: subject %q rank %d held by %q", ErrRankConflict, subject, rank, otherID)
		}
	}
	return nil
}

func (d *Directory) unlinkLocked(subject, id string) {
	ids := d.bySubject[subject]
	for i, v := range ids {
		if v == id {
			d.bySubject[subject] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(d.bySubject[subject]) == 0 {
		delete(d.bySubject, subject)
	}
}

// Remove deletes a contact.
func (d *Directory) Remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.byID[id]
	if !ok {
		return false
	}
	delete(d.byID, id)
	d.unlinkLocked(c.SubjectID, id)
	return true
}

// SetActive activates or deactivates a contact.
func (d *Directory) SetActive(id string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if active && !c.Active {
		if err := d.checkRankLocked(c.SubjectID, id, c.Rank); err != nil {
			return err
		}
	}
	c.Active = active
	d.byID[id] = c
	return nil
}

// SetRank moves a contact to a new rank.
func (d *Directory) SetRank(id string, rank int) error {
	if rank < 0 {
		return fmt.Errorf("rank must not be negative")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if c.Active {
		if err := d.checkRankLocked(c.SubjectID, id, rank); err != nil {
			return err
		}
	}
	c.Rank = rank
	d.byID[id] = c
	return nil
}

// Get returns a contact by id.
func (d *Directory) Get(id string) (models.Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.byID[id]
	if !ok {
		return models.Contact{}, false
	}
	return c.Clone(), true
}

// Ranked returns the active contacts of a subject ordered by rank, primary first.
func (d *Directory) Ranked(subjectID string) []models.Contact {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []models.Contact
	for _, id := range d.bySubject[subjectID] {
		c := d.byID[id]
		if c.Active {
			out = append(out, c.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// All returns every contact ordered by subject then rank.
func (d *Directory) All() []models.Contact {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]models.Contact, 0, len(d.byID))
	for _, c := range d.byID {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubjectID != out[j].SubjectID {
			return out[i].SubjectID < out[j].SubjectID
		}
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of contacts.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

// File is the YAML contacts document.
type File struct {
	Contacts []fileContact `yaml:"contacts"`
}

// fileContact defaults Active to true when omitted and accepts channel
// aliases such as "call".
type fileContact struct {
	ID           string            `yaml:"id"`
	SubjectID    string            `yaml:"subject_id"`
	Name         string            `yaml:"name"`
	Relationship string            `yaml:"relationship"`
	Rank         int               `yaml:"rank"`
	Channels     []string          `yaml:"channels"`
	Address      map[string]string `yaml:"address"`
	Active       *bool             `yaml:"active"`
}

func (fc fileContact) contact() models.Contact {
	c := models.Contact{
		ID:           fc.ID,
		SubjectID:    fc.SubjectID,
		Name:         fc.Name,
		Relationship: fc.Relationship,
		Rank:         fc.Rank,
		Active:       fc.Active == nil || *fc.Active,
	}
	for _, ch := range fc.Channels {
		c.Channels = append(c.Channels, models.ParseChannel(ch))
	}
	if len(fc.Address) > 0 {
		c.Address = make(map[models.Channel]string, len(fc.Address))
		for k, v := range fc.Address {
			c.Address[models.ParseChannel(k)] = v
		}
	}
	return c
}

// Load reads a YAML contacts document into the directory.
func (d *Directory) Load(r io.Reader) (int, error) {
	var f File
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return 0, fmt.Errorf("failed to parse contacts YAML: %w", err)
	}

	for i, fc := range f.Contacts {
		if err := d.Upsert(fc.contact()); err != nil {
			return i, fmt.Errorf("contact at index %d: %w", i, err)
		}
	}
	return len(f.Contacts), nil
}

// LoadFile reads a YAML contacts file into the directory.
func (d *Directory) LoadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open contacts file: %w", err)
	}
	defer f.Close()

	return d.Load(f)
}
