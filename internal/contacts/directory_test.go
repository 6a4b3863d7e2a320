package contacts

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/good-yellow-bee/origami/internal/models"
)

func contact(id, subject string, rank int, active bool) models.Contact {
	return models.Contact{
		ID: id, SubjectID: subject, Rank: rank, Active: active,
		Channels: []models.Channel{models.ChannelEmail},
	}
}

func TestUpsert_RankConflict(t *testing.T) {
	d := NewDirectory()
	if err := d.Upsert(contact("c1", "p1", 0, true)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	tests := []struct {
		name    string
		c       models.Contact
		wantErr error
	}{
		{"same rank active", contact("c2", "p1", 0, true), ErrRankConflict},
		{"same rank inactive", contact("c3", "p1", 0, false), nil},
		{"same rank other subject", contact("c4", "p2", 0, true), nil},
		{"replace self keeps rank", contact("c1", "p1", 0, true), nil},
		{"invalid", models.Contact{ID: "x"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.Upsert(tt.c)
			if tt.name == "invalid" {
				if err == nil {
					t.Error("expected validation error")
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Upsert() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRanked(t *testing.T) {
	d := NewDirectory()
	d.Upsert(contact("backup", "p1", 2, true))
	d.Upsert(contact("primary", "p1", 0, true))
	d.Upsert(contact("off", "p1", 1, false))
	d.Upsert(contact("other", "p2", 1, true))

	got := d.Ranked("p1")
	if len(got) != 2 || got[0].ID != "primary" || got[1].ID != "backup" {
		t.Errorf("Ranked(p1) = %v", got)
	}
	if len(d.Ranked("nobody")) != 0 {
		t.Error("unknown subject should have no contacts")
	}

	got[0].Channels[0] = models.ChannelVoice
	if again := d.Ranked("p1"); again[0].Channels[0] != models.ChannelEmail {
		t.Error("Ranked must return copies")
	}
}

func TestSetActiveAndRank(t *testing.T) {
	d := NewDirectory()
	d.Upsert(contact("a", "p1", 0, true))
	d.Upsert(contact("b", "p1", 0, false))

	if err := d.SetActive("b", true); !errors.Is(err, ErrRankConflict) {
		t.Errorf("activating into a taken rank: %v", err)
	}
	if err := d.SetRank("b", 1); err != nil {
		t.Fatalf("SetRank: %v", err)
	}
	if err := d.SetActive("b", true); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if err := d.SetRank("b", 0); !errors.Is(err, ErrRankConflict) {
		t.Errorf("moving onto a taken rank: %v", err)
	}
	if err := d.SetActive("missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsert_MoveSubject(t *testing.T) {
	d := NewDirectory()
	d.Upsert(contact("a", "p1", 0, true))
	d.Upsert(contact("a", "p2", 0, true))

	if len(d.Ranked("p1")) != 0 {
		t.Error("contact should have left p1")
	}
	if len(d.Ranked("p2")) != 1 {
		t.Error("contact should be under p2")
	}
	if !d.Remove("a") || d.Remove("a") {
		t.Error("Remove should succeed once")
	}
	if d.Len() != 0 {
		t.Errorf("Len() = %d", d.Len())
	}
}

const contactsYAML = `
contacts:
  - id: daughter
    subject_id: patient-1
    name: Ana
    relationship: daughter
    rank: 0
    channels: [call, sms]
    address:
      phone: "+15550001"
      sms: "+15550001"
  - id: neighbour
    subject_id: patient-1
    rank: 1
    channels: [email]
    address:
      email: n@example.com
  - id: retired
    subject_id: patient-1
    rank: 0
    active: false
    channels: [email]
`

func TestLoad(t *testing.T) {
	d := NewDirectory()
	n, err := d.Load(strings.NewReader(contactsYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 3 {
		t.Errorf("loaded %d, want 3", n)
	}

	ranked := d.Ranked("patient-1")
	if len(ranked) != 2 {
		t.Fatalf("Ranked = %v", ranked)
	}
	first := ranked[0]
	if first.ID != "daughter" || !first.Supports(models.ChannelVoice) {
		t.Errorf("first = %+v", first)
	}
	if first.AddressFor(models.ChannelVoice) != "+15550001" {
		t.Errorf("voice address = %q", first.AddressFor(models.ChannelVoice))
	}
}

func TestLoadFile_Conflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	data := `
contacts:
  - {id: a, subject_id: s, rank: 0, channels: [email]}
  - {id: b, subject_id: s, rank: 0, channels: [email]}
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewDirectory().LoadFile(path)
	if !errors.Is(err, ErrRankConflict) {
		t.Errorf("expected rank conflict, got %v", err)
	}
}
