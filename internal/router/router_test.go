package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/origami/internal/models"
)

type stubContacts map[string][]models.Contact

func (s stubContacts) Ranked(subjectID string) []models.Contact { return s[subjectID] }

type call struct {
	contactID string
	channel   models.Channel
}

// fakeDelivery answers attempts from a per-contact script. Contacts without a
// script fail.
type fakeDelivery struct {
	mu       sync.Mutex
	channels map[models.Channel]bool
	outcomes map[string]models.Outcome
	hang     map[string]bool
	calls    []call
	onCall   func(contactID string)
}

func newFakeDelivery(outcomes map[string]models.Outcome) *fakeDelivery {
	return &fakeDelivery{
		channels: map[models.Channel]bool{
			models.ChannelVoice: true,
			models.ChannelSMS:   true,
			models.ChannelEmail: true,
		},
		outcomes: outcomes,
		hang:     map[string]bool{},
	}
}

func (f *fakeDelivery) Has(ch models.Channel) bool { return f.channels[ch] }

func (f *fakeDelivery) Attempt(ctx context.Context, c models.Contact, ch models.Channel, a models.Alert) (models.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{contactID: c.ID, channel: ch})
	hang := f.hang[c.ID]
	out, ok := f.outcomes[c.ID]
	onCall := f.onCall
	f.mu.Unlock()

	if onCall != nil {
		onCall(c.ID)
	}
	if hang {
		<-ctx.Done()
		return models.OutcomeFailed, ctx.Err()
	}
	if !ok || out != models.OutcomeSent {
		return models.OutcomeFailed, errors.New("unreachable")
	}
	return models.OutcomeSent, nil
}

func (f *fakeDelivery) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type memRecorder struct {
	mu     sync.Mutex
	states []models.ChainState
	last   map[string]models.Chain
}

func (m *memRecorder) RecordChain(ctx context.Context, a models.Alert, c models.Chain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		m.last = map[string]models.Chain{}
	}
	m.states = append(m.states, c.State)
	m.last[c.AlertID] = c
	return nil
}

func contact(id, subject string, rank int, chs ...models.Channel) models.Contact {
	return models.Contact{ID: id, SubjectID: subject, Rank: rank, Channels: chs, Active: true}
}

func alertFor(id, domain, subject string, sev models.Severity) models.Alert {
	return models.Alert{
		ID:        id,
		DomainID:  domain,
		SubjectID: subject,
		Category:  "FALL_DETECTED",
		Severity:  sev,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func seqIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("n%d", n)
	}
}

func newTestRouter(contacts ContactSource, d Deliverer, cfg Config, opts ...Option) *Router {
	opts = append([]Option{WithIDGenerator(seqIDs())}, opts...)
	return New(contacts, d, cfg, opts...)
}

func TestRoute_FirstFailsSecondSent(t *testing.T) {
	contacts := stubContacts{"p1": {
		contact("c1", "p1", 0, models.ChannelSMS, models.ChannelVoice),
		contact("c2", "p1", 1, models.ChannelEmail),
	}}
	d := newFakeDelivery(map[string]models.Outcome{"c2": models.OutcomeSent})
	rec := &memRecorder{}
	r := newTestRouter(contacts, d, Config{}, WithRecorder(rec))

	chain, err := r.Route(context.Background(), alertFor("a1", "elderly_care", "p1", models.SeverityEmergency))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	if chain.State != models.StateResolved {
		t.Fatalf("state = %s, want RESOLVED", chain.State)
	}
	if len(chain.Notifications) != 2 {
		t.Fatalf("notifications = %d, want 2", len(chain.Notifications))
	}
	first, second := chain.Notifications[0], chain.Notifications[1]
	if first.ContactID != "c1" || first.Outcome != models.OutcomeFailed || first.Attempt != 1 {
		t.Errorf("first = %+v", first)
	}
	if first.Channel != models.ChannelVoice {
		t.Errorf("emergency should prefer voice, got %s", first.Channel)
	}
	if first.Error == "" {
		t.Error("failed notification should carry the error")
	}
	if second.ContactID != "c2" || second.Outcome != models.OutcomeSent || second.Attempt != 2 {
		t.Errorf("second = %+v", second)
	}
	if second.ResolvedAt.IsZero() {
		t.Error("resolved notification should have ResolvedAt")
	}

	want := []models.ChainState{
		models.StateNew,
		models.StateAttempting,
		models.StateEscalating,
		models.StateAttempting,
		models.StateResolved,
	}
	if fmt.Sprint(rec.states) != fmt.Sprint(want) {
		t.Errorf("recorded states = %v, want %v", rec.states, want)
	}
}

func TestRoute_NoContactsExhaustsImmediately(t *testing.T) {
	d := newFakeDelivery(nil)
	r := newTestRouter(stubContacts{}, d, Config{})

	chain, err := r.Route(context.Background(), alertFor("a1", "agriculture", "field-9", models.SeverityWarning))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if chain.State != models.StateExhausted || len(chain.Notifications) != 0 {
		t.Errorf("chain = %+v, want EXHAUSTED with no notifications", chain)
	}
	if len(d.Calls()) != 0 {
		t.Error("no delivery should be attempted")
	}
}

func TestRoute_AllFailInRankOrder(t *testing.T) {
	contacts := stubContacts{"p1": {
		contact("c1", "p1", 0, models.ChannelSMS),
		contact("c2", "p1", 1, models.ChannelSMS),
		contact("c3", "p1", 2, models.ChannelSMS),
	}}
	d := newFakeDelivery(nil)
	r := newTestRouter(contacts, d, Config{})

	chain, _ := r.Route(context.Background(), alertFor("a1", "elderly_care", "p1", models.SeverityCritical))
	if chain.State != models.StateExhausted {
		t.Fatalf("state = %s, want EXHAUSTED", chain.State)
	}
	if len(chain.Notifications) != 3 {
		t.Fatalf("notifications = %d, want 3", len(chain.Notifications))
	}
	seen := map[string]bool{}
	for i, n := range chain.Notifications {
		if want := fmt.Sprintf("c%d", i+1); n.ContactID != want {
			t.Errorf("notification %d contact = %s, want %s", i, n.ContactID, want)
		}
		if seen[n.ContactID] {
			t.Errorf("contact %s attempted twice", n.ContactID)
		}
		seen[n.ContactID] = true
	}
}

func TestRoute_SkipsUnreachableContacts(t *testing.T) {
	inactive := contact("c0", "p1", 0, models.ChannelSMS)
	inactive.Active = false
	contacts := stubContacts{"p1": {
		inactive,
		contact("c1", "p1", 1, models.ChannelPush), // no push notifier
		contact("c2", "p1", 2),                     // no channels
		contact("c3", "p1", 3, models.ChannelEmail),
	}}
	d := newFakeDelivery(map[string]models.Outcome{"c3": models.OutcomeSent})
	r := newTestRouter(contacts, d, Config{})

	chain, _ := r.Route(context.Background(), alertFor("a1", "elderly_care", "p1", models.SeverityInfo))
	if chain.State != models.StateResolved || len(chain.Notifications) != 1 || chain.Notifications[0].ContactID != "c3" {
		t.Errorf("chain = %+v, want single SENT to c3", chain)
	}
}

func TestRoute_MaxDepth(t *testing.T) {
	contacts := stubContacts{"p1": {
		contact("c1", "p1", 0, models.ChannelSMS),
		contact("c2", "p1", 1, models.ChannelSMS),
		contact("c3", "p1", 2, models.ChannelSMS),
	}}
	d := newFakeDelivery(map[string]models.Outcome{"c3": models.OutcomeSent})
	r := newTestRouter(contacts, d, Config{MaxDepth: 2})

	chain, _ := r.Route(context.Background(), alertFor("a1", "elderly_care", "p1", models.SeverityCritical))
	if chain.State != models.StateExhausted || len(chain.Notifications) != 2 {
		t.Errorf("chain = %s with %d notifications, want EXHAUSTED with 2", chain.State, len(chain.Notifications))
	}
}

func TestRoute_TimeoutEscalates(t *testing.T) {
	contacts := stubContacts{"p1": {
		contact("c1", "p1", 0, models.ChannelVoice),
		contact("c2", "p1", 1, models.ChannelSMS),
	}}
	d := newFakeDelivery(map[string]models.Outcome{"c2": models.OutcomeSent})
	d.hang["c1"] = true
	r := newTestRouter(contacts, d, Config{Timeout: 20 * time.Millisecond})

	chain, err := r.Route(context.Background(), alertFor("a1", "elderly_care", "p1", models.SeverityEmergency))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if chain.State != models.StateResolved {
		t.Fatalf("state = %s, want RESOLVED", chain.State)
	}
	if chain.Notifications[0].Outcome != models.OutcomeFailed {
		t.Errorf("timed out attempt outcome = %s, want FAILED", chain.Notifications[0].Outcome)
	}
}

func TestRoute_Idempotent(t *testing.T) {
	contacts := stubContacts{"p1": {
		contact("c1", "p1", 0, models.ChannelSMS),
		contact("c2", "p1", 1, models.ChannelSMS),
	}}
	d := newFakeDelivery(map[string]models.Outcome{"c2": models.OutcomeSent})
	r := newTestRouter(contacts, d, Config{})
	a := alertFor("a1", "elderly_care", "p1", models.SeverityCritical)

	first, _ := r.Route(context.Background(), a)
	second, _ := r.Route(context.Background(), a)

	if len(d.Calls()) != 2 {
		t.Errorf("delivery calls = %d, want 2", len(d.Calls()))
	}
	if len(second.Notifications) != len(first.Notifications) || second.State != first.State {
		t.Errorf("re-route changed chain: %+v vs %+v", second, first)
	}
}

func TestRoute_ConcurrentSameAlert(t *testing.T) {
	contacts := stubContacts{"p1": {
		contact("c1", "p1", 0, models.ChannelSMS),
		contact("c2", "p1", 1, models.ChannelSMS),
		contact("c3", "p1", 2, models.ChannelSMS),
	}}
	d := newFakeDelivery(map[string]models.Outcome{"c3": models.OutcomeSent})
	r := newTestRouter(contacts, d, Config{})
	a := alertFor("a1", "elderly_care", "p1", models.SeverityCritical)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Route(context.Background(), a)
		}()
	}
	wg.Wait()

	calls := d.Calls()
	if len(calls) != 3 {
		t.Fatalf("delivery calls = %d, want 3", len(calls))
	}
	chain, _ := r.Chain("a1")
	if chain.State != models.StateResolved || len(chain.Notifications) != 3 {
		t.Errorf("chain = %s with %d notifications", chain.State, len(chain.Notifications))
	}
}

func TestRoute_IndependentChainsRunConcurrently(t *testing.T) {
	contacts := stubContacts{
		"p1": {contact("c1", "p1", 0, models.ChannelSMS)},
		"p2": {contact("c2", "p2", 0, models.ChannelSMS)},
	}
	d := newFakeDelivery(map[string]models.Outcome{"c1": models.OutcomeSent, "c2": models.OutcomeSent})

	started := make(chan string, 2)
	release := make(chan struct{})
	d.onCall = func(id string) {
		started <- id
		<-release
	}
	r := newTestRouter(contacts, d, Config{})

	var wg sync.WaitGroup
	for _, a := range []models.Alert{
		alertFor("a1", "elderly_care", "p1", models.SeverityCritical),
		alertFor("a2", "elderly_care", "p2", models.SeverityCritical),
	} {
		wg.Add(1)
		go func(a models.Alert) {
			defer wg.Done()
			r.Route(context.Background(), a)
		}(a)
	}

	// Both attempts must be in flight at the same time.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("chains did not advance concurrently")
		}
	}
	close(release)
	wg.Wait()
}

func TestCancel_StopsEscalationWithoutRewritingHistory(t *testing.T) {
	contacts := stubContacts{"p1": {
		contact("c1", "p1", 0, models.ChannelSMS),
		contact("c2", "p1", 1, models.ChannelSMS),
	}}
	d := newFakeDelivery(nil)
	r := newTestRouter(contacts, d, Config{})

	inFlight := make(chan struct{})
	release := make(chan struct{})
	d.onCall = func(id string) {
		if id == "c1" {
			close(inFlight)
			<-release
		}
	}

	done := make(chan models.Chain)
	go func() {
		c, _ := r.Route(context.Background(), alertFor("a1", "elderly_care", "p1", models.SeverityCritical))
		done <- c
	}()

	<-inFlight
	if err := r.Cancel(context.Background(), "a1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	close(release)
	chain := <-done

	if chain.State != models.StateCancelled {
		t.Errorf("state = %s, want CANCELLED", chain.State)
	}
	if len(chain.Notifications) != 1 || chain.Notifications[0].Outcome != models.OutcomeFailed {
		t.Errorf("notifications = %+v, want the single recorded FAILED attempt", chain.Notifications)
	}

	if err := r.Cancel(context.Background(), "missing"); !errors.Is(err, ErrUnknownAlert) {
		t.Errorf("Cancel(missing) = %v, want ErrUnknownAlert", err)
	}
}

func TestCancel_TerminalChainUnchanged(t *testing.T) {
	contacts := stubContacts{"p1": {contact("c1", "p1", 0, models.ChannelSMS)}}
	d := newFakeDelivery(map[string]models.Outcome{"c1": models.OutcomeSent})
	r := newTestRouter(contacts, d, Config{})

	r.Route(context.Background(), alertFor("a1", "elderly_care", "p1", models.SeverityCritical))
	if err := r.Cancel(context.Background(), "a1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	chain, _ := r.Chain("a1")
	if chain.State != models.StateResolved {
		t.Errorf("state = %s, want RESOLVED", chain.State)
	}
}

func TestRoute_SupersedesPreviousChain(t *testing.T) {
	contacts := stubContacts{"p1": {
		contact("c1", "p1", 0, models.ChannelSMS),
		contact("c2", "p1", 1, models.ChannelSMS),
	}}
	d := newFakeDelivery(nil)
	r := newTestRouter(contacts, d, Config{SupersedePrevious: true})

	// Leave the first chain in progress by cancelling its context after the first attempt.
	ctx, cancel := context.WithCancel(context.Background())
	d.onCall = func(id string) { cancel() }
	first := alertFor("a1", "elderly_care", "p1", models.SeverityCritical)
	chain, err := r.Route(ctx, first)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Route() error = %v, want context.Canceled", err)
	}
	if chain.State.Terminal() {
		t.Fatalf("first chain should be in progress, got %s", chain.State)
	}

	d.onCall = nil
	d.outcomes = map[string]models.Outcome{"c1": models.OutcomeSent}
	second := alertFor("a2", "elderly_care", "p1", models.SeverityCritical)
	if _, err := r.Route(context.Background(), second); err != nil {
		t.Fatalf("Route(second) error = %v", err)
	}

	prev, _ := r.Chain("a1")
	if prev.State != models.StateCancelled {
		t.Errorf("superseded chain state = %s, want CANCELLED", prev.State)
	}
	if len(prev.Notifications) != 1 {
		t.Errorf("superseded chain notifications = %d, want 1", len(prev.Notifications))
	}
}

func TestRestoreAndResume(t *testing.T) {
	contacts := stubContacts{"p1": {
		contact("c1", "p1", 0, models.ChannelSMS),
		contact("c2", "p1", 1, models.ChannelSMS),
	}}
	d := newFakeDelivery(map[string]models.Outcome{"c2": models.OutcomeSent})
	r := newTestRouter(contacts, d, Config{})

	a := alertFor("a1", "elderly_care", "p1", models.SeverityCritical)
	stored := models.Chain{
		AlertID:   "a1",
		DomainID:  "elderly_care",
		SubjectID: "p1",
		State:     models.StateAttempting,
		Notifications: []models.Notification{
			{ID: "n0", AlertID: "a1", ContactID: "c1", Channel: models.ChannelSMS, Attempt: 1, Outcome: models.OutcomePending},
		},
	}
	orphan := models.Chain{AlertID: "gone", State: models.StateResolved}

	if skipped := r.Restore([]models.Alert{a}, []models.Chain{stored, orphan}); skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if err := r.Resume(context.Background()); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}

	chain, ok := r.Chain("a1")
	if !ok {
		t.Fatal("restored chain missing")
	}
	if chain.State != models.StateResolved || len(chain.Notifications) != 2 {
		t.Fatalf("chain = %s with %d notifications", chain.State, len(chain.Notifications))
	}
	if chain.Notifications[0].Outcome != models.OutcomeFailed {
		t.Errorf("interrupted attempt outcome = %s, want FAILED", chain.Notifications[0].Outcome)
	}
	calls := d.Calls()
	if len(calls) != 1 || calls[0].contactID != "c2" {
		t.Errorf("calls = %+v, want only c2", calls)
	}
}

func TestRoute_NeverEscalatesUpward(t *testing.T) {
	contacts := stubContacts{"p1": {
		contact("c1", "p1", 1, models.ChannelSMS),
		contact("c2", "p1", 2, models.ChannelSMS),
	}}
	d := newFakeDelivery(map[string]models.Outcome{
		"c0": models.OutcomeSent,
		"c2": models.OutcomeSent,
	})
	// A better ranked contact appears while the first attempt is in flight.
	d.onCall = func(id string) {
		if id == "c1" {
			contacts["p1"] = append([]models.Contact{contact("c0", "p1", 0, models.ChannelSMS)}, contacts["p1"]...)
		}
	}
	r := newTestRouter(contacts, d, Config{})

	chain, err := r.Route(context.Background(), alertFor("a1", "elderly_care", "p1", models.SeverityCritical))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if chain.State != models.StateResolved {
		t.Errorf("state = %s, want RESOLVED", chain.State)
	}
	var got []string
	for _, n := range chain.Notifications {
		got = append(got, n.ContactID)
	}
	if len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Errorf("attempted %v, want [c1 c2]", got)
	}
}

func TestCancel_IdleChainWhileRead(t *testing.T) {
	contacts := stubContacts{"p1": {
		contact("c1", "p1", 0, models.ChannelSMS),
		contact("c2", "p1", 1, models.ChannelSMS),
	}}
	d := newFakeDelivery(nil)
	r := newTestRouter(contacts, d, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	d.onCall = func(string) { cancel() }
	if _, err := r.Route(ctx, alertFor("a1", "elderly_care", "p1", models.SeverityCritical)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Route() error = %v, want context.Canceled", err)
	}

	// Hold the entry lock the way a concurrent snapshot reader would.
	r.mu.Lock()
	e := r.chains["a1"]
	r.mu.Unlock()
	e.mu.Lock()
	go func() {
		time.Sleep(50 * time.Millisecond)
		e.mu.Unlock()
	}()

	if err := r.Cancel(context.Background(), "a1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	chain, _ := r.Chain("a1")
	if chain.State != models.StateCancelled {
		t.Errorf("state = %s, want CANCELLED", chain.State)
	}
	if len(chain.Notifications) != 1 {
		t.Errorf("notifications = %d, want 1", len(chain.Notifications))
	}
}

func TestRestore_KeepsRankOrder(t *testing.T) {
	contacts := stubContacts{"p1": {
		contact("c0", "p1", 0, models.ChannelSMS),
		contact("c1", "p1", 1, models.ChannelSMS),
		contact("c2", "p1", 2, models.ChannelSMS),
	}}
	d := newFakeDelivery(map[string]models.Outcome{"c0": models.OutcomeSent, "c2": models.OutcomeSent})
	r := newTestRouter(contacts, d, Config{})

	// c0 was added after c1 had already been tried.
	stored := models.Chain{
		AlertID: "a1", DomainID: "elderly_care", SubjectID: "p1",
		State: models.StateEscalating,
		Notifications: []models.Notification{
			{ID: "n0", AlertID: "a1", ContactID: "c1", Channel: models.ChannelSMS, Attempt: 1, Outcome: models.OutcomeFailed},
		},
	}
	r.Restore([]models.Alert{alertFor("a1", "elderly_care", "p1", models.SeverityCritical)}, []models.Chain{stored})
	if err := r.Resume(context.Background()); err != nil {
		t.Fatal(err)
	}
	calls := d.Calls()
	if len(calls) != 1 || calls[0].contactID != "c2" {
		t.Errorf("calls = %+v, want only c2", calls)
	}
}

func TestRoute_InvalidAlert(t *testing.T) {
	r := newTestRouter(stubContacts{}, newFakeDelivery(nil), Config{})
	if _, err := r.Route(context.Background(), models.Alert{SubjectID: "p1"}); !errors.Is(err, ErrInvalidAlert) {
		t.Errorf("Route() error = %v, want ErrInvalidAlert", err)
	}
}

func TestChannelPreference(t *testing.T) {
	tests := []struct {
		severity models.Severity
		channels []models.Channel
		want     models.Channel
	}{
		{models.SeverityEmergency, []models.Channel{models.ChannelEmail, models.ChannelVoice}, models.ChannelVoice},
		{models.SeverityCritical, []models.Channel{models.ChannelEmail, models.ChannelSMS}, models.ChannelSMS},
		{models.SeverityWarning, []models.Channel{models.ChannelVoice, models.ChannelEmail}, models.ChannelEmail},
		{models.SeverityInfo, []models.Channel{models.ChannelVoice, models.ChannelSMS}, models.ChannelSMS},
		{models.SeverityInfo, []models.Channel{models.ChannelVoice}, models.ChannelVoice},
		// Non-urgent alerts honour the contact's order among asynchronous channels.
		{models.SeverityWarning, []models.Channel{models.ChannelSMS, models.ChannelEmail}, models.ChannelSMS},
		{models.SeverityInfo, []models.Channel{models.ChannelPush, models.ChannelEmail}, models.ChannelEmail},
		{models.SeverityCritical, []models.Channel{models.ChannelEmail, models.ChannelVoice}, models.ChannelVoice},
	}

	r := newTestRouter(stubContacts{}, newFakeDelivery(nil), Config{})
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.severity, tt.channels), func(t *testing.T) {
			got, ok := r.selectChannel(contact("c", "p", 0, tt.channels...), tt.severity)
			if !ok || got != tt.want {
				t.Errorf("selectChannel() = %s, %v; want %s", got, ok, tt.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{Timeout: -time.Second}).Validate(); err == nil {
		t.Error("negative timeout should be rejected")
	}
	if err := (Config{MaxDepth: -1}).Validate(); err == nil {
		t.Error("negative max depth should be rejected")
	}
	if err := (Config{}).Validate(); err != nil {
		t.Errorf("zero config should be valid: %v", err)
	}
}
