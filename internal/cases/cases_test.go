package cases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/imageguard/guardian/internal/models"
	"github.com/imageguard/guardian/internal/store"
)

type fakeStore struct {
	mu         sync.Mutex
	caseSeq    int
	cases      map[uuid.UUID]*models.LegalCase
	events     []models.CaseEvent
	violations map[uuid.UUID]*models.Violation
	letters    map[uuid.UUID]*models.WarningLetter
	reports    map[uuid.UUID]*models.OfficialReport
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cases:      make(map[uuid.UUID]*models.LegalCase),
		violations: make(map[uuid.UUID]*models.Violation),
		letters:    make(map[uuid.UUID]*models.WarningLetter),
		reports:    make(map[uuid.UUID]*models.OfficialReport),
	}
}

func (f *fakeStore) NextCaseNumber(ctx context.Context, now time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caseSeq++
	return fmt.Sprintf("IG-%s-%04d", now.Format("200601"), f.caseSeq), nil
}

func (f *fakeStore) CreateCase(ctx context.Context, c *models.LegalCase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	copied := *c
	f.cases[c.ID] = &copied
	return nil
}

func (f *fakeStore) GetCase(ctx context.Context, id uuid.UUID) (*models.LegalCase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[id]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (f *fakeStore) ListCases(ctx context.Context, filters store.ListCaseFilters) ([]models.LegalCase, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LegalCase
	for _, c := range f.cases {
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (f *fakeStore) UpdateCaseStatus(ctx context.Context, id uuid.UUID, status models.CaseStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[id]
	if !ok {
		return nil
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	if status.Terminal() {
		now := time.Now()
		c.ResolvedAt = &now
	}
	return nil
}

func (f *fakeStore) UpdateCaseDetails(ctx context.Context, id uuid.UUID, priority models.CasePriority, notes, assignedTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.cases[id]; ok {
		c.Priority = priority
		c.Notes = notes
		c.AssignedTo = assignedTo
	}
	return nil
}

func (f *fakeStore) AppendCaseEvent(ctx context.Context, event *models.CaseEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event.ID = uuid.New()
	event.CreatedAt = time.Now()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeStore) ListCaseEvents(ctx context.Context, caseID uuid.UUID) ([]models.CaseEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CaseEvent
	for _, e := range f.events {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) GetViolationsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Violation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Violation
	for _, id := range ids {
		if v, ok := f.violations[id]; ok {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (f *fakeStore) AssignViolationsToCase(ctx context.Context, ids []uuid.UUID, caseID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if v, ok := f.violations[id]; ok {
			assigned := caseID
			v.CaseID = &assigned
		}
	}
	return nil
}

func (f *fakeStore) ListViolations(ctx context.Context, filters store.ListViolationFilters) ([]models.Violation, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Violation
	for _, v := range f.violations {
		if filters.CaseID != nil && (v.CaseID == nil || *v.CaseID != *filters.CaseID) {
			continue
		}
		out = append(out, *v)
	}
	return out, len(out), nil
}

func (f *fakeStore) CreateWarningLetter(ctx context.Context, letter *models.WarningLetter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	letter.ID = uuid.New()
	letter.CreatedAt = time.Now()
	copied := *letter
	f.letters[letter.ID] = &copied
	return nil
}

func (f *fakeStore) GetWarningLetter(ctx context.Context, id uuid.UUID) (*models.WarningLetter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.letters[id]
	if !ok {
		return nil, nil
	}
	copied := *l
	return &copied, nil
}

func (f *fakeStore) ListWarningLetters(ctx context.Context, caseID uuid.UUID) ([]models.WarningLetter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WarningLetter
	for _, l := range f.letters {
		if l.CaseID == caseID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkLetterSent(ctx context.Context, id uuid.UUID, via string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.letters[id]; ok && l.Status == models.LetterStatusDraft {
		l.Status = models.LetterStatusSent
		l.SentVia = via
		now := time.Now()
		l.SentAt = &now
	}
	return nil
}

func (f *fakeStore) RecordLetterResponse(ctx context.Context, id uuid.UUID, response string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.letters[id]; ok && l.Status == models.LetterStatusSent {
		l.Status = models.LetterStatusResponded
		l.Response = response
		now := time.Now()
		l.ResponseAt = &now
	}
	return nil
}

func (f *fakeStore) CreateOfficialReport(ctx context.Context, report *models.OfficialReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	report.ID = uuid.New()
	report.CreatedAt = time.Now()
	copied := *report
	f.reports[report.ID] = &copied
	return nil
}

func (f *fakeStore) GetOfficialReport(ctx context.Context, id uuid.UUID) (*models.OfficialReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok {
		return nil, nil
	}
	copied := *r
	return &copied, nil
}

func (f *fakeStore) ListOfficialReports(ctx context.Context, caseID uuid.UUID) ([]models.OfficialReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OfficialReport
	for _, r := range f.reports {
		if r.CaseID == caseID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkReportSubmitted(ctx context.Context, id uuid.UUID, confirmation string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reports[id]; ok && r.Status == models.ReportStatusDraft {
		r.Status = models.ReportStatusSubmitted
		r.ConfirmationNumber = confirmation
		now := time.Now()
		r.SubmittedAt = &now
	}
	return nil
}

func (f *fakeStore) UpdateReportOutcome(ctx context.Context, id uuid.UUID, status models.ReportStatus, platformResponse string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reports[id]; ok {
		r.Status = status
		r.PlatformResponse = platformResponse
	}
	return nil
}

func (f *fakeStore) addViolation(platform models.Platform, sellerID string, overall float64) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.violations[id] = &models.Violation{
		ID:         id,
		AssetID:    uuid.New(),
		Platform:   platform,
		ListingID:  "listing-" + id.String()[:8],
		Title:      "replica desk lamp",
		URL:        "https://example.test/item/" + id.String()[:8],
		Price:      150,
		Currency:   "TWD",
		SellerID:   sellerID,
		SellerName: "shady goods",
		Overall:    overall,
		Level:      models.SimilarityHigh,
		DetectedAt: time.Now(),
	}
	return id
}

func (f *fakeStore) eventTypes(caseID uuid.UUID) []models.CaseEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CaseEventType
	for _, e := range f.events {
		if e.CaseID == caseID {
			out = append(out, e.EventType)
		}
	}
	return out
}

func newCase(t *testing.T, svc *Service, st *fakeStore) *models.LegalCase {
	t.Helper()
	v1 := st.addViolation(models.PlatformShopee, "seller-9", 92)
	v2 := st.addViolation(models.PlatformShopee, "seller-9", 85)
	c, err := svc.Create(context.Background(), CreateCaseRequest{
		UserID:       uuid.New(),
		ViolationIDs: []uuid.UUID{v1, v2},
		CreatedBy:    "analyst",
	})
	if err != nil {
		t.Fatalf("creating case: %v", err)
	}
	return c
}

func TestCreate(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil)

	c := newCase(t, svc, st)
	if c.Status != models.CaseStatusDetected {
		t.Errorf("status = %s, want detected", c.Status)
	}
	if c.Priority != models.PriorityMedium {
		t.Errorf("priority = %s, want medium default", c.Priority)
	}
	if !strings.HasPrefix(c.CaseNumber, "IG-"+time.Now().Format("200601")+"-") {
		t.Errorf("case number %q does not follow IG-YYYYMM-NNNN", c.CaseNumber)
	}
	if c.Platform != models.PlatformShopee || c.SellerID != "seller-9" {
		t.Errorf("infringer = %s/%s, want shopee/seller-9", c.Platform, c.SellerID)
	}

	events, err := svc.Timeline(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if len(events) != 1 || events[0].EventType != models.EventCaseCreated {
		t.Errorf("timeline = %v, want single created event", events)
	}

	violations, err := svc.Violations(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Violations: %v", err)
	}
	if len(violations) != 2 {
		t.Errorf("assigned violations = %d, want 2", len(violations))
	}
}

func TestCreate_MixedInfringer(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil)

	v1 := st.addViolation(models.PlatformShopee, "seller-9", 92)
	v2 := st.addViolation(models.PlatformRuten, "seller-9", 85)
	_, err := svc.Create(context.Background(), CreateCaseRequest{
		UserID:       uuid.New(),
		ViolationIDs: []uuid.UUID{v1, v2},
	})
	if !errors.Is(err, models.ErrMixedInfringer) {
		t.Fatalf("err = %v, want ErrMixedInfringer", err)
	}
}

func TestCreate_AlreadyAssigned(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil)

	c := newCase(t, svc, st)
	v := st.addViolation(models.PlatformShopee, "seller-9", 70)
	st.mu.Lock()
	existing := c.ID
	st.violations[v].CaseID = &existing
	st.mu.Unlock()

	_, err := svc.Create(context.Background(), CreateCaseRequest{
		UserID:       uuid.New(),
		ViolationIDs: []uuid.UUID{v},
	})
	if err == nil {
		t.Fatal("expected error for already-assigned violation")
	}
}

func TestCreate_MissingViolation(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil)

	_, err := svc.Create(context.Background(), CreateCaseRequest{
		UserID:       uuid.New(),
		ViolationIDs: []uuid.UUID{uuid.New()},
	})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.CaseStatus
		want     bool
	}{
		{models.CaseStatusDetected, models.CaseStatusReviewing, true},
		{models.CaseStatusDetected, models.CaseStatusWarningSent, false},
		{models.CaseStatusDetected, models.CaseStatusDismissed, true},
		{models.CaseStatusReviewing, models.CaseStatusWarningSent, true},
		{models.CaseStatusReviewing, models.CaseStatusReported, false},
		{models.CaseStatusReviewing, models.CaseStatusResolved, false},
		{models.CaseStatusReviewing, models.CaseStatusDismissed, true},
		{models.CaseStatusWarningSent, models.CaseStatusReported, true},
		{models.CaseStatusWarningSent, models.CaseStatusResolved, false},
		{models.CaseStatusWarningSent, models.CaseStatusReviewing, false},
		{models.CaseStatusReported, models.CaseStatusResolved, true},
		{models.CaseStatusReported, models.CaseStatusWarningSent, false},
		{models.CaseStatusResolved, models.CaseStatusReviewing, false},
		{models.CaseStatusResolved, models.CaseStatusDismissed, false},
		{models.CaseStatusDismissed, models.CaseStatusReviewing, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTransition(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil)
	c := newCase(t, svc, st)

	updated, err := svc.Transition(context.Background(), c.ID, models.CaseStatusReviewing, "triaged", "analyst")
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if updated.Status != models.CaseStatusReviewing {
		t.Errorf("status = %s, want reviewing", updated.Status)
	}

	_, err = svc.Transition(context.Background(), c.ID, models.CaseStatusDetected, "", "analyst")
	var iterr *models.IllegalTransitionError
	if !errors.As(err, &iterr) {
		t.Fatalf("err = %v, want IllegalTransitionError", err)
	}
	if iterr.From != models.CaseStatusReviewing || iterr.To != models.CaseStatusDetected {
		t.Errorf("transition error = %v, want reviewing->detected", iterr)
	}
}

func TestTransition_NoSkippingSteps(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil)
	c := newCase(t, svc, st)

	if _, err := svc.Transition(context.Background(), c.ID, models.CaseStatusReviewing, "", "analyst"); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	for _, to := range []models.CaseStatus{models.CaseStatusReported, models.CaseStatusResolved} {
		_, err := svc.Transition(context.Background(), c.ID, to, "", "analyst")
		var iterr *models.IllegalTransitionError
		if !errors.As(err, &iterr) {
			t.Errorf("reviewing -> %s: err = %v, want IllegalTransitionError", to, err)
		}
	}

	got, _ := svc.Get(context.Background(), c.ID)
	if got.Status != models.CaseStatusReviewing {
		t.Errorf("status = %s, want reviewing untouched after rejected skips", got.Status)
	}
}

func TestTransition_TerminalSetsResolvedAt(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil)
	c := newCase(t, svc, st)

	updated, err := svc.Transition(context.Background(), c.ID, models.CaseStatusDismissed, "false positive", "analyst")
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if updated.ResolvedAt == nil {
		t.Error("resolved_at not set on dismissal")
	}

	if _, err := svc.Transition(context.Background(), c.ID, models.CaseStatusReviewing, "", "analyst"); err == nil {
		t.Fatal("expected error reopening a dismissed case")
	}
}

func TestAddNote(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil)
	c := newCase(t, svc, st)

	if err := svc.AddNote(context.Background(), c.ID, "seller contacted off-platform", "analyst"); err != nil {
		t.Fatalf("AddNote: %v", err)
	}
	if err := svc.AddNote(context.Background(), c.ID, "   ", "analyst"); err == nil {
		t.Fatal("expected validation error for empty note")
	}

	types := st.eventTypes(c.ID)
	if types[len(types)-1] != models.EventNoteAdded {
		t.Errorf("last event = %s, want note_added", types[len(types)-1])
	}
}

func TestLetterLifecycle(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil)
	c := newCase(t, svc, st)

	if _, err := svc.Transition(context.Background(), c.ID, models.CaseStatusReviewing, "", "analyst"); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	letter, err := svc.DraftLetter(context.Background(), c.ID, LetterRequest{
		Level: models.WarningFormal,
		Variables: map[string]string{
			"brand_name":    "Lumina",
			"deadline_days": "7",
			"sender_name":   "Lumina Legal",
		},
	})
	if err != nil {
		t.Fatalf("DraftLetter: %v", err)
	}
	if letter.Status != models.LetterStatusDraft {
		t.Errorf("status = %s, want draft", letter.Status)
	}
	if !strings.Contains(letter.Content, c.CaseNumber) {
		t.Error("letter content missing case number")
	}
	if !strings.Contains(letter.Content, "Lumina") {
		t.Error("letter content missing brand name")
	}
	if !strings.Contains(letter.Subject, c.CaseNumber) {
		t.Errorf("subject %q missing case number", letter.Subject)
	}
	// the highest scoring violation supplies the listing details
	if !strings.Contains(letter.Content, "92.0%") {
		t.Errorf("letter should cite the top similarity score, got:\n%s", letter.Content)
	}

	sent, err := svc.SendLetter(context.Background(), c.ID, letter.ID, "email", "analyst")
	if err != nil {
		t.Fatalf("SendLetter: %v", err)
	}
	if sent.Status != models.LetterStatusSent {
		t.Errorf("status = %s, want sent", sent.Status)
	}

	// sending a letter never moves the case; the operator transitions it
	got, _ := svc.Get(context.Background(), c.ID)
	if got.Status != models.CaseStatusReviewing {
		t.Errorf("case status = %s, want reviewing (unchanged) after letter", got.Status)
	}

	if _, err := svc.SendLetter(context.Background(), c.ID, letter.ID, "email", "analyst"); err == nil {
		t.Fatal("expected error re-sending a sent letter")
	}

	if err := svc.RecordResponse(context.Background(), c.ID, letter.ID, "listing removed", "analyst"); err != nil {
		t.Fatalf("RecordResponse: %v", err)
	}
	final, _ := svc.Letters(context.Background(), c.ID)
	if len(final) != 1 || final[0].Status != models.LetterStatusResponded {
		t.Errorf("letters = %+v, want one responded letter", final)
	}
}

func TestDraftLetter_UnknownLevel(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil)
	c := newCase(t, svc, st)

	if _, err := svc.DraftLetter(context.Background(), c.ID, LetterRequest{Level: "nuclear"}); err == nil {
		t.Fatal("expected error for unknown warning level")
	}
}

func TestReportLifecycle(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil)
	c := newCase(t, svc, st)

	if _, err := svc.Transition(context.Background(), c.ID, models.CaseStatusReviewing, "", "analyst"); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	report, err := svc.DraftReport(context.Background(), c.ID, ReportRequest{
		Type: models.ReportCopyright,
		Variables: map[string]string{
			"reporter_name": "Lumina Legal",
			"brand_name":    "Lumina",
		},
	})
	if err != nil {
		t.Fatalf("DraftReport: %v", err)
	}
	if report.Platform != c.Platform {
		t.Errorf("report platform = %s, want %s", report.Platform, c.Platform)
	}
	if !strings.Contains(report.Content, "COPYRIGHT INFRINGEMENT REPORT") {
		t.Error("report content missing template header")
	}

	submitted, err := svc.SubmitReport(context.Background(), c.ID, report.ID, "SP-2026-0042", "analyst")
	if err != nil {
		t.Fatalf("SubmitReport: %v", err)
	}
	if submitted.Status != models.ReportStatusSubmitted {
		t.Errorf("status = %s, want submitted", submitted.Status)
	}
	if submitted.ConfirmationNumber != "SP-2026-0042" {
		t.Errorf("confirmation = %q", submitted.ConfirmationNumber)
	}

	// filing a report never moves the case; the operator transitions it
	got, _ := svc.Get(context.Background(), c.ID)
	if got.Status != models.CaseStatusReviewing {
		t.Errorf("case status = %s, want reviewing (unchanged) after report", got.Status)
	}

	if err := svc.RecordReportOutcome(context.Background(), c.ID, report.ID, models.ReportStatusResolved, "listing removed by platform", "analyst"); err != nil {
		t.Fatalf("RecordReportOutcome: %v", err)
	}
	if err := svc.RecordReportOutcome(context.Background(), c.ID, report.ID, "bogus", "", "analyst"); err == nil {
		t.Fatal("expected validation error for bogus outcome")
	}
}

func TestTimeline_Order(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil)
	c := newCase(t, svc, st)

	if _, err := svc.Transition(context.Background(), c.ID, models.CaseStatusReviewing, "", "analyst"); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddNote(context.Background(), c.ID, "first note", "analyst"); err != nil {
		t.Fatal(err)
	}

	types := st.eventTypes(c.ID)
	want := []models.CaseEventType{models.EventCaseCreated, models.EventStatusChanged, models.EventNoteAdded}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}
