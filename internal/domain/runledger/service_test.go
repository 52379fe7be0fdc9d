package runledger

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/curation/internal/domain/exclusion"
)

// ── Mock Repositories ──

type mockRunRepo struct {
	store   map[uuid.UUID]*Run
	updates int
}

func newMockRunRepo() *mockRunRepo {
	return &mockRunRepo{store: make(map[uuid.UUID]*Run)}
}

func (m *mockRunRepo) Create(_ context.Context, r *Run) error {
	r.ID = uuid.New()
	cp := *r
	m.store[r.ID] = &cp
	return nil
}

func (m *mockRunRepo) GetByID(_ context.Context, id uuid.UUID) (*Run, error) {
	r, ok := m.store[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRunRepo) MarkEnded(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r, ok := m.store[id]
	if !ok || r.EndedAt != nil {
		return false, nil
	}
	m.updates++
	r.EndedAt = &at
	return true, nil
}

func (m *mockRunRepo) List(_ context.Context, limit, offset int) ([]*Run, int, error) {
	var all []*Run
	for _, r := range m.store {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockRunRepo) ListUnfinished(_ context.Context) ([]*Run, error) {
	var out []*Run
	for _, r := range m.store {
		if r.EndedAt == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockCodeRepo struct {
	rows []RunCode
}

func (m *mockCodeRepo) InsertBatch(_ context.Context, codes []RunCode) (int64, error) {
	m.rows = append(m.rows, codes...)
	return int64(len(codes)), nil
}

func (m *mockCodeRepo) ListByRun(_ context.Context, id uuid.UUID) ([]*RunCode, error) {
	var out []*RunCode
	for i := range m.rows {
		if m.rows[i].RunID == id {
			out = append(out, &m.rows[i])
		}
	}
	return out, nil
}

func newTestLedger() (*Ledger, *mockRunRepo, *mockCodeRepo) {
	runs := newMockRunRepo()
	codes := &mockCodeRepo{}
	return NewLedger(runs, codes, zerolog.Nop()), runs, codes
}

type filterOptions struct {
	Origin         string   `json:"origin,omitempty"`
	IncludeSurveys []string `json:"include_surveys,omitempty"`
}

func TestLedger_StartAndEnd(t *testing.T) {
	l, runs, _ := newTestLedger()
	ctx := context.Background()
	started := time.Date(2022, time.April, 2, 6, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return started }
	cutoff := time.Date(2022, time.April, 1, 0, 0, 0, 0, time.UTC)

	id, err := l.StartRun(ctx, &cutoff, "v5.2022-03", filterOptions{Origin: "vibrent"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, err := l.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if r.Finished() {
		t.Error("new run must be open")
	}
	if !r.StartedAt.Equal(started) || !r.Cutoff.Equal(cutoff) || r.VocabularyVersion != "v5.2022-03" {
		t.Errorf("unexpected run %+v", r)
	}
	var opts filterOptions
	if err := json.Unmarshal(r.FilterOptions, &opts); err != nil || opts.Origin != "vibrent" {
		t.Errorf("filter options not stored: %s (%v)", r.FilterOptions, err)
	}

	unfinished, _ := l.ListUnfinished(ctx)
	if len(unfinished) != 1 {
		t.Errorf("expected 1 unfinished run, got %d", len(unfinished))
	}

	l.now = func() time.Time { return started.Add(time.Hour) }
	if err := l.EndRun(ctx, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, _ = l.Get(ctx, id)
	if !r.Finished() || !r.EndedAt.Equal(started.Add(time.Hour)) {
		t.Errorf("expected run to be finished, got %+v", r)
	}
	if unfinished, _ := l.ListUnfinished(ctx); len(unfinished) != 0 {
		t.Errorf("expected no unfinished runs, got %d", len(unfinished))
	}

	if err := l.EndRun(ctx, id); !errors.Is(err, ErrRunAlreadyEnded) {
		t.Errorf("expected ErrRunAlreadyEnded, got %v", err)
	}
	if runs.updates != 1 {
		t.Errorf("expected exactly one update, got %d", runs.updates)
	}
}

func TestLedger_EndUnknownRun(t *testing.T) {
	l, _, _ := newTestLedger()
	if err := l.EndRun(context.Background(), uuid.New()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestLedger_SnapshotExcludedCodes(t *testing.T) {
	l, _, codes := newTestLedger()
	ctx := context.Background()
	id, err := l.StartRun(ctx, nil, "", nil)
	if err != nil {
		t.Fatal(err)
	}

	excluded := []exclusion.Code{{Type: exclusion.CodeTypeQuestion, Value: "Q1"}}
	included := []exclusion.Code{
		{Type: exclusion.CodeTypeModule, Value: "TheBasics"},
		{Type: exclusion.CodeTypeQuestion, Value: "Q4"},
	}
	n, err := l.SnapshotExcludedCodes(ctx, id, excluded, included)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 rows, got %d", n)
	}

	got, err := l.Codes(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	var flat []RunCode
	for _, c := range got {
		flat = append(flat, *c)
	}
	want := []RunCode{
		{RunID: id, CodeType: exclusion.CodeTypeQuestion, CodeValue: "Q1", Included: false},
		{RunID: id, CodeType: exclusion.CodeTypeModule, CodeValue: "TheBasics", Included: true},
		{RunID: id, CodeType: exclusion.CodeTypeQuestion, CodeValue: "Q4", Included: true},
	}
	if diff := cmp.Diff(want, flat); diff != "" {
		t.Errorf("codes mismatch (-want +got):\n%s", diff)
	}
	if len(codes.rows) != 3 {
		t.Errorf("expected 3 stored rows, got %d", len(codes.rows))
	}
}

func TestLedger_CodesUnknownRun(t *testing.T) {
	l, _, _ := newTestLedger()
	if _, err := l.Codes(context.Background(), uuid.New()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestLedger_StartRunBadOptions(t *testing.T) {
	l, _, _ := newTestLedger()
	if _, err := l.StartRun(context.Background(), nil, "", make(chan int)); err == nil {
		t.Fatal("expected error for unencodable filter options")
	}
}
