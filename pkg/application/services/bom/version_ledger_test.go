package bom

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsinha/bomengine/pkg/domain/entities"
	"github.com/vsinha/bomengine/pkg/domain/repositories"
	"github.com/vsinha/bomengine/pkg/infrastructure/repositories/memory"
	testhelpers "github.com/vsinha/bomengine/pkg/infrastructure/testing"
)

var (
	jan1  = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	mar31 = time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC)
	apr1  = time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func lines(t *testing.T, pairs ...string) []entities.LineInput {
	t.Helper()
	if len(pairs)%2 != 0 {
		t.Fatal("lines needs child/quantity pairs")
	}
	out := make([]entities.LineInput, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		line, err := entities.NewLineInput(entities.ProductID(pairs[i]), pairs[i+1])
		if err != nil {
			t.Fatalf("bad line: %v", err)
		}
		out = append(out, line)
	}
	return out
}

func children(edges []*entities.CompositionEdge) string {
	ids := make([]entities.ProductID, 0, len(edges))
	for _, edge := range edges {
		ids = append(ids, edge.ChildProductID)
	}
	return fmt.Sprint(ids)
}

func TestVersionLedger_CutoverScenario(t *testing.T) {
	store := memory.NewCompositionStore()
	ledger := NewVersionLedger(store, WithClock(fixedClock(jan1)))
	ctx := context.Background()

	v1, err := ledger.CreateNewVersion(ctx, "A", lines(t, "B", "2"), nil)
	if err != nil {
		t.Fatalf("CreateNewVersion v1 failed: %v", err)
	}
	if v1.Version != 1 || !v1.ValidFrom.Equal(jan1) || v1.ValidTo != nil {
		t.Fatalf("Unexpected v1 snapshot: %+v", v1)
	}

	cutover := apr1
	v2, err := ledger.CreateNewVersion(ctx, "A", lines(t, "B", "3", "D", "1"), &cutover)
	if err != nil {
		t.Fatalf("CreateNewVersion v2 failed: %v", err)
	}
	if v2.Version != 2 || !v2.ValidFrom.Equal(apr1) || v2.LineCount != 2 {
		t.Fatalf("Unexpected v2 snapshot: %+v", v2)
	}

	before, err := ledger.SnapshotAt(ctx, "A", mar31)
	if err != nil {
		t.Fatalf("SnapshotAt failed: %v", err)
	}
	if before.Version != 1 {
		t.Errorf("Expected version 1 on 2026-03-31, got %d", before.Version)
	}
	if before.ValidTo == nil || !before.ValidTo.Equal(apr1) {
		t.Errorf("Expected version 1 to close at 2026-04-01, got %v", before.ValidTo)
	}
	if children(before.Lines) != "[B]" || !before.Lines[0].QuantityPerParent.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Expected version 1 lines [B x2], got %s", children(before.Lines))
	}

	at, err := ledger.GetVersionAt(ctx, "A", apr1)
	if err != nil {
		t.Fatalf("GetVersionAt failed: %v", err)
	}
	if children(at) != "[B D]" || at[0].Version != 2 {
		t.Errorf("Expected version 2 lines [B D] on 2026-04-01, got %s", children(at))
	}

	// no edge is ever open in two generations
	all, _ := store.FetchEdges(ctx, "A", false)
	for _, edge := range all {
		if edge.Version == 1 && (edge.ValidTo == nil || !edge.ValidTo.Equal(apr1)) {
			t.Errorf("Expected version 1 edge closed at cutover, got %v", edge.ValidTo)
		}
		if edge.Version == 2 && !edge.IsOpen() {
			t.Error("Expected version 2 edges to be open")
		}
	}
}

func TestVersionLedger_GenerationsAreContiguous(t *testing.T) {
	store := memory.NewCompositionStore()
	ledger := NewVersionLedger(store, WithClock(fixedClock(jan1)))
	ctx := context.Background()

	cutovers := []time.Time{jan1, jan1.AddDate(0, 1, 0), jan1.AddDate(0, 2, 0), apr1}
	for i, cutover := range cutovers {
		c := cutover
		if _, err := ledger.CreateNewVersion(ctx, "A", lines(t, fmt.Sprintf("P%d", i), "1"), &c); err != nil {
			t.Fatalf("CreateNewVersion %d failed: %v", i+1, err)
		}
	}

	history, err := ledger.GetVersionHistory(ctx, "A")
	if err != nil {
		t.Fatalf("GetVersionHistory failed: %v", err)
	}
	if len(history) != len(cutovers) {
		t.Fatalf("Expected %d versions, got %d", len(cutovers), len(history))
	}
	if history[0].Version != 4 || history[0].ValidTo != nil {
		t.Errorf("Expected newest version 4 to be open first, got %+v", history[0])
	}
	for i := 1; i < len(history); i++ {
		newer, older := history[i-1], history[i]
		if older.ValidTo == nil || !older.ValidTo.Equal(newer.ValidFrom) {
			t.Errorf("Version %d closes at %v, version %d opens at %v", older.Version, older.ValidTo, newer.Version, newer.ValidFrom)
		}
		if older.LineCount != 1 {
			t.Errorf("Expected version %d to have 1 line, got %d", older.Version, older.LineCount)
		}
	}
}

func TestVersionLedger_SameGenerationBetweenCutovers(t *testing.T) {
	store := memory.NewCompositionStore()
	ledger := NewVersionLedger(store, WithClock(fixedClock(jan1)))
	ctx := context.Background()

	if _, err := ledger.CreateNewVersion(ctx, "A", lines(t, "B", "1"), nil); err != nil {
		t.Fatal(err)
	}
	cutover := apr1
	if _, err := ledger.CreateNewVersion(ctx, "A", lines(t, "C", "1"), &cutover); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		d1   time.Time
		d2   time.Time
		same bool
	}{
		{"both before cutover", jan1, mar31, true},
		{"cutover inside (d1, d2]", mar31, apr1, false},
		{"both after cutover", apr1, apr1.AddDate(1, 0, 0), true},
		{"d1 before first version", jan1.Add(-time.Hour), jan1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s1, err := ledger.SnapshotAt(ctx, "A", tt.d1)
			if err != nil {
				t.Fatal(err)
			}
			s2, err := ledger.SnapshotAt(ctx, "A", tt.d2)
			if err != nil {
				t.Fatal(err)
			}
			if (s1.Version == s2.Version) != tt.same {
				t.Errorf("Expected same generation = %v, got versions %d and %d", tt.same, s1.Version, s2.Version)
			}
		})
	}
}

func TestVersionLedger_CycleRejectedAtomically(t *testing.T) {
	store, _ := testhelpers.BuildSimpleScenario()
	ledger := NewVersionLedger(store, WithClock(fixedClock(mar31)))
	ctx := context.Background()

	before, _ := store.FetchEdges(ctx, "C", false)
	cutover := apr1

	_, err := ledger.CreateNewVersion(ctx, "C", lines(t, "A", "1"), &cutover)

	var cycleErr *entities.CyclicCompositionError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected CyclicCompositionError, got %v", err)
	}
	if fmt.Sprint(cycleErr.Path) != "[A B C]" {
		t.Errorf("Expected offending path [A B C], got %v", cycleErr.Path)
	}

	after, _ := store.FetchEdges(ctx, "C", false)
	if len(before) != len(after) {
		t.Errorf("Expected no edges written for C, before %d after %d", len(before), len(after))
	}
	history, _ := ledger.GetVersionHistory(ctx, "C")
	if len(history) != 0 {
		t.Errorf("Expected no generation for C, got %d", len(history))
	}

	// a rejected new version of B leaves B's version 1 open
	_, err = ledger.CreateNewVersion(ctx, "B", lines(t, "C", "3", "A", "1"), &cutover)
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected CyclicCompositionError, got %v", err)
	}
	current, err := ledger.GetCurrentVersion(ctx, "B")
	if err != nil {
		t.Fatalf("GetCurrentVersion failed: %v", err)
	}
	if current.Version != 1 || current.ValidTo != nil || children(current.Lines) != "[C]" {
		t.Errorf("Expected B version 1 [C] to remain open, got version %d %s", current.Version, children(current.Lines))
	}
}

func TestVersionLedger_AddLineRejectsCycle(t *testing.T) {
	store, _ := testhelpers.BuildSimpleScenario()
	ledger := NewVersionLedger(store, WithClock(fixedClock(mar31)))
	ctx := context.Background()

	_, err := ledger.AddLine(ctx, "C", entities.LineInput{ChildProductID: "A", QuantityPerParent: decimal.NewFromInt(1)})
	var cycleErr *entities.CyclicCompositionError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected CyclicCompositionError, got %v", err)
	}

	edges, _ := store.FetchEdges(ctx, "C", false)
	if len(edges) != 0 {
		t.Errorf("Expected C to have no edges, got %d", len(edges))
	}
	gens, _ := store.Generations(ctx, "C")
	if len(gens) != 0 {
		t.Errorf("Expected no generation created for C, got %d", len(gens))
	}
}

func TestVersionLedger_EmptyVersion(t *testing.T) {
	store, _ := testhelpers.BuildSimpleScenario()
	ledger := NewVersionLedger(store, WithClock(fixedClock(mar31)))
	ctx := context.Background()

	cutover := apr1
	snapshot, err := ledger.CreateNewVersion(ctx, "A", nil, &cutover)
	if err != nil {
		t.Fatalf("CreateNewVersion with no lines failed: %v", err)
	}
	if snapshot.Version != 2 || snapshot.LineCount != 0 {
		t.Errorf("Expected empty version 2, got %+v", snapshot)
	}

	tree, err := NewTreeExploder(ledger, DefaultMaxDepth).Explode(ctx, "A", apr1)
	if err != nil {
		t.Fatalf("Explode failed: %v", err)
	}
	if !tree.IsLeaf() {
		t.Error("Expected A to be a leaf after an empty version")
	}

	history, _ := ledger.GetVersionHistory(ctx, "A")
	if len(history) != 2 || history[0].LineCount != 0 || history[1].LineCount != 1 {
		t.Errorf("Unexpected history: %+v", history)
	}
}

func TestVersionLedger_UnknownParent(t *testing.T) {
	ledger := NewVersionLedger(memory.NewCompositionStore())
	ctx := context.Background()

	history, err := ledger.GetVersionHistory(ctx, "GHOST")
	if err != nil {
		t.Fatalf("Expected no error for an unknown parent, got %v", err)
	}
	if history == nil || len(history) != 0 {
		t.Errorf("Expected empty history, got %v", history)
	}

	got, err := ledger.GetVersionAt(ctx, "GHOST", apr1)
	if err != nil {
		t.Fatalf("Expected no error for an unknown parent, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no lines, got %d", len(got))
	}

	current, err := ledger.GetCurrentVersion(ctx, "GHOST")
	if err != nil {
		t.Fatalf("Expected no error for an unknown parent, got %v", err)
	}
	if current.Version != 0 {
		t.Errorf("Expected version 0 for an unknown parent, got %d", current.Version)
	}
}

func TestVersionLedger_CreateNewVersionValidation(t *testing.T) {
	store, _ := testhelpers.BuildSimpleScenario()
	ledger := NewVersionLedger(store, WithClock(fixedClock(mar31)))
	ctx := context.Background()

	early := testhelpers.FixtureEpoch
	tests := []struct {
		name    string
		parent  entities.ProductID
		lines   []entities.LineInput
		cutover *time.Time
	}{
		{"empty parent", "", lines(t, "B", "1"), nil},
		{"self reference", "A", lines(t, "A", "1"), nil},
		{"zero quantity", "A", lines(t, "B", "0"), nil},
		{"negative quantity", "A", lines(t, "B", "-2"), nil},
		{"duplicate child", "A", lines(t, "B", "1", "B", "2"), nil},
		{"cutover not after current version", "A", lines(t, "B", "1"), &early},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.CreateNewVersion(ctx, tt.parent, tt.lines, tt.cutover)
			var validationErr *entities.ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
		})
	}

	current, _ := ledger.GetCurrentVersion(ctx, "A")
	if current.Version != 1 {
		t.Errorf("Expected A to stay on version 1, got %d", current.Version)
	}
}

func TestVersionLedger_LineEditing(t *testing.T) {
	store := memory.NewCompositionStore()
	ledger := NewVersionLedger(store, WithClock(fixedClock(jan1)))
	ctx := context.Background()

	b, err := ledger.AddLine(ctx, "A", entities.LineInput{ChildProductID: "B", QuantityPerParent: decimal.NewFromInt(2)})
	if err != nil {
		t.Fatalf("AddLine failed: %v", err)
	}
	if b.Version != 1 || !b.ValidFrom.Equal(jan1) || !b.IsOpen() {
		t.Errorf("Expected first line to open version 1, got %+v", b)
	}

	c, err := ledger.AddLine(ctx, "A", entities.LineInput{ChildProductID: "C", QuantityPerParent: decimal.NewFromInt(1)})
	if err != nil {
		t.Fatalf("AddLine failed: %v", err)
	}
	if c.Version != 1 {
		t.Errorf("Expected second line to join version 1, got %d", c.Version)
	}

	_, err = ledger.AddLine(ctx, "A", entities.LineInput{ChildProductID: "B", QuantityPerParent: decimal.NewFromInt(1)})
	var validationErr *entities.ValidationError
	if !errors.As(err, &validationErr) {
		t.Errorf("Expected ValidationError for a duplicate child, got %v", err)
	}

	five := decimal.NewFromInt(5)
	updated, err := ledger.UpdateLine(ctx, b.ID, entities.LineUpdate{QuantityPerParent: &five})
	if err != nil {
		t.Fatalf("UpdateLine failed: %v", err)
	}
	if !updated.QuantityPerParent.Equal(five) || updated.Version != 1 {
		t.Errorf("Expected B x5 in version 1, got %s in %d", updated.QuantityPerParent, updated.Version)
	}

	c2 := entities.ProductID("B")
	_, err = ledger.UpdateLine(ctx, c.ID, entities.LineUpdate{ChildProductID: &c2})
	if !errors.As(err, &validationErr) {
		t.Errorf("Expected ValidationError moving C onto existing child B, got %v", err)
	}

	removed, err := ledger.RemoveLine(ctx, c.ID)
	if err != nil {
		t.Fatalf("RemoveLine failed: %v", err)
	}
	if removed.Active {
		t.Error("Expected removed line to be inactive")
	}

	current, _ := ledger.GetCurrentVersion(ctx, "A")
	if current.Version != 1 || children(current.Lines) != "[B]" {
		t.Errorf("Expected version 1 [B] after soft delete, got %d %s", current.Version, children(current.Lines))
	}

	var notFound *entities.NotFoundError
	if _, err := ledger.RemoveLine(ctx, c.ID); !errors.As(err, &notFound) {
		t.Errorf("Expected NotFoundError removing a removed line, got %v", err)
	}

	// soft-deleted lines stay out of history line counts
	history, _ := ledger.GetVersionHistory(ctx, "A")
	if len(history) != 1 || history[0].LineCount != 1 {
		t.Errorf("Unexpected history after soft delete: %+v", history)
	}
}

func TestVersionLedger_ClosedLinesAreImmutable(t *testing.T) {
	store, _ := testhelpers.BuildSimpleScenario()
	ledger := NewVersionLedger(store, WithClock(fixedClock(mar31)))
	ctx := context.Background()

	old, _ := store.FetchEdges(ctx, "A", true)
	cutover := apr1
	if _, err := ledger.CreateNewVersion(ctx, "A", lines(t, "B", "4"), &cutover); err != nil {
		t.Fatalf("CreateNewVersion failed: %v", err)
	}

	one := decimal.NewFromInt(1)
	_, err := ledger.UpdateLine(ctx, old[0].ID, entities.LineUpdate{QuantityPerParent: &one})
	var validationErr *entities.ValidationError
	if !errors.As(err, &validationErr) {
		t.Errorf("Expected ValidationError updating a closed line, got %v", err)
	}
	if _, err := ledger.RemoveLine(ctx, old[0].ID); !errors.As(err, &validationErr) {
		t.Errorf("Expected ValidationError removing a closed line, got %v", err)
	}
}

// conflictingStore makes the first few generation inserts lose a version race
type conflictingStore struct {
	repositories.CompositionStore
	mu       sync.Mutex
	failures int
	attempts int

	editFailures int
	edits        int
}

func (s *conflictingStore) nextEditFails() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits++
	return s.edits <= s.editFailures
}

func (s *conflictingStore) nextInsertFails() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	return s.attempts <= s.failures
}

func (s *conflictingStore) InsertGeneration(ctx context.Context, gen *entities.Generation) error {
	if s.nextInsertFails() {
		return &entities.VersionConflictError{ParentProductID: gen.ParentProductID, Version: gen.Version}
	}
	return s.CompositionStore.InsertGeneration(ctx, gen)
}

func (s *conflictingStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.CompositionStore) error) error {
	return s.CompositionStore.WithinTransaction(ctx, func(ctx context.Context, tx repositories.CompositionStore) error {
		return fn(ctx, &conflictingTx{CompositionStore: tx, store: s})
	})
}

type conflictingTx struct {
	repositories.CompositionStore
	store *conflictingStore
}

func (t *conflictingTx) InsertGeneration(ctx context.Context, gen *entities.Generation) error {
	if t.store.nextInsertFails() {
		return &entities.VersionConflictError{ParentProductID: gen.ParentProductID, Version: gen.Version}
	}
	return t.CompositionStore.InsertGeneration(ctx, gen)
}

func (t *conflictingTx) UpdateEdge(ctx context.Context, edge *entities.CompositionEdge) error {
	if t.store.nextEditFails() {
		return &entities.VersionConflictError{ParentProductID: edge.ParentProductID, Version: edge.Version}
	}
	return t.CompositionStore.UpdateEdge(ctx, edge)
}

func TestVersionLedger_RetriesVersionConflicts(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		retries  int
		wantErr  bool
	}{
		{"succeeds after two conflicts", 2, 3, false},
		{"succeeds on last retry", 3, 3, false},
		{"gives up after retries", 4, 3, true},
		{"no retries", 1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &conflictingStore{CompositionStore: memory.NewCompositionStore(), failures: tt.failures}
			ledger := NewVersionLedger(store, WithClock(fixedClock(jan1)), WithRetries(tt.retries))

			snapshot, err := ledger.CreateNewVersion(context.Background(), "A", lines(t, "B", "1"), nil)
			if tt.wantErr {
				var conflict *entities.VersionConflictError
				if !errors.As(err, &conflict) {
					t.Fatalf("Expected VersionConflictError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected success after retries, got %v", err)
			}
			if snapshot.Version != 1 {
				t.Errorf("Expected version 1, got %d", snapshot.Version)
			}
		})
	}
}

func TestVersionLedger_LineEditsRetryVersionConflicts(t *testing.T) {
	store := &conflictingStore{CompositionStore: memory.NewCompositionStore(), editFailures: 2}
	ledger := NewVersionLedger(store, WithClock(fixedClock(jan1)), WithRetries(3))
	ctx := context.Background()

	snapshot, err := ledger.CreateNewVersion(ctx, "A", lines(t, "B", "1", "C", "1"), nil)
	if err != nil {
		t.Fatalf("CreateNewVersion failed: %v", err)
	}

	five := decimal.NewFromInt(5)
	updated, err := ledger.UpdateLine(ctx, snapshot.Lines[0].ID, entities.LineUpdate{QuantityPerParent: &five})
	if err != nil {
		t.Fatalf("Expected UpdateLine to succeed after conflicts, got %v", err)
	}
	if !updated.QuantityPerParent.Equal(five) {
		t.Errorf("Expected quantity 5, got %s", updated.QuantityPerParent)
	}

	store.editFailures, store.edits = 5, 0
	_, err = ledger.RemoveLine(ctx, snapshot.Lines[1].ID)
	var conflict *entities.VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Expected VersionConflictError once retries run out, got %v", err)
	}
	current, _ := ledger.GetCurrentVersion(ctx, "A")
	if current.LineCount != 2 {
		t.Errorf("Expected both lines still active, got %d", current.LineCount)
	}
}

func TestVersionLedger_BackdatedCutoverChecksLaterGenerations(t *testing.T) {
	store := memory.NewCompositionStore()
	jun1 := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	ledger := NewVersionLedger(store, WithClock(fixedClock(jun1)))
	ctx := context.Background()

	mar1 := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	may1 := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	start := jan1
	for _, step := range []struct {
		parent entities.ProductID
		lines  []entities.LineInput
		at     time.Time
	}{
		{"A", lines(t, "X", "1"), start},
		{"B", lines(t, "C", "1"), start},
		{"B", lines(t, "A", "1"), may1},
	} {
		at := step.at
		if _, err := ledger.CreateNewVersion(ctx, step.parent, step.lines, &at); err != nil {
			t.Fatalf("CreateNewVersion(%s) failed: %v", step.parent, err)
		}
	}

	// B -> A only holds from May 1, after the backdated cutover
	_, err := ledger.CreateNewVersion(ctx, "A", lines(t, "B", "1"), &mar1)
	var cycleErr *entities.CyclicCompositionError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected CyclicCompositionError, got %v", err)
	}
	if fmt.Sprint(cycleErr.Path) != "[B A]" {
		t.Errorf("Expected offending path [B A], got %v", cycleErr.Path)
	}

	current, _ := ledger.GetCurrentVersion(ctx, "A")
	if current.Version != 1 || children(current.Lines) != "[X]" {
		t.Errorf("Expected A version 1 [X] to remain current, got version %d %s", current.Version, children(current.Lines))
	}

	exploder := NewTreeExploder(ledger, 10)
	if _, err := exploder.Explode(ctx, "A", jun1); err != nil {
		t.Errorf("Expected A to explode cleanly, got %v", err)
	}
}

func TestVersionLedger_AddLineChecksScheduledVersions(t *testing.T) {
	store := memory.NewCompositionStore()
	ledger := NewVersionLedger(store, WithClock(fixedClock(mar31)))
	ctx := context.Background()

	sep1 := time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)
	start := jan1
	if _, err := ledger.CreateNewVersion(ctx, "A", lines(t, "X", "1"), &start); err != nil {
		t.Fatalf("CreateNewVersion failed: %v", err)
	}
	if _, err := ledger.CreateNewVersion(ctx, "A", lines(t, "B", "1"), &sep1); err != nil {
		t.Fatalf("CreateNewVersion failed: %v", err)
	}

	_, err := ledger.AddLine(ctx, "B", entities.LineInput{ChildProductID: "A", QuantityPerParent: decimal.NewFromInt(1)})
	var cycleErr *entities.CyclicCompositionError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected CyclicCompositionError from the September version of A, got %v", err)
	}
	if gens, _ := store.Generations(ctx, "B"); len(gens) != 0 {
		t.Errorf("Expected no generation created for B, got %d", len(gens))
	}

	exploder := NewTreeExploder(ledger, 10)
	if _, err := exploder.Explode(ctx, "A", sep1); err != nil {
		t.Errorf("Expected A to explode cleanly in September, got %v", err)
	}
}

func TestVersionLedger_EndedLinkIsNotACycle(t *testing.T) {
	store := memory.NewCompositionStore()
	ledger := NewVersionLedger(store, WithClock(fixedClock(mar31)))
	ctx := context.Background()

	sep1 := time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)
	oct1 := time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)
	start := jan1
	if _, err := ledger.CreateNewVersion(ctx, "B", lines(t, "A", "1"), &start); err != nil {
		t.Fatalf("CreateNewVersion failed: %v", err)
	}
	if _, err := ledger.CreateNewVersion(ctx, "B", nil, &sep1); err != nil {
		t.Fatalf("CreateNewVersion failed: %v", err)
	}

	// B stops using A from September, so A may use B from October
	if _, err := ledger.CreateNewVersion(ctx, "A", lines(t, "B", "1"), &oct1); err != nil {
		t.Fatalf("Expected A -> B from October to be accepted, got %v", err)
	}
}
