package history

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/inkwell/pkg/action"

	ierrors "github.com/vango-dev/inkwell/internal/errors"
)

func stroke(producer, id string) action.Draft {
	return action.Draft{
		ID:         id,
		ProducerID: producer,
		Kind: action.Stroke{
			Tool:   action.ToolPen,
			Points: []action.Point{{X: 1, Y: 1}},
			Color:  "#000",
			Width:  1,
		},
	}
}

func activeIDs(s Snapshot) []string {
	ids := make([]string, len(s.Active))
	for i, a := range s.Active {
		ids[i] = a.ID
	}
	return ids
}

func mustAppend(t *testing.T, e *Engine, d action.Draft) Result {
	t.Helper()
	res, err := e.Append(d)
	if err != nil {
		t.Fatalf("Append(%s) error: %v", d.ID, err)
	}
	return res
}

func TestEngine_AppendAdvancesCursor(t *testing.T) {
	e := New("room", 10)
	res := mustAppend(t, e, stroke("p1", "a"))

	if res.Cursor != 0 || res.Length != 1 || res.Revision != 1 {
		t.Errorf("got cursor=%d length=%d revision=%d, want 0/1/1", res.Cursor, res.Length, res.Revision)
	}
	if res.Action.Index != 0 {
		t.Errorf("expected index 0, got %d", res.Action.Index)
	}
	if res.Action.RoomID != "room" {
		t.Errorf("expected room id stamped, got %q", res.Action.RoomID)
	}
	if res.Action.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be stamped")
	}
}

func TestEngine_AppendRejectsInvalid(t *testing.T) {
	e := New("room", 10)
	bad := action.Draft{ProducerID: "p1", Kind: action.Stroke{Tool: action.ToolPen, Color: "#000", Width: 1}}

	_, err := e.Append(bad)
	if !errors.Is(err, ierrors.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
	if e.Len() != 0 || e.Revision() != 0 {
		t.Errorf("invalid action must not be stored: len=%d revision=%d", e.Len(), e.Revision())
	}
}

func TestEngine_AppendAssignsMissingID(t *testing.T) {
	e := New("room", 10)
	res := mustAppend(t, e, stroke("p1", ""))
	if res.Action.ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestEngine_UndoIsAuthorAgnostic(t *testing.T) {
	e := New("room", 10)
	mustAppend(t, e, stroke("client-1", "A"))
	mustAppend(t, e, stroke("client-2", "B"))

	res, err := e.Undo()
	if err != nil {
		t.Fatalf("Undo error: %v", err)
	}
	if res.Action.ID != "B" {
		t.Errorf("undo removed %q, want B (the chronologically last)", res.Action.ID)
	}
	if got := activeIDs(e.Snapshot()); len(got) != 1 || got[0] != "A" {
		t.Errorf("active = %v, want [A]", got)
	}
}

func TestEngine_RedoReinstatesExactly(t *testing.T) {
	e := New("room", 10)
	mustAppend(t, e, stroke("p1", "A"))
	before := e.Snapshot()

	if _, err := e.Undo(); err != nil {
		t.Fatalf("Undo error: %v", err)
	}
	res, err := e.Redo()
	if err != nil {
		t.Fatalf("Redo error: %v", err)
	}
	if res.Action.ID != "A" {
		t.Errorf("redo returned %q, want A", res.Action.ID)
	}

	after := e.Snapshot()
	if fmt.Sprint(activeIDs(before)) != fmt.Sprint(activeIDs(after)) {
		t.Errorf("active after redo = %v, want %v", activeIDs(after), activeIDs(before))
	}
	if after.Cursor != before.Cursor || after.Length != before.Length {
		t.Errorf("cursor/length after redo = %d/%d, want %d/%d", after.Cursor, after.Length, before.Cursor, before.Length)
	}
	if after.Revision != before.Revision+2 {
		t.Errorf("revision = %d, want %d", after.Revision, before.Revision+2)
	}
}

func TestEngine_NewAppendInvalidatesRedo(t *testing.T) {
	e := New("room", 10)
	mustAppend(t, e, stroke("p1", "A"))
	if _, err := e.Undo(); err != nil {
		t.Fatalf("Undo error: %v", err)
	}
	res := mustAppend(t, e, stroke("p1", "B"))
	if res.Action.Index != 0 {
		t.Errorf("B should take the discarded slot, got index %d", res.Action.Index)
	}

	_, err := e.Redo()
	if !errors.Is(err, ierrors.ErrNothingToRedo) {
		t.Fatalf("expected ErrNothingToRedo, got %v", err)
	}
	if e.Len() != 1 {
		t.Errorf("expected redo tail discarded, len=%d", e.Len())
	}
}

func TestEngine_NothingToUndo(t *testing.T) {
	e := New("room", 10)
	_, err := e.Undo()
	if !errors.Is(err, ierrors.ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}
	if e.Revision() != 0 {
		t.Errorf("failed undo must not bump revision")
	}

	mustAppend(t, e, stroke("p1", "A"))
	if _, err := e.Undo(); err != nil {
		t.Fatalf("Undo error: %v", err)
	}
	if _, err := e.Undo(); !errors.Is(err, ierrors.ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo at cursor -1, got %v", err)
	}
	if e.Cursor() != -1 || e.Len() != 1 {
		t.Errorf("cursor=%d len=%d, want -1/1 (undo never truncates)", e.Cursor(), e.Len())
	}
}

func TestEngine_ClearIsUndoable(t *testing.T) {
	e := New("room", 10)
	mustAppend(t, e, stroke("p1", "A"))
	mustAppend(t, e, stroke("p2", "B"))

	res, err := e.Clear("p1", "C")
	if err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	if res.Op != OpClear || !res.Action.IsClear() {
		t.Fatalf("expected clear result, got op=%v kind=%v", res.Op, res.Action.Tag())
	}

	snap := e.Snapshot()
	if len(snap.Active) != 3 {
		t.Fatalf("clear must not delete prior entries, active len=%d", len(snap.Active))
	}

	undo, err := e.Undo()
	if err != nil || undo.Action.ID != "C" {
		t.Fatalf("undo of clear = %v, %v", undo.Action.ID, err)
	}
	if got := activeIDs(e.Snapshot()); fmt.Sprint(got) != "[A B]" {
		t.Errorf("active after undoing clear = %v, want [A B]", got)
	}
}

func TestEngine_BoundedHistory(t *testing.T) {
	const maxSize, k = 5, 3
	e := New("room", maxSize)

	var last Result
	evicted := 0
	for i := 0; i < maxSize+k; i++ {
		last = mustAppend(t, e, stroke("p1", fmt.Sprintf("a%d", i)))
		evicted += last.Evicted
	}

	if e.Len() != maxSize {
		t.Fatalf("len = %d, want %d", e.Len(), maxSize)
	}
	if evicted != k {
		t.Errorf("evicted = %d, want %d", evicted, k)
	}
	if e.Cursor() != maxSize-1 {
		t.Errorf("cursor = %d, want %d", e.Cursor(), maxSize-1)
	}
	if e.Base() != k {
		t.Errorf("base = %d, want %d", e.Base(), k)
	}
	if last.Action.Index != int64(maxSize+k-1) {
		t.Errorf("last index = %d, want %d", last.Action.Index, maxSize+k-1)
	}

	snap := e.Snapshot()
	got := activeIDs(snap)
	want := "[a3 a4 a5 a6 a7]"
	if fmt.Sprint(got) != want {
		t.Errorf("active = %v, want %s", got, want)
	}
	if snap.Base != k || snap.Active[0].Index != k {
		t.Errorf("snapshot base = %d, first index = %d, want %d", snap.Base, snap.Active[0].Index, k)
	}
}

func TestEngine_EvictionWithRedoTail(t *testing.T) {
	e := New("room", 3)
	for i := 0; i < 3; i++ {
		mustAppend(t, e, stroke("p1", fmt.Sprintf("a%d", i)))
	}
	if _, err := e.Undo(); err != nil {
		t.Fatal(err)
	}
	// Redo tail is discarded first, so the buffer is not full and nothing is evicted.
	res := mustAppend(t, e, stroke("p1", "b"))
	if res.Evicted != 0 {
		t.Errorf("expected no eviction, got %d", res.Evicted)
	}
	if got := fmt.Sprint(activeIDs(e.Snapshot())); got != "[a0 a1 b]" {
		t.Errorf("active = %s, want [a0 a1 b]", got)
	}

	res = mustAppend(t, e, stroke("p1", "c"))
	if res.Evicted != 1 || res.Cursor != 2 || res.Length != 3 {
		t.Errorf("got evicted=%d cursor=%d len=%d", res.Evicted, res.Cursor, res.Length)
	}
	if got := fmt.Sprint(activeIDs(e.Snapshot())); got != "[a1 b c]" {
		t.Errorf("active = %s, want [a1 b c]", got)
	}
}

// pointCount sizes an action by its number of points, at least one.
func pointCount(a action.Action) int {
	if s, ok := a.Kind.(action.Stroke); ok && len(s.Points) > 0 {
		return len(s.Points)
	}
	return 1
}

func strokeOf(id string, points int) action.Draft {
	d := stroke("p1", id)
	s := d.Kind.(action.Stroke)
	s.Points = make([]action.Point, points)
	d.Kind = s
	return d
}

func TestEngine_SizeBudgetEvictsOldest(t *testing.T) {
	e := New("room", 100, WithSizeBudget(10, pointCount))
	mustAppend(t, e, strokeOf("a", 4))
	mustAppend(t, e, strokeOf("b", 4))

	// 8 used; dropping a alone leaves room for 6.
	res := mustAppend(t, e, strokeOf("c", 6))
	if res.Evicted != 1 {
		t.Errorf("evicted = %d, want 1", res.Evicted)
	}
	if got := fmt.Sprint(activeIDs(e.Snapshot())); got != "[b c]" {
		t.Errorf("active = %s, want [b c]", got)
	}
	if e.Used() != 10 {
		t.Errorf("used = %d, want 10", e.Used())
	}

	res = mustAppend(t, e, strokeOf("d", 9))
	if res.Evicted != 2 || res.Cursor != 0 || res.Length != 1 {
		t.Errorf("got evicted=%d cursor=%d len=%d, want 2/0/1", res.Evicted, res.Cursor, res.Length)
	}
	if res.Action.Index != 3 || e.Base() != 3 {
		t.Errorf("index = %d base = %d, want 3/3", res.Action.Index, e.Base())
	}
}

func TestEngine_SizeBudgetReleasesRedoTail(t *testing.T) {
	e := New("room", 100, WithSizeBudget(10, pointCount))
	mustAppend(t, e, strokeOf("a", 4))
	mustAppend(t, e, strokeOf("b", 5))
	if _, err := e.Undo(); err != nil {
		t.Fatal(err)
	}

	res := mustAppend(t, e, strokeOf("c", 6))
	if res.Evicted != 0 {
		t.Errorf("evicted = %d, want 0", res.Evicted)
	}
	if e.Used() != 10 {
		t.Errorf("used = %d, want 10", e.Used())
	}
}

func TestEngine_SizeBudgetRejectsOversized(t *testing.T) {
	e := New("room", 100, WithSizeBudget(10, pointCount))
	mustAppend(t, e, strokeOf("a", 4))

	_, err := e.Append(strokeOf("huge", 11))
	if !errors.Is(err, ierrors.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
	if e.Len() != 1 || e.Revision() != 1 {
		t.Errorf("history changed: len=%d revision=%d", e.Len(), e.Revision())
	}
}

func TestEngine_EpochIsStampedEverywhere(t *testing.T) {
	e := New("room", 10, WithEpoch("ep1"))
	res := mustAppend(t, e, stroke("p1", "a"))
	if res.Epoch != "ep1" {
		t.Errorf("append epoch = %q", res.Epoch)
	}
	undo, _ := e.Undo()
	redo, _ := e.Redo()
	if undo.Epoch != "ep1" || redo.Epoch != "ep1" || e.Snapshot().Epoch != "ep1" {
		t.Errorf("epochs = %q %q %q", undo.Epoch, redo.Epoch, e.Snapshot().Epoch)
	}

	if New("room", 10).Epoch() == New("room", 10).Epoch() {
		t.Error("expected distinct default epochs")
	}
}

func TestEngine_AppendCopiesPoints(t *testing.T) {
	e := New("room", 10)
	d := stroke("p1", "A")
	mustAppend(t, e, d)

	d.Kind.(action.Stroke).Points[0].X = 42
	got := e.Snapshot().Active[0].Kind.(action.Stroke).Points[0].X
	if got == 42 {
		t.Fatal("stored action shares points with producer input")
	}
}

func TestEngine_WithClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := New("room", 10, WithClock(func() time.Time { return fixed }))
	res := mustAppend(t, e, stroke("p1", "A"))
	if !res.Action.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", res.Action.CreatedAt, fixed)
	}
}

func TestEngine_ConcurrentMutationsAreLinearized(t *testing.T) {
	e := New("room", 1000)
	const writers, perWriter = 8, 50

	var wg sync.WaitGroup
	revisions := make(chan uint64, writers*perWriter*2)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				res, err := e.Append(stroke(fmt.Sprintf("p%d", w), ""))
				if err != nil {
					t.Errorf("Append error: %v", err)
					return
				}
				revisions <- res.Revision
				if i%5 == 0 {
					if res, err := e.Undo(); err == nil {
						revisions <- res.Revision
					}
				}
				_ = e.Snapshot()
			}
		}(w)
	}
	wg.Wait()
	close(revisions)

	seen := make(map[uint64]bool)
	for r := range revisions {
		if seen[r] {
			t.Fatalf("revision %d handed out twice", r)
		}
		seen[r] = true
	}
	if uint64(len(seen)) != e.Revision() {
		t.Errorf("saw %d revisions, engine at %d", len(seen), e.Revision())
	}

	snap := e.Snapshot()
	for i, a := range snap.Active {
		if a.Index != snap.Active[0].Index+int64(i) {
			t.Fatalf("active slice indices not contiguous at %d", i)
		}
	}
}
