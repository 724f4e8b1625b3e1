package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

var noLog = logx.Nop()

func openTestStore(t *testing.T) reminder.Store {
	t.Helper()
	st, err := Open(Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "r.db")}, noLog)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

var base = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func TestSelectDueBoundaryIsInclusive(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	due := base.Add(90 * time.Minute)
	id, err := st.Insert(ctx, 1, "call mom", due, base)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := st.SelectDue(ctx, due)
	if err != nil {
		t.Fatalf("SelectDue: %v", err)
	}
	if len(got) != 1 || got[0].ID != id {
		t.Fatalf("SelectDue(due) = %+v, want id %d", got, id)
	}
	if !got[0].DueAt.Equal(due) || !got[0].CreatedAt.Equal(base) || got[0].Text != "call mom" {
		t.Fatalf("round trip mismatch: %+v", got[0])
	}

	got, err = st.SelectDue(ctx, due.Add(-time.Nanosecond))
	if err != nil {
		t.Fatalf("SelectDue: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("SelectDue(due-1ns) = %+v, want none", got)
	}
}

func TestDeleteForOwner(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.Insert(ctx, 10, "pay rent", base, base)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	ok, err := st.DeleteForOwner(ctx, id, 11)
	if err != nil || ok {
		t.Fatalf("wrong owner delete = %v, %v; want false, nil", ok, err)
	}
	if list, _ := st.ListByOwner(ctx, 10); len(list) != 1 {
		t.Fatalf("wrong owner mutated the store: %+v", list)
	}

	ok, err = st.DeleteForOwner(ctx, id, 10)
	if err != nil || !ok {
		t.Fatalf("first delete = %v, %v; want true, nil", ok, err)
	}
	ok, err = st.DeleteForOwner(ctx, id, 10)
	if err != nil || ok {
		t.Fatalf("second delete = %v, %v; want false, nil", ok, err)
	}
}

func TestListByOwnerOrdersByDue(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	offsets := []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour}
	for i, off := range offsets {
		if _, err := st.Insert(ctx, 5, string(rune('a'+i)), base.Add(off), base); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if _, err := st.Insert(ctx, 6, "other owner", base, base); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	list, err := st.ListByOwner(ctx, 5)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	want := []string{"b", "c", "a"}
	for i, r := range list {
		if r.Text != want[i] {
			t.Fatalf("list[%d] = %q, want %q", i, r.Text, want[i])
		}
		if r.OwnerID != 5 {
			t.Fatalf("list[%d] owner = %d", i, r.OwnerID)
		}
	}
}

func TestIDsAreNeverReused(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	first, err := st.Insert(ctx, 1, "x", base, base)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := st.DeleteByID(ctx, first); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	if err := st.DeleteByID(ctx, first); err != nil {
		t.Fatalf("DeleteByID on missing id: %v", err)
	}
	second, err := st.Insert(ctx, 1, "y", base, base)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if second <= first {
		t.Fatalf("id reused or decreased: first=%d second=%d", first, second)
	}
}

func TestConcurrentInsertAndDelete(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := st.Insert(ctx, 3, "n", base, base)
			if err != nil {
				t.Errorf("Insert: %v", err)
				return
			}
			if err := st.DeleteByID(ctx, id); err != nil {
				t.Errorf("DeleteByID: %v", err)
			}
		}()
	}
	wg.Wait()
	if list, _ := st.ListByOwner(ctx, 3); len(list) != 0 {
		t.Fatalf("leftover rows: %d", len(list))
	}
}

func TestClosedStoreReportsUnavailable(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "c.db")}, noLog)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = st.Close()

	_, err = st.Insert(context.Background(), 1, "x", base, base)
	if !errors.Is(err, reminder.ErrStorageUnavailable) {
		t.Fatalf("Insert on closed store = %v, want ErrStorageUnavailable", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "mongo"}, noLog); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "postgres"}, noLog); err == nil {
		t.Fatal("expected error for postgres without dsn")
	}
}
