package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "arrsweep/pkg/logx"
)

func TestOpenMissingFileStartsFresh(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "state.json"), logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.View(func(st *State) {
		if len(st.Bags) != 0 || len(st.Cooldowns) != 0 {
			t.Fatalf("fresh state not empty: %+v", st)
		}
	})
}

func TestOpenCorruptFileStartsFresh(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := Open(path, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.View(func(st *State) {
		if len(st.Bags) != 0 {
			t.Fatalf("corrupt file should yield empty state: %+v", st)
		}
	})
}

func TestUpdatePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	at := time.Date(2026, 8, 1, 6, 30, 0, 0, time.UTC)
	err = s.Update(func(st *State) {
		st.BagFor("show/search").Remaining = []int64{3, 1, 2}
		st.SetLastRun("show/search", at)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	s2, err := Open(path, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s2.View(func(st *State) {
		b := st.BagFor("show/search")
		if len(b.Remaining) != 3 || b.Remaining[0] != 3 || b.Remaining[1] != 1 || b.Remaining[2] != 2 {
			t.Fatalf("bag order not preserved: %v", b.Remaining)
		}
		if got := st.CooldownFor("show/search").LastRunAt; !got.Equal(at) {
			t.Fatalf("last_run_at = %v, want %v", got, at)
		}
	})
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s, err := Open(path, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("state file missing after save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestNormalizeRepairsNilMaps(t *testing.T) {
	t.Parallel()

	st := &State{Bags: map[string]*Bag{"movie/search": nil}}
	st.normalize()
	if st.Cooldowns == nil {
		t.Fatal("cooldowns map not repaired")
	}
	if st.Bags["movie/search"] == nil {
		t.Fatal("nil bag not repaired")
	}
}
