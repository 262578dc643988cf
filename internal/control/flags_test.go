package control

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileFlags(t *testing.T) {
	dir := t.TempDir()
	f := NewFileFlags(filepath.Join(dir, "agent_paused.flag"), filepath.Join(dir, "sub", "emergency_close.flag"))
	ctx := context.Background()

	st, err := f.Read(ctx)
	if err != nil || st.Paused || st.Emergency {
		t.Fatalf("initial state = %+v, %v", st, err)
	}

	if err := f.SetEmergency(ctx, true); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(f.EmergencyFile); err != nil {
		t.Fatalf("emergency file not written: %v", err)
	}
	if st, _ := f.Read(ctx); !st.Emergency {
		t.Error("emergency not read back")
	}

	if err := f.SetEmergency(ctx, false); err != nil {
		t.Fatal(err)
	}
	if err := f.SetEmergency(ctx, false); err != nil {
		t.Errorf("clearing a missing flag file: %v", err)
	}
	if st, _ := f.Read(ctx); st.Emergency {
		t.Error("emergency still set after clear")
	}
}

type failingSource struct{ MemoryFlags }

func (*failingSource) Read(context.Context) (State, error) {
	return State{}, errors.New("unreachable")
}

func TestComposite(t *testing.T) {
	ctx := context.Background()
	api := NewMemoryFlags()
	files := NewFileFlags(filepath.Join(t.TempDir(), "pause"), "")

	c := NewComposite(api, files, nil)
	if err := files.SetPaused(ctx, true); err != nil {
		t.Fatal(err)
	}
	if st, err := c.Read(ctx); err != nil || !st.Paused {
		t.Fatalf("composite should see file pause: %+v %v", st, err)
	}

	if err := c.SetPaused(ctx, false); err != nil {
		t.Fatal(err)
	}
	if st, _ := c.Read(ctx); st.Paused {
		t.Error("resume did not clear every source")
	}

	if err := api.SetEmergency(ctx, true); err != nil {
		t.Fatal(err)
	}
	if err := c.ClearEmergency(ctx); err != nil {
		t.Fatal(err)
	}
	if st, _ := c.Read(ctx); st.Emergency {
		t.Error("ClearEmergency left the flag set")
	}
}

func TestCompositeReadSkipsFailingSource(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryFlags()
	_ = mem.SetPaused(ctx, true)

	c := NewComposite(&failingSource{}, mem)
	st, err := c.Read(ctx)
	if err == nil {
		t.Error("expected read error to be reported")
	}
	if !st.Paused {
		t.Error("healthy source ignored")
	}
}
