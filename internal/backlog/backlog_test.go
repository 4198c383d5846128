package backlog

import (
	"errors"
	"testing"

	"github.com/sttcore/streamcore/internal/wireerr"
)

func TestOffer_SendsUnderSoftLimit(t *testing.T) {
	g := New(Config{SoftLimit: 8, HardLimit: 32, MaxDropMs: 1000})
	d, err := g.Offer(50)
	if d != DecisionSend || err != nil {
		t.Errorf("Offer() = %v, %v; want DecisionSend, nil", d, err)
	}
	if g.PendingCount() != 1 {
		t.Errorf("PendingCount() = %d, want 1", g.PendingCount())
	}
}

func TestOffer_HardLimitMarksFailed(t *testing.T) {
	g := New(Config{SoftLimit: 10, HardLimit: 1, MaxDropMs: 1000})
	d1, err1 := g.Offer(10)
	if d1 != DecisionSend || err1 != nil {
		t.Fatalf("first Offer() = %v, %v; want DecisionSend, nil", d1, err1)
	}
	d2, err2 := g.Offer(10)
	if d2 != DecisionFailed || !errors.Is(err2, wireerr.ErrBacklogHardLimit) {
		t.Errorf("Offer() = %v, %v; want DecisionFailed, ErrBacklogHardLimit", d2, err2)
	}
	if !g.Failed() {
		t.Error("expected Failed() to be true after hard-limit breach")
	}
}

func TestOffer_DropBudgetExceeded(t *testing.T) {
	// softLimit=1, hardLimit=10, maxDropMs=500: scenario 2 from the spec's
	// testable-scenarios list.
	g := New(Config{SoftLimit: 1, HardLimit: 10, MaxDropMs: 500})

	d1, err1 := g.Offer(250) // pending 0->1, sent
	if d1 != DecisionSend || err1 != nil {
		t.Fatalf("frame 1 = %v, %v; want DecisionSend, nil", d1, err1)
	}

	d2, err2 := g.Offer(250) // pending>=soft(1): dropped, droppedMs=250
	if d2 != DecisionDrop || err2 != nil {
		t.Fatalf("frame 2 = %v, %v; want DecisionDrop, nil", d2, err2)
	}

	d3, err3 := g.Offer(250) // droppedMs=500, not > 500 yet: still drop
	if d3 != DecisionDrop || err3 != nil {
		t.Fatalf("frame 3 = %v, %v; want DecisionDrop, nil", d3, err3)
	}

	d4, err4 := g.Offer(250) // droppedMs=750 > 500: fail
	if d4 != DecisionFailed || !errors.Is(err4, wireerr.ErrBacklogDropBudget) {
		t.Errorf("frame 4 = %v, %v; want DecisionFailed, ErrBacklogDropBudget", d4, err4)
	}
}

func TestRelease_ResetsDroppedMsBelowSoftLimit(t *testing.T) {
	g := New(Config{SoftLimit: 2, HardLimit: 10, MaxDropMs: 1000})
	g.Offer(50) // pending 1
	g.Offer(50) // pending 2
	g.Offer(50) // pending>=soft(2): dropped, droppedMs=50

	g.Release() // pending -> 1, below softLimit(2): droppedMs resets
	g.Release() // pending -> 0

	d, err := g.Offer(50)
	if d != DecisionSend || err != nil {
		t.Errorf("Offer() after releases = %v, %v; want DecisionSend, nil", d, err)
	}
}

func TestOffer_OnceFailedStaysFailed(t *testing.T) {
	g := New(Config{SoftLimit: 1, HardLimit: 1, MaxDropMs: 1000})
	g.Offer(10)
	d, _ := g.Offer(10)
	if d != DecisionFailed {
		t.Fatalf("expected failed after hard limit, got %v", d)
	}
	g.Release()
	d2, err2 := g.Offer(10)
	if d2 != DecisionFailed || !errors.Is(err2, wireerr.ErrBacklogHardLimit) {
		t.Errorf("expected a failed Governor to stay failed after Release, got %v, %v", d2, err2)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.SoftLimit != 8 || cfg.HardLimit != 32 || cfg.MaxDropMs != 1000 {
		t.Errorf("DefaultConfig() = %+v, want {8 32 1000}", cfg)
	}
}

func TestForProfile_MeetingScalesLimits(t *testing.T) {
	cfg := DefaultConfig().ForProfile(ProfileMeeting)
	if cfg.SoftLimit != 32 || cfg.HardLimit != 128 {
		t.Errorf("ForProfile(meeting) = %+v, want softLimit=32 hardLimit=128", cfg)
	}
}

func TestForProfile_DefaultIsUnchanged(t *testing.T) {
	base := DefaultConfig()
	cfg := base.ForProfile(ProfileDefault)
	if cfg != base {
		t.Errorf("ForProfile(default) = %+v, want unchanged %+v", cfg, base)
	}
}
