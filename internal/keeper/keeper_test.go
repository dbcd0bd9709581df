package keeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/price-duel/internal/bet-service/engine"
	"github.com/radieske/price-duel/internal/bet-service/oracle"
	"github.com/radieske/price-duel/internal/bet-service/store"
	"github.com/radieske/price-duel/internal/wager"
)

func setup(t *testing.T) (*Keeper, *store.Memory, *oracle.Static, *time.Time) {
	t.Helper()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	clock := &now

	st := store.NewMemory()
	feed := oracle.NewStatic()
	eng := engine.New(zap.NewNop(), st, feed, engine.WithClock(func() time.Time { return *clock }))
	if err := eng.CreateMaster(ctx); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"alice", "bob", "carol"} {
		if _, err := st.Deposit(ctx, p, 1_000); err != nil {
			t.Fatal(err)
		}
	}

	// bet 1: feed conhecido
	if _, err := eng.CreateBet(ctx, "alice", 100, 100, 600, "feed-btc"); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.EnterBet(ctx, 1, "bob", 110); err != nil {
		t.Fatal(err)
	}
	// bet 2: feed que o oráculo não conhece
	if _, err := eng.CreateBet(ctx, "carol", 50, 10, 600, "feed-unknown"); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.EnterBet(ctx, 2, "bob", 20); err != nil {
		t.Fatal(err)
	}
	// bet 3: nunca teve segundo participante
	if _, err := eng.CreateBet(ctx, "alice", 10, 1, 600, "feed-btc"); err != nil {
		t.Fatal(err)
	}
	feed.Set("feed-btc", 101, 0)

	k := New(zap.NewNop(), st, eng, time.Second)
	k.now = func() time.Time { return *clock }
	return k, st, feed, clock
}

func TestRunOnce_BeforeExpiryDoesNothing(t *testing.T) {
	k, _, _, _ := setup(t)
	n, err := k.RunOnce(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected nothing settled, got %d (%v)", n, err)
	}
}

func TestRunOnce_SettlesAndSkipsFailures(t *testing.T) {
	k, st, _, clock := setup(t)
	*clock = clock.Add(600 * time.Second)

	var states []wager.State
	kinds := map[string]int{}
	k.OnSettled = func(s wager.State) { states = append(states, s) }
	k.OnFailed = func(kind string) { kinds[kind]++ }

	n, err := k.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 settled, got %d", n)
	}
	if len(states) != 1 || states[0] != wager.StatePlayerAWon {
		t.Errorf("unexpected outcomes %v", states)
	}
	if kinds["invalid_pyth_account"] != 1 {
		t.Errorf("expected one oracle failure, got %v", kinds)
	}

	ctx := context.Background()
	b1, _ := st.GetBet(ctx, 1)
	if b1.State != wager.StatePlayerAWon || b1.Escrow != 0 {
		t.Errorf("bet 1 not settled: %+v", b1)
	}
	b2, _ := st.GetBet(ctx, 2)
	if b2.State != wager.StateStarted || b2.Escrow != 100 {
		t.Errorf("bet 2 should stay open: %+v", b2)
	}
	b3, _ := st.GetBet(ctx, 3)
	if b3.State != wager.StateCreated {
		t.Errorf("bet 3 should stay CREATED: %+v", b3)
	}
	if bal, _ := st.Balance(ctx, "alice"); bal != 1_000-100-10+200 {
		t.Errorf("alice balance %d", bal)
	}

	// segunda passada: só a aposta com feed inválido continua elegível
	n, err = k.RunOnce(context.Background())
	if err != nil || n != 0 {
		t.Errorf("second pass: %d (%v)", n, err)
	}
	if kinds["invalid_pyth_account"] != 2 {
		t.Errorf("expected retry of bet 2, got %v", kinds)
	}
}

func TestRunOnce_AfterWindowIgnoresBets(t *testing.T) {
	k, _, _, clock := setup(t)
	*clock = clock.Add(time.Duration(600+wager.MaxClaimablePeriod+1) * time.Second)
	n, err := k.RunOnce(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected nothing settled, got %d (%v)", n, err)
	}
}

type failingLister struct{}

func (failingLister) ListClaimable(context.Context, time.Time) ([]*wager.Bet, error) {
	return nil, errors.New("db down")
}

func TestRunOnce_ListError(t *testing.T) {
	k := New(zap.NewNop(), failingLister{}, nil, time.Second)
	if _, err := k.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	k, _, _, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Start(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("keeper did not stop")
	}
}
