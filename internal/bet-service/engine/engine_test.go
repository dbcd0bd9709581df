package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/radieske/price-duel/internal/bet-service/oracle"
	"github.com/radieske/price-duel/internal/bet-service/store"
	"github.com/radieske/price-duel/internal/wager"
	"github.com/radieske/price-duel/pkg/contracts/events"
)

const feedKey = "feed-btc"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.BetEvent
}

func (p *recordingPublisher) PublishBetEvent(_ context.Context, e events.BetEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type recordingCache struct{ ids []uint64 }

func (c *recordingCache) Invalidate(_ context.Context, id uint64) error {
	c.ids = append(c.ids, id)
	return nil
}

type harness struct {
	eng     *Engine
	store   *store.Memory
	feed    *oracle.Static
	clock   *fakeClock
	publ    *recordingPublisher
	cache   *recordingCache
	metrics *Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: store.NewMemory(),
		feed:  oracle.NewStatic(),
		clock: &fakeClock{now: time.Unix(1_700_000_000, 0)},
		publ:  &recordingPublisher{},
		cache: &recordingCache{},
	}
	h.metrics = NewMetrics(prometheus.NewRegistry())
	h.eng = New(zap.NewNop(), h.store, h.feed,
		WithClock(h.clock.Now),
		WithPublisher(h.publ),
		WithCache(h.cache),
		WithMetrics(h.metrics),
	)
	ctx := context.Background()
	if err := h.eng.CreateMaster(ctx); err != nil {
		t.Fatalf("CreateMaster: %v", err)
	}
	for _, p := range []string{"alice", "bob", "carol"} {
		if _, err := h.store.Deposit(ctx, p, 1_000); err != nil {
			t.Fatalf("Deposit: %v", err)
		}
	}
	return h
}

func (h *harness) balance(t *testing.T, player string) int64 {
	t.Helper()
	bal, err := h.store.Balance(context.Background(), player)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return bal
}

// startedBet cria uma aposta de 100 com duração de 1h e faz bob entrar
func (h *harness) startedBet(t *testing.T, a, b float64) *wager.Bet {
	t.Helper()
	ctx := context.Background()
	bet, err := h.eng.CreateBet(ctx, "alice", 100, a, 3600, feedKey)
	if err != nil {
		t.Fatalf("CreateBet: %v", err)
	}
	bet, err = h.eng.EnterBet(ctx, bet.ID, "bob", b)
	if err != nil {
		t.Fatalf("EnterBet: %v", err)
	}
	return bet
}

func TestCreateMaster_Once(t *testing.T) {
	h := newHarness(t)
	if err := h.eng.CreateMaster(context.Background()); !errors.Is(err, wager.ErrMasterExists) {
		t.Errorf("expected ErrMasterExists, got %v", err)
	}
}

func TestCreateBet_RequiresMaster(t *testing.T) {
	s := store.NewMemory()
	_, _ = s.Deposit(context.Background(), "alice", 100)
	eng := New(zap.NewNop(), s, oracle.NewStatic())
	_, err := eng.CreateBet(context.Background(), "alice", 10, 1, 60, feedKey)
	if !errors.Is(err, wager.ErrMasterNotInitialized) {
		t.Errorf("expected ErrMasterNotInitialized, got %v", err)
	}
}

func TestCreateBet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var last uint64
	for i := 0; i < 3; i++ {
		bet, err := h.eng.CreateBet(ctx, "alice", 100, 100.0, 600, feedKey)
		if err != nil {
			t.Fatalf("CreateBet: %v", err)
		}
		if bet.ID <= last {
			t.Errorf("ids must strictly increase: %d after %d", bet.ID, last)
		}
		last = bet.ID
		if bet.State != wager.StateCreated || bet.Escrow != 100 {
			t.Errorf("unexpected bet %+v", bet)
		}
		if bet.ExpiryTS != h.clock.Now().Unix()+600 {
			t.Errorf("unexpected expiry %d", bet.ExpiryTS)
		}
	}
	if got := h.balance(t, "alice"); got != 700 {
		t.Errorf("expected alice balance 700, got %d", got)
	}
	if id, _ := h.store.LastBetID(ctx); id != 3 {
		t.Errorf("expected last bet id 3, got %d", id)
	}
	if got := testutil.ToFloat64(h.metrics.Created); got != 3 {
		t.Errorf("expected 3 created, got %v", got)
	}
}

func TestCreateBet_InsufficientFundsIsAtomic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.eng.CreateBet(ctx, "alice", 5_000, 1, 600, feedKey)
	if !errors.Is(err, wager.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if id, _ := h.store.LastBetID(ctx); id != 0 {
		t.Errorf("counter advanced on failed creation: %d", id)
	}
	if bets, _ := h.store.ListBets(ctx); len(bets) != 0 {
		t.Errorf("bet persisted on failed creation")
	}
	if got := h.balance(t, "alice"); got != 1_000 {
		t.Errorf("balance changed: %d", got)
	}
}

func TestCreateBet_ConcurrentIDsUnique(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.store.Deposit(ctx, "alice", 100_000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	const n = 50
	ids := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bet, err := h.eng.CreateBet(ctx, "alice", 10, 1, 600, feedKey)
			if err != nil {
				t.Errorf("CreateBet: %v", err)
				return
			}
			ids <- bet.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uint64]bool{}
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("expected %d ids, got %d", n, len(seen))
	}
}

func TestEnterBet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bet := h.startedBet(t, 100, 110)

	if bet.State != wager.StateStarted || bet.Escrow != 200 {
		t.Errorf("unexpected bet %+v", bet)
	}
	if got := h.balance(t, "bob"); got != 900 {
		t.Errorf("expected bob balance 900, got %d", got)
	}

	_, err := h.eng.EnterBet(ctx, bet.ID, "carol", 105)
	if !errors.Is(err, wager.ErrCannotEnter) {
		t.Errorf("second entry: expected ErrCannotEnter, got %v", err)
	}
	if got := h.balance(t, "carol"); got != 1_000 {
		t.Errorf("carol debited on rejected entry: %d", got)
	}
}

func TestEnterBet_Cutoff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bet, err := h.eng.CreateBet(ctx, "alice", 100, 100, 600, feedKey)
	if err != nil {
		t.Fatalf("CreateBet: %v", err)
	}

	h.clock.Advance((600 - 100) * time.Second)
	if _, err := h.eng.EnterBet(ctx, bet.ID, "bob", 110); !errors.Is(err, wager.ErrCannotEnter) {
		t.Errorf("expected ErrCannotEnter within final 120s, got %v", err)
	}
	if got := h.balance(t, "bob"); got != 1_000 {
		t.Errorf("bob debited on rejected entry: %d", got)
	}
}

func TestEnterBet_NotFound(t *testing.T) {
	h := newHarness(t)
	if _, err := h.eng.EnterBet(context.Background(), 99, "bob", 1); !errors.Is(err, wager.ErrBetNotFound) {
		t.Errorf("expected ErrBetNotFound, got %v", err)
	}
}

func TestEnterBet_InsufficientFundsIsAtomic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bet, _ := h.eng.CreateBet(ctx, "alice", 100, 100, 3600, feedKey)

	_, err := h.eng.EnterBet(ctx, bet.ID, "dave", 110)
	if !errors.Is(err, wager.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	got, _ := h.store.GetBet(ctx, bet.ID)
	if got.State != wager.StateCreated || got.PredictionB != nil || got.Escrow != 100 {
		t.Errorf("bet mutated by failed entry: %+v", got)
	}
}

func TestClaimBet_Window(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.feed.Set(feedKey, 102, 0)
	bet := h.startedBet(t, 100, 110)

	h.clock.Advance(3599 * time.Second)
	if _, err := h.eng.ClaimBet(ctx, bet.ID, feedKey); !errors.Is(err, wager.ErrCannotClaim) {
		t.Errorf("before expiry: expected ErrCannotClaim, got %v", err)
	}

	h.clock.Advance(302 * time.Second)
	if _, err := h.eng.ClaimBet(ctx, bet.ID, feedKey); !errors.Is(err, wager.ErrCannotClaim) {
		t.Errorf("after claim window: expected ErrCannotClaim, got %v", err)
	}
	if got := h.balance(t, "alice") + h.balance(t, "bob"); got != 1_800 {
		t.Errorf("funds moved on rejected claim: %d", got)
	}
}

func TestClaimBet_OnCreatedBet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.feed.Set(feedKey, 102, 0)
	bet, _ := h.eng.CreateBet(ctx, "alice", 100, 100, 600, feedKey)

	h.clock.Advance(600 * time.Second)
	if _, err := h.eng.ClaimBet(ctx, bet.ID, feedKey); !errors.Is(err, wager.ErrCannotClaim) {
		t.Errorf("expected ErrCannotClaim, got %v", err)
	}
}

func TestClaimBet_InvalidPythKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.feed.Set(feedKey, 102, 0)
	h.feed.Set("feed-eth", 102, 0)
	bet := h.startedBet(t, 100, 110)
	h.clock.Advance(3600 * time.Second)

	if _, err := h.eng.ClaimBet(ctx, bet.ID, "feed-eth"); !errors.Is(err, wager.ErrInvalidPythKey) {
		t.Fatalf("expected ErrInvalidPythKey, got %v", err)
	}
	got, _ := h.store.GetBet(ctx, bet.ID)
	if got.State != wager.StateStarted || got.Escrow != 200 {
		t.Errorf("bet changed on rejected claim: %+v", got)
	}
	if h.balance(t, "alice") != 900 || h.balance(t, "bob") != 900 {
		t.Errorf("payout performed on rejected claim")
	}
}

func TestClaimBet_OracleKeyIsExact(t *testing.T) {
	const key = "So1anaFeedKey"
	cases := []struct {
		name    string
		account string
		wantErr error
	}{
		{"upper case", "SO1ANAFEEDKEY", wager.ErrInvalidPythKey},
		{"lower case", "so1anafeedkey", wager.ErrInvalidPythKey},
		{"hex prefix", "0x" + key, wager.ErrInvalidPythKey},
		{"surrounding space", " " + key, wager.ErrInvalidPythKey},
		{"same key", key, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			h.feed.Set(key, 102, 0)
			bet, err := h.eng.CreateBet(ctx, "alice", 100, 100, 3600, key)
			if err != nil {
				t.Fatalf("CreateBet: %v", err)
			}
			if _, err := h.eng.EnterBet(ctx, bet.ID, "bob", 110); err != nil {
				t.Fatalf("EnterBet: %v", err)
			}
			h.clock.Advance(3600 * time.Second)

			got, err := h.eng.ClaimBet(ctx, bet.ID, tc.account)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("ClaimBet(%q): expected %v, got %v", tc.account, tc.wantErr, err)
				}
				if h.balance(t, "alice") != 900 {
					t.Errorf("payout performed on rejected claim")
				}
				return
			}
			if err != nil {
				t.Fatalf("ClaimBet: %v", err)
			}
			if got.State != wager.StatePlayerAWon {
				t.Errorf("expected %s, got %s", wager.StatePlayerAWon, got.State)
			}
		})
	}
}

func TestClaimBet_InvalidPythAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bet := h.startedBet(t, 100, 110) // feed sem leitura publicada
	h.clock.Advance(3600 * time.Second)

	if _, err := h.eng.ClaimBet(ctx, bet.ID, feedKey); !errors.Is(err, wager.ErrInvalidPythAccount) {
		t.Errorf("expected ErrInvalidPythAccount, got %v", err)
	}
}

func TestClaimBet_PriceTooBig(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.feed.Set(feedKey, 1<<40, 0)
	bet := h.startedBet(t, 100, 110)
	h.clock.Advance(3600 * time.Second)

	if _, err := h.eng.ClaimBet(ctx, bet.ID, feedKey); !errors.Is(err, wager.ErrPriceTooBig) {
		t.Fatalf("expected ErrPriceTooBig, got %v", err)
	}
	got, _ := h.store.GetBet(ctx, bet.ID)
	if got.State != wager.StateStarted {
		t.Errorf("state changed on rejected claim: %s", got.State)
	}
}

func TestClaimBet_Outcomes(t *testing.T) {
	cases := []struct {
		name      string
		a, b      float64
		oracle    int64
		state     wager.State
		wantAlice int64
		wantBob   int64
	}{
		{"player A wins", 100, 110, 102, wager.StatePlayerAWon, 1_100, 900},
		{"player B wins", 100, 110, 109, wager.StatePlayerBWon, 900, 1_100},
		{"draw", 100, 100, 105, wager.StateDraw, 1_000, 1_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			h.feed.Set(feedKey, tc.oracle, 0)
			bet := h.startedBet(t, tc.a, tc.b)
			h.clock.Advance(3600 * time.Second)

			settled, err := h.eng.ClaimBet(ctx, bet.ID, feedKey)
			if err != nil {
				t.Fatalf("ClaimBet: %v", err)
			}
			if settled.State != tc.state {
				t.Errorf("expected %s, got %s", tc.state, settled.State)
			}
			if settled.Escrow != 0 {
				t.Errorf("escrow not released: %d", settled.Escrow)
			}
			alice, bob := h.balance(t, "alice"), h.balance(t, "bob")
			if alice != tc.wantAlice || bob != tc.wantBob {
				t.Errorf("balances alice=%d bob=%d, expected %d/%d", alice, bob, tc.wantAlice, tc.wantBob)
			}
			if alice+bob != 2_000 {
				t.Errorf("funds not conserved: %d", alice+bob)
			}
			if got := testutil.ToFloat64(h.metrics.Settled.WithLabelValues(string(tc.state))); got != 1 {
				t.Errorf("settled metric = %v", got)
			}

			// segunda liquidação
			if _, err := h.eng.ClaimBet(ctx, bet.ID, feedKey); !errors.Is(err, wager.ErrCannotClaim) {
				t.Errorf("second claim: expected ErrCannotClaim, got %v", err)
			}
		})
	}
}

func TestClaimBet_AtWindowEdges(t *testing.T) {
	for _, offset := range []time.Duration{3600 * time.Second, 3900 * time.Second} {
		h := newHarness(t)
		h.feed.Set(feedKey, 102, 0)
		bet := h.startedBet(t, 100, 110)
		h.clock.Advance(offset)
		if _, err := h.eng.ClaimBet(context.Background(), bet.ID, feedKey); err != nil {
			t.Errorf("offset %v: unexpected error %v", offset, err)
		}
	}
}

func TestCloseBet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.feed.Set(feedKey, 102, 0)

	created, _ := h.eng.CreateBet(ctx, "alice", 100, 100, 3600, feedKey)
	if err := h.eng.CloseBet(ctx, created.ID, "alice"); !errors.Is(err, wager.ErrCannotClose) {
		t.Errorf("CREATED: expected ErrCannotClose, got %v", err)
	}

	bet := h.startedBet(t, 100, 110)
	if err := h.eng.CloseBet(ctx, bet.ID, "alice"); !errors.Is(err, wager.ErrCannotClose) {
		t.Errorf("STARTED: expected ErrCannotClose, got %v", err)
	}

	h.clock.Advance(3600 * time.Second)
	if _, err := h.eng.ClaimBet(ctx, bet.ID, feedKey); err != nil {
		t.Fatalf("ClaimBet: %v", err)
	}
	if err := h.eng.CloseBet(ctx, bet.ID, "bob"); !errors.Is(err, wager.ErrCannotClose) {
		t.Errorf("non-creator: expected ErrCannotClose, got %v", err)
	}
	if err := h.eng.CloseBet(ctx, bet.ID, "alice"); err != nil {
		t.Fatalf("CloseBet: %v", err)
	}
	if _, err := h.store.GetBet(ctx, bet.ID); !errors.Is(err, wager.ErrBetNotFound) {
		t.Errorf("bet still present after close: %v", err)
	}
	if err := h.eng.CloseBet(ctx, bet.ID, "alice"); !errors.Is(err, wager.ErrBetNotFound) {
		t.Errorf("second close: expected ErrBetNotFound, got %v", err)
	}
}

func TestLifecycleEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.feed.Set(feedKey, 102, 0)
	bet := h.startedBet(t, 100, 110)
	h.clock.Advance(3600 * time.Second)
	if _, err := h.eng.ClaimBet(ctx, bet.ID, feedKey); err != nil {
		t.Fatalf("ClaimBet: %v", err)
	}
	if err := h.eng.CloseBet(ctx, bet.ID, "alice"); err != nil {
		t.Fatalf("CloseBet: %v", err)
	}

	want := []string{events.TypeBetCreated, events.TypeBetEntered, events.TypeBetSettled, events.TypeBetClosed}
	if len(h.publ.events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(h.publ.events))
	}
	for i, typ := range want {
		ev := h.publ.events[i]
		if ev.Type != typ || ev.BetID != bet.ID || ev.EventID == "" {
			t.Errorf("event %d: unexpected %+v", i, ev)
		}
	}
	settled := h.publ.events[2]
	if settled.State != string(wager.StatePlayerAWon) || len(settled.Payouts) != 1 || settled.Payouts[0].Amount != 200 {
		t.Errorf("unexpected settled event %+v", settled)
	}
	if len(h.cache.ids) != len(want) {
		t.Errorf("expected %d cache invalidations, got %d", len(want), len(h.cache.ids))
	}
}

func TestErrorKind(t *testing.T) {
	if got := ErrorKind(wager.ErrCannotEnter); got != "cannot_enter" {
		t.Errorf("got %s", got)
	}
	if got := ErrorKind(errors.New("db down")); got != "internal" {
		t.Errorf("got %s", got)
	}
	if IsRejection(errors.New("db down")) {
		t.Errorf("internal error reported as rejection")
	}
}
