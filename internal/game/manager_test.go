package game

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/RonakMehtaa/PlayChess/internal/chess"
	"github.com/RonakMehtaa/PlayChess/internal/chess/uci"
)

// fakeEngine replies with queued moves in order. It records every request so
// tests can assert what the engine was asked.
type fakeEngine struct {
	mu       sync.Mutex
	replies  []string
	requests []uci.Request
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (f *fakeEngine) BestMove(ctx context.Context, req uci.Request) (uci.Result, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return uci.Result{}, f.err
	}
	if len(f.replies) == 0 {
		return uci.Result{}, errors.New("fake engine out of moves")
	}
	move := f.replies[0]
	f.replies = f.replies[1:]
	return uci.Result{Move: move, EvalCP: 15, HasEval: true}, nil
}

func (f *fakeEngine) Ready() bool { return f.err == nil }

func newTestManager(t *testing.T, engine Searcher) *Manager {
	t.Helper()
	return NewManager(NewMemoryStore(), engine, chess.DefaultTuning(), zap.NewNop())
}

func TestCreateAsWhite(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestManager(t, engine)
	ctx := context.Background()

	s, botMove, err := m.Create(ctx, chess.ColorWhite, 1600)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if botMove != "" {
		t.Fatalf("botMove = %q, want empty for white", botMove)
	}
	if engine.calls.Load() != 0 {
		t.Fatal("engine consulted before the player moved")
	}
	if len(s.MoveHistory) != 0 || s.Status != chess.StatusOngoing {
		t.Fatalf("unexpected new session: %+v", s)
	}

	stored, err := m.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.PlayerColor != chess.ColorWhite || stored.Elo != 1600 {
		t.Fatalf("stored session mismatch: %+v", stored)
	}
}

func TestCreateAsBlackGetsOpeningMove(t *testing.T) {
	engine := &fakeEngine{replies: []string{"e2e4"}}
	m := newTestManager(t, engine)
	ctx := context.Background()

	s, botMove, err := m.Create(ctx, chess.ColorBlack, 2000)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if botMove != "e2e4" {
		t.Fatalf("botMove = %q, want e2e4", botMove)
	}
	if len(s.MoveHistory) != 1 || s.MoveHistory[0] != "e2e4" {
		t.Fatalf("history = %v, want [e2e4]", s.MoveHistory)
	}

	board, err := chess.Replay(s.MoveHistory)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if chess.TurnOf(board) != chess.ColorBlack {
		t.Fatal("it should be the player's turn after the opening move")
	}
}

func TestCreateRejectsBadParameters(t *testing.T) {
	m := newTestManager(t, &fakeEngine{})
	ctx := context.Background()

	if _, _, err := m.Create(ctx, "green", 1600); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("bad color error = %v, want ErrInvalidParameter", err)
	}
	if _, _, err := m.Create(ctx, chess.ColorWhite, 100); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("bad elo error = %v, want ErrInvalidParameter", err)
	}
}

func TestPlayMoveRoundTrip(t *testing.T) {
	engine := &fakeEngine{replies: []string{"e7e5"}}
	m := newTestManager(t, engine)
	ctx := context.Background()

	s, _, err := m.Create(ctx, chess.ColorWhite, 2000)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := m.PlayMove(ctx, s.ID, "e2e4")
	if err != nil {
		t.Fatalf("PlayMove: %v", err)
	}
	if res.BotMove != "e7e5" {
		t.Fatalf("botMove = %q, want e7e5", res.BotMove)
	}
	if got := res.Session.MoveHistory; len(got) != 2 || got[0] != "e2e4" || got[1] != "e7e5" {
		t.Fatalf("history = %v", got)
	}
	if res.Session.LastEvaluation == nil || *res.Session.LastEvaluation != 15 {
		t.Fatalf("evaluation = %v, want 15", res.Session.LastEvaluation)
	}

	// The persisted record must match the replayed position.
	stored, err := m.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	board, err := chess.Replay(stored.MoveHistory)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if board.FEN() != stored.FEN {
		t.Fatalf("FEN %q does not match replayed history %q", stored.FEN, board.FEN())
	}
}

func TestPlayMoveBuildsStrengthBoundRequest(t *testing.T) {
	engine := &fakeEngine{replies: []string{"e7e5"}}
	m := newTestManager(t, engine)
	ctx := context.Background()

	s, _, err := m.Create(ctx, chess.ColorWhite, 1600)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.PlayMove(ctx, s.ID, "e2e4"); err != nil {
		t.Fatalf("PlayMove: %v", err)
	}

	engine.mu.Lock()
	req := engine.requests[0]
	engine.mu.Unlock()
	if !req.LimitStrength || req.Elo != 1600 {
		t.Fatalf("request not strength bound: %+v", req)
	}
	if req.SkillLevel != chess.EloToSkill(1600) {
		t.Fatalf("skill = %d, want %d", req.SkillLevel, chess.EloToSkill(1600))
	}
	if req.MoveTime <= 0 {
		t.Fatalf("move time = %v, want positive", req.MoveTime)
	}
	if len(req.Moves) != 1 || req.Moves[0] != "e2e4" {
		t.Fatalf("request moves = %v", req.Moves)
	}
}

func TestPlayMoveMaxStrengthUnbound(t *testing.T) {
	engine := &fakeEngine{replies: []string{"e7e5"}}
	m := newTestManager(t, engine)
	ctx := context.Background()

	s, _, err := m.Create(ctx, chess.ColorWhite, chess.MaxElo)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.PlayMove(ctx, s.ID, "e2e4"); err != nil {
		t.Fatalf("PlayMove: %v", err)
	}

	engine.mu.Lock()
	req := engine.requests[0]
	engine.mu.Unlock()
	if req.LimitStrength {
		t.Fatalf("max strength request still limited: %+v", req)
	}
}

func TestPlayMoveIllegalLeavesSessionUntouched(t *testing.T) {
	engine := &fakeEngine{replies: []string{"e7e5"}}
	m := newTestManager(t, engine)
	ctx := context.Background()

	s, _, err := m.Create(ctx, chess.ColorWhite, 1600)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := m.PlayMove(ctx, s.ID, "e2e5"); !errors.Is(err, chess.ErrIllegalMove) {
		t.Fatalf("illegal move error = %v, want ErrIllegalMove", err)
	}
	if _, err := m.PlayMove(ctx, s.ID, "junk"); !errors.Is(err, chess.ErrIllegalMove) {
		t.Fatalf("malformed move error = %v, want ErrIllegalMove", err)
	}

	stored, err := m.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(stored.MoveHistory) != 0 {
		t.Fatalf("rejected move mutated the session: %v", stored.MoveHistory)
	}
}

func TestPlayMoveWrongTurn(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestManager(t, engine)
	ctx := context.Background()

	// Seed a session where it is the engine's move.
	board, err := chess.Replay([]string{"e2e4"})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	now := time.Now()
	seeded := &Session{
		ID:          "seeded",
		PlayerColor: chess.ColorWhite,
		Elo:         1600,
		FEN:         board.FEN(),
		MoveHistory: []string{"e2e4"},
		Status:      chess.StatusOngoing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.Put(ctx, seeded); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := m.PlayMove(ctx, "seeded", "d2d4"); !errors.Is(err, ErrWrongTurn) {
		t.Fatalf("error = %v, want ErrWrongTurn", err)
	}
}

func TestPlayMoveCheckmateByEngine(t *testing.T) {
	// Fool's mate: the engine's second reply mates the player.
	engine := &fakeEngine{replies: []string{"e7e5", "d8h4"}}
	m := newTestManager(t, engine)
	ctx := context.Background()

	s, _, err := m.Create(ctx, chess.ColorWhite, 1600)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.PlayMove(ctx, s.ID, "f2f3"); err != nil {
		t.Fatalf("first move: %v", err)
	}
	res, err := m.PlayMove(ctx, s.ID, "g2g4")
	if err != nil {
		t.Fatalf("second move: %v", err)
	}

	if res.Session.Status != chess.StatusCheckmate {
		t.Fatalf("status = %q, want checkmate", res.Session.Status)
	}
	if res.Session.Winner != chess.ColorBlack {
		t.Fatalf("winner = %q, want black", res.Session.Winner)
	}

	if _, err := m.PlayMove(ctx, s.ID, "a2a3"); !errors.Is(err, ErrGameOver) {
		t.Fatalf("move after mate = %v, want ErrGameOver", err)
	}
}

func TestPlayMoveCheckmateByPlayer(t *testing.T) {
	// Quick queen mate by the player; the engine must not be asked for a
	// reply to the mating move.
	engine := &fakeEngine{replies: []string{"f7f6", "g7g5"}}
	m := newTestManager(t, engine)
	ctx := context.Background()

	s, _, err := m.Create(ctx, chess.ColorWhite, 1600)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.PlayMove(ctx, s.ID, "e2e4"); err != nil {
		t.Fatalf("move 1: %v", err)
	}
	if _, err := m.PlayMove(ctx, s.ID, "d2d4"); err != nil {
		t.Fatalf("move 2: %v", err)
	}
	res, err := m.PlayMove(ctx, s.ID, "d1h5")
	if err != nil {
		t.Fatalf("mating move: %v", err)
	}

	if res.Session.Status != chess.StatusCheckmate {
		t.Fatalf("status = %q, want checkmate", res.Session.Status)
	}
	if res.Session.Winner != chess.ColorWhite {
		t.Fatalf("winner = %q, want white", res.Session.Winner)
	}
	if res.BotMove != "" {
		t.Fatalf("botMove = %q after the player mated", res.BotMove)
	}
	if engine.calls.Load() != 2 {
		t.Fatalf("engine called %d times, want 2", engine.calls.Load())
	}
}

func TestPlayMoveEngineFailureLeavesSessionUntouched(t *testing.T) {
	engine := &fakeEngine{err: uci.ErrEngineFatal}
	m := newTestManager(t, engine)
	ctx := context.Background()

	s, _, err := m.Create(ctx, chess.ColorWhite, 1600)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := m.PlayMove(ctx, s.ID, "e2e4"); !errors.Is(err, uci.ErrEngineFatal) {
		t.Fatalf("error = %v, want ErrEngineFatal", err)
	}

	stored, err := m.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(stored.MoveHistory) != 0 {
		t.Fatalf("failed move sequence was persisted: %v", stored.MoveHistory)
	}

	// Engine recovered: the same move now goes through.
	engine.mu.Lock()
	engine.err = nil
	engine.replies = []string{"e7e5"}
	engine.mu.Unlock()
	if _, err := m.PlayMove(ctx, s.ID, "e2e4"); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
}

func TestPlayMoveCorruptedSession(t *testing.T) {
	m := newTestManager(t, &fakeEngine{})
	ctx := context.Background()

	now := time.Now()
	bad := &Session{
		ID:          "bad",
		PlayerColor: chess.ColorWhite,
		Elo:         1600,
		FEN:         "not a position",
		MoveHistory: []string{"e2e4"},
		Status:      chess.StatusOngoing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.Put(ctx, bad); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := m.PlayMove(ctx, "bad", "d2d4"); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("error = %v, want ErrCorrupted", err)
	}

	stored, err := m.Get(ctx, "bad")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !stored.Corrupted {
		t.Fatal("corrupted flag not persisted")
	}
	// Corruption is sticky.
	if _, err := m.PlayMove(ctx, "bad", "d2d4"); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("second error = %v, want ErrCorrupted", err)
	}
}

func TestDeleteAndList(t *testing.T) {
	m := newTestManager(t, &fakeEngine{})
	ctx := context.Background()

	a, _, err := m.Create(ctx, chess.ColorWhite, 1600)
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if _, _, err := m.Create(ctx, chess.ColorWhite, 2400); err != nil {
		t.Fatalf("Create b: %v", err)
	}

	if n, _ := m.Count(ctx); n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}
	summaries, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("List returned %d, want 2", len(summaries))
	}

	if err := m.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := m.Delete(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete = %v, want ErrNotFound", err)
	}
	if _, err := m.Get(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
	if n, _ := m.Count(ctx); n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}
}

func TestConcurrentGamesProceedIndependently(t *testing.T) {
	engine := &fakeEngine{
		replies: []string{"e7e5", "e7e5", "e7e5", "e7e5", "e7e5", "e7e5", "e7e5", "e7e5"},
		delay:   5 * time.Millisecond,
	}
	m := newTestManager(t, engine)
	ctx := context.Background()

	const games = 8
	ids := make([]string, games)
	for i := range ids {
		s, _, err := m.Create(ctx, chess.ColorWhite, 1600)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids[i] = s.ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, games)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := m.PlayMove(ctx, id, "e2e4"); err != nil {
				errs <- err
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent PlayMove: %v", err)
	}

	for _, id := range ids {
		s, err := m.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(s.MoveHistory) != 2 {
			t.Fatalf("game %s history = %v, want two plies", id, s.MoveHistory)
		}
	}
}

func TestIdleSweep(t *testing.T) {
	m := newTestManager(t, &fakeEngine{})
	ctx := context.Background()

	fresh, _, err := m.Create(ctx, chess.ColorWhite, 1600)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	stale := newTestSession("stale")
	stale.UpdatedAt = time.Now().Add(-2 * time.Hour)
	if err := m.store.Put(ctx, stale); err != nil {
		t.Fatalf("Put stale: %v", err)
	}

	m.sweep(ctx, time.Hour)

	if _, err := m.Get(ctx, "stale"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale session survived the sweep: %v", err)
	}
	if _, err := m.Get(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh session evicted: %v", err)
	}
}
