package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RonakMehtaa/PlayChess/internal/chess"
	"github.com/RonakMehtaa/PlayChess/internal/chess/uci"
)

// Searcher is the engine handle seen by the session layer. The handle's own
// mutex is the single global queue for engine access.
type Searcher interface {
	BestMove(ctx context.Context, req uci.Request) (uci.Result, error)
	Ready() bool
}

// MoveResult is the outcome of one accepted player move and, when the game
// continued, the engine's reply.
type MoveResult struct {
	Session *Session
	BotMove string
}

// Manager owns session lifecycle. Mutations to one session are serialized
// through a per-id mutex; distinct sessions only meet at the engine handle.
type Manager struct {
	store  Store
	engine Searcher
	tuning chess.EngineTuning
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store Store, engine Searcher, tuning chess.EngineTuning, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		engine: engine,
		tuning: tuning,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// EngineReady reports whether the shared engine can serve searches.
func (m *Manager) EngineReady() bool { return m.engine.Ready() }

// Create starts a new game. When the player takes black, the engine's
// opening move is computed and applied before the session is first stored.
func (m *Manager) Create(ctx context.Context, playerColor string, elo int) (*Session, string, error) {
	if !chess.ValidColor(playerColor) {
		return nil, "", fmt.Errorf("%w: playerColor must be white or black, got %q", ErrInvalidParameter, playerColor)
	}
	if err := chess.ValidateElo(elo); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}

	board := nchess.NewGame()
	now := time.Now()
	s := &Session{
		ID:          uuid.NewString(),
		PlayerColor: playerColor,
		Elo:         elo,
		FEN:         board.FEN(),
		MoveHistory: []string{},
		Status:      chess.StatusOngoing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	botMove := ""
	if playerColor == chess.ColorBlack {
		mv, err := m.engineReply(ctx, s, board)
		if err != nil {
			return nil, "", err
		}
		botMove = mv
		s.FEN = board.FEN()
		s.Status = chess.StatusOf(board)
		s.Winner = chess.WinnerOf(board)
	}

	if err := m.store.Put(ctx, s); err != nil {
		return nil, "", err
	}
	m.logger.Info("game created",
		zap.String("game_id", s.ID),
		zap.String("player_color", playerColor),
		zap.Int("elo", elo),
		zap.String("bot_move", botMove),
	)
	return s, botMove, nil
}

// Get returns a snapshot of one session.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// List returns a point-in-time snapshot of all session summaries.
func (m *Manager) List(ctx context.Context) ([]Summary, error) {
	sessions, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	return out, nil
}

// Count returns the number of live sessions.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.Len(ctx)
}

// Delete removes a session. It takes the session lock so it cannot race an
// in-flight move.
func (m *Manager) Delete(ctx context.Context, id string) error {
	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.dropLock(id)
	m.logger.Info("game deleted", zap.String("game_id", id))
	return nil
}

// PlayMove is the per-session critical section: validate turn order, apply
// the player's move, obtain and apply the engine reply, then persist. The
// whole sequence is accept-or-reject: a failure at any point leaves the
// stored session untouched.
func (m *Manager) PlayMove(ctx context.Context, id, moveText string) (*MoveResult, error) {
	if !chess.ValidMoveText(moveText) {
		return nil, fmt.Errorf("%w: malformed move %q", chess.ErrIllegalMove, moveText)
	}

	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Corrupted {
		return nil, fmt.Errorf("%w: %s", ErrCorrupted, id)
	}
	if s.Status != chess.StatusOngoing {
		return nil, fmt.Errorf("%w: game is %s", ErrGameOver, s.Status)
	}

	board, err := chess.Replay(s.MoveHistory)
	if err != nil {
		m.markCorrupted(ctx, s)
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if board.FEN() != s.FEN {
		m.markCorrupted(ctx, s)
		return nil, fmt.Errorf("%w: position does not match history", ErrCorrupted)
	}

	if chess.TurnOf(board) != s.PlayerColor {
		return nil, fmt.Errorf("%w: it is %s's move", ErrWrongTurn, chess.TurnOf(board))
	}

	applied, err := chess.ApplyUCIMove(board, moveText)
	if err != nil {
		return nil, err
	}
	s.MoveHistory = append(s.MoveHistory, applied)
	s.FEN = board.FEN()
	s.Status = chess.StatusOf(board)
	s.Winner = chess.WinnerOf(board)

	botMove := ""
	if s.Status == chess.StatusOngoing {
		botMove, err = m.engineReply(ctx, s, board)
		if err != nil {
			return nil, err
		}
		s.FEN = board.FEN()
		s.Status = chess.StatusOf(board)
		s.Winner = chess.WinnerOf(board)
	}

	s.UpdatedAt = time.Now()
	if err := m.store.Put(ctx, s); err != nil {
		return nil, err
	}

	m.logger.Info("move played",
		zap.String("game_id", s.ID),
		zap.String("player_move", applied),
		zap.String("bot_move", botMove),
		zap.String("status", string(s.Status)),
	)
	return &MoveResult{Session: s, BotMove: botMove}, nil
}

// StartSweeper evicts sessions idle past ttl. The sweep takes each session's
// lock before re-checking, so it never races an in-flight move. It runs
// until ctx is canceled.
func (m *Manager) StartSweeper(ctx context.Context, interval, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(ctx, ttl)
			}
		}
	}()
}

func (m *Manager) sweep(ctx context.Context, ttl time.Duration) {
	sessions, err := m.store.List(ctx)
	if err != nil {
		m.logger.Warn("idle sweep list failed", zap.Error(err))
		return
	}
	cutoff := time.Now().Add(-ttl)
	for _, s := range sessions {
		if s.UpdatedAt.After(cutoff) {
			continue
		}
		lock := m.sessionLock(s.ID)
		lock.Lock()
		cur, err := m.store.Get(ctx, s.ID)
		if err == nil && !cur.UpdatedAt.After(cutoff) {
			if err := m.store.Delete(ctx, s.ID); err == nil {
				m.dropLock(s.ID)
				m.logger.Info("idle game evicted",
					zap.String("game_id", s.ID),
					zap.Time("last_activity", cur.UpdatedAt),
				)
			}
		}
		lock.Unlock()
	}
}

// engineReply asks the shared engine for its move and applies it to both the
// replayed board and the session record. The engine call is detached from
// request cancellation: once dispatched, a move runs to completion.
func (m *Manager) engineReply(ctx context.Context, s *Session, board *nchess.Game) (string, error) {
	res, err := m.engine.BestMove(context.WithoutCancel(ctx), uci.Request{
		Moves:         s.MoveHistory,
		SkillLevel:    chess.EloToSkill(s.Elo),
		Elo:           s.Elo,
		LimitStrength: !chess.FullStrength(s.Elo),
		MoveTime:      m.tuning.MoveTimeFor(s.Elo),
	})
	if err != nil {
		return "", err
	}

	applied, err := chess.ApplyUCIMove(board, res.Move)
	if err != nil {
		return "", fmt.Errorf("engine move %s rejected: %w", res.Move, err)
	}
	s.MoveHistory = append(s.MoveHistory, applied)
	if res.HasEval {
		v := res.EvalCP
		s.LastEvaluation = &v
	}
	return applied, nil
}

func (m *Manager) markCorrupted(ctx context.Context, s *Session) {
	s.Corrupted = true
	s.UpdatedAt = time.Now()
	if err := m.store.Put(ctx, s); err != nil {
		m.logger.Warn("failed to persist corrupted flag", zap.String("game_id", s.ID), zap.Error(err))
	}
	m.logger.Error("game session corrupted", zap.String("game_id", s.ID), zap.String("fen", s.FEN))
}

func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

func (m *Manager) dropLock(id string) {
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
}
