// Package uci owns the external engine subprocess. The wire protocol is
// stateful and carries no request correlation, so a single handle serializes
// every search and always re-sends strength and position before searching.
package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	searchGracePeriod       = 2 * time.Second
	mateValue               = 30000
)

var (
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrEngineFatal       = errors.New("engine fatal")
)

// State describes the handle's view of the subprocess.
type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateBusy     State = "busy"
	StateCrashed  State = "crashed"
)

type Config struct {
	BinaryPath       string
	Threads          int
	HashMB           int
	RestartAttempts  int
	HandshakeTimeout time.Duration
	Logger           *zap.Logger
}

// Request is one strength-bounded search. FEN may be "" or "startpos"; Moves
// extend it. Strength options are applied on every request, never inherited.
type Request struct {
	FEN           string
	Moves         []string
	SkillLevel    int
	Elo           int
	LimitStrength bool
	MoveTime      time.Duration
}

type Result struct {
	Move    string
	EvalCP  int
	HasEval bool
}

// Handle wraps one engine process. The search mutex is the global queue: all
// BestMove calls across all games pass through it one at a time.
type Handle struct {
	cfg    Config
	logger *zap.Logger

	search sync.Mutex

	mu    sync.Mutex
	proc  *process
	state State
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

// New launches and handshakes the engine. A missing or unresponsive binary
// fails with ErrEngineUnavailable so the service can refuse to start.
func New(ctx context.Context, cfg Config) (*Handle, error) {
	if strings.TrimSpace(cfg.BinaryPath) == "" {
		return nil, fmt.Errorf("%w: binary path required", ErrEngineUnavailable)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	if cfg.HashMB <= 0 {
		cfg.HashMB = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	h := &Handle{cfg: cfg, logger: cfg.Logger, state: StateStarting}
	proc, err := h.spawn(ctx)
	if err != nil {
		h.setState(StateCrashed)
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	h.install(proc)
	return h, nil
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Ready reports whether the handle can accept searches.
func (h *Handle) Ready() bool {
	s := h.State()
	return s == StateReady || s == StateBusy
}

// BestMove runs one serialized search. Protocol or I/O failures kill the
// process and retry on a fresh one up to RestartAttempts times; exhaustion
// surfaces ErrEngineFatal and leaves the handle crashed until a later call's
// restart succeeds. The watchdog bounds the wait even if the engine hangs.
func (h *Handle) BestMove(ctx context.Context, req Request) (Result, error) {
	if req.MoveTime <= 0 {
		return Result{}, fmt.Errorf("move time budget required")
	}

	h.search.Lock()
	defer h.search.Unlock()

	for attempt := 0; ; attempt++ {
		proc, err := h.ensureProcess(ctx)
		if err == nil {
			h.setState(StateBusy)
			var res Result
			res, err = h.runSearch(ctx, proc, req)
			if err == nil {
				h.setState(StateReady)
				return res, nil
			}
			h.destroy(proc)
		}

		if attempt >= h.cfg.RestartAttempts {
			h.setState(StateCrashed)
			return Result{}, fmt.Errorf("%w: %v", ErrEngineFatal, err)
		}
		h.logger.Warn("engine search failed, restarting",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", h.cfg.RestartAttempts),
			zap.Error(err),
		)
	}
}

// Close terminates the subprocess.
func (h *Handle) Close() error {
	h.search.Lock()
	defer h.search.Unlock()

	h.mu.Lock()
	proc := h.proc
	h.proc = nil
	h.state = StateCrashed
	h.mu.Unlock()

	if proc == nil {
		return nil
	}
	return proc.close()
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Handle) install(proc *process) {
	h.mu.Lock()
	h.proc = proc
	h.state = StateReady
	h.mu.Unlock()
}

func (h *Handle) ensureProcess(ctx context.Context) (*process, error) {
	h.mu.Lock()
	proc := h.proc
	h.mu.Unlock()
	if proc != nil {
		return proc, nil
	}

	h.setState(StateStarting)
	proc, err := h.spawn(ctx)
	if err != nil {
		h.setState(StateCrashed)
		return nil, err
	}
	h.install(proc)
	h.logger.Info("engine process started", zap.String("binary", h.cfg.BinaryPath))
	return proc, nil
}

func (h *Handle) destroy(proc *process) {
	h.mu.Lock()
	if h.proc == proc {
		h.proc = nil
	}
	h.mu.Unlock()
	_ = proc.close()
}

func (h *Handle) spawn(ctx context.Context) (*process, error) {
	cmd := exec.Command(h.cfg.BinaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	proc := &process{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdoutPipe)}
	if err := h.handshake(ctx, proc); err != nil {
		_ = proc.close()
		return nil, err
	}
	return proc, nil
}

func (h *Handle) handshake(ctx context.Context, proc *process) error {
	hsCtx, cancel := context.WithTimeout(ctx, h.cfg.HandshakeTimeout)
	defer cancel()

	if err := proc.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := proc.awaitToken(hsCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}

	opts := []string{
		fmt.Sprintf("setoption name Threads value %d\n", h.cfg.Threads),
		fmt.Sprintf("setoption name Hash value %d\n", h.cfg.HashMB),
	}
	for _, opt := range opts {
		if err := proc.send(opt); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}

	if err := proc.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := proc.awaitToken(hsCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (h *Handle) runSearch(ctx context.Context, proc *process, req Request) (Result, error) {
	searchCtx, cancel := context.WithTimeout(ctx, req.MoveTime+searchGracePeriod)
	defer cancel()

	for _, opt := range strengthOptions(req) {
		if err := proc.send(opt); err != nil {
			return Result{}, fmt.Errorf("send strength options: %w", err)
		}
	}

	if err := proc.send(buildPositionCommand(req.FEN, req.Moves)); err != nil {
		return Result{}, fmt.Errorf("send position: %w", err)
	}
	goCmd := fmt.Sprintf("go movetime %d\n", req.MoveTime.Milliseconds())
	if err := proc.send(goCmd); err != nil {
		return Result{}, fmt.Errorf("send go: %w", err)
	}

	var res Result
	for {
		line, err := proc.readLine(searchCtx)
		if err != nil {
			return Result{}, fmt.Errorf("read line: %w", err)
		}
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "info "):
			if cp, ok := parseScore(line); ok {
				res.EvalCP = cp
				res.HasEval = true
			}
		case strings.HasPrefix(line, "bestmove"):
			parts := strings.Fields(line)
			if len(parts) < 2 || parts[1] == "(none)" {
				return Result{}, fmt.Errorf("engine returned no move: %q", line)
			}
			res.Move = strings.ToLower(parts[1])
			return res, nil
		}
	}
}

func strengthOptions(req Request) []string {
	if !req.LimitStrength {
		return []string{
			"setoption name Skill Level value 20\n",
			"setoption name UCI_LimitStrength value false\n",
		}
	}
	return []string{
		fmt.Sprintf("setoption name Skill Level value %d\n", req.SkillLevel),
		"setoption name UCI_LimitStrength value true\n",
		fmt.Sprintf("setoption name UCI_Elo value %d\n", req.Elo),
	}
}

func buildPositionCommand(fen string, moves []string) string {
	var sb strings.Builder
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(fen)
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	sb.WriteString("\n")
	return sb.String()
}

// parseScore extracts the centipawn score from an info line. Mate scores
// collapse to +/-mateValue.
func parseScore(line string) (int, bool) {
	parts := strings.Fields(line)
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] != "score" {
			continue
		}
		kind, val := parts[i+1], parts[i+2]
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0, false
		}
		switch kind {
		case "cp":
			return n, true
		case "mate":
			if n >= 0 {
				return mateValue, true
			}
			return -mateValue, true
		}
		return 0, false
	}
	return 0, false
}

func (p *process) send(msg string) error {
	_, err := io.WriteString(p.stdin, msg)
	return err
}

func (p *process) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := p.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (p *process) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		line, err := p.stdout.ReadString('\n')
		ch <- result{line: strings.TrimSpace(line), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return res.line, res.err
	}
}

func (p *process) close() error {
	if p.stdin != nil {
		p.stdin.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	if p.cmd == nil {
		return nil
	}
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// The process was just killed; a non-zero exit is the expected end.
		return nil
	}
	return err
}
