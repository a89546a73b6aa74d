// Package roulette picks one winner from a fixed set of participants by
// removing one participant at random per round.
//
// An Engine is not safe for concurrent use; callers that share one must
// serialize access.
package roulette

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

type Phase string

const (
	PhaseEmpty       Phase = "empty"
	PhaseIdle        Phase = "idle"
	PhaseSpinning    Phase = "spinning"
	PhaseRoundResult Phase = "roundResult"
	PhaseDone        Phase = "done"
)

func (p Phase) valid() bool {
	switch p {
	case PhaseEmpty, PhaseIdle, PhaseSpinning, PhaseRoundResult, PhaseDone:
		return true
	}
	return false
}

var (
	ErrNoParticipants = errors.New("roulette: no participants")
	ErrFinished       = errors.New("roulette: winner already declared")
	ErrNotSpinning    = errors.New("roulette: no spin in progress")
	ErrBusy           = errors.New("roulette: round in progress")
)

// Intner is the random source. *rand.Rand satisfies it.
type Intner interface {
	Intn(n int) int
}

// Round is the result of one elimination.
type Round struct {
	Number          int      `json:"number"`
	EliminatedIndex int      `json:"eliminatedIndex"`
	Eliminated      string   `json:"eliminated"`
	Remaining       []string `json:"remaining"`
	Winner          string   `json:"winner,omitempty"`
}

type Engine struct {
	participants []string
	remaining    []string
	phase        Phase
	pending      int
	rounds       []Round
	winner       string

	rng      Intner
	onWinner func(string)
}

type Option func(*Engine)

// WithRand sets the random source. The default is seeded from the clock.
func WithRand(r Intner) Option {
	return func(e *Engine) {
		e.rng = r
	}
}

// OnWinner registers fn to be called once when a winner is declared.
func OnWinner(fn func(winner string)) Option {
	return func(e *Engine) {
		e.onWinner = fn
	}
}

// New returns an engine over participants. A single participant wins
// immediately without any round; no participants leaves the engine empty.
func New(participants []string, opts ...Option) *Engine {
	e := &Engine{participants: append([]string(nil), participants...)}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	e.start()
	return e
}

func (e *Engine) start() {
	e.remaining = append([]string(nil), e.participants...)
	e.rounds = nil
	e.winner = ""
	e.pending = -1

	switch len(e.remaining) {
	case 0:
		e.phase = PhaseEmpty
	case 1:
		e.declare(e.remaining[0])
	default:
		e.phase = PhaseIdle
	}
}

func (e *Engine) declare(winner string) {
	e.phase = PhaseDone
	e.winner = winner
	if e.onWinner != nil {
		e.onWinner(winner)
	}
}

// Spin picks the index, within the remaining participants, of the one to
// eliminate. The elimination takes effect on Settle.
func (e *Engine) Spin() (int, error) {
	switch e.phase {
	case PhaseEmpty:
		return -1, ErrNoParticipants
	case PhaseDone:
		return -1, ErrFinished
	case PhaseSpinning, PhaseRoundResult:
		return -1, ErrBusy
	}

	e.pending = e.rng.Intn(len(e.remaining))
	e.phase = PhaseSpinning
	return e.pending, nil
}

// Settle removes the participant chosen by Spin. When one participant is
// left it is declared the winner.
func (e *Engine) Settle() (Round, error) {
	if e.phase != PhaseSpinning {
		return Round{}, ErrNotSpinning
	}

	idx := e.pending
	eliminated := e.remaining[idx]
	e.remaining = append(e.remaining[:idx:idx], e.remaining[idx+1:]...)
	e.pending = -1

	round := Round{
		Number:          len(e.rounds) + 1,
		EliminatedIndex: idx,
		Eliminated:      eliminated,
		Remaining:       append([]string(nil), e.remaining...),
	}

	if len(e.remaining) == 1 {
		round.Winner = e.remaining[0]
		e.rounds = append(e.rounds, round)
		e.declare(round.Winner)
		return round, nil
	}

	e.rounds = append(e.rounds, round)
	e.phase = PhaseRoundResult
	return round, nil
}

// Next leaves the round result and waits for the next spin.
func (e *Engine) Next() error {
	switch e.phase {
	case PhaseRoundResult:
		e.phase = PhaseIdle
		return nil
	case PhaseIdle:
		return nil
	case PhaseEmpty:
		return ErrNoParticipants
	case PhaseDone:
		return ErrFinished
	default:
		return ErrBusy
	}
}

// Play runs one whole round: Next if needed, Spin and Settle.
func (e *Engine) Play() (Round, error) {
	if e.phase == PhaseRoundResult {
		e.phase = PhaseIdle
	}
	if _, err := e.Spin(); err != nil {
		return Round{}, err
	}
	return e.Settle()
}

// Reset restores the full participant set and clears any winner.
func (e *Engine) Reset() {
	e.start()
}

func (e *Engine) Phase() Phase { return e.phase }

func (e *Engine) Participants() []string {
	return append([]string(nil), e.participants...)
}

func (e *Engine) Remaining() []string {
	return append([]string(nil), e.remaining...)
}

func (e *Engine) Rounds() []Round {
	return append([]Round(nil), e.rounds...)
}

func (e *Engine) Winner() (string, bool) {
	return e.winner, e.phase == PhaseDone
}

// Snapshot is the serializable state of an engine.
type Snapshot struct {
	Participants []string `json:"participants"`
	Remaining    []string `json:"remaining"`
	Phase        Phase    `json:"phase"`
	Pending      int      `json:"pending"`
	Rounds       []Round  `json:"rounds"`
	Winner       string   `json:"winner,omitempty"`
}

func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Participants: e.Participants(),
		Remaining:    e.Remaining(),
		Phase:        e.phase,
		Pending:      e.pending,
		Rounds:       e.Rounds(),
		Winner:       e.winner,
	}
}

// Restore rebuilds an engine from s. The winner callback does not fire for a
// snapshot that is already done.
func Restore(s Snapshot, opts ...Option) (*Engine, error) {
	if !s.Phase.valid() {
		return nil, fmt.Errorf("roulette: unknown phase %q", s.Phase)
	}
	if err := checkSubset(s.Remaining, s.Participants); err != nil {
		return nil, err
	}

	switch s.Phase {
	case PhaseEmpty:
		if len(s.Participants) != 0 {
			return nil, fmt.Errorf("roulette: empty phase with %d participants", len(s.Participants))
		}
	case PhaseDone:
		if len(s.Remaining) != 1 || s.Remaining[0] != s.Winner {
			return nil, fmt.Errorf("roulette: done phase without a single winner")
		}
	case PhaseSpinning:
		if s.Pending < 0 || s.Pending >= len(s.Remaining) {
			return nil, fmt.Errorf("roulette: pending index %d out of range", s.Pending)
		}
	default:
		if len(s.Remaining) < 2 {
			return nil, fmt.Errorf("roulette: phase %s needs at least two remaining", s.Phase)
		}
	}

	e := &Engine{
		participants: append([]string(nil), s.Participants...),
		remaining:    append([]string(nil), s.Remaining...),
		phase:        s.Phase,
		pending:      s.Pending,
		rounds:       append([]Round(nil), s.Rounds...),
		winner:       s.Winner,
	}
	if e.phase != PhaseSpinning {
		e.pending = -1
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return e, nil
}

func checkSubset(remaining, participants []string) error {
	pool := make(map[string]int, len(participants))
	for _, p := range participants {
		pool[p]++
	}
	for _, r := range remaining {
		if pool[r] == 0 {
			return fmt.Errorf("roulette: %q is not a participant", r)
		}
		pool[r]--
	}
	return nil
}
