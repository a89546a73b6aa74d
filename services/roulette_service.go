package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"revealroom/models"
	"revealroom/roulette"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	rouletteKeyPrefix = "roulette:"
	rouletteTTL       = 2 * time.Hour
)

// RouletteService keeps one elimination session per room in Redis so any
// server process can continue it.
type RouletteService struct {
	redis       *redis.Client
	rooms       *RoomService
	votes       *VoteService
	broadcaster Broadcaster
	clock       clockwork.Clock
	newRand     func() roulette.Intner
}

func NewRouletteService(redisClient *redis.Client, rooms *RoomService, votes *VoteService, broadcaster Broadcaster, clock clockwork.Clock) *RouletteService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RouletteService{
		redis:       redisClient,
		rooms:       rooms,
		votes:       votes,
		broadcaster: broadcaster,
		clock:       clock,
	}
}

// WithRandSource makes every engine draw from src. Used in tests.
func (s *RouletteService) WithRandSource(src func() roulette.Intner) *RouletteService {
	s.newRand = src
	return s
}

type RouletteEntry struct {
	VoteID string `json:"voteId"`
	Name   string `json:"name"`
}

// RouletteSession is the stored state of a room's roulette.
type RouletteSession struct {
	RoomID    string            `json:"roomId"`
	Category  models.Category   `json:"category"`
	Entries   []RouletteEntry   `json:"entries"`
	State     roulette.Snapshot `json:"state"`
	StartedAt time.Time         `json:"startedAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

type RouletteSpin struct {
	Session *RouletteSession `json:"roulette"`
	Round   roulette.Round   `json:"round"`
}

func (s *RouletteSession) voteID(name string) string {
	for _, e := range s.Entries {
		if e.Name == name {
			return e.VoteID
		}
	}
	return ""
}

// Start seeds a new session from the room's correct guesses, replacing any
// previous one and clearing earlier outcomes. The room must be revealed, so
// the session never exposes the answer early.
func (s *RouletteService) Start(ctx context.Context, roomID string) (*RouletteSession, error) {
	category, err := s.rooms.RevealedCategory(ctx, roomID)
	if err != nil {
		return nil, err
	}

	correct, err := s.votes.CorrectGuesses(ctx, roomID, category)
	if err != nil {
		return nil, err
	}
	if err := s.votes.ResetOutcomes(ctx, roomID); err != nil {
		return nil, err
	}

	entries := make([]RouletteEntry, len(correct))
	names := make([]string, len(correct))
	for i, v := range correct {
		entries[i] = RouletteEntry{VoteID: v.ID, Name: v.Name}
		names[i] = v.Name
	}

	engine := roulette.New(names, s.engineOptions()...)
	now := s.clock.Now().UTC()
	session := &RouletteSession{
		RoomID:    roomID,
		Category:  category,
		Entries:   entries,
		State:     engine.Snapshot(),
		StartedAt: now,
		UpdatedAt: now,
	}

	if err := s.markWinner(ctx, session, engine); err != nil {
		return nil, err
	}
	if err := s.store(ctx, session); err != nil {
		return nil, err
	}

	log.Info().Str("room_id", roomID).Int("participants", len(names)).Str("phase", string(engine.Phase())).Msg("roulette started")
	s.publish(ctx, session)
	return session, nil
}

// Spin plays one elimination round. Concurrent spins on the same room are
// serialized through a Redis WATCH on the session key; the loser gets a
// Conflict.
func (s *RouletteService) Spin(ctx context.Context, roomID string) (*RouletteSpin, error) {
	key := rouletteKeyPrefix + roomID
	var result RouletteSpin

	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		session, err := s.load(ctx, tx, roomID)
		if err != nil {
			return err
		}

		engine, err := roulette.Restore(session.State, s.engineOptions()...)
		if err != nil {
			return fmt.Errorf("restore roulette: %w", err)
		}

		round, err := engine.Play()
		if err != nil {
			return rouletteError(err)
		}

		session.State = engine.Snapshot()
		session.UpdatedAt = s.clock.Now().UTC()

		data, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("marshal roulette: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, rouletteTTL)
			return nil
		})
		if err != nil {
			return err
		}

		result = RouletteSpin{Session: session, Round: round}
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, Conflict("Roulette changed while spinning, try again")
	}
	if err != nil {
		return nil, err
	}

	if id := result.Session.voteID(result.Round.Eliminated); id != "" {
		if err := s.votes.MarkOutcome(ctx, id, models.OutcomeEliminated); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Str("vote_id", id).Msg("failed to annotate eliminated vote")
		}
	}
	if result.Round.Winner != "" {
		if id := result.Session.voteID(result.Round.Winner); id != "" {
			if err := s.votes.MarkOutcome(ctx, id, models.OutcomeWinner); err != nil {
				log.Warn().Err(err).Str("room_id", roomID).Str("vote_id", id).Msg("failed to annotate winner")
			}
		}
		log.Info().Str("room_id", roomID).Int("rounds", result.Round.Number).Msg("roulette winner declared")
	}

	s.publish(ctx, result.Session)
	return &result, nil
}

// Reset restores every participant of the current session and clears the
// ledger annotations.
func (s *RouletteService) Reset(ctx context.Context, roomID string) (*RouletteSession, error) {
	session, err := s.load(ctx, s.redis, roomID)
	if err != nil {
		return nil, err
	}

	engine, err := roulette.Restore(session.State, s.engineOptions()...)
	if err != nil {
		return nil, fmt.Errorf("restore roulette: %w", err)
	}
	engine.Reset()

	if err := s.votes.ResetOutcomes(ctx, roomID); err != nil {
		return nil, err
	}

	session.State = engine.Snapshot()
	session.UpdatedAt = s.clock.Now().UTC()
	if err := s.markWinner(ctx, session, engine); err != nil {
		return nil, err
	}
	if err := s.store(ctx, session); err != nil {
		return nil, err
	}

	log.Info().Str("room_id", roomID).Msg("roulette reset")
	s.publish(ctx, session)
	return session, nil
}

func (s *RouletteService) State(ctx context.Context, roomID string) (*RouletteSession, error) {
	return s.load(ctx, s.redis, roomID)
}

// Discard drops the room's session, if any.
func (s *RouletteService) Discard(ctx context.Context, roomID string) error {
	return s.redis.Del(ctx, rouletteKeyPrefix+roomID).Err()
}

func (s *RouletteService) engineOptions() []roulette.Option {
	if s.newRand == nil {
		return nil
	}
	return []roulette.Option{roulette.WithRand(s.newRand())}
}

// markWinner annotates a winner declared without any round, which happens
// when exactly one participant guessed right.
func (s *RouletteService) markWinner(ctx context.Context, session *RouletteSession, engine *roulette.Engine) error {
	winner, ok := engine.Winner()
	if !ok {
		return nil
	}
	if id := session.voteID(winner); id != "" {
		return s.votes.MarkOutcome(ctx, id, models.OutcomeWinner)
	}
	return nil
}

func (s *RouletteService) store(ctx context.Context, session *RouletteSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal roulette: %w", err)
	}
	if err := s.redis.Set(ctx, rouletteKeyPrefix+session.RoomID, data, rouletteTTL).Err(); err != nil {
		return fmt.Errorf("store roulette: %w", err)
	}
	return nil
}

func (s *RouletteService) load(ctx context.Context, r sessionReader, roomID string) (*RouletteSession, error) {
	data, err := r.Get(ctx, rouletteKeyPrefix+roomID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, NotFound("Roulette session")
		}
		return nil, fmt.Errorf("load roulette: %w", err)
	}

	var session RouletteSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode roulette: %w", err)
	}
	return &session, nil
}

// sessionReader is satisfied by both *redis.Client and *redis.Tx.
type sessionReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RouletteService) publish(ctx context.Context, session *RouletteSession) {
	s.broadcaster.Publish(ctx, session.RoomID, EventRouletteUpdated, map[string]interface{}{
		"roulette":  session,
		"timestamp": s.clock.Now().UTC(),
	})
}

func rouletteError(err error) error {
	switch {
	case errors.Is(err, roulette.ErrNoParticipants):
		return BadRequest("Nobody guessed the category, there is no one to spin")
	case errors.Is(err, roulette.ErrFinished):
		return Conflict("A winner has already been declared")
	default:
		return err
	}
}
