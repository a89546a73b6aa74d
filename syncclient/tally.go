package syncclient

import (
	"sort"
	"sync"

	"revealroom/models"
)

// Tally is a client's view of a room's votes, keyed by vote id so repeated
// deliveries of the same event change nothing.
type Tally struct {
	mu    sync.RWMutex
	votes map[string]models.Vote
}

func NewTally() *Tally {
	return &Tally{votes: make(map[string]models.Vote)}
}

// Apply adds or replaces v and reports whether it was new.
func (t *Tally) Apply(v models.Vote) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exists := t.votes[v.ID]
	t.votes[v.ID] = v
	return !exists
}

// Remove drops id. Removing an absent id is a no-op.
func (t *Tally) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.votes[id]; !ok {
		return false
	}
	delete(t.votes, id)
	return true
}

// Reconcile replaces the whole view with an authoritative list.
func (t *Tally) Reconcile(votes []models.Vote) {
	next := make(map[string]models.Vote, len(votes))
	for _, v := range votes {
		next[v.ID] = v
	}
	t.mu.Lock()
	t.votes = next
	t.mu.Unlock()
}

func (t *Tally) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.votes)
}

// Votes returns the votes newest first.
func (t *Tally) Votes() []models.Vote {
	t.mu.RLock()
	out := make([]models.Vote, 0, len(t.votes))
	for _, v := range t.votes {
		out = append(out, v)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (t *Tally) Counts() map[models.Category]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	counts := make(map[models.Category]int)
	for _, v := range t.votes {
		counts[v.Category]++
	}
	return counts
}
