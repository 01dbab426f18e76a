package memory

import (
	"context"
	"sync"

	"gallows/contexts/game-moderation/vote-engine/domain/entities"
	domainerrors "gallows/contexts/game-moderation/vote-engine/domain/errors"
	"gallows/contexts/game-moderation/vote-engine/ports"
)

// Roster is an in-memory player liveness store with stable listing order.
// The engine only mutates it through Kill; everything else is seeded by the
// host.
type Roster struct {
	mu      sync.RWMutex
	players map[entities.PlayerID]ports.Player
	order   []entities.PlayerID
	causes  map[entities.PlayerID]string
}

func NewRoster(seed []ports.Player) *Roster {
	roster := &Roster{
		players: make(map[entities.PlayerID]ports.Player, len(seed)),
		order:   make([]entities.PlayerID, 0, len(seed)),
		causes:  make(map[entities.PlayerID]string),
	}
	for _, player := range seed {
		if _, ok := roster.players[player.ID]; !ok {
			roster.order = append(roster.order, player.ID)
		}
		roster.players[player.ID] = player
	}
	return roster
}

func (r *Roster) GetPlayer(_ context.Context, id entities.PlayerID) (ports.Player, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	player, ok := r.players[id]
	return player, ok, nil
}

func (r *Roster) ListAlive(_ context.Context) ([]ports.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alive := make([]ports.Player, 0, len(r.order))
	for _, id := range r.order {
		if player := r.players[id]; player.Alive {
			alive = append(alive, player)
		}
	}
	return alive, nil
}

func (r *Roster) Kill(_ context.Context, id entities.PlayerID, cause string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	player, ok := r.players[id]
	if !ok {
		return domainerrors.ErrInvalidTarget
	}
	if !player.Alive {
		return domainerrors.ErrAlreadyDead
	}
	player.Alive = false
	r.players[id] = player
	r.causes[id] = cause
	return nil
}

// DeathCause reports the recorded cause for a dead player, for tests and
// moderator inspection.
func (r *Roster) DeathCause(id entities.PlayerID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cause, ok := r.causes[id]
	return cause, ok
}

// Revive restores a player, for moderator corrections.
func (r *Roster) Revive(id entities.PlayerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	player, ok := r.players[id]
	if !ok {
		return
	}
	player.Alive = true
	r.players[id] = player
	delete(r.causes, id)
}

var _ ports.Roster = (*Roster)(nil)

// Phases is a host-scripted phase source. The engine treats turn and phase
// as externally owned; tests and the worker host advance them directly.
type Phases struct {
	mu    sync.RWMutex
	turn  int
	phase string
}

func NewPhases(turn int, phase string) *Phases {
	return &Phases{turn: turn, phase: phase}
}

func (p *Phases) CurrentTurn(_ context.Context) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.turn, nil
}

func (p *Phases) CurrentPhase(_ context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.phase, nil
}

func (p *Phases) Set(turn int, phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turn = turn
	p.phase = phase
}

var _ ports.PhaseSource = (*Phases)(nil)
