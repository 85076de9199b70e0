package room

import (
	"encoding/json"
	"sort"
)

// rosterEntry records when a player joined.
type rosterEntry struct {
	JoinedAt int64 `json:"joinedAt"`
}

// roomState is the serialized shape of one room. It is mutated exclusively
// by the owning actor. Roster, host and game-state changes are persisted
// within the same command; player-state changes are persisted on the next
// dirty tick, so the snapshot may lag them by one tick.
type roomState struct {
	GameID       string                     `json:"gameId"`
	Code         string                     `json:"code"`
	HostID       string                     `json:"hostId"`
	CreatedAt    int64                      `json:"createdAt"`
	Roster       map[string]rosterEntry     `json:"roster"`
	PlayerStates map[string]json.RawMessage `json:"playerStates"`
	GameState    json.RawMessage            `json:"gameState"`
}

// normalize zero-fills fields absent from older snapshots.
func (r *roomState) normalize() {
	if r.Roster == nil {
		r.Roster = make(map[string]rosterEntry)
	}
	if r.PlayerStates == nil {
		r.PlayerStates = make(map[string]json.RawMessage)
	}
}

// summary builds the room block used by connected frames and info responses.
func (r *roomState) summary() RoomSummary {
	players := make([]string, 0, len(r.Roster))
	for id := range r.Roster {
		players = append(players, id)
	}
	sort.Strings(players)
	return RoomSummary{
		GameID:      r.GameID,
		HostID:      r.HostID,
		CreatedAt:   r.CreatedAt,
		Players:     players,
		PlayerCount: len(r.Roster),
	}
}

// nextHost picks the successor when the host leaves: the remaining player
// with the smallest joinedAt, ties broken by lexicographic player ID so the
// choice is deterministic at millisecond timestamp resolution.
func (r *roomState) nextHost() string {
	best := ""
	var bestJoined int64
	for id, entry := range r.Roster {
		if best == "" ||
			entry.JoinedAt < bestJoined ||
			(entry.JoinedAt == bestJoined && id < best) {
			best = id
			bestJoined = entry.JoinedAt
		}
	}
	return best
}
