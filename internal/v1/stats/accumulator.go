// Package stats accumulates session and room events into per-game rolling
// counters and unique-player sets. Updates are not serialized per game, so
// counter mutations go through the store's optimistic read-modify-write.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/metrics"
	"github.com/traybueno/watchtower-api/internal/v1/store"
)

// Event names accepted by the accumulator.
const (
	EventSessionStart = "session_start"
	EventSessionEnd   = "session_end"
	EventRoomCreate   = "room_create"
	EventRoomClose    = "room_close"
	EventRoomJoin     = "room_join"
	EventRoomLeave    = "room_leave"
)

var allowedEvents = set.New(
	EventSessionStart,
	EventSessionEnd,
	EventRoomCreate,
	EventRoomClose,
	EventRoomJoin,
	EventRoomLeave,
)

// ErrUnknownEvent is returned for event names outside the accepted set.
var ErrUnknownEvent = errors.New("stats: unknown event")

// Retention on unique-player sets: a day plus a day of grace, a month plus
// five days of grace.
const (
	dailyTTL   = 48 * time.Hour
	monthlyTTL = 35 * 24 * time.Hour
)

// Counters is the per-game counter record at stats:<gameId>.
type Counters struct {
	Online    int64 `json:"online"`
	InRooms   int64 `json:"inRooms"`
	Rooms     int64 `json:"rooms"`
	Total     int64 `json:"total"`
	UpdatedAt int64 `json:"updatedAt"`
}

// PlayerRecord is the per-player record at stats:<gameId>:player:<playerId>.
type PlayerRecord struct {
	FirstSeen int64 `json:"firstSeen"`
	LastSeen  int64 `json:"lastSeen"`
	Sessions  int64 `json:"sessions"`
	Playtime  int64 `json:"playtime"`
}

// Accumulator is the event sink for one deployment.
type Accumulator struct {
	store *store.Store
	now   func() time.Time
}

// NewAccumulator creates an Accumulator over the shared store.
func NewAccumulator(s *store.Store) *Accumulator {
	return &Accumulator{store: s, now: time.Now}
}

// Track applies one event for (gameID, playerID). Room-level events ignore
// playerID. The contract is the final counter state, not the interleaving.
func (a *Accumulator) Track(ctx context.Context, gameID, playerID, event string) error {
	if !allowedEvents.Has(event) {
		metrics.StatsEvents.WithLabelValues(event, "rejected").Inc()
		return ErrUnknownEvent
	}

	var err error
	switch event {
	case EventSessionStart:
		err = a.sessionStart(ctx, gameID, playerID)
	case EventSessionEnd:
		err = a.sessionEnd(ctx, gameID, playerID)
	case EventRoomCreate:
		err = a.bumpCounter(ctx, gameID, func(c *Counters) { c.Rooms++ })
	case EventRoomClose:
		err = a.bumpCounter(ctx, gameID, func(c *Counters) { c.Rooms = clamp(c.Rooms - 1) })
	case EventRoomJoin:
		err = a.bumpCounter(ctx, gameID, func(c *Counters) { c.InRooms++ })
	case EventRoomLeave:
		err = a.bumpCounter(ctx, gameID, func(c *Counters) { c.InRooms = clamp(c.InRooms - 1) })
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.StatsEvents.WithLabelValues(event, status).Inc()
	return err
}

func (a *Accumulator) sessionStart(ctx context.Context, gameID, playerID string) error {
	now := a.now()

	if _, err := a.store.SetAdd(ctx, store.StatsDailyKey(gameID, dayStamp(now)), playerID, dailyTTL); err != nil {
		return err
	}
	if _, err := a.store.SetAdd(ctx, store.StatsMonthlyKey(gameID, monthStamp(now)), playerID, monthlyTTL); err != nil {
		return err
	}

	// Upsert the per-player record; remember whether the player is new so
	// the lifetime total only counts first sightings.
	newPlayer := false
	err := a.store.UpdateJSON(ctx, store.StatsPlayerKey(gameID, playerID), func(current []byte) (any, error) {
		var rec PlayerRecord
		if current == nil {
			newPlayer = true
			rec.FirstSeen = now.UnixMilli()
		} else if err := json.Unmarshal(current, &rec); err != nil {
			return nil, err
		}
		rec.LastSeen = now.UnixMilli()
		rec.Sessions++
		return rec, nil
	})
	if err != nil {
		return err
	}

	return a.bumpCounter(ctx, gameID, func(c *Counters) {
		c.Online++
		if newPlayer {
			c.Total++
		}
	})
}

func (a *Accumulator) sessionEnd(ctx context.Context, gameID, playerID string) error {
	now := a.now()

	if playerID != "" {
		// Credit playtime for the interval since the session started. The
		// per-player lastSeen was refreshed on session_start, so the delta
		// approximates this session's duration.
		err := a.store.UpdateJSON(ctx, store.StatsPlayerKey(gameID, playerID), func(current []byte) (any, error) {
			var rec PlayerRecord
			if current == nil {
				rec.FirstSeen = now.UnixMilli()
			} else if err := json.Unmarshal(current, &rec); err != nil {
				return nil, err
			}
			if rec.LastSeen > 0 && rec.LastSeen <= now.UnixMilli() {
				rec.Playtime += (now.UnixMilli() - rec.LastSeen) / 1000
			}
			rec.LastSeen = now.UnixMilli()
			return rec, nil
		})
		if err != nil {
			return err
		}
	}

	return a.bumpCounter(ctx, gameID, func(c *Counters) { c.Online = clamp(c.Online - 1) })
}

// bumpCounter applies mutate to the per-game counter record under CAS.
func (a *Accumulator) bumpCounter(ctx context.Context, gameID string, mutate func(*Counters)) error {
	return a.store.UpdateJSON(ctx, store.StatsKey(gameID), func(current []byte) (any, error) {
		var c Counters
		if current != nil {
			if err := json.Unmarshal(current, &c); err != nil {
				return nil, err
			}
		}
		mutate(&c)
		c.UpdatedAt = a.now().UnixMilli()
		return c, nil
	})
}

// GameStats is the reader-surface shape for one game.
type GameStats struct {
	Counters
	Today     int64 `json:"today"`
	ThisMonth int64 `json:"thisMonth"`
}

// GameStats returns the current counters plus the unique-player cardinality
// for today and this month. Absent fields read as zero.
func (a *Accumulator) GameStats(ctx context.Context, gameID string) (GameStats, error) {
	var out GameStats

	err := a.store.GetJSON(ctx, store.StatsKey(gameID), &out.Counters)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return GameStats{}, err
	}

	now := a.now()
	today, err := a.store.SetCard(ctx, store.StatsDailyKey(gameID, dayStamp(now)))
	if err != nil {
		return GameStats{}, err
	}
	month, err := a.store.SetCard(ctx, store.StatsMonthlyKey(gameID, monthStamp(now)))
	if err != nil {
		return GameStats{}, err
	}
	out.Today = today
	out.ThisMonth = month
	return out, nil
}

// PlayerStats returns the per-player record, zero-valued when absent.
func (a *Accumulator) PlayerStats(ctx context.Context, gameID, playerID string) (PlayerRecord, error) {
	var rec PlayerRecord
	err := a.store.GetJSON(ctx, store.StatsPlayerKey(gameID, playerID), &rec)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return PlayerRecord{}, err
	}
	return rec, nil
}

// Sink is the narrow interface the transport and room layers emit into.
type Sink interface {
	Track(ctx context.Context, gameID, playerID, event string) error
}

// AsyncTrack applies an event in the background, logging failures. Used on
// hot paths where stats must never block the caller.
func AsyncTrack(a Sink, gameID, playerID, event string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Track(ctx, gameID, playerID, event); err != nil {
			logging.Warn(ctx, "Stats event dropped",
				zap.String("event", event),
				zap.String("game_id", gameID),
				zap.Error(err))
		}
	}()
}

func dayStamp(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func monthStamp(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
