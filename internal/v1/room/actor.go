package room

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/metrics"
	"github.com/traybueno/watchtower-api/internal/v1/stats"
	"github.com/traybueno/watchtower-api/internal/v1/store"
)

var (
	// ErrRoomExists is returned by create when the room is already initialized.
	ErrRoomExists = errors.New("room: already exists")
	// ErrRoomNotFound is returned when no room lives behind a code.
	ErrRoomNotFound = errors.New("room: not found")
	// errActorStopped signals the actor hibernated before the command ran;
	// the hub retries against a fresh actor.
	errActorStopped = errors.New("room: actor stopped")
)

// idleGrace is how long an actor with no attached sessions lingers before
// hibernating. Its snapshot stays in storage, so the next message
// resurrects the room intact.
const idleGrace = 5 * time.Minute

type cmdKind int

const (
	cmdCreate cmdKind = iota
	cmdInfo
	cmdJoin
	cmdAttach
	cmdFrame
	cmdDetach
	cmdShutdown
)

type result struct {
	err     error
	summary RoomSummary
}

type command struct {
	kind     cmdKind
	playerID string
	client   *Client
	data     []byte
	reply    chan result
}

// Actor owns one room. All ingress — HTTP operations, WebSocket frames,
// closes — is serialized through its inbox, and ticks arrive from a ticker
// on the same run goroutine; exactly one command or tick is handled at a
// time, so roster and state mutations plus their snapshot write never
// interleave.
type Actor struct {
	gameID string
	code   string

	store  *store.Store
	stats  stats.Sink
	tick   time.Duration
	onStop func()

	inbox chan command
	done  chan struct{}

	// Owned by the run goroutine. A nil room means no room exists behind
	// this code (not yet created, or destroyed).
	room     *roomState
	sessions map[string]*Client
	dirty    bool
	stopping bool
}

// newActor spawns the actor goroutine. The snapshot (if any) is loaded
// before the first command is handled.
func newActor(gameID, code string, st *store.Store, sink stats.Sink, tick time.Duration, onStop func()) *Actor {
	a := &Actor{
		gameID:   gameID,
		code:     code,
		store:    st,
		stats:    sink,
		tick:     tick,
		onStop:   onStop,
		inbox:    make(chan command, 64),
		done:     make(chan struct{}),
		sessions: make(map[string]*Client),
	}
	go a.run()
	return a
}

// enqueue delivers a command unless the actor already hibernated.
func (a *Actor) enqueue(cmd command) bool {
	select {
	case a.inbox <- cmd:
		return true
	case <-a.done:
		return false
	}
}

// ask runs a command synchronously and waits for its result.
func (a *Actor) ask(ctx context.Context, cmd command) (result, error) {
	cmd.reply = make(chan result, 1)
	if !a.enqueue(cmd) {
		return result{}, errActorStopped
	}
	select {
	case res := <-cmd.reply:
		return res, nil
	case <-a.done:
		return result{}, errActorStopped
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

// run is the actor loop: boot from snapshot, then handle one command at a
// time until the room is destroyed or the actor idles out.
func (a *Actor) run() {
	a.boot()

	ticker := time.NewTicker(a.tick)
	idle := time.NewTimer(idleGrace)

	defer func() {
		ticker.Stop()
		idle.Stop()
		close(a.done)
		if a.onStop != nil {
			a.onStop()
		}
	}()

	for !a.stopping {
		select {
		case cmd := <-a.inbox:
			a.handle(cmd)
			if len(a.sessions) > 0 {
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(idleGrace)
			}
		case <-ticker.C:
			a.handleTick()
		case <-idle.C:
			if len(a.sessions) == 0 {
				logging.Debug(a.logCtx(), "Room actor hibernating idle")
				a.stopping = true
			} else {
				idle.Reset(idleGrace)
			}
		}
	}
}

// boot reads the snapshot back into memory, zero-filling fields added since
// it was written. No snapshot means no room exists behind this code.
func (a *Actor) boot() {
	var state roomState
	err := a.store.GetJSON(context.Background(), store.RoomStateKey(a.gameID, a.code), &state)
	switch {
	case errors.Is(err, store.ErrNotFound):
		a.room = nil
	case err != nil:
		logging.Error(a.logCtx(), "Failed to load room snapshot", zap.Error(err))
		a.room = nil
	default:
		state.normalize()
		a.room = &state
		logging.Info(a.logCtx(), "Room resurrected from snapshot",
			zap.Int("roster_size", len(state.Roster)))
	}
}

// handle dispatches one command. Panics are contained: the message is
// dropped and the room stays alive.
func (a *Actor) handle(cmd command) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(a.logCtx(), "Recovered from panic in room handler", zap.Any("panic", r))
		}
	}()

	switch cmd.kind {
	case cmdCreate:
		cmd.reply <- a.handleCreate(cmd.playerID)
	case cmdInfo:
		cmd.reply <- a.handleInfo()
	case cmdJoin:
		cmd.reply <- a.handleJoin(cmd.playerID)
	case cmdAttach:
		cmd.reply <- a.handleAttach(cmd.client)
	case cmdFrame:
		a.handleFrame(cmd.client, cmd.data)
	case cmdDetach:
		a.handleDetach(cmd.client)
	case cmdShutdown:
		a.handleShutdown()
		if cmd.reply != nil {
			cmd.reply <- result{}
		}
	}
}

func (a *Actor) handleCreate(hostID string) result {
	if a.room != nil {
		return result{err: ErrRoomExists}
	}

	now := time.Now()
	a.room = &roomState{
		GameID:       a.gameID,
		Code:         a.code,
		HostID:       hostID,
		CreatedAt:    now.UnixMilli(),
		Roster:       map[string]rosterEntry{hostID: {JoinedAt: now.UnixMilli()}},
		PlayerStates: make(map[string]json.RawMessage),
	}
	a.saveState()

	stats.AsyncTrack(a.stats, a.gameID, hostID, stats.EventRoomCreate)
	stats.AsyncTrack(a.stats, a.gameID, hostID, stats.EventRoomJoin)
	metrics.ActiveRooms.Inc()

	logging.Info(a.logCtx(), "Room created", zap.String("host_id", hostID))
	return result{summary: a.room.summary()}
}

func (a *Actor) handleInfo() result {
	if a.room == nil {
		return result{err: ErrRoomNotFound}
	}
	return result{summary: a.room.summary()}
}

func (a *Actor) handleJoin(playerID string) result {
	if a.room == nil {
		return result{err: ErrRoomNotFound}
	}

	if _, ok := a.room.Roster[playerID]; !ok {
		a.room.Roster[playerID] = rosterEntry{JoinedAt: time.Now().UnixMilli()}
		a.saveState()
		a.broadcast(playerJoinedFrame{
			Type:        FramePlayerJoined,
			PlayerID:    playerID,
			PlayerCount: len(a.room.Roster),
		}, nil)
		stats.AsyncTrack(a.stats, a.gameID, playerID, stats.EventRoomJoin)
	}
	return result{summary: a.room.summary()}
}

// handleAttach admits a WebSocket session: replace any prior socket for the
// player, add the player to the roster, send the late-joiner snapshot, and
// announce the arrival to everyone else.
func (a *Actor) handleAttach(client *Client) result {
	if a.room == nil {
		return result{err: ErrRoomNotFound}
	}
	playerID := client.playerID

	if old, ok := a.sessions[playerID]; ok {
		logging.Info(a.logCtx(), "Duplicate connection, replacing old session",
			zap.String("player_id", playerID))
		old.closeWithReason(websocket.CloseNormalClosure, replacedReason)
	}
	a.sessions[playerID] = client

	if _, ok := a.room.Roster[playerID]; !ok {
		a.room.Roster[playerID] = rosterEntry{JoinedAt: time.Now().UnixMilli()}
		stats.AsyncTrack(a.stats, a.gameID, playerID, stats.EventRoomJoin)
	}
	a.saveState()

	a.sendTo(client, connectedFrame{
		Type:         FrameConnected,
		PlayerID:     playerID,
		Room:         a.room.summary(),
		PlayerStates: a.room.PlayerStates,
		GameState:    a.room.GameState,
	})
	a.broadcast(playerJoinedFrame{
		Type:        FramePlayerJoined,
		PlayerID:    playerID,
		PlayerCount: len(a.room.Roster),
	}, client)

	metrics.RoomPlayers.WithLabelValues(a.code).Set(float64(len(a.sessions)))
	return result{summary: a.room.summary()}
}

// handleFrame parses and dispatches one client frame. Malformed JSON is
// dropped with a log entry; unknown types are ignored.
func (a *Actor) handleFrame(client *Client, data []byte) {
	if a.room == nil || a.sessions[client.playerID] != client {
		return
	}

	var frame ingressFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		logging.Warn(a.logCtx(), "Dropping malformed frame",
			zap.String("player_id", client.playerID), zap.Error(err))
		metrics.WebsocketEvents.WithLabelValues("malformed", "error").Inc()
		return
	}

	start := time.Now()
	defer func() {
		metrics.MessageProcessingDuration.WithLabelValues(frame.Type).Observe(time.Since(start).Seconds())
		metrics.WebsocketEvents.WithLabelValues(frame.Type, "success").Inc()
	}()

	playerID := client.playerID
	switch frame.Type {
	case FramePlayerState:
		a.room.PlayerStates[playerID] = frame.State
		a.dirty = true
		// Fast path: a single-player delta goes out immediately; the tick
		// batch carries the full map on the next interval.
		a.broadcast(playerStateUpdateFrame{
			Type:     FramePlayerStateUpdate,
			PlayerID: playerID,
			State:    frame.State,
		}, client)

	case FrameGameState:
		if playerID != a.room.HostID {
			return
		}
		a.room.GameState = frame.State
		a.saveState()
		a.broadcast(gameStateSyncFrame{Type: FrameGameStateSync, State: frame.State}, nil)

	case FrameTransferHost:
		if playerID != a.room.HostID {
			return
		}
		if _, ok := a.room.Roster[frame.NewHostID]; !ok {
			return
		}
		a.room.HostID = frame.NewHostID
		a.saveState()
		a.broadcast(hostChangedFrame{Type: FrameHostChanged, HostID: frame.NewHostID}, nil)

	case FrameBroadcast:
		var exclude *Client
		if frame.ExcludeSelf {
			exclude = client
		}
		a.broadcast(messageFrame{Type: FrameMessage, From: playerID, Data: frame.Data}, exclude)

	case FrameSend:
		if target, ok := a.sessions[frame.To]; ok {
			a.sendTo(target, messageFrame{Type: FrameMessage, From: playerID, Data: frame.Data})
		}

	case FramePing:
		a.sendTo(client, pongFrame{Type: FramePong, Timestamp: time.Now().UnixMilli()})

	default:
		// Unknown types are ignored for forward compatibility.
		logging.Debug(a.logCtx(), "Ignoring unknown frame type",
			zap.String("frame_type", frame.Type), zap.String("player_id", playerID))
	}
}

// handleDetach runs the close protocol: roster removal, host migration,
// and hibernation when the room empties.
func (a *Actor) handleDetach(client *Client) {
	playerID := client.playerID
	if a.sessions[playerID] != client {
		// A replaced socket closing late; the live session is someone else's.
		return
	}
	delete(a.sessions, playerID)

	if a.room == nil {
		return
	}

	wasHost := playerID == a.room.HostID
	delete(a.room.Roster, playerID)
	delete(a.room.PlayerStates, playerID)
	stats.AsyncTrack(a.stats, a.gameID, playerID, stats.EventRoomLeave)

	if len(a.room.Roster) == 0 {
		a.destroyRoom()
		return
	}

	if wasHost {
		a.room.HostID = a.room.nextHost()
		a.broadcast(hostChangedFrame{Type: FrameHostChanged, HostID: a.room.HostID}, nil)
		logging.Info(a.logCtx(), "Host migrated", zap.String("host_id", a.room.HostID))
	}
	a.saveState()
	a.broadcast(playerLeftFrame{
		Type:        FramePlayerLeft,
		PlayerID:    playerID,
		PlayerCount: len(a.room.Roster),
	}, nil)

	metrics.RoomPlayers.WithLabelValues(a.code).Set(float64(len(a.sessions)))
}

// destroyRoom deletes the snapshot and makes the actor hibernation-ready.
func (a *Actor) destroyRoom() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.Delete(ctx, store.RoomStateKey(a.gameID, a.code)); err != nil {
		logging.Error(a.logCtx(), "Failed to delete room snapshot", zap.Error(err))
	}

	stats.AsyncTrack(a.stats, a.gameID, "", stats.EventRoomClose)
	metrics.ActiveRooms.Dec()
	metrics.RoomPlayers.DeleteLabelValues(a.code)

	logging.Info(a.logCtx(), "Room closed, hibernating")
	a.room = nil
	a.stopping = true
}

// handleTick emits the batched players_sync frame when any player state
// changed since the last tick, and persists the batch.
func (a *Actor) handleTick() {
	if !a.dirty || a.room == nil {
		return
	}
	a.dirty = false
	a.broadcast(playersSyncFrame{Type: FramePlayersSync, Players: a.room.PlayerStates}, nil)
	a.saveState()
}

// handleShutdown closes every session, keeping the snapshot so rooms
// survive a deploy.
func (a *Actor) handleShutdown() {
	for _, client := range a.sessions {
		client.closeWithReason(websocket.CloseGoingAway, shutdownReason)
	}
	a.sessions = make(map[string]*Client)
	a.stopping = true
}

// saveState persists the snapshot. Failures are logged; in-memory state is
// the authority within the actor's lifetime and the next persist supersedes.
func (a *Actor) saveState() {
	if a.room == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.SetJSON(ctx, store.RoomStateKey(a.gameID, a.code), a.room); err != nil {
		logging.Error(a.logCtx(), "Failed to persist room snapshot", zap.Error(err))
	}
}

// broadcast marshals the frame once and delivers it to every session,
// optionally excluding one client.
func (a *Actor) broadcast(frame any, exclude *Client) {
	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error(a.logCtx(), "Failed to marshal broadcast frame", zap.Error(err))
		return
	}
	for _, client := range a.sessions {
		if client == exclude {
			continue
		}
		client.deliver(data)
	}
}

// sendTo delivers a frame to a single session.
func (a *Actor) sendTo(client *Client, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error(a.logCtx(), "Failed to marshal frame", zap.Error(err))
		return
	}
	client.deliver(data)
}

func (a *Actor) logCtx() context.Context {
	ctx := context.WithValue(context.Background(), logging.GameIDKey, a.gameID)
	return context.WithValue(ctx, logging.RoomCodeKey, a.code)
}
