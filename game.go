package main

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrSessionFull is returned when the seat asked for is already taken
	ErrSessionFull = errors.New("sortie full")
	// ErrSessionNotFound is returned for an unknown sortie ID
	ErrSessionNotFound = errors.New("sortie not found")
)

// Broadcaster is the outgoing side of a connected client
type Broadcaster interface {
	SendJSON(msg interface{})
	SendBinary(data []byte)
}

// Crew roles
const (
	RolePilot  = "pilot"
	RoleGunner = "gunner"
)

type member struct {
	id       string
	name     string
	role     string
	out      Broadcaster
	bin      bool
	authID   int64
	joinedAt time.Time
	shots    int
	hits     int
}

// GameDeps are the optional collaborators of a Game
type GameDeps struct {
	SessionID string
	DB        *DB
	Analytics *Analytics
	Metrics   *combatMetrics
	Logger    zerolog.Logger
}

// Game runs one sortie: a scene ticked at a fixed rate, one pilot and at
// most one gunner
type Game struct {
	mu      sync.RWMutex
	scene   *Scene
	pilot   *member
	gunner  *member
	running bool
	stop    chan struct{}

	tickDur        time.Duration
	dt             float64
	broadcastEvery uint64

	deps GameDeps
	log  zerolog.Logger
}

// NewGame creates a sortie around a fresh scene
func NewGame(cfg Config, frames *FrameBank, deps GameDeps) *Game {
	every := cfg.Scene.TickRate / cfg.Scene.BroadcastRate
	if every < 1 {
		every = 1
	}
	return &Game{
		scene:          NewScene(cfg, frames),
		stop:           make(chan struct{}),
		tickDur:        time.Second / time.Duration(cfg.Scene.TickRate),
		dt:             1.0 / float64(cfg.Scene.TickRate),
		broadcastEvery: uint64(every),
		deps:           deps,
		log:            deps.Logger.With().Str("component", "game").Str("sid", deps.SessionID).Logger(),
	}
}

// Run starts the game loop
func (g *Game) Run() {
	g.mu.Lock()
	g.running = true
	g.mu.Unlock()

	ticker := time.NewTicker(g.tickDur)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.update()
		case <-g.stop:
			return
		}
	}
}

// Stop terminates the game loop
func (g *Game) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		g.running = false
		close(g.stop)
	}
}

// AddPilot seats the pilot. Returns ErrSessionFull if the seat is taken.
func (g *Game) AddPilot(name string, authID int64, out Broadcaster, bin bool) (string, error) {
	return g.seat(RolePilot, name, authID, out, bin)
}

// AttachGunner seats the gunner. Returns ErrSessionFull if the seat is taken.
func (g *Game) AttachGunner(name string, authID int64, out Broadcaster, bin bool) (string, error) {
	return g.seat(RoleGunner, name, authID, out, bin)
}

func (g *Game) seat(role, name string, authID int64, out Broadcaster, bin bool) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	slot := &g.pilot
	if role == RoleGunner {
		slot = &g.gunner
	}
	if *slot != nil {
		return "", ErrSessionFull
	}
	m := &member{
		id:       GenerateID(4),
		name:     name,
		role:     role,
		out:      out,
		bin:      bin,
		authID:   authID,
		joinedAt: time.Now(),
	}
	*slot = m
	g.log.Info().Str("role", role).Str("name", name).Msg("crew joined")
	return m.id, nil
}

// RemoveMember frees the seat held by id and records the member's totals
func (g *Game) RemoveMember(id string) {
	g.mu.Lock()
	var gone *member
	switch {
	case g.pilot != nil && g.pilot.id == id:
		gone, g.pilot = g.pilot, nil
		g.scene.SetControls(ControlInputs{})
	case g.gunner != nil && g.gunner.id == id:
		gone, g.gunner = g.gunner, nil
	}
	if gone != nil && g.turretOperator() == nil {
		g.scene.SetTurretCommand(TurretCommand{})
		g.scene.SetTrigger(false)
	}
	g.mu.Unlock()

	if gone == nil {
		return
	}
	g.log.Info().Str("role", gone.role).Str("name", gone.name).Int("shots", gone.shots).Int("hits", gone.hits).Msg("crew left")
	if gone.authID > 0 && g.deps.DB != nil {
		airtime := time.Since(gone.joinedAt).Seconds()
		if err := g.deps.DB.AddSortieStats(gone.authID, gone.shots, gone.hits, airtime); err != nil {
			g.log.Error().Err(err).Int64("pilot", gone.authID).Msg("saving sortie stats")
		}
	}
}

// MemberIDs returns the IDs of the seated crew, pilot first
func (g *Game) MemberIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ids []string
	for _, m := range []*member{g.pilot, g.gunner} {
		if m != nil {
			ids = append(ids, m.id)
		}
	}
	return ids
}

// MemberCount returns the number of seated crew
func (g *Game) MemberCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	if g.pilot != nil {
		n++
	}
	if g.gunner != nil {
		n++
	}
	return n
}

// Seats reports which seats are taken
func (g *Game) Seats() (pilot, gunner bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pilot != nil, g.gunner != nil
}

// turretOperator is the gunner when attached, else the pilot
func (g *Game) turretOperator() *member {
	if g.gunner != nil {
		return g.gunner
	}
	return g.pilot
}

func (g *Game) member(id string) *member {
	if g.pilot != nil && g.pilot.id == id {
		return g.pilot
	}
	if g.gunner != nil && g.gunner.id == id {
		return g.gunner
	}
	return nil
}

// HandleInput applies a member's held commands. The pilot flies; whoever
// operates the turret aims and holds the trigger.
func (g *Game) HandleInput(id string, in ClientInput) {
	g.mu.Lock()
	defer g.mu.Unlock()

	m := g.member(id)
	if m == nil {
		return
	}
	if m.role == RolePilot {
		g.scene.SetControls(ControlInputs{Throttle: in.Throttle, Pitch: in.Pitch, Bank: in.Bank})
	}
	if m == g.turretOperator() {
		g.scene.SetTurretCommand(TurretCommand{Yaw: in.TurretYaw, Pitch: in.TurretPitch})
		g.scene.SetTrigger(in.Trigger)
	}
}

// HandleFire requests a single shot from the turret operator
func (g *Game) HandleFire(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m := g.member(id); m != nil && m == g.turretOperator() {
		g.scene.Fire()
	}
}

// HandleReset respawns the aircraft. Only the pilot may reset.
func (g *Game) HandleReset(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := g.member(id)
	if m == nil || m.role != RolePilot {
		return
	}
	ev := g.scene.Reset()
	g.record(ev, m)
	g.log.Debug().Msg("aircraft reset")
}

// Snapshot returns the current scene state
func (g *Game) Snapshot() SceneSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	snap := g.scene.Snapshot()
	snap.Gunner = g.gunner != nil
	return snap
}

// update runs one game tick
func (g *Game) update() {
	g.mu.Lock()
	defer g.mu.Unlock()

	events := g.scene.Step(g.dt)
	op := g.turretOperator()
	for _, ev := range events {
		g.record(ev, op)
		switch ev.Type {
		case EvtShot:
			if op != nil {
				op.shots++
			}
		case EvtHit:
			if op != nil {
				op.hits++
			}
			g.broadcastMsg(Envelope{T: MsgHit, Data: ev})
		}
	}

	if g.scene.Tick()%g.broadcastEvery == 0 {
		g.broadcastState()
	}
}

func (g *Game) record(ev SceneEvent, by *member) {
	g.deps.Metrics.record(ev)
	if g.deps.Analytics == nil {
		return
	}
	var authID int64
	if by != nil {
		authID = by.authID
	}
	g.deps.Analytics.Track(g.deps.SessionID, authID, ev)
}

// broadcastState sends the current scene to every seated client, msgpack
// to those that asked for binary frames
func (g *Game) broadcastState() {
	snap := g.scene.Snapshot()
	snap.Gunner = g.gunner != nil

	var text, bin []byte
	for _, m := range []*member{g.pilot, g.gunner} {
		if m == nil || m.out == nil {
			continue
		}
		if m.bin {
			if bin == nil {
				data, err := msgpack.Marshal(&snap)
				if err != nil {
					g.log.Error().Err(err).Msg("encoding state")
					return
				}
				bin = data
			}
			m.out.SendBinary(bin)
			continue
		}
		if text == nil {
			data, err := json.Marshal(Envelope{T: MsgState, Data: snap})
			if err != nil {
				g.log.Error().Err(err).Msg("encoding state")
				return
			}
			text = data
		}
		if c, ok := m.out.(*Client); ok {
			c.SendRaw(text)
		} else {
			m.out.SendJSON(Envelope{T: MsgState, Data: snap})
		}
	}
}

// broadcastMsg sends a message to every seated client
func (g *Game) broadcastMsg(msg Envelope) {
	for _, m := range []*member{g.pilot, g.gunner} {
		if m != nil && m.out != nil {
			m.out.SendJSON(msg)
		}
	}
}
