package main

import (
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	analyticsQueueSize = 1024
	analyticsBatchSize = 50
	analyticsFlushTick = 5 * time.Second
)

// CombatEvent is one persisted scene event
type CombatEvent struct {
	SceneEvent
	PilotID   int64
	SessionID string
	Timestamp time.Time
}

// Analytics writes combat events to the database in batches from a
// background goroutine
type Analytics struct {
	db      *DB
	events  chan CombatEvent
	stop    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
	log     zerolog.Logger
}

// NewAnalytics creates and starts the analytics background writer
func NewAnalytics(db *DB, log zerolog.Logger) *Analytics {
	a := &Analytics{
		db:     db,
		events: make(chan CombatEvent, analyticsQueueSize),
		stop:   make(chan struct{}),
		log:    log.With().Str("component", "analytics").Logger(),
	}
	a.wg.Add(1)
	go a.writer(analyticsFlushTick)
	return a
}

// Track enqueues an event for async persistence. It never blocks: when the
// queue is full the event is dropped and counted.
func (a *Analytics) Track(sessionID string, pilotID int64, ev SceneEvent) {
	select {
	case a.events <- CombatEvent{
		SceneEvent: ev,
		PilotID:    pilotID,
		SessionID:  sessionID,
		Timestamp:  time.Now().UTC(),
	}:
	default:
		a.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full
func (a *Analytics) Dropped() int64 {
	return a.dropped.Load()
}

// Stop drains the queue, writes what is left and waits for the writer
func (a *Analytics) Stop() {
	close(a.stop)
	a.wg.Wait()
}

func (a *Analytics) writer(every time.Duration) {
	defer a.wg.Done()

	batch := make([]CombatEvent, 0, analyticsBatchSize)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case evt := <-a.events:
			batch = append(batch, evt)
			if len(batch) >= analyticsBatchSize {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-a.stop:
			for {
				select {
				case evt := <-a.events:
					batch = append(batch, evt)
				default:
					a.flush(batch)
					return
				}
			}
		}
	}
}

// flush writes a batch of events in one transaction
func (a *Analytics) flush(events []CombatEvent) {
	if a.db == nil || len(events) == 0 {
		return
	}
	tx, err := a.db.conn.Begin()
	if err != nil {
		a.log.Error().Err(err).Msg("begin tx")
		return
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO combat_events
		(event_type, pilot_id, session_id, projectile_id, target, x, y, z, sim_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		a.log.Error().Err(err).Msg("prepare insert")
		return
	}
	defer stmt.Close()

	for _, evt := range events {
		pid := sql.NullInt64{Int64: evt.PilotID, Valid: evt.PilotID > 0}
		sid := sql.NullString{String: evt.SessionID, Valid: evt.SessionID != ""}
		proj := sql.NullString{String: evt.ProjectileID, Valid: evt.ProjectileID != ""}
		target := sql.NullString{String: evt.Target, Valid: evt.Target != ""}
		_, err := stmt.Exec(evt.Type, pid, sid, proj, target,
			evt.Position[0], evt.Position[1], evt.Position[2], evt.Time,
			evt.Timestamp.Format(time.RFC3339Nano))
		if err != nil {
			a.log.Warn().Err(err).Str("type", evt.Type).Msg("insert event")
		}
	}
	if err := tx.Commit(); err != nil {
		a.log.Error().Err(err).Int("events", len(events)).Msg("commit batch")
	}
}

// EventCounts returns the stored count of each event type for one sortie
func (a *Analytics) EventCounts(sessionID string) (map[string]int, error) {
	result := make(map[string]int)
	if a.db == nil {
		return result, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT event_type, COUNT(*) FROM combat_events
		WHERE session_id = ?
		GROUP BY event_type`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var evtType string
		var count int
		if err := rows.Scan(&evtType, &count); err != nil {
			return nil, err
		}
		result[evtType] = count
	}
	return result, rows.Err()
}
