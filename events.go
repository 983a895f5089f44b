package main

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
)

// GameEvent is one journal entry. Visibility determines who can read it:
//   - "public": everyone
//   - "team:evil": evil-aligned players, except those hidden from the
//     evil channel
//   - "actor": only the acting player
type GameEvent struct {
	ID          int64     `db:"id" json:"id"`
	GameID      string    `db:"game_id" json:"game_id"`
	QuestNumber int       `db:"quest_number" json:"quest_number"`
	Phase       Phase     `db:"phase" json:"phase"`
	Type        string    `db:"event_type" json:"type"`
	ActorID     string    `db:"actor_id" json:"actor_id,omitempty"`
	TargetID    string    `db:"target_id" json:"target_id,omitempty"`
	Visibility  string    `db:"visibility" json:"visibility"`
	Message     string    `db:"message" json:"message"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Event types
const (
	EventGameCreated   = "game_created"
	EventGameStarted   = "game_started"
	EventRoleAssigned  = "role_assigned"
	EventChat          = "chat"
	EventTeamProposed  = "team_proposed"
	EventTeamHammered  = "team_hammered"
	EventTeamVote      = "team_vote"
	EventTeamApproved  = "team_approved"
	EventTeamRejected  = "team_rejected"
	EventQuestVote     = "quest_vote"
	EventQuestResolved = "quest_resolved"
	EventLadyPeek      = "lady_peek"
	EventLadyMoved     = "lady_moved"
	EventAssassination = "assassination"
	EventGameOver      = "game_over"
	EventBotFallback   = "bot_fallback"
)

// Visibility types
const (
	VisibilityPublic   = "public"
	VisibilityEvilTeam = "team:evil"
	VisibilityActor    = "actor"
)

// canSeeEvent applies the journal's visibility rules for one viewer. A nil
// viewer is the public feed.
func canSeeEvent(ev GameEvent, viewer *Player) bool {
	switch ev.Visibility {
	case VisibilityPublic:
		return true
	case VisibilityEvilTeam:
		if viewer == nil || viewer.Role == "" {
			return false
		}
		r := roleCatalog[viewer.Role]
		return r.Alignment == AlignmentEvil && !r.HiddenFromEvil
	case VisibilityActor:
		return viewer != nil && viewer.ID == ev.ActorID
	default:
		return false
	}
}

// EventStore is the append-only journal, backed by SQLite. The default
// DSN keeps it in memory for the process lifetime.
type EventStore struct {
	db *sqlx.DB
}

func openEventStore(dsn string) (*EventStore, error) {
	conn, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	s := &EventStore{db: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}
	db = conn // the debug dumper reads the shared handle
	return s, nil
}

func (s *EventStore) init() error {
	schema := `
	PRAGMA journal_mode=WAL;

	CREATE TABLE IF NOT EXISTS game_event (
		game_id TEXT NOT NULL,
		quest_number INTEGER NOT NULL DEFAULT 0,
		phase TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		target_id TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'public',
		message TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_game_event_lookup ON game_event(game_id, visibility);
	`
	if _, err := s.db.Exec(schema); err != nil {
		log.Printf("event store init error: %v", err)
		return err
	}
	return nil
}

func (s *EventStore) Close() error {
	return s.db.Close()
}

// Record appends one event. Journal failures are logged and swallowed;
// the journal must never fail an accepted action.
func (s *EventStore) Record(ev GameEvent) {
	_, err := s.db.Exec(`INSERT INTO game_event
			(game_id, quest_number, phase, event_type, actor_id, target_id, visibility, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.GameID, ev.QuestNumber, ev.Phase, ev.Type, ev.ActorID, ev.TargetID,
		ev.Visibility, ev.Message, time.Now().UTC())
	if err != nil {
		logError("EventStore.Record", err)
	}
}

// EventsForViewer returns the journal rows the viewer may see, oldest
// first. Pass a nil viewer for the public feed.
func (s *EventStore) EventsForViewer(gameID string, viewer *Player) ([]GameEvent, error) {
	var all []GameEvent
	err := s.db.Select(&all, `
		SELECT rowid as id,
			game_id,
			quest_number,
			phase,
			event_type,
			actor_id,
			target_id,
			visibility,
			message,
			created_at
		FROM game_event
		WHERE game_id = ?
		ORDER BY rowid`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	visible := make([]GameEvent, 0, len(all))
	for _, ev := range all {
		if canSeeEvent(ev, viewer) {
			visible = append(visible, ev)
		}
	}
	return visible, nil
}
