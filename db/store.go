package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/debatehub/matchflow/match"
)

// Store is the Postgres-backed match.Store. Status transitions and the
// transcript-processed flag are conditional UPDATEs, so competing lifecycle
// paths serialize through row state rather than locks.
type Store struct {
	db *sql.DB
}

// New wraps an open connection.
func New(db *sql.DB) *Store { return &Store{db: db} }

const slotColumns = `s.id, s.start_time, s.end_time, s.accepted1, s.accepted2,
	s.status, s.elimination, COALESCE(s.case_id, 0), COALESCE(s.personalized_case, ''),
	COALESCE(s.transcript, ''), s.transcript_processed, COALESCE(s.confirm_deadline, 'epoch'::timestamptz),
	r.id, r.provider_room_id, r.join_url, r.active,
	p1.id, COALESCE(p1.chat_id, ''), p1.display_name, p1.registered, p1.eliminated,
	p1.wins, p1.matches_played, p1.declines, p1.transcript_chars,
	p2.id, COALESCE(p2.chat_id, ''), p2.display_name, p2.registered, p2.eliminated,
	p2.wins, p2.matches_played, p2.declines, p2.transcript_chars`

const slotJoins = `FROM slots s
	JOIN rooms r ON r.id = s.room_id
	LEFT JOIN participants p1 ON p1.id = s.participant1_id
	LEFT JOIN participants p2 ON p2.id = s.participant2_id`

type nullParticipant struct {
	id       sql.NullInt64
	chatID   sql.NullString
	name     sql.NullString
	reg      sql.NullBool
	elim     sql.NullBool
	wins     sql.NullInt64
	played   sql.NullInt64
	declines sql.NullInt64
	chars    sql.NullInt64
}

func (n nullParticipant) participant() *match.Participant {
	if !n.id.Valid {
		return nil
	}
	return &match.Participant{
		ID:              n.id.Int64,
		ChatID:          n.chatID.String,
		DisplayName:     n.name.String,
		Registered:      n.reg.Bool,
		Eliminated:      n.elim.Bool,
		Wins:            int(n.wins.Int64),
		MatchesPlayed:   int(n.played.Int64),
		Declines:        int(n.declines.Int64),
		TranscriptChars: int(n.chars.Int64),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner) (*match.Slot, error) {
	var s match.Slot
	var p1, p2 nullParticipant
	err := row.Scan(
		&s.ID, &s.StartTime, &s.EndTime, &s.Accepted1, &s.Accepted2,
		&s.Status, &s.Elimination, &s.CaseID, &s.PersonalizedCase,
		&s.Transcript, &s.TranscriptProcessed, &s.ConfirmDeadline,
		&s.Room.ID, &s.Room.ProviderID, &s.Room.JoinURL, &s.Room.Active,
		&p1.id, &p1.chatID, &p1.name, &p1.reg, &p1.elim,
		&p1.wins, &p1.played, &p1.declines, &p1.chars,
		&p2.id, &p2.chatID, &p2.name, &p2.reg, &p2.elim,
		&p2.wins, &p2.played, &p2.declines, &p2.chars,
	)
	if err != nil {
		return nil, err
	}
	s.P1 = p1.participant()
	s.P2 = p2.participant()
	return &s, nil
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.UTC().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

func (st *Store) ActiveRooms(ctx context.Context) ([]match.Room, error) {
	rows, err := st.db.QueryContext(ctx,
		`SELECT id, provider_room_id, join_url, active, created_at FROM rooms WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []match.Room
	for rows.Next() {
		var r match.Room
		if err := rows.Scan(&r.ID, &r.ProviderID, &r.JoinURL, &r.Active, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (st *Store) CreateRoom(ctx context.Context, providerID, joinURL string) (match.Room, error) {
	r := match.Room{ProviderID: providerID, JoinURL: joinURL, Active: true}
	err := st.db.QueryRowContext(ctx,
		`INSERT INTO rooms(provider_room_id, join_url, active) VALUES($1,$2,TRUE) RETURNING id, created_at`,
		providerID, joinURL).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return match.Room{}, fmt.Errorf("insert room: %w", err)
	}
	return r, nil
}

func (st *Store) ReplaceRoomProvider(ctx context.Context, roomID int64, providerID, joinURL string) error {
	_, err := st.db.ExecContext(ctx,
		`UPDATE rooms SET provider_room_id=$2, join_url=$3 WHERE id=$1`, roomID, providerID, joinURL)
	return err
}

func (st *Store) CreateSlot(ctx context.Context, roomID int64, start, end time.Time) (int64, error) {
	var id int64
	err := st.db.QueryRowContext(ctx,
		`INSERT INTO slots(room_id, start_time, end_time, status) VALUES($1,$2,$3,$4) RETURNING id`,
		roomID, start, end, match.StatusScheduled).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert slot: %w", err)
	}
	return id, nil
}

func (st *Store) RoomHasSlotsOn(ctx context.Context, roomID int64, day time.Time) (bool, error) {
	from, to := dayBounds(day)
	var n int
	err := st.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM slots WHERE room_id=$1 AND start_time >= $2 AND start_time < $3`,
		roomID, from, to).Scan(&n)
	return n > 0, err
}

func (st *Store) FreeSlots(ctx context.Context, day, notBefore time.Time) ([]match.Slot, error) {
	from, to := dayBounds(day)
	if notBefore.After(from) {
		from = notBefore
	}
	rows, err := st.db.QueryContext(ctx,
		`SELECT `+slotColumns+` `+slotJoins+`
		 WHERE s.start_time >= $1 AND s.start_time < $2
		   AND s.participant1_id IS NULL AND s.participant2_id IS NULL
		   AND s.status = $3 AND r.active
		 ORDER BY s.start_time, s.id`,
		from, to, match.StatusScheduled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []match.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (st *Store) GetSlot(ctx context.Context, slotID int64) (*match.Slot, error) {
	row := st.db.QueryRowContext(ctx,
		`SELECT `+slotColumns+` `+slotJoins+` WHERE s.id = $1`, slotID)
	s, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (st *Store) AssignParticipants(ctx context.Context, slotID, p1ID, p2ID int64, elimination bool, deadline time.Time) error {
	res, err := st.db.ExecContext(ctx,
		`UPDATE slots SET participant1_id=$2, participant2_id=$3, elimination=$4,
		        confirm_deadline=$5, accepted1=FALSE, accepted2=FALSE, updated_at=NOW()
		 WHERE id=$1 AND participant1_id IS NULL AND participant2_id IS NULL`,
		slotID, p1ID, p2ID, elimination, deadline)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("slot %d already assigned", slotID)
	}
	return nil
}

func (st *Store) SetAccepted(ctx context.Context, slotID, participantID int64) (*match.Slot, error) {
	_, err := st.db.ExecContext(ctx,
		`UPDATE slots SET
		        accepted1 = accepted1 OR COALESCE(participant1_id = $2, FALSE),
		        accepted2 = accepted2 OR COALESCE(participant2_id = $2, FALSE),
		        updated_at = NOW()
		 WHERE id = $1`, slotID, participantID)
	if err != nil {
		return nil, err
	}
	return st.GetSlot(ctx, slotID)
}

func (st *Store) TransitionStatus(ctx context.Context, slotID int64, from, to match.Status) (bool, error) {
	res, err := st.db.ExecContext(ctx,
		`UPDATE slots SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`,
		slotID, from, to)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (st *Store) ListOpenSlots(ctx context.Context) ([]match.Slot, error) {
	rows, err := st.db.QueryContext(ctx,
		`SELECT `+slotColumns+` `+slotJoins+`
		 WHERE s.status IN ($1, $2) ORDER BY s.start_time, s.id`,
		match.StatusScheduled, match.StatusConfirmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []match.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (st *Store) ListPendingPastSlots(ctx context.Context, before time.Time) ([]int64, error) {
	rows, err := st.db.QueryContext(ctx,
		`SELECT id FROM slots
		 WHERE status=$1 AND transcript_processed=FALSE AND end_time < $2
		 ORDER BY end_time`,
		match.StatusConfirmed, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (st *Store) EligibleParticipants(ctx context.Context, day time.Time) ([]match.Participant, error) {
	from, to := dayBounds(day)
	rows, err := st.db.QueryContext(ctx,
		`SELECT p.id, COALESCE(p.chat_id,''), p.display_name, p.registered, p.eliminated,
		        p.wins, p.matches_played, p.declines, p.transcript_chars
		 FROM participants p
		 WHERE p.registered AND NOT p.eliminated AND p.chat_id IS NOT NULL
		   AND NOT EXISTS (
		        SELECT 1 FROM slots s
		        WHERE (s.participant1_id = p.id OR s.participant2_id = p.id)
		          AND s.start_time >= $1 AND s.start_time < $2)
		 ORDER BY p.matches_played, p.declines, p.id`,
		from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []match.Participant
	for rows.Next() {
		var p match.Participant
		if err := rows.Scan(&p.ID, &p.ChatID, &p.DisplayName, &p.Registered, &p.Eliminated,
			&p.Wins, &p.MatchesPlayed, &p.Declines, &p.TranscriptChars); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (st *Store) RecordDecline(ctx context.Context, participantID int64, eliminate bool) error {
	_, err := st.db.ExecContext(ctx,
		`UPDATE participants SET declines = declines + 1, eliminated = eliminated OR $2, updated_at=NOW() WHERE id=$1`,
		participantID, eliminate)
	return err
}

func (st *Store) RecordWin(ctx context.Context, winnerID, loserID int64, eliminateLoser bool) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op
	if _, err := tx.ExecContext(ctx,
		`UPDATE participants SET wins = wins + 1, updated_at=NOW() WHERE id=$1`, winnerID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE participants SET eliminated = eliminated OR $2, updated_at=NOW() WHERE id=$1`,
		loserID, eliminateLoser); err != nil {
		return err
	}
	return tx.Commit()
}

func (st *Store) AddMatchPlayed(ctx context.Context, participantIDs ...int64) error {
	for _, id := range participantIDs {
		if _, err := st.db.ExecContext(ctx,
			`UPDATE participants SET matches_played = matches_played + 1, updated_at=NOW() WHERE id=$1`, id); err != nil {
			return err
		}
	}
	return nil
}

func (st *Store) AddTranscriptChars(ctx context.Context, participantID int64, chars int) error {
	_, err := st.db.ExecContext(ctx,
		`UPDATE participants SET transcript_chars = transcript_chars + $2, updated_at=NOW() WHERE id=$1`,
		participantID, chars)
	return err
}

func (st *Store) FlagForReview(ctx context.Context, slotID int64, reason string) error {
	_, err := st.db.ExecContext(ctx,
		`UPDATE slots SET review_reason=$2, updated_at=NOW() WHERE id=$1`, slotID, reason)
	return err
}

// PickCase selects a random active case neither participant has been issued.
// When the unissued pool is empty it falls back to any active case and
// reports the repeat.
func (st *Store) PickCase(ctx context.Context, p1ID, p2ID int64) (match.Case, bool, error) {
	var c match.Case
	err := st.db.QueryRowContext(ctx,
		`SELECT id, title, content, roles, active FROM cases
		 WHERE active AND id NOT IN (
		        SELECT case_id FROM case_history WHERE participant_id IN ($1, $2))
		 ORDER BY random() LIMIT 1`, p1ID, p2ID).
		Scan(&c.ID, &c.Title, &c.Content, &c.Roles, &c.Active)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return match.Case{}, false, err
	}
	err = st.db.QueryRowContext(ctx,
		`SELECT id, title, content, roles, active FROM cases WHERE active ORDER BY random() LIMIT 1`).
		Scan(&c.ID, &c.Title, &c.Content, &c.Roles, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return match.Case{}, false, fmt.Errorf("no active cases")
	}
	if err != nil {
		return match.Case{}, false, err
	}
	return c, true, nil
}

func (st *Store) RecordCaseUse(ctx context.Context, caseID, slotID int64, participantIDs ...int64) error {
	for _, id := range participantIDs {
		if _, err := st.db.ExecContext(ctx,
			`INSERT INTO case_history(participant_id, case_id, slot_id) VALUES($1,$2,$3)`,
			id, caseID, slotID); err != nil {
			return err
		}
	}
	return nil
}

func (st *Store) SavePersonalizedCase(ctx context.Context, slotID, caseID int64, text string) error {
	_, err := st.db.ExecContext(ctx,
		`UPDATE slots SET case_id=$2, personalized_case=$3, updated_at=NOW() WHERE id=$1`,
		slotID, caseID, text)
	return err
}

func (st *Store) SaveTranscript(ctx context.Context, slotID int64, text string) error {
	_, err := st.db.ExecContext(ctx,
		`UPDATE slots SET transcript=$2, updated_at=NOW() WHERE id=$1`, slotID, text)
	return err
}

func (st *Store) MarkTranscriptProcessed(ctx context.Context, slotID int64) (bool, error) {
	res, err := st.db.ExecContext(ctx,
		`UPDATE slots SET transcript_processed=TRUE, updated_at=NOW()
		 WHERE id=$1 AND transcript_processed=FALSE`, slotID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (st *Store) CreateResult(ctx context.Context, slotID, winnerID int64, summary string) error {
	var winner any
	if winnerID != 0 {
		winner = winnerID
	}
	_, err := st.db.ExecContext(ctx,
		`INSERT INTO results(slot_id, winner_id, summary) VALUES($1,$2,$3)
		 ON CONFLICT (slot_id) DO NOTHING`, slotID, winner, summary)
	return err
}

func (st *Store) TouchJob(ctx context.Context, name string) error {
	_, err := st.db.ExecContext(ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES($1, NOW()::TEXT, NOW())
		 ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`,
		"job:"+name)
	return err
}

// UpsertParticipant registers or refreshes a participant by chat identity and
// returns the row id. Used by the admin surface and tests.
func (st *Store) UpsertParticipant(ctx context.Context, chatID, displayName string) (int64, error) {
	var id int64
	err := st.db.QueryRowContext(ctx,
		`INSERT INTO participants(chat_id, display_name, registered)
		 VALUES($1, $2, TRUE)
		 ON CONFLICT (chat_id) DO UPDATE SET display_name=EXCLUDED.display_name, registered=TRUE, updated_at=NOW()
		 RETURNING id`, chatID, displayName).Scan(&id)
	return id, err
}

// CreateCase inserts a debate case.
func (st *Store) CreateCase(ctx context.Context, title, content, roles string) (int64, error) {
	var id int64
	err := st.db.QueryRowContext(ctx,
		`INSERT INTO cases(title, content, roles, active) VALUES($1,$2,$3,TRUE) RETURNING id`,
		title, content, roles).Scan(&id)
	return id, err
}

// SlotsOn lists every slot on a date, assigned or not, for the admin surface.
func (st *Store) SlotsOn(ctx context.Context, day time.Time) ([]match.Slot, error) {
	from, to := dayBounds(day)
	rows, err := st.db.QueryContext(ctx,
		`SELECT `+slotColumns+` `+slotJoins+`
		 WHERE s.start_time >= $1 AND s.start_time < $2 ORDER BY s.start_time, s.id`,
		from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []match.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// DeleteSlot removes an unassigned or terminal slot and its dependents.
func (st *Store) DeleteSlot(ctx context.Context, slotID int64) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op
	if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE slot_id=$1`, slotID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM case_history WHERE slot_id=$1`, slotID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM slots WHERE id=$1`, slotID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return match.ErrSlotNotFound
	}
	return tx.Commit()
}

// Standings lists registered participants ordered for the leaderboard.
func (st *Store) Standings(ctx context.Context) ([]match.Participant, error) {
	rows, err := st.db.QueryContext(ctx,
		`SELECT id, COALESCE(chat_id,''), display_name, registered, eliminated,
		        wins, matches_played, declines, transcript_chars
		 FROM participants WHERE registered
		 ORDER BY wins DESC, matches_played, declines, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []match.Participant
	for rows.Next() {
		var p match.Participant
		if err := rows.Scan(&p.ID, &p.ChatID, &p.DisplayName, &p.Registered, &p.Eliminated,
			&p.Wins, &p.MatchesPlayed, &p.Declines, &p.TranscriptChars); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
