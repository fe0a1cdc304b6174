package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/okian/typerace/internal/domain/model"
)

// Dialect names match the database/sql driver names.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Timestamps are stored as unix milliseconds so that both dialects share one
// schema; 0 means unset.
const schema = `
CREATE TABLE IF NOT EXISTS races (
    id             TEXT PRIMARY KEY,
    room_code      TEXT NOT NULL,
    status         TEXT NOT NULL,
    paragraph      TEXT NOT NULL,
    finish_counter INTEGER NOT NULL DEFAULT 0,
    created_at     BIGINT NOT NULL,
    started_at     BIGINT NOT NULL DEFAULT 0,
    finished_at    BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS races_status_idx ON races (status, created_at);
CREATE TABLE IF NOT EXISTS participants (
    id              TEXT PRIMARY KEY,
    race_id         TEXT NOT NULL,
    seq             BIGINT NOT NULL,
    user_id         TEXT NOT NULL DEFAULT '',
    guest_name      TEXT NOT NULL DEFAULT '',
    is_bot          BOOLEAN NOT NULL DEFAULT FALSE,
    progress        INTEGER NOT NULL DEFAULT 0,
    wpm             DOUBLE PRECISION NOT NULL DEFAULT 0,
    accuracy        DOUBLE PRECISION NOT NULL DEFAULT 0,
    errors          INTEGER NOT NULL DEFAULT 0,
    is_active       BOOLEAN NOT NULL DEFAULT TRUE,
    is_finished     BOOLEAN NOT NULL DEFAULT FALSE,
    finish_position INTEGER NOT NULL DEFAULT 0,
    finished_at     BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS participants_race_idx ON participants (race_id, seq);
CREATE TABLE IF NOT EXISTS user_ratings (
    user_id           TEXT PRIMARY KEY,
    rating            INTEGER NOT NULL,
    peak_rating       INTEGER NOT NULL,
    tier              TEXT NOT NULL,
    wins              INTEGER NOT NULL DEFAULT 0,
    losses            INTEGER NOT NULL DEFAULT 0,
    draws             INTEGER NOT NULL DEFAULT 0,
    win_streak        INTEGER NOT NULL DEFAULT 0,
    best_streak       INTEGER NOT NULL DEFAULT 0,
    provisional       BOOLEAN NOT NULL DEFAULT TRUE,
    provisional_games INTEGER NOT NULL DEFAULT 0,
    decay_applied     INTEGER NOT NULL DEFAULT 0,
    last_race_at      BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS user_ratings_rating_idx ON user_ratings (rating);
CREATE TABLE IF NOT EXISTS match_history (
    race_id       TEXT NOT NULL,
    user_id       TEXT NOT NULL,
    position      INTEGER NOT NULL,
    total_players INTEGER NOT NULL,
    old_rating    INTEGER NOT NULL,
    new_rating    INTEGER NOT NULL,
    delta         INTEGER NOT NULL,
    outcome       TEXT NOT NULL,
    created_at    BIGINT NOT NULL,
    PRIMARY KEY (race_id, user_id)
);
CREATE TABLE IF NOT EXISTS keystroke_analyses (
    id               TEXT PRIMARY KEY,
    race_id          TEXT NOT NULL,
    participant_id   TEXT NOT NULL,
    user_id          TEXT NOT NULL DEFAULT '',
    sample_count     INTEGER NOT NULL,
    mean_interval_ms DOUBLE PRECISION NOT NULL,
    min_interval_ms  DOUBLE PRECISION NOT NULL,
    std_dev_ms       DOUBLE PRECISION NOT NULL,
    server_wpm       DOUBLE PRECISION NOT NULL,
    client_wpm       DOUBLE PRECISION NOT NULL,
    flags            TEXT NOT NULL DEFAULT '',
    is_valid         BOOLEAN NOT NULL,
    requires_review  BOOLEAN NOT NULL,
    created_at       BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_events (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL DEFAULT '',
    kind       TEXT NOT NULL,
    detail     TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS certifications (
    user_id       TEXT PRIMARY KEY,
    certified_wpm DOUBLE PRECISION NOT NULL,
    created_at    BIGINT NOT NULL
);
`

// SQLStore implements Store over database/sql for SQLite and PostgreSQL.
// Queries are written with '?' placeholders and rebound for postgres.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// OpenSQL opens dsn with the given dialect and ensures the schema exists.
func OpenSQL(ctx context.Context, dialect, dsn string) (*SQLStore, error) {
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, dialect)
	}
	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// One writer keeps the finish counter transaction serialized.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000;`); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying pool.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind turns '?' placeholders into '$n' for postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) exec(ctx context.Context, x execer, q string, args ...any) (sql.Result, error) {
	return x.ExecContext(ctx, s.rebind(q), args...)
}

func toMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

type scanner interface {
	Scan(dest ...any) error
}

const raceColumns = `id, room_code, status, paragraph, finish_counter, created_at, started_at, finished_at`

func scanRace(sc scanner) (model.Race, error) {
	var (
		r                          model.Race
		status                     string
		created, started, finished int64
	)
	if err := sc.Scan(&r.ID, &r.RoomCode, &status, &r.Paragraph, &r.FinishCounter, &created, &started, &finished); err != nil {
		return model.Race{}, err
	}
	r.Status = model.RaceStatus(status)
	r.CreatedAt, r.StartedAt, r.FinishedAt = fromMs(created), fromMs(started), fromMs(finished)
	return r, nil
}

func (s *SQLStore) CreateRace(ctx context.Context, r model.Race) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO races (`+raceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RoomCode, string(r.Status), r.Paragraph, r.FinishCounter, toMs(r.CreatedAt), toMs(r.StartedAt), toMs(r.FinishedAt))
	if err != nil {
		return fmt.Errorf("create race %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLStore) GetRace(ctx context.Context, raceID string) (model.Race, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+raceColumns+` FROM races WHERE id = ?`), raceID)
	r, err := scanRace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Race{}, fmt.Errorf("race %s: %w", raceID, ErrNotFound)
	}
	if err != nil {
		return model.Race{}, fmt.Errorf("get race %s: %w", raceID, err)
	}
	return r, nil
}

func (s *SQLStore) UpdateRaceStatus(ctx context.Context, raceID string, status model.RaceStatus, at time.Time) error {
	q := `UPDATE races SET status = ? WHERE id = ?`
	args := []any{string(status), raceID}
	switch status {
	case model.StatusRacing:
		q = `UPDATE races SET status = ?, started_at = ? WHERE id = ?`
		args = []any{string(status), toMs(at), raceID}
	case model.StatusFinished:
		q = `UPDATE races SET status = ?, finished_at = ? WHERE id = ?`
		args = []any{string(status), toMs(at), raceID}
	}
	res, err := s.exec(ctx, s.db, q, args...)
	if err != nil {
		return fmt.Errorf("update race %s: %w", raceID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("race %s: %w", raceID, ErrNotFound)
	}
	return nil
}

const participantColumns = `id, race_id, user_id, guest_name, is_bot, progress, wpm, accuracy, errors, is_active, is_finished, finish_position, finished_at`

func scanParticipant(sc scanner) (model.Participant, error) {
	var (
		p        model.Participant
		finished int64
	)
	err := sc.Scan(&p.ID, &p.RaceID, &p.UserID, &p.GuestName, &p.IsBot, &p.Progress, &p.WPM, &p.Accuracy,
		&p.Errors, &p.IsActive, &p.IsFinished, &p.FinishPosition, &finished)
	if err != nil {
		return model.Participant{}, err
	}
	p.FinishedAt = fromMs(finished)
	return p, nil
}

func (s *SQLStore) ListParticipants(ctx context.Context, raceID string) ([]model.Participant, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+participantColumns+` FROM participants WHERE race_id = ? ORDER BY seq, id`), raceID)
	if err != nil {
		return nil, fmt.Errorf("list participants %s: %w", raceID, err)
	}
	defer rows.Close()
	var out []model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpsertParticipant(ctx context.Context, p model.Participant) error {
	_, err := s.exec(ctx, s.db, `
INSERT INTO participants (`+participantColumns+`, seq)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    user_id = excluded.user_id, guest_name = excluded.guest_name, is_bot = excluded.is_bot,
    progress = excluded.progress, wpm = excluded.wpm, accuracy = excluded.accuracy,
    errors = excluded.errors, is_active = excluded.is_active`,
		p.ID, p.RaceID, p.UserID, p.GuestName, p.IsBot, p.Progress, p.WPM, p.Accuracy, p.Errors,
		p.IsActive, p.IsFinished, p.FinishPosition, toMs(p.FinishedAt), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert participant %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLStore) SetParticipantActive(ctx context.Context, participantID string, active bool) error {
	res, err := s.exec(ctx, s.db, `UPDATE participants SET is_active = ? WHERE id = ?`, active, participantID)
	if err != nil {
		return fmt.Errorf("set active %s: %w", participantID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("participant %s: %w", participantID, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) UpdateProgressBatch(ctx context.Context, updates []model.ProgressUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin progress batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, s.rebind(`UPDATE participants SET progress = ?, wpm = ?, accuracy = ?, errors = ? WHERE id = ?`))
	if err != nil {
		return fmt.Errorf("prepare progress batch: %w", err)
	}
	defer stmt.Close()
	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.Progress, u.WPM, u.Accuracy, u.Errors, u.ParticipantID); err != nil {
			return fmt.Errorf("progress %s: %w", u.ParticipantID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) FinishParticipant(ctx context.Context, raceID, participantID string, at time.Time) (model.FinishResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.FinishResult{}, fmt.Errorf("begin finish: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	lock := ""
	if s.dialect == DialectPostgres {
		lock = " FOR UPDATE"
	}
	var (
		finished bool
		position int
		whenMs   int64
	)
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT is_finished, finish_position, finished_at FROM participants WHERE id = ? AND race_id = ?`+lock),
		participantID, raceID).Scan(&finished, &position, &whenMs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FinishResult{}, fmt.Errorf("participant %s: %w", participantID, ErrParticipantAbsent)
	}
	if err != nil {
		return model.FinishResult{}, fmt.Errorf("finish lookup %s: %w", participantID, err)
	}
	if finished {
		return model.FinishResult{ParticipantID: participantID, Position: position, FinishedAt: fromMs(whenMs)}, nil
	}

	err = tx.QueryRowContext(ctx, s.rebind(`UPDATE races SET finish_counter = finish_counter + 1 WHERE id = ? RETURNING finish_counter`),
		raceID).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FinishResult{}, fmt.Errorf("race %s: %w", raceID, ErrNotFound)
	}
	if err != nil {
		return model.FinishResult{}, fmt.Errorf("finish counter %s: %w", raceID, err)
	}
	if _, err := s.exec(ctx, tx, `UPDATE participants SET is_finished = ?, finish_position = ?, finished_at = ? WHERE id = ?`,
		true, position, toMs(at), participantID); err != nil {
		return model.FinishResult{}, fmt.Errorf("finish %s: %w", participantID, err)
	}
	if err := tx.Commit(); err != nil {
		return model.FinishResult{}, fmt.Errorf("commit finish: %w", err)
	}
	return model.FinishResult{ParticipantID: participantID, Position: position, IsNewFinish: true, FinishedAt: at}, nil
}

func (s *SQLStore) StaleRaces(ctx context.Context, status model.RaceStatus, cutoff time.Time) ([]model.Race, error) {
	ref := "created_at"
	if status == model.StatusRacing {
		ref = "CASE WHEN started_at > 0 THEN started_at ELSE created_at END"
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+raceColumns+` FROM races WHERE status = ? AND `+ref+` < ? ORDER BY created_at`),
		string(status), toMs(cutoff))
	if err != nil {
		return nil, fmt.Errorf("stale races: %w", err)
	}
	defer rows.Close()
	var out []model.Race
	for rows.Next() {
		r, err := scanRace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin purge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	ms := toMs(cutoff)
	if _, err := s.exec(ctx, tx, `DELETE FROM participants WHERE race_id IN (SELECT id FROM races WHERE status = ? AND finished_at > 0 AND finished_at < ?)`,
		string(model.StatusFinished), ms); err != nil {
		return 0, fmt.Errorf("purge participants: %w", err)
	}
	res, err := s.exec(ctx, tx, `DELETE FROM races WHERE status = ? AND finished_at > 0 AND finished_at < ?`, string(model.StatusFinished), ms)
	if err != nil {
		return 0, fmt.Errorf("purge races: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	return int(n), nil
}

const ratingColumns = `user_id, rating, peak_rating, tier, wins, losses, draws, win_streak, best_streak, provisional, provisional_games, decay_applied, last_race_at`

func scanRating(sc scanner) (model.UserRating, error) {
	var (
		r    model.UserRating
		last int64
	)
	err := sc.Scan(&r.UserID, &r.Rating, &r.PeakRating, &r.Tier, &r.Wins, &r.Losses, &r.Draws, &r.WinStreak,
		&r.BestStreak, &r.Provisional, &r.ProvisionalGames, &r.DecayApplied, &last)
	if err != nil {
		return model.UserRating{}, err
	}
	r.LastRaceAt = fromMs(last)
	return r, nil
}

func (s *SQLStore) GetRating(ctx context.Context, userID string) (model.UserRating, error) {
	r, err := scanRating(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+ratingColumns+` FROM user_ratings WHERE user_id = ?`), userID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserRating{}, fmt.Errorf("rating %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return model.UserRating{}, fmt.Errorf("get rating %s: %w", userID, err)
	}
	return r, nil
}

func (s *SQLStore) SaveRating(ctx context.Context, r model.UserRating) error {
	return s.saveRating(ctx, s.db, r)
}

func (s *SQLStore) saveRating(ctx context.Context, x execer, r model.UserRating) error {
	_, err := s.exec(ctx, x, `
INSERT INTO user_ratings (`+ratingColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    rating = excluded.rating, peak_rating = excluded.peak_rating, tier = excluded.tier,
    wins = excluded.wins, losses = excluded.losses, draws = excluded.draws,
    win_streak = excluded.win_streak, best_streak = excluded.best_streak,
    provisional = excluded.provisional, provisional_games = excluded.provisional_games,
    decay_applied = excluded.decay_applied, last_race_at = excluded.last_race_at`,
		r.UserID, r.Rating, r.PeakRating, r.Tier, r.Wins, r.Losses, r.Draws, r.WinStreak, r.BestStreak,
		r.Provisional, r.ProvisionalGames, r.DecayApplied, toMs(r.LastRaceAt))
	if err != nil {
		return fmt.Errorf("save rating %s: %w", r.UserID, err)
	}
	return nil
}

func (s *SQLStore) HasMatchHistory(ctx context.Context, raceID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM match_history WHERE race_id = ? LIMIT 1`), raceID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("match history %s: %w", raceID, err)
	}
	return true, nil
}

func (s *SQLStore) InsertMatchHistory(ctx context.Context, m model.MatchRecord) error {
	return s.insertMatch(ctx, s.db, m)
}

func (s *SQLStore) RecordMatch(ctx context.Context, r model.UserRating, m model.MatchRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin match %s/%s: %w", m.RaceID, m.UserID, err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.insertMatch(ctx, tx, m); err != nil {
		return err
	}
	if err := s.saveRating(ctx, tx, r); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit match %s/%s: %w", m.RaceID, m.UserID, err)
	}
	return nil
}

func (s *SQLStore) insertMatch(ctx context.Context, x execer, m model.MatchRecord) error {
	_, err := s.exec(ctx, x, `
INSERT INTO match_history (race_id, user_id, position, total_players, old_rating, new_rating, delta, outcome, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RaceID, m.UserID, m.Position, m.TotalPlayers, m.OldRating, m.NewRating, m.Delta, string(m.Outcome), toMs(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert match %s/%s: %w", m.RaceID, m.UserID, err)
	}
	return nil
}

func (s *SQLStore) queryRatings(ctx context.Context, q string, args ...any) ([]model.UserRating, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.UserRating
	for rows.Next() {
		r, err := scanRating(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) RatingsNear(ctx context.Context, center, tolerance int, excludeUserID string, limit int) ([]model.UserRating, error) {
	q := `SELECT ` + ratingColumns + ` FROM user_ratings WHERE rating >= ? AND rating <= ? AND user_id <> ?
ORDER BY ABS(rating - ?), rating DESC, user_id`
	args := []any{center - tolerance, center + tolerance, excludeUserID, center}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	out, err := s.queryRatings(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ratings near %d: %w", center, err)
	}
	return out, nil
}

func (s *SQLStore) DecayCandidates(ctx context.Context, cutoff time.Time, floor int) ([]model.UserRating, error) {
	out, err := s.queryRatings(ctx, `SELECT `+ratingColumns+` FROM user_ratings WHERE rating > ? AND last_race_at > 0 AND last_race_at < ? ORDER BY user_id`,
		floor, toMs(cutoff))
	if err != nil {
		return nil, fmt.Errorf("decay candidates: %w", err)
	}
	return out, nil
}

func (s *SQLStore) InsertKeystrokeAnalysis(ctx context.Context, a model.KeystrokeAnalysis) error {
	_, err := s.exec(ctx, s.db, `
INSERT INTO keystroke_analyses (id, race_id, participant_id, user_id, sample_count, mean_interval_ms, min_interval_ms,
    std_dev_ms, server_wpm, client_wpm, flags, is_valid, requires_review, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RaceID, a.ParticipantID, a.UserID, a.SampleCount, a.MeanIntervalMs, a.MinIntervalMs, a.StdDevMs,
		a.ServerWPM, a.ClientWPM, strings.Join(a.Flags, ","), a.IsValid, a.RequiresReview, toMs(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert analysis %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLStore) InsertAudit(ctx context.Context, e model.AuditEvent) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO audit_events (id, user_id, kind, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Kind, e.Detail, toMs(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLStore) GetCertification(ctx context.Context, userID string) (model.Certification, error) {
	var (
		c  model.Certification
		at int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT user_id, certified_wpm, created_at FROM certifications WHERE user_id = ?`), userID).
		Scan(&c.UserID, &c.CertifiedWPM, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Certification{}, fmt.Errorf("certification %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return model.Certification{}, fmt.Errorf("get certification %s: %w", userID, err)
	}
	c.CreatedAt = fromMs(at)
	return c, nil
}

func (s *SQLStore) SaveCertification(ctx context.Context, c model.Certification) error {
	_, err := s.exec(ctx, s.db, `
INSERT INTO certifications (user_id, certified_wpm, created_at) VALUES (?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET certified_wpm = excluded.certified_wpm, created_at = excluded.created_at`,
		c.UserID, c.CertifiedWPM, toMs(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("save certification %s: %w", c.UserID, err)
	}
	return nil
}
