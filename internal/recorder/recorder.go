// Package recorder stores published frames in SQLite so sessions can be
// inspected and plotted after the fact.
//
// NaN components (occluded poses) are stored as NULL and restored as NaN.
package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap/filter"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/monitoring"
)

var logf = monitoring.Tagged("recorder")

// ErrUnknownSession is returned for a session ID that was never started.
var ErrUnknownSession = errors.New("recorder: unknown session")

// Store is a frame recording database.
type Store struct {
	db   *sql.DB
	path string
}

// Session describes one recording.
type Session struct {
	ID         string        `json:"id"`
	Address    string        `json:"address"`
	Filters    filter.Config `json:"filters"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
	FrameCount int64         `json:"frame_count"`
}

// TrajectoryPoint is one recorded position of an object.
type TrajectoryPoint struct {
	Number   uint64         `json:"number"`
	Time     time.Time      `json:"time"`
	Position mocap.Position `json:"position"`
	Occluded bool           `json:"occluded"`
}

// Open opens or creates the database at path and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; sqlite serialises writes anyway.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	s := &Store{db: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for admin tooling.
func (s *Store) DB() *sql.DB { return s.db }

// StartSession records the start of a session and returns its ID.
func (s *Store) StartSession(ctx context.Context, address string, filters filter.Config) (string, error) {
	b, err := json.Marshal(filters)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, address, filters, started_at) VALUES (?, ?, ?, ?)`,
		id, address, string(b), time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	logf("session %s started for %s", id, address)
	return id, nil
}

// EndSession marks a session finished.
func (s *Store) EndSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE session_id = ?`, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return nil
}

// Sessions lists recordings, newest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, address, filters, started_at, ended_at, frame_count FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess    Session
			filters string
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&sess.ID, &sess.Address, &filters, &started, &ended, &sess.FrameCount); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(filters), &sess.Filters); err != nil {
			return nil, fmt.Errorf("session %s filters: %w", sess.ID, err)
		}
		sess.StartedAt = time.Unix(0, started)
		if ended.Valid {
			t := time.Unix(0, ended.Int64)
			sess.EndedAt = &t
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// RecordFrame stores f under the session in a single transaction.
func (s *Store) RecordFrame(ctx context.Context, sessionID string, f mocap.Frame) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET frame_count = frame_count + 1 WHERE session_id = ?`, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	var captured sql.NullInt64
	if !f.Timestamp.IsZero() {
		captured = sql.NullInt64{Int64: f.Timestamp.UnixNano(), Valid: true}
	}
	res, err = tx.ExecContext(ctx,
		`INSERT INTO frames (session_id, number, frame_rate, captured_at) VALUES (?, ?, ?, ?)`,
		sessionID, int64(f.Number), nullFloat(f.FrameRate), captured)
	if err != nil {
		return fmt.Errorf("insert frame %d: %w", f.Number, err)
	}
	frameID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for i, o := range f.Objects {
		rot, err := json.Marshal(o.Rotation)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO objects (frame_id, idx, name, occluded, rotation, x, y, z) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			frameID, i, o.Name, o.Occluded, string(rot),
			nullFloat(o.Position[0]), nullFloat(o.Position[1]), nullFloat(o.Position[2]))
		if err != nil {
			return fmt.Errorf("insert object %q: %w", o.Name, err)
		}
		objectID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for j, m := range o.Markers {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO markers (object_id, idx, name, occluded, x, y, z) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				objectID, j, m.Name, m.Occluded,
				nullFloat(m.Position[0]), nullFloat(m.Position[1]), nullFloat(m.Position[2]))
			if err != nil {
				return fmt.Errorf("insert marker %q: %w", m.Name, err)
			}
		}
	}
	return tx.Commit()
}

// Frames returns up to limit of the most recent frames of a session, oldest
// first. limit <= 0 returns every frame.
func (s *Store) Frames(ctx context.Context, sessionID string, limit int) ([]mocap.Frame, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT frame_id, number, frame_rate, captured_at FROM frames
		 WHERE session_id = ? ORDER BY frame_id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	type frameRow struct {
		id    int64
		frame mocap.Frame
	}
	var list []frameRow
	for rows.Next() {
		var (
			r        frameRow
			number   int64
			rate     sql.NullFloat64
			captured sql.NullInt64
		)
		if err := rows.Scan(&r.id, &number, &rate, &captured); err != nil {
			rows.Close()
			return nil, err
		}
		r.frame.Number = uint64(number)
		r.frame.FrameRate = floatOrNaN(rate)
		if captured.Valid {
			r.frame.Timestamp = time.Unix(0, captured.Int64)
		}
		list = append(list, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]mocap.Frame, len(list))
	for i, r := range list {
		objects, err := s.objects(ctx, r.id)
		if err != nil {
			return nil, err
		}
		r.frame.Objects = objects
		out[len(list)-1-i] = r.frame
	}
	return out, nil
}

func (s *Store) objects(ctx context.Context, frameID int64) ([]mocap.Object, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT object_id, name, occluded, rotation, x, y, z FROM objects WHERE frame_id = ? ORDER BY idx`, frameID)
	if err != nil {
		return nil, err
	}
	var ids []int64
	objects := []mocap.Object{}
	for rows.Next() {
		var (
			id      int64
			o       mocap.Object
			rot     string
			x, y, z sql.NullFloat64
		)
		if err := rows.Scan(&id, &o.Name, &o.Occluded, &rot, &x, &y, &z); err != nil {
			rows.Close()
			return nil, err
		}
		if err := json.Unmarshal([]byte(rot), &o.Rotation); err != nil {
			rows.Close()
			return nil, fmt.Errorf("object %q rotation: %w", o.Name, err)
		}
		o.Position = mocap.Position{floatOrNaN(x), floatOrNaN(y), floatOrNaN(z)}
		ids = append(ids, id)
		objects = append(objects, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, id := range ids {
		markers, err := s.markers(ctx, id)
		if err != nil {
			return nil, err
		}
		objects[i].Markers = markers
	}
	return objects, nil
}

func (s *Store) markers(ctx context.Context, objectID int64) ([]mocap.Marker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, occluded, x, y, z FROM markers WHERE object_id = ? ORDER BY idx`, objectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []mocap.Marker
	for rows.Next() {
		var (
			m       mocap.Marker
			x, y, z sql.NullFloat64
		)
		if err := rows.Scan(&m.Name, &m.Occluded, &x, &y, &z); err != nil {
			return nil, err
		}
		m.Position = mocap.Position{floatOrNaN(x), floatOrNaN(y), floatOrNaN(z)}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Trajectory returns up to limit of the most recent positions of the named
// object in a session, oldest first.
func (s *Store) Trajectory(ctx context.Context, sessionID, object string, limit int) ([]TrajectoryPoint, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.number, f.captured_at, o.occluded, o.x, o.y, o.z
		 FROM objects o JOIN frames f ON o.frame_id = f.frame_id
		 WHERE f.session_id = ? AND o.name = ?
		 ORDER BY f.frame_id DESC LIMIT ?`, sessionID, object, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrajectoryPoint
	for rows.Next() {
		var (
			p        TrajectoryPoint
			number   int64
			captured sql.NullInt64
			x, y, z  sql.NullFloat64
		)
		if err := rows.Scan(&number, &captured, &p.Occluded, &x, &y, &z); err != nil {
			return nil, err
		}
		p.Number = uint64(number)
		if captured.Valid {
			p.Time = time.Unix(0, captured.Int64)
		}
		p.Position = mocap.Position{floatOrNaN(x), floatOrNaN(y), floatOrNaN(z)}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// LatestSession returns the ID of the most recently started session.
func (s *Store) LatestSession(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownSession
	}
	return id, err
}

func nullFloat(x float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: x, Valid: !math.IsNaN(x) && !math.IsInf(x, 0)}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
