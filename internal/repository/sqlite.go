package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mr1hm/go-unrest-alerts/internal/models"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Serialized writes keep the CAS guard meaningful under the single
	// sqlite writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			source_kind TEXT NOT NULL,
			author TEXT,
			text TEXT NOT NULL,
			url TEXT,
			location_raw TEXT,
			published_at DATETIME NOT NULL,
			relevance REAL,
			sentiment TEXT,
			entities TEXT,
			keywords TEXT,
			location_text TEXT,
			participants INTEGER,
			language TEXT,
			extracted INTEGER NOT NULL DEFAULT 0,
			res_latitude REAL,
			res_longitude REAL,
			res_place TEXT,
			res_confidence REAL,
			incident_id TEXT,
			ingested_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL,
			severity TEXT NOT NULL,
			confidence REAL NOT NULL,
			latitude REAL,
			longitude REAL,
			place_name TEXT,
			loc_confidence REAL,
			window_start DATETIME NOT NULL,
			window_end DATETIME NOT NULL,
			keywords TEXT,
			source_kinds TEXT,
			post_count INTEGER NOT NULL,
			merged_into TEXT,
			status_locked INTEGER NOT NULL DEFAULT 0,
			severity_locked INTEGER NOT NULL DEFAULT 0,
			lock_reason TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS moderation_audit (
			id TEXT PRIMARY KEY,
			incident_id TEXT NOT NULL,
			target_id TEXT,
			action TEXT NOT NULL,
			reason TEXT,
			actor TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (incident_id) REFERENCES incidents(id)
		);

		CREATE INDEX IF NOT EXISTS idx_posts_incident_id ON posts(incident_id);
		CREATE INDEX IF NOT EXISTS idx_posts_published_at ON posts(published_at);
		CREATE INDEX IF NOT EXISTS idx_posts_source_kind ON posts(source_kind);
		CREATE INDEX IF NOT EXISTS idx_posts_extracted ON posts(extracted);
		CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
		CREATE INDEX IF NOT EXISTS idx_incidents_window ON incidents(window_start, window_end);
		CREATE INDEX IF NOT EXISTS idx_incidents_place ON incidents(place_name);
		CREATE INDEX IF NOT EXISTS idx_incidents_updated_at ON incidents(updated_at);
		CREATE INDEX IF NOT EXISTS idx_audit_incident_id ON moderation_audit(incident_id);
  	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

const postColumns = `id, source_kind, author, text, url, location_raw, published_at,
	relevance, sentiment, entities, keywords, location_text, participants, language, extracted,
	res_latitude, res_longitude, res_place, res_confidence, incident_id, ingested_at`

func (s *SQLiteDB) AddPost(ctx context.Context, p *models.Post) error {
	var (
		relevance    sql.NullFloat64
		sentiment    sql.NullString
		entities     sql.NullString
		keywords     sql.NullString
		locationText sql.NullString
		participants sql.NullInt64
		language     sql.NullString
		extracted    bool
	)
	if p.Features != nil {
		extracted = true
		if p.Features.Relevance != nil {
			relevance = sql.NullFloat64{Float64: *p.Features.Relevance, Valid: true}
		}
		if p.Features.Sentiment != nil {
			sentiment = sql.NullString{String: string(*p.Features.Sentiment), Valid: true}
		}
		entities = marshalList(p.Features.Entities)
		keywords = marshalList(p.Features.Keywords)
		if p.Features.LocationText != "" {
			locationText = sql.NullString{String: p.Features.LocationText, Valid: true}
		}
		if p.Features.Participants != nil {
			participants = sql.NullInt64{Int64: int64(*p.Features.Participants), Valid: true}
		}
		if p.Features.Language != "" {
			language = sql.NullString{String: p.Features.Language, Valid: true}
		}
	}

	var lat, lng, locConf sql.NullFloat64
	var place sql.NullString
	if p.Resolved != nil {
		lat = sql.NullFloat64{Float64: p.Resolved.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: p.Resolved.Longitude, Valid: true}
		locConf = sql.NullFloat64{Float64: p.Resolved.Confidence, Valid: true}
		place = sql.NullString{String: p.Resolved.PlaceName, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (`+postColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.SourceKind), nullString(p.Author), p.Text, nullString(p.URL),
		nullString(p.LocationRaw), p.PublishedAt.UTC(),
		relevance, sentiment, entities, keywords, locationText, participants, language, extracted,
		lat, lng, place, locConf, nullString(p.IncidentID), p.IngestedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("error inserting post: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetPost(ctx context.Context, id string) (*models.Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error reading post: %w", err)
	}
	return p, nil
}

func (s *SQLiteDB) PostExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error checking post existence: %w", err)
	}
	return true, nil
}

func (s *SQLiteDB) ListPostsByIncident(ctx context.Context, incidentID string) ([]models.Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+` FROM posts WHERE incident_id = ? ORDER BY published_at ASC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("error listing posts: %w", err)
	}
	defer rows.Close()
	return collectPosts(rows)
}

func (s *SQLiteDB) ListUnextracted(ctx context.Context, limit int) ([]models.Post, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+` FROM posts WHERE extracted = 0 ORDER BY ingested_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing unextracted posts: %w", err)
	}
	defer rows.Close()
	return collectPosts(rows)
}

func (s *SQLiteDB) SetFeatures(ctx context.Context, id string, f *models.Features) error {
	if f == nil {
		return fmt.Errorf("nil features for post %s", id)
	}
	var relevance sql.NullFloat64
	if f.Relevance != nil {
		relevance = sql.NullFloat64{Float64: *f.Relevance, Valid: true}
	}
	var sentiment sql.NullString
	if f.Sentiment != nil {
		sentiment = sql.NullString{String: string(*f.Sentiment), Valid: true}
	}
	var participants sql.NullInt64
	if f.Participants != nil {
		participants = sql.NullInt64{Int64: int64(*f.Participants), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE posts SET relevance = ?, sentiment = ?, entities = ?, keywords = ?,
			location_text = ?, participants = ?, language = ?, extracted = 1
		WHERE id = ?`,
		relevance, sentiment, marshalList(f.Entities), marshalList(f.Keywords),
		nullString(f.LocationText), participants, nullString(f.Language), id,
	)
	if err != nil {
		return fmt.Errorf("error updating post features: %w", err)
	}
	return requireRow(res, id)
}

func (s *SQLiteDB) SetResolved(ctx context.Context, id string, loc *models.Location) error {
	if loc == nil {
		return fmt.Errorf("nil location for post %s", id)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE posts SET res_latitude = ?, res_longitude = ?, res_place = ?, res_confidence = ?
		WHERE id = ?`,
		loc.Latitude, loc.Longitude, loc.PlaceName, loc.Confidence, id,
	)
	if err != nil {
		return fmt.Errorf("error updating post location: %w", err)
	}
	return requireRow(res, id)
}

func (s *SQLiteDB) CountWeatherPosts(ctx context.Context, region string, since time.Time) (int, error) {
	needle := "%" + strings.ToLower(region) + "%"
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM posts
		WHERE source_kind = ? AND published_at >= ?
		AND (lower(coalesce(location_raw, '')) LIKE ?
			OR lower(coalesce(location_text, '')) LIKE ?
			OR lower(coalesce(res_place, '')) LIKE ?)`,
		string(models.SourceWeather), since.UTC(), needle, needle, needle,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting weather posts: %w", err)
	}
	return count, nil
}

const incidentColumns = `id, title, description, status, severity, confidence,
	latitude, longitude, place_name, loc_confidence, window_start, window_end,
	keywords, source_kinds, post_count, merged_into, status_locked, severity_locked,
	lock_reason, created_at, updated_at, version`

func (s *SQLiteDB) CreateIncident(ctx context.Context, inc *models.Incident, firstPostID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if inc.Version == 0 {
		inc.Version = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO incidents (`+incidentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		incidentArgs(inc)...,
	); err != nil {
		return fmt.Errorf("error inserting incident: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE posts SET incident_id = ? WHERE id = ?`, inc.ID, firstPostID)
	if err != nil {
		return fmt.Errorf("error linking first post: %w", err)
	}
	if err := requireRow(res, firstPostID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing incident create: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id)
	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error reading incident: %w", err)
	}
	return inc, nil
}

func (s *SQLiteDB) ListIncidents(ctx context.Context, f IncidentFilter) ([]models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []any{}

	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*f.Status))
	}
	if f.Severity != nil {
		query += ` AND severity = ?`
		args = append(args, string(*f.Severity))
	}
	if f.MinSeverity != nil {
		switch *f.MinSeverity {
		case models.SeverityHigh:
			query += ` AND severity = 'high'`
		case models.SeverityMedium:
			query += ` AND severity IN ('medium', 'high')`
		}
	}
	if f.Region != "" {
		query += ` AND lower(coalesce(place_name, '')) LIKE ?`
		args = append(args, "%"+strings.ToLower(f.Region)+"%")
	}
	if f.Since != nil {
		query += ` AND window_end >= ?`
		args = append(args, f.Since.UTC())
	}
	if f.Until != nil {
		query += ` AND window_start <= ?`
		args = append(args, f.Until.UTC())
	}

	query += ` ORDER BY updated_at DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing incidents: %w", err)
	}
	defer rows.Close()
	return collectIncidents(rows)
}

func (s *SQLiteDB) LatestVerified(ctx context.Context, limit int) ([]models.Incident, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE status = 'verified' ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing verified incidents: %w", err)
	}
	defer rows.Close()
	return collectIncidents(rows)
}

func (s *SQLiteDB) Candidates(ctx context.Context, q CandidateQuery) ([]models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents
		WHERE status IN ('unverified', 'verified') AND window_start <= ? AND window_end >= ?`
	args := []any{q.To.UTC(), q.From.UTC()}

	if q.Located != nil {
		if *q.Located {
			query += ` AND latitude IS NOT NULL`
		} else {
			query += ` AND latitude IS NULL`
		}
	}
	if q.Bounds != nil {
		query += ` AND latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`
		args = append(args, q.Bounds.MinLat, q.Bounds.MaxLat, q.Bounds.MinLng, q.Bounds.MaxLng)
	}

	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying candidates: %w", err)
	}
	defer rows.Close()
	return collectIncidents(rows)
}

func (s *SQLiteDB) AttachPost(ctx context.Context, inc *models.Incident, postID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.casUpdate(ctx, tx, inc); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE posts SET incident_id = ? WHERE id = ?`, inc.ID, postID)
	if err != nil {
		return fmt.Errorf("error linking post: %w", err)
	}
	if err := requireRow(res, postID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing attach: %w", err)
	}
	inc.Version++
	return nil
}

func (s *SQLiteDB) UpdateIncident(ctx context.Context, inc *models.Incident) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.casUpdate(ctx, tx, inc); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing update: %w", err)
	}
	inc.Version++
	return nil
}

func (s *SQLiteDB) MergeIncidents(ctx context.Context, source, target *models.Incident) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.casUpdate(ctx, tx, source); err != nil {
		return err
	}
	if err := s.casUpdate(ctx, tx, target); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE posts SET incident_id = ? WHERE incident_id = ?`, target.ID, source.ID); err != nil {
		return fmt.Errorf("error re-parenting posts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing merge: %w", err)
	}
	source.Version++
	target.Version++
	return nil
}

// casUpdate writes every mutable incident column guarded by the version
// the caller read. Zero rows affected means a concurrent writer got
// there first (or the incident vanished, which we surface separately).
func (s *SQLiteDB) casUpdate(ctx context.Context, tx *sql.Tx, inc *models.Incident) error {
	var lat, lng, locConf sql.NullFloat64
	var place sql.NullString
	if inc.Location != nil {
		lat = sql.NullFloat64{Float64: inc.Location.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: inc.Location.Longitude, Valid: true}
		locConf = sql.NullFloat64{Float64: inc.Location.Confidence, Valid: true}
		place = sql.NullString{String: inc.Location.PlaceName, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE incidents SET
			title = ?, description = ?, status = ?, severity = ?, confidence = ?,
			latitude = ?, longitude = ?, place_name = ?, loc_confidence = ?,
			window_start = ?, window_end = ?, keywords = ?, source_kinds = ?,
			post_count = ?, merged_into = ?, status_locked = ?, severity_locked = ?,
			lock_reason = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		inc.Title, nullString(inc.Description), string(inc.Status), string(inc.Severity), inc.Confidence,
		lat, lng, place, locConf,
		inc.WindowStart.UTC(), inc.WindowEnd.UTC(), marshalList(inc.Keywords), marshalKinds(inc.SourceKinds),
		inc.PostCount, nullString(inc.MergedInto), inc.StatusLocked, inc.SeverityLocked,
		nullString(inc.LockReason), time.Now().UTC(),
		inc.ID, inc.Version,
	)
	if err != nil {
		return fmt.Errorf("error updating incident: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %w", err)
	}
	if n == 0 {
		var one int
		if err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM incidents WHERE id = ?`, inc.ID).Scan(&one); err == sql.ErrNoRows {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *SQLiteDB) Summary(ctx context.Context) (Summary, error) {
	sum := Summary{
		ByStatus:   make(map[models.IncidentStatus]int),
		BySeverity: make(map[models.Severity]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM incidents GROUP BY status`)
	if err != nil {
		return sum, fmt.Errorf("error counting by status: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return sum, fmt.Errorf("error scanning status counts: %w", err)
		}
		sum.ByStatus[models.IncidentStatus(status)] = count
		sum.Total += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return sum, fmt.Errorf("error iterating status counts: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT severity, COUNT(*) FROM incidents GROUP BY severity`)
	if err != nil {
		return sum, fmt.Errorf("error counting by severity: %w", err)
	}
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			rows.Close()
			return sum, fmt.Errorf("error scanning severity counts: %w", err)
		}
		sum.BySeverity[models.Severity(severity)] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return sum, fmt.Errorf("error iterating severity counts: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT place_name, COUNT(*) AS n FROM incidents
		WHERE place_name IS NOT NULL AND status IN ('unverified', 'verified')
		GROUP BY place_name ORDER BY n DESC LIMIT 5`)
	if err != nil {
		return sum, fmt.Errorf("error counting regions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rc RegionCount
		if err := rows.Scan(&rc.Region, &rc.Count); err != nil {
			return sum, fmt.Errorf("error scanning region counts: %w", err)
		}
		sum.TopRegions = append(sum.TopRegions, rc)
	}
	if err := rows.Err(); err != nil {
		return sum, fmt.Errorf("error iterating region counts: %w", err)
	}

	return sum, nil
}

func (s *SQLiteDB) ListIncidentsInRegion(ctx context.Context, region string, from, to time.Time) ([]models.Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE status IN ('unverified', 'verified')
		AND window_end >= ? AND window_start <= ?
		AND lower(coalesce(place_name, '')) LIKE ?
		ORDER BY window_start ASC`,
		from.UTC(), to.UTC(), "%"+strings.ToLower(region)+"%")
	if err != nil {
		return nil, fmt.Errorf("error listing incidents in region: %w", err)
	}
	defer rows.Close()
	return collectIncidents(rows)
}

func (s *SQLiteDB) AddAudit(ctx context.Context, e *models.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO moderation_audit (id, incident_id, target_id, action, reason, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.IncidentID, nullString(e.TargetID), string(e.Action),
		nullString(e.Reason), nullString(e.Actor), e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("error inserting audit entry: %w", err)
	}
	return nil
}

func (s *SQLiteDB) ListAuditByIncident(ctx context.Context, incidentID string) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, target_id, action, reason, actor, created_at
		FROM moderation_audit WHERE incident_id = ? ORDER BY created_at ASC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("error listing audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var targetID, reason, actor sql.NullString
		var action string
		if err := rows.Scan(&e.ID, &e.IncidentID, &targetID, &action, &reason, &actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning audit entry: %w", err)
		}
		e.TargetID = targetID.String
		e.Action = models.ModerationAction(action)
		e.Reason = reason.String
		e.Actor = actor.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.Post, error) {
	var (
		p            models.Post
		sourceKind   string
		author       sql.NullString
		url          sql.NullString
		locationRaw  sql.NullString
		relevance    sql.NullFloat64
		sentiment    sql.NullString
		entities     sql.NullString
		keywords     sql.NullString
		locationText sql.NullString
		participants sql.NullInt64
		language     sql.NullString
		extracted    bool
		lat          sql.NullFloat64
		lng          sql.NullFloat64
		place        sql.NullString
		locConf      sql.NullFloat64
		incidentID   sql.NullString
	)

	err := row.Scan(&p.ID, &sourceKind, &author, &p.Text, &url, &locationRaw, &p.PublishedAt,
		&relevance, &sentiment, &entities, &keywords, &locationText, &participants, &language, &extracted,
		&lat, &lng, &place, &locConf, &incidentID, &p.IngestedAt)
	if err != nil {
		return nil, err
	}

	p.SourceKind = models.SourceKind(sourceKind)
	p.Author = author.String
	p.URL = url.String
	p.LocationRaw = locationRaw.String
	p.IncidentID = incidentID.String

	if extracted {
		f := &models.Features{
			Entities:     unmarshalList(entities),
			Keywords:     unmarshalList(keywords),
			LocationText: locationText.String,
			Language:     language.String,
		}
		if relevance.Valid {
			v := relevance.Float64
			f.Relevance = &v
		}
		if sentiment.Valid {
			sv := models.Sentiment(sentiment.String)
			f.Sentiment = &sv
		}
		if participants.Valid {
			n := int(participants.Int64)
			f.Participants = &n
		}
		p.Features = f
	}

	if lat.Valid && lng.Valid {
		p.Resolved = &models.Location{
			Latitude:   lat.Float64,
			Longitude:  lng.Float64,
			PlaceName:  place.String,
			Confidence: locConf.Float64,
		}
	}

	return &p, nil
}

func collectPosts(rows *sql.Rows) ([]models.Post, error) {
	var posts []models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning post: %w", err)
		}
		posts = append(posts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}
	return posts, nil
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var (
		inc         models.Incident
		description sql.NullString
		status      string
		severity    string
		lat         sql.NullFloat64
		lng         sql.NullFloat64
		place       sql.NullString
		locConf     sql.NullFloat64
		keywords    sql.NullString
		sourceKinds sql.NullString
		mergedInto  sql.NullString
		lockReason  sql.NullString
	)

	err := row.Scan(&inc.ID, &inc.Title, &description, &status, &severity, &inc.Confidence,
		&lat, &lng, &place, &locConf, &inc.WindowStart, &inc.WindowEnd,
		&keywords, &sourceKinds, &inc.PostCount, &mergedInto, &inc.StatusLocked, &inc.SeverityLocked,
		&lockReason, &inc.CreatedAt, &inc.UpdatedAt, &inc.Version)
	if err != nil {
		return nil, err
	}

	inc.Description = description.String
	inc.Status = models.IncidentStatus(status)
	inc.Severity = models.Severity(severity)
	inc.MergedInto = mergedInto.String
	inc.LockReason = lockReason.String
	inc.Keywords = unmarshalList(keywords)
	for _, k := range unmarshalList(sourceKinds) {
		inc.SourceKinds = append(inc.SourceKinds, models.SourceKind(k))
	}
	if lat.Valid && lng.Valid {
		inc.Location = &models.Location{
			Latitude:   lat.Float64,
			Longitude:  lng.Float64,
			PlaceName:  place.String,
			Confidence: locConf.Float64,
		}
	}

	return &inc, nil
}

func collectIncidents(rows *sql.Rows) ([]models.Incident, error) {
	var incidents []models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating incidents: %w", err)
	}
	return incidents, nil
}

func incidentArgs(inc *models.Incident) []any {
	var lat, lng, locConf sql.NullFloat64
	var place sql.NullString
	if inc.Location != nil {
		lat = sql.NullFloat64{Float64: inc.Location.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: inc.Location.Longitude, Valid: true}
		locConf = sql.NullFloat64{Float64: inc.Location.Confidence, Valid: true}
		place = sql.NullString{String: inc.Location.PlaceName, Valid: true}
	}
	return []any{
		inc.ID, inc.Title, nullString(inc.Description), string(inc.Status), string(inc.Severity), inc.Confidence,
		lat, lng, place, locConf, inc.WindowStart.UTC(), inc.WindowEnd.UTC(),
		marshalList(inc.Keywords), marshalKinds(inc.SourceKinds), inc.PostCount,
		nullString(inc.MergedInto), inc.StatusLocked, inc.SeverityLocked,
		nullString(inc.LockReason), inc.CreatedAt.UTC(), inc.UpdatedAt.UTC(), inc.Version,
	}
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshalList(items []string) sql.NullString {
	if len(items) == 0 {
		return sql.NullString{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func marshalKinds(kinds []models.SourceKind) sql.NullString {
	items := make([]string, 0, len(kinds))
	for _, k := range kinds {
		items = append(items, string(k))
	}
	return marshalList(items)
}

func unmarshalList(v sql.NullString) []string {
	if !v.Valid || v.String == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(v.String), &items); err != nil {
		return nil
	}
	return items
}
