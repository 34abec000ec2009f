package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"smsgate/internal/domain"
	"smsgate/internal/render"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS send_log (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id   TEXT NOT NULL,
		recipient    TEXT NOT NULL,
		sender       TEXT,
		body         TEXT,
		template_key TEXT,
		provider     TEXT,
		success      INTEGER NOT NULL,
		provider_msg_id TEXT,
		cost         TEXT,
		error        TEXT,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_send_log_msg ON send_log(message_id);
	CREATE INDEX IF NOT EXISTS idx_send_log_recipient ON send_log(recipient, created_at);

	CREATE TABLE IF NOT EXISTS templates (
		key        TEXT PRIMARY KEY,
		body       TEXT NOT NULL,
		variables  TEXT,
		active     INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS campaigns (
		id         TEXT PRIMARY KEY,
		name       TEXT,
		content_kind TEXT NOT NULL,
		body       TEXT,
		template_key TEXT,
		variables  TEXT,
		provider   TEXT,
		sender     TEXT,
		recipients TEXT,
		status     TEXT NOT NULL,
		sent       INTEGER NOT NULL DEFAULT 0,
		failed     INTEGER NOT NULL DEFAULT 0,
		total      INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);

	CREATE TABLE IF NOT EXISTS trigger_records (
		id          TEXT PRIMARY KEY,
		rule_id     TEXT NOT NULL,
		recipient   TEXT NOT NULL,
		triggered_at DATETIME NOT NULL,
		processed   INTEGER NOT NULL DEFAULT 0,
		success     INTEGER NOT NULL DEFAULT 0,
		response_msg_id TEXT,
		error       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_triggers_pair ON trigger_records(rule_id, recipient, triggered_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) RecordSendAttempt(ctx context.Context, msg *domain.Message, outcome *domain.SendOutcome) error {
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO send_log (message_id, recipient, sender, body, template_key, provider, success, provider_msg_id, cost, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Recipient, msg.Sender, msg.Body, msg.TemplateKey,
		outcome.Provider, outcome.Success, outcome.ProviderMessageID, outcome.Cost, outcome.Err, created,
	)
	return err
}

// SaveTemplate upserts a template. The variable list is always re-derived
// from the body so a stale caller cannot persist a wrong set.
func (s *SQLiteStore) SaveTemplate(ctx context.Context, tpl *domain.Template) error {
	tpl.Variables = render.ExtractVariables(tpl.Body)
	vars, err := json.Marshal(tpl.Variables)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates (key, body, variables, active, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET body=excluded.body, variables=excluded.variables,
		 active=excluded.active, updated_at=excluded.updated_at`,
		tpl.Key, tpl.Body, string(vars), tpl.Active, time.Now(),
	)
	return err
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, key string) (*domain.Template, error) {
	var tpl domain.Template
	var vars string
	err := s.db.QueryRowContext(ctx,
		`SELECT key, body, variables, active FROM templates WHERE key = ?`, key,
	).Scan(&tpl.Key, &tpl.Body, &vars, &tpl.Active)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if vars != "" {
		if err := json.Unmarshal([]byte(vars), &tpl.Variables); err != nil {
			return nil, fmt.Errorf("template %s variables: %w", key, err)
		}
	}
	return &tpl, nil
}

func (s *SQLiteStore) SaveCampaign(ctx context.Context, c *domain.Campaign) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Total == 0 {
		c.Total = len(c.Recipients)
	}
	vars, err := json.Marshal(c.Variables)
	if err != nil {
		return err
	}
	recips, err := json.Marshal(c.Recipients)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, name, content_kind, body, template_key, variables, provider, sender, recipients, status, sent, failed, total, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, content_kind=excluded.content_kind,
		 body=excluded.body, template_key=excluded.template_key, variables=excluded.variables,
		 provider=excluded.provider, sender=excluded.sender, recipients=excluded.recipients,
		 status=excluded.status, sent=excluded.sent, failed=excluded.failed, total=excluded.total,
		 updated_at=excluded.updated_at`,
		c.ID, c.Name, string(c.Content.Kind), c.Content.Body, c.Content.TemplateKey,
		string(vars), c.Provider, c.Sender, string(recips),
		string(c.Status), c.Sent, c.Failed, c.Total, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) LoadCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	var c domain.Campaign
	var kind, status, vars, recips string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, content_kind, body, template_key, variables, provider, sender, recipients,
		        status, sent, failed, total, created_at, updated_at
		 FROM campaigns WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &kind, &c.Content.Body, &c.Content.TemplateKey, &vars,
		&c.Provider, &c.Sender, &recips, &status, &c.Sent, &c.Failed, &c.Total,
		&c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Content.Kind = domain.ContentKind(kind)
	c.Status = domain.CampaignStatus(status)
	if vars != "" && vars != "null" {
		if err := json.Unmarshal([]byte(vars), &c.Variables); err != nil {
			return nil, fmt.Errorf("campaign %s variables: %w", id, err)
		}
	}
	if recips != "" && recips != "null" {
		if err := json.Unmarshal([]byte(recips), &c.Recipients); err != nil {
			return nil, fmt.Errorf("campaign %s recipients: %w", id, err)
		}
	}
	return &c, nil
}

func (s *SQLiteStore) UpdateCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status=?, updated_at=? WHERE id=?`,
		string(status), time.Now(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) IncrementCampaignCounts(ctx context.Context, id string, sent, failed int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET sent = sent + ?, failed = failed + ?, updated_at=? WHERE id=?`,
		sent, failed, time.Now(), id,
	)
	return err
}

func (s *SQLiteStore) SaveTriggerRecord(ctx context.Context, rec *domain.TriggerRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trigger_records (id, rule_id, recipient, triggered_at, processed, success, response_msg_id, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RuleID, rec.Recipient, rec.Timestamp, rec.Processed, rec.Success,
		rec.ResponseMessageID, rec.Err,
	)
	return err
}

func (s *SQLiteStore) UpdateTriggerRecord(ctx context.Context, id string, outcome domain.TriggerOutcome) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trigger_records SET processed=1, success=?, response_msg_id=?, error=? WHERE id=?`,
		outcome.Success, outcome.ResponseMessageID, outcome.Err, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CountSuccessfulTriggers(ctx context.Context, ruleID, recipient string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trigger_records WHERE rule_id=? AND recipient=? AND processed=1 AND success=1`,
		ruleID, recipient,
	).Scan(&n)
	return n, err
}

func (s *SQLiteStore) LastTriggerTime(ctx context.Context, ruleID, recipient string) (time.Time, error) {
	var ts sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(triggered_at) FROM trigger_records WHERE rule_id=? AND recipient=?`,
		ruleID, recipient,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}
