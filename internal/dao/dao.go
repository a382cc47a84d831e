package dao

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/utskick/utskick"
)

// DAO is the queue store, the single source of truth for delivery state.
type DAO interface {
	Enqueue(msg utskick.QueuedMessage) error
	EnqueueMany(msgs []utskick.QueuedMessage) error

	ClaimBatch(token string, limit int, lease time.Duration) ([]utskick.QueuedMessage, error)
	FinishAttempt(messageId, token string, status utskick.Status, attempts int, at time.Time) error

	GetMessage(messageId string) (utskick.QueuedMessage, error)
	Stats() ([]utskick.StatusCount, error)

	UserEmails() ([]string, error)
	RegistrantEmails() ([]string, error)
	SubmitterEmails() ([]string, error)

	Close() error
}

var ErrNotClaimed = errors.New("message is no longer claimed or not pending")

// NewSQLite opens the database once and hands the connection to the store.
// The returned DAO owns the connection for the lifetime of the process.
func NewSQLite(path string) (DAO, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("error while connecting, %w", err)
	}
	lite := &sqlite{db: db}
	err = lite.tuneDatabase()
	if err != nil {
		return nil, fmt.Errorf("error while tuning db instance, %w", err)
	}
	err = lite.ensureSchema()
	if err != nil {
		return nil, err
	}
	return lite, nil
}

type sqlite struct {
	db *sqlx.DB
}

func (s *sqlite) Close() error {
	return s.db.Close()
}

func (s *sqlite) Enqueue(msg utskick.QueuedMessage) error {
	return s.EnqueueMany([]utskick.QueuedMessage{msg})
}

// EnqueueMany inserts all messages in one transaction. Either every recipient
// gets a row or none do, a campaign fan-out is never partial.
func (s *sqlite) EnqueueMany(msgs []utskick.QueuedMessage) (err error) {
	if len(msgs) == 0 {
		return fmt.Errorf("at least one message must be provided: %w", utskick.ErrInvalidArgument)
	}

	q := `
	INSERT INTO queue (message_id, campaign_id, to_email, subject, body, status, attempts, created_at)
	VALUES (:message_id, :campaign_id, :to_email, :subject, :body, :status, :attempts, :created_at)
	`

	var tx *sqlx.Tx
	tx, err = s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to get transaction, err %v", err)
	}
	defer func() {
		if err == nil {
			err = tx.Commit()
			return
		}
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareNamed(q)
	if err != nil {
		err = fmt.Errorf("failed to prepare statement, err %v", err)
		return
	}
	defer stmt.Close()

	for _, msg := range msgs {
		_, err = stmt.Exec(map[string]interface{}{
			"message_id":  msg.Id,
			"campaign_id": msg.CampaignId,
			"to_email":    msg.To,
			"subject":     msg.Subject,
			"body":        msg.Body,
			"status":      utskick.StatusPending,
			"attempts":    0,
			"created_at":  msg.CreatedAt.In(time.UTC),
		})
		if err != nil {
			err = fmt.Errorf("failed to insert into queue table, err %v", err)
			return
		}
		err = s.addLogEntryTx(tx, msg.Id, "added to queue")
		if err != nil {
			return
		}
	}
	return
}

// ClaimBatch stamps a lease on the oldest eligible pending rows and returns
// them, oldest first. Selecting and marking happens in one conditional UPDATE
// so two overlapping invocations can never claim the same message. A lease
// older than the given duration has expired and the row is up for grabs again.
func (s *sqlite) ClaimBatch(token string, limit int, lease time.Duration) (msgs []utskick.QueuedMessage, err error) {
	now := time.Now().In(time.UTC)

	q1 := `
	UPDATE queue
	SET claimed_by = ?, claimed_at = ?, updated_at = ?
	WHERE message_id IN (
		SELECT message_id
		FROM queue
		WHERE status = 'pending'
		  AND attempts < ?
		  AND (claimed_at IS NULL OR claimed_at <= ?)
		ORDER BY created_at
		LIMIT ?
	)
	`
	q2 := `
	SELECT message_id, campaign_id, to_email, subject, body, status, attempts, last_attempt, created_at
	FROM queue
	WHERE claimed_by = ?
	ORDER BY created_at
	`

	var tx *sqlx.Tx
	tx, err = s.db.Beginx()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err == nil {
			err = tx.Commit()
			return
		}
		_ = tx.Rollback()
	}()

	_, err = tx.Exec(q1, token, now, now, utskick.MaxAttempts, now.Add(-lease), limit)
	if err != nil {
		return
	}

	err = tx.Select(&msgs, q2, token)
	if err != nil {
		return
	}

	for _, msg := range msgs {
		err = s.addLogEntryTx(tx, msg.Id, fmt.Sprintf("claimed by processor %s", token))
		if err != nil {
			return
		}
	}
	return msgs, err
}

// FinishAttempt releases the claim and advances the message state. The guard
// on status and claimed_by makes sure only the invocation holding the lease
// can move the message, and that terminal rows are never touched again.
func (s *sqlite) FinishAttempt(messageId, token string, status utskick.Status, attempts int, at time.Time) (err error) {
	q := `
	UPDATE queue
	SET status = ?, attempts = ?, last_attempt = ?, claimed_by = '', claimed_at = NULL, updated_at = ?
	WHERE message_id = ?
	  AND status = 'pending'
	  AND claimed_by = ?
	`

	var tx *sqlx.Tx
	tx, err = s.db.Beginx()
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			err = tx.Commit()
			return
		}
		_ = tx.Rollback()
	}()

	res, err := tx.Exec(q, status, attempts, at.In(time.UTC), time.Now().In(time.UTC), messageId, token)
	if err != nil {
		return
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return
	}
	if affected != 1 {
		err = fmt.Errorf("could not finish attempt for message %s: %w", messageId, ErrNotClaimed)
		return
	}

	err = s.addLogEntryTx(tx, messageId, fmt.Sprintf("attempt finished, status %s, attempts %d", status, attempts))
	return
}

func (s *sqlite) GetMessage(messageId string) (utskick.QueuedMessage, error) {
	q := `
	SELECT message_id, campaign_id, to_email, subject, body, status, attempts, last_attempt, created_at
	FROM queue
	WHERE message_id = ?
	`
	var msg utskick.QueuedMessage
	err := s.db.Get(&msg, q, messageId)
	if errors.Is(err, sql.ErrNoRows) {
		return msg, fmt.Errorf("no message with id %s: %w", messageId, utskick.ErrInvalidArgument)
	}
	return msg, err
}

func (s *sqlite) Stats() ([]utskick.StatusCount, error) {
	q := `
	SELECT status, COUNT(*) AS count
	FROM queue
	GROUP BY status
	ORDER BY status
	`
	var stats []utskick.StatusCount
	err := s.db.Select(&stats, q)
	return stats, err
}

func (s *sqlite) UserEmails() ([]string, error) {
	return s.emailsOf(`SELECT DISTINCT email FROM users`)
}

func (s *sqlite) RegistrantEmails() ([]string, error) {
	return s.emailsOf(`SELECT DISTINCT email FROM event_registrations`)
}

func (s *sqlite) SubmitterEmails() ([]string, error) {
	return s.emailsOf(`SELECT DISTINCT email FROM contact_submissions`)
}

func (s *sqlite) emailsOf(q string) ([]string, error) {
	var emails []string
	err := s.db.Select(&emails, q)
	return emails, err
}

func (s *sqlite) addLogEntryTx(tx *sqlx.Tx, messageId, log string) error {
	q := `
	INSERT INTO queue_log (message_id, created_at, log)
	VALUES (?, ?, ?)
	`
	_, err := tx.Exec(q, messageId, time.Now().In(time.UTC), log)
	if err != nil {
		return fmt.Errorf("failed to insert log entry, %v", err)
	}
	return err
}

func (s *sqlite) tuneDatabase() error {
	q := `pragma journal_mode = WAL;
			pragma synchronous = normal;
			pragma temp_store = memory;
			pragma busy_timeout = 5000;`

	if s.db == nil {
		return errors.New("db must be instantiated")
	}
	_, err := s.db.Exec(q)
	return err
}

func (s *sqlite) ensureSchema() error {

	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS queue (
	    message_id  TEXT PRIMARY KEY,
	    campaign_id TEXT NOT NULL DEFAULT '',

	    to_email TEXT NOT NULL,
	    subject  TEXT NOT NULL,
	    body     TEXT NOT NULL,

	    status   TEXT NOT NULL DEFAULT 'pending', -- pending, sent, failed
	    attempts INT  NOT NULL DEFAULT 0,

	    claimed_by TEXT NOT NULL DEFAULT '',
	    claimed_at DATETIME,

	    last_attempt DATETIME,

		created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now')),
		updated_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_campaign_recipient ON queue(campaign_id, to_email) WHERE campaign_id <> '';
	CREATE INDEX IF NOT EXISTS idx_queue_pending ON queue(created_at) WHERE status = 'pending' AND attempts < 3;

	CREATE TABLE IF NOT EXISTS queue_log (
	    message_id TEXT NOT NULL,
	    created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now')),
	    log TEXT NOT NULL,
	    PRIMARY KEY (message_id, created_at)
	);

	-- source collections for the recipient resolver, owned by the website
	CREATE TABLE IF NOT EXISTS users (
	    id    INTEGER PRIMARY KEY AUTOINCREMENT,
	    email TEXT NOT NULL,
	    name  TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS event_registrations (
	    id       INTEGER PRIMARY KEY AUTOINCREMENT,
	    event_id TEXT NOT NULL DEFAULT '',
	    email    TEXT NOT NULL,
	    name     TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS contact_submissions (
	    id         INTEGER PRIMARY KEY AUTOINCREMENT,
	    email      TEXT NOT NULL,
	    name       TEXT NOT NULL DEFAULT '',
	    message    TEXT NOT NULL DEFAULT '',
	    created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
	);
`)
	if err != nil {
		return fmt.Errorf("could not upsert schema, %w", err)
	}

	return err
}
