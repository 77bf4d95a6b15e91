package events

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/hyperengineering/bidkit/migrations"
)

const (
	journalBatch = 200
	// journalTime is fixed width so created_at compares correctly as text.
	journalTime = "2006-01-02T15:04:05.000000000Z"
)

// JournalOptions configures a JournalBus.
type JournalOptions struct {
	Path         string
	PollInterval time.Duration
	Retention    time.Duration // 0 keeps every row
	Buffer       int
}

// JournalBus persists events in a SQLite journal shared by every process
// pointed at the same file. Each process polls for rows past the highest
// sequence it has delivered.
type JournalBus struct {
	hub      *hub
	db       *sql.DB
	interval time.Duration
	keep     time.Duration

	mu      sync.Mutex
	lastSeq int64

	cancel context.CancelFunc
	done   chan struct{}
}

// OpenJournal opens or creates the journal at opts.Path, applies migrations
// and starts the poller. Only events appended after opening are delivered;
// LastRefresh starts at the newest recorded templates.changed event.
func OpenJournal(ctx context.Context, opts JournalOptions) (*JournalBus, error) {
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("journal poll interval must be positive")
	}
	if dir := filepath.Dir(opts.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	b := &JournalBus{
		hub:      newHub("journal", opts.Buffer),
		db:       db,
		interval: opts.PollInterval,
		keep:     opts.Retention,
		done:     make(chan struct{}),
	}

	if b.lastSeq, err = b.latestSequence(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if at, err := b.latestRefresh(ctx); err != nil {
		db.Close()
		return nil, err
	} else if !at.IsZero() {
		b.hub.noteRefresh(at)
	}

	runCtx, stop := context.WithCancel(context.Background())
	b.cancel = stop
	go b.run(runCtx)
	return b, nil
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (b *JournalBus) latestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := b.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_journal`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("get latest sequence: %w", err)
	}
	return seq.Int64, nil
}

func (b *JournalBus) latestRefresh(ctx context.Context) (time.Time, error) {
	var at sql.NullString
	err := b.db.QueryRowContext(ctx,
		`SELECT created_at FROM event_journal WHERE kind = ? ORDER BY sequence DESC LIMIT 1`,
		string(KindTemplatesChanged)).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get last refresh: %w", err)
	}
	if !at.Valid {
		return time.Time{}, nil
	}
	t, err := time.Parse(journalTime, at.String)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

// Publish appends e to the journal. Local subscribers receive it on the
// next poll, in journal order.
func (b *JournalBus) Publish(ctx context.Context, e Event) error {
	if b.hub.isClosed() {
		return ErrClosed
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO event_journal (id, kind, entity_id, path, name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.EntityID, e.Path, e.Name, e.At.UTC().Format(journalTime))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (b *JournalBus) run(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	lastPrune := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.poll(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("journal poll failed",
					"component", "events",
					"bus", "journal",
					"action", "poll_failed",
					"error", err,
				)
			}
			if b.keep > 0 && time.Since(lastPrune) >= time.Hour {
				lastPrune = time.Now()
				if n, err := b.Prune(ctx, time.Now().Add(-b.keep)); err == nil && n > 0 {
					slog.Info("journal pruned",
						"component", "events",
						"bus", "journal",
						"action", "prune",
						"deleted", n,
					)
				}
			}
		}
	}
}

// poll delivers journal rows past the last delivered sequence and returns
// how many were delivered.
func (b *JournalBus) poll(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for {
		rows, err := b.db.QueryContext(ctx, `
			SELECT sequence, id, kind, entity_id, path, name, created_at
			FROM event_journal
			WHERE sequence > ?
			ORDER BY sequence ASC
			LIMIT ?`, b.lastSeq, journalBatch)
		if err != nil {
			return delivered, fmt.Errorf("query journal: %w", err)
		}

		batch := make([]Event, 0, journalBatch)
		var seq int64
		for rows.Next() {
			var e Event
			var kind, createdAt string
			if err := rows.Scan(&seq, &e.ID, &kind, &e.EntityID, &e.Path, &e.Name, &createdAt); err != nil {
				rows.Close()
				return delivered, fmt.Errorf("scan journal row: %w", err)
			}
			e.Kind = Kind(kind)
			if e.At, err = time.Parse(journalTime, createdAt); err != nil {
				slog.Warn("journal: failed to parse created_at", "value", createdAt, "error", err)
			}
			batch = append(batch, e)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return delivered, fmt.Errorf("read journal: %w", err)
		}

		for _, e := range batch {
			b.hub.dispatch(e)
		}
		if len(batch) > 0 {
			b.lastSeq = seq
		}
		delivered += len(batch)
		if len(batch) < journalBatch {
			return delivered, nil
		}
	}
}

// Prune deletes journal rows created before cutoff.
func (b *JournalBus) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM event_journal WHERE created_at < ?`, cutoff.UTC().Format(journalTime))
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

// Subscribe implements Bus.
func (b *JournalBus) Subscribe(kinds ...Kind) *Subscription { return b.hub.subscribe(kinds...) }

// LastRefresh implements Bus.
func (b *JournalBus) LastRefresh() time.Time { return b.hub.last() }

// Close stops the poller and closes the database.
func (b *JournalBus) Close() error {
	b.hub.close()
	b.cancel()
	<-b.done
	return b.db.Close()
}
