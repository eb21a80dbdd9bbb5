// Package postgres implements the document store contract on PostgreSQL.
// Documents live in one jsonb-bodied table; atomic batches map to
// transactions. Subscriptions are served by an in-process commit notifier:
// a multi-editor deployment spanning several processes bridges change feeds
// through the real-time channel instead.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/platformkit/composer/internal/app/storage/docstore"
	composererr "github.com/platformkit/composer/internal/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store is a PostgreSQL-backed document store.
type Store struct {
	db *sqlx.DB

	mu      sync.Mutex
	subs    map[int]*pgSub
	nextSub int
}

var _ docstore.Store = (*Store)(nil)

// Open connects to PostgreSQL and runs pending migrations.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := New(db)
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing database handle without running migrations.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, subs: make(map[int]*pgSub)}
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate() error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(s.db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get fetches one document.
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var body []byte
	err := s.db.GetContext(ctx, &body,
		`SELECT body FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, composererr.NotFound("document", collection+"/"+id)
	}
	if err != nil {
		return docstore.Document{}, composererr.StoreUnavailable(err)
	}
	return decodeRow(id, body)
}

// Query loads the collection and evaluates filters and ordering in process.
// The engine's collections are per-layout sized, so a pushed-down jsonb
// predicate buys nothing over the shared filter semantics.
func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT id, body FROM documents WHERE collection = $1`, collection)
	if err != nil {
		return nil, composererr.StoreUnavailable(err)
	}
	defer rows.Close()

	docs := make([]docstore.Document, 0)
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, composererr.StoreUnavailable(err)
		}
		doc, err := decodeRow(id, body)
		if err != nil {
			return nil, err
		}
		if q.Matches(doc) {
			docs = append(docs, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, composererr.StoreUnavailable(err)
	}
	docstore.SortDocuments(docs, q.OrderBy)
	return docs, nil
}

// Set creates or fully replaces a document.
func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, id) DO UPDATE SET body = EXCLUDED.body, updated_at = now()
	`, collection, id, body)
	if err != nil {
		return composererr.StoreUnavailable(err)
	}
	s.notify(collection)
	return nil
}

// Update merges partial fields; dotted keys become jsonb_set paths.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return composererr.StoreUnavailable(err)
	}
	defer tx.Rollback()

	if err := updateInTx(ctx, tx, collection, id, fields); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return composererr.StoreUnavailable(err)
	}
	s.notify(collection)
	return nil
}

// AtomicBatch applies every write in one transaction.
func (s *Store) AtomicBatch(ctx context.Context, writes []docstore.Write) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return composererr.StoreUnavailable(err)
	}
	defer tx.Rollback()

	for _, w := range writes {
		if w.Remove {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE collection = $1 AND id = $2`, w.Collection, w.ID); err != nil {
				return composererr.StoreUnavailable(err)
			}
			continue
		}
		if err := upsertMergeInTx(ctx, tx, w.Collection, w.ID, w.Fields); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return composererr.StoreUnavailable(err)
	}

	seen := make(map[string]bool)
	for _, w := range writes {
		if !seen[w.Collection] {
			seen[w.Collection] = true
			s.notify(w.Collection)
		}
	}
	return nil
}

// Delete removes a document; deleting an absent document is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id); err != nil {
		return composererr.StoreUnavailable(err)
	}
	s.notify(collection)
	return nil
}

// Subscribe registers an in-process live query, primed with the current
// result set.
func (s *Store) Subscribe(ctx context.Context, collection string, q docstore.Query) (docstore.Subscription, error) {
	docs, err := s.Query(ctx, collection, q)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	sub := &pgSub{
		store:      s,
		id:         s.nextSub,
		collection: collection,
		query:      q,
		ch:         make(chan []docstore.Document, 16),
	}
	s.nextSub++
	s.subs[sub.id] = sub
	s.mu.Unlock()

	sub.push(docs)
	return sub, nil
}

func (s *Store) notify(collection string) {
	s.mu.Lock()
	subs := make([]*pgSub, 0)
	for _, sub := range s.subs {
		if sub.collection == collection {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range subs {
		docs, err := s.Query(context.Background(), sub.collection, sub.query)
		if err != nil {
			continue
		}
		sub.push(docs)
	}
}

type pgSub struct {
	store      *Store
	id         int
	collection string
	query      docstore.Query
	ch         chan []docstore.Document

	closeOnce sync.Once
}

func (s *pgSub) push(docs []docstore.Document) {
	defer func() {
		// A push racing Close may hit a closed channel; the subscription is
		// gone either way.
		_ = recover()
	}()
	select {
	case s.ch <- docs:
	default:
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- docs:
		default:
		}
	}
}

func (s *pgSub) Updates() <-chan []docstore.Document {
	return s.ch
}

func (s *pgSub) Close() {
	s.closeOnce.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs, s.id)
		s.store.mu.Unlock()
		close(s.ch)
	})
}

func updateInTx(ctx context.Context, tx *sqlx.Tx, collection, id string, fields map[string]any) error {
	var exists bool
	err := tx.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE collection = $1 AND id = $2)`, collection, id)
	if err != nil {
		return composererr.StoreUnavailable(err)
	}
	if !exists {
		return composererr.NotFound("document", collection+"/"+id)
	}
	return mergePathsInTx(ctx, tx, collection, id, fields)
}

func upsertMergeInTx(ctx context.Context, tx *sqlx.Tx, collection, id string, fields map[string]any) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, updated_at)
		VALUES ($1, $2, '{}'::jsonb, now())
		ON CONFLICT (collection, id) DO NOTHING
	`, collection, id); err != nil {
		return composererr.StoreUnavailable(err)
	}
	return mergePathsInTx(ctx, tx, collection, id, fields)
}

func mergePathsInTx(ctx context.Context, tx *sqlx.Tx, collection, id string, fields map[string]any) error {
	for path, value := range fields {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode field %s: %w", path, err)
		}
		pgPath := "{" + strings.ReplaceAll(path, ".", ",") + "}"
		if _, err := tx.ExecContext(ctx, `
			UPDATE documents
			SET body = jsonb_set(body, $3::text[], $4::jsonb, true), updated_at = now()
			WHERE collection = $1 AND id = $2
		`, collection, id, pgPath, encoded); err != nil {
			return composererr.StoreUnavailable(err)
		}
	}
	return nil
}

func decodeRow(id string, body []byte) (docstore.Document, error) {
	fields := make(map[string]any)
	if err := json.Unmarshal(body, &fields); err != nil {
		return docstore.Document{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	return docstore.Document{ID: id, Fields: fields}, nil
}
