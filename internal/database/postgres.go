// internal/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"socialsphere/internal/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Timestamps are stored as fixed-width UTC strings so text ordering in SQL
// matches time ordering.
const pgTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	pgListenerPing     = 90 * time.Second
	pgQueryCanceled    = "57014"
	pgNotifyChanPrefix = "documents_"
)

// PostgresDB stores every collection as JSONB rows of one documents table
// and pushes changes to live queries with LISTEN/NOTIFY.
type PostgresDB struct {
	DB *sqlx.DB

	connStr      string
	pollInterval time.Duration
	logger       *slog.Logger
}

// pgExecer is satisfied by both *sqlx.DB and *sqlx.Tx.
type pgExecer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(connectionString string, pollInterval time.Duration, logger *slog.Logger) (*PostgresDB, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	logger.Info("connected to PostgreSQL")

	return &PostgresDB{
		DB:           db,
		connStr:      connectionString,
		pollInterval: pollInterval,
		logger:       logger,
	}, nil
}

func (p *PostgresDB) Close(ctx context.Context) error {
	p.logger.Info("closing PostgreSQL connection")
	return p.DB.Close()
}

// InitializeTables creates the documents table and the expression indexes
// behind the ordered feed, author and comment queries.
func (p *PostgresDB) InitializeTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data JSONB NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_created
			ON documents (collection, (data->>'createdAt') DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_author_created
			ON documents (collection, (data->>'authorId'), (data->>'createdAt') DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_post_created
			ON documents (collection, (data->>'postId'), (data->>'createdAt') DESC, id DESC)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_email
			ON documents ((data->>'email')) WHERE collection = 'accounts'`,
	}

	for _, stmt := range statements {
		if _, err := p.DB.ExecContext(ctx, stmt); err != nil {
			return utils.NewAppError(utils.ErrDatabase, "failed to initialize documents table", err)
		}
	}
	return nil
}

func (p *PostgresDB) CreateDocument(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	if err := p.SetDocument(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (p *PostgresDB) SetDocument(ctx context.Context, collection, id string, data map[string]any) error {
	return p.inTx(ctx, func(tx *sqlx.Tx) error {
		return pgSetDocument(ctx, tx, collection, id, data)
	})
}

func (p *PostgresDB) UpdateFields(ctx context.Context, collection, id string, fields map[string]Mutation) error {
	return p.inTx(ctx, func(tx *sqlx.Tx) error {
		return pgUpdateFields(ctx, tx, collection, id, fields)
	})
}

func (p *PostgresDB) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	return pgGetDocument(ctx, p.DB, collection, id, false)
}

func (p *PostgresDB) QueryDocuments(ctx context.Context, collection string, q Query) ([]Document, error) {
	args := []any{collection}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)
	for _, f := range q.Filters {
		fmt.Fprintf(&sb, ` AND data->>%s = %s`, arg(f.Field), arg(encodeScalar(f.Value)))
	}

	dir := "ASC"
	op := ">"
	if q.OrderBy != nil && q.OrderBy.Descending {
		dir, op = "DESC", "<"
	}

	if q.StartAfter != "" {
		if q.OrderBy == nil {
			fmt.Fprintf(&sb, ` AND id > %s`, arg(q.StartAfter))
		} else {
			last, err := p.GetDocument(ctx, collection, q.StartAfter)
			if err != nil {
				return nil, fmt.Errorf("cursor %s: %w", q.StartAfter, err)
			}
			field := arg(q.OrderBy.Field)
			value := arg(encodeScalar(last.Data[q.OrderBy.Field]))
			cursor := arg(q.StartAfter)
			fmt.Fprintf(&sb, ` AND (data->>%s %s %s OR (data->>%s = %s AND id %s %s))`,
				field, op, value, field, value, op, cursor)
		}
	}

	if q.OrderBy != nil {
		fmt.Fprintf(&sb, ` ORDER BY data->>%s %s, id %s`, arg(q.OrderBy.Field), dir, dir)
	} else {
		sb.WriteString(` ORDER BY id`)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, ` LIMIT %d`, q.Limit)
	}

	var rows []pgRow
	if err := sqlx.SelectContext(ctx, p.DB, &rows, sb.String(), args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgQueryCanceled {
			return nil, fmt.Errorf("%s query: %v: %w", collection, err, ErrQueryCapability)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query "+collection, err)
	}

	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		doc, err := row.document()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (p *PostgresDB) SubscribeQuery(ctx context.Context, collection string, q Query, onSnapshot func([]Document)) (Unsubscribe, error) {
	fetch := func(ctx context.Context) ([]Document, error) {
		return p.QueryDocuments(ctx, collection, q)
	}
	live := newLiveQuery(collection, q, fetch, onSnapshot, p.logger)
	return live.start(ctx, p.listen)
}

// listen re-runs the query on every notification for the collection. A nil
// notification means the listener reconnected and may have missed events.
func (p *PostgresDB) listen(l *liveQuery) {
	listener := pq.NewListener(p.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			p.logger.Warn("listener event", "collection", l.collection, "event", ev, "error", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(pgNotifyChanPrefix + l.collection); err != nil {
		p.logger.Info("LISTEN unavailable, polling", "collection", l.collection, "error", err)
		l.poll(p.pollInterval)
		return
	}

	// Anything committed between the initial read and LISTEN is picked up here.
	l.refresh()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-listener.Notify:
			l.refresh()
		case <-time.After(pgListenerPing):
			go func() {
				if err := listener.Ping(); err != nil {
					p.logger.Warn("listener ping failed", "collection", l.collection, "error", err)
				}
			}()
		}
	}
}

func (p *PostgresDB) RunTransaction(ctx context.Context, fn func(ctx context.Context, w Writer) error) error {
	return p.inTx(ctx, func(tx *sqlx.Tx) error {
		return fn(ctx, &pgTxWriter{tx: tx})
	})
}

func (p *PostgresDB) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback() // Rollback is ignored if tx is committed.

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to commit transaction", err)
	}
	return nil
}

type pgTxWriter struct {
	tx *sqlx.Tx
}

func (w *pgTxWriter) CreateDocument(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	if err := pgSetDocument(ctx, w.tx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (w *pgTxWriter) SetDocument(ctx context.Context, collection, id string, data map[string]any) error {
	return pgSetDocument(ctx, w.tx, collection, id, data)
}

func (w *pgTxWriter) UpdateFields(ctx context.Context, collection, id string, fields map[string]Mutation) error {
	return pgUpdateFields(ctx, w.tx, collection, id, fields)
}

type pgRow struct {
	ID   string `db:"id"`
	Data []byte `db:"data"`
}

func (r pgRow) document() (Document, error) {
	var data map[string]any
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return Document{}, fmt.Errorf("failed to decode document %s: %w", r.ID, err)
	}
	return Document{ID: r.ID, Data: data}, nil
}

func pgGetDocument(ctx context.Context, ext pgExecer, collection, id string, forUpdate bool) (*Document, error) {
	query := `SELECT id, data FROM documents WHERE collection = $1 AND id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var row pgRow
	err := ext.GetContext(ctx, &row, query, collection, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to read "+collection+"/"+id, err)
	}
	doc, err := row.document()
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func pgSetDocument(ctx context.Context, ext pgExecer, collection, id string, data map[string]any) error {
	encoded, err := encodeData(data)
	if err != nil {
		return err
	}

	_, err = ext.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (collection, id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = NOW()
	`, collection, id, string(encoded))
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to write "+collection+"/"+id, err)
	}
	return pgNotify(ctx, ext, collection, id)
}

// pgUpdateFields locks the row, applies the mutations and writes it back, all
// inside the caller's transaction.
func pgUpdateFields(ctx context.Context, ext pgExecer, collection, id string, fields map[string]Mutation) error {
	doc, err := pgGetDocument(ctx, ext, collection, id, true)
	if err != nil {
		return err
	}
	if err := applyMutations(doc.Data, fields); err != nil {
		return err
	}

	encoded, err := encodeData(doc.Data)
	if err != nil {
		return err
	}
	_, err = ext.ExecContext(ctx,
		`UPDATE documents SET data = $3::jsonb, updated_at = NOW() WHERE collection = $1 AND id = $2`,
		collection, id, string(encoded))
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to update "+collection+"/"+id, err)
	}
	return pgNotify(ctx, ext, collection, id)
}

// pgNotify is delivered by Postgres only when the surrounding transaction
// commits.
func pgNotify(ctx context.Context, ext pgExecer, collection, id string) error {
	if _, err := ext.ExecContext(ctx, `SELECT pg_notify($1, $2)`, pgNotifyChanPrefix+collection, id); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to notify "+collection, err)
	}
	return nil
}

func encodeData(data map[string]any) ([]byte, error) {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = encodeValue(v)
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return encoded, nil
}

func encodeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(pgTimeLayout)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = encodeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = encodeValue(item)
		}
		return out
	}
	return v
}

// encodeScalar renders a value the way data->>field returns it.
func encodeScalar(v any) string {
	switch val := encodeValue(v).(type) {
	case string:
		return val
	case nil:
		return ""
	case float64:
		if n, ok := toInt64(val); ok && float64(n) == val {
			return fmt.Sprint(n)
		}
		return fmt.Sprint(val)
	default:
		return fmt.Sprint(val)
	}
}
