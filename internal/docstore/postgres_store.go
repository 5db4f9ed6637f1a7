package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

const notifyChannel = "docstore_changes"

// PostgresStore keeps documents in the documents table, one row per
// (namespace, collection, id). Every write notifies docstore_changes inside
// its own transaction, so listeners hear about committed changes only.
type PostgresStore struct {
	db          *sql.DB
	databaseURL string
	namespace   string
	hub         *hub
	cancel      context.CancelFunc
	done        chan struct{}
	once        sync.Once
}

// NewPostgresStore wraps an open database handle. databaseURL is used for the
// dedicated LISTEN connection, which is established before this returns.
func NewPostgresStore(ctx context.Context, db *sql.DB, databaseURL, namespace string) (*PostgresStore, error) {
	if namespace == "" {
		namespace = "docstore"
	}
	conn, err := listenConn(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s := &PostgresStore{
		db:          db,
		databaseURL: databaseURL,
		namespace:   namespace,
		hub:         newHub(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go s.listen(listenCtx, conn)
	return s, nil
}

func listenConn(ctx context.Context, databaseURL string) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}
	return conn, nil
}

func encodeNotification(namespace, collection, id string) string {
	return namespace + "\n" + collection + "\n" + id
}

func decodeNotification(payload string) (namespace, collection, id string, ok bool) {
	parts := strings.SplitN(payload, "\n", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

func (s *PostgresStore) listen(ctx context.Context, conn *pgx.Conn) {
	defer close(s.done)
	for {
		err := s.drain(ctx, conn)
		_ = conn.Close(context.Background())
		if ctx.Err() != nil {
			return
		}
		log.Printf("docstore: postgres change feed lost, reconnecting: %v", err)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			conn, err = listenConn(ctx, s.databaseURL)
			if err == nil {
				break
			}
			log.Printf("docstore: postgres listener reconnect failed: %v", err)
		}
		// Notifications sent while disconnected are gone.
		s.hub.pokeAll()
	}
}

func (s *PostgresStore) drain(ctx context.Context, conn *pgx.Conn) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		namespace, collection, id, ok := decodeNotification(n.Payload)
		if !ok || namespace != s.namespace {
			continue
		}
		s.hub.publish(collection, id)
	}
}

// inTx runs fn and the change notification in a single transaction.
func (s *PostgresStore) inTx(ctx context.Context, collection, id string, fn func(*sql.Tx) (bool, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	changed, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if changed {
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, encodeNotification(s.namespace, collection, id)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("notify: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, path string, doc json.RawMessage) error {
	collection, id, err := Split(path)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, collection, id, func(tx *sql.Tx) (bool, error) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents(namespace, collection, id, body, updated_at)
			VALUES($1, $2, $3, $4::jsonb, NOW())
			ON CONFLICT (namespace, collection, id)
			DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()
		`, s.namespace, collection, id, string(doc))
		return true, err
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, path string, doc json.RawMessage) error {
	collection, id, err := Split(path)
	if err != nil {
		return err
	}
	created := false
	err = s.inTx(ctx, collection, id, func(tx *sql.Tx) (bool, error) {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO documents(namespace, collection, id, body, updated_at)
			VALUES($1, $2, $3, $4::jsonb, NOW())
			ON CONFLICT (namespace, collection, id) DO NOTHING
		`, s.namespace, collection, id, string(doc))
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		created = n > 0
		return created, nil
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if !created {
		return ErrExists
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	collection, id, err := Split(path)
	if err != nil {
		return nil, err
	}
	var body []byte
	err = s.db.QueryRowContext(ctx, `
		SELECT body::text FROM documents
		WHERE namespace = $1 AND collection = $2 AND id = $3
	`, s.namespace, collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return body, nil
}

func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	collection, id, err := Split(path)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, collection, id, func(tx *sql.Tx) (bool, error) {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM documents
			WHERE namespace = $1 AND collection = $2 AND id = $3
		`, s.namespace, collection, id)
		return true, err
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, collection string) ([]Document, error) {
	if err := validatePath(collection); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, body::text FROM documents
		WHERE namespace = $1 AND collection = $2
		ORDER BY id
	`, s.namespace, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var doc Document
		var body []byte
		if err := rows.Scan(&doc.ID, &body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		doc.Data = body
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return docs, nil
}

func (s *PostgresStore) SubscribeDoc(ctx context.Context, path string, fn func(DocSnapshot)) (Subscription, error) {
	return subscribeDoc(ctx, s.hub, s, path, fn)
}

func (s *PostgresStore) SubscribeCollection(ctx context.Context, collection string, fn func(CollectionSnapshot)) (Subscription, error) {
	return subscribeCollection(ctx, s.hub, s, collection, fn)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the feed and every subscription. The database handle belongs
// to the caller.
func (s *PostgresStore) Close() error {
	s.once.Do(func() {
		s.hub.close()
		s.cancel()
		<-s.done
	})
	return nil
}
