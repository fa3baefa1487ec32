// Package audit は認証イベントをSQLiteのauth_eventsテーブルに追記する。
package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nao1215/resumebuilder/pkg/event"
)

// Execer は*sql.DBと*sql.Txの共通部分。
// ユーザー作成と同じトランザクションでイベントを書き込むために使う。
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Insert はイベントを1件書き込む。
func Insert(ctx context.Context, ex Execer, ev *event.Event) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO auth_events (id, aggregate_id, aggregate_type, event_type, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.AggregateID, string(ev.AggregateType), string(ev.EventType), string(ev.Data), ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("認証イベントの書き込みに失敗: %w", err)
	}
	return nil
}

// Store は認証イベントの追記と参照を行う。
type Store struct {
	db *sql.DB
}

// NewStore はStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append はイベントを追記する。
func (s *Store) Append(ctx context.Context, ev *event.Event) error {
	return Insert(ctx, s.db, ev)
}

// ListByAggregate は指定エンティティのイベントを古い順に返す。
func (s *Store) ListByAggregate(ctx context.Context, aggregateID string) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, data, created_at
		FROM auth_events
		WHERE aggregate_id = ?
		ORDER BY created_at, rowid`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("認証イベントの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []event.Event
	for rows.Next() {
		var (
			ev   event.Event
			data string
		)
		if err := rows.Scan(&ev.ID, &ev.AggregateID, &ev.AggregateType, &ev.EventType, &data, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("認証イベントの読み取りに失敗: %w", err)
		}
		ev.Data = []byte(data)
		events = append(events, ev)
	}
	return events, rows.Err()
}
