package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/resumebuilder/internal/audit"
	"github.com/nao1215/resumebuilder/internal/auth"
	"github.com/nao1215/resumebuilder/pkg/event"
	"golang.org/x/sync/singleflight"
)

// principalColumns はusersテーブルからPrincipalを読み出す列。
const principalColumns = `id, email, external_id, display_name, avatar_uri, active, created_at`

// Store は外部IDとローカルユーザーの対応を管理するIdentity Resolver。
// ユーザーの作成と検索はこのStoreだけが行う。
type Store struct {
	db    *sql.DB
	now   func() time.Time
	group singleflight.Group
}

// Option はStoreの生成オプション。
type Option func(*Store)

// WithClock は作成日時に使う時刻関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore はStoreを生成する。dbにはマイグレーション適用済みの接続を渡す。
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate はメールアドレスでユーザーを検索し、存在しなければ作成する。
// 既存ユーザーのプロフィールは上書きしない。
//
// 作成は INSERT ... ON CONFLICT DO NOTHING の1文で行い、存在確認と挿入を分けない。
// 一意制約で挿入が無視された場合は、競合に負けた側として既存レコードを読み直す。
// 同一プロセス内の同じメールアドレスへの同時呼び出しはsingleflightで1回にまとめる。
func (s *Store) GetOrCreate(ctx context.Context, identity auth.ExternalIdentity) (*auth.Principal, error) {
	if identity.Email == "" {
		return nil, auth.ErrIdentityIncomplete
	}

	v, err, _ := s.group.Do(strings.ToLower(identity.Email), func() (any, error) {
		return s.getOrCreate(ctx, identity)
	})
	if err != nil {
		return nil, err
	}
	// 共有された結果を呼び出し側ごとに複製する
	p := *v.(*auth.Principal)
	return &p, nil
}

func (s *Store) getOrCreate(ctx context.Context, identity auth.ExternalIdentity) (*auth.Principal, error) {
	if err := s.insertIfAbsent(ctx, identity); err != nil {
		return nil, auth.WrapStoreWriteFailed(err)
	}

	p, err := s.FindByEmail(ctx, identity.Email)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, auth.ErrPrincipalNotFound) {
		return nil, err
	}

	// external_idの一意制約で挿入が無視された場合は、そのexternal_idの持ち主を返す
	p, err = s.findByExternalID(ctx, identity.ExternalID)
	if err != nil {
		return nil, auth.WrapStoreWriteFailed(fmt.Errorf("挿入後のユーザーが見つかりません: %w", err))
	}
	return p, nil
}

// insertIfAbsent はユーザーを挿入し、新規作成された場合は同じトランザクションで
// PrincipalCreatedイベントを記録する。失敗時はロールバックする。
func (s *Store) insertIfAbsent(ctx context.Context, identity auth.ExternalIdentity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	id := uuid.New().String()
	now := s.now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, external_id, display_name, avatar_uri, active, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT DO NOTHING`,
		id, identity.Email, identity.ExternalID, identity.DisplayName, identity.AvatarURI, now,
	)
	if err != nil {
		return fmt.Errorf("ユーザーの挿入に失敗: %w", err)
	}

	created, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("挿入件数の取得に失敗: %w", err)
	}
	if created == 1 {
		ev, err := event.Record(id, event.PrincipalCreatedData{
			Email:      identity.Email,
			ExternalID: identity.ExternalID,
		}, now)
		if err != nil {
			return err
		}
		if err := audit.Insert(ctx, tx, ev); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	return nil
}

// FindByEmail はメールアドレスでユーザーを検索する。
// 見つからない場合はPrincipalNotFoundを返す。
func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.Principal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM users WHERE email = ?`, email)
	p, err := scanPrincipal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.NotFound(email)
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return p, nil
}

func (s *Store) findByExternalID(ctx context.Context, externalID string) (*auth.Principal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM users WHERE external_id = ?`, externalID)
	return scanPrincipal(row)
}

func scanPrincipal(row *sql.Row) (*auth.Principal, error) {
	var p auth.Principal
	if err := row.Scan(&p.ID, &p.Email, &p.ExternalID, &p.DisplayName, &p.AvatarURI, &p.Active, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

var (
	_ auth.PrincipalResolver = (*Store)(nil)
	_ auth.PrincipalFinder   = (*Store)(nil)
)
