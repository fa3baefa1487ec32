package identity

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/resumebuilder/internal/audit"
	"github.com/nao1215/resumebuilder/internal/auth"
	"github.com/nao1215/resumebuilder/internal/database"
	"github.com/nao1215/resumebuilder/pkg/event"
)

// openTestDB はテスト用のSQLiteファイルを開く。
// 同時書き込みを検証するため、インメモリではなく一時ファイルを使う。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.DSN(filepath.Join(t.TempDir(), "identity.db")))
	if err != nil {
		t.Fatalf("テスト用DBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// countUsers はusersテーブルの件数を返す。
func countUsers(t *testing.T, db *sql.DB) int {
	t.Helper()

	var n int
	if err := db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		t.Fatalf("ユーザー数の取得に失敗: %v", err)
	}
	return n
}

// userRow はusersテーブルの1行を全カラムそのままの文字列で返す。
func userRow(t *testing.T, db *sql.DB, id string) string {
	t.Helper()

	var row string
	err := db.QueryRowContext(context.Background(), `
		SELECT id || '|' || email || '|' || external_id || '|' || display_name || '|' ||
			avatar_uri || '|' || active || '|' || created_at
		FROM users WHERE id = ?`, id,
	).Scan(&row)
	if err != nil {
		t.Fatalf("ユーザー行の取得に失敗: %v", err)
	}
	return row
}

// testIdentity はテスト用の外部IDを返す。
func testIdentity() auth.ExternalIdentity {
	return auth.ExternalIdentity{
		ExternalID:  "google-123",
		Email:       "user@example.com",
		DisplayName: "Test User",
		AvatarURI:   "https://example.com/avatar.png",
	}
}

// TestGetOrCreate はGetOrCreateを検証する。
func TestGetOrCreate(t *testing.T) {
	t.Parallel()

	t.Run("未登録のメールアドレスで有効なユーザーが作成されること", func(t *testing.T) {
		t.Parallel()

		fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		s := NewStore(openTestDB(t), WithClock(func() time.Time { return fixed }))

		p, err := s.GetOrCreate(context.Background(), testIdentity())
		if err != nil {
			t.Fatalf("GetOrCreate()でエラーが発生: %v", err)
		}
		if p.ID == "" {
			t.Error("IDが空文字列")
		}
		if p.Email != "user@example.com" {
			t.Errorf("Email = %q, want %q", p.Email, "user@example.com")
		}
		if p.ExternalID != "google-123" {
			t.Errorf("ExternalID = %q, want %q", p.ExternalID, "google-123")
		}
		if p.DisplayName != "Test User" {
			t.Errorf("DisplayName = %q, want %q", p.DisplayName, "Test User")
		}
		if p.AvatarURI != "https://example.com/avatar.png" {
			t.Errorf("AvatarURI = %q", p.AvatarURI)
		}
		if !p.Active {
			t.Error("Active = false, want true")
		}
		if !p.CreatedAt.Equal(fixed) {
			t.Errorf("CreatedAt = %v, want %v", p.CreatedAt, fixed)
		}
	})

	t.Run("既存ユーザーのプロフィールは上書きされないこと", func(t *testing.T) {
		t.Parallel()

		s := NewStore(openTestDB(t))
		ctx := context.Background()

		first, err := s.GetOrCreate(ctx, testIdentity())
		if err != nil {
			t.Fatalf("1回目のGetOrCreate()でエラーが発生: %v", err)
		}

		changed := testIdentity()
		changed.DisplayName = "Renamed"
		changed.AvatarURI = ""
		second, err := s.GetOrCreate(ctx, changed)
		if err != nil {
			t.Fatalf("2回目のGetOrCreate()でエラーが発生: %v", err)
		}

		if second.ID != first.ID {
			t.Errorf("ID = %q, want %q", second.ID, first.ID)
		}
		if second.DisplayName != "Test User" {
			t.Errorf("DisplayName = %q, want %q", second.DisplayName, "Test User")
		}
	})

	t.Run("メールアドレスの大文字小文字を区別しないこと", func(t *testing.T) {
		t.Parallel()

		s := NewStore(openTestDB(t))
		ctx := context.Background()

		first, err := s.GetOrCreate(ctx, testIdentity())
		if err != nil {
			t.Fatalf("GetOrCreate()でエラーが発生: %v", err)
		}
		upper := testIdentity()
		upper.Email = "USER@example.com"
		second, err := s.GetOrCreate(ctx, upper)
		if err != nil {
			t.Fatalf("GetOrCreate()でエラーが発生: %v", err)
		}
		if second.ID != first.ID {
			t.Errorf("ID = %q, want %q", second.ID, first.ID)
		}
	})

	t.Run("external_idが既存ユーザーと衝突した場合はそのユーザーを返すこと", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		s := NewStore(db)
		ctx := context.Background()

		first, err := s.GetOrCreate(ctx, testIdentity())
		if err != nil {
			t.Fatalf("GetOrCreate()でエラーが発生: %v", err)
		}
		renamed := testIdentity()
		renamed.Email = "renamed@example.com"
		second, err := s.GetOrCreate(ctx, renamed)
		if err != nil {
			t.Fatalf("GetOrCreate()でエラーが発生: %v", err)
		}
		if second.ID != first.ID {
			t.Errorf("ID = %q, want %q", second.ID, first.ID)
		}

		if n := countUsers(t, db); n != 1 {
			t.Errorf("ユーザー数 = %d, want 1", n)
		}
	})

	t.Run("同時呼び出しでもユーザーは1件だけ作成され同じ結果が返ること", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		// 別インスタンスにしてsingleflightを経由しない競合も発生させる
		stores := []*Store{NewStore(db), NewStore(db)}
		ctx := context.Background()

		const callers = 8
		results := make([]*auth.Principal, callers)
		errs := make([]error, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = stores[i%len(stores)].GetOrCreate(ctx, testIdentity())
			}(i)
		}
		wg.Wait()

		for i := 0; i < callers; i++ {
			if errs[i] != nil {
				t.Fatalf("呼び出し%dでエラーが発生: %v", i, errs[i])
			}
			if *results[i] != *results[0] {
				t.Errorf("呼び出し%dの結果 = %+v, want %+v", i, results[i], results[0])
			}
		}

		if n := countUsers(t, db); n != 1 {
			t.Errorf("ユーザー数 = %d, want 1", n)
		}
	})

	t.Run("新規作成時にPrincipalCreatedイベントが1件だけ記録されること", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		s := NewStore(db)
		ctx := context.Background()

		p, err := s.GetOrCreate(ctx, testIdentity())
		if err != nil {
			t.Fatalf("GetOrCreate()でエラーが発生: %v", err)
		}
		if _, err := s.GetOrCreate(ctx, testIdentity()); err != nil {
			t.Fatalf("GetOrCreate()でエラーが発生: %v", err)
		}

		events, err := audit.NewStore(db).ListByAggregate(ctx, p.ID)
		if err != nil {
			t.Fatalf("ListByAggregate()でエラーが発生: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("イベント数 = %d, want 1", len(events))
		}
		if events[0].EventType != event.TypePrincipalCreated {
			t.Errorf("EventType = %q, want %q", events[0].EventType, event.TypePrincipalCreated)
		}
	})

	t.Run("メールアドレスが空の場合はIdentityIncompleteが返ること", func(t *testing.T) {
		t.Parallel()

		s := NewStore(openTestDB(t))
		_, err := s.GetOrCreate(context.Background(), auth.ExternalIdentity{ExternalID: "x"})
		if !errors.Is(err, auth.ErrIdentityIncomplete) {
			t.Errorf("IdentityIncompleteが返るべき: got %v", err)
		}
	})

	t.Run("書き込みに失敗した場合はStoreWriteFailedが返ること", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		s := NewStore(db)
		db.Close()

		_, err := s.GetOrCreate(context.Background(), testIdentity())
		if !errors.Is(err, auth.ErrStoreWriteFailed) {
			t.Errorf("StoreWriteFailedが返るべき: got %v", err)
		}
	})
}

// TestFindByEmail はFindByEmailを検証する。
func TestFindByEmail(t *testing.T) {
	t.Parallel()

	t.Run("存在しないメールアドレスでPrincipalNotFoundが返ること", func(t *testing.T) {
		t.Parallel()

		s := NewStore(openTestDB(t))
		_, err := s.FindByEmail(context.Background(), "nobody@example.com")
		if !errors.Is(err, auth.ErrPrincipalNotFound) {
			t.Errorf("PrincipalNotFoundが返るべき: got %v", err)
		}
	})

	t.Run("作成済みのユーザーを取得できること", func(t *testing.T) {
		t.Parallel()

		s := NewStore(openTestDB(t))
		ctx := context.Background()
		created, err := s.GetOrCreate(ctx, testIdentity())
		if err != nil {
			t.Fatalf("GetOrCreate()でエラーが発生: %v", err)
		}

		got, err := s.FindByEmail(ctx, "user@example.com")
		if err != nil {
			t.Fatalf("FindByEmail()でエラーが発生: %v", err)
		}
		if *got != *created {
			t.Errorf("FindByEmail() = %+v, want %+v", got, created)
		}
	})
}

// TestRepeatedResolveLeavesRowUntouched は既存ユーザーの再解決で行が書き換わらないことを検証する。
func TestRepeatedResolveLeavesRowUntouched(t *testing.T) {
	t.Parallel()

	t.Run("時刻が進んでも2回目の解決でusers行が変化しないこと", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		s := NewStore(db, WithClock(func() time.Time { return now }))
		ctx := context.Background()

		p, err := s.GetOrCreate(ctx, testIdentity())
		if err != nil {
			t.Fatalf("GetOrCreate()でエラーが発生: %v", err)
		}
		before := userRow(t, db, p.ID)

		now = now.Add(24 * time.Hour)
		changed := testIdentity()
		changed.DisplayName = "Another Name"
		if _, err := s.GetOrCreate(ctx, changed); err != nil {
			t.Fatalf("2回目のGetOrCreate()でエラーが発生: %v", err)
		}

		if after := userRow(t, db, p.ID); after != before {
			t.Errorf("users行が変化した: before=%q, after=%q", before, after)
		}
		if n := countUsers(t, db); n != 1 {
			t.Errorf("ユーザー数 = %d, want 1", n)
		}
	})
}
