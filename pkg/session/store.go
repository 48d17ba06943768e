package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store はsessionsテーブルへの永続化を行う。
type Store struct {
	db *sql.DB
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Load はセッションを読み込む。
// 存在しない、または有効期限切れの場合は (nil, nil) を返す。
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE id = ? AND expires_at > ?`,
		id, s.now().Unix()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("セッションの読み込みに失敗: %w", err)
	}

	values := make(map[string]string)
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("セッションデータのデシリアライズに失敗: %w", err)
	}
	return restore(id, values), nil
}

// Save はセッションを保存し、有効期限をlifetime後に延長する。
func (s *Store) Save(ctx context.Context, sess *Session, lifetime time.Duration) error {
	data, err := json.Marshal(sess.values)
	if err != nil {
		return fmt.Errorf("セッションデータのシリアライズに失敗: %w", err)
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, data, expires_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		sess.id, string(data), now.Add(lifetime).Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("セッションの保存に失敗: %w", err)
	}
	sess.isNew = false
	sess.dirty = false
	return nil
}

// Delete はセッションを削除する。
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("セッションの削除に失敗: %w", err)
	}
	return nil
}

// DeleteExpired は有効期限切れのセッションを削除し、削除件数を返す。
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}
	return res.RowsAffected()
}
