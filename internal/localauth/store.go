// Package localauth はローカルに保持するユーザー資格情報を管理する。
//
// パスワードはbcryptでハッシュ化してSQLiteのusersテーブルに保存する。
// アップストリームAPIより先に照合され、一致すればアップストリームへの
// ログインは行わない。
package localauth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrDuplicateEmail は同じメールアドレスのユーザーが既に存在することを表す。
var ErrDuplicateEmail = errors.New("このメールアドレスは既に登録されています")

// ErrInvalidInput はユーザー作成時の入力が不正であることを表す。
var ErrInvalidInput = errors.New("名前・メールアドレス・パスワード（8文字以上）は必須です")

// bcryptCost はパスワードハッシュの計算コスト。
const bcryptCost = bcrypt.DefaultCost

// User はローカルユーザー。
type User struct {
	// ID はユーザーの一意識別子。
	ID int64
	// Name は表示名。
	Name string
	// Email はログインに使用するメールアドレス（小文字で保存）。
	Email string
	// PasswordHash はbcryptハッシュ。
	PasswordHash string
	// CreatedAt は作成日時。
	CreatedAt time.Time
	// UpdatedAt は更新日時。
	UpdatedAt time.Time
}

// Profile はセッションに保存するユーザー情報を返す。
// パスワードハッシュは含めない。
func (u *User) Profile() map[string]any {
	return map[string]any{
		"id":         u.ID,
		"name":       u.Name,
		"email":      u.Email,
		"created_at": u.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at": u.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Store はusersテーブルへのアクセスを提供する。
type Store struct {
	db *sql.DB
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create はローカルユーザーを作成する。
func (s *Store) Create(ctx context.Context, name, email, password string) (*User, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" || email == "" || len(password) < 8 {
		return nil, ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}

	exists, err := s.exists(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateEmail
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, email, password_hash) VALUES (?, ?, ?)`,
		name, email, string(hash))
	if err != nil {
		return nil, fmt.Errorf("ユーザーの作成に失敗: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("ユーザーIDの取得に失敗: %w", err)
	}
	return s.getByID(ctx, id)
}

// Verify はメールアドレスとパスワードを照合する。
// 一致しない場合は (nil, nil) を返す。エラーはDB障害の場合のみ返す。
func (s *Store) Verify(ctx context.Context, email, password string) (*User, error) {
	u, err := s.getByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, nil
	}
	return u, nil
}

func (s *Store) exists(ctx context.Context, email string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE email = ?`, email).Scan(&n); err != nil {
		return false, fmt.Errorf("ユーザーの存在確認に失敗: %w", err)
	}
	return n > 0, nil
}

func (s *Store) getByID(ctx context.Context, id int64) (*User, error) {
	return s.scan(s.db.QueryRowContext(ctx, selectUser+` WHERE id = ?`, id))
}

func (s *Store) getByEmail(ctx context.Context, email string) (*User, error) {
	return s.scan(s.db.QueryRowContext(ctx, selectUser+` WHERE email = ?`, email))
}

const selectUser = `SELECT id, name, email, password_hash, created_at, updated_at FROM users`

func (s *Store) scan(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return &u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
