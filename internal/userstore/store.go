package userstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nao1215/starterkit/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

var (
	// ErrNotFound はユーザーが存在しない場合に返される。
	ErrNotFound = errors.New("user not found")
	// ErrEmailExists はメールアドレスが既に登録されている場合に返される。
	ErrEmailExists = errors.New("the email address is already in use by another account")
	// ErrInvalidCredentials はメールアドレスまたはパスワードが一致しない場合に返される。
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrDisabled は無効化されたユーザーがログインしようとした場合に返される。
	ErrDisabled = errors.New("user account is disabled")
	// ErrAdminConflict は管理者として登録するメールアドレスが管理者ロール無しで既に使われている場合に返される。
	ErrAdminConflict = errors.New("the email address is registered without the admin role")
)

// AdminRole はEnsureAdminで登録した管理者に付与するロール。
const AdminRole = "admin"

// User はIDディレクトリに登録されたユーザー。
type User struct {
	UID           string
	Email         string
	DisplayName   string
	PhotoURL      string
	EmailVerified bool
	Disabled      bool
	Roles         []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	// LastSignInAt は最終ログイン日時。一度もログインしていない場合はnil。
	LastSignInAt *time.Time
}

// NewUser はユーザー作成の入力。
type NewUser struct {
	Email         string
	Password      string
	DisplayName   string
	PhotoURL      string
	EmailVerified bool
	Disabled      bool
}

// Update はユーザーの部分更新。nilのフィールドは変更しない。
type Update struct {
	Email         *string
	Password      *string
	DisplayName   *string
	PhotoURL      *string
	EmailVerified *bool
	Disabled      *bool
}

// IsEmpty は変更対象のフィールドが1つも無いかどうかを返す。
func (u Update) IsEmpty() bool {
	return u.Email == nil && u.Password == nil && u.DisplayName == nil &&
		u.PhotoURL == nil && u.EmailVerified == nil && u.Disabled == nil
}

// Options はStoreの設定。
type Options struct {
	// Now は現在時刻を返す関数。nilの場合はtime.Now。
	Now func() time.Time
	// Logger はマイグレーションのログ出力先。
	Logger *zap.Logger
}

// Store はSQLiteに保存するIDディレクトリ。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open はユーザーテーブルのマイグレーションを適用してStoreを生成する。
func Open(ctx context.Context, db *sql.DB, opts Options) (*Store, error) {
	if err := migration.Run(ctx, db, "userstore", migrationsFS, "migrations", opts.Logger); err != nil {
		return nil, fmt.Errorf("ユーザーテーブルのマイグレーションに失敗: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, now: now}, nil
}

// Create はユーザーを作成する。メールアドレスが登録済みの場合はErrEmailExistsを返す。
// 作成したユーザーにロールは付与しない。
func (s *Store) Create(ctx context.Context, in NewUser) (User, error) {
	return s.insert(ctx, in, []string{})
}

// EnsureAdmin はAdminRoleを持つユーザーが存在することを保証する。
// 未登録のメールアドレスであれば管理者として作成し、既に管理者であれば何もしない。
// 管理者ロール無しで登録済みの場合は昇格させずにErrAdminConflictを返す。
func (s *Store) EnsureAdmin(ctx context.Context, email, password string) (User, error) {
	row := s.db.QueryRowContext(ctx, selectUser+" WHERE email = ?", normalizeEmail(email))
	existing, _, err := scanUser(row)
	switch {
	case err == nil:
		if slices.Contains(existing.Roles, AdminRole) {
			return existing, nil
		}
		return User{}, ErrAdminConflict
	case !errors.Is(err, ErrNotFound):
		return User{}, err
	}

	u, err := s.insert(ctx, NewUser{Email: email, Password: password, EmailVerified: true}, []string{AdminRole})
	if errors.Is(err, ErrEmailExists) {
		return User{}, ErrAdminConflict
	}
	return u, err
}

func (s *Store) insert(ctx context.Context, in NewUser, roles []string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}

	now := s.now().UTC()
	u := User{
		UID:           uuid.NewString(),
		Email:         normalizeEmail(in.Email),
		DisplayName:   in.DisplayName,
		PhotoURL:      in.PhotoURL,
		EmailVerified: in.EmailVerified,
		Disabled:      in.Disabled,
		Roles:         roles,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	rolesJSON, err := json.Marshal(u.Roles)
	if err != nil {
		return User{}, fmt.Errorf("ロールのシリアライズに失敗: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (uid, email, password_hash, display_name, photo_url, email_verified, disabled, roles, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.UID, u.Email, string(hash), u.DisplayName, u.PhotoURL, u.EmailVerified, u.Disabled, string(rolesJSON),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrEmailExists
		}
		return User{}, fmt.Errorf("ユーザーの作成に失敗: %w", err)
	}
	return u, nil
}

// Get はユーザーを取得する。存在しない場合はErrNotFoundを返す。
func (s *Store) Get(ctx context.Context, uid string) (User, error) {
	row := s.db.QueryRowContext(ctx, selectUser+" WHERE uid = ?", uid)
	u, _, err := scanUser(row)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// Update はユーザーを部分更新し、更新後のユーザーを返す。
// 変更対象が無い場合は何も書き込まずに現在のユーザーを返す。
func (s *Store) Update(ctx context.Context, uid string, in Update) (User, error) {
	if in.IsEmpty() {
		return s.Get(ctx, uid)
	}

	sets := []string{}
	args := []any{}
	if in.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, normalizeEmail(*in.Email))
	}
	if in.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*in.Password), bcrypt.DefaultCost)
		if err != nil {
			return User{}, fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
		}
		sets = append(sets, "password_hash = ?")
		args = append(args, string(hash))
	}
	if in.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, *in.DisplayName)
	}
	if in.PhotoURL != nil {
		sets = append(sets, "photo_url = ?")
		args = append(args, *in.PhotoURL)
	}
	if in.EmailVerified != nil {
		sets = append(sets, "email_verified = ?")
		args = append(args, *in.EmailVerified)
	}
	if in.Disabled != nil {
		sets = append(sets, "disabled = ?")
		args = append(args, *in.Disabled)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(s.now().UTC()), uid)

	res, err := s.db.ExecContext(ctx, "UPDATE users SET "+strings.Join(sets, ", ")+" WHERE uid = ?", args...)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrEmailExists
		}
		return User{}, fmt.Errorf("ユーザーの更新に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return User{}, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return User{}, ErrNotFound
	}
	return s.Get(ctx, uid)
}

// Delete はユーザーを削除する。存在しない場合はErrNotFoundを返す。
func (s *Store) Delete(ctx context.Context, uid string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE uid = ?", uid)
	if err != nil {
		return fmt.Errorf("ユーザーの削除に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Authenticate はメールアドレスとパスワードを照合し、最終ログイン日時を更新する。
func (s *Store) Authenticate(ctx context.Context, email, password string) (User, error) {
	row := s.db.QueryRowContext(ctx, selectUser+" WHERE email = ?", normalizeEmail(email))
	u, hash, err := scanUser(row)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if u.Disabled {
		return User{}, ErrDisabled
	}

	now := s.now().UTC()
	if _, err := s.db.ExecContext(ctx, "UPDATE users SET last_sign_in_at = ? WHERE uid = ?", formatTime(now), u.UID); err != nil {
		return User{}, fmt.Errorf("最終ログイン日時の更新に失敗: %w", err)
	}
	u.LastSignInAt = &now
	return u, nil
}

const selectUser = `
	SELECT uid, email, password_hash, display_name, photo_url, email_verified, disabled, roles,
	       created_at, updated_at, last_sign_in_at
	FROM users`

// scanUser は1行をUserとパスワードハッシュに変換する。
func scanUser(row *sql.Row) (User, string, error) {
	var (
		u                    User
		hash, roles          string
		createdAt, updatedAt string
		lastSignIn           sql.NullString
	)
	err := row.Scan(&u.UID, &u.Email, &hash, &u.DisplayName, &u.PhotoURL, &u.EmailVerified, &u.Disabled,
		&roles, &createdAt, &updatedAt, &lastSignIn)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, "", ErrNotFound
	}
	if err != nil {
		return User{}, "", fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}

	if err := json.Unmarshal([]byte(roles), &u.Roles); err != nil {
		return User{}, "", fmt.Errorf("ロールの解析に失敗: %w", err)
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return User{}, "", err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return User{}, "", err
	}
	if lastSignIn.Valid {
		t, err := parseTime(lastSignIn.String)
		if err != nil {
			return User{}, "", err
		}
		u.LastSignInAt = &t
	}
	return u, hash, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("日時の解析に失敗: %w", err)
	}
	return t, nil
}

// isUniqueViolation はSQLiteの一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
