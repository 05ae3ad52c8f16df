package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/valora-session/internal/domain"
)

// Compile-time interface assertions.
var _ UserRepository = (*PostgresUserRepo)(nil)

const uniqueViolation = "23505"

// CreateUsersTableSQL is applied on startup by the bootstrap package.
const CreateUsersTableSQL = `CREATE TABLE IF NOT EXISTS users (
	id            BIGINT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const (
	selectUserColumns = `id, username, password_hash, created_at, updated_at`

	getUserByUsernameSQL = `SELECT ` + selectUserColumns + ` FROM users WHERE username = $1`
	getUserByIDSQL       = `SELECT ` + selectUserColumns + ` FROM users WHERE id = $1`

	insertUserSQL = `INSERT INTO users (id, username, password_hash)
VALUES ($1, $2, $3)
RETURNING ` + selectUserColumns

	updatePasswordHashSQL = `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`
)

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

func (r *PostgresUserRepo) GetByUsername(ctx context.Context, username string) (domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, getUserByUsernameSQL, username))
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, getUserByIDSQL, userID))
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	created, err := scanUser(r.db.QueryRow(ctx, insertUserSQL, user.ID, strings.TrimSpace(user.Username), user.PasswordHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.User{}, fmt.Errorf("create user: %w", domain.ErrConflict)
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (r *PostgresUserRepo) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	tag, err := r.db.Exec(ctx, updatePasswordHashSQL, userID, hash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update password hash: %w", domain.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var user domain.User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}
