package market

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountRepo covers the thin user/producer surface the notification
// flows need: invited accounts and e-mail lookups.
type AccountRepo struct{ DB *pgxpool.Pool }

const pgUniqueViolation = "23505"

// CreateInvitedUser registers an invited account with a temporary
// bcrypt hash. A PRODUCER invite also creates the producer row.
func (r *AccountRepo) CreateInvitedUser(ctx context.Context, email string, role Role, passwordHash, producerName string) (User, error) {
	if email == "" {
		return User{}, Validationf("email is required")
	}
	if role != RoleClient && role != RoleProducer {
		return User{}, Validationf("only CLIENT and PRODUCER accounts can be invited")
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return User{}, err
	}
	defer tx.Rollback(ctx)

	u := User{ID: uuid.NewString(), Email: email, Role: role, PasswordHash: passwordHash}
	err = tx.QueryRow(ctx, `
		INSERT INTO users(id, email, role, password_hash)
		VALUES ($1,$2,$3,$4) RETURNING created_at`,
		u.ID, u.Email, u.Role, u.PasswordHash).Scan(&u.CreatedAt)
	if isUniqueViolation(err) {
		return User{}, Conflictf("email %s is already registered", email)
	}
	if err != nil {
		return User{}, err
	}

	if role == RoleProducer {
		if producerName == "" {
			producerName = email
		}
		if _, err = tx.Exec(ctx, `INSERT INTO producers(id, user_id, name) VALUES ($1,$2,$3)`,
			uuid.NewString(), u.ID, producerName); err != nil {
			return User{}, err
		}
	}
	return u, tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (r *AccountRepo) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := r.DB.QueryRow(ctx, `
		SELECT id, email, role, password_hash, created_at FROM users WHERE email=$1`, email).
		Scan(&u.ID, &u.Email, &u.Role, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundf("no user with email %s", email)
	}
	return u, err
}

// ProducerEmailForProduct resolves where a low-stock notice should go.
func (r *AccountRepo) ProducerEmailForProduct(ctx context.Context, productID string) (string, error) {
	var email string
	err := r.DB.QueryRow(ctx, `
		SELECT u.email
		FROM products p
		JOIN producers pr ON pr.id = p.producer_id
		JOIN users u ON u.id = pr.user_id
		WHERE p.id=$1`, productID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", NotFoundf("product %s not found", productID)
	}
	return email, err
}
