package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/placehub/internal/domain/user"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrEmailAlreadyUsed = errors.New("email already used")

type UsersRepo struct {
	pool *pgxpool.Pool
}

func NewUsersRepo(pool *pgxpool.Pool) *UsersRepo {
	return &UsersRepo{pool: pool}
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User

	err := r.pool.QueryRow(
		ctx,
		`SELECT id, email, password_hash, name, image_url, role, place_ids::text[], created_at, updated_at
         FROM users
         WHERE email = $1`,
		email,
	).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Name,
		&u.ImageURL,
		&u.Role,
		&u.PlaceIDs,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}

		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	var u user.User

	err := r.pool.QueryRow(
		ctx,
		`SELECT id, email, password_hash, name, image_url, role, place_ids::text[], created_at, updated_at
         FROM users
         WHERE id = $1`,
		id,
	).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Name,
		&u.ImageURL,
		&u.Role,
		&u.PlaceIDs,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}

		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, name, image_url, role, place_ids, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,'{}',$7,$8)
	`, u.ID, u.Email, u.PasswordHash, u.Name, u.ImageURL, u.Role, u.CreatedAt, u.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return user.User{}, ErrEmailAlreadyUsed
		}

		return user.User{}, err
	}

	u.PlaceIDs = []string{}

	return u, nil
}

// List returns every user without the password hash, oldest first.
func (r *UsersRepo) List(ctx context.Context) ([]user.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, email, name, image_url, role, place_ids::text[], created_at, updated_at
		FROM users
		ORDER BY created_at ASC, id ASC
	`)

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	out := make([]user.User, 0)

	for rows.Next() {
		var u user.User

		err = rows.Scan(&u.ID, &u.Email, &u.Name, &u.ImageURL, &u.Role, &u.PlaceIDs, &u.CreatedAt, &u.UpdatedAt)

		if err != nil {
			return nil, err
		}

		out = append(out, u)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}
