package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/briangreenhill/acctcache/internal/db"
)

// PostgresStore keeps credentials in the credentials table.
type PostgresStore struct {
	q *db.Queries
}

func NewPostgresStore(q *db.Queries) *PostgresStore {
	return &PostgresStore{q: q}
}

func (s *PostgresStore) List(ctx context.Context) ([]Credential, error) {
	rows, err := s.q.ListCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	out := make([]Credential, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, email string) (Credential, error) {
	row, err := s.q.GetCredential(ctx, Normalize(email))
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return fromRow(row), nil
}

func (s *PostgresStore) Put(ctx context.Context, c Credential) error {
	c.Email = Normalize(c.Email)
	if c.Email == "" {
		return ErrInvalidEmail
	}
	err := s.q.UpsertCredential(ctx, db.UpsertCredentialParams{
		Email:         c.Email,
		Password:      c.Password,
		AccountApiKey: pgtype.Text{String: c.AccountAPIKey, Valid: c.AccountAPIKey != ""},
	})
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, email string) error {
	n, err := s.q.DeleteCredential(ctx, Normalize(email))
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func fromRow(r db.Credential) Credential {
	return Credential{
		Email:         r.Email,
		Password:      r.Password,
		AccountAPIKey: r.AccountApiKey.String,
	}
}
