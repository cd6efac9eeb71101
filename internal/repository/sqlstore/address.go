package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/repository"
)

type addressRepository struct {
	db DBTX
}

func (r *addressRepository) Get(ctx context.Context, id string) (*entity.Address, error) {
	var a entity.Address
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, full_name, phone, line1, line2, city, state, postal_code, country
		FROM addresses WHERE id = $1`, id,
	).Scan(&a.ID, &a.UserID, &a.FullName, &a.Phone, &a.Line1, &a.Line2, &a.City, &a.State, &a.PostalCode, &a.Country)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get address %s: %w", id, err)
	}
	return &a, nil
}

func (r *addressRepository) Create(ctx context.Context, a *entity.Address) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO addresses (id, user_id, full_name, phone, line1, line2, city, state, postal_code, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.UserID, a.FullName, a.Phone, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert address: %w", err)
	}
	return nil
}
