package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FeeRepository reads and maintains the contracted fee-rate tables.
// Name lookups ignore case and surrounding whitespace.
type FeeRepository struct {
	db *PostgresDB
}

// NewFeeRepository creates a repository over db.
func NewFeeRepository(db *PostgresDB) *FeeRepository {
	return &FeeRepository{db: db}
}

// FindClient returns the client named name.
func (r *FeeRepository) FindClient(ctx context.Context, name string) (Client, error) {
	var c Client
	err := r.db.QueryRowContext(ctx,
		`SELECT id, client_name FROM rdn_client WHERE LOWER(client_name) = LOWER($1) ORDER BY id LIMIT 1`,
		strings.TrimSpace(name),
	).Scan(&c.ID, &c.Name)
	if err != nil {
		return Client{}, notFound(err, "client", name)
	}
	return c, nil
}

// FindLienholder returns the lienholder named name.
func (r *FeeRepository) FindLienholder(ctx context.Context, name string) (Lienholder, error) {
	var l Lienholder
	err := r.db.QueryRowContext(ctx,
		`SELECT id, lienholder_name FROM lienholder WHERE LOWER(lienholder_name) = LOWER($1) ORDER BY id LIMIT 1`,
		strings.TrimSpace(name),
	).Scan(&l.ID, &l.Name)
	if err != nil {
		return Lienholder{}, notFound(err, "lienholder", name)
	}
	return l, nil
}

// FindFeeType returns the fee type named name.
func (r *FeeRepository) FindFeeType(ctx context.Context, name string) (FeeType, error) {
	var f FeeType
	err := r.db.QueryRowContext(ctx,
		`SELECT id, fee_type_name FROM fee_type WHERE LOWER(fee_type_name) = LOWER($1) ORDER BY id LIMIT 1`,
		strings.TrimSpace(name),
	).Scan(&f.ID, &f.Name)
	if err != nil {
		return FeeType{}, notFound(err, "fee type", name)
	}
	return f, nil
}

const feeDetailQuery = `
	SELECT fd.fd_id, fd.client_id, fd.lh_id, fd.ft_id,
	       c.client_name, lh.lienholder_name, ft.fee_type_name, fd.amount
	FROM fee_details fd
	JOIN rdn_client c ON fd.client_id = c.id
	JOIN lienholder lh ON fd.lh_id = lh.id
	JOIN fee_type ft ON fd.ft_id = ft.id`

// FindFeeDetail returns the rate for one (client, lienholder, fee type).
func (r *FeeRepository) FindFeeDetail(ctx context.Context, clientID, lienholderID, feeTypeID int64) (FeeDetail, error) {
	row := r.db.QueryRowContext(ctx,
		feeDetailQuery+` WHERE fd.client_id = $1 AND fd.lh_id = $2 AND fd.ft_id = $3`,
		clientID, lienholderID, feeTypeID,
	)

	fd, err := scanFeeDetail(row)
	if err != nil {
		return FeeDetail{}, notFound(err, "fee detail", fmt.Sprintf("%d/%d/%d", clientID, lienholderID, feeTypeID))
	}
	return fd, nil
}

// ListFeeDetails returns every rate of a client ordered by lienholder and
// fee type.
func (r *FeeRepository) ListFeeDetails(ctx context.Context, clientID int64) ([]FeeDetail, error) {
	rows, err := r.db.QueryContext(ctx,
		feeDetailQuery+` WHERE fd.client_id = $1 ORDER BY lh.lienholder_name, ft.fee_type_name`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list fee details: %w", err)
	}
	defer rows.Close()

	var out []FeeDetail
	for rows.Next() {
		fd, err := scanFeeDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fee detail: %w", err)
		}
		out = append(out, fd)
	}
	return out, rows.Err()
}

// UpsertFeeDetail stores a rate, creating the named client, lienholder and
// fee type when missing.
func (r *FeeRepository) UpsertFeeDetail(ctx context.Context, client, lienholder, feeType string, amount decimal.Decimal) (FeeDetail, error) {
	var fd FeeDetail
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		if fd.ClientID, err = ensureName(ctx, tx, "rdn_client", "client_name", client); err != nil {
			return err
		}
		if fd.LienholderID, err = ensureName(ctx, tx, "lienholder", "lienholder_name", lienholder); err != nil {
			return err
		}
		if fd.FeeTypeID, err = ensureName(ctx, tx, "fee_type", "fee_type_name", feeType); err != nil {
			return err
		}

		return tx.QueryRowContext(ctx, `
			INSERT INTO fee_details (client_id, lh_id, ft_id, amount)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (client_id, lh_id, ft_id) DO UPDATE SET amount = EXCLUDED.amount
			RETURNING fd_id`,
			fd.ClientID, fd.LienholderID, fd.FeeTypeID, amount,
		).Scan(&fd.ID)
	})
	if err != nil {
		return FeeDetail{}, fmt.Errorf("failed to upsert fee detail: %w", err)
	}

	fd.ClientName, fd.LienholderName, fd.FeeTypeName = client, lienholder, feeType
	fd.Amount = amount
	return fd, nil
}

// ensureName returns the id of the row named name in table, inserting it
// when absent. An existing row whose name differs only in case is reused,
// matching the case-insensitive Find methods. table and column are package
// constants, never user input.
func ensureName(ctx context.Context, tx *sql.Tx, table, column, name string) (int64, error) {
	name = strings.TrimSpace(name)

	var id int64
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE LOWER(%s) = LOWER($1) ORDER BY id LIMIT 1`, table, column),
		name,
	).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("failed to look up %s %q: %w", table, name, err)
	}

	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1) ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s RETURNING id`,
			table, column, column, column, column),
		name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure %s %q: %w", table, name, err)
	}
	return id, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFeeDetail(s scanner) (FeeDetail, error) {
	var fd FeeDetail
	err := s.Scan(
		&fd.ID, &fd.ClientID, &fd.LienholderID, &fd.FeeTypeID,
		&fd.ClientName, &fd.LienholderName, &fd.FeeTypeName, &fd.Amount,
	)
	return fd, err
}

func notFound(err error, what, name string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %q: %w", what, name, ErrNotFound)
	}
	return fmt.Errorf("failed to query %s %q: %w", what, name, err)
}
