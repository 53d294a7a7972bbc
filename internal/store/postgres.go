package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/domain"
)

var (
	ErrLinkNotFound      = errors.New("payment link not found")
	ErrInvalidTransition = errors.New("invalid link status transition")
)

// uniqueViolation is the Postgres error code the claim ledger relies on.
const uniqueViolation = "23505"

// Store is the durable side of the engine: payment links, the append-only
// payments table, and buyer intents. The UNIQUE constraint on
// payments.tx_hash is the single serialization point for claims.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{db: pool}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

// CreateLink inserts a new payment link in the active state.
func (s *Store) CreateLink(ctx context.Context, link *domain.PaymentLink) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO payment_links (id, wallet_address, expected_amount_micro, network, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		link.ID, link.WalletAddress, link.AmountMicro, link.Network, link.Status, link.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("link insert failed: %w", err)
	}
	return nil
}

// GetLink retrieves a payment link by its shareable ID.
func (s *Store) GetLink(ctx context.Context, id string) (*domain.PaymentLink, error) {
	var link domain.PaymentLink
	err := s.db.QueryRow(ctx,
		`SELECT id, wallet_address, expected_amount_micro, network, status, created_at
		 FROM payment_links WHERE id = $1`, id,
	).Scan(&link.ID, &link.WalletAddress, &link.AmountMicro, &link.Network, &link.Status, &link.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("link query failed: %w", err)
	}
	return &link, nil
}

// ListLinksByStatus returns links currently in the given status, oldest first.
func (s *Store) ListLinksByStatus(ctx context.Context, status string) ([]domain.PaymentLink, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, wallet_address, expected_amount_micro, network, status, created_at
		 FROM payment_links WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("link list failed: %w", err)
	}
	defer rows.Close()

	var links []domain.PaymentLink
	for rows.Next() {
		var link domain.PaymentLink
		if err := rows.Scan(&link.ID, &link.WalletAddress, &link.AmountMicro, &link.Network, &link.Status, &link.CreatedAt); err != nil {
			log.Printf("store: error scanning link: %v", err)
			continue
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// UpdateLinkStatus advances the link state machine. The SQL guard keeps a
// confirmed link from ever moving backward, even under concurrent updates.
func (s *Store) UpdateLinkStatus(ctx context.Context, id, status string) error {
	link, err := s.GetLink(ctx, id)
	if err != nil {
		return err
	}
	if link.Status == status {
		return nil
	}
	if !domain.CanTransition(link.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, link.Status, status)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE payment_links SET status = $2 WHERE id = $1 AND status <> $3`,
		id, status, domain.StatusConfirmed,
	)
	if err != nil {
		return fmt.Errorf("link status update failed: %w", err)
	}
	if tag.RowsAffected() == 0 && status != domain.StatusConfirmed {
		// Lost a race against a concurrent confirmation; confirmed wins.
		return fmt.Errorf("%w: link already confirmed", ErrInvalidTransition)
	}
	return nil
}

// FindPaymentByHash answers the claim ledger existence check. A nil payment
// with nil error means the hash is unclaimed.
func (s *Store) FindPaymentByHash(ctx context.Context, hash string) (*domain.Payment, error) {
	var p domain.Payment
	err := s.db.QueryRow(ctx,
		`SELECT tx_hash, payment_link_id, amount_micro, network, from_address, to_address, status, confirmed_at
		 FROM payments WHERE tx_hash = $1`, hash,
	).Scan(&p.TxHash, &p.PaymentLinkID, &p.AmountMicro, &p.Network, &p.FromAddress, &p.ToAddress, &p.Status, &p.ConfirmedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("payment query failed: %w", err)
	}
	return &p, nil
}

// FindPaymentByLink returns the payment that confirmed a link, if any.
func (s *Store) FindPaymentByLink(ctx context.Context, linkID string) (*domain.Payment, error) {
	var p domain.Payment
	err := s.db.QueryRow(ctx,
		`SELECT tx_hash, payment_link_id, amount_micro, network, from_address, to_address, status, confirmed_at
		 FROM payments WHERE payment_link_id = $1 ORDER BY confirmed_at LIMIT 1`, linkID,
	).Scan(&p.TxHash, &p.PaymentLinkID, &p.AmountMicro, &p.Network, &p.FromAddress, &p.ToAddress, &p.Status, &p.ConfirmedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("payment query failed: %w", err)
	}
	return &p, nil
}

// InsertPaymentIfAbsent attempts the durable claim of a transaction hash.
// It reports inserted=false without error when the hash was already claimed
// by a concurrent reconciliation; any other failure is a real error.
func (s *Store) InsertPaymentIfAbsent(ctx context.Context, p *domain.Payment) (bool, error) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO payments (tx_hash, payment_link_id, amount_micro, network, from_address, to_address, status, confirmed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.TxHash, p.PaymentLinkID, p.AmountMicro, p.Network, p.FromAddress, p.ToAddress, p.Status, p.ConfirmedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("payment insert failed: %w", err)
	}
	return true, nil
}

// RecordBuyerIntent stores the buyer's "I paid" signal. Repeated signals hit
// the unique constraint and are dropped; the caller must not let a failure
// here block the state transition.
func (s *Store) RecordBuyerIntent(ctx context.Context, linkID, buyerEmail string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO buyer_intents (link_id, buyer_email, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (link_id) DO NOTHING`,
		linkID, buyerEmail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("buyer intent insert failed: %w", err)
	}
	return nil
}
