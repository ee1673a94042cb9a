package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS ledger_users (
    user_id       TEXT PRIMARY KEY,
    wallet        TEXT NOT NULL,
    level         SMALLINT NOT NULL DEFAULT 0,
    referrer_id   TEXT NOT NULL DEFAULT '',
    registered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    is_active     BOOLEAN NOT NULL DEFAULT false,
    card_count    INTEGER NOT NULL DEFAULT 0,
    total_earned  NUMERIC(78,0) NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS ledger_cards (
    card_id       TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL REFERENCES ledger_users(user_id),
    metadata_hash TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at    TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS ledger_transactions (
    id         UUID PRIMARY KEY,
    tx_hash    TEXT NOT NULL UNIQUE,
    kind       TEXT NOT NULL,
    user_id    TEXT NOT NULL,
    value      NUMERIC(78,0) NOT NULL DEFAULT 0,
    gas_limit  BIGINT NOT NULL,
    status     TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ledger_users_referrer_idx ON ledger_users (referrer_id);
`

// PostgresLedger is a relational mirror of the card contract.
type PostgresLedger struct {
	db        *pgxpool.Pool
	address   string
	prices    Prices
	connected atomic.Bool
}

// NewPostgresLedger writes on behalf of the operator wallet address.
func NewPostgresLedger(db *pgxpool.Pool, address string, prices Prices) *PostgresLedger {
	return &PostgresLedger{db: db, address: strings.ToLower(address), prices: prices}
}

// EnsureSchema creates the mirror tables when missing.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, ledgerSchema); err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Connect(ctx context.Context) (string, error) {
	if err := l.db.Ping(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	l.connected.Store(true)
	return l.address, nil
}

func (l *PostgresLedger) Address() string   { return l.address }
func (l *PostgresLedger) IsConnected() bool { return l.connected.Load() }

func (l *PostgresLedger) RegisterUser(ctx context.Context, userID, referrerID string, p Payment) (Receipt, error) {
	if !l.IsConnected() {
		return Receipt{}, ErrNotConnected
	}
	return l.inTx(ctx, "register_user", userID, "0", p, func(tx pgx.Tx) error {
		if referrerID != "" {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM ledger_users WHERE user_id = $1)`, referrerID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				referrerID = ""
			}
		}
		_, err := tx.Exec(ctx, `INSERT INTO ledger_users (user_id, wallet, referrer_id) VALUES ($1, $2, $3)`, userID, l.address, referrerID)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyRegistered
		}
		return err
	})
}

func (l *PostgresLedger) ActivateUser(ctx context.Context, userID string, p Payment) (Receipt, error) {
	return l.activate(ctx, userID, LevelActivated, p)
}

func (l *PostgresLedger) ActivateMiniAdmin(ctx context.Context, userID string, p Payment) (Receipt, error) {
	return l.activate(ctx, userID, LevelMiniAdmin, p)
}

func (l *PostgresLedger) ActivateSuperAdmin(ctx context.Context, userID string, p Payment) (Receipt, error) {
	return l.activate(ctx, userID, LevelSuperAdmin, p)
}

func (l *PostgresLedger) activate(ctx context.Context, userID string, level int, p Payment) (Receipt, error) {
	if !l.IsConnected() {
		return Receipt{}, ErrNotConnected
	}
	paid, err := checkPayment(p.Value, l.prices.ForLevel(level))
	if err != nil {
		return Receipt{}, err
	}
	return l.inTx(ctx, "activate_level_"+fmt.Sprint(level), userID, paid.String(), p, func(tx pgx.Tx) error {
		var referrerID string
		if err := tx.QueryRow(ctx, `SELECT referrer_id FROM ledger_users WHERE user_id = $1 FOR UPDATE`, userID).Scan(&referrerID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE ledger_users SET level = GREATEST(level, $2), is_active = true WHERE user_id = $1`, userID, level); err != nil {
			return err
		}
		if referrerID == "" {
			return nil
		}
		_, err := tx.Exec(ctx, `UPDATE ledger_users
            SET total_earned = total_earned + trunc(($2::text)::numeric * $3::int / 100)
            WHERE user_id = $1`, referrerID, paid.String(), ReferralRewardPercent)
		return err
	})
}

func (l *PostgresLedger) CreateCard(ctx context.Context, userID, cardID, metadataHash string, p Payment) (Receipt, error) {
	if !l.IsConnected() {
		return Receipt{}, ErrNotConnected
	}
	return l.inTx(ctx, "create_card", userID, "0", p, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE ledger_users SET card_count = card_count + 1 WHERE user_id = $1`, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		_, err = tx.Exec(ctx, `INSERT INTO ledger_cards (card_id, user_id, metadata_hash) VALUES ($1, $2, $3)
            ON CONFLICT (card_id) DO NOTHING`, cardID, userID, metadataHash)
		return err
	})
}

func (l *PostgresLedger) DeleteCard(ctx context.Context, userID, cardID string, p Payment) (Receipt, error) {
	if !l.IsConnected() {
		return Receipt{}, ErrNotConnected
	}
	return l.inTx(ctx, "delete_card", userID, "0", p, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE ledger_cards SET deleted_at = now()
            WHERE card_id = $1 AND user_id = $2 AND deleted_at IS NULL`, cardID, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrCardNotFound
		}
		_, err = tx.Exec(ctx, `UPDATE ledger_users SET card_count = GREATEST(card_count - 1, 0) WHERE user_id = $1`, userID)
		return err
	})
}

func (l *PostgresLedger) GetUser(ctx context.Context, userID string) (User, error) {
	const query = `SELECT user_id, wallet, level, referrer_id, registered_at, is_active, card_count, total_earned::text
        FROM ledger_users WHERE user_id = $1`
	var (
		u     User
		level int16
		cards int32
	)
	err := l.db.QueryRow(ctx, query, userID).Scan(&u.UserID, &u.Wallet, &level, &u.ReferrerID, &u.RegistrationTime, &u.IsActive, &cards, &u.TotalEarned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	u.Level = int(level)
	u.CardCount = int(cards)
	return u, nil
}

func (l *PostgresLedger) GetUserReferrals(ctx context.Context, userID string) ([]string, error) {
	return l.ids(ctx, `SELECT user_id FROM ledger_users WHERE referrer_id = $1 ORDER BY registered_at, user_id`, userID)
}

func (l *PostgresLedger) GetUserCards(ctx context.Context, userID string) ([]string, error) {
	return l.ids(ctx, `SELECT card_id FROM ledger_cards WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at, card_id`, userID)
}

func (l *PostgresLedger) ids(ctx context.Context, query, userID string) ([]string, error) {
	rows, err := l.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return out, nil
}

// inTx runs fn and records the transaction row in the same database transaction.
func (l *PostgresLedger) inTx(ctx context.Context, kind, userID, value string, p Payment, fn func(pgx.Tx) error) (Receipt, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Receipt{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(tx); err != nil {
		return Receipt{}, err
	}

	r := Receipt{TxHash: newTxHash(), Status: StatusConfirmed, GasLimit: p.Gas, At: time.Now().UTC()}
	if _, err := tx.Exec(ctx, `INSERT INTO ledger_transactions (id, tx_hash, kind, user_id, value, gas_limit, status, created_at)
        VALUES ($1, $2, $3, $4, ($5::text)::numeric, $6, $7, $8)`,
		uuid.New(), r.TxHash, kind, userID, value, int64(p.Gas), r.Status, r.At); err != nil {
		return Receipt{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Receipt{}, err
	}
	return r, nil
}
