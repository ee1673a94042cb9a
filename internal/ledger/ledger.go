package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnavailable indicates the ledger could not be reached. It is never
	// surfaced to callers of the data service.
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrNotConnected is returned by writes issued before Connect.
	ErrNotConnected = errors.New("wallet not connected")

	// ErrUserNotFound indicates the ledger has no record for the user.
	ErrUserNotFound = errors.New("ledger user not found")

	// ErrAlreadyRegistered indicates a duplicate registration.
	ErrAlreadyRegistered = errors.New("user already registered on ledger")

	// ErrCardNotFound indicates the card is unknown to the ledger.
	ErrCardNotFound = errors.New("ledger card not found")

	// ErrInsufficientPayment indicates the attached value does not cover the price.
	ErrInsufficientPayment = errors.New("insufficient payment")

	// ErrUnknownChain is returned by SwitchNetwork when the wallet does not know the chain.
	ErrUnknownChain = errors.New("unrecognized chain")
)

// Levels recorded on the ledger.
const (
	LevelFree       = 0
	LevelActivated  = 1
	LevelMiniAdmin  = 2
	LevelSuperAdmin = 3
)

// Transaction statuses.
const (
	StatusConfirmed = "confirmed"
)

// Payment is the value (in wei, decimal string) and gas budget attached to a write.
type Payment struct {
	Value string
	Gas   uint64
}

// Receipt captures the outcome of a ledger write.
type Receipt struct {
	TxHash   string    `json:"txHash"`
	Status   string    `json:"status"`
	GasLimit uint64    `json:"gasLimit"`
	At       time.Time `json:"at"`
}

// User is the ledger view of a registered user.
type User struct {
	UserID           string    `json:"userId"`
	Wallet           string    `json:"wallet"`
	Level            int       `json:"level"`
	ReferrerID       string    `json:"referrerId"`
	RegistrationTime time.Time `json:"registrationTime"`
	IsActive         bool      `json:"isActive"`
	CardCount        int       `json:"cardCount"`
	TotalEarned      string    `json:"totalEarned"`
}

// Gateway is the contract client used by the data service. Writes are issued
// from the connected wallet on behalf of the given user.
type Gateway interface {
	Connect(ctx context.Context) (string, error)
	Address() string
	IsConnected() bool

	RegisterUser(ctx context.Context, userID, referrerID string, p Payment) (Receipt, error)
	ActivateUser(ctx context.Context, userID string, p Payment) (Receipt, error)
	ActivateMiniAdmin(ctx context.Context, userID string, p Payment) (Receipt, error)
	ActivateSuperAdmin(ctx context.Context, userID string, p Payment) (Receipt, error)
	CreateCard(ctx context.Context, userID, cardID, metadataHash string, p Payment) (Receipt, error)
	DeleteCard(ctx context.Context, userID, cardID string, p Payment) (Receipt, error)

	GetUser(ctx context.Context, userID string) (User, error)
	GetUserReferrals(ctx context.Context, userID string) ([]string, error)
	GetUserCards(ctx context.Context, userID string) ([]string, error)
}

// Prices are the activation amounts in wei.
type Prices struct {
	Activation string
	MiniAdmin  string
	SuperAdmin string
}

// ForLevel returns the price of reaching level.
func (p Prices) ForLevel(level int) string {
	switch level {
	case LevelMiniAdmin:
		return p.MiniAdmin
	case LevelSuperAdmin:
		return p.SuperAdmin
	default:
		return p.Activation
	}
}

// ReferralRewardPercent is the share of an activation payment credited to the referrer.
const ReferralRewardPercent = 10

func newTxHash() string {
	return "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
