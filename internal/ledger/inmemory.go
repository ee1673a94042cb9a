package ledger

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"
)

type memUser struct {
	User
	earned *big.Int
	cards  []string
}

// InMemory simulates a wallet connected to the card contract. It is
// concurrency-safe and doubles as the wallet provider's Network.
type InMemory struct {
	mu        sync.RWMutex
	address   string
	connected bool
	prices    Prices
	users     map[string]*memUser
	order     []string
	receipts  map[string]Receipt

	chainID     int64
	knownChains map[int64]NetworkParams

	failNext error
	now      func() time.Time
}

// InMemoryOption configures an InMemory gateway.
type InMemoryOption func(*InMemory)

// WithPrices sets the activation prices enforced by the simulated contract.
func WithPrices(p Prices) InMemoryOption {
	return func(l *InMemory) { l.prices = p }
}

// WithChain sets the chain the simulated wallet starts on.
func WithChain(chainID int64) InMemoryOption {
	return func(l *InMemory) { l.chainID = chainID }
}

// NewInMemory creates a disconnected simulated wallet for address.
func NewInMemory(address string, opts ...InMemoryOption) *InMemory {
	l := &InMemory{
		address:     strings.ToLower(address),
		users:       make(map[string]*memUser),
		receipts:    make(map[string]Receipt),
		chainID:     1,
		knownChains: map[int64]NetworkParams{1: {ChainID: 1, ChainName: "Ethereum Mainnet"}},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if _, ok := l.knownChains[l.chainID]; !ok {
		l.knownChains[l.chainID] = NetworkParams{ChainID: l.chainID}
	}
	return l
}

func (l *InMemory) Connect(_ context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.address == "" {
		return "", fmt.Errorf("no account available: %w", ErrNotConnected)
	}
	l.connected = true
	return l.address, nil
}

// Disconnect drops the wallet session.
func (l *InMemory) Disconnect() {
	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()
}

func (l *InMemory) Address() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.address
}

func (l *InMemory) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

// FailNext makes the next call fail with err. Used to simulate RPC errors.
func (l *InMemory) FailNext(err error) {
	l.mu.Lock()
	l.failNext = err
	l.mu.Unlock()
}

func (l *InMemory) RegisterUser(_ context.Context, userID, referrerID string, p Payment) (Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.precheckLocked(); err != nil {
		return Receipt{}, err
	}
	if _, exists := l.users[userID]; exists {
		return Receipt{}, ErrAlreadyRegistered
	}
	if referrerID != "" {
		if _, ok := l.users[referrerID]; !ok {
			referrerID = ""
		}
	}
	l.users[userID] = &memUser{
		User: User{
			UserID:           userID,
			Wallet:           l.address,
			ReferrerID:       referrerID,
			RegistrationTime: l.now().UTC(),
		},
		earned: new(big.Int),
	}
	l.order = append(l.order, userID)
	return l.receiptLocked(p), nil
}

func (l *InMemory) ActivateUser(ctx context.Context, userID string, p Payment) (Receipt, error) {
	return l.activate(ctx, userID, LevelActivated, p)
}

func (l *InMemory) ActivateMiniAdmin(ctx context.Context, userID string, p Payment) (Receipt, error) {
	return l.activate(ctx, userID, LevelMiniAdmin, p)
}

func (l *InMemory) ActivateSuperAdmin(ctx context.Context, userID string, p Payment) (Receipt, error) {
	return l.activate(ctx, userID, LevelSuperAdmin, p)
}

func (l *InMemory) activate(_ context.Context, userID string, level int, p Payment) (Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.precheckLocked(); err != nil {
		return Receipt{}, err
	}
	u, ok := l.users[userID]
	if !ok {
		return Receipt{}, ErrUserNotFound
	}
	paid, err := checkPayment(p.Value, l.prices.ForLevel(level))
	if err != nil {
		return Receipt{}, err
	}

	if level > u.Level {
		u.Level = level
	}
	u.IsActive = true
	if ref, ok := l.users[u.ReferrerID]; ok && paid.Sign() > 0 {
		reward := new(big.Int).Mul(paid, big.NewInt(ReferralRewardPercent))
		ref.earned.Add(ref.earned, reward.Div(reward, big.NewInt(100)))
	}
	return l.receiptLocked(p), nil
}

func (l *InMemory) CreateCard(_ context.Context, userID, cardID, _ string, p Payment) (Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.precheckLocked(); err != nil {
		return Receipt{}, err
	}
	u, ok := l.users[userID]
	if !ok {
		return Receipt{}, ErrUserNotFound
	}
	u.cards = append(u.cards, cardID)
	u.CardCount = len(u.cards)
	return l.receiptLocked(p), nil
}

func (l *InMemory) DeleteCard(_ context.Context, userID, cardID string, p Payment) (Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.precheckLocked(); err != nil {
		return Receipt{}, err
	}
	u, ok := l.users[userID]
	if !ok {
		return Receipt{}, ErrUserNotFound
	}
	idx := slices.Index(u.cards, cardID)
	if idx < 0 {
		return Receipt{}, ErrCardNotFound
	}
	u.cards = slices.Delete(u.cards, idx, idx+1)
	u.CardCount = len(u.cards)
	return l.receiptLocked(p), nil
}

func (l *InMemory) GetUser(_ context.Context, userID string) (User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailureLocked(); err != nil {
		return User{}, err
	}
	u, ok := l.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	out := u.User
	out.TotalEarned = u.earned.String()
	return out, nil
}

func (l *InMemory) GetUserReferrals(_ context.Context, userID string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailureLocked(); err != nil {
		return nil, err
	}
	if _, ok := l.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	var out []string
	for _, id := range l.order {
		if l.users[id].ReferrerID == userID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (l *InMemory) GetUserCards(_ context.Context, userID string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailureLocked(); err != nil {
		return nil, err
	}
	u, ok := l.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return slices.Clone(u.cards), nil
}

// Receipt returns a previously issued receipt.
func (l *InMemory) Receipt(txHash string) (Receipt, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.receipts[txHash]
	return r, ok
}

func (l *InMemory) ChainID(_ context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chainID, nil
}

func (l *InMemory) SwitchNetwork(_ context.Context, chainID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.knownChains[chainID]; !ok {
		return fmt.Errorf("chain 0x%X: %w", chainID, ErrUnknownChain)
	}
	l.chainID = chainID
	return nil
}

func (l *InMemory) AddNetwork(_ context.Context, params NetworkParams) error {
	if params.ChainID <= 0 {
		return fmt.Errorf("invalid chain id %d", params.ChainID)
	}
	l.mu.Lock()
	l.knownChains[params.ChainID] = params
	l.mu.Unlock()
	return nil
}

func (l *InMemory) precheckLocked() error {
	if err := l.takeFailureLocked(); err != nil {
		return err
	}
	if !l.connected {
		return ErrNotConnected
	}
	return nil
}

func (l *InMemory) takeFailureLocked() error {
	err := l.failNext
	l.failNext = nil
	return err
}

func (l *InMemory) receiptLocked(p Payment) Receipt {
	r := Receipt{TxHash: newTxHash(), Status: StatusConfirmed, GasLimit: p.Gas, At: l.now().UTC()}
	l.receipts[r.TxHash] = r
	return r
}

// checkPayment parses value and compares it against price. An empty price
// accepts any payment.
func checkPayment(value, price string) (*big.Int, error) {
	paid := new(big.Int)
	if value != "" {
		if _, ok := paid.SetString(value, 10); !ok {
			return nil, fmt.Errorf("invalid payment value %q", value)
		}
	}
	if price == "" {
		return paid, nil
	}
	want, ok := new(big.Int).SetString(price, 10)
	if !ok {
		return nil, fmt.Errorf("invalid price %q", price)
	}
	if paid.Cmp(want) < 0 {
		return nil, ErrInsufficientPayment
	}
	return paid, nil
}
