// Package rewards is the use-case layer composing balance checks, unit
// conversion, settlement calls, and audit-row persistence for the
// money-moving workflows: reward-for-action, offer redemption, peer transfer,
// and the budgeted-action lifecycle.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"socialcoin/ledger"
	"socialcoin/storage"
)

// Audit classifications, free text in the transaction log.
const (
	InfoActionRegistration = "action registration"
	InfoOfferPayment       = "offer payment"
	InfoPeerTransfer       = "peer transfer"
	InfoActionCreation     = "action creation"
	InfoActionEdit         = "action edit"
	InfoActionDeletion     = "action deletion"
)

// Admin is the process-wide administrator identity used for privileged
// settlement calls (mint, burn, processAction). Read-only after startup.
type Admin struct {
	Address string
	Key     string
}

// Service orchestrates the reward workflows over one active ledger backend
// and the off-chain store.
type Service struct {
	ledger ledger.Client
	store  *storage.Store
	admin  Admin
	log    *slog.Logger
	locks  *accountLocks
	now    func() time.Time
}

func NewService(client ledger.Client, store *storage.Store, admin Admin) *Service {
	return &Service{
		ledger: client,
		store:  store,
		admin:  admin,
		log:    slog.Default().With("component", "rewards"),
		locks:  newAccountLocks(),
		now:    time.Now,
	}
}

// accountLocks serializes settlement sequences per account address so the
// balance read and the mutating call of one workflow cannot interleave with
// another workflow against the same account.
type accountLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{m: make(map[string]*sync.Mutex)}
}

func (l *accountLocks) lock(address string) func() {
	l.mu.Lock()
	am, ok := l.m[address]
	if !ok {
		am = &sync.Mutex{}
		l.m[address] = am
	}
	l.mu.Unlock()
	am.Lock()
	return am.Unlock
}

// RewardResult reports the collaborator's balance movement for a registered
// action completion.
type RewardResult struct {
	OldBalance int64
	NewBalance int64
	Reward     int64
	Units      int64
	TxID       string
}

// RewardAction settles the reward for kpiUnits completed units of an action.
//
// The requested reward is clamped to the promoting company's current balance,
// and kpiUnits is clamped so the cumulative KPI never exceeds the target.
// A degraded success (ledger moved, audit row missing) returns the result
// together with ErrAuditRecord.
func (s *Service) RewardAction(ctx context.Context, actionID, collaboratorID uuid.UUID, kpiUnits int64, proofHash, proofURL string) (*RewardResult, error) {
	if kpiUnits <= 0 {
		return nil, fmt.Errorf("%w: %d units", ErrInvalidKPI, kpiUnits)
	}
	action, err := s.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	company, err := s.store.GetUser(ctx, action.CompanyID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	collaborator, err := s.store.GetUser(ctx, collaboratorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}

	remaining := action.KPITarget - action.KPI
	if remaining <= 0 {
		return nil, fmt.Errorf("%w: target already reached", ErrInvalidKPI)
	}
	if kpiUnits > remaining {
		kpiUnits = remaining
	}

	unlock := s.locks.lock(company.Address)
	defer unlock()

	companyBalance, err := s.ledger.BalanceOf(ctx, company.Address)
	if err != nil {
		return nil, err
	}
	oldBalance, err := s.ledger.BalanceOf(ctx, collaborator.Address)
	if err != nil {
		return nil, err
	}

	reward := ToMinorUnits(action.Reward.Mul(decimal.NewFromInt(kpiUnits)))
	// Never spend more than the company holds; the ledger does not clamp for
	// us on every backend.
	actualReward := reward
	if companyBalance < actualReward {
		actualReward = companyBalance
	}

	txID, err := s.ledger.ProcessAction(ctx, s.admin.Address, s.admin.Key,
		company.Address, collaborator.Address, action.ID.String(),
		actualReward, s.now().Unix(), proofHash)
	if err != nil {
		return nil, err
	}

	result := &RewardResult{
		OldBalance: oldBalance,
		Reward:     actualReward,
		Units:      kpiUnits,
		TxID:       txID,
	}

	auditErr := s.record(ctx, &storage.Transaction{
		Date:            s.now().UTC(),
		Hash:            txID,
		SenderAddress:   company.Address,
		ReceiverAddress: collaborator.Address,
		Quantity:        actualReward,
		Info:            InfoActionRegistration,
		ImgHash:         proofHash,
		ProofURL:        proofURL,
	})

	if err := s.store.IncrementActionKPI(ctx, action.ID, kpiUnits); err != nil {
		s.log.Error("kpi increment failed after settlement", "action", action.ID, "error", err)
		auditErr = fmt.Errorf("%w: %v", ErrAuditRecord, err)
	}

	if newBalance, err := s.ledger.BalanceOf(ctx, collaborator.Address); err == nil {
		result.NewBalance = newBalance
	} else {
		result.NewBalance = oldBalance + actualReward
	}
	return result, auditErr
}

// RedeemOffer burns the offer price from the buyer's balance. The balance
// pre-check makes a short offer fail with ErrInsufficientBalance before any
// ledger call.
func (s *Service) RedeemOffer(ctx context.Context, offerID, buyerID uuid.UUID) error {
	offer, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return mapStoreErr(err)
	}
	buyer, err := s.store.GetUser(ctx, buyerID)
	if err != nil {
		return mapStoreErr(err)
	}
	price := ToMinorUnits(offer.Price)

	unlock := s.locks.lock(buyer.Address)
	defer unlock()

	balance, err := s.ledger.BalanceOf(ctx, buyer.Address)
	if err != nil {
		return err
	}
	if balance < price {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, balance, price)
	}

	txID, err := s.ledger.Burn(ctx, s.admin.Address, s.admin.Key, buyer.Address, price)
	if err != nil {
		return err
	}

	return s.record(ctx, &storage.Transaction{
		Date:            s.now().UTC(),
		Hash:            txID,
		SenderAddress:   buyer.Address,
		ReceiverAddress: s.admin.Address,
		Quantity:        price,
		Info:            InfoOfferPayment,
	})
}

// TransferFunds moves a decimal amount between two participants, signing with
// the sender's own key. Comma decimal separators are accepted.
func (s *Service) TransferFunds(ctx context.Context, senderID uuid.UUID, destinationEmail, rawAmount string) error {
	sender, err := s.store.GetUser(ctx, senderID)
	if err != nil {
		return mapStoreErr(err)
	}
	destination, err := s.store.GetUserByEmail(ctx, destinationEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRecipientNotFound, destinationEmail)
		}
		return err
	}
	amount, err := ParseAmount(rawAmount)
	if err != nil {
		return err
	}
	value := ToMinorUnits(amount)
	if value <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, rawAmount)
	}

	unlock := s.locks.lock(sender.Address)
	defer unlock()

	balance, err := s.ledger.BalanceOf(ctx, sender.Address)
	if err != nil {
		return err
	}
	if balance < value {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, balance, value)
	}

	txID, err := s.ledger.Transfer(ctx, sender.Address, sender.PrivateKey, destination.Address, value)
	if err != nil {
		return err
	}

	return s.record(ctx, &storage.Transaction{
		Date:            s.now().UTC(),
		Hash:            txID,
		SenderAddress:   sender.Address,
		ReceiverAddress: destination.Address,
		Quantity:        value,
		Info:            InfoPeerTransfer,
	})
}

// Balance reads a participant's current ledger balance.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	return s.ledger.BalanceOf(ctx, user.Address)
}

// record writes one audit row after a settlement call returned. A persistence
// failure is the most dangerous error class here: the ledger already moved,
// so it is logged at highest severity and surfaced as ErrAuditRecord, never
// swallowed.
func (s *Service) record(ctx context.Context, tx *storage.Transaction) error {
	if err := s.store.RecordTransaction(ctx, tx); err != nil {
		s.log.Error("audit record write failed after settlement",
			"sender", tx.SenderAddress,
			"receiver", tx.ReceiverAddress,
			"quantity", tx.Quantity,
			"info", tx.Info,
			"error", err,
		)
		return fmt.Errorf("%w: %v", ErrAuditRecord, err)
	}
	return nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
