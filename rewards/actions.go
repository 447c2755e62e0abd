package rewards

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"socialcoin/storage"
)

// ActionParams carries the mutable fields of a budgeted action.
type ActionParams struct {
	Name         string
	Description  string
	Reward       decimal.Decimal
	KPITarget    int64
	KPIIndicator string
	CampaignID   uuid.UUID
}

// escrowFor computes the minor-unit obligation still owed for an action
// shape: (target - cumulative) * reward-per-unit.
func escrowFor(reward decimal.Decimal, target, cumulative int64) int64 {
	return ToMinorUnits(reward.Mul(decimal.NewFromInt(target - cumulative)))
}

// CreateAction mints the full future obligation (target * reward) to the
// owning company up front and persists the action with zero completed units.
func (s *Service) CreateAction(ctx context.Context, companyID uuid.UUID, params ActionParams) (*storage.Action, error) {
	if params.KPITarget < 0 {
		return nil, fmt.Errorf("%w: negative target", ErrInvalidTarget)
	}
	if params.Reward.IsNegative() {
		return nil, fmt.Errorf("%w: negative reward", ErrInvalidAmount)
	}
	company, err := s.store.GetUser(ctx, companyID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	escrow := escrowFor(params.Reward, params.KPITarget, 0)

	unlock := s.locks.lock(company.Address)
	defer unlock()

	txID, err := s.ledger.Mint(ctx, s.admin.Address, s.admin.Key, company.Address, escrow)
	if err != nil {
		return nil, err
	}

	auditErr := s.record(ctx, &storage.Transaction{
		Date:            s.now().UTC(),
		Hash:            txID,
		SenderAddress:   s.admin.Address,
		ReceiverAddress: company.Address,
		Quantity:        escrow,
		Info:            InfoActionCreation,
	})

	action := &storage.Action{
		Name:         params.Name,
		Description:  params.Description,
		Reward:       params.Reward,
		KPI:          0,
		KPITarget:    params.KPITarget,
		KPIIndicator: params.KPIIndicator,
		CompanyID:    company.ID,
		CampaignID:   params.CampaignID,
	}
	if err := s.store.CreateAction(ctx, action); err != nil {
		// The escrow is already minted; losing the row now leaves dead escrow
		// on the company balance.
		s.log.Error("action row not persisted after escrow mint",
			"company", company.Address, "escrow", escrow, "error", err)
		return nil, err
	}
	return action, auditErr
}

// EditAction adjusts the escrowed obligation when reward or target change:
// the remaining-obligation delta is minted to or burned from the company.
// Shrinking the target below already-completed units fails with
// ErrInvalidTarget before any ledger call.
func (s *Service) EditAction(ctx context.Context, actionID uuid.UUID, params ActionParams) (*storage.Action, error) {
	action, err := s.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if params.KPITarget < action.KPI {
		return nil, fmt.Errorf("%w: target %d below completed %d", ErrInvalidTarget, params.KPITarget, action.KPI)
	}
	if params.Reward.IsNegative() {
		return nil, fmt.Errorf("%w: negative reward", ErrInvalidAmount)
	}
	company, err := s.store.GetUser(ctx, action.CompanyID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	oldRemaining := escrowFor(action.Reward, action.KPITarget, action.KPI)
	newRemaining := escrowFor(params.Reward, params.KPITarget, action.KPI)
	delta := newRemaining - oldRemaining

	unlock := s.locks.lock(company.Address)
	defer unlock()

	var auditErr error
	if delta != 0 {
		var txID string
		if delta > 0 {
			txID, err = s.ledger.Mint(ctx, s.admin.Address, s.admin.Key, company.Address, delta)
		} else {
			txID, err = s.ledger.Burn(ctx, s.admin.Address, s.admin.Key, company.Address, -delta)
		}
		if err != nil {
			return nil, err
		}

		tx := &storage.Transaction{
			Date:            s.now().UTC(),
			Hash:            txID,
			SenderAddress:   s.admin.Address,
			ReceiverAddress: company.Address,
			Quantity:        delta,
			Info:            InfoActionEdit,
		}
		if delta < 0 {
			tx.SenderAddress, tx.ReceiverAddress = company.Address, s.admin.Address
			tx.Quantity = -delta
		}
		auditErr = s.record(ctx, tx)
	}

	action.Name = params.Name
	action.Description = params.Description
	action.Reward = params.Reward
	action.KPITarget = params.KPITarget
	action.KPIIndicator = params.KPIIndicator
	if params.CampaignID != uuid.Nil {
		action.CampaignID = params.CampaignID
	}
	if err := s.store.SaveAction(ctx, action); err != nil {
		s.log.Error("action row not persisted after escrow adjustment",
			"action", action.ID, "delta", delta, "error", err)
		return nil, err
	}
	return action, auditErr
}

// DeleteAction burns the unconsumed escrow back out of the company balance
// and then removes the record. The delete is aborted when the burn fails, so
// no dead escrow is left behind a missing row.
func (s *Service) DeleteAction(ctx context.Context, actionID uuid.UUID) error {
	action, err := s.store.GetAction(ctx, actionID)
	if err != nil {
		return mapStoreErr(err)
	}
	company, err := s.store.GetUser(ctx, action.CompanyID)
	if err != nil {
		return mapStoreErr(err)
	}

	remaining := escrowFor(action.Reward, action.KPITarget, action.KPI)

	unlock := s.locks.lock(company.Address)
	defer unlock()

	var auditErr error
	if remaining > 0 {
		txID, err := s.ledger.Burn(ctx, s.admin.Address, s.admin.Key, company.Address, remaining)
		if err != nil {
			return err
		}
		auditErr = s.record(ctx, &storage.Transaction{
			Date:            s.now().UTC(),
			Hash:            txID,
			SenderAddress:   company.Address,
			ReceiverAddress: s.admin.Address,
			Quantity:        remaining,
			Info:            InfoActionDeletion,
		})
	}

	if err := s.store.DeleteAction(ctx, action.ID); err != nil {
		s.log.Error("action row not removed after escrow burn",
			"action", action.ID, "burned", remaining, "error", err)
		return err
	}
	return auditErr
}
