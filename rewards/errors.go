package rewards

import "errors"

var (
	ErrNotFound            = errors.New("rewards: not found")
	ErrRecipientNotFound   = errors.New("rewards: recipient not found")
	ErrInsufficientBalance = errors.New("rewards: insufficient balance")
	ErrInvalidKPI          = errors.New("rewards: invalid kpi")
	ErrInvalidTarget       = errors.New("rewards: target below completed units")
	ErrInvalidAmount       = errors.New("rewards: invalid amount")
	// ErrAuditRecord marks a degraded success: the settlement call went
	// through but the off-chain audit row could not be written. The money
	// movement happened; callers surface the gap instead of hiding it.
	ErrAuditRecord = errors.New("rewards: settlement recorded on ledger but audit write failed")
)
