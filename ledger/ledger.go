// Package ledger abstracts the settlement backends the reward core moves
// value through. Exactly one backend variant is active per process, selected
// by configuration: a direct EVM contract client or a permissioned-network
// HTTP gateway. Amounts crossing this boundary are always integers in ledger
// minor units.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"socialcoin/config"
	"socialcoin/observability/metrics"
)

// ErrUnavailable indicates the active backend could not be reached or timed
// out. Workflows may retry; no partial off-chain state is persisted first.
var ErrUnavailable = errors.New("ledger: unavailable")

// CallTimeout bounds every outbound settlement call. Timeouts surface as
// ErrUnavailable.
const CallTimeout = 30 * time.Second

// Client is the uniform settlement contract. Transaction identifiers are
// opaque audit metadata: the gateway variant returns an empty identifier on
// both success and failure, so callers must re-read balances where
// correctness matters.
type Client interface {
	// BalanceOf returns the address balance in minor units.
	BalanceOf(ctx context.Context, address string) (int64, error)
	// Mint credits amount to the target address. Administrator-only by
	// convention; the caller identity and key come from process config.
	Mint(ctx context.Context, caller, callerKey, to string, amount int64) (string, error)
	// Burn debits amount from the target address. Backends may allow the
	// balance to go negative; callers pre-check.
	Burn(ctx context.Context, caller, callerKey, from string, amount int64) (string, error)
	// Transfer moves amount from the caller, signing with the caller's own key.
	Transfer(ctx context.Context, caller, callerKey, to string, amount int64) (string, error)
	// ProcessAction atomically deducts reward from the promoter, credits the
	// collaborator, and emits an on-chain event referencing the action and
	// its proof hash.
	ProcessAction(ctx context.Context, caller, callerKey, promoter, to, actionID string, reward int64, timestamp int64, proofHash string) (string, error)
	// Backend names the active variant for logs and metrics.
	Backend() string
}

// New constructs the configured backend variant.
func New(ctx context.Context, cfg *config.Config) (Client, error) {
	switch cfg.Network {
	case config.NetworkEthereum:
		client, err := DialEVM(ctx, cfg.Ethereum.RPCURL, cfg.Ethereum.ContractAddress)
		if err != nil {
			return nil, err
		}
		return Instrument(client), nil
	case config.NetworkFabric:
		client, err := NewFabricClient(ctx, FabricConfig{
			LoginURL:       cfg.Fabric.LoginURL,
			TransactionURL: cfg.Fabric.TransactionURL,
			User:           cfg.Fabric.AdminUser,
			Password:       cfg.FabricPassword(),
		})
		if err != nil {
			return nil, err
		}
		return Instrument(client), nil
	default:
		return nil, fmt.Errorf("ledger: unknown network %q", cfg.Network)
	}
}

// Instrument wraps a client with settlement metrics.
func Instrument(c Client) Client {
	return &instrumented{next: c, metrics: metrics.Settlement()}
}

type instrumented struct {
	next    Client
	metrics *metrics.SettlementMetrics
}

func (c *instrumented) Backend() string { return c.next.Backend() }

func (c *instrumented) BalanceOf(ctx context.Context, address string) (int64, error) {
	start := time.Now()
	balance, err := c.next.BalanceOf(ctx, address)
	c.metrics.Observe(c.next.Backend(), "balanceOf", start, err)
	return balance, err
}

func (c *instrumented) Mint(ctx context.Context, caller, callerKey, to string, amount int64) (string, error) {
	start := time.Now()
	txID, err := c.next.Mint(ctx, caller, callerKey, to, amount)
	c.metrics.Observe(c.next.Backend(), "mint", start, err)
	return txID, err
}

func (c *instrumented) Burn(ctx context.Context, caller, callerKey, from string, amount int64) (string, error) {
	start := time.Now()
	txID, err := c.next.Burn(ctx, caller, callerKey, from, amount)
	c.metrics.Observe(c.next.Backend(), "burn", start, err)
	return txID, err
}

func (c *instrumented) Transfer(ctx context.Context, caller, callerKey, to string, amount int64) (string, error) {
	start := time.Now()
	txID, err := c.next.Transfer(ctx, caller, callerKey, to, amount)
	c.metrics.Observe(c.next.Backend(), "transfer", start, err)
	return txID, err
}

func (c *instrumented) ProcessAction(ctx context.Context, caller, callerKey, promoter, to, actionID string, reward int64, timestamp int64, proofHash string) (string, error) {
	start := time.Now()
	txID, err := c.next.ProcessAction(ctx, caller, callerKey, promoter, to, actionID, reward, timestamp, proofHash)
	c.metrics.Observe(c.next.Backend(), "processAction", start, err)
	return txID, err
}

func callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, CallTimeout)
}
