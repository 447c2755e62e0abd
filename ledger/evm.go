package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"socialcoin/crypto"
)

// The token contract is opaque beyond this fixed operation set.
const contractABI = `[
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"mint","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[]},
  {"name":"burn","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"value","type":"uint256"}],"outputs":[]},
  {"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"processAction","type":"function","stateMutability":"nonpayable","inputs":[{"name":"promoter","type":"address"},{"name":"to","type":"address"},{"name":"actionId","type":"string"},{"name":"reward","type":"uint256"},{"name":"time","type":"uint256"},{"name":"ipfsHash","type":"bytes32"}],"outputs":[]}
]`

// Gas limit used when estimation is not answered by the node.
const defaultGasLimit = 10_000_000

// EVMBackend is the subset of the Ethereum RPC the direct-contract variant
// uses. *ethclient.Client satisfies it; tests substitute a fake.
type EVMBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EVMClient settles against a fixed token contract on an EVM chain. Each
// mutating call fetches the caller's pending nonce, signs locally with the
// supplied key, and submits raw. The returned identifier is the submission
// hash, not proof of finality.
type EVMClient struct {
	backend  EVMBackend
	contract common.Address
	chainID  *big.Int
	abi      abi.ABI
}

// DialEVM connects to the node and resolves the chain id used for signing.
func DialEVM(ctx context.Context, rpcURL, contractAddress string) (*EVMClient, error) {
	trimmed := strings.TrimSpace(rpcURL)
	if trimmed == "" {
		return nil, fmt.Errorf("ledger: evm rpc url required")
	}
	client, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, trimmed, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: chain id: %v", ErrUnavailable, err)
	}
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("ledger: invalid contract address %q", contractAddress)
	}
	return NewEVMClient(client, common.HexToAddress(contractAddress), chainID)
}

// NewEVMClient wires an already-dialed backend. Exposed for tests.
func NewEVMClient(backend EVMBackend, contract common.Address, chainID *big.Int) (*EVMClient, error) {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse contract abi: %w", err)
	}
	return &EVMClient{backend: backend, contract: contract, chainID: chainID, abi: parsed}, nil
}

func (c *EVMClient) Backend() string { return "ethereum" }

func (c *EVMClient) BalanceOf(ctx context.Context, address string) (int64, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	addr, err := crypto.DecodeAddress(address)
	if err != nil {
		return 0, err
	}
	data, err := c.abi.Pack("balanceOf", common.BytesToAddress(addr.Bytes()))
	if err != nil {
		return 0, fmt.Errorf("ledger: pack balanceOf: %w", err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: balanceOf: %v", ErrUnavailable, err)
	}
	values, err := c.abi.Unpack("balanceOf", out)
	if err != nil || len(values) != 1 {
		return 0, fmt.Errorf("ledger: unpack balanceOf: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("ledger: unexpected balanceOf result %T", values[0])
	}
	if !balance.IsInt64() {
		return 0, fmt.Errorf("ledger: balance %s overflows int64 minor units", balance)
	}
	return balance.Int64(), nil
}

func (c *EVMClient) Mint(ctx context.Context, caller, callerKey, to string, amount int64) (string, error) {
	return c.submit(ctx, caller, callerKey, "mint", toEVMAddress(to), big.NewInt(amount))
}

func (c *EVMClient) Burn(ctx context.Context, caller, callerKey, from string, amount int64) (string, error) {
	return c.submit(ctx, caller, callerKey, "burn", toEVMAddress(from), big.NewInt(amount))
}

func (c *EVMClient) Transfer(ctx context.Context, caller, callerKey, to string, amount int64) (string, error) {
	return c.submit(ctx, caller, callerKey, "transfer", toEVMAddress(to), big.NewInt(amount))
}

func (c *EVMClient) ProcessAction(ctx context.Context, caller, callerKey, promoter, to, actionID string, reward int64, timestamp int64, proofHash string) (string, error) {
	hash, err := proofHashWord(proofHash)
	if err != nil {
		return "", err
	}
	return c.submit(ctx, caller, callerKey, "processAction",
		toEVMAddress(promoter), toEVMAddress(to), actionID,
		big.NewInt(reward), big.NewInt(timestamp), hash)
}

// submit packs, signs, and sends one contract call, returning the submission
// hash once the node accepts the transaction for inclusion.
func (c *EVMClient) submit(ctx context.Context, caller, callerKey, method string, args ...interface{}) (string, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	from := toEVMAddress(caller)
	key, err := crypto.PrivateKeyFromHex(callerKey)
	if err != nil {
		return "", fmt.Errorf("ledger: caller key: %w", err)
	}

	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("ledger: pack %s: %w", method, err)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("%w: pending nonce: %v", ErrUnavailable, err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: gas price: %v", ErrUnavailable, err)
	}
	gasLimit, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &c.contract, Data: data})
	if err != nil {
		gasLimit = defaultGasLimit
	}

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(c.chainID), key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("ledger: sign %s: %w", method, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("%w: send %s: %v", ErrUnavailable, method, err)
	}
	return signed.Hash().Hex(), nil
}

func toEVMAddress(s string) common.Address {
	return common.HexToAddress(strings.TrimSpace(s))
}

// proofHashWord turns the hex-encoded content hash into the 32-byte word the
// contract stores. An empty proof maps to the zero word.
func proofHashWord(proofHash string) ([32]byte, error) {
	var word [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(proofHash), "0x")
	if trimmed == "" {
		return word, nil
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return word, fmt.Errorf("ledger: invalid proof hash: %w", err)
	}
	if len(raw) > 32 {
		return word, fmt.Errorf("ledger: proof hash exceeds 32 bytes")
	}
	copy(word[32-len(raw):], raw)
	return word, nil
}
