package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"socialcoin/crypto"
)

type fakeBackend struct {
	balance   *big.Int
	nonce     uint64
	callErr   error
	sendErr   error
	sent      []*gethtypes.Transaction
	estimated bool
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return b.nonce, nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.estimated = true
	return 0, errors.New("estimation unsupported")
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if b.callErr != nil {
		return nil, b.callErr
	}
	return common.LeftPadBytes(b.balance.Bytes(), 32), nil
}

var testContract = common.HexToAddress("0x00000000000000000000000000000000000000cc")

func newTestEVMClient(t *testing.T, backend *fakeBackend) *EVMClient {
	t.Helper()
	client, err := NewEVMClient(backend, testContract, big.NewInt(1337))
	require.NoError(t, err)
	return client
}

func TestEVMBalanceOf(t *testing.T) {
	backend := &fakeBackend{balance: big.NewInt(2500)}
	client := newTestEVMClient(t, backend)

	balance, err := client.BalanceOf(context.Background(), "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	require.Equal(t, int64(2500), balance)

	// Idempotent with no intervening mutation.
	again, err := client.BalanceOf(context.Background(), "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	require.Equal(t, balance, again)
}

func TestEVMBalanceOfOverflowRejected(t *testing.T) {
	over := new(big.Int).Lsh(big.NewInt(1), 70)
	backend := &fakeBackend{balance: over}
	client := newTestEVMClient(t, backend)

	_, err := client.BalanceOf(context.Background(), "0x00000000000000000000000000000000000000aa")
	require.ErrorContains(t, err, "overflows")
}

func TestEVMBalanceOfUnavailable(t *testing.T) {
	backend := &fakeBackend{callErr: errors.New("connection refused")}
	client := newTestEVMClient(t, backend)

	_, err := client.BalanceOf(context.Background(), "0x00000000000000000000000000000000000000aa")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestEVMMintSignsAndSubmits(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	backend := &fakeBackend{nonce: 7}
	client := newTestEVMClient(t, backend)

	txID, err := client.Mint(context.Background(), kp.Address, kp.PrivateKey, "0x00000000000000000000000000000000000000bb", 1500)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	require.Equal(t, txID, tx.Hash().Hex())
	require.Equal(t, uint64(7), tx.Nonce())
	require.Equal(t, testContract, *tx.To())
	// Estimation failed, so the fixed fallback limit applies.
	require.True(t, backend.estimated)
	require.Equal(t, uint64(defaultGasLimit), tx.Gas())

	// The call data targets the mint method.
	require.Equal(t, client.abi.Methods["mint"].ID, tx.Data()[:4])

	// The signature must recover to the caller.
	sender, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(big.NewInt(1337)), tx)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(kp.Address), sender)
}

func TestEVMSendFailureIsUnavailable(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	backend := &fakeBackend{sendErr: errors.New("timeout")}
	client := newTestEVMClient(t, backend)

	_, err = client.Burn(context.Background(), kp.Address, kp.PrivateKey, "0x00000000000000000000000000000000000000bb", 10)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestEVMProcessActionPacksProofHash(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	backend := &fakeBackend{}
	client := newTestEVMClient(t, backend)

	_, err = client.ProcessAction(context.Background(), kp.Address, kp.PrivateKey,
		"0x00000000000000000000000000000000000000aa",
		"0x00000000000000000000000000000000000000bb",
		"action-1", 1500, 1700000000, "0x1234")
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	require.Equal(t, client.abi.Methods["processAction"].ID, backend.sent[0].Data()[:4])
}

func TestProofHashWord(t *testing.T) {
	zero, err := proofHashWord("")
	require.NoError(t, err)
	require.Equal(t, [32]byte{}, zero)

	word, err := proofHashWord("0xff")
	require.NoError(t, err)
	require.Equal(t, byte(0xff), word[31])

	_, err = proofHashWord("0xzz")
	require.Error(t, err)

	_, err = proofHashWord("0x" + common.Bytes2Hex(make([]byte, 33)))
	require.Error(t, err)
}
