package deployer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"flashvault/crypto"
	"flashvault/services/gasoracle"
)

// vaultABI covers the constructor and the administrative calls the
// orchestrator issues.
const vaultABI = `[
  {"type":"constructor","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"},{"name":"pool","type":"address"}]},
  {"type":"function","name":"setTokenWhitelist","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"allowed","type":"bool"}],"outputs":[]},
  {"type":"function","name":"setSlippageTolerance","stateMutability":"nonpayable","inputs":[{"name":"bps","type":"uint256"}],"outputs":[]}
]`

var errTxFailed = errors.New("deployer: transaction reverted")

// EVMClient is the subset of the Ethereum RPC used by the EVM target.
type EVMClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// DialEVMClient initialises an EVM RPC client for the provided endpoint.
func DialEVMClient(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// LoadBytecode reads a hex encoded creation bytecode file.
func LoadBytecode(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimPrefix(strings.TrimSpace(string(raw)), "0x")
	code, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode bytecode: %w", err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("bytecode %s is empty", path)
	}
	return code, nil
}

// EVMTarget submits signed legacy transactions to an EVM network.
type EVMTarget struct {
	client   EVMClient
	key      *crypto.PrivateKey
	from     common.Address
	bytecode []byte
	abi      abi.ABI
	network  string
	poll     time.Duration

	mu      sync.Mutex
	chainID *big.Int
}

// NewEVMTarget builds a target signing with key.
func NewEVMTarget(client EVMClient, key *crypto.PrivateKey, bytecode []byte, network string, poll time.Duration) (*EVMTarget, error) {
	if client == nil {
		return nil, fmt.Errorf("evm client required")
	}
	if key == nil || key.PrivateKey == nil {
		return nil, fmt.Errorf("deployer key required")
	}
	parsed, err := abi.JSON(strings.NewReader(vaultABI))
	if err != nil {
		return nil, fmt.Errorf("parse vault abi: %w", err)
	}
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &EVMTarget{
		client:   client,
		key:      key,
		from:     ethcrypto.PubkeyToAddress(key.PublicKey),
		bytecode: append([]byte(nil), bytecode...),
		abi:      parsed,
		network:  network,
		poll:     poll,
	}, nil
}

func (t *EVMTarget) Name() string { return "evm:" + t.network }

func (t *EVMTarget) Deployer() crypto.Address { return crypto.Address(t.from) }

func (t *EVMTarget) Balance(ctx context.Context) (*big.Int, error) {
	return t.client.BalanceAt(ctx, t.from, nil)
}

func (t *EVMTarget) ResolveToken(_ context.Context, tok PlanToken) (crypto.Address, error) {
	if strings.TrimSpace(tok.Address) == "" {
		return crypto.ZeroAddress, fmt.Errorf("deployer: token %s needs an address on %s", tok.Symbol, t.network)
	}
	return crypto.DecodeAddress(tok.Address)
}

func (t *EVMTarget) DeployVault(ctx context.Context, owner, pool crypto.Address) (Receipt, error) {
	args, err := t.abi.Pack("", common.Address(owner), common.Address(pool))
	if err != nil {
		return Receipt{}, fmt.Errorf("pack constructor: %w", err)
	}
	data := append(append([]byte(nil), t.bytecode...), args...)
	return t.send(ctx, nil, data)
}

func (t *EVMTarget) SetTokenWhitelist(ctx context.Context, vault, tok crypto.Address, allowed bool) (Receipt, error) {
	data, err := t.abi.Pack("setTokenWhitelist", common.Address(tok), allowed)
	if err != nil {
		return Receipt{}, fmt.Errorf("pack setTokenWhitelist: %w", err)
	}
	to := common.Address(vault)
	return t.send(ctx, &to, data)
}

func (t *EVMTarget) SetSlippageTolerance(ctx context.Context, vault crypto.Address, bps uint32) (Receipt, error) {
	data, err := t.abi.Pack("setSlippageTolerance", new(big.Int).SetUint64(uint64(bps)))
	if err != nil {
		return Receipt{}, fmt.Errorf("pack setSlippageTolerance: %w", err)
	}
	to := common.Address(vault)
	return t.send(ctx, &to, data)
}

func (t *EVMTarget) chain(ctx context.Context) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.chainID != nil {
		return t.chainID, nil
	}
	id, err := t.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	t.chainID = id
	return id, nil
}

func (t *EVMTarget) send(ctx context.Context, to *common.Address, data []byte) (Receipt, error) {
	chainID, err := t.chain(ctx)
	if err != nil {
		return Receipt{}, err
	}
	nonce, err := t.client.PendingNonceAt(ctx, t.from)
	if err != nil {
		return Receipt{}, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("fetch gas price: %w", err)
	}
	gas, err := t.client.EstimateGas(ctx, ethereum.CallMsg{From: t.from, To: to, GasPrice: gasPrice, Data: data})
	if err != nil {
		return Receipt{}, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas * gasoracle.GasLimitBufferPercent / 100

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(chainID), t.key.PrivateKey)
	if err != nil {
		return Receipt{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := t.client.SendTransaction(ctx, signed); err != nil {
		return Receipt{}, fmt.Errorf("send transaction: %w", err)
	}
	rcpt := Receipt{Ref: signed.Hash().Hex()}
	if to == nil {
		rcpt.Address = crypto.Address(ethcrypto.CreateAddress(t.from, nonce))
	}
	return rcpt, nil
}

// WaitConfirmed polls until the transaction is mined with the requested
// depth, failing fast on a reverted receipt.
func (t *EVMTarget) WaitConfirmed(ctx context.Context, rcpt Receipt, confirmations uint64) error {
	hash := common.HexToHash(rcpt.Ref)
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()
	for {
		done, err := t.confirmed(ctx, hash, confirmations)
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (t *EVMTarget) confirmed(ctx context.Context, hash common.Hash, confirmations uint64) (bool, error) {
	receipt, err := t.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		return false, fmt.Errorf("fetch receipt: %w", err)
	}
	if receipt == nil {
		return false, nil
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return false, fmt.Errorf("%w: %s", errTxFailed, hash.Hex())
	}
	if confirmations == 0 {
		return true, nil
	}
	header, err := t.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("fetch head: %w", err)
	}
	if header == nil || header.Number == nil || receipt.BlockNumber == nil {
		return false, fmt.Errorf("block metadata unavailable")
	}
	if header.Number.Cmp(receipt.BlockNumber) < 0 {
		return false, nil
	}
	depth := new(big.Int).Sub(header.Number, receipt.BlockNumber)
	depth.Add(depth, big.NewInt(1))
	return depth.Cmp(new(big.Int).SetUint64(confirmations)) >= 0, nil
}
