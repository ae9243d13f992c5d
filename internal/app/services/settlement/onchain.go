package settlement

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/wowgifts/giftlink/pkg/logger"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

const transferGasLimit = 100000

// ChainExecutor settles gifts by sending ERC-20 transfers from a relayer
// account that custodies the escrowed funds.
type ChainExecutor struct {
	client      *ethclient.Client
	chainID     *big.Int
	relayerKey  *ecdsa.PrivateKey
	relayerAddr common.Address
	erc20       abi.ABI
	log         *logger.Logger

	decMu    sync.Mutex
	decimals map[common.Address]int
}

// NewChainExecutor dials rpcURL and prepares the relayer account identified
// by relayerKeyHex.
func NewChainExecutor(ctx context.Context, rpcURL, relayerKeyHex string, log *logger.Logger) (*ChainExecutor, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("chain rpc url required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(relayerKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse relayer key: %w", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	if log == nil {
		log = logger.NewDefault("settlement-chain")
	}
	return &ChainExecutor{
		client:      client,
		chainID:     chainID,
		relayerKey:  key,
		relayerAddr: crypto.PubkeyToAddress(key.PublicKey),
		erc20:       parsed,
		log:         log,
		decimals:    make(map[common.Address]int),
	}, nil
}

var _ Executor = (*ChainExecutor)(nil)

// Close releases the underlying RPC connection.
func (c *ChainExecutor) Close() { c.client.Close() }

// Authorize verifies the relayer account holds enough of the token to cover
// the gift. The relayer custodies escrow, so a later transfer can only fail
// if the balance drains between creation and claim.
func (c *ChainExecutor) Authorize(ctx context.Context, senderAddress, tokenAddress, amount string) error {
	token := common.HexToAddress(tokenAddress)
	units, err := c.toUnits(ctx, token, amount)
	if err != nil {
		return err
	}

	balance, err := c.balanceOf(ctx, token, c.relayerAddr)
	if err != nil {
		return fmt.Errorf("query escrow balance: %w", err)
	}
	if balance.Cmp(units) < 0 {
		return fmt.Errorf("%w: escrow balance %s below %s", ErrRejected, balance, units)
	}
	return nil
}

// Settle sends an ERC-20 transfer of amount to recipient and waits for the
// receipt.
func (c *ChainExecutor) Settle(ctx context.Context, recipient, tokenAddress, amount string) (Receipt, error) {
	token := common.HexToAddress(tokenAddress)
	units, err := c.toUnits(ctx, token, amount)
	if err != nil {
		return Receipt{}, err
	}

	data, err := c.erc20.Pack("transfer", common.HexToAddress(recipient), units)
	if err != nil {
		return Receipt{}, fmt.Errorf("pack transfer: %w", err)
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.relayerAddr)
	if err != nil {
		return Receipt{}, fmt.Errorf("query nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("suggest gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, token, big.NewInt(0), transferGasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.relayerKey)
	if err != nil {
		return Receipt{}, fmt.Errorf("sign transfer: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return Receipt{}, fmt.Errorf("send transfer: %w", err)
	}

	hash := signed.Hash()
	c.log.WithField("tx", hash.Hex()).WithField("recipient", recipient).Info("transfer submitted")

	receipt, err := c.waitMined(ctx, hash)
	if err != nil {
		return Receipt{}, fmt.Errorf("await transfer %s: %w", hash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Receipt{}, fmt.Errorf("%w: transfer %s reverted", ErrRejected, hash.Hex())
	}
	return Receipt{TxHash: hash.Hex(), Message: "settled on chain"}, nil
}

func (c *ChainExecutor) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if err != ethereum.NotFound {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (c *ChainExecutor) toUnits(ctx context.Context, token common.Address, amount string) (*big.Int, error) {
	decimals, err := c.tokenDecimals(ctx, token)
	if err != nil {
		return nil, err
	}
	return ParseUnits(amount, decimals)
}

func (c *ChainExecutor) tokenDecimals(ctx context.Context, token common.Address) (int, error) {
	c.decMu.Lock()
	if d, ok := c.decimals[token]; ok {
		c.decMu.Unlock()
		return d, nil
	}
	c.decMu.Unlock()

	data, err := c.erc20.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("pack decimals: %w", err)
	}
	raw, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("query decimals: %w", err)
	}
	var out uint8
	if err := c.erc20.UnpackIntoInterface(&out, "decimals", raw); err != nil {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}

	c.decMu.Lock()
	c.decimals[token] = int(out)
	c.decMu.Unlock()
	return int(out), nil
}

func (c *ChainExecutor) balanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := c.erc20.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	raw, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	out := new(big.Int)
	if err := c.erc20.UnpackIntoInterface(&out, "balanceOf", raw); err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	return out, nil
}
