package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

// TxBackend is the subset of an Ethereum RPC client needed to send a
// transaction and wait for its receipt. *ethclient.Client satisfies it.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// OracleConfig configures the settlement transaction sender.
type OracleConfig struct {
	Address        common.Address
	ChainID        *big.Int
	GasLimit       uint64 // zero means estimate
	CallTimeout    time.Duration
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// OracleClient sends receiveSettlement transactions from a single account.
// It does not serialize callers; the settlement submitter owns that.
type OracleClient struct {
	backend TxBackend
	key     *ecdsa.PrivateKey
	from    common.Address
	cfg     OracleConfig
	abi     abi.ABI
	signer  types.Signer
	logger  *slog.Logger
}

// NewOracleClient creates an OracleClient signing with key.
func NewOracleClient(backend TxBackend, key *ecdsa.PrivateKey, cfg OracleConfig, logger *slog.Logger) (*OracleClient, error) {
	parsed, err := OracleABI()
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, errors.New("chain: oracle: signing key is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("chain: oracle: chain id is required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	return &OracleClient{
		backend: backend,
		key:     key,
		from:    ethcrypto.PubkeyToAddress(key.PublicKey),
		cfg:     cfg,
		abi:     parsed,
		signer:  types.LatestSignerForChainID(cfg.ChainID),
		logger:  logger.With(slog.String("component", "oracle_client")),
	}, nil
}

// From returns the sending account.
func (o *OracleClient) From() common.Address {
	return o.from
}

// ReceiveSettlement encodes sub as receiveSettlement(marketId, outcome, proof),
// signs and sends it, and waits for the receipt. A mined transaction with a
// failed status returns domain.ErrTxReverted alongside the result.
func (o *OracleClient) ReceiveSettlement(ctx context.Context, sub domain.SettlementSubmission) (domain.TxResult, error) {
	proof := sub.Proof
	if proof == nil {
		proof = []byte{}
	}
	data, err := o.abi.Pack("receiveSettlement", new(big.Int).SetUint64(sub.MarketID), sub.Outcome, proof)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("chain: pack receiveSettlement: %w", err)
	}

	signed, err := o.buildTx(ctx, data)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("chain: settle market %d: %w", sub.MarketID, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	err = o.backend.SendTransaction(sendCtx, signed)
	cancel()
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("chain: settle market %d: send: %w", sub.MarketID, err)
	}

	hash := signed.Hash()
	o.logger.InfoContext(ctx, "settlement tx sent",
		slog.Uint64("market_id", sub.MarketID),
		slog.String("tx_hash", hash.Hex()),
		slog.Uint64("nonce", signed.Nonce()),
	)

	receipt, err := o.waitReceipt(ctx, hash)
	if err != nil {
		return domain.TxResult{TxHash: hash.Hex()}, fmt.Errorf("chain: settle market %d: %w", sub.MarketID, err)
	}

	result := domain.TxResult{
		TxHash:  hash.Hex(),
		GasUsed: receipt.GasUsed,
		Status:  receipt.Status,
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return result, fmt.Errorf("chain: settle market %d: tx %s: %w", sub.MarketID, hash.Hex(), domain.ErrTxReverted)
	}
	return result, nil
}

// buildTx fetches nonce and gas parameters and returns a signed legacy
// transaction calling the oracle with data.
func (o *OracleClient) buildTx(ctx context.Context, data []byte) (*types.Transaction, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	nonce, err := o.backend.PendingNonceAt(callCtx, o.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := o.backend.SuggestGasPrice(callCtx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}

	gas := o.cfg.GasLimit
	if gas == 0 {
		est, err := o.backend.EstimateGas(callCtx, ethereum.CallMsg{
			From:     o.from,
			To:       &o.cfg.Address,
			GasPrice: gasPrice,
			Data:     data,
		})
		if err != nil {
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
		gas = est + est/5
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &o.cfg.Address,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, o.signer, o.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return signed, nil
}

// waitReceipt polls for the receipt of hash until it is mined or the receipt
// timeout elapses. RPC errors other than not-found are retried.
func (o *OracleClient) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := o.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			o.logger.DebugContext(ctx, "receipt poll failed",
				slog.String("tx_hash", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("tx %s: %w", hash.Hex(), domain.ErrTxTimeout)
		case <-ticker.C:
		}
	}
}
