// Package evm implements the ledger adapter for EVM chains against an
// on-chain HTLC contract. Events are read with eth_getLogs from a block
// cursor; only blocks at least FinalityDepth behind the head are
// surfaced. The contract's timelocks are already Unix seconds, so no
// epoch conversion is needed at this boundary.
package evm

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/chainrelay/swap-coordinator/commit"
	"github.com/chainrelay/swap-coordinator/ledger"
)

// maxLogRange bounds a single eth_getLogs block span.
const maxLogRange = 2048

// Config configures an EVM adapter instance.
type Config struct {
	LedgerID      string `yaml:"ledger_id"`
	RPCURL        string `yaml:"rpc_url"`
	Contract      string `yaml:"contract"`
	PrivateKeyHex string `yaml:"private_key"`
	FinalityDepth uint64 `yaml:"finality_depth"`
	StartBlock    uint64 `yaml:"start_block"`
}

// Adapter talks to an HTLC contract on an EVM chain.
type Adapter struct {
	id        string
	client    *ethclient.Client
	contract  *bind.BoundContract
	abi       abi.ABI
	address   common.Address
	finality  uint64
	transacts *bind.TransactOpts
}

// New dials the RPC endpoint and binds the HTLC contract.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("rpc url is required")
	}

	if cfg.Contract == "" {
		return nil, errors.New("htlc contract address is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errors.Wrap(err, "dial rpc")
	}

	parsedABI, err := abi.JSON(strings.NewReader(htlcABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse abi")
	}

	address := common.HexToAddress(cfg.Contract)
	bound := bind.NewBoundContract(address, parsedABI, cli, cli, cli)

	var txOpts *bind.TransactOpts
	if cfg.PrivateKeyHex != "" {
		pk, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
		if err != nil {
			return nil, errors.Wrap(err, "parse private key")
		}

		chainID, err := cli.ChainID(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "fetch chain id")
		}

		txOpts, err = bind.NewKeyedTransactorWithChainID(pk, chainID)
		if err != nil {
			return nil, errors.Wrap(err, "transactor")
		}
	}

	return &Adapter{
		id:        cfg.LedgerID,
		client:    cli,
		contract:  bound,
		abi:       parsedABI,
		address:   address,
		finality:  cfg.FinalityDepth,
		transacts: txOpts,
	}, nil
}

// LedgerID implements ledger.Adapter.
func (a *Adapter) LedgerID() string {
	return a.id
}

// HashAlgorithm implements ledger.Adapter. EVM HTLC contracts hash
// revealed secrets with keccak256.
func (a *Adapter) HashAlgorithm() string {
	return commit.Keccak256
}

// FinalityDepth implements ledger.Adapter.
func (a *Adapter) FinalityDepth() uint64 {
	return a.finality
}

// classify splits adapter errors into the two failure classes: contract
// reverts are deterministic rejections, everything else is transient RPC
// trouble.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	if strings.Contains(msg, "execution reverted") ||
		strings.Contains(msg, "always failing transaction") {
		return ledger.Rejected(op + ": " + msg)
	}

	return ledger.Unavailable(errors.Wrap(err, op))
}

// Lock implements ledger.Adapter.
func (a *Adapter) Lock(ctx context.Context, params ledger.LockParams) (string, error) {
	if a.transacts == nil {
		return "", errors.New("adapter is read-only")
	}

	opts := *a.transacts
	opts.Context = ctx

	var hashlock [32]byte
	copy(hashlock[:], params.Hashlock)

	if _, err := a.contract.Transact(&opts, "lock",
		common.HexToAddress(params.Receiver),
		common.HexToAddress(params.Asset),
		new(big.Int).SetUint64(params.Amount),
		new(big.Int).SetUint64(params.MinPartialAmount),
		hashlock,
		big.NewInt(params.TimelockExpiry),
	); err != nil {
		return "", classify(err, "lock")
	}

	// The contract derives the lock id from (funder, hashlock, timelock);
	// recompute it locally instead of waiting for the receipt.
	id := crypto.Keccak256Hash(
		opts.From.Bytes(),
		hashlock[:],
		common.LeftPadBytes(big.NewInt(params.TimelockExpiry).Bytes(), 32),
	)

	return id.Hex(), nil
}

// Claim implements ledger.Adapter.
func (a *Adapter) Claim(ctx context.Context, nativeID string, secret []byte, amount uint64) error {
	if a.transacts == nil {
		return errors.New("adapter is read-only")
	}

	opts := *a.transacts
	opts.Context = ctx

	var secret32 [32]byte
	copy(secret32[:], secret)

	_, err := a.contract.Transact(&opts, "claim",
		common.HexToHash(nativeID),
		secret32,
		new(big.Int).SetUint64(amount),
	)

	return classify(err, "claim")
}

// Refund implements ledger.Adapter.
func (a *Adapter) Refund(ctx context.Context, nativeID string) error {
	if a.transacts == nil {
		return errors.New("adapter is read-only")
	}

	opts := *a.transacts
	opts.Context = ctx

	_, err := a.contract.Transact(&opts, "refund", common.HexToHash(nativeID))

	return classify(err, "refund")
}

// Get implements ledger.Adapter.
func (a *Adapter) Get(ctx context.Context, nativeID string) (*ledger.HTLCState, error) {
	var out []interface{}
	err := a.contract.Call(
		&bind.CallOpts{Context: ctx},
		&out,
		"getLock",
		common.HexToHash(nativeID),
	)
	if err != nil {
		return nil, classify(err, "getLock")
	}

	if len(out) < 8 {
		return nil, errors.Errorf("getLock returned %d values", len(out))
	}

	amount := out[2].(*big.Int)
	if amount.Sign() == 0 {
		return nil, nil
	}

	hashlock := out[4].([32]byte)
	return &ledger.HTLCState{
		NativeID:        nativeID,
		Sender:          out[0].(common.Address).Hex(),
		Receiver:        out[1].(common.Address).Hex(),
		Amount:          amount.Uint64(),
		LockedRemaining: out[3].(*big.Int).Uint64(),
		Hashlock:        hashlock[:],
		TimelockExpiry:  out[5].(*big.Int).Int64(),
		Claimed:         out[6].(bool),
		Refunded:        out[7].(bool),
	}, nil
}

// Events implements ledger.Adapter. The cursor is the last fully
// processed block number.
func (a *Adapter) Events(ctx context.Context, cursor uint64) ([]ledger.Event, uint64, error) {
	head, err := a.client.BlockNumber(ctx)
	if err != nil {
		return nil, cursor, ledger.Unavailable(errors.Wrap(err, "block number"))
	}

	if head < a.finality {
		return nil, cursor, nil
	}

	safe := head - a.finality
	if safe <= cursor {
		return nil, cursor, nil
	}

	from := cursor + 1
	to := safe
	if to-from > maxLogRange {
		to = from + maxLogRange
	}

	logs, err := a.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{a.address},
	})
	if err != nil {
		return nil, cursor, ledger.Unavailable(errors.Wrap(err, "filter logs"))
	}

	var events []ledger.Event
	for _, lg := range logs {
		ev, err := a.decodeLog(lg)
		if err != nil {
			return nil, cursor, err
		}

		if ev != nil {
			events = append(events, *ev)
		}
	}

	return events, to, nil
}

// eventCursor packs the block number with the intra-block log index so
// two claims of the same lock landing in one block keep distinct
// idempotency keys. The checkpoint cursor stays block-granular.
func eventCursor(blockNumber uint64, index uint) uint64 {
	return blockNumber<<16 | uint64(index)&0xffff
}

func (a *Adapter) decodeLog(lg types.Log) (*ledger.Event, error) {
	if len(lg.Topics) < 2 {
		return nil, nil
	}

	nativeID := lg.Topics[1].Hex()
	switch lg.Topics[0] {
	case a.abi.Events["Locked"].ID:
		fields := map[string]interface{}{}
		if err := a.abi.UnpackIntoMap(fields, "Locked", lg.Data); err != nil {
			return nil, errors.Wrap(err, "unpack Locked")
		}

		hashlock := fields["hashlock"].([32]byte)
		destHashlock := fields["destHashlock"].([32]byte)
		return &ledger.Event{
			Type:     ledger.EventLocked,
			LedgerID: a.id,
			NativeID: nativeID,
			Cursor:   eventCursor(lg.BlockNumber, lg.Index),
			Lock: &ledger.LockDetails{
				Sender:             fields["sender"].(common.Address).Hex(),
				Receiver:           fields["receiver"].(common.Address).Hex(),
				Asset:              fields["token"].(common.Address).Hex(),
				Amount:             fields["amount"].(*big.Int).Uint64(),
				MinPartialAmount:   fields["minFill"].(*big.Int).Uint64(),
				Hashlock:           hashlock[:],
				HashAlgorithm:      commit.Keccak256,
				TimelockExpiry:     fields["timelock"].(*big.Int).Int64(),
				DestLedgerID:       fields["destLedger"].(string),
				DestReceiver:       fields["destReceiver"].(string),
				DestAsset:          fields["destAsset"].(string),
				DestAmount:         fields["destAmount"].(*big.Int).Uint64(),
				DestHashlock:       destHashlock[:],
				DestTimelockExpiry: fields["destTimelock"].(*big.Int).Int64(),
			},
		}, nil

	case a.abi.Events["Claimed"].ID:
		fields := map[string]interface{}{}
		if err := a.abi.UnpackIntoMap(fields, "Claimed", lg.Data); err != nil {
			return nil, errors.Wrap(err, "unpack Claimed")
		}

		secret := fields["secret"].([32]byte)
		return &ledger.Event{
			Type:     ledger.EventClaimed,
			LedgerID: a.id,
			NativeID: nativeID,
			Cursor:   eventCursor(lg.BlockNumber, lg.Index),
			Secret:   secret[:],
			Amount:   fields["amount"].(*big.Int).Uint64(),
		}, nil

	case a.abi.Events["Refunded"].ID:
		return &ledger.Event{
			Type:     ledger.EventRefunded,
			LedgerID: a.id,
			NativeID: nativeID,
			Cursor:   eventCursor(lg.BlockNumber, lg.Index),
		}, nil
	}

	return nil, nil
}
