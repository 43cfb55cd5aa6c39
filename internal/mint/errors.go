package mint

import (
	"encoding/json"
	"errors"
	"fmt"

	"candy-mint/internal/candymachine"
	"candy-mint/internal/solana"
)

// Refusals. AttemptMint returns these without submitting anything.
var (
	// ErrWalletDisconnected is returned when the wallet lacks a key or a signing capability.
	ErrWalletDisconnected = errors.New("wallet not connected")

	// ErrSoldOut is returned once the sale has latched sold out.
	ErrSoldOut = errors.New("sale is sold out")

	// ErrNotLive is returned while the sale has not gone live or its state is unknown.
	ErrNotLive = errors.New("sale is not live")

	// ErrAttemptPending is returned while another attempt for the same wallet is in flight.
	ErrAttemptPending = errors.New("mint attempt already pending")
)

// Kind classifies why an attempt did not succeed.
type Kind int

const (
	KindNone Kind = iota
	KindSoldOut
	KindNotLiveYet
	KindInsufficientFunds
	KindTimeout
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSoldOut:
		return "sold_out"
	case KindNotLiveYet:
		return "not_live_yet"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// programErrors maps candy machine custom codes raised by mint_nft.
var programErrors = map[uint32]Kind{
	candymachine.CodeNotEnoughTokens:        KindInsufficientFunds,
	candymachine.CodeNotEnoughSOL:           KindInsufficientFunds,
	candymachine.CodeCandyMachineEmpty:      KindSoldOut,
	candymachine.CodeCandyMachineNotLiveYet: KindNotLiveYet,
}

// systemNegativeLamports is the system program's ResultWithNegativeLamports
// code, raised when the payer cannot fund the new mint account.
const systemNegativeLamports uint32 = 1

// ClassifiedError is a submission or confirmation failure with its Kind.
type ClassifiedError struct {
	Kind Kind
	// Code is the custom program error code, when one was reported.
	Code *uint32
	// Instruction is the failing instruction index, or -1.
	Instruction int
	Err         error
}

func (e *ClassifiedError) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("%s (instruction %d, code 0x%x): %v", e.Kind, e.Instruction, *e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classify maps an error from the submission path onto a Kind. Preflight
// failures carry the transaction error in the JSON-RPC error data.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	var rpcErr *solana.RPCError
	if errors.As(err, &rpcErr) {
		if raw := rpcErr.TransactionError(); raw != nil {
			out := ClassifyTransactionError(raw)
			out.Err = err
			return out
		}
	}
	return &ClassifiedError{Kind: KindUnknown, Instruction: -1, Err: err}
}

// ClassifyTransactionError maps a ledger TransactionError onto a Kind.
// Custom codes are only looked up in the candy machine table when they come
// from the mint_nft instruction; other programs reuse the same numbers.
func ClassifyTransactionError(raw json.RawMessage) *ClassifiedError {
	txErr, ok := candymachine.ParseTxError(raw)
	if !ok {
		return &ClassifiedError{Kind: KindUnknown, Instruction: -1, Err: fmt.Errorf("unrecognized transaction error %s", raw)}
	}

	out := &ClassifiedError{
		Kind:        KindUnknown,
		Code:        txErr.Custom,
		Instruction: txErr.Instruction,
		Err:         fmt.Errorf("transaction error %s", txErr),
	}

	switch {
	case txErr.Name == "InsufficientFundsForFee", txErr.Name == "InsufficientFundsForRent":
		out.Kind = KindInsufficientFunds
	case txErr.Custom == nil:
	case txErr.Instruction == candymachine.MintNFTIndex:
		if kind, ok := programErrors[*txErr.Custom]; ok {
			out.Kind = kind
			out.Err = fmt.Errorf("%s: %w", candymachine.ErrorName(*txErr.Custom), out.Err)
		}
	case txErr.Instruction == candymachine.CreateMintAccountIndex && *txErr.Custom == systemNegativeLamports:
		out.Kind = KindInsufficientFunds
	}
	return out
}
