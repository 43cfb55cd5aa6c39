package candymachine

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/near/borsh-go"
)

// Decoding errors.
var (
	// ErrAccountNotFound is returned when the candy machine account does not exist.
	ErrAccountNotFound = errors.New("candy machine account not found")

	// ErrInvalidDiscriminator is returned when the account is not a CandyMachine.
	ErrInvalidDiscriminator = errors.New("account is not a candy machine")

	// ErrAccountTooShort is returned when account data is shorter than the discriminator.
	ErrAccountTooShort = errors.New("candy machine account data too short")
)

// CandyMachine is the decoded v1 candy machine account.
type CandyMachine struct {
	Authority      common.PublicKey
	Wallet         common.PublicKey
	TokenMint      *common.PublicKey // SPL payment mint; nil for SOL sales
	Config         common.PublicKey
	UUID           string
	Price          uint64 // lamports
	ItemsAvailable uint64
	GoLiveDate     *int64 // unix seconds; nil when unset
	ItemsRedeemed  uint64
	Bump           uint8
}

// Counters returns the sale counters carried by the account.
func (m *CandyMachine) Counters() Counters {
	return Counters{ItemsAvailable: m.ItemsAvailable, ItemsRedeemed: m.ItemsRedeemed}
}

// GoLiveAt returns the go-live date, if set.
func (m *CandyMachine) GoLiveAt() (time.Time, bool) {
	if m.GoLiveDate == nil {
		return time.Time{}, false
	}
	return time.Unix(*m.GoLiveDate, 0), true
}

// Counters are the item counters of a sale.
type Counters struct {
	ItemsAvailable uint64 `json:"itemsAvailable"`
	ItemsRedeemed  uint64 `json:"itemsRedeemed"`
}

// Remaining is ItemsAvailable − ItemsRedeemed, floored at zero.
func (c Counters) Remaining() uint64 {
	if c.ItemsRedeemed >= c.ItemsAvailable {
		return 0
	}
	return c.ItemsAvailable - c.ItemsRedeemed
}

// SoldOut reports whether no items remain.
func (c Counters) SoldOut() bool {
	return c.Remaining() == 0
}

// borsh layout of the on-chain account (after the discriminator).
type candyMachineAccount struct {
	Authority     common.PublicKey
	Wallet        common.PublicKey
	TokenMint     *common.PublicKey
	Config        common.PublicKey
	Data          candyMachineData
	ItemsRedeemed uint64
	Bump          uint8
}

type candyMachineData struct {
	UUID           string
	Price          uint64
	ItemsAvailable uint64
	GoLiveDate     *int64
}

// DecodeCandyMachine decodes raw account data, checking the Anchor discriminator.
// Trailing bytes (unused allocated space) are ignored.
func DecodeCandyMachine(data []byte) (*CandyMachine, error) {
	if len(data) < len(candyMachineDiscriminator) {
		return nil, fmt.Errorf("%w: %d bytes", ErrAccountTooShort, len(data))
	}
	if !bytes.Equal(data[:8], candyMachineDiscriminator[:]) {
		return nil, ErrInvalidDiscriminator
	}

	var acc candyMachineAccount
	if err := borsh.Deserialize(&acc, data[8:]); err != nil {
		return nil, fmt.Errorf("decode candy machine: %w", err)
	}

	return &CandyMachine{
		Authority:      acc.Authority,
		Wallet:         acc.Wallet,
		TokenMint:      acc.TokenMint,
		Config:         acc.Config,
		UUID:           acc.Data.UUID,
		Price:          acc.Data.Price,
		ItemsAvailable: acc.Data.ItemsAvailable,
		GoLiveDate:     acc.Data.GoLiveDate,
		ItemsRedeemed:  acc.ItemsRedeemed,
		Bump:           acc.Bump,
	}, nil
}
