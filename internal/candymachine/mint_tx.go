package candymachine

import (
	"errors"
	"fmt"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/associated_token_account"
	"github.com/blocto/solana-go-sdk/program/system"
	"github.com/blocto/solana-go-sdk/program/token"
	"github.com/blocto/solana-go-sdk/types"

	"candy-mint/internal/solana"
)

// Instruction positions inside the mint transaction. Transaction errors name
// the failing instruction by index, so classification depends on this order.
const (
	CreateMintAccountIndex = iota
	InitializeMintIndex
	CreateTokenAccountIndex
	MintToIndex
	MintNFTIndex
)

// MintAccountSize is the SPL mint account size.
const MintAccountSize = token.MintAccountSize

// ErrMissingBlockhash is returned when a mint request has no recent blockhash.
var ErrMissingBlockhash = errors.New("missing recent blockhash")

// MintRequest carries everything needed to assemble one mint transaction.
type MintRequest struct {
	Program ProgramConfig
	// Payer is the wallet paying for and receiving the NFT.
	Payer common.PublicKey
	// Mint is a fresh keypair for the new token mint.
	Mint      types.Account
	Blockhash string
	// MintRent is the rent-exempt minimum for MintAccountSize.
	MintRent uint64
}

// MintAddresses are the derived accounts touched by a mint.
type MintAddresses struct {
	Mint          common.PublicKey
	TokenAccount  common.PublicKey
	Metadata      common.PublicKey
	MasterEdition common.PublicKey
}

// DeriveMintAddresses derives the associated token account of payer and the
// Metaplex metadata and master edition PDAs of mint.
func DeriveMintAddresses(payer, mint common.PublicKey) (MintAddresses, error) {
	ata, _, err := solana.FindProgramAddress(
		[][]byte{payer.Bytes(), common.TokenProgramID.Bytes(), mint.Bytes()},
		common.SPLAssociatedTokenAccountProgramID,
	)
	if err != nil {
		return MintAddresses{}, fmt.Errorf("derive token account: %w", err)
	}

	metaSeeds := [][]byte{[]byte("metadata"), common.MetaplexTokenMetaProgramID.Bytes(), mint.Bytes()}
	metadata, _, err := solana.FindProgramAddress(metaSeeds, common.MetaplexTokenMetaProgramID)
	if err != nil {
		return MintAddresses{}, fmt.Errorf("derive metadata: %w", err)
	}

	edition, _, err := solana.FindProgramAddress(append(metaSeeds, []byte("edition")), common.MetaplexTokenMetaProgramID)
	if err != nil {
		return MintAddresses{}, fmt.Errorf("derive master edition: %w", err)
	}

	return MintAddresses{
		Mint:          mint,
		TokenAccount:  ata,
		Metadata:      metadata,
		MasterEdition: edition,
	}, nil
}

// BuildMintTransaction assembles the mint transaction: create and initialize
// the mint, create the payer's token account, mint one token, then mint_nft.
// The returned transaction is signed by the mint keypair only; the payer
// signature is added by the wallet.
func BuildMintTransaction(req MintRequest) (types.Transaction, MintAddresses, error) {
	if req.Blockhash == "" {
		return types.Transaction{}, MintAddresses{}, ErrMissingBlockhash
	}

	mint := req.Mint.PublicKey
	addrs, err := DeriveMintAddresses(req.Payer, mint)
	if err != nil {
		return types.Transaction{}, MintAddresses{}, err
	}

	instructions := []types.Instruction{
		CreateMintAccountIndex: system.CreateAccount(system.CreateAccountParam{
			From:     req.Payer,
			New:      mint,
			Owner:    common.TokenProgramID,
			Lamports: req.MintRent,
			Space:    MintAccountSize,
		}),
		InitializeMintIndex: token.InitializeMint(token.InitializeMintParam{
			Decimals:   0,
			Mint:       mint,
			MintAuth:   req.Payer,
			FreezeAuth: &req.Payer,
		}),
		CreateTokenAccountIndex: associated_token_account.CreateAssociatedTokenAccount(
			associated_token_account.CreateAssociatedTokenAccountParam{
				Funder:                 req.Payer,
				Owner:                  req.Payer,
				Mint:                   mint,
				AssociatedTokenAccount: addrs.TokenAccount,
			},
		),
		MintToIndex: token.MintTo(token.MintToParam{
			Mint:   mint,
			To:     addrs.TokenAccount,
			Auth:   req.Payer,
			Amount: 1,
		}),
		MintNFTIndex: mintNFTInstruction(req.Program, req.Payer, addrs),
	}

	tx, err := types.NewTransaction(types.NewTransactionParam{
		Signers: []types.Account{req.Mint},
		Message: types.NewMessage(types.NewMessageParam{
			FeePayer:        req.Payer,
			RecentBlockhash: req.Blockhash,
			Instructions:    instructions,
		}),
	})
	if err != nil {
		return types.Transaction{}, MintAddresses{}, fmt.Errorf("assemble mint transaction: %w", err)
	}
	return tx, addrs, nil
}

// mintNFTInstruction builds the candy machine mint_nft instruction.
func mintNFTInstruction(program ProgramConfig, payer common.PublicKey, addrs MintAddresses) types.Instruction {
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			{PubKey: program.Config, IsSigner: false, IsWritable: false},
			{PubKey: program.CandyMachineID, IsSigner: false, IsWritable: true},
			{PubKey: payer, IsSigner: true, IsWritable: true},
			{PubKey: program.Treasury, IsSigner: false, IsWritable: true},
			{PubKey: addrs.Mint, IsSigner: false, IsWritable: true},
			{PubKey: addrs.Metadata, IsSigner: false, IsWritable: true},
			{PubKey: addrs.MasterEdition, IsSigner: false, IsWritable: true},
			{PubKey: payer, IsSigner: true, IsWritable: false}, // mint authority
			{PubKey: payer, IsSigner: true, IsWritable: false}, // update authority
			{PubKey: common.MetaplexTokenMetaProgramID, IsSigner: false, IsWritable: false},
			{PubKey: common.TokenProgramID, IsSigner: false, IsWritable: false},
			{PubKey: common.SystemProgramID, IsSigner: false, IsWritable: false},
			{PubKey: common.SysVarRentPubkey, IsSigner: false, IsWritable: false},
			{PubKey: common.SysVarClockPubkey, IsSigner: false, IsWritable: false},
		},
		Data: mintNFTDiscriminator[:],
	}
}
