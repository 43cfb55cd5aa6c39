// Package candymachine reads candy machine v1 sale state and builds mint_nft
// transactions against it.
package candymachine

import (
	"crypto/sha256"

	"github.com/blocto/solana-go-sdk/common"
)

// ProgramID is the candy machine v1 program.
var ProgramID = common.PublicKeyFromString("cndyAnrLdpjq1Ssp1z8xxDsB8dxe7u4HL5Nxi2K5WXZ")

// ProgramConfig identifies the sale a mint is submitted against.
type ProgramConfig struct {
	// CandyMachineID is the candy machine account.
	CandyMachineID common.PublicKey
	// Config is the config account holding the item lines.
	Config common.PublicKey
	// Treasury receives the mint price.
	Treasury common.PublicKey
}

// Anchor discriminators.
var (
	candyMachineDiscriminator = anchorDiscriminator("account", "CandyMachine")
	mintNFTDiscriminator      = anchorDiscriminator("global", "mint_nft")
)

// anchorDiscriminator returns the first 8 bytes of sha256("<namespace>:<name>").
func anchorDiscriminator(namespace, name string) [8]byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// AccountDiscriminator returns the 8-byte prefix of a CandyMachine account.
func AccountDiscriminator() []byte {
	return append([]byte{}, candyMachineDiscriminator[:]...)
}
