package candymachine

import (
	"encoding/json"
	"fmt"
)

// Candy machine v1 custom error codes (Anchor user errors start at 300).
const (
	CodeIncorrectOwner uint32 = 300 + iota
	CodeUninitialized
	CodeMintMismatch
	CodeIndexGreaterThanLength
	CodeConfigMustHaveAtleastOneEntry
	CodeNumericalOverflowError
	CodeTooManyCreators
	CodeUuidMustBeExactly6Length
	CodeNotEnoughTokens
	CodeNotEnoughSOL
	CodeTokenTransferFailed
	CodeCandyMachineEmpty
	CodeCandyMachineNotLiveYet
	CodeConfigLineMismatch
)

var errorNames = map[uint32]string{
	CodeIncorrectOwner:                "IncorrectOwner",
	CodeUninitialized:                 "Uninitialized",
	CodeMintMismatch:                  "MintMismatch",
	CodeIndexGreaterThanLength:        "IndexGreaterThanLength",
	CodeConfigMustHaveAtleastOneEntry: "ConfigMustHaveAtleastOneEntry",
	CodeNumericalOverflowError:        "NumericalOverflowError",
	CodeTooManyCreators:               "TooManyCreators",
	CodeUuidMustBeExactly6Length:      "UuidMustBeExactly6Length",
	CodeNotEnoughTokens:               "NotEnoughTokens",
	CodeNotEnoughSOL:                  "NotEnoughSOL",
	CodeTokenTransferFailed:           "TokenTransferFailed",
	CodeCandyMachineEmpty:             "CandyMachineEmpty",
	CodeCandyMachineNotLiveYet:        "CandyMachineNotLiveYet",
	CodeConfigLineMismatch:            "ConfigLineMismatch",
}

// ErrorName returns the program error name for code, or a hex placeholder.
func ErrorName(code uint32) string {
	if name, ok := errorNames[code]; ok {
		return name
	}
	return fmt.Sprintf("Custom(0x%x)", code)
}

// TxError is a decoded ledger TransactionError.
type TxError struct {
	// Name is the variant, e.g. "InstructionError" or "InsufficientFundsForFee".
	Name string
	// Instruction is the failing instruction index; -1 when not an instruction error.
	Instruction int
	// Custom is the program's custom error code, when the instruction error is Custom.
	Custom *uint32
}

func (e TxError) String() string {
	if e.Custom != nil {
		return fmt.Sprintf("%s[%d]: custom program error 0x%x", e.Name, e.Instruction, *e.Custom)
	}
	if e.Instruction >= 0 {
		return fmt.Sprintf("%s[%d]", e.Name, e.Instruction)
	}
	return e.Name
}

// ParseTxError decodes a TransactionError as serialized by the RPC:
// a bare string ("InsufficientFundsForFee") or a single-key object
// ({"InstructionError":[4,{"Custom":311}]}).
func ParseTxError(raw json.RawMessage) (TxError, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return TxError{}, false
	}

	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return TxError{Name: name, Instruction: -1}, true
	}

	var variant map[string]json.RawMessage
	if err := json.Unmarshal(raw, &variant); err != nil || len(variant) != 1 {
		return TxError{}, false
	}

	for key, body := range variant {
		out := TxError{Name: key, Instruction: -1}
		if key != "InstructionError" {
			return out, true
		}

		var parts []json.RawMessage
		if err := json.Unmarshal(body, &parts); err != nil || len(parts) != 2 {
			return out, true
		}
		if err := json.Unmarshal(parts[0], &out.Instruction); err != nil {
			out.Instruction = -1
			return out, true
		}

		var detail struct {
			Custom *uint32 `json:"Custom"`
		}
		if err := json.Unmarshal(parts[1], &detail); err == nil {
			out.Custom = detail.Custom
		}
		return out, true
	}
	return TxError{}, false
}
