package mint

// Severity of an Outcome.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// User-facing messages.
const (
	MessageSuccess           = "Congratulations! Mint succeeded!"
	MessageSoldOut           = "SOLD OUT!"
	MessageNotLiveYet        = "Minting period hasn't started yet."
	MessageInsufficientFunds = "Insufficient funds to mint. Please fund your wallet."
	MessageSubmitFailed      = "Minting failed! Please try again!"
	MessageMintFailed        = "Mint failed! Please try again!"
)

// Outcome is the single result reported for one attempt.
type Outcome struct {
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Kind      Kind     `json:"kind"`
	AttemptID string   `json:"attemptId,omitempty"`
	Signature string   `json:"signature,omitempty"`
}

// Success reports whether the mint was confirmed.
func (o Outcome) Success() bool {
	return o.Severity == SeveritySuccess
}

func successOutcome() Outcome {
	return Outcome{Severity: SeveritySuccess, Message: MessageSuccess, Kind: KindNone}
}

func timeoutOutcome() Outcome {
	return Outcome{Severity: SeverityError, Message: MessageMintFailed, Kind: KindTimeout}
}

// failureOutcome renders a classified failure. Unknown failures read
// differently depending on whether the transaction ever reached the ledger.
func failureOutcome(kind Kind, landed bool) Outcome {
	switch kind {
	case KindSoldOut:
		return Outcome{Severity: SeverityError, Message: MessageSoldOut, Kind: kind}
	case KindNotLiveYet:
		return Outcome{Severity: SeverityWarning, Message: MessageNotLiveYet, Kind: kind}
	case KindInsufficientFunds:
		return Outcome{Severity: SeverityError, Message: MessageInsufficientFunds, Kind: kind}
	case KindTimeout:
		return timeoutOutcome()
	}
	if landed {
		return Outcome{Severity: SeverityError, Message: MessageMintFailed, Kind: KindUnknown}
	}
	return Outcome{Severity: SeverityError, Message: MessageSubmitFailed, Kind: KindUnknown}
}
