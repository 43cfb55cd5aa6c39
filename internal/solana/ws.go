package solana

import "context"

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeAccount subscribes to data changes of a single account.
	SubscribeAccount(ctx context.Context, filter AccountFilter) (<-chan AccountNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// AccountFilter selects the account to watch.
type AccountFilter struct {
	// Account is the base58 address of the watched account.
	Account string
	// Commitment defaults to confirmed.
	Commitment Commitment
}

// AccountNotification represents an accountSubscribe message.
type AccountNotification struct {
	Slot    int64
	Account *AccountInfo
}
