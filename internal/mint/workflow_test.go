package mint

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candy-mint/internal/candymachine"
	"candy-mint/internal/sale"
	"candy-mint/internal/solana"
	"candy-mint/internal/solana/stub"
	"candy-mint/internal/wallet"
)

const payerBalance = 5 * solana.LamportsPerSOL

type harness struct {
	ledger  *stub.Ledger
	model   *sale.Model
	wf      *Workflow
	payer   *wallet.Keypair
	program candymachine.ProgramConfig
}

// candyMachineAccount encodes a live v1 candy machine account.
func candyMachineAccount(available, redeemed uint64) *solana.AccountInfo {
	return candyMachineAccountAt(available, redeemed, time.Now().Add(-time.Hour))
}

// candyMachineAccountAt encodes a v1 candy machine account going live at goLive.
func candyMachineAccountAt(available, redeemed uint64, goLive time.Time) *solana.AccountInfo {
	u64 := func(v uint64) []byte {
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, v)
		return b
	}

	data := candymachine.AccountDiscriminator()
	data = append(data, make([]byte, 64)...)
	data = append(data, 0)
	data = append(data, make([]byte, 32)...)
	data = append(data, 6, 0, 0, 0)
	data = append(data, "ABCDEF"...)
	data = append(data, u64(solana.LamportsPerSOL)...)
	data = append(data, u64(available)...)
	data = append(data, 1)
	data = append(data, u64(uint64(goLive.Unix()))...)
	data = append(data, u64(redeemed)...)
	data = append(data, 255)

	return &solana.AccountInfo{
		Owner: candymachine.ProgramID.ToBase58(),
		Data:  base64.StdEncoding.EncodeToString(data),
	}
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()

	h := &harness{
		ledger: stub.NewLedger(),
		payer:  wallet.NewKeypair(types.NewAccount()),
		program: candymachine.ProgramConfig{
			CandyMachineID: types.NewAccount().PublicKey,
			Config:         types.NewAccount().PublicKey,
			Treasury:       types.NewAccount().PublicKey,
		},
	}
	h.ledger.Balances[h.payer.PublicKey().ToBase58()] = payerBalance
	h.ledger.SetAccount(h.program.CandyMachineID.ToBase58(), candyMachineAccount(100, 10))

	h.model = sale.NewModel()
	syncer := sale.NewSyncer(candymachine.NewReader(h.ledger), h.model, sale.SyncerConfig{
		CandyMachineID: h.program.CandyMachineID,
	})
	_, err := syncer.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, sale.Live, h.model.State())

	if config.PollInterval == 0 {
		config.PollInterval = time.Millisecond
	}
	if config.TxTimeout == 0 {
		config.TxTimeout = time.Second
	}
	h.wf = NewWorkflow(h.ledger, syncer, config)
	return h
}

func (h *harness) attempt(t *testing.T) Outcome {
	t.Helper()
	out, err := h.wf.AttemptMint(context.Background(), h.payer, h.program)
	require.NoError(t, err)
	return out
}

// assertFinished checks the work every exit path must do.
func (h *harness) assertFinished(t *testing.T) {
	t.Helper()
	assert.Equal(t, 1, h.ledger.Calls("getBalance"), "balance read exactly once")
	assert.Equal(t, 2, h.ledger.Calls("getAccountInfo"), "sale state refreshed after the attempt")
	assert.False(t, h.wf.Pending(h.payer.PublicKey()), "pending cleared")
	assert.LessOrEqual(t, h.ledger.Calls("sendTransaction"), 1, "at most one submission")
}

func preflightError(raw string) error {
	return &solana.RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed",
		Data:    json.RawMessage(`{"err":` + raw + `,"logs":[]}`),
	}
}

func TestAttemptMint_Success(t *testing.T) {
	h := newHarness(t, Config{})
	h.ledger.StatusScript = []stub.StatusStep{{Status: stub.Confirmed(solana.CommitmentConfirmed)}}

	// The mint lands and bumps the redeemed counter.
	h.ledger.SendFunc = func(context.Context, []byte) (string, error) {
		h.ledger.SetAccount(h.program.CandyMachineID.ToBase58(), candyMachineAccount(100, 11))
		return "5xMintSig", nil
	}

	out := h.attempt(t)

	assert.Equal(t, SeveritySuccess, out.Severity)
	assert.Equal(t, MessageSuccess, out.Message)
	assert.Equal(t, "5xMintSig", out.Signature)
	assert.NotEmpty(t, out.AttemptID)
	h.assertFinished(t)

	assert.Equal(t, 1, h.ledger.Calls("sendTransaction"))
	assert.Equal(t, uint64(11), h.model.Status().Counters.ItemsRedeemed)

	balance, ok := h.wf.Balance(h.payer.PublicKey())
	assert.True(t, ok)
	assert.Equal(t, uint64(payerBalance), balance)
}

func TestAttemptMint_SubmitsFullySignedTransaction(t *testing.T) {
	h := newHarness(t, Config{})
	h.ledger.StatusScript = []stub.StatusStep{{Status: stub.Confirmed(solana.CommitmentConfirmed)}}

	h.attempt(t)

	sent := h.ledger.Sent()
	require.Len(t, sent, 1)
	tx, err := types.TransactionDeserialize(sent[0])
	require.NoError(t, err)
	require.Len(t, tx.Signatures, 2)
	for i, sig := range tx.Signatures {
		assert.NotEqual(t, make([]byte, 64), []byte(sig), "signature %d", i)
	}
	assert.Equal(t, h.payer.PublicKey(), tx.Message.Accounts[0])
	assert.Equal(t, h.ledger.Blockhash, tx.Message.RecentBlockHash)
}

func TestAttemptMint_ConfirmsAfterSeveralPolls(t *testing.T) {
	h := newHarness(t, Config{PollInterval: 5 * time.Millisecond, TxTimeout: 15 * time.Second})
	h.ledger.StatusScript = []stub.StatusStep{
		{}, {}, {},
		{Status: stub.Confirmed(solana.CommitmentConfirmed)},
	}

	out := h.attempt(t)

	assert.Equal(t, MessageSuccess, out.Message)
	assert.Equal(t, 4, h.ledger.Calls("getSignatureStatuses"))
	h.assertFinished(t)
}

func TestAttemptMint_PreflightSoldOut(t *testing.T) {
	h := newHarness(t, Config{})
	h.ledger.SetError("sendTransaction", preflightError(`{"InstructionError":[4,{"Custom":311}]}`))

	out := h.attempt(t)

	assert.Equal(t, SeverityError, out.Severity)
	assert.Equal(t, MessageSoldOut, out.Message)
	assert.Equal(t, KindSoldOut, out.Kind)
	assert.Equal(t, sale.SoldOut, h.model.State(), "latched even though the refresh reports items left")
	h.assertFinished(t)

	// Further attempts are refused without touching the ledger.
	_, err := h.wf.AttemptMint(context.Background(), h.payer, h.program)
	assert.ErrorIs(t, err, ErrSoldOut)
	assert.Equal(t, 1, h.ledger.Calls("sendTransaction"))
	assert.Equal(t, 1, h.ledger.Calls("getBalance"))
}

func TestAttemptMint_TimesOut(t *testing.T) {
	h := newHarness(t, Config{PollInterval: 5 * time.Millisecond, TxTimeout: 30 * time.Millisecond})

	out := h.attempt(t)

	assert.Equal(t, SeverityError, out.Severity)
	assert.Equal(t, MessageMintFailed, out.Message)
	assert.Equal(t, KindTimeout, out.Kind)
	assert.Equal(t, sale.Live, h.model.State())
	h.assertFinished(t)
}

func TestAttemptMint_LandedWithError(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		severity Severity
		message  string
		state    sale.State
	}{
		{"sold out", `{"InstructionError":[4,{"Custom":311}]}`, SeverityError, MessageSoldOut, sale.SoldOut},
		{"not live yet", `{"InstructionError":[4,{"Custom":312}]}`, SeverityWarning, MessageNotLiveYet, sale.Live},
		{"not enough sol", `{"InstructionError":[4,{"Custom":309}]}`, SeverityError, MessageInsufficientFunds, sale.Live},
		{"mint account underfunded", `{"InstructionError":[0,{"Custom":1}]}`, SeverityError, MessageInsufficientFunds, sale.Live},
		{"unrecognized", `{"InstructionError":[4,{"Custom":305}]}`, SeverityError, MessageMintFailed, sale.Live},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			h.ledger.StatusScript = []stub.StatusStep{{}, {Status: stub.Failed(tt.raw)}}

			out := h.attempt(t)

			assert.Equal(t, tt.severity, out.Severity)
			assert.Equal(t, tt.message, out.Message)
			assert.Equal(t, tt.state, h.model.State())
			h.assertFinished(t)
		})
	}
}

func TestAttemptMint_SubmissionFaults(t *testing.T) {
	rejectingWallet := func(key common.PublicKey) wallet.Wallet {
		return &wallet.Funcs{
			Key: key,
			Sign: func(context.Context, types.Transaction) (types.Transaction, error) {
				return types.Transaction{}, errors.New("user rejected the request")
			},
			SignAll: func(context.Context, []types.Transaction) ([]types.Transaction, error) {
				return nil, errors.New("user rejected the request")
			},
		}
	}

	tests := []struct {
		name    string
		inject  func(h *harness)
		wallet  func(h *harness) wallet.Wallet
		kind    Kind
		message string
	}{
		{
			name:    "blockhash unavailable",
			inject:  func(h *harness) { h.ledger.SetError("getLatestBlockhash", errors.New("timeout")) },
			kind:    KindUnknown,
			message: MessageSubmitFailed,
		},
		{
			name:    "rent unavailable",
			inject:  func(h *harness) { h.ledger.SetError("getMinimumBalanceForRentExemption", errors.New("timeout")) },
			kind:    KindUnknown,
			message: MessageSubmitFailed,
		},
		{
			name:    "wallet rejects",
			wallet:  func(h *harness) wallet.Wallet { return rejectingWallet(h.payer.PublicKey()) },
			kind:    KindUnknown,
			message: MessageSubmitFailed,
		},
		{
			name:    "send network failure",
			inject:  func(h *harness) { h.ledger.SetError("sendTransaction", errors.New("connection refused")) },
			kind:    KindUnknown,
			message: MessageSubmitFailed,
		},
		{
			name:    "preflight not enough sol",
			inject:  func(h *harness) { h.ledger.SetError("sendTransaction", preflightError(`{"InstructionError":[4,{"Custom":309}]}`)) },
			kind:    KindInsufficientFunds,
			message: MessageInsufficientFunds,
		},
		{
			name:    "preflight fee",
			inject:  func(h *harness) { h.ledger.SetError("sendTransaction", preflightError(`"InsufficientFundsForFee"`)) },
			kind:    KindInsufficientFunds,
			message: MessageInsufficientFunds,
		},
		{
			name:    "preflight not live",
			inject:  func(h *harness) { h.ledger.SetError("sendTransaction", preflightError(`{"InstructionError":[4,{"Custom":312}]}`)) },
			kind:    KindNotLiveYet,
			message: MessageNotLiveYet,
		},
		{
			name: "panic during submission",
			inject: func(h *harness) {
				h.ledger.SendFunc = func(context.Context, []byte) (string, error) { panic("boom") }
			},
			kind:    KindUnknown,
			message: MessageSubmitFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			if tt.inject != nil {
				tt.inject(h)
			}
			var w wallet.Wallet = h.payer
			if tt.wallet != nil {
				w = tt.wallet(h)
			}

			out, err := h.wf.AttemptMint(context.Background(), w, h.program)
			require.NoError(t, err)

			assert.Equal(t, tt.kind, out.Kind)
			assert.Equal(t, tt.message, out.Message)
			assert.Zero(t, h.ledger.Calls("getSignatureStatuses"))
			assert.Equal(t, sale.Live, h.model.State())
			h.assertFinished(t)
		})
	}
}

func TestAttemptMint_RefreshFailuresStillClearPending(t *testing.T) {
	h := newHarness(t, Config{})
	h.ledger.StatusScript = []stub.StatusStep{{Status: stub.Confirmed(solana.CommitmentConfirmed)}}
	h.ledger.SetError("getBalance", errors.New("rpc down"))
	h.ledger.SetError("getAccountInfo", errors.New("rpc down"))

	out := h.attempt(t)

	assert.True(t, out.Success())
	h.assertFinished(t)
	_, ok := h.wf.Balance(h.payer.PublicKey())
	assert.False(t, ok)
	assert.Equal(t, sale.NotYetLive, h.model.State(), "unknown state degrades to not yet live")
}

func TestAttemptMint_CallerCancellation(t *testing.T) {
	h := newHarness(t, Config{PollInterval: 5 * time.Millisecond, TxTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	h.ledger.SendFunc = func(context.Context, []byte) (string, error) {
		time.AfterFunc(20*time.Millisecond, cancel)
		return "sig", nil
	}

	out, err := h.wf.AttemptMint(ctx, h.payer, h.program)
	require.NoError(t, err)
	assert.Equal(t, KindTimeout, out.Kind)
	assert.Equal(t, MessageMintFailed, out.Message)
	h.assertFinished(t)
}

func TestAttemptMint_Refusals(t *testing.T) {
	h := newHarness(t, Config{})
	noSignAll := &wallet.Funcs{
		Key: h.payer.PublicKey(),
		Sign: func(_ context.Context, tx types.Transaction) (types.Transaction, error) {
			return tx, nil
		},
	}

	for _, w := range []wallet.Wallet{nil, noSignAll, &wallet.Funcs{}} {
		_, err := h.wf.AttemptMint(context.Background(), w, h.program)
		assert.ErrorIs(t, err, ErrWalletDisconnected)
	}

	h.model.LatchSoldOut()
	_, err := h.wf.AttemptMint(context.Background(), h.payer, h.program)
	assert.ErrorIs(t, err, ErrSoldOut)

	for _, method := range []string{"getBalance", "getLatestBlockhash", "sendTransaction"} {
		assert.Zero(t, h.ledger.Calls(method), method)
	}
	assert.Equal(t, 1, h.ledger.Calls("getAccountInfo"))
}

func TestAttemptMint_RefusedUntilLive(t *testing.T) {
	t.Run("unknown state after failed read", func(t *testing.T) {
		h := newHarness(t, Config{})
		boom := errors.New("connection refused")
		h.ledger.SetError("getAccountInfo", boom)
		_, err := h.wf.Syncer().Refresh(context.Background())
		require.ErrorIs(t, err, boom)
		require.Equal(t, sale.NotYetLive, h.model.State())

		_, err = h.wf.AttemptMint(context.Background(), h.payer, h.program)
		assert.ErrorIs(t, err, ErrNotLive)
		for _, method := range []string{"getBalance", "getLatestBlockhash", "sendTransaction"} {
			assert.Zero(t, h.ledger.Calls(method), method)
		}
		assert.False(t, h.wf.Pending(h.payer.PublicKey()))
	})

	t.Run("before go-live", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.ledger.StatusScript = []stub.StatusStep{{Status: stub.Confirmed(solana.CommitmentConfirmed)}}

		mock := clock.NewMock()
		goLive := mock.Now().Add(10 * time.Second)
		h.ledger.SetAccount(h.program.CandyMachineID.ToBase58(), candyMachineAccountAt(100, 10, goLive))

		model := sale.NewModel(sale.WithClock(mock))
		defer model.Close()
		syncer := sale.NewSyncer(candymachine.NewReader(h.ledger), model, sale.SyncerConfig{
			CandyMachineID: h.program.CandyMachineID,
		})
		_, err := syncer.Refresh(context.Background())
		require.NoError(t, err)
		wf := NewWorkflow(h.ledger, syncer, Config{PollInterval: time.Millisecond, TxTimeout: time.Second})

		_, err = wf.AttemptMint(context.Background(), h.payer, h.program)
		assert.ErrorIs(t, err, ErrNotLive)
		assert.Zero(t, h.ledger.Calls("sendTransaction"))

		mock.Add(10 * time.Second)
		require.Eventually(t, model.CanMint, time.Second, time.Millisecond)

		out, err := wf.AttemptMint(context.Background(), h.payer, h.program)
		require.NoError(t, err)
		assert.True(t, out.Success())
		assert.Equal(t, 1, h.ledger.Calls("sendTransaction"))
	})
}

func TestAttemptMint_OnePendingPerWallet(t *testing.T) {
	h := newHarness(t, Config{})
	h.ledger.StatusScript = []stub.StatusStep{{Status: stub.Confirmed(solana.CommitmentConfirmed)}}

	release := make(chan struct{})
	var once sync.Once
	h.ledger.SendFunc = func(context.Context, []byte) (string, error) {
		blocked := false
		once.Do(func() { blocked = true })
		if blocked {
			<-release
		}
		return "sig", nil
	}

	first := make(chan Outcome, 1)
	go func() {
		out, err := h.wf.AttemptMint(context.Background(), h.payer, h.program)
		assert.NoError(t, err)
		first <- out
	}()
	require.Eventually(t, func() bool { return h.ledger.Calls("sendTransaction") == 1 }, time.Second, time.Millisecond)
	require.True(t, h.wf.Pending(h.payer.PublicKey()))

	_, err := h.wf.AttemptMint(context.Background(), h.payer, h.program)
	assert.ErrorIs(t, err, ErrAttemptPending)

	// Another wallet is independent.
	other := wallet.NewKeypair(types.NewAccount())
	out, err := h.wf.AttemptMint(context.Background(), other, h.program)
	require.NoError(t, err)
	assert.True(t, out.Success())
	assert.True(t, h.wf.Pending(h.payer.PublicKey()))

	close(release)
	select {
	case out := <-first:
		assert.True(t, out.Success())
	case <-time.After(2 * time.Second):
		t.Fatal("first attempt did not finish")
	}
	assert.False(t, h.wf.Pending(h.payer.PublicKey()))
	assert.Equal(t, 2, h.ledger.Calls("sendTransaction"))

	// A new attempt is accepted once the previous one resolved.
	out = h.attempt(t)
	assert.True(t, out.Success())
}

func TestWorkflow_RefreshBalance(t *testing.T) {
	h := newHarness(t, Config{})

	_, ok := h.wf.Balance(h.payer.PublicKey())
	assert.False(t, ok)

	lamports, err := h.wf.RefreshBalance(context.Background(), h.payer.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(payerBalance), lamports)

	cached, ok := h.wf.Balance(h.payer.PublicKey())
	assert.True(t, ok)
	assert.Equal(t, lamports, cached)
	assert.Same(t, h.wf.Syncer().Model(), h.model)
}
