package sale

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candy-mint/internal/candymachine"
)

type transitionLog struct {
	mu  sync.Mutex
	all []Transition
}

func (l *transitionLog) record(tr Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = append(l.all, tr)
}

func (l *transitionLog) snapshot() []Transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transition{}, l.all...)
}

func snapshot(available, redeemed uint64, goLiveAt time.Time) candymachine.Snapshot {
	return candymachine.Snapshot{
		Counters: candymachine.Counters{ItemsAvailable: available, ItemsRedeemed: redeemed},
		GoLiveAt: goLiveAt,
	}
}

func newMockModel() (*Model, *clock.Mock, *transitionLog) {
	mock := clock.NewMock()
	mock.Set(time.Date(2021, 9, 1, 12, 0, 0, 0, time.UTC))
	m := NewModel(WithClock(mock))
	log := &transitionLog{}
	m.OnTransition(log.record)
	return m, mock, log
}

func TestModel_InitialStateIsNotYetLive(t *testing.T) {
	m := NewModel()
	assert.Equal(t, NotYetLive, m.State())
	assert.False(t, m.CanMint())
	assert.False(t, m.Status().Known)
}

func TestModel_SoldOutOnInitialLoad(t *testing.T) {
	m, mock, log := newMockModel()

	m.Apply(snapshot(100, 100, mock.Now().Add(-time.Hour)))

	assert.Equal(t, SoldOut, m.State())
	assert.False(t, m.CanMint())
	assert.True(t, m.SoldOut())
	require.Len(t, log.snapshot(), 1)
	assert.Equal(t, Transition{From: NotYetLive, To: SoldOut, At: mock.Now()}, log.snapshot()[0])
}

func TestModel_GoLiveTimerFiresOnce(t *testing.T) {
	m, mock, log := newMockModel()

	m.Apply(snapshot(100, 10, mock.Now().Add(10*time.Second)))
	assert.Equal(t, NotYetLive, m.State())

	mock.Add(9 * time.Second)
	assert.Equal(t, NotYetLive, m.State())

	mock.Add(time.Second)
	assert.Eventually(t, m.CanMint, time.Second, time.Millisecond)

	m.mu.RLock()
	gen := m.timerGen
	m.mu.RUnlock()
	m.fire(gen)
	m.fire(gen)
	mock.Add(time.Minute)

	transitions := log.snapshot()
	require.Len(t, transitions, 1)
	assert.Equal(t, NotYetLive, transitions[0].From)
	assert.Equal(t, Live, transitions[0].To)
}

func TestModel_PastGoLiveIsLiveImmediately(t *testing.T) {
	m, mock, _ := newMockModel()
	m.Apply(snapshot(100, 0, mock.Now().Add(-time.Second)))
	assert.Equal(t, Live, m.State())
}

func TestModel_NoGoLiveDateStaysNotYetLive(t *testing.T) {
	m, _, _ := newMockModel()
	m.Apply(snapshot(100, 0, time.Time{}))
	assert.Equal(t, NotYetLive, m.State())
	assert.True(t, m.Status().Known)
}

func TestModel_SoldOutLatch(t *testing.T) {
	m, mock, log := newMockModel()
	goLive := mock.Now().Add(-time.Minute)

	m.Apply(snapshot(100, 50, goLive))
	require.Equal(t, Live, m.State())

	m.Apply(snapshot(100, 100, goLive))
	assert.Equal(t, SoldOut, m.State())

	// A stale read must not flip the latch back.
	m.Apply(snapshot(100, 99, goLive))
	assert.Equal(t, SoldOut, m.State())
	m.MarkUnknown()
	assert.Equal(t, SoldOut, m.State())
	m.ReplaceWindow(goLive.Add(time.Hour))
	assert.Equal(t, SoldOut, m.State())

	assert.Len(t, log.snapshot(), 2)
	assert.Equal(t, uint64(99), m.Status().Counters.ItemsRedeemed)
}

func TestModel_LatchSoldOutStopsTimer(t *testing.T) {
	m, mock, log := newMockModel()

	m.Apply(snapshot(100, 0, mock.Now().Add(5*time.Second)))
	m.LatchSoldOut()
	assert.Equal(t, SoldOut, m.State())

	mock.Add(10 * time.Second)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, SoldOut, m.State())
	assert.Len(t, log.snapshot(), 1)

	m.LatchSoldOut()
	assert.Len(t, log.snapshot(), 1)
}

func TestModel_UnknownDegradesToNotYetLive(t *testing.T) {
	m, mock, log := newMockModel()
	goLive := mock.Now().Add(-time.Minute)

	m.Apply(snapshot(100, 0, goLive))
	require.Equal(t, Live, m.State())

	m.MarkUnknown()
	assert.Equal(t, NotYetLive, m.State())
	assert.False(t, m.CanMint())

	m.Apply(snapshot(100, 1, goLive))
	assert.Equal(t, Live, m.State())
	assert.Len(t, log.snapshot(), 3)
}

func TestModel_WindowImmutableAcrossApplies(t *testing.T) {
	m, mock, _ := newMockModel()
	first := mock.Now().Add(time.Hour)

	m.Apply(snapshot(100, 0, first))
	m.Apply(snapshot(100, 0, mock.Now().Add(-time.Hour)))

	assert.Equal(t, first, m.Status().GoLiveAt)
	assert.Equal(t, NotYetLive, m.State())
}

func TestModel_ReplaceWindowRearmsTimer(t *testing.T) {
	m, mock, log := newMockModel()

	m.Apply(snapshot(100, 0, mock.Now().Add(time.Hour)))
	m.ReplaceWindow(mock.Now().Add(2 * time.Second))

	mock.Add(2 * time.Second)
	assert.Eventually(t, m.CanMint, time.Second, time.Millisecond)

	// The first timer was disarmed.
	mock.Add(time.Hour)
	time.Sleep(5 * time.Millisecond)
	assert.Len(t, log.snapshot(), 1)
}

func TestModel_CloseStopsTimer(t *testing.T) {
	m, mock, _ := newMockModel()
	m.Apply(snapshot(100, 0, mock.Now().Add(time.Second)))
	m.Close()

	mock.Add(time.Minute)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, NotYetLive, m.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "not_yet_live", NotYetLive.String())
	assert.Equal(t, "live", Live.String())
	assert.Equal(t, "sold_out", SoldOut.String())
	assert.Equal(t, "unknown", State(9).String())

	text, err := SoldOut.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "sold_out", string(text))
}
