package terminal

import (
	"AtmSP/internal/adapters/eventbus"
	"AtmSP/internal/adapters/metrics"
	"AtmSP/internal/adapters/observer"
	"AtmSP/internal/adapters/registry"
	"AtmSP/internal/adapters/simulator"
	"AtmSP/internal/core/command"
	"AtmSP/internal/core/domain"
	"AtmSP/internal/core/ports"
	"AtmSP/internal/shared/config"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type MockProvider struct {
	mock.Mock
}

var _ ports.ServiceProvider = (*MockProvider)(nil)

func (m *MockProvider) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockProvider) Init(bus ports.EventBus) error {
	args := m.Called(bus)
	return args.Error(0)
}

func (m *MockProvider) Open(logicalID string) error {
	args := m.Called(logicalID)
	return args.Error(0)
}

func (m *MockProvider) Close() {
	m.Called()
}

func (m *MockProvider) Execute(cmd string, payload command.Payload) *command.Future {
	args := m.Called(cmd, payload)
	return args.Get(0).(*command.Future)
}

// --- Helpers ---

type closeLog struct {
	mu    sync.Mutex
	order []string
}

func (c *closeLog) record(name string) func(mock.Arguments) {
	return func(mock.Arguments) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.order = append(c.order, name)
	}
}

func (c *closeLog) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, got := range c.order {
		if got == name {
			n++
		}
	}
	return n
}

func newMockProvider(name, logicalID string, closed *closeLog) *MockProvider {
	m := &MockProvider{}
	m.On("Name").Return(name).Maybe()
	m.On("Init", mock.Anything).Return(nil)
	m.On("Open", logicalID).Return(nil)
	m.On("Close").Run(closed.record(name)).Return()
	return m
}

func builderFor(byType map[string]ports.ServiceProvider) Builder {
	return func(dc config.DeviceConfig, _ *zerolog.Logger) (ports.ServiceProvider, error) {
		if sp, ok := byType[dc.Type]; ok {
			return sp, nil
		}
		return nil, assert.AnError
	}
}

func testConfig(bypass bool, executeMs int) *config.Config {
	cfg := config.Default()
	cfg.Devices["cardreader1"] = config.DeviceConfig{
		Type:     "card_reader",
		Timeouts: config.Timeouts{OpenMs: 1000, ExecuteMs: executeMs},
	}
	cfg.Devices["pinpad1"] = config.DeviceConfig{
		Type:     "pin_pad",
		Timeouts: config.Timeouts{OpenMs: 1000, ExecuteMs: executeMs},
		Features: config.Features{BypassAllowed: bypass},
	}
	return cfg
}

func newBus() (ports.EventBus, *observer.Recorder) {
	nopLogger := zerolog.Nop()
	bus := eventbus.NewInMemoryEventBus(&nopLogger)
	rec := observer.NewRecorder()
	rec.Attach(bus)
	return bus, rec
}

func sessionEnded(t *testing.T, rec *observer.Recorder) domain.SessionEnded {
	t.Helper()
	for _, e := range rec.Events() {
		if ended, ok := e.(domain.SessionEnded); ok {
			return ended
		}
	}
	t.Fatal("no SessionEnded recorded")
	return domain.SessionEnded{}
}

// --- Tests ---

func TestOrchestrator_Run_Success(t *testing.T) {
	nopLogger := zerolog.Nop()
	bus, rec := newBus()
	closed := &closeLog{}

	card := newMockProvider("card", CardReaderID, closed)
	pin := newMockProvider("pin", PinPadID, closed)
	pin.On("Execute", "RequestPin", mock.MatchedBy(func(p command.Payload) bool {
		return p["bypass"] == true && p["minLen"] == 4 && p["maxLen"] == 6
	})).Return(command.Resolved(command.OK(map[string]any{"masked": "****"}))).Once()

	opts := DefaultOptions()
	opts.Settle = 0
	opts.Builder = builderFor(map[string]ports.ServiceProvider{"card_reader": card, "pin_pad": pin})

	res, err := NewOrchestrator(testConfig(true, 1000), bus, opts, &nopLogger).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ResultOK, res.Code)
	assert.Equal(t, "****", res.Reply.String("masked"))
	assert.NotEmpty(t, res.SessionID)

	assert.Equal(t, []domain.EventKind{domain.KindSessionStarted, domain.KindSessionEnded}, rec.Kinds())
	ended := sessionEnded(t, rec)
	assert.Equal(t, res.SessionID, ended.SessionID)
	assert.Equal(t, ResultOK, ended.ResultCode)

	assert.Equal(t, []string{"pin", "card"}, closed.order, "devices close in reverse order")
	card.AssertExpectations(t)
	pin.AssertExpectations(t)
}

func TestOrchestrator_Run_PinFailureEndsWithFailureCode(t *testing.T) {
	nopLogger := zerolog.Nop()
	bus, rec := newBus()
	closed := &closeLog{}

	card := newMockProvider("card", CardReaderID, closed)
	pin := newMockProvider("pin", PinPadID, closed)
	pin.On("Execute", "RequestPin", mock.Anything).
		Return(command.Resolved(command.Fail(command.ReasonKeypadFailure, nil)))

	opts := DefaultOptions()
	opts.Settle = 0
	opts.Builder = builderFor(map[string]ports.ServiceProvider{"card_reader": card, "pin_pad": pin})

	res, err := NewOrchestrator(testConfig(false, 1000), bus, opts, &nopLogger).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ResultFailed, res.Code)
	assert.Equal(t, command.ReasonKeypadFailure, res.Reply.Error())
	assert.Equal(t, ResultFailed, sessionEnded(t, rec).ResultCode)
}

func TestOrchestrator_Run_ExecuteTimeout(t *testing.T) {
	nopLogger := zerolog.Nop()
	bus, rec := newBus()
	closed := &closeLog{}

	card := newMockProvider("card", CardReaderID, closed)
	pin := newMockProvider("pin", PinPadID, closed)
	pin.On("Execute", "RequestPin", mock.Anything).Return(command.NewFuture())

	opts := DefaultOptions()
	opts.Settle = 0
	opts.Builder = builderFor(map[string]ports.ServiceProvider{"card_reader": card, "pin_pad": pin})

	start := time.Now()
	res, err := NewOrchestrator(testConfig(false, 20), bus, opts, &nopLogger).Run(context.Background())

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, ResultFailed, res.Code)
	assert.Nil(t, res.Reply)
	assert.Equal(t, ResultFailed, sessionEnded(t, rec).ResultCode)
}

func TestOrchestrator_Run_OpenTimeout(t *testing.T) {
	nopLogger := zerolog.Nop()
	bus, rec := newBus()
	closed := &closeLog{}

	release := make(chan time.Time)
	defer close(release)

	card := &MockProvider{}
	card.On("Name").Return("card").Maybe()
	card.On("Init", mock.Anything).Return(nil)
	card.On("Open", CardReaderID).WaitUntil(release).Return(nil)
	card.On("Close").Run(closed.record("card")).Return()
	pin := newMockProvider("pin", PinPadID, closed)

	cfg := testConfig(false, 1000)
	cr := cfg.Devices["cardreader1"]
	cr.Timeouts.OpenMs = 20
	cfg.Devices["cardreader1"] = cr

	opts := DefaultOptions()
	opts.Settle = 0
	opts.Builder = builderFor(map[string]ports.ServiceProvider{"card_reader": card, "pin_pad": pin})

	_, err := NewOrchestrator(cfg, bus, opts, &nopLogger).Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.Timeout)
	assert.Zero(t, rec.Count(domain.KindSessionStarted), "no session without open devices")
	assert.ElementsMatch(t, []string{"pin", "card"}, closed.order)
	pin.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestOrchestrator_Run_InitFailure(t *testing.T) {
	nopLogger := zerolog.Nop()
	bus, _ := newBus()
	closed := &closeLog{}

	card := newMockProvider("card", CardReaderID, closed)
	pin := &MockProvider{}
	pin.On("Name").Return("pin").Maybe()
	pin.On("Init", mock.Anything).Return(domain.NotInitialized)
	pin.On("Close").Run(closed.record("pin")).Return()

	opts := DefaultOptions()
	opts.Settle = 0
	opts.Builder = builderFor(map[string]ports.ServiceProvider{"card_reader": card, "pin_pad": pin})

	_, err := NewOrchestrator(testConfig(false, 1000), bus, opts, &nopLogger).Run(context.Background())

	assert.ErrorIs(t, err, domain.NotInitialized)
	assert.Equal(t, []string{"pin", "card"}, closed.order)
	pin.AssertNotCalled(t, "Open", mock.Anything)
}

func TestOrchestrator_Run_AppliesInjection(t *testing.T) {
	nopLogger := zerolog.Nop()
	bus, _ := newBus()
	closed := &closeLog{}

	card := newMockProvider("card", CardReaderID, closed)
	card.On("Execute", "SetFailureRate", command.Payload{"pct": 30}).
		Return(command.Resolved(command.OK(map[string]any{"pct": 30}))).Once()
	pin := newMockProvider("pin", PinPadID, closed)
	pin.On("Execute", "InjectPinError", command.Payload(nil)).
		Return(command.Resolved(command.OK(nil))).Once()
	pin.On("Execute", "RequestPin", mock.Anything).
		Return(command.Resolved(command.Fail(command.ReasonKeypadFailure, nil))).Once()

	opts := DefaultOptions()
	opts.Settle = 0
	opts.FailRate = 30
	opts.PinError = true
	opts.Builder = builderFor(map[string]ports.ServiceProvider{"card_reader": card, "pin_pad": pin})

	res, err := NewOrchestrator(testConfig(false, 1000), bus, opts, &nopLogger).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ResultFailed, res.Code)
	card.AssertExpectations(t)
	pin.AssertExpectations(t)
}

func TestOrchestrator_Run_CancelledDuringSettle(t *testing.T) {
	nopLogger := zerolog.Nop()
	bus, rec := newBus()
	closed := &closeLog{}

	card := newMockProvider("card", CardReaderID, closed)
	pin := newMockProvider("pin", PinPadID, closed)

	opts := DefaultOptions()
	opts.Settle = time.Hour
	opts.Builder = builderFor(map[string]ports.ServiceProvider{"card_reader": card, "pin_pad": pin})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		waitCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = rec.WaitFor(waitCtx, domain.KindSessionStarted, 1)
		cancel()
	}()

	res, err := NewOrchestrator(testConfig(false, 1000), bus, opts, &nopLogger).Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ResultFailed, res.Code)
	assert.Equal(t, ResultFailed, sessionEnded(t, rec).ResultCode)
	assert.Len(t, closed.order, 2)
	pin.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestOrchestrator_Run_UnknownDeviceType(t *testing.T) {
	nopLogger := zerolog.Nop()
	bus, _ := newBus()

	cfg := config.Default()
	cfg.Devices["cardreader1"] = config.DeviceConfig{Type: "teller"}

	_, err := NewOrchestrator(cfg, bus, DefaultOptions(), &nopLogger).Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), CardReaderID)
}

func TestOrchestrator_Run_Simulators(t *testing.T) {
	nopLogger := zerolog.Nop()
	bus, rec := newBus()
	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)
	collector.Attach(bus)

	cfg := config.Default()
	cfg.Devices["pinpad1"] = config.DeviceConfig{Type: "pin_pad", Features: config.Features{BypassAllowed: true}}
	cfg.Devices["xfs1"] = config.DeviceConfig{Type: "xfs"}

	opts := DefaultOptions()
	opts.Settle = 50 * time.Millisecond
	opts.FailRate = 0
	opts.Observer = collector
	opts.Builder = func(dc config.DeviceConfig, baseLogger *zerolog.Logger) (ports.ServiceProvider, error) {
		switch dc.Type {
		case simulator.TypeCardReader:
			return simulator.NewCardReader(baseLogger, simulator.WithCardTimings(simulator.CardReaderTimings{
				DwellMin: 5 * time.Millisecond, DwellMax: 10 * time.Millisecond,
				ReadDelay: time.Millisecond, RemoveDelay: time.Millisecond,
			})), nil
		case simulator.TypePinPad:
			return simulator.NewPinPad(baseLogger,
				simulator.WithEntryDelay(5*time.Millisecond),
				simulator.WithBypassAllowed(dc.Features.BypassAllowed)), nil
		}
		return registry.Build(dc, baseLogger)
	}

	res, err := NewOrchestrator(cfg, bus, opts, &nopLogger).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ResultOK, res.Code)
	assert.Equal(t, command.Reply{"ok": true, "masked": "****"}, res.Reply)

	assert.Equal(t, 1, rec.Count(domain.KindPinRequested))
	assert.Equal(t, 1, rec.Count(domain.KindPinEntered))
	for _, e := range rec.Events() {
		if req, ok := e.(domain.PinRequested); ok {
			assert.True(t, req.BypassAllowed)
		}
	}

	// Nothing is published once Run has closed the devices.
	seen := rec.Len()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, seen, rec.Len())

	assert.Equal(t, 1.0, collector.EventCount(domain.KindSessionEnded))
	assert.Eventually(t, func() bool {
		return collector.ReplyCount(simulator.PinPadName, "RequestPin", "ok") == 1 &&
			collector.ReplyCount(simulator.CardReaderName, "SetFailureRate", "ok") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_Run_LateOpenIsClosed(t *testing.T) {
	nopLogger := zerolog.Nop()
	bus, _ := newBus()
	closed := &closeLog{}

	card := &MockProvider{}
	card.On("Name").Return("card").Maybe()
	card.On("Init", mock.Anything).Return(nil)
	card.On("Open", CardReaderID).After(100 * time.Millisecond).Return(nil)
	card.On("Close").Run(closed.record("card")).Return()
	pin := newMockProvider("pin", PinPadID, closed)

	cfg := testConfig(false, 1000)
	cr := cfg.Devices["cardreader1"]
	cr.Timeouts.OpenMs = 20
	cfg.Devices["cardreader1"] = cr

	opts := DefaultOptions()
	opts.Settle = 0
	opts.Builder = builderFor(map[string]ports.ServiceProvider{"card_reader": card, "pin_pad": pin})

	_, err := NewOrchestrator(cfg, bus, opts, &nopLogger).Run(context.Background())
	require.ErrorIs(t, err, domain.Timeout)

	// One Close from Run, one once the late Open has succeeded.
	assert.Eventually(t, func() bool {
		return closed.count("card") == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, closed.count("pin"))
}

func TestOrchestrator_Run_LateOpenOnSimulatorStopsEvents(t *testing.T) {
	nopLogger := zerolog.Nop()
	bus, rec := newBus()

	cfg := config.Default()
	cfg.Devices["cardreader1"] = config.DeviceConfig{Type: "card_reader", Timeouts: config.Timeouts{OpenMs: 20}}

	opts := DefaultOptions()
	opts.Settle = 0
	opts.Builder = func(dc config.DeviceConfig, baseLogger *zerolog.Logger) (ports.ServiceProvider, error) {
		if dc.Type == simulator.TypeCardReader {
			return &slowOpen{
				ServiceProvider: simulator.NewCardReader(baseLogger, simulator.WithCardTimings(simulator.CardReaderTimings{
					DwellMin: time.Millisecond, DwellMax: time.Millisecond,
					ReadDelay: time.Millisecond, RemoveDelay: time.Millisecond,
				})),
				delay: 60 * time.Millisecond,
			}, nil
		}
		return registry.Build(dc, baseLogger)
	}

	_, err := NewOrchestrator(cfg, bus, opts, &nopLogger).Run(context.Background())
	require.ErrorIs(t, err, domain.Timeout)

	// Let the late Open land and be closed, then the bus must go quiet.
	time.Sleep(150 * time.Millisecond)
	seen := rec.Len()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, seen, rec.Len())
}

type slowOpen struct {
	ports.ServiceProvider
	delay time.Duration
}

func (s *slowOpen) Open(logicalID string) error {
	time.Sleep(s.delay)
	return s.ServiceProvider.Open(logicalID)
}

func TestOrchestrator_Run_CancelledDuringRequestPin(t *testing.T) {
	nopLogger := zerolog.Nop()
	bus, rec := newBus()
	closed := &closeLog{}

	card := newMockProvider("card", CardReaderID, closed)
	pin := newMockProvider("pin", PinPadID, closed)
	requested := make(chan struct{})
	pin.On("Execute", "RequestPin", mock.Anything).
		Run(func(mock.Arguments) { close(requested) }).
		Return(command.NewFuture()).Once()

	opts := DefaultOptions()
	opts.Settle = 0
	opts.Builder = builderFor(map[string]ports.ServiceProvider{"card_reader": card, "pin_pad": pin})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-requested:
		case <-time.After(5 * time.Second):
		}
		cancel()
	}()

	res, err := NewOrchestrator(testConfig(false, 60000), bus, opts, &nopLogger).Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ResultFailed, res.Code)
	assert.Equal(t, ResultFailed, sessionEnded(t, rec).ResultCode)
	assert.Equal(t, 1, closed.count("pin"))
	assert.Equal(t, 1, closed.count("card"))
}
