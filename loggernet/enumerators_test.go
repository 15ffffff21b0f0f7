package loggernet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtrauntvein/coratools/messages"
)

type tapiClient struct {
	started  int
	failures []EnumFailure
	lines    map[string]bool
}

func (c *tapiClient) OnStarted(*TapiLinesEnumerator) { c.started++ }

func (c *tapiClient) OnFailure(_ *TapiLinesEnumerator, f EnumFailure) {
	c.failures = append(c.failures, f)
}

func (c *tapiClient) OnLineAdded(_ *TapiLinesEnumerator, line string) { c.lines[line] = true }

func (c *tapiClient) OnLineRemoved(_ *TapiLinesEnumerator, line string) { delete(c.lines, line) }

type viewClient struct {
	started int
	entries map[string]string
}

func (c *viewClient) OnStarted(*ViewMapper) { c.started++ }

func (c *viewClient) OnFailure(*ViewMapper, EnumFailure) {}

func (c *viewClient) OnEntryAdded(_ *ViewMapper, e ViewEntry) { c.entries[e.Name] = e.DeviceName }

func (c *viewClient) OnEntryRemoved(_ *ViewMapper, name string) {
	delete(c.entries, name)
}

type settingsClient struct {
	initial []Setting
	changed []Setting
	started int
}

func (c *settingsClient) OnStarted(_ *SettingsEnumerator, settings []Setting) {
	c.started++
	c.initial = settings
}

func (c *settingsClient) OnSettingChanged(_ *SettingsEnumerator, s Setting) {
	c.changed = append(c.changed, s)
}

func (c *settingsClient) OnFailure(*SettingsEnumerator, EnumFailure) {}

type operationsClient struct {
	ops     map[uint32]Operation
	started int
}

func (c *operationsClient) OnStarted(*OperationsEnumerator) { c.started++ }

func (c *operationsClient) OnFailure(*OperationsEnumerator, EnumFailure) {}

func (c *operationsClient) OnOperationAdded(_ *OperationsEnumerator, op Operation) {
	c.ops[op.ID] = op
}

func (c *operationsClient) OnOperationChanged(_ *OperationsEnumerator, op Operation) {
	c.ops[op.ID] = op
}

func (c *operationsClient) OnOperationRemoved(_ *OperationsEnumerator, id uint32) {
	delete(c.ops, id)
}

type resourcesClient struct {
	resources map[string]Resource
	failures  []EnumFailure
}

func (c *resourcesClient) OnStarted(*PooledResourcesMonitor) {}

func (c *resourcesClient) OnFailure(_ *PooledResourcesMonitor, f EnumFailure) {
	c.failures = append(c.failures, f)
}

func (c *resourcesClient) OnResourceAdded(_ *PooledResourcesMonitor, r Resource) {
	c.resources[r.Name] = r
}

func (c *resourcesClient) OnResourceChanged(_ *PooledResourcesMonitor, r Resource) {
	c.resources[r.Name] = r
}

func (c *resourcesClient) OnResourceRemoved(_ *PooledResourcesMonitor, name string) {
	delete(c.resources, name)
}

func TestTapiLinesEnumerator(t *testing.T) {
	fake, d := newFake()
	client := register(t, &tapiClient{lines: map[string]bool{}})
	e := NewTapiLinesEnumerator()
	defer e.Close()

	require.NoError(t, e.Start(client, fake))
	d.Pump()
	assert.Equal(t, StateActive, e.State())

	answer(t, fake, messages.TypeTapiLinesEnumCmd, messages.TypeTapiLinesEnumAck, code(1))
	answer(t, fake, messages.TypeTapiLinesEnumCmd, messages.TypeTapiLineAddedNot, func(w *messages.Writer) { w.String("modem-1") })
	answer(t, fake, messages.TypeTapiLinesEnumCmd, messages.TypeTapiLineAddedNot, func(w *messages.Writer) { w.String("modem-2") })
	answer(t, fake, messages.TypeTapiLinesEnumCmd, messages.TypeTapiLineRemovedNot, func(w *messages.Writer) { w.String("modem-1") })
	d.Pump()

	assert.Equal(t, 1, client.started)
	assert.Equal(t, map[string]bool{"modem-2": true}, client.lines)

	e.Finish()
	assert.Equal(t, StateStandby, e.State())
	assert.Len(t, fake.SentOfType(messages.TypeTapiLinesEnumStopCmd), 1)
	e.Finish()
	assert.Len(t, fake.SentOfType(messages.TypeTapiLinesEnumStopCmd), 1)
}

func TestTapiLinesEnumeratorRejected(t *testing.T) {
	fake, d := newFake()
	client := register(t, &tapiClient{lines: map[string]bool{}})
	e := NewTapiLinesEnumerator()
	defer e.Close()

	require.NoError(t, e.Start(client, fake))
	d.Pump()
	answer(t, fake, messages.TypeTapiLinesEnumCmd, messages.TypeTapiLinesEnumAck, code(3))
	d.Pump()

	assert.Equal(t, []EnumFailure{EnumFailureSecurityBlocked}, client.failures)
	assert.Zero(t, client.started)
	assert.Equal(t, StateStandby, e.State())
	assert.Empty(t, fake.SentOfType(messages.TypeTapiLinesEnumStopCmd))
}

func TestTapiLinesEnumeratorSessionLost(t *testing.T) {
	fake, d := newFake()
	client := register(t, &tapiClient{lines: map[string]bool{}})
	e := NewTapiLinesEnumerator()
	defer e.Close()

	require.NoError(t, e.Start(client, fake))
	d.Pump()
	answer(t, fake, messages.TypeTapiLinesEnumCmd, messages.TypeLogoffNot, nil)
	d.Pump()
	assert.Equal(t, []EnumFailure{EnumFailureSession}, client.failures)
}

func TestTapiLinesEnumeratorClientGone(t *testing.T) {
	fake, d := newFake()
	client := register(t, &tapiClient{lines: map[string]bool{}})
	e := NewTapiLinesEnumerator()
	defer e.Close()

	require.NoError(t, e.Start(client, fake))
	d.Pump()
	answer(t, fake, messages.TypeTapiLinesEnumCmd, messages.TypeTapiLinesEnumAck, code(1))
	unregister(client)
	d.Pump()

	assert.Zero(t, client.started)
	assert.Equal(t, StateStandby, e.State())
}

func TestViewMapper(t *testing.T) {
	fake, d := newFake()
	client := register(t, &viewClient{entries: map[string]string{}})
	m := NewViewMapper()
	defer m.Close()

	require.NoError(t, m.SetViewName("north"))
	assert.Equal(t, "north", m.ViewName())
	require.NoError(t, m.Start(client, fake))
	assert.ErrorIs(t, m.SetViewName("south"), ErrInvalidState)
	d.Pump()

	cmd := fake.Last(messages.TypeViewMapCmd)
	require.NotNil(t, cmd)
	r := cmd.Reader()
	r.Uint32()
	assert.Equal(t, "north", r.String())

	answer(t, fake, messages.TypeViewMapCmd, messages.TypeViewMapAck, code(1))
	answer(t, fake, messages.TypeViewMapCmd, messages.TypeViewEntryAddedNot, func(w *messages.Writer) {
		w.String("Station A").String("cr1000_a")
	})
	answer(t, fake, messages.TypeViewMapCmd, messages.TypeViewEntryAddedNot, func(w *messages.Writer) {
		w.String("Station B").String("cr1000_b")
	})
	answer(t, fake, messages.TypeViewMapCmd, messages.TypeViewEntryRemovedNot, func(w *messages.Writer) {
		w.String("Station A")
	})
	d.Pump()

	assert.Equal(t, 1, client.started)
	assert.Equal(t, map[string]string{"Station B": "cr1000_b"}, client.entries)
}

func TestSettingsEnumeratorBatchesInitialSettings(t *testing.T) {
	fake, d := newFake()
	client := register(t, &settingsClient{})
	e := NewSettingsEnumerator()
	defer e.Close()

	require.NoError(t, e.SetDeviceName("cr1000"))
	require.NoError(t, e.Start(client, fake))
	d.Pump()

	setting := func(id uint32, v string) func(w *messages.Writer) {
		return func(w *messages.Writer) { w.Uint32(id).String(v) }
	}
	answer(t, fake, messages.TypeSettingsEnumCmd, messages.TypeSettingNot, setting(1, "9600"))
	answer(t, fake, messages.TypeSettingsEnumCmd, messages.TypeSettingNot, setting(2, "true"))
	answer(t, fake, messages.TypeSettingsEnumCmd, messages.TypeSettingsEnumAck, code(1))
	answer(t, fake, messages.TypeSettingsEnumCmd, messages.TypeSettingNot, setting(1, "19200"))
	d.Pump()

	assert.Equal(t, 1, client.started)
	assert.Equal(t, []Setting{{1, "9600"}, {2, "true"}}, client.initial)
	assert.Equal(t, []Setting{{1, "19200"}}, client.changed)
}

func TestSettingsEnumeratorInvalidDevice(t *testing.T) {
	fake, d := newFake()
	fake.DeviceOpenOutcome = 5
	client := register(t, &settingsClient{})
	e := NewSettingsEnumerator()
	defer e.Close()

	require.NoError(t, e.Start(client, fake))
	d.Pump()
	assert.Nil(t, fake.Last(messages.TypeSettingsEnumCmd))
	assert.Equal(t, StateStandby, e.State())
}

func TestOperationsEnumerator(t *testing.T) {
	fake, d := newFake()
	client := register(t, &operationsClient{ops: map[uint32]Operation{}})
	e := NewOperationsEnumerator()
	defer e.Close()

	require.NoError(t, e.Start(client, fake))
	d.Pump()

	op := func(id uint32, state string) func(w *messages.Writer) {
		return func(w *messages.Writer) { w.Uint32(id).Uint32(2).String("scheduled collection").String(state) }
	}
	answer(t, fake, messages.TypeOperationsEnumCmd, messages.TypeOperationsEnumAck, code(1))
	answer(t, fake, messages.TypeOperationsEnumCmd, messages.TypeOperationAddedNot, op(7, "waiting"))
	answer(t, fake, messages.TypeOperationsEnumCmd, messages.TypeOperationAddedNot, op(8, "waiting"))
	answer(t, fake, messages.TypeOperationsEnumCmd, messages.TypeOperationChangedNot, op(7, "executing"))
	answer(t, fake, messages.TypeOperationsEnumCmd, messages.TypeOperationRemovedNot, func(w *messages.Writer) { w.Uint32(8) })
	d.Pump()

	assert.Equal(t, 1, client.started)
	require.Len(t, client.ops, 1)
	assert.Equal(t, Operation{ID: 7, Priority: 2, Description: "scheduled collection", State: "executing"}, client.ops[7])
}

func TestPooledResourcesMonitor(t *testing.T) {
	fake, d := newFake()
	client := register(t, &resourcesClient{resources: map[string]Resource{}})
	m := NewPooledResourcesMonitor()
	defer m.Close()

	require.NoError(t, m.Start(client, fake))
	d.Pump()

	res := func(name string, state ResourceState, owner string) func(w *messages.Writer) {
		return func(w *messages.Writer) { w.String(name).Uint32(uint32(state)).String(owner) }
	}
	answer(t, fake, messages.TypeResourcesEnumCmd, messages.TypeResourcesEnumAck, code(1))
	answer(t, fake, messages.TypeResourcesEnumCmd, messages.TypeResourceAddedNot, res("COM1", ResourceStateAvailable, ""))
	answer(t, fake, messages.TypeResourcesEnumCmd, messages.TypeResourceAddedNot, res("COM2", ResourceStateAvailable, ""))
	answer(t, fake, messages.TypeResourcesEnumCmd, messages.TypeResourceChangedNot, res("COM1", ResourceStateInUse, "cr1000"))
	answer(t, fake, messages.TypeResourcesEnumCmd, messages.TypeResourceRemovedNot, func(w *messages.Writer) { w.String("COM2") })
	d.Pump()

	assert.Equal(t, map[string]Resource{"COM1": {Name: "COM1", State: ResourceStateInUse, Owner: "cr1000"}}, client.resources)

	answer(t, fake, messages.TypeResourcesEnumCmd, messages.TypeResourcesEnumAck, code(2))
	d.Pump()
	assert.Equal(t, []EnumFailure{EnumFailureUnsupported}, client.failures)
}

func TestResourceStateString(t *testing.T) {
	assert.Equal(t, "InUse", ResourceStateInUse.String())
	assert.Equal(t, "Unknown", ResourceStateUnknown.String())
	assert.Equal(t, "Unknown(42)", ResourceState(42).String())
}
