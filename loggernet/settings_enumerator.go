package loggernet

import (
	"github.com/jtrauntvein/coratools/devicebase"
	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/messages"
	"github.com/jtrauntvein/coratools/router"
)

// Setting is one device setting as reported by the server.
type Setting struct {
	ID    uint32
	Value string
}

// SettingsEnumeratorClient receives notifications from a SettingsEnumerator.
type SettingsEnumeratorClient interface {
	// OnStarted delivers every setting reported before the server
	// acknowledged the enumeration.
	OnStarted(e *SettingsEnumerator, settings []Setting)
	// OnSettingChanged is called for each later change.
	OnSettingChanged(e *SettingsEnumerator, setting Setting)
	OnFailure(e *SettingsEnumerator, failure EnumFailure)
}

// SettingsEnumerator reports the settings of a device and follows changes
// to them.
type SettingsEnumerator struct {
	*devicebase.DeviceBase

	sub    subscription
	client SettingsEnumeratorClient
	batch  []Setting
}

// NewSettingsEnumerator creates an enumerator and registers it with the
// event validator.
func NewSettingsEnumerator() *SettingsEnumerator {
	e := &SettingsEnumerator{}
	e.sub = subscription{
		owner:   e,
		cmd:     messages.TypeSettingsEnumCmd,
		ack:     messages.TypeSettingsEnumAck,
		stop:    messages.TypeSettingsEnumStopCmd,
		notices: []messages.Type{messages.TypeSettingNot},
		notice:  e.notice,
		started: func() func() {
			c, batch := e.client, e.batch
			e.batch = nil
			return func() { c.OnStarted(e, batch) }
		},
		failed: func(f EnumFailure) func() {
			c := e.client
			return func() { c.OnFailure(e, f) }
		},
		reset: func() {
			e.client = nil
			e.batch = nil
		},
	}
	e.DeviceBase = devicebase.NewDeviceBase(&e.sub)
	e.sub.base = e.DeviceBase.ClientBase
	event.Register(e)
	return e
}

// State returns the component state.
func (e *SettingsEnumerator) State() State { return e.sub.state }

// Start begins the enumeration on a new session of r.
func (e *SettingsEnumerator) Start(client SettingsEnumeratorClient, r router.Router) error {
	return e.start(client, func() error { return e.StartBase(client, r) })
}

// StartShared begins the enumeration on the connection used by other.
func (e *SettingsEnumerator) StartShared(client SettingsEnumeratorClient, other devicebase.Peer) error {
	return e.start(client, func() error { return e.StartBaseShared(client, other) })
}

func (e *SettingsEnumerator) start(client SettingsEnumeratorClient, startBase func() error) error {
	if !event.IsValid(client) {
		return ErrInvalidClient
	}
	if err := startBase(); err != nil {
		return err
	}
	e.client = client
	e.batch = nil
	e.sub.begin()
	return nil
}

// Finish stops the enumeration and returns to standby.
func (e *SettingsEnumerator) Finish() { e.sub.finish() }

// Close finishes the component and unregisters it.
func (e *SettingsEnumerator) Close() {
	e.Finish()
	event.Unregister(e)
}

// Receive implements event.Receiver.
func (e *SettingsEnumerator) Receive(ev event.Event) { e.sub.receive(ev) }

func (e *SettingsEnumerator) notice(_ messages.Type, r *messages.Reader) func() {
	s := Setting{ID: r.Uint32(), Value: r.String()}
	if r.Err() != nil {
		return nil
	}
	if !e.sub.acked {
		e.batch = append(e.batch, s)
		return nil
	}
	c := e.client
	return func() { c.OnSettingChanged(e, s) }
}
