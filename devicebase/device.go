package devicebase

// DeviceBase is a ClientBase that also opens a device session after logon.
type DeviceBase struct {
	*ClientBase
}

// NewDeviceBase creates a device base that reports to h.
func NewDeviceBase(h Hooks) *DeviceBase {
	b := NewClientBase(h)
	b.device = true
	return &DeviceBase{ClientBase: b}
}

// SetDeviceName sets the name of the device the transaction addresses.
func (d *DeviceBase) SetDeviceName(name string) error {
	if err := d.CheckStandby(); err != nil {
		return err
	}
	d.deviceName = name
	return nil
}

// DeviceName returns the device name.
func (d *DeviceBase) DeviceName() string {
	return d.deviceName
}
