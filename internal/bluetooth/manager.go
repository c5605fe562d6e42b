// Package bluetooth talks to the BlueZ daemon over D-Bus: adapter and
// device inventory for the web interface, and the auto-pair agent that
// accepts incoming A2DP connections. Stateless request/response glue —
// every call hits the bus fresh.
package bluetooth

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	bluezService       = "org.bluez"
	adapterInterface   = "org.bluez.Adapter1"
	deviceInterface    = "org.bluez.Device1"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	propertiesIface    = "org.freedesktop.DBus.Properties"
)

// AdapterInfo is the adapter state shown in the web interface.
type AdapterInfo struct {
	Name         string `json:"name"`
	Address      string `json:"address"`
	Powered      bool   `json:"powered"`
	Discoverable bool   `json:"discoverable"`
	Pairable     bool   `json:"pairable"`
	Discovering  bool   `json:"discovering"`
}

// Device is one known (paired or connected) Bluetooth device.
type Device struct {
	Path      string `json:"path"`
	Address   string `json:"address"`
	Name      string `json:"name"`
	Alias     string `json:"alias"`
	Paired    bool   `json:"paired"`
	Connected bool   `json:"connected"`
	Trusted   bool   `json:"trusted"`
}

// Manager accesses one Bluetooth adapter through BlueZ.
type Manager struct {
	conn        *dbus.Conn
	adapterPath dbus.ObjectPath
}

// NewManager connects to the system bus and targets the named adapter
// (normally "hci0").
func NewManager(adapter string) (*Manager, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return &Manager{
		conn:        conn,
		adapterPath: dbus.ObjectPath("/org/bluez/" + adapter),
	}, nil
}

func (m *Manager) adapter() dbus.BusObject {
	return m.conn.Object(bluezService, m.adapterPath)
}

// AdapterInfo reads the adapter's properties.
func (m *Manager) AdapterInfo() (AdapterInfo, error) {
	var props map[string]dbus.Variant
	err := m.adapter().Call(propertiesIface+".GetAll", 0, adapterInterface).Store(&props)
	if err != nil {
		return AdapterInfo{}, fmt.Errorf("failed to get adapter properties: %w", err)
	}

	return AdapterInfo{
		Name:         variantString(props["Name"]),
		Address:      variantString(props["Address"]),
		Powered:      variantBool(props["Powered"]),
		Discoverable: variantBool(props["Discoverable"]),
		Pairable:     variantBool(props["Pairable"]),
		Discovering:  variantBool(props["Discovering"]),
	}, nil
}

// SetDiscoverable switches discoverable mode. A timeout of zero keeps
// the adapter discoverable indefinitely.
func (m *Manager) SetDiscoverable(discoverable bool, timeout uint32) error {
	adapter := m.adapter()
	if err := adapter.SetProperty(adapterInterface+".Discoverable", dbus.MakeVariant(discoverable)); err != nil {
		return fmt.Errorf("failed to set discoverable: %w", err)
	}
	if err := adapter.SetProperty(adapterInterface+".DiscoverableTimeout", dbus.MakeVariant(timeout)); err != nil {
		return fmt.Errorf("failed to set discoverable timeout: %w", err)
	}
	log.Info().Bool("discoverable", discoverable).Uint32("timeout", timeout).Msg("Discoverable mode set")
	return nil
}

// SetPairable switches pairable mode.
func (m *Manager) SetPairable(pairable bool) error {
	if err := m.adapter().SetProperty(adapterInterface+".Pairable", dbus.MakeVariant(pairable)); err != nil {
		return fmt.Errorf("failed to set pairable: %w", err)
	}
	log.Info().Bool("pairable", pairable).Msg("Pairable mode set")
	return nil
}

// Devices lists every device BlueZ knows under this adapter.
func (m *Manager) Devices() ([]Device, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := m.conn.Object(bluezService, "/").Call(objectManagerIface+".GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate bluez objects: %w", err)
	}

	var devices []Device
	for path, interfaces := range objects {
		props, ok := interfaces[deviceInterface]
		if !ok || !strings.HasPrefix(string(path), string(m.adapterPath)) {
			continue
		}
		devices = append(devices, Device{
			Path:      string(path),
			Address:   variantString(props["Address"]),
			Name:      variantString(props["Name"]),
			Alias:     variantString(props["Alias"]),
			Paired:    variantBool(props["Paired"]),
			Connected: variantBool(props["Connected"]),
			Trusted:   variantBool(props["Trusted"]),
		})
	}

	log.Debug().Int("count", len(devices)).Msg("Enumerated Bluetooth devices")
	return devices, nil
}

// ConnectedDevice returns the currently connected device, or nil.
func (m *Manager) ConnectedDevice() (*Device, error) {
	devices, err := m.Devices()
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].Connected {
			return &devices[i], nil
		}
	}
	return nil, nil
}

// RemoveDevice unpairs a device by MAC address.
func (m *Manager) RemoveDevice(address string) error {
	call := m.adapter().Call(adapterInterface+".RemoveDevice", 0, m.devicePath(address))
	if call.Err != nil {
		return fmt.Errorf("failed to remove device %s: %w", address, call.Err)
	}
	log.Info().Str("address", address).Msg("Device removed")
	return nil
}

// TrustDevice marks a device trusted so it can reconnect without
// re-pairing.
func (m *Manager) TrustDevice(address string) error {
	device := m.conn.Object(bluezService, m.devicePath(address))
	if err := device.SetProperty(deviceInterface+".Trusted", dbus.MakeVariant(true)); err != nil {
		return fmt.Errorf("failed to trust device %s: %w", address, err)
	}
	log.Info().Str("address", address).Msg("Device trusted")
	return nil
}

// StartDiscovery begins scanning for nearby devices.
func (m *Manager) StartDiscovery() error {
	if call := m.adapter().Call(adapterInterface+".StartDiscovery", 0); call.Err != nil {
		return fmt.Errorf("failed to start discovery: %w", call.Err)
	}
	return nil
}

// StopDiscovery ends a scan.
func (m *Manager) StopDiscovery() error {
	if call := m.adapter().Call(adapterInterface+".StopDiscovery", 0); call.Err != nil {
		return fmt.Errorf("failed to stop discovery: %w", call.Err)
	}
	return nil
}

// devicePath maps a MAC address to its BlueZ object path, e.g.
// AA:BB:CC:DD:EE:FF -> /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func (m *Manager) devicePath(address string) dbus.ObjectPath {
	return dbus.ObjectPath(string(m.adapterPath) + "/dev_" + strings.ReplaceAll(address, ":", "_"))
}

func variantString(v dbus.Variant) string {
	s, _ := v.Value().(string)
	return s
}

func variantBool(v dbus.Variant) bool {
	b, _ := v.Value().(bool)
	return b
}
