package bluetooth

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	agentInterface    = "org.bluez.Agent1"
	agentManagerIface = "org.bluez.AgentManager1"
	agentPath         = dbus.ObjectPath("/org/bluez/AutoPairAgent")

	// NoInputNoOutput: the receiver has no display or keyboard, so BlueZ
	// uses just-works pairing and every request below auto-accepts.
	agentCapability = "NoInputNoOutput"
)

// Agent is the auto-pair agent. Phones expect a speaker to pair without
// any confirmation, so every Agent1 callback accepts unconditionally.
type Agent struct {
	conn *dbus.Conn
}

// RegisterAgent exports the auto-pair agent on the system bus and makes
// it the default pairing agent.
func RegisterAgent() (*Agent, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	a := &Agent{conn: conn}
	if err := conn.Export(a, agentPath, agentInterface); err != nil {
		return nil, fmt.Errorf("failed to export agent: %w", err)
	}

	manager := conn.Object(bluezService, "/org/bluez")
	if call := manager.Call(agentManagerIface+".RegisterAgent", 0, agentPath, agentCapability); call.Err != nil {
		return nil, fmt.Errorf("failed to register agent: %w", call.Err)
	}
	if call := manager.Call(agentManagerIface+".RequestDefaultAgent", 0, agentPath); call.Err != nil {
		return nil, fmt.Errorf("failed to set default agent: %w", call.Err)
	}

	log.Info().Msg("Auto-pair agent registered as default")
	return a, nil
}

// Unregister removes the agent from BlueZ. Best-effort on shutdown.
func (a *Agent) Unregister() {
	manager := a.conn.Object(bluezService, "/org/bluez")
	if call := manager.Call(agentManagerIface+".UnregisterAgent", 0, agentPath); call.Err != nil {
		log.Debug().Err(call.Err).Msg("Agent unregister failed")
		return
	}
	log.Info().Msg("Auto-pair agent unregistered")
}

// Release is called by BlueZ when the agent is replaced or unregistered.
func (a *Agent) Release() *dbus.Error {
	log.Info().Msg("Agent released")
	return nil
}

// AuthorizeService approves a service (A2DP, AVRCP) for a device.
func (a *Agent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	log.Info().Str("device", string(device)).Str("uuid", uuid).Msg("Authorizing service")
	return nil
}

// RequestPinCode answers legacy PIN pairing. Rare for A2DP sources.
func (a *Agent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	log.Info().Str("device", string(device)).Msg("PIN code requested")
	return "0000", nil
}

// RequestPasskey answers numeric passkey pairing.
func (a *Agent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	log.Info().Str("device", string(device)).Msg("Passkey requested")
	return 0, nil
}

// DisplayPasskey would show a passkey; there is nothing to show it on.
func (a *Agent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	log.Info().Str("device", string(device)).Uint32("passkey", passkey).Msg("Display passkey")
	return nil
}

// DisplayPinCode would show a PIN; same story.
func (a *Agent) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	log.Info().Str("device", string(device)).Str("pin", pincode).Msg("Display PIN")
	return nil
}

// RequestConfirmation auto-confirms the numeric comparison prompt.
func (a *Agent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	log.Info().Str("device", string(device)).Uint32("passkey", passkey).Msg("Auto-confirming pairing")
	return nil
}

// RequestAuthorization auto-authorizes an incoming connection.
func (a *Agent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	log.Info().Str("device", string(device)).Msg("Auto-authorizing connection")
	return nil
}

// Cancel aborts an outstanding pairing request.
func (a *Agent) Cancel() *dbus.Error {
	log.Info().Msg("Pairing cancelled")
	return nil
}
