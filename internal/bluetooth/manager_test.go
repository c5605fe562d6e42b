package bluetooth

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestDevicePath(t *testing.T) {
	m := &Manager{adapterPath: "/org/bluez/hci0"}

	tests := []struct {
		address string
		want    dbus.ObjectPath
	}{
		{"AA:BB:CC:DD:EE:FF", "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"},
		{"00:11:22:33:44:55", "/org/bluez/hci0/dev_00_11_22_33_44_55"},
	}

	for _, tt := range tests {
		if got := m.devicePath(tt.address); got != tt.want {
			t.Errorf("devicePath(%q) = %q, want %q", tt.address, got, tt.want)
		}
	}
}

func TestVariantHelpers(t *testing.T) {
	if got := variantString(dbus.MakeVariant("rpi-receiver")); got != "rpi-receiver" {
		t.Errorf("variantString = %q, want rpi-receiver", got)
	}
	if got := variantString(dbus.Variant{}); got != "" {
		t.Errorf("variantString on empty variant = %q, want empty", got)
	}
	if !variantBool(dbus.MakeVariant(true)) {
		t.Error("variantBool(true) = false")
	}
	if variantBool(dbus.MakeVariant("yes")) {
		t.Error("variantBool on non-bool variant = true, want false")
	}
}
