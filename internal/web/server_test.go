package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"btreceiver/internal/bluetooth"
	"btreceiver/internal/player"
)

type fakePlayer struct {
	status  player.Status
	started bool
	stopped bool
	nexts   int
	prevs   int
}

func (f *fakePlayer) Start() bool {
	if f.status.Playing || f.status.Total == 0 {
		return false
	}
	f.started = true
	f.status.Playing = true
	return true
}

func (f *fakePlayer) Stop() { f.stopped = true; f.status.Playing = false }

func (f *fakePlayer) Next() bool {
	if !f.status.Playing {
		return false
	}
	f.nexts++
	return true
}

func (f *fakePlayer) Previous() bool {
	if !f.status.Playing {
		return false
	}
	f.prevs++
	return true
}

func (f *fakePlayer) ToggleShuffle() bool {
	f.status.Shuffle = !f.status.Shuffle
	return f.status.Shuffle
}

func (f *fakePlayer) Status() player.Status { return f.status }

type fakeBluetooth struct {
	fail    bool
	removed []string
	trusted []string
	disc    *bool
}

func (f *fakeBluetooth) AdapterInfo() (bluetooth.AdapterInfo, error) {
	if f.fail {
		return bluetooth.AdapterInfo{}, errors.New("dbus unavailable")
	}
	return bluetooth.AdapterInfo{Name: "rpi-receiver", Address: "B8:27:EB:00:00:01", Powered: true}, nil
}

func (f *fakeBluetooth) Devices() ([]bluetooth.Device, error) {
	if f.fail {
		return nil, errors.New("dbus unavailable")
	}
	return []bluetooth.Device{
		{Address: "AA:BB:CC:DD:EE:FF", Name: "Phone", Paired: true, Connected: true},
		{Address: "11:22:33:44:55:66", Name: "Tablet", Paired: true},
	}, nil
}

func (f *fakeBluetooth) ConnectedDevice() (*bluetooth.Device, error) {
	devices, err := f.Devices()
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

func (f *fakeBluetooth) SetDiscoverable(discoverable bool, timeout uint32) error {
	if f.fail {
		return errors.New("dbus unavailable")
	}
	f.disc = &discoverable
	return nil
}

func (f *fakeBluetooth) RemoveDevice(address string) error {
	f.removed = append(f.removed, address)
	return nil
}

func (f *fakeBluetooth) TrustDevice(address string) error {
	f.trusted = append(f.trusted, address)
	return nil
}

type fakeMixer struct {
	volume int
	failed bool
}

func (f *fakeMixer) Volume() int { return f.volume }
func (f *fakeMixer) SetVolume(level int) bool {
	if f.failed {
		return false
	}
	f.volume = level
	return true
}

type fakeServices struct{ err error }

func (f *fakeServices) RestartStack() error { return f.err }

type fakeMounts struct{ mount string }

func (f *fakeMounts) Mounted() (string, bool) { return f.mount, f.mount != "" }

func newTestServer(p *fakePlayer, bt *fakeBluetooth, mounts MountInfo) *Server {
	s := NewServer(p, bt, &fakeMixer{volume: 70}, &fakeServices{}, mounts)
	s.sysInfo = func() SystemInfo {
		return SystemInfo{Hostname: "rpi", IPAddress: "192.168.4.1"}
	}
	return s
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("%s %s returned non-JSON body %q: %v", method, path, rec.Body.String(), err)
	}
	return rec, payload
}

func TestStatusEndpoint(t *testing.T) {
	p := &fakePlayer{status: player.Status{Total: 3}}
	s := newTestServer(p, &fakeBluetooth{}, &fakeMounts{mount: "/media/usb"})

	rec, payload := do(t, s, http.MethodGet, "/api/status", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/status = %d, want 200", rec.Code)
	}
	if payload["success"] != true {
		t.Error("success = false, want true")
	}
	adapter, ok := payload["adapter"].(map[string]any)
	if !ok || adapter["name"] != "rpi-receiver" {
		t.Errorf("adapter = %v, want name rpi-receiver", payload["adapter"])
	}
	if payload["volume"] != float64(70) {
		t.Errorf("volume = %v, want 70", payload["volume"])
	}
	ps, ok := payload["player"].(map[string]any)
	if !ok {
		t.Fatalf("player = %v, want object", payload["player"])
	}
	if ps["media_mounted"] != true || ps["media_mount"] != "/media/usb" {
		t.Errorf("player mount state = %v/%v, want true//media/usb", ps["media_mounted"], ps["media_mount"])
	}
}

func TestStatusEndpointBluetoothFailure(t *testing.T) {
	s := newTestServer(&fakePlayer{}, &fakeBluetooth{fail: true}, nil)

	rec, payload := do(t, s, http.MethodGet, "/api/status", "")

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if payload["success"] != false {
		t.Error("success = true on failure, want false")
	}
}

func TestDevicesEndpoint(t *testing.T) {
	s := newTestServer(&fakePlayer{}, &fakeBluetooth{}, nil)

	rec, payload := do(t, s, http.MethodGet, "/api/devices", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/devices = %d, want 200", rec.Code)
	}
	devices, ok := payload["devices"].([]any)
	if !ok || len(devices) != 2 {
		t.Errorf("devices = %v, want 2 entries", payload["devices"])
	}
}

func TestDiscoverableDefaultsToEnabled(t *testing.T) {
	bt := &fakeBluetooth{}
	s := newTestServer(&fakePlayer{}, bt, nil)

	rec, payload := do(t, s, http.MethodPost, "/api/discoverable", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/discoverable = %d, want 200", rec.Code)
	}
	if bt.disc == nil || !*bt.disc {
		t.Error("empty body did not enable discoverable mode")
	}
	if payload["discoverable"] != true {
		t.Errorf("discoverable = %v, want true", payload["discoverable"])
	}
}

func TestDiscoverableExplicitDisable(t *testing.T) {
	bt := &fakeBluetooth{}
	s := newTestServer(&fakePlayer{}, bt, nil)

	_, payload := do(t, s, http.MethodPost, "/api/discoverable", `{"discoverable": false}`)

	if bt.disc == nil || *bt.disc {
		t.Error("explicit false did not disable discoverable mode")
	}
	if payload["discoverable"] != false {
		t.Errorf("discoverable = %v, want false", payload["discoverable"])
	}
}

func TestRemoveAndTrustDevice(t *testing.T) {
	bt := &fakeBluetooth{}
	s := newTestServer(&fakePlayer{}, bt, nil)

	rec, _ := do(t, s, http.MethodDelete, "/api/device/AA:BB:CC:DD:EE:FF", "")
	if rec.Code != http.StatusOK {
		t.Errorf("DELETE device = %d, want 200", rec.Code)
	}
	rec, _ = do(t, s, http.MethodPost, "/api/device/AA:BB:CC:DD:EE:FF/trust", "")
	if rec.Code != http.StatusOK {
		t.Errorf("POST trust = %d, want 200", rec.Code)
	}

	if len(bt.removed) != 1 || bt.removed[0] != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("removed = %v, want the addressed device", bt.removed)
	}
	if len(bt.trusted) != 1 || bt.trusted[0] != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("trusted = %v, want the addressed device", bt.trusted)
	}
}

func TestVolumeEndpoints(t *testing.T) {
	s := newTestServer(&fakePlayer{}, &fakeBluetooth{}, nil)

	_, payload := do(t, s, http.MethodGet, "/api/volume", "")
	if payload["volume"] != float64(70) {
		t.Errorf("GET volume = %v, want 70", payload["volume"])
	}

	rec, payload := do(t, s, http.MethodPost, "/api/volume", `{"level": 42}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST volume = %d, want 200", rec.Code)
	}
	if payload["volume"] != float64(42) {
		t.Errorf("set volume = %v, want 42", payload["volume"])
	}

	rec, _ = do(t, s, http.MethodPost, "/api/volume", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST volume without level = %d, want 400", rec.Code)
	}
}

func TestSetVolumeEchoesClampedLevel(t *testing.T) {
	s := newTestServer(&fakePlayer{}, &fakeBluetooth{}, nil)

	rec, payload := do(t, s, http.MethodPost, "/api/volume", `{"level": 150}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST volume = %d, want 200", rec.Code)
	}
	if payload["volume"] != float64(100) {
		t.Errorf("set volume 150 echoed %v, want clamped 100", payload["volume"])
	}

	_, payload = do(t, s, http.MethodPost, "/api/volume", `{"level": -10}`)
	if payload["volume"] != float64(0) {
		t.Errorf("set volume -10 echoed %v, want clamped 0", payload["volume"])
	}
}

func TestPlayerTransportEndpoints(t *testing.T) {
	p := &fakePlayer{status: player.Status{Total: 3}}
	s := newTestServer(p, &fakeBluetooth{}, nil)

	rec, _ := do(t, s, http.MethodPost, "/api/player/next", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("next while stopped = %d, want 409", rec.Code)
	}

	rec, _ = do(t, s, http.MethodPost, "/api/player/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start = %d, want 200", rec.Code)
	}

	rec, payload := do(t, s, http.MethodPost, "/api/player/start", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("start while playing = %d, want 409", rec.Code)
	}
	if msg, _ := payload["error"].(string); msg != "already playing" {
		t.Errorf("error = %q, want %q", msg, "already playing")
	}

	rec, _ = do(t, s, http.MethodPost, "/api/player/next", "")
	if rec.Code != http.StatusOK || p.nexts != 1 {
		t.Errorf("next = %d (nexts=%d), want 200 and one call", rec.Code, p.nexts)
	}
	rec, _ = do(t, s, http.MethodPost, "/api/player/previous", "")
	if rec.Code != http.StatusOK || p.prevs != 1 {
		t.Errorf("previous = %d (prevs=%d), want 200 and one call", rec.Code, p.prevs)
	}

	_, payload = do(t, s, http.MethodPost, "/api/player/shuffle", "")
	if payload["shuffle"] != true {
		t.Errorf("shuffle = %v, want true", payload["shuffle"])
	}

	rec, _ = do(t, s, http.MethodPost, "/api/player/stop", "")
	if rec.Code != http.StatusOK || !p.stopped {
		t.Errorf("stop = %d (stopped=%v), want 200 and Stop called", rec.Code, p.stopped)
	}
}

func TestPlayerStartEmptyLibrary(t *testing.T) {
	s := newTestServer(&fakePlayer{}, &fakeBluetooth{}, nil)

	rec, payload := do(t, s, http.MethodPost, "/api/player/start", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("start with no tracks = %d, want 404", rec.Code)
	}
	if msg, _ := payload["error"].(string); msg != "no tracks found" {
		t.Errorf("error = %q, want %q", msg, "no tracks found")
	}
}

func TestPlayerStatusWithoutMonitor(t *testing.T) {
	s := newTestServer(&fakePlayer{status: player.Status{Total: 2, Track: "a.mp3"}}, &fakeBluetooth{}, nil)

	_, payload := do(t, s, http.MethodGet, "/api/player/status", "")

	ps := payload["player"].(map[string]any)
	if ps["current_file"] != "a.mp3" || ps["total_tracks"] != float64(2) {
		t.Errorf("player status = %v", ps)
	}
	if _, present := ps["media_mounted"]; present {
		t.Error("media_mounted present without a monitor")
	}
}

func TestRestartEndpoint(t *testing.T) {
	s := NewServer(&fakePlayer{}, &fakeBluetooth{}, &fakeMixer{}, &fakeServices{err: errors.New("unit failed")}, nil)
	s.sysInfo = func() SystemInfo { return SystemInfo{} }

	rec, payload := do(t, s, http.MethodPost, "/api/restart", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("restart with failing services = %d, want 500", rec.Code)
	}
	if payload["success"] != false {
		t.Error("success = true on restart failure")
	}
}

func TestBluetoothEndpointsWithoutBus(t *testing.T) {
	p := &fakePlayer{status: player.Status{Total: 2}}
	s := NewServer(p, nil, &fakeMixer{volume: 70}, &fakeServices{}, nil)
	s.sysInfo = func() SystemInfo {
		return SystemInfo{Hostname: "rpi", IPAddress: "192.168.4.1"}
	}

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/status"},
		{http.MethodGet, "/api/devices"},
		{http.MethodPost, "/api/discoverable"},
		{http.MethodDelete, "/api/device/AA:BB:CC:DD:EE:FF"},
		{http.MethodPost, "/api/device/AA:BB:CC:DD:EE:FF/trust"},
	} {
		rec, payload := do(t, s, tc.method, tc.path, "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s = %d, want 503", tc.method, tc.path, rec.Code)
		}
		if payload["error"] != "Bluetooth unavailable" {
			t.Errorf("%s %s error = %v", tc.method, tc.path, payload["error"])
		}
	}

	// Playback keeps working without the bus.
	rec, _ := do(t, s, http.MethodGet, "/api/player/status", "")
	if rec.Code != http.StatusOK {
		t.Errorf("player status without bluetooth = %d, want 200", rec.Code)
	}
}

func TestNotFound(t *testing.T) {
	s := newTestServer(&fakePlayer{}, &fakeBluetooth{}, nil)

	rec, payload := do(t, s, http.MethodGet, "/api/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown route = %d, want 404", rec.Code)
	}
	if payload["success"] != false {
		t.Error("unknown route success = true, want false")
	}
}
