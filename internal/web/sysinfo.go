package web

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// SystemInfo identifies the appliance on the network.
type SystemInfo struct {
	Hostname  string `json:"hostname"`
	IPAddress string `json:"ip_address"`
}

// fallbackIP is the access-point address the image configures when no
// other network is up.
const fallbackIP = "192.168.4.1"

func readSystemInfo() SystemInfo {
	info := SystemInfo{Hostname: "Unknown", IPAddress: fallbackIP}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "hostname", "-I").Output()
	if err != nil {
		log.Debug().Err(err).Msg("Could not read IP address")
		return info
	}
	// First address is usually wlan0.
	if ips := strings.Fields(string(out)); len(ips) > 0 {
		info.IPAddress = ips[0]
	}
	return info
}
