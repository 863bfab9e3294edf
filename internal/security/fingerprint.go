package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// HardwareHint captures the stable machine factors that anchor a device
// identity to one installation. The hint is advisory: missing factors degrade
// to fallbacks instead of failing identity creation.
type HardwareHint struct {
	Digest      string    `json:"digest"`
	Hostname    string    `json:"hostname"`
	MACAddress  string    `json:"mac_address"`
	CPUID       string    `json:"cpu_id"`
	OS          string    `json:"os"`
	Platform    string    `json:"platform"`
	CollectedAt time.Time `json:"collected_at"`
}

// HintCollector gathers hardware hints with a short-lived cache so repeated
// identity checks do not re-enumerate network interfaces.
type HintCollector struct {
	mu          sync.RWMutex
	cached      *HardwareHint
	cacheExpiry time.Time
	cacheTTL    time.Duration
}

// NewHintCollector creates a hint collector with a one-hour cache.
func NewHintCollector() *HintCollector {
	return &HintCollector{cacheTTL: time.Hour}
}

// Collect gathers the hardware factors and folds them into a single digest.
func (hc *HintCollector) Collect() (*HardwareHint, error) {
	hc.mu.RLock()
	if hc.cached != nil && time.Now().Before(hc.cacheExpiry) {
		hint := *hc.cached
		hc.mu.RUnlock()
		return &hint, nil
	}
	hc.mu.RUnlock()

	mac, err := primaryMAC()
	if err != nil {
		mac = "unknown-mac"
		slog.Warn("failed to read MAC address, using fallback",
			slog.String("error", err.Error()),
		)
	}

	hostname, err := normalizedHostname()
	if err != nil {
		hostname = "unknown-host"
		slog.Warn("failed to read hostname, using fallback",
			slog.String("error", err.Error()),
		)
	}

	cpuID := cpuIdentifier()

	factors := strings.Join([]string{mac, hostname, cpuID, runtime.GOOS, runtime.GOARCH}, "|")
	sum := sha256.Sum256([]byte(factors))

	hint := &HardwareHint{
		Digest:      hex.EncodeToString(sum[:]),
		Hostname:    hostname,
		MACAddress:  mac,
		CPUID:       cpuID,
		OS:          runtime.GOOS,
		Platform:    runtime.GOARCH,
		CollectedAt: time.Now(),
	}

	hc.mu.Lock()
	hc.cached = hint
	hc.cacheExpiry = time.Now().Add(hc.cacheTTL)
	hc.mu.Unlock()

	slog.Debug("hardware hint collected",
		slog.String("digest", hint.Digest[:16]),
		slog.String("hostname", hostname),
		slog.String("os", runtime.GOOS),
	)
	return hint, nil
}

// primaryMAC returns the MAC address of the first up, non-loopback interface.
func primaryMAC() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("list network interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}

	// Fallback: any interface with a hardware address, up or not.
	for _, iface := range interfaces {
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}

	return "", fmt.Errorf("no usable MAC address found")
}

func normalizedHostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("read hostname: %w", err)
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", fmt.Errorf("hostname is empty")
	}
	return hostname, nil
}

// cpuIdentifier derives a short stable CPU identifier. Per-OS sources differ;
// every branch falls back to architecture info rather than failing.
func cpuIdentifier() string {
	var raw string
	switch runtime.GOOS {
	case "windows":
		if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
			raw = procID
		} else {
			raw = fmt.Sprintf("windows-%s-%s", runtime.GOARCH, os.Getenv("PROCESSOR_ARCHITECTURE"))
		}
	case "linux":
		if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "model name") || strings.HasPrefix(line, "cpu family") {
					raw = line
					break
				}
			}
		}
		if raw == "" {
			raw = fmt.Sprintf("linux-%s", runtime.GOARCH)
		}
	default:
		raw = fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)
	}

	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}
