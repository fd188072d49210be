package systeminfo

import (
	"context"
	"os"
	"runtime"
	"time"

	"siv/logger"

	"github.com/shirou/gopsutil/v4/host"
)

// HostInfo identifies the machine a report was produced on.
type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	Arch            string `json:"arch"`
}

// GetHostInfo gathers the host header. Lookups that fail are logged and
// left empty; the result is never nil.
func GetHostInfo(ctx context.Context) *HostInfo {
	info := &HostInfo{OS: runtime.GOOS, Arch: runtime.GOARCH}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	stat, err := host.InfoWithContext(ctx)
	if err != nil {
		logger.Warnf("Failed to gather host information: %v", err)
	}
	if stat != nil {
		info.Hostname = stat.Hostname
		if stat.OS != "" {
			info.OS = stat.OS
		}
		info.Platform = stat.Platform
		info.PlatformVersion = stat.PlatformVersion
		info.KernelVersion = stat.KernelVersion
		if stat.KernelArch != "" {
			info.Arch = stat.KernelArch
		}
	}
	if info.Hostname == "" {
		if name, err := os.Hostname(); err == nil {
			info.Hostname = name
		}
	}
	return info
}

// String renders the host as "hostname (platform version, os/arch)".
func (h *HostInfo) String() string {
	if h == nil {
		return ""
	}
	desc := h.OS + "/" + h.Arch
	if h.Platform != "" {
		platform := h.Platform
		if h.PlatformVersion != "" {
			platform += " " + h.PlatformVersion
		}
		desc = platform + ", " + desc
	}
	return h.Hostname + " (" + desc + ")"
}
