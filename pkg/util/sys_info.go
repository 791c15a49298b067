package util

import (
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
)

// GetOSPrettyName 获取更具可读性的操作系统名称及版本，例如 "ubuntu 24.04 (linux/amd64)"
func GetOSPrettyName() string {
	suffix := " (" + runtime.GOOS + "/" + runtime.GOARCH + ")"
	info, err := host.Info()
	if err != nil || info.Platform == "" {
		return runtime.GOOS + suffix
	}
	return strings.TrimSpace(info.Platform+" "+info.PlatformVersion) + suffix
}

// GetHostname 主机名，失败时返回空
func GetHostname() string {
	info, err := host.Info()
	if err != nil {
		return ""
	}
	return info.Hostname
}
