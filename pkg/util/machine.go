package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/denisbrodbeck/machineid"
)

var (
	machineIDCache = map[string]string{}
	machineIDMutex sync.Mutex
)

// ErrNoMachineID 无法获取机器标识
var ErrNoMachineID = errors.New("machine id unavailable")

// ProtectedMachineID 获取当前机器针对 appID 的唯一标识符
// The raw machine id never leaves this function; callers get an HMAC bound to appID.
// 优先使用 machineid 库，失败则尝试获取主板序列号
func ProtectedMachineID(appID string) (string, error) {
	machineIDMutex.Lock()
	defer machineIDMutex.Unlock()

	if id, ok := machineIDCache[appID]; ok {
		return id, nil
	}

	// 1. 尝试使用 machineid 库
	id, err := machineid.ProtectedID(appID)
	if err == nil && id != "" {
		machineIDCache[appID] = id
		return id, nil
	}

	// 2. 尝试获取主板序列号
	serial, err := getMotherboardID()
	if err == nil && serial != "" {
		mac := hmac.New(sha256.New, []byte(serial))
		mac.Write([]byte(appID))
		id = hex.EncodeToString(mac.Sum(nil))
		machineIDCache[appID] = id
		return id, nil
	}

	return "", ErrNoMachineID
}

func getMotherboardID() (string, error) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("wmic", "baseboard", "get", "serialnumber")
	case "linux":
		content, err := os.ReadFile("/sys/class/dmi/id/board_serial")
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(content)), nil
	default:
		return "", errors.New("unsupported os")
	}

	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return parseSerialNumber(string(out)), nil
}

func parseSerialNumber(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, "SerialNumber") {
			continue
		}
		return line
	}
	return ""
}
