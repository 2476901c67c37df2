// Package device holds the device-side concerns that sit outside the staging
// area: identity info parsed from the staged SysInfo file and the connection
// monitor that detects mid-sync disconnection.
package device

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// Info is the device identity snapshot included in sync summaries.
type Info struct {
	Model         string `json:"model"`
	CapacityBytes int64  `json:"capacity_bytes"`
	Recognized    bool   `json:"recognized"`
}

// ReadInfo parses a staged SysInfo file. The file is optional device
// equipment: when it is missing or unreadable the device still syncs, it
// just reports Recognized=false.
func ReadInfo(sysInfoPath string) Info {
	f, err := os.Open(sysInfoPath)
	if err != nil {
		return Info{}
	}
	defer f.Close()

	info := Info{}
	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}

		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "ModelNumStr":
			info.Model = value
		case "Capacity":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				info.CapacityBytes = n
			}
		}
	}

	if scanner.Err() != nil {
		return Info{}
	}

	info.Recognized = info.Model != ""

	return info
}
