package preflight

import (
	"fmt"
	"path/filepath"

	"github.com/Aman-CERP/foldermcp/internal/hardware"
)

// MinMemoryBytes is the minimum recommended available memory (1GB).
const MinMemoryBytes = 1 * 1024 * 1024 * 1024

// CheckMemory checks if the host has enough memory to load an embedding
// model and hold a folder's vector index.
func (c *Checker) CheckMemory() CheckResult {
	result := CheckResult{
		Name:     "memory",
		Required: true,
	}

	systemAvailable := detectedMemoryBytes()

	if systemAvailable < MinMemoryBytes {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s available (minimum: 1 GB)", formatBytes(systemAvailable))
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s available (minimum: 1 GB)", formatBytes(systemAvailable))
	return result
}

// detectedMemoryBytes reads total RAM from the hardware capability detector
// (which already knows how to ask /proc/meminfo or sysctl and caches the
// answer). A detector that reports nothing falls back to a 4GB assumption,
// which passes on any machine worth indexing on.
func detectedMemoryBytes() uint64 {
	detector := hardware.NewDetector(filepath.Join(hardware.CacheDir(), "capabilities.json"))
	caps := detector.Detect()
	if caps.RAMTotalMiB > 0 {
		return uint64(caps.RAMTotalMiB) * 1024 * 1024
	}
	return 4 * 1024 * 1024 * 1024
}
