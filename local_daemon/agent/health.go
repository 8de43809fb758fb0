package agent

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/dreamworksanimation/arras4-node/local_daemon/domain"
)

// checkIPCSocket runs the first health check named in spec §6: the
// router IPC socket file must exist, be a socket, and carry the
// configured permission bits.
func checkIPCSocket(path string, perm os.FileMode) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrIPCSocketMissing, path)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%w: %s", domain.ErrIPCSocketNotSocket, path)
	}
	if info.Mode().Perm() != perm {
		return fmt.Errorf("%w: %s has mode %o, want %o", domain.ErrIPCSocketPermission, path, info.Mode().Perm(), perm)
	}
	return nil
}

// checkRootPartition runs the second health check: root-partition
// usage must stay under maxUsagePercent, and a temp file must be
// writable.
func checkRootPartition(maxUsagePercent int) error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs("/", &stat); err != nil {
		return fmt.Errorf("statfs /: %w", err)
	}

	used := stat.Blocks - stat.Bfree
	usagePercent := int(used * 100 / stat.Blocks)
	if usagePercent >= maxUsagePercent {
		return fmt.Errorf("root partition at %d%% usage, limit is %d%%", usagePercent, maxUsagePercent)
	}

	f, err := os.CreateTemp("", "arras-health-*")
	if err != nil {
		return fmt.Errorf("writing health-check temp file: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if _, err := f.WriteString(time.Now().String()); err != nil {
		return fmt.Errorf("writing health-check temp file: %w", err)
	}
	return nil
}
