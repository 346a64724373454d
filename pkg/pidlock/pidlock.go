package pidlock

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

var lockNameRE = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// PidPath - lock file of a run, name is usually the test image
func PidPath(name string) string {
	return path.Join(os.TempDir(), fmt.Sprintf("ds3-docker-runner.%s.pid", lockNameRE.ReplaceAllString(name, "_")))
}

// CheckAndCreatePidFile refuses to lock when the pid recorded for name belongs to a live process
func CheckAndCreatePidFile(name string, command string) error {
	if name == "" {
		return fmt.Errorf("lock name is required")
	}
	pidPath := PidPath(name)
	if existingPidData, err := os.ReadFile(pidPath); err == nil {
		// pid|command|started
		parts := strings.SplitN(strings.TrimSpace(string(existingPidData)), "|", 3)
		if len(parts) < 3 {
			log.Warn().Str("pidPath", pidPath).Msg("invalid PID file format, will be overwritten")
		} else if pid, err := strconv.Atoi(parts[0]); err == nil && isAlive(pid) {
			cmdLine := ""
			if procInfo, infoErr := process.NewProcess(int32(pid)); infoErr == nil {
				cmdLine, _ = procInfo.Cmdline()
			}
			return fmt.Errorf(
				"another ds3-docker-runner `%s` is already running since %s (pid=%d, pidPath=%s, cmdLine=%s)",
				parts[1], parts[2], pid, pidPath, cmdLine,
			)
		}
	}
	pid := fmt.Sprintf("%d|%s|%s", os.Getpid(), command, time.Now().Format(time.RFC3339))
	return os.WriteFile(pidPath, []byte(pid), 0644)
}

func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if err = proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	return err == nil && exists
}

func RemovePidFile(name string) {
	_ = os.Remove(PidPath(name))
}
