// Package resource samples process and host resource usage for the scan
// scheduler's per-phase metrics (§4.6 "peak_rss (sampled)", SUPPLEMENTED
// FEATURES: resource sampling). It mirrors the reference implementation's
// read_resource_sample, translated from Python's resource.getrusage and
// os.getloadavg to golang.org/x/sys/unix's equivalents.
package resource

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/foldersim/simcore/internal/types"
)

// Sample captures a point-in-time ResourceSample.
func Sample() types.ResourceSample {
	s := types.ResourceSample{
		Timestamp: time.Now(),
		CPUCores:  runtime.NumCPU(),
	}

	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err == nil {
		s.ProcessRSSBytes = ru.Maxrss * 1024 // ru_maxrss is in KiB on Linux
	}

	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err == nil {
		s.Load1 = float64(info.Loads[0]) / 65536.0
	}

	if read, written, ok := processIOBytes(); ok {
		s.ProcessReadBytes = read
		s.ProcessWriteBytes = written
	}

	return s
}

// processIOBytes reads cumulative read/write byte counters from
// /proc/self/io, matching the reference implementation's behavior; it
// returns ok=false if the file is unavailable (non-Linux, restricted
// container).
func processIOBytes() (read, written int64, ok bool) {
	f, err := os.Open("/proc/self/io")
	if err != nil {
		return 0, 0, false
	}
	defer func() { _ = f.Close() }()

	found := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "read_bytes:"):
			if v, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "read_bytes:")), 10, 64); err == nil {
				read = v
				found = true
			}
		case strings.HasPrefix(line, "write_bytes:"):
			if v, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "write_bytes:")), 10, 64); err == nil {
				written = v
				found = true
			}
		}
	}
	return read, written, found
}
