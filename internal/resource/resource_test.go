//go:build linux

package resource

import "testing"

func TestSampleReportsCPUCores(t *testing.T) {
	s := Sample()
	if s.CPUCores <= 0 {
		t.Errorf("CPUCores = %d, want > 0", s.CPUCores)
	}
}

func TestSampleReportsNonNegativeRSS(t *testing.T) {
	s := Sample()
	if s.ProcessRSSBytes < 0 {
		t.Errorf("ProcessRSSBytes = %d, want >= 0", s.ProcessRSSBytes)
	}
}

func TestProcessIOBytesDoesNotPanicWhenUnavailable(t *testing.T) {
	// /proc/self/io is always readable in CI containers running this test
	// suite, but the function must degrade gracefully if it is not.
	_, _, _ = processIOBytes()
}
