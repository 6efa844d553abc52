//go:build unix

package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/foldersim/simcore/internal/types"
)

func createFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func TestRunCompletesBasicScan(t *testing.T) {
	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "A"))
	mustMkdir(t, filepath.Join(root, "B"))
	createFile(t, filepath.Join(root, "A", "f.txt"), 1024)
	createFile(t, filepath.Join(root, "B", "f.txt"), 1024)

	s := New(Deps{}, 1)
	report, err := s.Run(context.Background(), types.ScanRequest{
		RootPath:            root,
		FileEquality:        types.EqualityNameSize,
		StructurePolicy:     types.StructureRelative,
		SimilarityThreshold: 0.80,
		Concurrency:          2,
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if report.ScanID == "" {
		t.Error("expected a non-empty scan ID")
	}
	if len(report.Groups) != 1 {
		t.Fatalf("got %d groups, want 1 (A and B should match)", len(report.Groups))
	}
	if len(report.Metrics) != 3 {
		t.Errorf("got %d phase timings, want 3", len(report.Metrics))
	}
}

func TestRunRecordsScanInHistory(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "f.txt"), 10)

	s := New(Deps{}, 1)
	if _, err := s.Run(context.Background(), types.ScanRequest{
		RootPath:        root,
		FileEquality:    types.EqualityNameSize,
		StructurePolicy: types.StructureRelative,
	}); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	history := s.RecentScans()
	if len(history) != 1 {
		t.Fatalf("got %d history entries, want 1", len(history))
	}
	if history[0].Status != types.StatusCompleted {
		t.Errorf("status = %v, want completed", history[0].Status)
	}
}

func TestRunRootNotFoundFails(t *testing.T) {
	s := New(Deps{}, 1)
	_, err := s.Run(context.Background(), types.ScanRequest{RootPath: "/nonexistent/does/not/exist"})
	if err == nil {
		t.Fatal("expected an error for a missing root")
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "f.txt"), 10)

	s := New(Deps{}, 1)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		_, _ = s.Run(context.Background(), types.ScanRequest{
			RootPath:        root,
			FileEquality:    types.EqualityNameSize,
			StructurePolicy: types.StructureRelative,
		})
		close(done)
	}()

	sawRunning := false
	timeout := time.After(5 * time.Second)
	for !sawRunning {
		select {
		case snap := <-ch:
			if snap.Status == types.StatusRunning || snap.Status == types.StatusCompleted {
				sawRunning = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for a snapshot")
		}
	}
	<-done
}

func TestCancelStopsScan(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 50; i++ {
		dir := filepath.Join(root, "d", string(rune('a'+i%26)))
		mustMkdir(t, dir)
		createFile(t, filepath.Join(dir, "f.txt"), 10)
	}

	s := New(Deps{}, 1)
	s.Cancel()
	_, err := s.Run(context.Background(), types.ScanRequest{
		RootPath:        root,
		FileEquality:    types.EqualityNameSize,
		StructurePolicy: types.StructureRelative,
	})
	if err == nil {
		t.Fatal("expected Run to report cancellation")
	}
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("MkdirAll(%s): %v", path, err)
	}
}
