package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteReadPIDFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sherpad.pid")

	if err := writePIDFile(path, 4242); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}

	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid != 4242 {
		t.Errorf("readPIDFile() = %d, want 4242", pid)
	}
}

func TestReadPIDFileMissing(t *testing.T) {
	if _, err := readPIDFile(filepath.Join(t.TempDir(), "absent.pid")); err == nil {
		t.Error("readPIDFile(missing) expected error, got nil")
	}
}

func TestReadPIDFileMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sherpad.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := readPIDFile(path); err == nil {
		t.Error("readPIDFile(malformed) expected error, got nil")
	}
}

func TestIsRunning(t *testing.T) {
	t.Run("current process is running", func(t *testing.T) {
		if !isRunning(os.Getpid()) {
			t.Error("isRunning(self) = false, want true")
		}
	})

	t.Run("exited process is not running", func(t *testing.T) {
		cmd := exec.Command("true")
		if err := cmd.Run(); err != nil {
			t.Skipf("no /bin/true available: %v", err)
		}
		if isRunning(cmd.Process.Pid) {
			t.Error("isRunning(exited pid) = true, want false")
		}
	})
}

func TestStopProcessSendsSIGTERM(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("no sleep binary available: %v", err)
	}
	defer cmd.Process.Kill()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	if err := stopProcess(cmd.Process.Pid, false); err != nil {
		t.Fatalf("stopProcess: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("process did not exit after stopProcess")
	}

	if isRunning(cmd.Process.Pid) {
		t.Error("isRunning(pid) = true after stopProcess")
	}
}
