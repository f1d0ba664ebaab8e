package agent

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunnerRunSuccess(t *testing.T) {
	r := NewRunner(5 * time.Second)
	result, err := r.Run(context.Background(), "/bin/echo", []string{"hello"})
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if string(result.Stdout) != "hello\n" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "hello\n")
	}
}

func TestRunnerRunNonZeroExit(t *testing.T) {
	r := NewRunner(5 * time.Second)
	result, err := r.Run(context.Background(), "/bin/sh", []string{"-c", "exit 3"})
	if err == nil {
		t.Fatal("Run() expected an error for non-zero exit, got none")
	}
	if !errors.Is(err, ErrProcessFailed) {
		t.Errorf("Run() error = %v, want wrapping ErrProcessFailed", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
}

func TestRunnerRunTimeout(t *testing.T) {
	r := NewRunner(10 * time.Millisecond)
	_, err := r.Run(context.Background(), "/bin/sleep", []string{"5"})
	if err == nil {
		t.Fatal("Run() expected an error on timeout, got none")
	}
	if !errors.Is(err, ErrProcessFailed) {
		t.Errorf("Run() error = %v, want wrapping ErrProcessFailed", err)
	}
}

func TestResultJSON(t *testing.T) {
	result := &Result{ExitCode: 0, Help: "Work finished."}
	raw, err := result.JSON()
	if err != nil {
		t.Fatalf("JSON() unexpected error: %v", err)
	}
	want := `{"rc":0,"help":"Work finished."}`
	if string(raw) != want {
		t.Errorf("JSON() = %s, want %s", raw, want)
	}
}
