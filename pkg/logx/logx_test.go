package logx

import (
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger("test-component")
	if logger.Component() != "test-component" {
		t.Errorf("Expected component 'test-component', got %s", logger.Component())
	}
}

func TestWithComponent(t *testing.T) {
	logger := NewLogger("original")
	retagged := logger.WithComponent("retagged")

	if retagged.Component() != "retagged" {
		t.Errorf("Expected component 'retagged', got %s", retagged.Component())
	}
	if logger.Component() != "original" {
		t.Error("Original logger component should be unchanged")
	}
}

func TestErrorfReturnsError(t *testing.T) {
	err := Errorf("something failed: %s", "reason")
	if err == nil {
		t.Fatal("Errorf should return a non-nil error")
	}
	if !strings.Contains(err.Error(), "reason") {
		t.Errorf("Expected error to contain 'reason', got %q", err.Error())
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, "context"); err != nil {
		t.Errorf("Wrap(nil) should return nil, got %v", err)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := Errorf("underlying")
	wrapped := Wrap(cause, "while doing work")
	if wrapped == nil {
		t.Fatal("Wrap should return a non-nil error")
	}
	if !strings.Contains(wrapped.Error(), "while doing work: underlying") {
		t.Errorf("Unexpected wrapped message: %q", wrapped.Error())
	}
}
