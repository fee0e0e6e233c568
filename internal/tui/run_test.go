package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gabe/swarm/internal/registry"
)

func TestRunUsesStartProgram(t *testing.T) {
	called := false
	original := startProgram
	startProgram = func(model tea.Model) error {
		called = true
		if _, ok := model.(Model); !ok {
			t.Errorf("expected a dashboard model, got %T", model)
		}
		return nil
	}
	defer func() {
		startProgram = original
	}()

	load := func() (*registry.State, error) { return &registry.State{}, nil }
	if err := Run(load, &fakeSender{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected startProgram to be called")
	}
}
