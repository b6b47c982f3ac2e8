// internal/types/ids_test.go
package types

import (
	"testing"
)

func TestNewRequestID(t *testing.T) {
	id := NewRequestID()
	if id == "" {
		t.Error("expected non-empty RequestID")
	}
	if len(string(id)) != 36 {
		t.Errorf("expected UUID format, got %s", id)
	}
	if NewRequestID() == id {
		t.Error("expected distinct request IDs")
	}
}

func TestAgentNameValid(t *testing.T) {
	for _, name := range AgentNames() {
		if !name.Valid() {
			t.Errorf("expected %s to be valid", name)
		}
	}
	if AgentName("billing").Valid() {
		t.Error("expected unknown agent to be invalid")
	}
	if len(AgentNames()) != 5 {
		t.Errorf("expected 5 agents, got %d", len(AgentNames()))
	}
}
