package ids

import "testing"

func TestCalculateDeterministic(t *testing.T) {
	a := Calculate("pico.EchoService")
	b := Calculate("pico.EchoService")
	if a != b {
		t.Errorf("same name hashed differently: %#x vs %#x", a, b)
	}
}

func TestCalculateDistinguishesNames(t *testing.T) {
	names := []string{"Echo", "echo", "Echo2", "pico.EchoService", ""}
	seen := make(map[uint32]string)
	for _, name := range names {
		id := Calculate(name)
		if prev, ok := seen[id]; ok {
			t.Errorf("names %q and %q collide on id %#x", prev, name, id)
		}
		seen[id] = name
	}
}

func TestCalculateEmptyName(t *testing.T) {
	if got := Calculate(""); got != 0 {
		t.Errorf("empty name: got %#x, want 0", got)
	}
}
