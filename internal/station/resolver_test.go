package station

import "testing"

func newTestResolver() *Resolver {
	return New(
		map[string]string{"9301": "Center", "9327": "North"},
		map[string][]string{"9301": {"4140", "4141"}, "9327": {"4210"}},
		[]string{"9301"},
	)
}

func TestMainDirect(t *testing.T) {
	r := newTestResolver()
	main, ok := r.Main("9301")
	if !ok || main != "9301" {
		t.Fatalf("expected 9301, got %q ok=%v", main, ok)
	}
}

func TestMainSubStation(t *testing.T) {
	r := newTestResolver()
	main, ok := r.Main("4210")
	if !ok || main != "9327" {
		t.Fatalf("expected 9327 for 4210, got %q ok=%v", main, ok)
	}
}

func TestMainUnknown(t *testing.T) {
	r := newTestResolver()
	if _, ok := r.Main("0000"); ok {
		t.Fatalf("expected unknown station to fail resolution")
	}
}

func TestMainTablePrecedence(t *testing.T) {
	// A code listed both as a main station and as someone's sub-station
	// must resolve to itself.
	r := New(
		map[string]string{"9301": "Center", "4140": "Annex"},
		map[string][]string{"9301": {"4140"}},
		nil,
	)
	main, ok := r.Main("4140")
	if !ok || main != "4140" {
		t.Fatalf("expected name table to win, got %q ok=%v", main, ok)
	}
}

func TestNameFallsBackToParent(t *testing.T) {
	r := newTestResolver()
	if got := r.Name("4141"); got != "Center" {
		t.Fatalf("expected parent name, got %q", got)
	}
	if got := r.Name("0000"); got != "0000" {
		t.Fatalf("expected passthrough for unknown code, got %q", got)
	}
}

func TestNizh(t *testing.T) {
	r := newTestResolver()
	if !r.Nizh("9301") {
		t.Fatalf("expected 9301 in nizh group")
	}
	if r.Nizh("9327") {
		t.Fatalf("did not expect 9327 in nizh group")
	}
}
