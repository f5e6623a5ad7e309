package core

import (
	"testing"
)

func TestSeedFromEnv(t *testing.T) {
	tests := []struct {
		value string
		seed  int64
		ok    bool
	}{
		{"12345", 12345, true},
		{" -7 ", -7, true},
		{"", 0, false},
		{"0", 0, false},
		{"invalid", 0, false},
	}
	for _, tt := range tests {
		t.Setenv(SeedEnv, tt.value)
		seed, ok := SeedFromEnv()
		if seed != tt.seed || ok != tt.ok {
			t.Errorf("SeedFromEnv() with %q = (%d, %t); want (%d, %t)", tt.value, seed, ok, tt.seed, tt.ok)
		}
	}
}

func TestGetSeed(t *testing.T) {
	t.Setenv(SeedEnv, "12345")
	if seed := GetSeed(); seed != 12345 {
		t.Errorf("expected seed 12345 from the environment, got %d", seed)
	}

	// Falls back to a non-zero clock seed.
	for _, value := range []string{"invalid", ""} {
		t.Setenv(SeedEnv, value)
		if seed := GetSeed(); seed == 0 {
			t.Errorf("expected a non-zero clock seed with %q, got 0", value)
		}
	}
}
