package macro

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testShiftScript = `
function shift_date(ts)
	local out = string.gsub(ts, "2024", "2025")
	return out
end
`

func writeScript(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "shift.lua")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("cannot write script: %v", err)
	}
	return path
}

func TestLuaShifter(t *testing.T) {
	shifter, err := NewLuaShifter(writeScript(t, testShiftScript))
	if err != nil {
		t.Fatalf("NewLuaShifter returned error: %v", err)
	}

	in := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	out, err := shifter.Shift(in)
	if err != nil {
		t.Fatalf("Shift returned error: %v", err)
	}
	if out.Year() != 2025 {
		t.Fatalf("Shift year = %d, want 2025", out.Year())
	}
}

func TestLuaShifterAsMacroHook(t *testing.T) {
	shifter, err := NewLuaShifter(writeScript(t, testShiftScript))
	if err != nil {
		t.Fatalf("NewLuaShifter returned error: %v", err)
	}

	env := NewEnv()
	env.RegisterShifter("next_year", shifter.Shift)

	got, err := env.Expand("@@CURRDATE(YYYY, next_year)", time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Expand returned error: %v", err)
	}
	if got != "2025" {
		t.Fatalf("Expand = %v, want %q", got, "2025")
	}
}

func TestLuaShifterBrokenScript(t *testing.T) {
	if _, err := NewLuaShifter(writeScript(t, "this is not lua(")); err == nil {
		t.Fatal("NewLuaShifter should have failed for a broken script")
	}
}

func TestLuaShifterBadReturn(t *testing.T) {
	shifter, err := NewLuaShifter(writeScript(t, `
function shift_date(ts)
	return "not a timestamp"
end
`))
	if err != nil {
		t.Fatalf("NewLuaShifter returned error: %v", err)
	}

	if _, err := shifter.Shift(time.Now()); err == nil {
		t.Fatal("Shift should have failed for a non-timestamp return")
	}
}
