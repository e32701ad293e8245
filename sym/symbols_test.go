package sym

import (
	"testing"
	"unicode/utf8"
)

func TestSymbolToCommandAndCommandToSymbolAreBidirectional(t *testing.T) {
	if len(SymbolToCommand) != len(CommandToSymbol) {
		t.Fatalf("map size mismatch: SymbolToCommand has %d entries, CommandToSymbol has %d",
			len(SymbolToCommand), len(CommandToSymbol))
	}
	for symbol, cmd := range SymbolToCommand {
		got, ok := CommandToSymbol[cmd]
		if !ok {
			t.Errorf("SymbolToCommand has %q → %q, but CommandToSymbol has no entry for %q", symbol, cmd, cmd)
			continue
		}
		if got != symbol {
			t.Errorf("bidirectional mismatch: SymbolToCommand[%q] = %q, but CommandToSymbol[%q] = %q", symbol, cmd, cmd, got)
		}
	}
}

func TestCommandDescriptionsMatchCommands(t *testing.T) {
	for cmd := range CommandToSymbol {
		if _, ok := CommandDescriptions[cmd]; !ok {
			t.Errorf("CommandDescriptions missing entry for command %q", cmd)
		}
	}
	for cmd := range CommandDescriptions {
		if _, ok := CommandToSymbol[cmd]; !ok {
			t.Errorf("CommandDescriptions has entry for %q which is not in CommandToSymbol", cmd)
		}
	}
}

func TestPaletteOrder(t *testing.T) {
	seen := make(map[string]int, len(PaletteOrder))
	for i, symbol := range PaletteOrder {
		if _, ok := SymbolToCommand[symbol]; !ok {
			t.Errorf("PaletteOrder[%d] = %q is not in SymbolToCommand", i, symbol)
		}
		if prev, ok := seen[symbol]; ok {
			t.Errorf("PaletteOrder has duplicate %q at indices %d and %d", symbol, prev, i)
		}
		seen[symbol] = i
	}
}

func TestGlyphsAreDistinctSingleRunes(t *testing.T) {
	all := []string{AM, Assets, Graph, Freshness, Jobs, Triggers, Checks, Runs, Pulse, PulseOpen, PulseClose, DB}
	seen := make(map[string]bool, len(all))
	for _, g := range all {
		if !utf8.ValidString(g) || utf8.RuneCountInString(g) != 1 {
			t.Errorf("glyph %q is not a single rune", g)
		}
		if seen[g] {
			t.Errorf("glyph %q used twice", g)
		}
		seen[g] = true
	}
}

func TestPrefix(t *testing.T) {
	if got := Prefix("jobs"); got != Jobs+" " {
		t.Errorf("Prefix(jobs) = %q", got)
	}
	if got := Prefix("version"); got != "" {
		t.Errorf("Prefix(version) = %q, want empty", got)
	}
}
