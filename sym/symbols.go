// Package sym defines the glyphs strata prints in front of each command
// group and system component. They are stable across CLI output and logs.
package sym

// Command group glyphs.
const (
	AM        = "≡" // am: configuration
	Assets    = "◇" // assets: the registered asset graph
	Graph     = "⋈" // lineage between assets
	Freshness = "✦" // freshness: staleness against policy
	Jobs      = "⟶" // jobs: runnable selections
	Triggers  = "⌬" // triggers: schedules and sensors
	Checks    = "⊨" // quality checks
	Runs      = "⨳" // runs: the run ledger
)

// System infrastructure glyphs.
const (
	Pulse      = "꩜" // ticker and worker pool
	PulseOpen  = "✿" // startup with orphaned run recovery
	PulseClose = "❀" // graceful shutdown
	DB         = "⊔" // run ledger storage
)

// PaletteOrder is the order command groups appear in help output.
var PaletteOrder = []string{Assets, Graph, Freshness, Jobs, Triggers, Runs, AM}

// SymbolToCommand maps glyphs to their CLI command.
var SymbolToCommand = map[string]string{
	AM:        "am",
	Assets:    "assets",
	Graph:     "graph",
	Freshness: "freshness",
	Jobs:      "jobs",
	Triggers:  "triggers",
	Checks:    "checks",
	Runs:      "runs",
}

// CommandToSymbol maps CLI commands to their glyph.
var CommandToSymbol = map[string]string{
	"am":        AM,
	"assets":    Assets,
	"graph":     Graph,
	"freshness": Freshness,
	"jobs":      Jobs,
	"triggers":  Triggers,
	"checks":    Checks,
	"runs":      Runs,
}

// CommandDescriptions is the one-line summary shown next to each glyph.
var CommandDescriptions = map[string]string{
	"am":        "Configuration: settings and their sources",
	"assets":    "Assets: keys, groups, kinds and policies",
	"graph":     "Lineage: upstream and downstream edges",
	"freshness": "Freshness: staleness of every asset",
	"jobs":      "Jobs: list and launch runs",
	"triggers":  "Triggers: schedules and sensors",
	"checks":    "Checks: data quality validation",
	"runs":      "Runs: the run ledger",
}

// Prefix returns the glyph for command followed by a space, or "" when the
// command has none.
func Prefix(command string) string {
	if s, ok := CommandToSymbol[command]; ok {
		return s + " "
	}
	return ""
}
