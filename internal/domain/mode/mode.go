// Package mode defines the closed set of orchestration modes.
package mode

import "fmt"

// Mode selects a fixed pipeline shape for a consultation. The set is
// closed so every mode's behavior is exhaustively checkable.
type Mode string

const (
	// QuickConsensus consults the top-ranked agents in parallel and
	// synthesizes one consensus answer, streaming tokens as they arrive.
	QuickConsensus Mode = "quick_consensus"

	// Panel consults a larger agent panel and returns each expert's
	// answer with attribution alongside the synthesis.
	Panel Mode = "panel"

	// Autonomous runs a long-lived mission: a generated step plan with
	// checkpoints, a budget ceiling, and pause/resume/abort.
	Autonomous Mode = "autonomous"
)

// Parse validates a mode string. Empty input defaults to QuickConsensus.
func Parse(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return QuickConsensus, nil
	case QuickConsensus, Panel, Autonomous:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown orchestration mode %q", s)
	}
}

// MaxAgents returns the agent cap the mode imposes on top of the
// configured selector cap. Zero means no mode-specific cap.
func (m Mode) MaxAgents() int {
	if m == Panel {
		return 5
	}
	return 0
}

// Streaming reports whether the mode emits incremental token events.
// Mission artifacts are delivered per step instead.
func (m Mode) Streaming() bool {
	return m != Autonomous
}
