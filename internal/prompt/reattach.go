package prompt

import (
	"context"

	"github.com/murugaratham/dwatch/internal/scanner"
)

// ReattachChoices are the labels offered when an external watch process
// respawns with a new pid, in the order of ReattachDecisions.
var ReattachChoices = []string{
	"Always reattach for this command",
	"Reattach once",
	"Do not reattach",
}

var ReattachDecisions = []scanner.Decision{
	scanner.DecisionAlways,
	scanner.DecisionOnce,
	scanner.DecisionDecline,
}

// Reattach asks p about q and maps the answer. Cancelling declines.
func Reattach(ctx context.Context, p Prompter, q scanner.Prompt) scanner.Decision {
	title := "Watch process restarted with a new pid (" + q.CommandLine + "). Reattach the debugger?"
	i, ok := p.Pick(ctx, title, ReattachChoices)
	if !ok || i < 0 || i >= len(ReattachDecisions) {
		return scanner.DecisionDecline
	}
	return ReattachDecisions[i]
}
