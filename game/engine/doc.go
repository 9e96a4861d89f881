// Package engine interprets declarative game scripts. A script is a flat
// list of ops executed by a global cursor; a per_player op forks one
// sub-cursor per session member, each with its own local variable tier.
// Execution is event-driven: every external event (player input, image
// delivery, membership change) triggers a work-until-blocked pass over all
// cursors, and a pass with no new state is a no-op.
package engine
