package supervisor

import "github.com/gosv/gosv/internal/fsm"

// Reload builds the next generation's Supervisor from opts and adopts
// every FSM from prev whose owning config's identity (name, argv,
// stdout/stderr paths) is byte-for-byte unchanged — those children keep
// running, pid and all, straight through the reload. FSMs for configs
// that changed or are new are left as New built them (freshly
// constructed, not yet spawned; StartNecessary on the first tick handles
// autostart). FSMs for configs that disappeared are stopped before prev
// is discarded, since nothing in the next generation's groups references
// them anymore.
//
// This is the resolved behavior for the original's ambiguous reload path:
// see SPEC_FULL.md §9.
func Reload(prev *Supervisor, opts Options) (*Supervisor, error) {
	next, err := New(opts)
	if err != nil {
		return nil, err
	}

	byIdentity := make(map[string]*fsm.ProcessFSM)
	if prev != nil {
		for _, g := range prev.groups {
			for _, p := range g.Procs {
				byIdentity[p.Config.Identity()] = p
			}
		}
	}

	for _, g := range next.groups {
		for i, p := range g.Procs {
			if old, ok := byIdentity[p.Config.Identity()]; ok {
				g.Procs[i] = old
				delete(byIdentity, p.Config.Identity())
			}
		}
	}

	// Whatever's left in byIdentity belonged to a config the new
	// generation no longer has; stop it, it has no home to go to, and
	// close its log sinks now since no future generation will ever write
	// through them again.
	for _, p := range byIdentity {
		p.Stop()
		p.Close()
	}

	return next, nil
}
