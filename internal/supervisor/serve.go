package supervisor

import "github.com/gosv/gosv/internal/loop"

// MakeOptions produces one generation's Options, given whether this is the
// very first call (first=true only once, across the whole process
// lifetime, never again after a reload).
type MakeOptions func(first bool) (Options, error)

// Serve runs Supervisor generations back-to-back: construct, Run, and on
// ErrRestartRequested rebuild via Reload and loop again, exactly like the
// original main()'s outer retry loop. It returns when a generation shuts
// down for any reason other than a reload request.
//
// childLogDir/noCleanup are consulted only on the first generation: the
// original's clear_autochildlogdir() runs once per process lifetime, not
// once per reload, since a live reload's children are still writing into
// that directory.
func Serve(make MakeOptions, childLogDir string, noCleanup bool) error {
	if !noCleanup {
		if err := ClearAutoChildLogDir(childLogDir); err != nil {
			return err
		}
	}

	var prev *Supervisor
	first := true
	for {
		opts, err := make(first)
		if err != nil {
			return err
		}
		first = false

		var sup *Supervisor
		if prev == nil {
			sup, err = New(opts)
		} else {
			sup, err = Reload(prev, opts)
		}
		if err != nil {
			return err
		}

		runErr := sup.Run()
		if runErr == nil {
			return nil
		}
		if runErr == loop.ErrRestartRequested {
			prev = sup
			continue
		}
		return runErr
	}
}
