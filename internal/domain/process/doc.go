/*
Package process starts and supervises the child processes behind bridged
connections.

A Supervisor turns a Spec into a Handle. Each child runs in its own process
group so Terminate reaches anything it forked; a single goroutine per Handle
reaps the child.

	sup := process.NewSupervisor(logger, process.WithKillGrace(3*time.Second))
	h, err := sup.Spawn(ctx, process.Spec{Name: "shell", Path: "/bin/bash", IOMode: process.IOModeMerged})
	if errors.Is(err, process.ErrSpawn) {
		// executable missing or fork refused
	}
	defer h.Terminate()

Language servers and other selectable programs are described by a Catalog,
built in or loaded from a YAML or TOML file.
*/
package process
