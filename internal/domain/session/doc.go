/*
Package session tracks the processes behind bridged connections.

A Session binds an id to one supervised process. Persistent sessions (the
shell) survive disconnects and are found again by id; ephemeral sessions
(language servers) end with their single bridge.

Components:
  - Registry: id to session map, at most one spawn per id
  - Session: activity tracking, single attachment, detached-output backlog
  - Reaper: periodic removal of idle persistent sessions

Only the code path that removes a session from the registry terminates its
process, so a process is stopped exactly once whether it is closed by a
client, reaped, exits by itself, or is drained at shutdown.

Example Usage:

	reg := session.NewRegistry(logger, session.WithMetrics(metrics))
	sess, created, err := reg.GetOrCreate(ctx, id, session.KindPersistent,
		func(ctx context.Context) (session.Process, error) {
			return supervisor.Spawn(ctx, shellSpec)
		},
		session.WithName("shell"), session.WithTextOutput())

	reaper := session.NewReaper(reg, logger, session.WithIdleTimeout(5*time.Minute))
	go reaper.Run(ctx)
*/
package session
