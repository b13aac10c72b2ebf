/*
Package ws serves the bridge WebSocket endpoints.

	GET /ws/terminal?session=<id>   persistent shell, text frames
	GET /ws/lsp?kind=<selector>     one language server per connection, binary frames

Connections that cannot be bridged are closed with an application code:

	4000  unknown kind (nothing is spawned)
	4001  spawn failed
	4002  invalid session id
	4003  spawning disabled after repeated failures
	4009  session already attached, or of another kind

Bridged connections end with 1000, 1001 on server shutdown, or 1011 when
relaying fails.
*/
package ws
