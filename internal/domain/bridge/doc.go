// Package bridge relays messages between a remote connection and the
// process behind a session, one goroutine per direction. Whichever
// direction ends first closes the connection and stops the other.
package bridge
