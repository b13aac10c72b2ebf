//go:build !linux

package process

// awaitExit is unsupported here. Stragglers in the group are left alone
// once the leader exits.
func (h *Handle) awaitExit() bool {
	return false
}
