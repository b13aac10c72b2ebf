package ws

import (
	"errors"

	"github.com/GriffinCanCode/AuraIDE/backend/internal/domain/bridge"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/domain/process"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/domain/session"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/infrastructure/resilience"
)

// Application close codes sent before a bridge starts
const (
	CloseUnknownKind    = 4000
	CloseSpawnFailed    = 4001
	CloseInvalidSession = 4002
	CloseCircuitOpen    = 4003
	CloseConflict       = 4009
)

// CloseCode maps an error to the close code and reason sent to the client
func CloseCode(err error) (int, string) {
	switch {
	case err == nil:
		return bridge.CloseNormal, "normal"
	case errors.Is(err, process.ErrUnknownKind):
		return CloseUnknownKind, "unknown kind"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return CloseCircuitOpen, "spawning temporarily disabled"
	case errors.Is(err, process.ErrSpawn):
		return CloseSpawnFailed, "spawn failed"
	case errors.Is(err, session.ErrInvalidID):
		return CloseInvalidSession, "invalid session id"
	case errors.Is(err, session.ErrConflict):
		return CloseConflict, "session in use"
	case errors.Is(err, session.ErrKindMismatch):
		return CloseConflict, "session kind mismatch"
	case errors.Is(err, session.ErrClosed):
		return bridge.CloseGoingAway, "shutting down"
	default:
		return bridge.CloseInternalError, "internal error"
	}
}
