package kobj

import "github.com/ehrlich-b/go-kobj/internal/constants"

// Re-export constants for public API
const (
	HandleArenaCapacity     = constants.HandleArenaCapacity
	MaxMessageSize          = constants.MaxMessageSize
	MaxMessageHandles       = constants.MaxMessageHandles
	DefaultDataPipeCapacity = constants.DefaultDataPipeCapacity
	MaxDataPipeCapacity     = constants.MaxDataPipeCapacity
	MaxIOPortPacketSize     = constants.MaxIOPortPacketSize
	DefaultIOPortDepth      = constants.DefaultIOPortDepth
	MaxWaitHandleCount      = constants.MaxWaitHandleCount
	MaxNameLength           = constants.MaxNameLength
)
