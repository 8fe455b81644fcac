package discord

// Gateway opcodes. Only the subset the proxy actually speaks.
const (
	OpDispatch       = 0
	OpHeartbeat      = 1
	OpIdentify       = 2
	OpResume         = 6
	OpReconnect      = 7
	OpInvalidSession = 9
	OpHello          = 10
	OpHeartbeatACK   = 11
)

// Dispatch event names.
const (
	EventReady         = "READY"
	EventResumed       = "RESUMED"
	EventMessageCreate = "MESSAGE_CREATE"
	EventMessageUpdate = "MESSAGE_UPDATE"
	EventMessageDelete = "MESSAGE_DELETE"
)

// Close codes at or above 4000 invalidate the session; the link must drop its
// saved session state and identify from scratch.
const (
	CloseUnknownError         = 4000
	CloseAuthenticationFailed = 4004
	CloseInvalidSeq           = 4007
	CloseRateLimited          = 4008
	CloseSessionTimedOut      = 4009
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014
)

// IsFatalCloseCode reports whether a close code makes the session unresumable.
func IsFatalCloseCode(code int) bool {
	return code >= 4000
}
