package discord

// The gateway refuses logins that do not look like a real client, so the
// identify payload carries a full synthetic browser fingerprint.

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

type identifyProperties struct {
	OS                string `json:"os"`
	Browser           string `json:"browser"`
	Device            string `json:"device"`
	SystemLocale      string `json:"system_locale"`
	BrowserUserAgent  string `json:"browser_user_agent"`
	BrowserVersion    string `json:"browser_version"`
	OSVersion         string `json:"os_version"`
	Referrer          string `json:"referrer"`
	ReferringDomain   string `json:"referring_domain"`
	ReleaseChannel    string `json:"release_channel"`
	ClientBuildNumber int    `json:"client_build_number"`
	ClientEventSource any    `json:"client_event_source"`
}

type presence struct {
	Status     string `json:"status"`
	Since      int    `json:"since"`
	AFK        bool   `json:"afk"`
	Activities []any  `json:"activities"`
}

type identifyData struct {
	Token        string             `json:"token"`
	Capabilities int                `json:"capabilities"`
	Properties   identifyProperties `json:"properties"`
	Presence     presence           `json:"presence"`
	Compress     bool               `json:"compress"`
	ClientState  map[string]any     `json:"client_state"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// IdentifyPayload builds a fresh login for a user token. userAgent may be
// empty, in which case a stable default fingerprint is used.
func IdentifyPayload(token, userAgent string) any {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return map[string]any{
		"op": OpIdentify,
		"d": identifyData{
			Token:        token,
			Capabilities: 16381,
			Properties: identifyProperties{
				OS:                "Windows",
				Browser:           "Chrome",
				Device:            "",
				SystemLocale:      "en-US",
				BrowserUserAgent:  userAgent,
				BrowserVersion:    "124.0.0.0",
				OSVersion:         "10",
				ReleaseChannel:    "stable",
				ClientBuildNumber: 222963,
			},
			Presence: presence{
				Status:     "online",
				Activities: []any{},
			},
			Compress: false,
			ClientState: map[string]any{
				"guild_versions": map[string]any{},
			},
		},
	}
}

// ResumePayload re-attaches to a previous session.
func ResumePayload(token, sessionID string, seq int64) any {
	return map[string]any{
		"op": OpResume,
		"d": resumeData{
			Token:     token,
			SessionID: sessionID,
			Seq:       seq,
		},
	}
}

// HeartbeatPayload carries the last seen sequence number (null before the
// first dispatch).
func HeartbeatPayload(seq int64) any {
	var d any
	if seq > 0 {
		d = seq
	}
	return map[string]any{
		"op": OpHeartbeat,
		"d":  d,
	}
}
