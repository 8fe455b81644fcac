package gateway

import "time"

// Session is the resumable gateway session state. It exists only while the
// link is connected or resumable; invalid-session and fatal close codes wipe
// it.
type Session struct {
	ID                string
	Seq               int64
	ResumeURL         string
	HeartbeatInterval time.Duration
	Latency           time.Duration
}

// Resumable reports whether a resume attempt makes sense.
func (s *Session) Resumable() bool {
	return s.ID != "" && s.Seq > 0
}

func (s *Session) reset() {
	*s = Session{}
}
