package store

import (
	"context"
	"errors"
	"time"
)

var ErrAccountNotFound = errors.New("account not found")

// Account is one upstream login the proxy drives: credentials, capacity
// policy, routing weight, and the health fields the gateway link maintains.
type Account struct {
	ID        string `json:"id"`
	GuildID   string `json:"guildId"`
	ChannelID string `json:"channelId"`

	UserToken string `json:"userToken"`
	BotToken  string `json:"botToken,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Proxy     string `json:"proxy,omitempty"`

	// Capacity policy.
	CoreSize       int     `json:"coreSize"`       // max concurrent jobs
	QueueSize      int     `json:"queueSize"`      // waiting jobs before rejection
	TimeoutMinutes int     `json:"timeoutMinutes"` // per-job budget
	Interval       float64 `json:"interval"`       // seconds between commands

	// Routing.
	Weight int `json:"weight"`
	Sort   int `json:"sort"`

	// Health, owned by the gateway link. Locked is set when the upstream
	// raises a verification challenge; a locked account is skipped by
	// routing until the challenge is cleared out of band.
	Enable        bool   `json:"enable"`
	DisableReason string `json:"disableReason,omitempty"`
	Locked        bool   `json:"locked"`
	ChallengeURL  string `json:"challengeUrl,omitempty"`

	// Session observability, refreshed on READY.
	SessionID    string    `json:"sessionId,omitempty"`
	LastReadyAt  time.Time `json:"lastReadyAt,omitempty"`
	GatewayDelay int64     `json:"gatewayDelayMs,omitempty"`
}

// Timeout returns the per-job budget; zero means unset.
func (a *Account) Timeout() time.Duration {
	if a.TimeoutMinutes <= 0 {
		return 0
	}
	return time.Duration(a.TimeoutMinutes) * time.Minute
}

// CommandInterval returns the minimum spacing between outbound commands.
func (a *Account) CommandInterval() time.Duration {
	if a.Interval <= 0 {
		return 0
	}
	return time.Duration(a.Interval * float64(time.Second))
}

// Store is the account persistence boundary. The core calls it on every
// enable/disable transition and on session updates it chooses to persist.
type Store interface {
	List(ctx context.Context) ([]*Account, error)
	Get(ctx context.Context, id string) (*Account, error)
	Save(ctx context.Context, account *Account) error
	Delete(ctx context.Context, id string) error
}
