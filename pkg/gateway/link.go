package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/trueai-org/midjourney-proxy-sub002/pkg/discord"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/logger"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/metrics"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/store"
)

// EventSink receives decoded message events in strict arrival order. The
// correlation pipeline implements it; it must not block on I/O.
type EventSink interface {
	OnMessage(evt *discord.MessageEvent)
}

var (
	ErrLinkStopped        = errors.New("gateway link stopped")
	errReconnectRequested = errors.New("reconnect requested")
	errInvalidSession     = errors.New("invalid session")
	errHeartbeatTimeout   = errors.New("heartbeat ack timeout")
)

type Options struct {
	Endpoints         discord.Endpoints
	MaxFreshAttempts  int
	MaxResumeAttempts int
	RetryDelay        time.Duration
	ConnectSlotWait   time.Duration
	HandshakeTimeout  time.Duration
}

func (o *Options) withDefaults() {
	if o.MaxFreshAttempts <= 0 {
		o.MaxFreshAttempts = 5
	}
	if o.MaxResumeAttempts <= 0 {
		o.MaxResumeAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Second
	}
	if o.ConnectSlotWait <= 0 {
		o.ConnectSlotWait = 30 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 20 * time.Second
	}
}

// Link owns exactly one authenticated gateway connection for one account:
// handshake, heartbeat, resume, reconnect and frame decompression. The
// account's health fields (Enable, DisableReason, SessionID) are owned by
// the link; nothing else writes them.
type Link struct {
	account  *store.Account
	accounts store.Store
	sink     EventSink
	opts     Options

	// connectSlot serializes connection attempts: concurrent reconnect
	// triggers collapse into one attempt.
	connectSlot chan struct{}

	writeMu sync.Mutex

	mu          sync.Mutex
	conn        *websocket.Conn
	session     Session
	pendingAck  bool
	hbSentAt    time.Time
	hbStop      chan struct{}
	running     bool
	sawReady    bool
	serveResume bool
	serveErr    error

	stop     chan struct{}
	stopOnce sync.Once
}

func NewLink(account *store.Account, accounts store.Store, sink EventSink, opts Options) *Link {
	opts.withDefaults()
	return &Link{
		account:     account,
		accounts:    accounts,
		sink:        sink,
		opts:        opts,
		connectSlot: make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
}

func (l *Link) AccountID() string { return l.account.ID }

func (l *Link) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Healthy reports whether the account can take work: enabled, not locked on
// a verification challenge, session up. The link is the writer of the
// account's health fields, so reads go through its lock.
func (l *Link) Healthy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account.Enable && !l.account.Locked && l.running
}

func (l *Link) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.ID
}

func (l *Link) Latency() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.Latency
}

// Start runs the connection worker until Stop or ctx cancellation.
func (l *Link) Start(ctx context.Context) {
	go l.run(ctx)
}

func (l *Link) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
		l.closeConn()
	})
}

// Reconnect forcibly drops the current connection; the worker dials again
// with a resume attempt.
func (l *Link) Reconnect(reason string) {
	logger.InfoCF("gateway", "reconnect requested", map[string]interface{}{
		"account": l.account.ID,
		"reason":  reason,
	})
	l.recordServeErr(errReconnectRequested)
	l.closeConn()
}

func (l *Link) run(ctx context.Context) {
	resume := false
	freshFailures := 0
	resumeAttempts := 0

	for {
		if ctx.Err() != nil || l.stopped() {
			return
		}
		if !l.acquireConnectSlot(ctx) {
			continue
		}
		if resume {
			metrics.GatewayReconnects.WithLabelValues(l.account.ID, "resume").Inc()
		} else {
			metrics.GatewayReconnects.WithLabelValues(l.account.ID, "fresh").Inc()
		}
		res := l.connectAndServe(ctx, resume)
		l.releaseConnectSlot()

		if ctx.Err() != nil || l.stopped() {
			return
		}

		reason := "connection closed"
		if res.err != nil {
			reason = res.err.Error()
		}
		logger.WarnCF("gateway", "connection lost", map[string]interface{}{
			"account": l.account.ID,
			"reason":  reason,
			"resume":  resume,
		})
		l.noteFailure(reason)

		if res.identified {
			freshFailures = 0
			resumeAttempts = 0
		}

		code := closeCode(res.err)
		switch {
		case errors.Is(res.err, errInvalidSession) || discord.IsFatalCloseCode(code):
			l.resetSession()
			resume = false
			if !res.identified {
				freshFailures++
			}
		case l.resumable() && resumeAttempts < l.opts.MaxResumeAttempts:
			resume = true
			resumeAttempts++
		default:
			l.resetSession()
			resume = false
			resumeAttempts = 0
			if !res.identified {
				freshFailures++
			}
		}

		if freshFailures >= l.opts.MaxFreshAttempts {
			l.disableAccount(fmt.Sprintf("gateway unreachable after %d attempts: %s", freshFailures, reason))
			return
		}

		select {
		case <-time.After(l.opts.RetryDelay):
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		}
	}
}

type serveResult struct {
	identified bool
	err        error
}

func (l *Link) connectAndServe(ctx context.Context, resume bool) serveResult {
	target := l.opts.Endpoints.GatewayURL()
	l.mu.Lock()
	resume = resume && l.session.Resumable()
	if resume && l.session.ResumeURL != "" {
		target = l.session.ResumeURL + "/?encoding=json&v=9&compress=zlib-stream"
	}
	l.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: l.opts.HandshakeTimeout}
	if l.account.Proxy != "" {
		if proxyURL, err := url.Parse(l.account.Proxy); err == nil {
			dialer.Proxy = http.ProxyURL(proxyURL)
		}
	}
	header := http.Header{}
	if l.account.UserAgent != "" {
		header.Set("User-Agent", l.account.UserAgent)
	}

	conn, _, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		return serveResult{err: fmt.Errorf("dial gateway: %w", err)}
	}

	z := newZStream()
	hbStop := make(chan struct{})
	l.mu.Lock()
	l.conn = conn
	l.pendingAck = false
	l.sawReady = false
	l.serveResume = resume
	l.serveErr = nil
	l.hbStop = hbStop
	l.mu.Unlock()

	go func() {
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				z.CloseWithError(err)
				return
			}
			if err := z.Feed(frame); err != nil {
				conn.Close()
				return
			}
		}
	}()

	inflated := z.Reader()
	dec := json.NewDecoder(inflated)
	var serveErr error
	for {
		var p discord.Payload
		if err := dec.Decode(&p); err != nil {
			serveErr = err
			break
		}
		if err := l.handleEnvelope(&p); err != nil {
			serveErr = err
			break
		}
	}

	close(hbStop)
	conn.Close()
	inflated.Close()
	z.Close()

	l.mu.Lock()
	if l.serveErr != nil {
		serveErr = l.serveErr
	}
	identified := l.sawReady
	l.conn = nil
	l.running = false
	l.hbStop = nil
	l.mu.Unlock()

	return serveResult{identified: identified, err: serveErr}
}

// handleEnvelope drives the link state machine with control opcodes and
// forwards dispatches. A non-nil return tears the connection down with the
// given reason.
func (l *Link) handleEnvelope(p *discord.Payload) error {
	if p.Seq != nil {
		l.mu.Lock()
		l.session.Seq = *p.Seq
		l.mu.Unlock()
	}

	switch p.Op {
	case discord.OpHello:
		return l.onHello(p)
	case discord.OpHeartbeat:
		// server asked for an immediate beat
		return l.sendHeartbeat()
	case discord.OpHeartbeatACK:
		l.onHeartbeatACK()
		return nil
	case discord.OpReconnect:
		return errReconnectRequested
	case discord.OpInvalidSession:
		resumable := gjson.GetBytes(p.Data, "@this").Bool()
		if resumable {
			return errReconnectRequested
		}
		return errInvalidSession
	case discord.OpDispatch:
		l.routeDispatch(p)
		return nil
	default:
		logger.DebugCF("gateway", "unknown opcode", map[string]interface{}{
			"account": l.account.ID,
			"op":      p.Op,
		})
		return nil
	}
}

func (l *Link) onHello(p *discord.Payload) error {
	var hello discord.HelloData
	if err := json.Unmarshal(p.Data, &hello); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}
	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	if interval <= 0 {
		return fmt.Errorf("hello carried heartbeat interval %dms", hello.HeartbeatInterval)
	}

	l.mu.Lock()
	l.session.HeartbeatInterval = interval
	resume := l.serveResume
	sessionID := l.session.ID
	seq := l.session.Seq
	hbStop := l.hbStop
	l.mu.Unlock()

	var payload any
	if resume {
		payload = discord.ResumePayload(l.account.UserToken, sessionID, seq)
		logger.InfoCF("gateway", "resuming session", map[string]interface{}{
			"account": l.account.ID,
			"session": sessionID,
			"seq":     seq,
		})
	} else {
		payload = discord.IdentifyPayload(l.account.UserToken, l.account.UserAgent)
		logger.InfoCF("gateway", "identifying", map[string]interface{}{
			"account": l.account.ID,
		})
	}
	if err := l.send(payload); err != nil {
		return err
	}

	go l.heartbeatLoop(interval, hbStop)
	return nil
}

// heartbeatLoop ticks at 0.9x the negotiated interval. A tick that finds the
// previous beat unacknowledged is a liveness failure: the connection is torn
// down and redialed with resume.
func (l *Link) heartbeatLoop(interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			pending := l.pendingAck
			l.mu.Unlock()
			if pending {
				l.recordServeErr(errHeartbeatTimeout)
				l.closeConn()
				return
			}
			if err := l.sendHeartbeat(); err != nil {
				return
			}
		}
	}
}

func (l *Link) sendHeartbeat() error {
	l.mu.Lock()
	seq := l.session.Seq
	l.pendingAck = true
	l.hbSentAt = time.Now()
	l.mu.Unlock()
	return l.send(discord.HeartbeatPayload(seq))
}

func (l *Link) onHeartbeatACK() {
	l.mu.Lock()
	l.pendingAck = false
	latency := time.Since(l.hbSentAt)
	l.session.Latency = latency
	l.account.GatewayDelay = latency.Milliseconds()
	l.mu.Unlock()
	metrics.GatewayHeartbeatLatency.WithLabelValues(l.account.ID).Set(latency.Seconds())
}

// routeDispatch is the event router: session bookkeeping for READY/RESUMED,
// everything else forwarded to the correlation pipeline. It never touches
// tasks itself.
func (l *Link) routeDispatch(p *discord.Payload) {
	metrics.GatewayEvents.WithLabelValues(p.Type).Inc()

	switch p.Type {
	case discord.EventReady:
		var ready discord.ReadyData
		if err := json.Unmarshal(p.Data, &ready); err != nil {
			logger.WarnCF("gateway", "undecodable ready", map[string]interface{}{
				"account": l.account.ID,
				"error":   err.Error(),
			})
			return
		}
		l.mu.Lock()
		l.session.ID = ready.SessionID
		l.session.ResumeURL = ready.ResumeGatewayURL
		l.running = true
		l.sawReady = true
		l.mu.Unlock()
		l.markOnline(ready.SessionID)
		logger.InfoCF("gateway", "session ready", map[string]interface{}{
			"account": l.account.ID,
			"session": ready.SessionID,
			"user":    ready.User.Username,
		})
	case discord.EventResumed:
		l.mu.Lock()
		l.running = true
		l.sawReady = true
		l.mu.Unlock()
		logger.InfoCF("gateway", "session resumed", map[string]interface{}{
			"account": l.account.ID,
		})
	case discord.EventMessageCreate, discord.EventMessageUpdate, discord.EventMessageDelete:
		l.forwardMessage(p)
	default:
		// plenty of presence/typing chatter arrives here; not our business
	}
}

func (l *Link) forwardMessage(p *discord.Payload) {
	if l.sink == nil {
		return
	}
	class := discord.ClassCreate
	switch p.Type {
	case discord.EventMessageUpdate:
		class = discord.ClassUpdate
	case discord.EventMessageDelete:
		class = discord.ClassDelete
	}

	// cheap peek before the full decode; foreign chatter is the common case
	if class != discord.ClassDelete {
		author := gjson.GetBytes(p.Data, "author.id").String()
		nonce := gjson.GetBytes(p.Data, "nonce").String()
		if author != discord.MidjourneyBotID && author != discord.NijiBotID && nonce == "" {
			return
		}
	}

	var msg discord.Message
	if err := json.Unmarshal(p.Data, &msg); err != nil {
		logger.WarnCF("gateway", "undecodable message event", map[string]interface{}{
			"account": l.account.ID,
			"type":    p.Type,
			"error":   err.Error(),
		})
		return
	}
	if l.account.ChannelID != "" && msg.ChannelID != "" && msg.ChannelID.String() != l.account.ChannelID {
		return
	}

	l.sink.OnMessage(&discord.MessageEvent{Class: class, Message: msg, Raw: p.Data})
}

func (l *Link) send(payload any) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return ErrLinkStopped
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return conn.WriteJSON(payload)
}

func (l *Link) closeConn() {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (l *Link) recordServeErr(err error) {
	l.mu.Lock()
	if l.serveErr == nil {
		l.serveErr = err
	}
	l.mu.Unlock()
}

func (l *Link) resumable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.Resumable()
}

func (l *Link) resetSession() {
	l.mu.Lock()
	l.session.reset()
	l.mu.Unlock()
}

func (l *Link) stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

func (l *Link) acquireConnectSlot(ctx context.Context) bool {
	timer := time.NewTimer(l.opts.ConnectSlotWait)
	defer timer.Stop()
	select {
	case l.connectSlot <- struct{}{}:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	case <-l.stop:
		return false
	}
}

func (l *Link) releaseConnectSlot() {
	select {
	case <-l.connectSlot:
	default:
	}
}

// markOnline persists the healthy transition and the session id for
// observability.
func (l *Link) markOnline(sessionID string) {
	l.mu.Lock()
	l.account.Enable = true
	l.account.DisableReason = ""
	l.account.SessionID = sessionID
	l.account.LastReadyAt = time.Now()
	snapshot := *l.account
	l.mu.Unlock()
	l.persist(&snapshot)
}

// noteFailure keeps the last failure reason visible on the account without
// disabling it.
func (l *Link) noteFailure(reason string) {
	l.mu.Lock()
	l.account.DisableReason = reason
	snapshot := *l.account
	l.mu.Unlock()
	l.persist(&snapshot)
}

// MarkChallenge records an upstream human-verification challenge. The
// account stops taking work until the challenge is cleared out of band.
func (l *Link) MarkChallenge(url string) {
	l.mu.Lock()
	l.account.Locked = true
	l.account.ChallengeURL = url
	snapshot := *l.account
	l.mu.Unlock()
	l.persist(&snapshot)
	logger.WarnCF("gateway", "verification challenge", map[string]interface{}{
		"account": l.account.ID,
		"url":     url,
	})
}

func (l *Link) disableAccount(reason string) {
	l.mu.Lock()
	l.account.Enable = false
	l.account.DisableReason = reason
	snapshot := *l.account
	l.mu.Unlock()
	l.persist(&snapshot)
	metrics.AccountsDisabled.WithLabelValues(l.account.ID).Inc()
	logger.ErrorCF("gateway", "account disabled", map[string]interface{}{
		"account": l.account.ID,
		"reason":  reason,
	})
}

func (l *Link) persist(account *store.Account) {
	if l.accounts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.accounts.Save(ctx, account); err != nil {
		logger.WarnCF("gateway", "account save failed", map[string]interface{}{
			"account": account.ID,
			"error":   err.Error(),
		})
	}
}

func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}
