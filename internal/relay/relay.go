// Package relay owns the chat room: the per-connection join state machine,
// presence, persistence of messages and fan-out of room events.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tropichat/relay/internal/auth"
	"github.com/tropichat/relay/internal/config"
	"github.com/tropichat/relay/internal/events"
	"github.com/tropichat/relay/internal/metrics"
	"github.com/tropichat/relay/internal/models"
	"github.com/tropichat/relay/internal/presence"
	"github.com/tropichat/relay/internal/protocol"
	"github.com/tropichat/relay/internal/repositories"
	"github.com/tropichat/relay/internal/verify"
	"go.uber.org/zap"
)

type MessageStore interface {
	Append(ctx context.Context, m *models.Message) (int64, error)
	Recent(ctx context.Context, limit int) ([]models.Message, error)
}

type UserDirectory interface {
	Upsert(ctx context.Context, walletAddress string, f models.ProfileFields) (*models.UserProfile, error)
	Find(ctx context.Context, walletAddress string) (*models.UserProfile, error)
	Touch(ctx context.Context, walletAddress string, at time.Time) error
}

type Verifier interface {
	Check(family verify.ChainFamily, claimedAddress, challenge, signature string) error
}

// Outbox receives the events addressed to one connection. Deliver must not
// block; it reports false when the event could not be queued.
type Outbox interface {
	Deliver(ev protocol.Envelope) bool
}

type State int

const (
	StateConnected State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type Options struct {
	AppName               string
	HistoryLimit          int
	MaxMessageLength      int
	MaxUsernameLength     int
	Strict                bool
	AllowMultiSession     bool
	RequireChallengeToken bool
	ChallengeSecret       string
	StorageTimeout        time.Duration
	EventsStream          string

	// MirrorBuffer bounds the events waiting for the publisher; further events
	// are dropped.
	MirrorBuffer          int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AppName:               cfg.AppName,
		HistoryLimit:          cfg.HistoryLimit,
		MaxMessageLength:      cfg.MaxMessageLength,
		MaxUsernameLength:     cfg.MaxUsernameLength,
		Strict:                cfg.Strict(),
		AllowMultiSession:     cfg.AllowMultiSession,
		RequireChallengeToken: cfg.RequireChallengeToken,
		ChallengeSecret:       cfg.ChallengeSecret,
		StorageTimeout:        cfg.StorageTimeout,
		EventsStream:          cfg.EventsStream,
	}
}

type connection struct {
	id    string
	state State
	user  *models.JoinedUser
	out   Outbox
}

// Relay serialises every state-changing operation behind one mutex. Events are
// queued to outboxes while the lock is held, so the order in which messages are
// persisted is the order in which every client sees them. Mirrored events are
// handed to a single background publisher in the same order.
type Relay struct {
	opts      Options
	verifier  Verifier
	messages  MessageStore
	users     UserDirectory
	publisher events.Publisher
	presence  *presence.Table
	log       *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	conns   map[string]*connection
	lastNow time.Time
	closed  bool

	mirror     chan events.Event
	mirrorDone chan struct{}
}

func New(opts Options, verifier Verifier, messages MessageStore, users UserDirectory, publisher events.Publisher, log *zap.Logger) *Relay {
	if opts.AppName == "" {
		opts.AppName = "TropiChat"
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 2000
	}
	if opts.MaxUsernameLength <= 0 {
		opts.MaxUsernameLength = 32
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = 5 * time.Second
	}
	if opts.MirrorBuffer <= 0 {
		opts.MirrorBuffer = 1024
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	r := &Relay{
		opts:      opts,
		verifier:  verifier,
		messages:  messages,
		users:     users,
		publisher: publisher,
		presence:  presence.NewTable(),
		log:       log,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		conns:     make(map[string]*connection),

		mirror:     make(chan events.Event, opts.MirrorBuffer),
		mirrorDone: make(chan struct{}),
	}
	go r.mirrorLoop()
	return r
}

// Close stops the event mirror after it has published what is already queued.
// The relay must not be used afterwards.
func (r *Relay) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.mirror)
	}
	r.mu.Unlock()
	<-r.mirrorDone
}

// mirrorLoop publishes mirrored events one at a time, in the order the room
// produced them, outside the room lock.
func (r *Relay) mirrorLoop() {
	defer close(r.mirrorDone)
	for ev := range r.mirror {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.StorageTimeout)
		if err := r.publisher.Publish(ctx, r.opts.EventsStream, ev); err != nil {
			r.log.Warn("failed to mirror event", zap.String("type", ev.Type), zap.Error(err))
		}
		cancel()
	}
}

// Connect registers a new connection in the connected state.
func (r *Relay) Connect(out Outbox) string {
	id := uuid.New().String()

	r.mu.Lock()
	r.conns[id] = &connection{id: id, state: StateConnected, out: out}
	n := len(r.conns)
	r.mu.Unlock()

	metrics.SetConnections(n)
	r.log.Debug("connection opened", zap.String("conn_id", id))
	return id
}

// State returns the lifecycle state of a connection. Unknown ids are closed.
func (r *Relay) State(connID string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connID]; ok {
		return c.state
	}
	return StateClosed
}

func (r *Relay) Join(ctx context.Context, connID string, req protocol.JoinPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}

	username := strings.TrimSpace(req.Username)
	address := strings.TrimSpace(req.WalletAddress)
	color := strings.TrimSpace(req.Color)
	walletType := strings.TrimSpace(req.WalletType)

	switch {
	case username == "":
		return r.rejectJoin(c, protocol.CodeValidation, "Username is required", ErrValidation)
	case utf8.RuneCountInString(username) > r.opts.MaxUsernameLength:
		return r.rejectJoin(c, protocol.CodeValidation,
			fmt.Sprintf("Username must be at most %d characters", r.opts.MaxUsernameLength), ErrValidation)
	case address == "":
		return r.rejectJoin(c, protocol.CodeValidation, "Wallet address is required", ErrValidation)
	case color != "" && !models.ValidColor(color):
		return r.rejectJoin(c, protocol.CodeValidation, "Invalid color format", ErrValidation)
	}
	if color == "" {
		color = models.ColorFor(address)
	}

	if err := r.authenticate(req, address); err != nil {
		r.log.Info("join authentication failed",
			zap.String("conn_id", connID),
			zap.String("wallet", address),
			zap.Error(err),
		)
		msg := "Wallet verification failed"
		if strings.TrimSpace(req.Signature) == "" || req.Message == "" {
			msg = "Signature required"
		}
		return r.rejectJoin(c, protocol.CodeAuthentication, msg, fmt.Errorf("%w: %v", ErrAuthentication, err))
	}

	if !r.opts.AllowMultiSession {
		for _, id := range r.presence.FindByAddress(address) {
			if id != connID {
				return r.rejectJoin(c, protocol.CodeAuthentication,
					"Wallet is already connected in another session", ErrAuthentication)
			}
		}
	}

	now := r.timestamp()
	sctx, cancel := r.storageCtx(ctx)
	defer cancel()

	if _, err := r.users.Upsert(sctx, address, models.ProfileFields{
		Username:   username,
		WalletType: walletType,
		Color:      color,
		SeenAt:     now,
	}); err != nil {
		r.log.Error("failed to upsert user", zap.String("wallet", address), zap.Error(err))
		return r.rejectJoin(c, protocol.CodeStorage, "Error joining chat", storageErr(err))
	}

	history, err := r.messages.Recent(sctx, r.opts.HistoryLimit)
	if err != nil {
		r.log.Error("failed to load message history", zap.Error(err))
		return r.rejectJoin(c, protocol.CodeStorage, "Error joining chat", storageErr(err))
	}

	rejoin := c.state == StateJoined
	user := models.JoinedUser{
		ConnID:        connID,
		Username:      username,
		WalletAddress: address,
		WalletType:    walletType,
		Color:         color,
		JoinedAt:      now,
	}
	c.user = &user
	c.state = StateJoined
	r.presence.Insert(connID, user)

	r.emit(c, protocol.Envelope{Type: protocol.TypeWelcome, Payload: protocol.WelcomePayload{
		User:    protocol.UserInfo{Username: username, WalletAddress: address, Color: color},
		Message: fmt.Sprintf("Welcome to %s, %s!", r.opts.AppName, username),
	}})
	r.emit(c, protocol.Envelope{Type: protocol.TypeMessageHistory, Payload: protocol.HistoryPayload{
		Messages: toChatMessages(history),
		History:  true,
	}})
	if !rejoin {
		r.broadcast(protocol.Envelope{Type: protocol.TypeUserJoined, Payload: protocol.UserJoinedPayload{
			Username:  username,
			Color:     color,
			Timestamp: now,
		}}, connID)
	}
	r.broadcastActiveUsers()

	metrics.SetJoined(r.presence.Len())
	r.publish(events.EventUserJoined, map[string]any{
		"username":       username,
		"wallet_address": address,
		"color":          color,
		"timestamp":      now,
	})

	r.log.Info("user joined",
		zap.String("conn_id", connID),
		zap.String("username", username),
		zap.String("wallet", address),
		zap.Bool("rejoin", rejoin),
	)
	return nil
}

// authenticate applies the signature policy to a join request.
func (r *Relay) authenticate(req protocol.JoinPayload, address string) error {
	signed := strings.TrimSpace(req.Signature) != "" && req.Message != ""
	if !signed {
		if r.opts.Strict {
			return fmt.Errorf("unsigned join refused by strict policy")
		}
		return nil
	}

	if req.ChallengeToken != "" || r.opts.RequireChallengeToken {
		if err := auth.VerifyChallenge(r.opts.ChallengeSecret, req.ChallengeToken, address, req.Message); err != nil {
			return fmt.Errorf("challenge token: %w", err)
		}
	}

	family, rule := verify.ExplainFamily(req.Chain, req.WalletType, address)
	r.log.Debug("verifying join signature",
		zap.String("wallet", address),
		zap.String("family", string(family)),
		zap.String("family_rule", rule),
	)
	return r.verifier.Check(family, address, req.Message, req.Signature)
}

func (r *Relay) rejectJoin(c *connection, code, message string, err error) error {
	metrics.RecordJoinRejected(code)
	r.emit(c, protocol.Error(code, message))
	return err
}

func (r *Relay) Send(ctx context.Context, connID, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if c.state != StateJoined {
		r.emit(c, protocol.Error(protocol.CodeAuthentication, "Not authenticated"))
		return ErrAuthentication
	}

	content = strings.TrimSpace(content)
	if content == "" {
		r.emit(c, protocol.Error(protocol.CodeValidation, "Message cannot be empty"))
		return ErrValidation
	}
	if utf8.RuneCountInString(content) > r.opts.MaxMessageLength {
		r.emit(c, protocol.Error(protocol.CodeValidation,
			fmt.Sprintf("Message must be at most %d characters", r.opts.MaxMessageLength)))
		return ErrValidation
	}

	msg := &models.Message{
		Content:       content,
		Username:      c.user.Username,
		WalletAddress: c.user.WalletAddress,
		Color:         c.user.Color,
		CreatedAt:     r.timestamp(),
	}

	sctx, cancel := r.storageCtx(ctx)
	defer cancel()
	if _, err := r.messages.Append(sctx, msg); err != nil {
		r.log.Error("failed to persist message", zap.String("conn_id", connID), zap.Error(err))
		r.emit(c, protocol.Error(protocol.CodeStorage, "Error sending message"))
		return storageErr(err)
	}

	out := toChatMessage(*msg)
	r.broadcast(protocol.Envelope{Type: protocol.TypeChatMessage, Payload: out}, "")
	metrics.RecordMessage()

	r.publish(events.EventChatMessage, map[string]any{
		"id":             out.ID,
		"content":        out.Content,
		"username":       out.Username,
		"wallet_address": msg.WalletAddress,
		"color":          out.Color,
		"timestamp":      out.Timestamp,
	})
	return nil
}

// Typing relays a typing indicator to everyone but the sender. It is a no-op
// for connections that have not joined.
func (r *Relay) Typing(connID string, isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok || c.state != StateJoined {
		return
	}
	r.broadcast(protocol.Envelope{Type: protocol.TypeUserTyping, Payload: protocol.UserTypingPayload{
		Username: c.user.Username,
		IsTyping: isTyping,
	}}, connID)
}

// Disconnect closes a connection. Calling it again, or for an unknown id, does
// nothing.
func (r *Relay) Disconnect(ctx context.Context, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)
	wasJoined := c.state == StateJoined
	c.state = StateClosed
	metrics.SetConnections(len(r.conns))

	if !wasJoined {
		r.log.Debug("connection closed before join", zap.String("conn_id", connID))
		return
	}

	r.presence.Remove(connID)
	now := r.timestamp()
	r.broadcast(protocol.Envelope{Type: protocol.TypeUserLeft, Payload: protocol.UserLeftPayload{
		Username:  c.user.Username,
		Timestamp: now,
	}}, "")
	r.broadcastActiveUsers()
	metrics.SetJoined(r.presence.Len())

	sctx, cancel := r.storageCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := r.users.Touch(sctx, c.user.WalletAddress, now); err != nil {
		r.log.Warn("failed to update last seen", zap.String("wallet", c.user.WalletAddress), zap.Error(err))
	}

	r.publish(events.EventUserLeft, map[string]any{
		"username":       c.user.Username,
		"wallet_address": c.user.WalletAddress,
		"timestamp":      now,
	})

	r.log.Info("user left", zap.String("conn_id", connID), zap.String("username", c.user.Username))
}

// OnlineUsers returns the current presence snapshot.
func (r *Relay) OnlineUsers() []protocol.UserSummary {
	return summaries(r.presence.List())
}

// RecentMessages returns the replay window, oldest first.
func (r *Relay) RecentMessages(ctx context.Context) ([]protocol.ChatMessage, error) {
	sctx, cancel := r.storageCtx(ctx)
	defer cancel()

	msgs, err := r.messages.Recent(sctx, r.opts.HistoryLimit)
	if err != nil {
		return nil, storageErr(err)
	}
	return toChatMessages(msgs), nil
}

// Profile returns the directory entry of a wallet address.
func (r *Relay) Profile(ctx context.Context, walletAddress string) (*models.UserProfile, error) {
	sctx, cancel := r.storageCtx(ctx)
	defer cancel()

	p, err := r.users.Find(sctx, walletAddress)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return p, nil
}

// broadcast queues ev to every joined connection except the one with id except.
// Callers hold r.mu.
func (r *Relay) broadcast(ev protocol.Envelope, except string) {
	for _, u := range r.presence.List() {
		if u.ConnID == except {
			continue
		}
		if c, ok := r.conns[u.ConnID]; ok {
			r.emit(c, ev)
		}
	}
}

func (r *Relay) broadcastActiveUsers() {
	r.broadcast(protocol.Envelope{Type: protocol.TypeActiveUsers, Payload: protocol.ActiveUsersPayload{
		Users: summaries(r.presence.List()),
	}}, "")
}

func (r *Relay) emit(c *connection, ev protocol.Envelope) {
	if !c.out.Deliver(ev) {
		metrics.RecordDropped()
		r.log.Debug("outbound event dropped", zap.String("conn_id", c.id), zap.String("type", ev.Type))
	}
}

// publish queues an event for the mirror without blocking. Callers hold r.mu.
func (r *Relay) publish(eventType string, payload map[string]any) {
	if r.closed {
		return
	}
	select {
	case r.mirror <- events.Event{Type: eventType, Payload: payload}:
	default:
		metrics.RecordDropped()
		r.log.Warn("event mirror backlog full, dropping event", zap.String("type", eventType))
	}
}

// timestamp returns r.now(), clamped so it never goes backwards: stored
// message times follow store order even if the wall clock is stepped back.
// Callers hold r.mu.
func (r *Relay) timestamp() time.Time {
	t := r.now()
	if t.Before(r.lastNow) {
		t = r.lastNow
	}
	r.lastNow = t
	return t
}

func (r *Relay) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opts.StorageTimeout)
}

func summaries(users []models.JoinedUser) []protocol.UserSummary {
	out := make([]protocol.UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, protocol.UserSummary{Username: u.Username, Color: u.Color})
	}
	return out
}

func toChatMessage(m models.Message) protocol.ChatMessage {
	return protocol.ChatMessage{
		ID:        m.ID,
		Content:   m.Content,
		Username:  m.Username,
		Color:     m.Color,
		Timestamp: m.CreatedAt,
	}
}

func toChatMessages(msgs []models.Message) []protocol.ChatMessage {
	out := make([]protocol.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toChatMessage(m))
	}
	return out
}
