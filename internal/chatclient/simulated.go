package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/tropichat/relay/internal/protocol"
)

// MockUser is a participant played by the simulator.
type MockUser struct {
	Username string
	Color    string
}

var (
	DefaultMockUsers = []MockUser{
		{"SurfDude92", "#FF5733"},
		{"BeachGirl", "#33FF57"},
		{"TropicalStorm", "#3357FF"},
		{"CoconutLover", "#FF33A6"},
	}

	DefaultLateJoiners = []LateJoiner{
		{MockUser{"IslandHopper", "#33FFF5"}, 3 * time.Second},
		{MockUser{"WaveRider", "#F5FF33"}, 8 * time.Second},
	}

	DefaultReplies = []string{
		"That's cool!",
		"Nice to meet you!",
		"How's the weather there?",
		"I love this retro chat!",
		"Anyone here like surfing?",
		"This reminds me of the 90s internet!",
		"LOL 😂",
		"Awesome! 🌴",
	}
)

// LateJoiner is announced with user-joined After the local join.
type LateJoiner struct {
	User  MockUser
	After time.Duration
}

type SimOptions struct {
	AppName     string
	Users       []MockUser
	LateJoiners []LateJoiner
	Replies     []string
	// Rand picks reply authors, texts and delays. Seed it for repeatable runs.
	Rand *rand.Rand
	// ReplyDelay returns how long to wait before a mock reply. Defaults to a
	// random 1-3s.
	ReplyDelay func(r *rand.Rand) time.Duration
	// After schedules f after d. Defaults to time.AfterFunc.
	After func(d time.Duration, f func()) (stop func() bool)
	Now   func() time.Time
}

// Simulated is an in-process stand-in for the relay, for offline use and demos.
type Simulated struct {
	opts   SimOptions
	broker *broker

	mu     sync.Mutex
	self   *protocol.UserInfo
	nextID int64
	timers []func() bool
	closed bool
}

func NewSimulated(opts SimOptions) *Simulated {
	if opts.AppName == "" {
		opts.AppName = "TropiChat"
	}
	if opts.Users == nil {
		opts.Users = DefaultMockUsers
	}
	if opts.LateJoiners == nil {
		opts.LateJoiners = DefaultLateJoiners
	}
	if len(opts.Replies) == 0 {
		opts.Replies = DefaultReplies
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x7a3c))
	}
	if opts.ReplyDelay == nil {
		opts.ReplyDelay = func(r *rand.Rand) time.Duration {
			return time.Second + time.Duration(r.Int64N(int64(2*time.Second)))
		}
	}
	if opts.After == nil {
		opts.After = func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Simulated{opts: opts, broker: newBroker()}
}

func (s *Simulated) Join(_ context.Context, req protocol.JoinPayload) error {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		s.emit(protocol.Error(protocol.CodeValidation, "Username is required"))
		return fmt.Errorf("%w: username is required", ErrNotJoined)
	}
	color := req.Color
	if color == "" {
		color = "#00FFFF"
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.self = &protocol.UserInfo{Username: username, WalletAddress: req.WalletAddress, Color: color}
	self := *s.self
	s.mu.Unlock()

	s.emit(protocol.Envelope{Type: protocol.TypeWelcome, Payload: protocol.WelcomePayload{
		User:    self,
		Message: fmt.Sprintf("Welcome to %s, %s!", s.opts.AppName, username),
	}})
	s.emit(protocol.Envelope{Type: protocol.TypeMessageHistory, Payload: protocol.HistoryPayload{
		Messages: []protocol.ChatMessage{},
		History:  true,
	}})

	users := make([]protocol.UserSummary, 0, len(s.opts.Users)+1)
	for _, u := range s.opts.Users {
		users = append(users, protocol.UserSummary{Username: u.Username, Color: u.Color})
	}
	users = append(users, protocol.UserSummary{Username: username, Color: color})
	s.emit(protocol.Envelope{Type: protocol.TypeActiveUsers, Payload: protocol.ActiveUsersPayload{Users: users}})

	for _, lj := range s.opts.LateJoiners {
		lj := lj
		s.schedule(lj.After, func() {
			s.emit(protocol.Envelope{Type: protocol.TypeUserJoined, Payload: protocol.UserJoinedPayload{
				Username:  lj.User.Username,
				Color:     lj.User.Color,
				Timestamp: s.opts.Now(),
			}})
		})
	}
	return nil
}

func (s *Simulated) Send(_ context.Context, content string) error {
	content = strings.TrimSpace(content)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.self == nil {
		s.mu.Unlock()
		s.emit(protocol.Error(protocol.CodeAuthentication, "Not authenticated"))
		return ErrNotJoined
	}
	if content == "" {
		s.mu.Unlock()
		s.emit(protocol.Error(protocol.CodeValidation, "Message cannot be empty"))
		return nil
	}
	s.nextID++
	own := protocol.ChatMessage{
		ID:        s.nextID,
		Content:   content,
		Username:  s.self.Username,
		Color:     s.self.Color,
		Timestamp: s.opts.Now(),
	}
	author := s.opts.Users[s.opts.Rand.IntN(len(s.opts.Users))]
	reply := s.opts.Replies[s.opts.Rand.IntN(len(s.opts.Replies))]
	delay := s.opts.ReplyDelay(s.opts.Rand)
	s.mu.Unlock()

	s.emit(protocol.Envelope{Type: protocol.TypeChatMessage, Payload: own})

	s.schedule(delay, func() {
		s.mu.Lock()
		s.nextID++
		id := s.nextID
		s.mu.Unlock()

		s.emit(protocol.Envelope{Type: protocol.TypeChatMessage, Payload: protocol.ChatMessage{
			ID:        id,
			Content:   reply,
			Username:  author.Username,
			Color:     author.Color,
			Timestamp: s.opts.Now(),
		}})
	})
	return nil
}

// Typing is accepted and ignored; the mock users never see it.
func (s *Simulated) Typing(context.Context, bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Simulated) Subscribe(types ...string) (<-chan protocol.Inbound, func()) {
	return s.broker.subscribe(types...)
}

func (s *Simulated) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timers := s.timers
	s.timers = nil
	s.mu.Unlock()

	for _, stop := range timers {
		stop()
	}
	s.broker.close()
	return nil
}

func (s *Simulated) schedule(d time.Duration, f func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	stop := s.opts.After(d, f)

	s.mu.Lock()
	s.timers = append(s.timers, stop)
	s.mu.Unlock()
}

// emit hands ev to subscribers in the same shape Live decodes off the wire.
func (s *Simulated) emit(ev protocol.Envelope) {
	raw, err := json.Marshal(ev.Payload)
	if err != nil {
		return
	}
	s.broker.publish(protocol.Inbound{Type: ev.Type, Payload: raw})
}
