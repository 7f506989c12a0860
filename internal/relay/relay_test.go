package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tropichat/relay/internal/auth"
	"github.com/tropichat/relay/internal/events"
	"github.com/tropichat/relay/internal/models"
	"github.com/tropichat/relay/internal/protocol"
	"github.com/tropichat/relay/internal/repositories"
	"github.com/tropichat/relay/internal/verify"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []protocol.Envelope
}

func (r *recorder) Deliver(ev protocol.Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *recorder) all() []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Envelope(nil), r.events...)
}

func (r *recorder) ofType(typ string) []protocol.Envelope {
	var out []protocol.Envelope
	for _, ev := range r.all() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) types() []string {
	var out []string
	for _, ev := range r.all() {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type flakyMessages struct {
	*repositories.MemoryMessageStore
	mu         sync.Mutex
	failAppend bool
	failRecent bool
}

func (f *flakyMessages) Append(ctx context.Context, m *models.Message) (int64, error) {
	f.mu.Lock()
	fail := f.failAppend
	f.mu.Unlock()
	if fail {
		return 0, errors.New("connection refused")
	}
	return f.MemoryMessageStore.Append(ctx, m)
}

func (f *flakyMessages) Recent(ctx context.Context, limit int) ([]models.Message, error) {
	f.mu.Lock()
	fail := f.failRecent
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	return f.MemoryMessageStore.Recent(ctx, limit)
}

type flakyUsers struct {
	*repositories.MemoryUserDirectory
	fail bool
}

func (f *flakyUsers) Upsert(ctx context.Context, addr string, p models.ProfileFields) (*models.UserProfile, error) {
	if f.fail {
		return nil, errors.New("connection refused")
	}
	return f.MemoryUserDirectory.Upsert(ctx, addr, p)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type fixture struct {
	relay    *Relay
	messages *flakyMessages
	users    *flakyUsers
	pub      *capturePublisher
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		messages: &flakyMessages{MemoryMessageStore: repositories.NewMemoryMessageStore()},
		users:    &flakyUsers{MemoryUserDirectory: repositories.NewMemoryUserDirectory()},
		pub:      &capturePublisher{},
	}
	f.relay = New(opts, verify.New(), f.messages, f.users, f.pub, zap.NewNop())
	t.Cleanup(f.relay.Close)

	var mu sync.Mutex
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.relay.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return f
}

func (f *fixture) connect() (string, *recorder) {
	rec := &recorder{}
	return f.relay.Connect(rec), rec
}

func (f *fixture) join(t *testing.T, name, addr string) (string, *recorder) {
	t.Helper()
	id, rec := f.connect()
	require.NoError(t, f.relay.Join(context.Background(), id, protocol.JoinPayload{
		Username: name, WalletAddress: addr, WalletType: "MetaMask", Color: "#112233",
	}))
	return id, rec
}

func activeNames(ev protocol.Envelope) []string {
	users := ev.Payload.(protocol.ActiveUsersPayload).Users
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Username)
	}
	return out
}

func signedJoin(t *testing.T, name string) protocol.JoinPayload {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	msg := "TropiChat Authentication\nWallet: " + addr + "\nTimestamp: 1\nNonce: 2\nAction: Chat Login"
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return protocol.JoinPayload{
		Username:      name,
		WalletAddress: addr,
		WalletType:    "MetaMask",
		Color:         "#445566",
		Signature:     hexutil.Encode(sig),
		Message:       msg,
	}
}

func TestJoinAndChat(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	id, rec := f.connect()
	assert.Equal(t, StateConnected, f.relay.State(id))

	err := f.relay.Join(ctx, id, protocol.JoinPayload{Username: "Ana", WalletAddress: "0xABC", Color: "#112233"})
	require.NoError(t, err)
	assert.Equal(t, StateJoined, f.relay.State(id))

	assert.Equal(t, []string{protocol.TypeWelcome, protocol.TypeMessageHistory, protocol.TypeActiveUsers}, rec.types())

	welcome := rec.ofType(protocol.TypeWelcome)[0].Payload.(protocol.WelcomePayload)
	assert.Equal(t, "Ana", welcome.User.Username)
	assert.Equal(t, "0xABC", welcome.User.WalletAddress)
	assert.Equal(t, "Welcome to TropiChat, Ana!", welcome.Message)

	history := rec.ofType(protocol.TypeMessageHistory)[0].Payload.(protocol.HistoryPayload)
	assert.True(t, history.History)
	assert.Empty(t, history.Messages)

	assert.Equal(t, []string{"Ana"}, activeNames(rec.ofType(protocol.TypeActiveUsers)[0]))

	rec.reset()
	require.NoError(t, f.relay.Send(ctx, id, "  hi  "))

	msgs := rec.ofType(protocol.TypeChatMessage)
	require.Len(t, msgs, 1)
	cm := msgs[0].Payload.(protocol.ChatMessage)
	assert.Equal(t, "hi", cm.Content)
	assert.Equal(t, "Ana", cm.Username)
	assert.Equal(t, "#112233", cm.Color)
	assert.Equal(t, int64(1), cm.ID)
}

func TestJoinNotifiesOthers(t *testing.T) {
	f := newFixture(t, Options{})
	_, recA := f.join(t, "Ana", "0xA")
	recA.reset()

	_, recB := f.join(t, "Bo", "0xB")

	joined := recA.ofType(protocol.TypeUserJoined)
	require.Len(t, joined, 1)
	p := joined[0].Payload.(protocol.UserJoinedPayload)
	assert.Equal(t, "Bo", p.Username)
	assert.Equal(t, "#112233", p.Color)
	assert.False(t, p.Timestamp.IsZero())

	assert.Empty(t, recB.ofType(protocol.TypeUserJoined), "joiner must not receive its own user-joined")

	assert.Equal(t, []string{"Ana", "Bo"}, activeNames(recA.ofType(protocol.TypeActiveUsers)[0]))
	assert.Equal(t, []string{"Ana", "Bo"}, activeNames(recB.ofType(protocol.TypeActiveUsers)[0]))
}

func TestDisconnectCleanup(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	idA, _ := f.join(t, "Ana", "0xA")
	_, recB := f.join(t, "Bo", "0xB")
	recB.reset()

	f.relay.Disconnect(ctx, idA)
	assert.Equal(t, StateClosed, f.relay.State(idA))

	left := recB.ofType(protocol.TypeUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "Ana", left[0].Payload.(protocol.UserLeftPayload).Username)
	assert.Equal(t, []string{"Bo"}, activeNames(recB.ofType(protocol.TypeActiveUsers)[0]))

	f.relay.Disconnect(ctx, idA)
	assert.Len(t, recB.ofType(protocol.TypeUserLeft), 1, "second disconnect must not broadcast again")
	assert.Len(t, recB.ofType(protocol.TypeActiveUsers), 1)
}

func TestDisconnectLastUserLeavesEmptyRoom(t *testing.T) {
	f := newFixture(t, Options{})
	id, _ := f.join(t, "Ana", "0xABC")
	watcher, watcherRec := f.join(t, "Bo", "0xB")
	f.relay.Disconnect(context.Background(), watcher)
	_ = watcherRec

	f.relay.Disconnect(context.Background(), id)
	assert.Empty(t, f.relay.OnlineUsers())
	assert.NotNil(t, f.relay.OnlineUsers())
}

func TestDisconnectUpdatesLastSeen(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id, _ := f.join(t, "Ana", "0xABC")
	before, err := f.users.Find(ctx, "0xabc")
	require.NoError(t, err)

	f.relay.Disconnect(ctx, id)

	after, err := f.users.Find(ctx, "0xabc")
	require.NoError(t, err)
	assert.True(t, after.LastSeen.After(before.LastSeen))
}

func TestDisconnectBeforeJoin(t *testing.T) {
	f := newFixture(t, Options{})
	_, recA := f.join(t, "Ana", "0xA")
	recA.reset()

	id, _ := f.connect()
	f.relay.Disconnect(context.Background(), id)

	assert.Empty(t, recA.all())
	assert.Equal(t, StateClosed, f.relay.State(id))
}

func TestJoinValidation(t *testing.T) {
	tests := []struct {
		name string
		req  protocol.JoinPayload
	}{
		{"empty username", protocol.JoinPayload{Username: "   ", WalletAddress: "0xA"}},
		{"empty address", protocol.JoinPayload{Username: "Ana", WalletAddress: ""}},
		{"bad color", protocol.JoinPayload{Username: "Ana", WalletAddress: "0xA", Color: "red;}"}},
		{"long username", protocol.JoinPayload{Username: "abcdefghijklmnopqrstuvwxyz0123456789", WalletAddress: "0xA"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			id, rec := f.connect()

			err := f.relay.Join(context.Background(), id, tt.req)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, StateConnected, f.relay.State(id))
			assert.Equal(t, []string{protocol.TypeError}, rec.types())
			assert.Equal(t, protocol.CodeValidation, rec.all()[0].Payload.(protocol.ErrorPayload).Code)
			assert.Empty(t, f.relay.OnlineUsers())
		})
	}
}

func TestJoinDefaultsColor(t *testing.T) {
	f := newFixture(t, Options{})
	id, rec := f.connect()

	require.NoError(t, f.relay.Join(context.Background(), id, protocol.JoinPayload{Username: "Ana", WalletAddress: "0xABC"}))
	welcome := rec.ofType(protocol.TypeWelcome)[0].Payload.(protocol.WelcomePayload)
	assert.Equal(t, models.ColorFor("0xABC"), welcome.User.Color)
}

func TestStrictPolicyRejectsUnsignedJoin(t *testing.T) {
	f := newFixture(t, Options{Strict: true})
	ctx := context.Background()

	watcherID, watcher := f.connect()
	require.NoError(t, f.relay.Join(ctx, watcherID, signedJoin(t, "Signed")))
	watcher.reset()

	id, rec := f.connect()
	err := f.relay.Join(ctx, id, protocol.JoinPayload{Username: "Ana", WalletAddress: "0xABC"})

	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, []string{protocol.TypeError}, rec.types())
	assert.Equal(t, "Signature required", rec.all()[0].Payload.(protocol.ErrorPayload).Message)
	assert.Empty(t, rec.ofType(protocol.TypeWelcome))
	assert.Empty(t, watcher.all(), "no user-joined or active-users for a refused join")
	assert.Equal(t, StateConnected, f.relay.State(id))
}

func TestSignedJoinAccepted(t *testing.T) {
	f := newFixture(t, Options{Strict: true})
	id, rec := f.connect()

	require.NoError(t, f.relay.Join(context.Background(), id, signedJoin(t, "Ana")))
	assert.Equal(t, StateJoined, f.relay.State(id))
	assert.Len(t, rec.ofType(protocol.TypeWelcome), 1)
}

func TestBadSignatureRejected(t *testing.T) {
	for _, strict := range []bool{false, true} {
		t.Run(fmt.Sprintf("strict=%v", strict), func(t *testing.T) {
			f := newFixture(t, Options{Strict: strict})
			ctx := context.Background()

			watcherID, watcher := f.connect()
			require.NoError(t, f.relay.Join(ctx, watcherID, signedJoin(t, "Watcher")))
			watcher.reset()

			req := signedJoin(t, "Mallory")
			req.WalletAddress = signedJoin(t, "Other").WalletAddress

			id, rec := f.connect()
			err := f.relay.Join(ctx, id, req)

			assert.ErrorIs(t, err, ErrAuthentication)
			assert.Equal(t, "Wallet verification failed", rec.all()[0].Payload.(protocol.ErrorPayload).Message)
			assert.Equal(t, []string{"Watcher"}, names(f.relay.OnlineUsers()))
			assert.Empty(t, watcher.ofType(protocol.TypeUserJoined))
			assert.Equal(t, StateConnected, f.relay.State(id))
		})
	}
}

func TestChallengeTokenRequired(t *testing.T) {
	f := newFixture(t, Options{RequireChallengeToken: true, ChallengeSecret: "s3cret"})
	ctx := context.Background()

	req := signedJoin(t, "Ana")
	id, _ := f.connect()
	assert.ErrorIs(t, f.relay.Join(ctx, id, req), ErrAuthentication, "signed join without token")

	ch, err := auth.NewChallenge("s3cret", "TropiChat", req.WalletAddress, time.Now(), time.Minute)
	require.NoError(t, err)
	req.ChallengeToken = ch.Token
	assert.ErrorIs(t, f.relay.Join(ctx, id, req), ErrAuthentication, "token for a different text")

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	ch, err = auth.NewChallenge("s3cret", "TropiChat", addr, time.Now(), time.Minute)
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(ch.Message)), key)
	require.NoError(t, err)

	require.NoError(t, f.relay.Join(ctx, id, protocol.JoinPayload{
		Username:       "Ana",
		WalletAddress:  addr,
		Signature:      hexutil.Encode(sig),
		Message:        ch.Message,
		ChallengeToken: ch.Token,
	}))
	assert.Equal(t, StateJoined, f.relay.State(id))
}

func TestSendBeforeJoin(t *testing.T) {
	f := newFixture(t, Options{})
	id, rec := f.connect()

	err := f.relay.Send(context.Background(), id, "hi")
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, "Not authenticated", rec.all()[0].Payload.(protocol.ErrorPayload).Message)

	msgs, _ := f.messages.Recent(context.Background(), 50)
	assert.Empty(t, msgs)
}

func TestSendEmptyAndTooLong(t *testing.T) {
	f := newFixture(t, Options{MaxMessageLength: 5})
	id, rec := f.join(t, "Ana", "0xA")
	rec.reset()

	assert.ErrorIs(t, f.relay.Send(context.Background(), id, "   \n\t"), ErrValidation)
	assert.ErrorIs(t, f.relay.Send(context.Background(), id, "123456"), ErrValidation)
	assert.Len(t, rec.ofType(protocol.TypeError), 2)
	assert.Empty(t, rec.ofType(protocol.TypeChatMessage))

	msgs, _ := f.messages.Recent(context.Background(), 50)
	assert.Empty(t, msgs)
}

func TestSendOrdering(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	idA, recA := f.join(t, "Ana", "0xA")
	_, recB := f.join(t, "Bo", "0xB")
	recA.reset()
	recB.reset()

	require.NoError(t, f.relay.Send(ctx, idA, "m1"))
	require.NoError(t, f.relay.Send(ctx, idA, "m2"))

	for _, rec := range []*recorder{recA, recB} {
		got := rec.ofType(protocol.TypeChatMessage)
		require.Len(t, got, 2)
		assert.Equal(t, "m1", got[0].Payload.(protocol.ChatMessage).Content)
		assert.Equal(t, "m2", got[1].Payload.(protocol.ChatMessage).Content)
	}

	stored, err := f.messages.Recent(ctx, 50)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "m1", stored[0].Content)
	assert.Equal(t, "m2", stored[1].Content)
}

func TestConcurrentSendsMatchStoreOrder(t *testing.T) {
	f := newFixture(t, Options{HistoryLimit: 500})
	ctx := context.Background()
	idA, _ := f.join(t, "Ana", "0xA")
	idB, _ := f.join(t, "Bo", "0xB")
	_, watcher := f.join(t, "Cy", "0xC")
	watcher.reset()

	var wg sync.WaitGroup
	for _, id := range []string{idA, idB} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = f.relay.Send(ctx, id, fmt.Sprintf("%s-%d", id, i))
			}
		}(id)
	}
	wg.Wait()

	stored, err := f.messages.Recent(ctx, 500)
	require.NoError(t, err)
	seen := watcher.ofType(protocol.TypeChatMessage)
	require.Len(t, seen, len(stored))
	for i := range stored {
		assert.Equal(t, stored[i].ID, seen[i].Payload.(protocol.ChatMessage).ID)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id, rec := f.join(t, "Ana", "0xA")
	rec.reset()

	require.NoError(t, f.relay.Send(ctx, id, "hello"))
	sent := rec.ofType(protocol.TypeChatMessage)[0].Payload.(protocol.ChatMessage)

	recent, err := f.relay.RecentMessages(ctx)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, sent, recent[0])
}

func TestHistoryReplayIsCapped(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	for i := 1; i <= 120; i++ {
		_, err := f.messages.Append(ctx, &models.Message{Content: fmt.Sprintf("m%d", i), Username: "x"})
		require.NoError(t, err)
	}

	_, rec := f.join(t, "Ana", "0xA")

	history := rec.ofType(protocol.TypeMessageHistory)[0].Payload.(protocol.HistoryPayload)
	require.Len(t, history.Messages, 50)
	assert.Equal(t, "m71", history.Messages[0].Content)
	assert.Equal(t, "m120", history.Messages[49].Content)
}

func TestStorageUnavailableOnSend(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	idA, recA := f.join(t, "Ana", "0xA")
	idB, recB := f.join(t, "Bo", "0xB")
	recA.reset()
	recB.reset()

	f.messages.failAppend = true
	err := f.relay.Send(ctx, idA, "lost")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, []string{protocol.TypeError}, recA.types())
	assert.Equal(t, protocol.CodeStorage, recA.all()[0].Payload.(protocol.ErrorPayload).Code)
	assert.Empty(t, recB.all())
	assert.Equal(t, StateJoined, f.relay.State(idA))

	f.messages.failAppend = false
	require.NoError(t, f.relay.Send(ctx, idB, "still works"))
	assert.Len(t, recA.ofType(protocol.TypeChatMessage), 1)
}

func TestStorageUnavailableOnJoin(t *testing.T) {
	t.Run("users", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.users.fail = true
		id, rec := f.connect()

		err := f.relay.Join(context.Background(), id, protocol.JoinPayload{Username: "Ana", WalletAddress: "0xA"})
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.Equal(t, StateConnected, f.relay.State(id))
		assert.Equal(t, []string{protocol.TypeError}, rec.types())
	})

	t.Run("history", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.messages.failRecent = true
		id, _ := f.connect()

		err := f.relay.Join(context.Background(), id, protocol.JoinPayload{Username: "Ana", WalletAddress: "0xA"})
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.Empty(t, f.relay.OnlineUsers())
	})
}

func TestTyping(t *testing.T) {
	f := newFixture(t, Options{})
	idA, recA := f.join(t, "Ana", "0xA")
	_, recB := f.join(t, "Bo", "0xB")
	recA.reset()
	recB.reset()

	f.relay.Typing(idA, true)

	assert.Empty(t, recA.all())
	typing := recB.ofType(protocol.TypeUserTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, protocol.UserTypingPayload{Username: "Ana", IsTyping: true}, typing[0].Payload)

	recB.reset()
	idC, _ := f.connect()
	f.relay.Typing(idC, true)
	f.relay.Typing("missing", true)
	assert.Empty(t, recB.all())
}

func TestRejoinReplacesBinding(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	idA, recA := f.join(t, "Ana", "0xA")
	_, recB := f.join(t, "Bo", "0xB")
	recA.reset()
	recB.reset()

	require.NoError(t, f.relay.Join(ctx, idA, protocol.JoinPayload{Username: "Ana2", WalletAddress: "0xA", Color: "#000"}))

	assert.Equal(t, []string{"Ana2", "Bo"}, names(f.relay.OnlineUsers()))
	assert.Empty(t, recB.ofType(protocol.TypeUserJoined))
	assert.Len(t, recB.ofType(protocol.TypeActiveUsers), 1)
	assert.Len(t, recA.ofType(protocol.TypeWelcome), 1)

	require.NoError(t, f.relay.Send(ctx, idA, "renamed"))
	assert.Equal(t, "Ana2", recB.ofType(protocol.TypeChatMessage)[0].Payload.(protocol.ChatMessage).Username)
}

func TestMultiSessionPolicy(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		f := newFixture(t, Options{AllowMultiSession: true})
		f.join(t, "Ana", "0xABC")
		f.join(t, "Ana tab 2", "0xabc")
		assert.Len(t, f.relay.OnlineUsers(), 2)
	})

	t.Run("single session", func(t *testing.T) {
		f := newFixture(t, Options{AllowMultiSession: false})
		idA, _ := f.join(t, "Ana", "0xABC")
		id, rec := f.connect()

		err := f.relay.Join(context.Background(), id, protocol.JoinPayload{Username: "Ana", WalletAddress: "0xabc"})
		assert.ErrorIs(t, err, ErrAuthentication)
		assert.Equal(t, protocol.CodeAuthentication, rec.all()[0].Payload.(protocol.ErrorPayload).Code)
		assert.Len(t, f.relay.OnlineUsers(), 1)

		// rejoining the bound connection itself is fine
		require.NoError(t, f.relay.Join(context.Background(), idA, protocol.JoinPayload{Username: "Ana", WalletAddress: "0xABC"}))

		f.relay.Disconnect(context.Background(), idA)
		require.NoError(t, f.relay.Join(context.Background(), id, protocol.JoinPayload{Username: "Ana", WalletAddress: "0xabc"}))
	})
}

func TestPresenceMatchesJoinedConnections(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	stillJoined := map[string]bool{}

	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, _ := f.connect()
			name := fmt.Sprintf("u%d", i)
			if err := f.relay.Join(ctx, id, protocol.JoinPayload{Username: name, WalletAddress: fmt.Sprintf("0x%d", i)}); err != nil {
				return
			}
			if i%3 == 0 {
				f.relay.Disconnect(ctx, id)
				f.relay.Disconnect(ctx, id)
				return
			}
			mu.Lock()
			stillJoined[name] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	online := names(f.relay.OnlineUsers())
	assert.Len(t, online, len(stillJoined))
	for _, n := range online {
		assert.True(t, stillJoined[n], "unexpected presence entry %s", n)
	}
}

func TestEventsMirrored(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id, _ := f.join(t, "Ana", "0xA")
	require.NoError(t, f.relay.Send(ctx, id, "hi"))
	f.relay.Disconnect(ctx, id)
	f.relay.Close()

	f.pub.mu.Lock()
	defer f.pub.mu.Unlock()
	var types []string
	for _, ev := range f.pub.events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{events.EventUserJoined, events.EventChatMessage, events.EventUserLeft}, types)
	assert.Equal(t, "hi", f.pub.events[1].Payload["content"])
}

func TestProfile(t *testing.T) {
	f := newFixture(t, Options{})
	f.join(t, "Ana", "0xABC")

	p, err := f.relay.Profile(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "Ana", p.Username)
	assert.Equal(t, "MetaMask", p.WalletType)

	_, err = f.relay.Profile(context.Background(), "0xnobody")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestUnknownConnection(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, f.relay.Join(ctx, "nope", protocol.JoinPayload{Username: "a", WalletAddress: "b"}), ErrUnknownConnection)
	assert.ErrorIs(t, f.relay.Send(ctx, "nope", "hi"), ErrUnknownConnection)
	f.relay.Disconnect(ctx, "nope")
}

func names(users []protocol.UserSummary) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Username)
	}
	return out
}

func TestSignedPhantomEVMJoin(t *testing.T) {
	f := newFixture(t, Options{Strict: true})
	req := signedJoin(t, "Ana")
	req.WalletType = "Phantom"

	id, rec := f.connect()
	require.NoError(t, f.relay.Join(context.Background(), id, req))
	assert.Equal(t, StateJoined, f.relay.State(id))
	assert.Empty(t, rec.ofType(protocol.TypeError))
}

// blockingPublisher holds every Publish until release is closed or the
// context expires.
type blockingPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	count   int
}

func (p *blockingPublisher) Publish(ctx context.Context, _ string, _ events.Event) error {
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.mu.Lock()
	p.count++
	p.mu.Unlock()
	return nil
}

func TestSlowMirrorDoesNotBlockRoom(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	r := New(Options{StorageTimeout: 2 * time.Second, MirrorBuffer: 4}, verify.New(),
		repositories.NewMemoryMessageStore(), repositories.NewMemoryUserDirectory(), pub, zap.NewNop())
	ctx := context.Background()

	idA := r.Connect(&recorder{})
	idB := r.Connect(&recorder{})
	idC := r.Connect(&recorder{})

	start := time.Now()
	require.NoError(t, r.Join(ctx, idA, protocol.JoinPayload{Username: "Ana", WalletAddress: "0xA"}))
	require.NoError(t, r.Join(ctx, idB, protocol.JoinPayload{Username: "Bo", WalletAddress: "0xB"}))
	for i := 0; i < 10; i++ {
		require.NoError(t, r.Send(ctx, idA, fmt.Sprintf("m%d", i)))
	}
	r.Typing(idB, true)
	r.Typing(idC, true)
	require.NoError(t, r.Send(ctx, idB, "still here"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(pub.release)
	r.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Greater(t, pub.count, 0)
	assert.LessOrEqual(t, pub.count, 5, "events beyond the backlog are dropped")
}

func TestTimestampsNeverGoBackwards(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id, rec := f.join(t, "Ana", "0xA")
	rec.reset()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base.Add(time.Hour), base, base.Add(2 * time.Hour)}
	var mu sync.Mutex
	f.relay.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		ts := times[0]
		if len(times) > 1 {
			times = times[1:]
		}
		return ts
	}

	for _, m := range []string{"m1", "m2", "m3"} {
		require.NoError(t, f.relay.Send(ctx, id, m))
	}

	sent := rec.ofType(protocol.TypeChatMessage)
	require.Len(t, sent, 3)
	for i := 1; i < len(sent); i++ {
		prev := sent[i-1].Payload.(protocol.ChatMessage).Timestamp
		cur := sent[i].Payload.(protocol.ChatMessage).Timestamp
		assert.False(t, cur.Before(prev), "message %d stamped before message %d", i+1, i)
	}

	history, err := f.relay.RecentMessages(ctx)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "m1", history[0].Content)
	assert.Equal(t, "m3", history[2].Content)
}
