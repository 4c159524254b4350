package bot

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/geonote-chat/cache"
	"github.com/tcriess/geonote-chat/filter"
	"github.com/tcriess/geonote-chat/room"
	"github.com/tcriess/geonote-chat/types"
)

type sent struct {
	Text    string
	Ref     string
	Buttons []types.Button
}

type fakeNotifier struct {
	sync.Mutex
	sent   map[types.Endpoint][]sent
	images map[string][]byte
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		sent:   make(map[types.Endpoint][]sent),
		images: make(map[string][]byte),
	}
}

func (n *fakeNotifier) Notify(_ context.Context, endpoints iter.Seq[types.Endpoint], text string) {
	n.Lock()
	defer n.Unlock()
	for e := range endpoints {
		n.sent[e] = append(n.sent[e], sent{Text: text})
	}
}

func (n *fakeNotifier) Reply(_ context.Context, endpoint types.Endpoint, text string, buttons ...types.Button) error {
	n.Lock()
	defer n.Unlock()
	n.sent[endpoint] = append(n.sent[endpoint], sent{Text: text, Buttons: buttons})
	return nil
}

func (n *fakeNotifier) SendImage(_ context.Context, endpoint types.Endpoint, image []byte, caption string, buttons ...types.Button) (string, error) {
	n.Lock()
	defer n.Unlock()
	ref := fmt.Sprintf("ref-%d", len(n.images))
	n.images[ref] = image
	n.sent[endpoint] = append(n.sent[endpoint], sent{Text: caption, Ref: ref, Buttons: buttons})
	return ref, nil
}

func (n *fakeNotifier) ResendImage(_ context.Context, endpoint types.Endpoint, ref string, caption string, buttons ...types.Button) error {
	n.Lock()
	defer n.Unlock()
	if _, ok := n.images[ref]; !ok {
		return errors.New("unknown ref")
	}
	n.sent[endpoint] = append(n.sent[endpoint], sent{Text: caption, Ref: ref, Buttons: buttons})
	return nil
}

// last returns the last text sent to endpoint
func (n *fakeNotifier) last(endpoint types.Endpoint) string {
	n.Lock()
	defer n.Unlock()
	s := n.sent[endpoint]
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1].Text
}

func (n *fakeNotifier) all(endpoint types.Endpoint) []sent {
	n.Lock()
	defer n.Unlock()
	return append([]sent(nil), n.sent[endpoint]...)
}

type fakeGenerator struct {
	sync.Mutex
	prompts []string
	err     error
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) ([]byte, error) {
	g.Lock()
	defer g.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.prompts = append(g.prompts, prompt)
	return []byte("image of " + prompt), nil
}

type score struct {
	User    types.UserId
	ImageId string
	Score   int
}

type fakeScorer struct {
	sync.Mutex
	images map[string]string // ref -> image id
	scores []score
	top    []types.TopEntry
}

func (s *fakeScorer) SendImage(_ context.Context, prompt, ref string) (string, error) {
	s.Lock()
	defer s.Unlock()
	if s.images == nil {
		s.images = make(map[string]string)
	}
	id := "img-" + ref
	s.images[ref] = id
	return id, nil
}

func (s *fakeScorer) SendScore(_ context.Context, user types.UserId, imageId string, value int) error {
	s.Lock()
	defer s.Unlock()
	s.scores = append(s.scores, score{User: user, ImageId: imageId, Score: value})
	return nil
}

func (s *fakeScorer) Top(context.Context) ([]types.TopEntry, error) {
	return s.top, nil
}

type fixture struct {
	bot       *Bot
	registry  *room.Registry
	notifier  *fakeNotifier
	generator *fakeGenerator
	scorer    *fakeScorer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	images, err := cache.NewImages(16, nil)
	require.NoError(t, err)
	f := &fixture{
		registry:  room.NewRegistry(room.WithLogger(hclog.NewNullLogger())),
		notifier:  newFakeNotifier(),
		generator: &fakeGenerator{},
		scorer:    &fakeScorer{},
	}
	opts = append([]Option{WithLogger(hclog.NewNullLogger())}, opts...)
	f.bot = New(f.registry, f.notifier, f.generator, f.scorer, images, opts...)
	return f
}

func user(id types.UserId, nick string) types.User {
	return types.User{Id: id, Nick: nick, Key: nick}
}

func (f *fixture) say(u types.User, text string) string {
	endpoint := types.Endpoint("ep-" + u.Nick)
	f.bot.HandleMessage(context.Background(), Message{User: u, Endpoint: endpoint, Text: text})
	return f.notifier.last(endpoint)
}

var (
	alice = user(1, "alice")
	bob   = user(2, "bob")
	carol = user(3, "carol")
)

func TestGroupLifecycle(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "No public groups. Be the first! /publish", f.say(alice, "/public_group_list"))
	assert.Equal(t, "Your new group's ID is: 0 and it's closed by default.\nTo publish use /publish", f.say(alice, "/new_group"))
	assert.Equal(t, "You are already in a group 0.\nLeave first: /leave", f.say(alice, "/new_group"))
	assert.Equal(t, "Your group 0 is already closed", f.say(alice, "/close"))
	assert.Equal(t, "You've made your group 0 public", f.say(alice, "/publish"))
	assert.Equal(t, "Your group 0 is already published", f.say(alice, "/publish"))
	assert.Equal(t, "0\n", f.say(bob, "/public_group_list"))

	assert.Equal(t, "Group 0 says:\n\nbob joined", f.say(bob, "/join 0"))
	assert.Equal(t, "Group 0 says:\n\nbob joined", f.notifier.last("ep-alice"))
	assert.Equal(t, "You are already in group 0", f.say(bob, "/join 0"))

	f.say(alice, "hello everybody")
	assert.Equal(t, "alice says:\n\nhello everybody", f.notifier.last("ep-bob"))
	assert.NotEqual(t, "alice says:\n\nhello everybody", f.notifier.last("ep-alice"))

	assert.Equal(t, "Group 0 says:\n\nalice left", f.say(alice, "/leave"))
	assert.Equal(t, "Group 0 says:\n\nalice left", f.notifier.last("ep-bob"))
	assert.Equal(t, "You are not in any group yet. Try /public_group_list", f.say(alice, "/leave"))
	assert.Equal(t, []types.RoomId{0}, f.registry.PublicRoomIds())

	f.say(bob, "/leave")
	assert.Empty(t, f.registry.PublicRoomIds())
	assert.Equal(t, "There is no public group with ID 0", f.say(alice, "/join 0"))
}

func TestJoinArguments(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Specify id of group to join: /join id", f.say(alice, "/join"))
	assert.Equal(t, "ID mustn't contain anything but numbers", f.say(alice, "/join abc"))
	assert.Equal(t, "There is no public group with ID 42", f.say(alice, "/join 42"))
}

func TestJoinLeavesPreviousGroup(t *testing.T) {
	f := newFixture(t)
	f.say(alice, "/publish")
	f.say(bob, "/new_group")
	f.say(carol, "/join 1")
	assert.Equal(t, "There is no public group with ID 1", f.notifier.last("ep-carol"))

	f.say(bob, "/join 0")
	texts := f.notifier.all("ep-bob")
	require.GreaterOrEqual(t, len(texts), 2)
	assert.Equal(t, "Group 1 says:\n\nbob left", texts[len(texts)-2].Text)
	assert.Equal(t, "Group 0 says:\n\nbob joined", texts[len(texts)-1].Text)
	r, ok := f.registry.CurrentRoom(bob.Id)
	require.True(t, ok)
	assert.Equal(t, types.RoomId(0), r.Id())
}

func TestPublishAndCloseWithoutGroup(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "You didn't have a group, so we created public group for you! ID: 0", f.say(alice, "/publish"))
	assert.True(t, f.registry.RoomExists(0))
	assert.Equal(t, "You didn't have a group, so we created closed group for you! ID: 1", f.say(bob, "/close"))
	assert.False(t, f.registry.RoomExists(1))
	assert.Equal(t, "You've closed your group 0", f.say(alice, "/close"))
	assert.False(t, f.registry.RoomExists(0))
}

func TestStartAndHelp(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.say(alice, "/help"), "You have no group! Try /new_group\n")
	text := f.say(alice, "/start")
	assert.Contains(t, text, "Your group ID is 0 and its close.\n")
	f.say(alice, "/publish")
	assert.Contains(t, f.say(alice, "/start"), "Your group ID is 0 and its public.\n")
	help := f.notifier.all("ep-alice")
	assert.Len(t, help[len(help)-1].Buttons, len(commandKeyboard))
}

func TestEchoWithoutGroup(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "This isn't a known command to me and you aren't in any group to chat, try /publish", f.say(alice, "hi"))
	assert.Equal(t, "This isn't a known command to me and you aren't in any group to chat, try /publish", f.say(alice, "/unknown"))
}

func TestCurrentPromptAndAdd(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "You aren't in any group yet. Open your room with /new_group", f.say(alice, "/current_prompt"))
	assert.Equal(t, "You are not in any group yet. Create one with /new_group", f.say(alice, "/add fog"))

	f.say(alice, "/publish")
	f.say(bob, "/join 0")
	assert.Equal(t, "Current prompt is empty", f.say(alice, "/current_prompt"))
	assert.Equal(t, "Specify what you want to add to current prompt: /add And also fog everywhere", f.say(alice, "/add   "))

	assert.Equal(t, "ID: img-ref-0", f.say(alice, "/add Winter forest"))
	assert.Equal(t, "ID: img-ref-0", f.notifier.last("ep-bob"))
	assert.Equal(t, "Current prompt is: \nWinter forest\n", f.say(bob, "/current_prompt"))
	// generated once, sent to both members
	assert.Equal(t, []string{"Winter forest\n"}, f.generator.prompts)
	bobSent := f.notifier.all("ep-bob")
	assert.Equal(t, "ref-0", bobSent[len(bobSent)-2].Ref)
	assert.Equal(t, scoreButtons("img-ref-0"), bobSent[len(bobSent)-1].Buttons)

	f.say(bob, "/add frozen lake")
	assert.Equal(t, []string{"Winter forest\n", "Winter forest\nfrozen lake\n"}, f.generator.prompts)
	assert.Equal(t, "ID: img-ref-1", f.notifier.last("ep-alice"))
}

func TestNewAndGet(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Specify what you want to see: /new Winter forest with a frozen lake", f.say(alice, "/new"))

	f.say(alice, "/new a red fox")
	sentAlice := f.notifier.all("ep-alice")
	assert.Equal(t, "ref-0", sentAlice[len(sentAlice)-1].Ref)

	// cached: sent again without generating
	f.say(bob, "/new a red fox")
	assert.Equal(t, []string{"a red fox"}, f.generator.prompts)
	sentBob := f.notifier.all("ep-bob")
	assert.Equal(t, "ref-0", sentBob[len(sentBob)-1].Ref)

	assert.Equal(t, "Identifier required: /get ID", f.say(carol, "/get"))
	assert.Equal(t, "Sorry, no ID found", f.say(carol, "/get ref-17"))
	assert.Equal(t, "ref-0", f.say(carol, "/get ref-0"))
	sentCarol := f.notifier.all("ep-carol")
	assert.Equal(t, scoreButtons("img-ref-0"), sentCarol[len(sentCarol)-1].Buttons)
}

func TestGenerationFailure(t *testing.T) {
	f := newFixture(t)
	f.generator.err = errors.New("gpu on fire")
	assert.Equal(t, "Sorry, the picture could not be generated", f.say(alice, "/new a red fox"))
}

func TestTop(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "No one in top, be first!", f.say(alice, "/top"))
	f.scorer.top = []types.TopEntry{{Score: 5, Url: "img-1"}, {Score: 2, Url: "img-2"}}
	assert.Equal(t, "5 : img-1\n2 : img-2\n", f.say(alice, "/top"))
}

func TestCallbacks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bot.HandleCallback(ctx, Callback{User: alice, Data: "like:img-1"})
	f.bot.HandleCallback(ctx, Callback{User: bob, Data: "dislike", ImageId: "img-1"})
	f.bot.HandleCallback(ctx, Callback{User: bob, Data: "dislike"})
	f.bot.HandleCallback(ctx, Callback{User: bob, Data: "love:img-1"})
	assert.Equal(t, []score{{User: 1, ImageId: "img-1", Score: 1}, {User: 2, ImageId: "img-1", Score: -1}}, f.scorer.scores)

	// keyboard buttons
	f.bot.HandleCallback(ctx, Callback{User: carol, Endpoint: "ep-carol", Data: "/new_group"})
	assert.Equal(t, "Your new group's ID is: 0 and it's closed by default.\nTo publish use /publish", f.notifier.last("ep-carol"))
}

func TestRelayFilter(t *testing.T) {
	prog, err := filter.Compile(`not (Text contains "spam")`)
	require.NoError(t, err)
	f := newFixture(t, WithRelayFilter(prog))
	f.say(alice, "/publish")
	f.say(bob, "/join 0")

	assert.Equal(t, "Your message was rejected", f.say(alice, "cheap spam"))
	assert.Equal(t, "Group 0 says:\n\nbob joined", f.notifier.last("ep-bob"))
	assert.Equal(t, "Your message was rejected", f.say(alice, "/add spam"))
	assert.Equal(t, "", mustRoom(t, f, alice).Text())
	f.say(alice, "nice")
	assert.Equal(t, "alice says:\n\nnice", f.notifier.last("ep-bob"))
}

func mustRoom(t *testing.T, f *fixture, u types.User) *room.Room {
	r, ok := f.registry.CurrentRoom(u.Id)
	require.True(t, ok)
	return r
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t)
	f.say(alice, "/publish")
	f.say(bob, "/join 0")
	f.bot.HandleDisconnect(context.Background(), alice, "ep-alice")
	assert.Equal(t, "Group 0 says:\n\nalice left", f.notifier.last("ep-bob"))
	_, ok := f.registry.CurrentRoom(alice.Id)
	assert.False(t, ok)
	f.bot.HandleDisconnect(context.Background(), alice, "ep-alice")
}

func TestSecondSessionOfSameUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bot.HandleMessage(ctx, Message{User: alice, Endpoint: "ep-old", Text: "/publish"})
	f.say(bob, "/join 0")

	// alice opens a second session and talks from there
	f.bot.HandleMessage(ctx, Message{User: alice, Endpoint: "ep-new", Text: "/current_prompt"})
	assert.Equal(t, "Current prompt is empty", f.notifier.last("ep-new"))
	f.say(bob, "hi alice")
	assert.Equal(t, "bob says:\n\nhi alice", f.notifier.last("ep-new"))
	assert.NotEqual(t, "bob says:\n\nhi alice", f.notifier.last("ep-old"))

	// closing the old session keeps her in the group
	f.bot.HandleDisconnect(ctx, alice, "ep-old")
	r := mustRoom(t, f, alice)
	assert.Equal(t, 2, r.Len())
	assert.NotEqual(t, "Group 0 says:\n\nalice left", f.notifier.last("ep-bob"))
	assert.Equal(t, []types.RoomId{0}, f.registry.PublicRoomIds())

	f.bot.HandleDisconnect(ctx, alice, "ep-new")
	assert.Equal(t, "Group 0 says:\n\nalice left", f.notifier.last("ep-bob"))
	_, ok := f.registry.CurrentRoom(alice.Id)
	assert.False(t, ok)
}
