package bot

import (
	"context"
	"encoding/json"
	"iter"
	"strings"
	"time"

	"github.com/antonmedv/expr/vm"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/geonote-chat/filter"
	"github.com/tcriess/geonote-chat/globals"
	"github.com/tcriess/geonote-chat/providers"
	"github.com/tcriess/geonote-chat/room"
	"github.com/tcriess/geonote-chat/types"
)

// Notifier delivers messages to chat endpoints. It is implemented by the transport.
type Notifier interface {
	Notify(ctx context.Context, endpoints iter.Seq[types.Endpoint], text string)
	Reply(ctx context.Context, endpoint types.Endpoint, text string, buttons ...types.Button) error
	// SendImage sends a new image and returns a reference which can be used to send it again.
	SendImage(ctx context.Context, endpoint types.Endpoint, image []byte, caption string, buttons ...types.Button) (string, error)
	ResendImage(ctx context.Context, endpoint types.Endpoint, ref string, caption string, buttons ...types.Button) error
}

type Generator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

type Scorer interface {
	SendImage(ctx context.Context, prompt, ref string) (string, error)
	SendScore(ctx context.Context, user types.UserId, imageId string, score int) error
	Top(ctx context.Context) ([]types.TopEntry, error)
}

type ImageCache interface {
	Get(prompt string) (types.Image, bool)
	ByRef(ref string) (types.Image, bool)
	Put(image types.Image) error
}

// paramsSource is implemented by generators which can report the parameters used for a prompt.
type paramsSource interface {
	Params(prompt string) providers.Txt2ImgRequest
}

// Message is an inbound chat line or command.
type Message struct {
	User     types.User
	Endpoint types.Endpoint
	Text     string
}

// Callback is an inbound button press.
type Callback struct {
	User     types.User
	Endpoint types.Endpoint
	Data     string
	ImageId  string
}

// Bot translates chat events into room operations, calls to the remote services and notifications.
type Bot struct {
	registry  *room.Registry
	notifier  Notifier
	generator Generator
	scorer    Scorer
	images    ImageCache
	relay     *vm.Program
	logger    hclog.Logger
}

type Option func(*Bot)

// WithRelayFilter sets the compiled filter every relayed text and prompt addition has to pass.
func WithRelayFilter(prog *vm.Program) Option {
	return func(b *Bot) {
		b.relay = prog
	}
}

func WithLogger(logger hclog.Logger) Option {
	return func(b *Bot) {
		b.logger = logger
	}
}

func New(registry *room.Registry, notifier Notifier, generator Generator, scorer Scorer, images ImageCache, opts ...Option) *Bot {
	b := &Bot{
		registry:  registry,
		notifier:  notifier,
		generator: generator,
		scorer:    scorer,
		images:    images,
		logger:    globals.AppLogger.Named("bot"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetNotifier replaces the notifier, the transport usually is created after the bot.
func (b *Bot) SetNotifier(notifier Notifier) {
	b.notifier = notifier
}

// HandleMessage dispatches a chat line. Lines starting with "/" are commands, everything else is relayed to the
// other members of the sender's room.
func (b *Bot) HandleMessage(ctx context.Context, msg Message) {
	b.rebind(msg.User, msg.Endpoint)
	if !strings.HasPrefix(msg.Text, "/") {
		b.onEcho(ctx, msg)
		return
	}
	command, args, _ := strings.Cut(msg.Text, " ")
	args = strings.TrimSpace(args)
	b.logger.Debug("command", "command", command, "user", msg.User.Id)
	switch command {
	case "/start":
		b.onStart(ctx, msg)
	case "/help":
		b.onHelp(ctx, msg)
	case "/leave":
		b.onLeave(ctx, msg)
	case "/join":
		b.onJoin(ctx, msg, args)
	case "/publish":
		b.onPublish(ctx, msg)
	case "/close":
		b.onClose(ctx, msg)
	case "/new_group":
		b.onNewGroup(ctx, msg)
	case "/public_group_list":
		b.onPublicGroupList(ctx, msg)
	case "/current_prompt":
		b.onCurrentPrompt(ctx, msg)
	case "/new":
		b.onNew(ctx, msg, args)
	case "/add":
		b.onAdd(ctx, msg, args)
	case "/top":
		b.onTop(ctx, msg)
	case "/get":
		b.onGet(ctx, msg, args)
	default:
		b.onEcho(ctx, msg)
	}
}

// HandleCallback handles like/dislike button presses. The image id is either given explicitly or appended to
// the button data ("like:<image id>"). Keyboard buttons carry a command and are handled like a typed command.
func (b *Bot) HandleCallback(ctx context.Context, cb Callback) {
	if strings.HasPrefix(cb.Data, "/") {
		b.HandleMessage(ctx, Message{User: cb.User, Endpoint: cb.Endpoint, Text: cb.Data})
		return
	}
	b.rebind(cb.User, cb.Endpoint)
	action, imageId, _ := strings.Cut(cb.Data, ":")
	if cb.ImageId != "" {
		imageId = cb.ImageId
	}
	if imageId == "" {
		b.logger.Warn("callback without image id", "data", cb.Data)
		return
	}
	var score int
	switch action {
	case "like":
		score = 1
	case "dislike":
		score = -1
	default:
		b.logger.Warn("unknown callback", "data", cb.Data)
		return
	}
	err := b.scorer.SendScore(ctx, cb.User.Id, imageId, score)
	if err != nil {
		b.logger.Error("could not send score", "image", imageId, "error", err)
	}
}

// HandleDisconnect removes a user whose session at endpoint ended from its room and tells the remaining members.
// If the user already talks to the room from a newer session, it stays.
func (b *Bot) HandleDisconnect(ctx context.Context, user types.User, endpoint types.Endpoint) {
	left, ok := b.registry.LeaveRoomFrom(user.Id, endpoint)
	if !ok {
		return
	}
	b.notifier.Notify(ctx, left.Endpoints(), someoneSays(groupName(left), user.Nick+" left"))
}

// rebind makes the session the user was last active in the one receiving the room's notifications.
func (b *Bot) rebind(user types.User, endpoint types.Endpoint) {
	if endpoint != "" {
		b.registry.Rebind(user.Id, endpoint)
	}
}

func (b *Bot) reply(ctx context.Context, endpoint types.Endpoint, text string, buttons ...types.Button) {
	err := b.notifier.Reply(ctx, endpoint, text, buttons...)
	if err != nil {
		b.logger.Error("could not reply", "endpoint", endpoint, "error", err)
	}
}

func (b *Bot) relayAllowed(msg Message, r *room.Room, text string) bool {
	return filter.Run(b.relay, filter.Env{
		Text:    text,
		Nick:    msg.User.Nick,
		RoomId:  int64(r.Id()),
		Public:  b.registry.IsPublic(r),
		Members: r.Len(),
	})
}

// sendPicture sends the picture for prompt to endpoint, generating it only if it is not cached (or the transport
// lost it). It returns the id the scoring service knows the picture by.
func (b *Bot) sendPicture(ctx context.Context, prompt string, endpoint types.Endpoint) (string, error) {
	ref := ""
	if image, ok := b.images.Get(prompt); ok && image.Ref != "" {
		err := b.notifier.ResendImage(ctx, endpoint, image.Ref, "")
		if err == nil {
			ref = image.Ref
		} else {
			b.logger.Warn("could not resend cached image, generating again", "ref", image.Ref, "error", err)
		}
	}
	if ref == "" {
		img, err := b.generator.Generate(ctx, prompt)
		if err != nil {
			return "", err
		}
		ref, err = b.notifier.SendImage(ctx, endpoint, img, "")
		if err != nil {
			return "", err
		}
	}
	imageId, err := b.scorer.SendImage(ctx, prompt, ref)
	if err != nil {
		return "", err
	}
	image := types.Image{
		Prompt:    prompt,
		Ref:       ref,
		ImageId:   imageId,
		CreatedAt: time.Now().UTC(),
	}
	if ps, ok := b.generator.(paramsSource); ok {
		if params, err := json.Marshal(ps.Params(prompt)); err == nil {
			image.Params = params
		}
	}
	err = b.images.Put(image)
	if err != nil {
		b.logger.Error("could not cache image", "ref", ref, "error", err)
	}
	return imageId, nil
}

func scoreButtons(imageId string) []types.Button {
	return []types.Button{
		{Text: "Like", Data: "like:" + imageId},
		{Text: "dislike", Data: "dislike:" + imageId},
	}
}

// with yields endpoint first and then all of endpoints.
func with(endpoint types.Endpoint, endpoints iter.Seq[types.Endpoint]) iter.Seq[types.Endpoint] {
	return func(yield func(types.Endpoint) bool) {
		if !yield(endpoint) {
			return
		}
		for e := range endpoints {
			if e == endpoint {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}
