package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tcriess/geonote-chat/room"
	"github.com/tcriess/geonote-chat/types"
)

var commandKeyboard = []types.Button{
	{Text: "/leave", Data: "/leave"},
	{Text: "/join", Data: "/join"},
	{Text: "/new_group", Data: "/new_group"},
	{Text: "/help", Data: "/help"},
	{Text: "/public_group_list", Data: "/public_group_list"},
	{Text: "/publish", Data: "/publish"},
	{Text: "/close", Data: "/close"},
	{Text: "/top", Data: "/top"},
	{Text: "/current_prompt", Data: "/current_prompt"},
	{Text: "/get", Data: "/get"},
	{Text: "/add", Data: "/add"},
	{Text: "/new", Data: "/new"},
}

func someoneSays(who, what string) string {
	return fmt.Sprintf("%s says:\n\n%s", who, what)
}

func groupName(r *room.Room) string {
	return fmt.Sprintf("Group %d", r.Id())
}

func (b *Bot) visibility(r *room.Room) string {
	if b.registry.IsPublic(r) {
		return "public"
	}
	return "close"
}

func (b *Bot) onStart(ctx context.Context, msg Message) {
	_, err := b.registry.CreateRoom(msg.User.Id, msg.Endpoint)
	if err != nil && !errors.Is(err, room.ErrAlreadyInRoom) {
		b.logger.Error("could not create room", "error", err)
	}
	b.onHelp(ctx, msg)
}

func (b *Bot) onHelp(ctx context.Context, msg Message) {
	groupInfo := "You have no group! Try /new_group\n"
	if r, ok := b.registry.CurrentRoom(msg.User.Id); ok {
		groupInfo = fmt.Sprintf("Your group ID is %d and its %s.\n", r.Id(), b.visibility(r))
	}
	text := "Welcome!\n" +
		groupInfo +
		"If you want to join any group just try /public_group_list or use /join instead\n" +
		"Use /new to generate new image independently\n" +
		"Or use /add to stack up your prompt with previous /add calls"
	b.reply(ctx, msg.Endpoint, text, commandKeyboard...)
}

// leave removes the sender from its room, notifying all members of that room including the sender.
func (b *Bot) leave(ctx context.Context, msg Message) bool {
	left, ok := b.registry.LeaveRoom(msg.User.Id)
	if !ok {
		return false
	}
	b.notifier.Notify(ctx, with(msg.Endpoint, left.Endpoints()), someoneSays(groupName(left), msg.User.Nick+" left"))
	return true
}

func (b *Bot) onLeave(ctx context.Context, msg Message) {
	if !b.leave(ctx, msg) {
		b.reply(ctx, msg.Endpoint, "You are not in any group yet. Try /public_group_list")
	}
}

func (b *Bot) onJoin(ctx context.Context, msg Message, args string) {
	if args == "" {
		b.reply(ctx, msg.Endpoint, "Specify id of group to join: /join id")
		return
	}
	id, err := strconv.ParseInt(strings.Fields(args)[0], 10, 64)
	if err != nil {
		b.reply(ctx, msg.Endpoint, "ID mustn't contain anything but numbers")
		return
	}
	roomId := types.RoomId(id)
	target, err := b.registry.PublicRoom(roomId)
	if err != nil {
		b.reply(ctx, msg.Endpoint, fmt.Sprintf("There is no public group with ID %d", roomId))
		return
	}
	if current, ok := b.registry.CurrentRoom(msg.User.Id); ok {
		if current == target {
			b.reply(ctx, msg.Endpoint, fmt.Sprintf("You are already in group %d", roomId))
			return
		}
		b.leave(ctx, msg)
	}
	if !b.registry.JoinRoom(msg.User.Id, msg.Endpoint, roomId) {
		// the room was removed in the meantime
		b.reply(ctx, msg.Endpoint, fmt.Sprintf("There is no public group with ID %d", roomId))
		return
	}
	b.notifier.Notify(ctx, target.Endpoints(), someoneSays(groupName(target), msg.User.Nick+" joined"))
}

func (b *Bot) onPublish(ctx context.Context, msg Message) {
	r, ok := b.registry.CurrentRoom(msg.User.Id)
	if !ok {
		r, err := b.registry.CreateRoom(msg.User.Id, msg.Endpoint)
		if err != nil {
			b.logger.Error("could not create room", "error", err)
			return
		}
		b.registry.Publish(msg.User.Id)
		b.reply(ctx, msg.Endpoint, fmt.Sprintf("You didn't have a group, so we created public group for you! ID: %d", r.Id()))
		return
	}
	if !b.registry.Publish(msg.User.Id) {
		b.reply(ctx, msg.Endpoint, fmt.Sprintf("Your group %d is already published", r.Id()))
		return
	}
	b.reply(ctx, msg.Endpoint, fmt.Sprintf("You've made your group %d public", r.Id()))
}

func (b *Bot) onClose(ctx context.Context, msg Message) {
	r, ok := b.registry.CurrentRoom(msg.User.Id)
	if !ok {
		r, err := b.registry.CreateRoom(msg.User.Id, msg.Endpoint)
		if err != nil {
			b.logger.Error("could not create room", "error", err)
			return
		}
		b.reply(ctx, msg.Endpoint, fmt.Sprintf("You didn't have a group, so we created closed group for you! ID: %d", r.Id()))
		return
	}
	if !b.registry.Unpublish(msg.User.Id) {
		b.reply(ctx, msg.Endpoint, fmt.Sprintf("Your group %d is already closed", r.Id()))
		return
	}
	b.reply(ctx, msg.Endpoint, fmt.Sprintf("You've closed your group %d", r.Id()))
}

func (b *Bot) onNewGroup(ctx context.Context, msg Message) {
	r, err := b.registry.CreateRoom(msg.User.Id, msg.Endpoint)
	if errors.Is(err, room.ErrAlreadyInRoom) {
		if current, ok := b.registry.CurrentRoom(msg.User.Id); ok {
			b.reply(ctx, msg.Endpoint, fmt.Sprintf("You are already in a group %d.\nLeave first: /leave", current.Id()))
			return
		}
		b.reply(ctx, msg.Endpoint, "You are already in a group.\nLeave first: /leave")
		return
	}
	if err != nil {
		b.logger.Error("could not create room", "error", err)
		return
	}
	b.reply(ctx, msg.Endpoint, fmt.Sprintf("Your new group's ID is: %d and it's closed by default.\nTo publish use /publish", r.Id()))
}

func (b *Bot) onPublicGroupList(ctx context.Context, msg Message) {
	ids := b.registry.PublicRoomIds()
	if len(ids) == 0 {
		b.reply(ctx, msg.Endpoint, "No public groups. Be the first! /publish")
		return
	}
	sb := strings.Builder{}
	for _, id := range ids {
		fmt.Fprintf(&sb, "%d\n", id)
	}
	b.reply(ctx, msg.Endpoint, sb.String())
}

func (b *Bot) onCurrentPrompt(ctx context.Context, msg Message) {
	r, ok := b.registry.CurrentRoom(msg.User.Id)
	if !ok {
		b.reply(ctx, msg.Endpoint, "You aren't in any group yet. Open your room with /new_group")
		return
	}
	prompt := r.Text()
	if prompt == "" {
		b.reply(ctx, msg.Endpoint, "Current prompt is empty")
		return
	}
	b.reply(ctx, msg.Endpoint, "Current prompt is: \n"+prompt)
}

func (b *Bot) onNew(ctx context.Context, msg Message, prompt string) {
	if prompt == "" {
		b.reply(ctx, msg.Endpoint, "Specify what you want to see: /new Winter forest with a frozen lake")
		return
	}
	_, err := b.sendPicture(ctx, prompt, msg.Endpoint)
	if err != nil {
		b.logger.Error("could not send picture", "prompt", prompt, "error", err)
		b.reply(ctx, msg.Endpoint, "Sorry, the picture could not be generated")
	}
}

func (b *Bot) onAdd(ctx context.Context, msg Message, addition string) {
	r, ok := b.registry.CurrentRoom(msg.User.Id)
	if !ok {
		b.reply(ctx, msg.Endpoint, "You are not in any group yet. Create one with /new_group")
		return
	}
	if addition == "" {
		b.reply(ctx, msg.Endpoint, "Specify what you want to add to current prompt: /add And also fog everywhere")
		return
	}
	if !b.relayAllowed(msg, r, addition) {
		b.reply(ctx, msg.Endpoint, "Your message was rejected")
		return
	}
	prompt := r.AppendText(addition)
	for endpoint := range r.Endpoints() {
		imageId, err := b.sendPicture(ctx, prompt, endpoint)
		if err != nil {
			b.logger.Error("could not send picture", "prompt", prompt, "endpoint", endpoint, "error", err)
			b.reply(ctx, endpoint, "Sorry, the picture could not be generated")
			continue
		}
		b.reply(ctx, endpoint, "ID: "+imageId, scoreButtons(imageId)...)
	}
}

func (b *Bot) onTop(ctx context.Context, msg Message) {
	top, err := b.scorer.Top(ctx)
	if err != nil {
		b.logger.Error("could not get top", "error", err)
		b.reply(ctx, msg.Endpoint, "Sorry, the top list is not available")
		return
	}
	if len(top) == 0 {
		b.reply(ctx, msg.Endpoint, "No one in top, be first!")
		return
	}
	sb := strings.Builder{}
	for _, row := range top {
		fmt.Fprintf(&sb, "%d : %s\n", row.Score, row.Url)
	}
	b.reply(ctx, msg.Endpoint, sb.String())
}

func (b *Bot) onGet(ctx context.Context, msg Message, ref string) {
	if ref == "" {
		b.reply(ctx, msg.Endpoint, "Identifier required: /get ID")
		return
	}
	image, ok := b.images.ByRef(ref)
	if !ok {
		b.reply(ctx, msg.Endpoint, "Sorry, no ID found")
		return
	}
	err := b.notifier.ResendImage(ctx, msg.Endpoint, image.Ref, image.Ref, scoreButtons(image.ImageId)...)
	if err != nil {
		b.logger.Error("could not resend image", "ref", ref, "error", err)
		b.reply(ctx, msg.Endpoint, "Sorry, no ID found")
	}
}

func (b *Bot) onEcho(ctx context.Context, msg Message) {
	r, ok := b.registry.CurrentRoom(msg.User.Id)
	if !ok {
		b.reply(ctx, msg.Endpoint, "This isn't a known command to me and you aren't in any group to chat, try /publish")
		return
	}
	if !b.relayAllowed(msg, r, msg.Text) {
		b.reply(ctx, msg.Endpoint, "Your message was rejected")
		return
	}
	b.notifier.Notify(ctx, r.EndpointsExcept(msg.User.Id), someoneSays(msg.User.Nick, msg.Text))
}
