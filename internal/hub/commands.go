package hub

import (
	"context"
	"encoding/json"
	"errors"

	"clinic-realtime/internal/chat"
	"clinic-realtime/internal/realtime"
)

const (
	ActionSendMessage  = "sendMessage"
	ActionJoinChat     = "joinChat"
	ActionLeaveChat    = "leaveChat"
	ActionJoinSession  = "joinSession"
	ActionLeaveSession = "leaveSession"
)

var errRateLimited = errors.New("rate limited")

type frameHeader struct {
	Action string `json:"action" validate:"required"`
}

type sendMessageCommand struct {
	ConversationID int    `json:"conversationId" validate:"required,gt=0"`
	ReceiverID     string `json:"receiverId" validate:"required"`
	Content        string `json:"content" validate:"required"`
}

type conversationCommand struct {
	ConversationID int `json:"conversationId" validate:"required,gt=0"`
}

type sessionCommand struct {
	SessionID int `json:"sessionId" validate:"required,gt=0"`
}

type commandFunc func(ctx context.Context, c *realtime.Client, frame []byte) error

// channel is the realtime.Dispatcher of one endpoint; it only accepts the
// actions that endpoint exposes.
type channel struct {
	name     string
	hub      *Hub
	commands map[string]commandFunc
}

func (ch *channel) Dispatch(ctx context.Context, c *realtime.Client, frame []byte) {
	h := ch.hub

	var header frameHeader
	if err := json.Unmarshal(frame, &header); err != nil || h.validate.Struct(header) != nil {
		h.reply(c, "", errors.New("malformed frame"))
		return
	}

	cmd, ok := ch.commands[header.Action]
	if !ok {
		h.reply(c, header.Action, errors.New("unknown action"))
		return
	}

	if err := cmd(ctx, c, frame); err != nil {
		if errors.Is(err, chat.ErrUnauthenticated) {
			// A send without a resolvable identity is dropped, not answered.
			h.log.Warn("dropped unauthenticated send", "conn_id", c.ID())
			return
		}
		h.reply(c, header.Action, err)
	}
}

func (ch *channel) Disconnected(c *realtime.Client) {
	ch.hub.disconnected(c)
}

func (h *Hub) decode(frame []byte, v any) error {
	if err := json.Unmarshal(frame, v); err != nil {
		return errors.New("malformed frame")
	}
	return h.validate.Struct(v)
}

func (h *Hub) reply(c *realtime.Client, action string, err error) {
	if sendErr := h.registry.SendTo(c.ID(), realtime.EventError, realtime.ErrorData{Action: action, Error: publicError(err)}); sendErr != nil {
		h.log.Debug("error reply not delivered", "conn_id", c.ID(), "error", sendErr)
	}
}

// publicError hides store details from clients.
func publicError(err error) string {
	if errors.Is(err, chat.ErrPersistence) {
		return chat.ErrPersistence.Error()
	}
	return err.Error()
}

func (h *Hub) ack(c *realtime.Client, event, group string) {
	if err := h.registry.SendTo(c.ID(), event, realtime.GroupData{Group: group}); err != nil {
		h.log.Debug("ack not delivered", "conn_id", c.ID(), "error", err)
	}
}

func (h *Hub) sendMessage(ctx context.Context, c *realtime.Client, frame []byte) error {
	var cmd sendMessageCommand
	if err := h.decode(frame, &cmd); err != nil {
		return err
	}
	if !c.Allow() {
		return errRateLimited
	}

	// The registry identity is authoritative; the client never names its sender.
	sender, err := h.registry.IdentityOf(c.ID())
	if err != nil {
		return chat.ErrUnauthenticated
	}
	_, err = h.chat.SendMessage(ctx, cmd.ConversationID, sender, cmd.ReceiverID, cmd.Content)
	return err
}

func (h *Hub) joinChat(ctx context.Context, c *realtime.Client, frame []byte) error {
	var cmd conversationCommand
	if err := h.decode(frame, &cmd); err != nil {
		return err
	}
	if err := h.chat.JoinChat(ctx, c.ID(), cmd.ConversationID); err != nil {
		return err
	}
	h.ack(c, realtime.EventJoined, realtime.ChatGroup(cmd.ConversationID))
	return nil
}

func (h *Hub) leaveChat(ctx context.Context, c *realtime.Client, frame []byte) error {
	var cmd conversationCommand
	if err := h.decode(frame, &cmd); err != nil {
		return err
	}
	if err := h.chat.LeaveChat(ctx, c.ID(), cmd.ConversationID); err != nil {
		return err
	}
	h.ack(c, realtime.EventLeft, realtime.ChatGroup(cmd.ConversationID))
	return nil
}

func (h *Hub) joinSession(ctx context.Context, c *realtime.Client, frame []byte) error {
	var cmd sessionCommand
	if err := h.decode(frame, &cmd); err != nil {
		return err
	}
	if err := h.sessions.JoinSession(ctx, c.ID(), cmd.SessionID); err != nil {
		return err
	}
	h.ack(c, realtime.EventJoined, realtime.SessionGroup(cmd.SessionID))
	return nil
}

func (h *Hub) leaveSession(ctx context.Context, c *realtime.Client, frame []byte) error {
	var cmd sessionCommand
	if err := h.decode(frame, &cmd); err != nil {
		return err
	}
	if err := h.sessions.LeaveSession(ctx, c.ID(), cmd.SessionID); err != nil {
		return err
	}
	h.ack(c, realtime.EventLeft, realtime.SessionGroup(cmd.SessionID))
	return nil
}
