package services

import (
	"chat-gateway/contract"
	"chat-gateway/domain"
	"chat-gateway/errors"
	"chat-gateway/runtime"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type IRoomEventHandler interface {
	Handle(ctx context.Context, conn *runtime.Connection, payload []byte) error
	Disconnect(ctx context.Context, conn *runtime.Connection)
}

type HandlerConfig struct {
	PushTopic      string
	StoreTimeout   time.Duration
	PublishTimeout time.Duration
}

// RoomEventHandler applies decoded client events to the room store and fans the
// results out to the room. Every mutation is persisted before it is broadcast.
type RoomEventHandler struct {
	log        *slog.Logger
	store      contract.RoomStore
	publisher  contract.Publisher
	broadcast  contract.Broadcaster
	heartbeats contract.HeartbeatTracker
	censor     contract.Censor
	cfg        HandlerConfig
	now        func() time.Time
}

func NewRoomEventHandler(
	log *slog.Logger,
	store contract.RoomStore,
	publisher contract.Publisher,
	broadcast contract.Broadcaster,
	heartbeats contract.HeartbeatTracker,
	cfg HandlerConfig,
) *RoomEventHandler {
	return &RoomEventHandler{
		log:        log,
		store:      store,
		publisher:  publisher,
		broadcast:  broadcast,
		heartbeats: heartbeats,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithCensor enables moderation of message text.
func (h *RoomEventHandler) WithCensor(censor contract.Censor) *RoomEventHandler {
	h.censor = censor
	return h
}

func (h *RoomEventHandler) WithClock(now func() time.Time) *RoomEventHandler {
	h.now = now
	return h
}

// Handle decodes one client payload and applies it. A returned error means the frame
// was dropped; the connection stays open either way.
func (h *RoomEventHandler) Handle(ctx context.Context, conn *runtime.Connection, payload []byte) error {
	evt, err := domain.ParseEvent(payload)
	if err != nil {
		return err
	}

	switch e := evt.(type) {
	case domain.HeartbeatEvent:
		return h.heartbeat(conn)
	case domain.JoinEvent:
		return h.join(ctx, conn, e)
	case domain.MessageEvent:
		return h.message(ctx, conn, e)
	case domain.LeaveEvent:
		return h.leave(ctx, conn, e)
	case domain.NoticeEvent:
		return h.notice(ctx, conn, e)
	default:
		return fmt.Errorf("%w: %s", errors.ErrUnknownEventType, evt.Type())
	}
}

// Disconnect marks the participant offline when its stream closed without a leave.
func (h *RoomEventHandler) Disconnect(ctx context.Context, conn *runtime.Connection) {
	if !conn.Depart() {
		return
	}
	room, nickname := conn.RoomID(), conn.Nickname()
	if err := h.updatePresence(ctx, room, nickname, false); err != nil {
		h.log.Error("Unable to persist offline status", "room", room, "nickname", nickname, "error", err)
	}
	h.broadcast.Broadcast(room, domain.NewStatus(room, nickname, false))
}

func (h *RoomEventHandler) heartbeat(conn *runtime.Connection) error {
	if conn.TimedOut() {
		return errors.ErrConnectionTimedOut
	}
	h.heartbeats.Touch(conn)
	return nil
}

func (h *RoomEventHandler) join(ctx context.Context, conn *runtime.Connection, e domain.JoinEvent) error {
	if conn.TimedOut() {
		return errors.ErrConnectionTimedOut
	}
	if !conn.Member(e.RoomID()) {
		return errors.ErrAlreadyJoined
	}

	room, err := h.findRoom(ctx, e.RoomID())
	if err != nil {
		return err
	}
	nickname := e.Nickname()
	if conn.RoomID() == room.ID {
		nickname = conn.Nickname()
	}
	history := room.Messages

	// The connection is bound to the room only once the store recorded the join,
	// a failed join leaves it outside every broadcast.
	var joined *domain.Message
	participant, exists := room.Participant(nickname)
	if exists {
		if err := h.updatePresence(ctx, room.ID, nickname, true); err != nil {
			return err
		}
		if e.FcmToken != "" && !participant.HasToken(e.FcmToken) {
			participant.MergeTokens(e.FcmToken)
			participant.Online = true
			if err := h.addParticipant(ctx, room.ID, participant); err != nil {
				return err
			}
		}
	} else {
		newcomer := domain.Participant{Name: nickname, Online: true}
		newcomer.MergeTokens(e.FcmToken)
		if err := h.addParticipant(ctx, room.ID, newcomer); err != nil {
			return err
		}
		msg := domain.JoinedMessage(nickname, h.now())
		if msg.ID, err = h.appendMessage(ctx, room.ID, msg); err != nil {
			return err
		}
		joined = &msg
	}

	if err := conn.Join(room.ID, nickname); err != nil {
		// Timed out or bound elsewhere meanwhile, nobody else will flip the flag back
		if perr := h.updatePresence(ctx, room.ID, nickname, false); perr != nil {
			h.log.Error("Unable to revert presence", "room", room.ID, "nickname", nickname, "error", perr)
		}
		return err
	}

	h.log.Info("Participant joined", "connID", conn.ID(), "room", room.ID, "nickname", nickname, "new", !exists)
	h.broadcast.Broadcast(room.ID, domain.NewStatus(room.ID, nickname, true))
	if joined != nil {
		h.broadcast.Broadcast(room.ID, domain.NewMessagePayload(room.ID, *joined))
	}
	return h.broadcast.SendTo(conn, domain.NewPreviousMessages(room.ID, history))
}

func (h *RoomEventHandler) message(ctx context.Context, conn *runtime.Connection, e domain.MessageEvent) error {
	if conn.TimedOut() {
		return errors.ErrConnectionTimedOut
	}
	if !conn.Member(e.RoomID()) {
		return errors.ErrRoomMismatch
	}

	room, err := h.findRoom(ctx, e.RoomID())
	if err != nil {
		return err
	}

	text := e.Text
	if h.censor != nil {
		var words []string
		if text, words = h.censor.Censor(text); len(words) > 0 {
			h.log.Info("Message censored", "room", room.ID, "connID", conn.ID(), "words", words)
		}
	}

	msg := domain.Message{Sender: nicknameOf(conn, e), Text: text, Timestamp: h.now()}
	if msg.ID, err = h.appendMessage(ctx, room.ID, msg); err != nil {
		return err
	}
	h.broadcast.Broadcast(room.ID, domain.NewMessagePayload(room.ID, msg))

	offline := room.OfflineParticipants(msg.Sender)
	if len(offline) == 0 {
		return nil
	}
	if err := h.publish(ctx, domain.NewPushRequest(room.ID, msg.Sender, msg.Text, offline)); err != nil {
		h.log.Warn("Push request not published", "room", room.ID, "offline", len(offline), "error", err)
	}
	return nil
}

func (h *RoomEventHandler) leave(ctx context.Context, conn *runtime.Connection, e domain.LeaveEvent) error {
	if !conn.Member(e.RoomID()) {
		return errors.ErrRoomMismatch
	}
	nickname := nicknameOf(conn, e)
	if conn.RoomID() != "" && !conn.Depart() {
		h.log.Debug("Participant already left", "connID", conn.ID(), "room", e.RoomID())
		return nil
	}

	if err := h.updatePresence(ctx, e.RoomID(), nickname, false); err != nil {
		// Reopen the latch so that the timeout sweep or the socket close retries the transition
		conn.Rearm()
		return err
	}
	msg := domain.LeftMessage(nickname, h.now())
	id, err := h.appendMessage(ctx, e.RoomID(), msg)
	if err != nil {
		return err
	}
	msg.ID = id

	h.log.Info("Participant left", "connID", conn.ID(), "room", e.RoomID(), "nickname", nickname)
	h.broadcast.Broadcast(e.RoomID(), domain.NewStatus(e.RoomID(), nickname, false))
	h.broadcast.Broadcast(e.RoomID(), domain.NewMessagePayload(e.RoomID(), msg))
	return nil
}

func (h *RoomEventHandler) notice(ctx context.Context, conn *runtime.Connection, e domain.NoticeEvent) error {
	if !conn.Member(e.RoomID()) {
		return errors.ErrRoomMismatch
	}
	notice := domain.Notice{ID: uuid.NewString(), Sender: nicknameOf(conn, e), Text: e.Text, Timestamp: h.now()}

	storeCtx, cancel := context.WithTimeout(ctx, h.cfg.StoreTimeout)
	defer cancel()
	if err := h.store.AppendNotice(storeCtx, e.RoomID(), notice); err != nil {
		return fmt.Errorf("append notice: %w", err)
	}
	h.broadcast.Broadcast(e.RoomID(), domain.NewNoticePayload(e.RoomID(), notice))
	return nil
}

// nicknameOf prefers the nickname bound at join over the one carried by the event.
func nicknameOf(conn *runtime.Connection, e domain.Event) string {
	if conn.RoomID() != "" {
		return conn.Nickname()
	}
	return e.Nickname()
}

func (h *RoomEventHandler) findRoom(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	storeCtx, cancel := context.WithTimeout(ctx, h.cfg.StoreTimeout)
	defer cancel()
	room, err := h.store.FindRoom(storeCtx, id)
	if err != nil {
		return domain.Room{}, fmt.Errorf("find room %s: %w", id, err)
	}
	return room, nil
}

func (h *RoomEventHandler) updatePresence(ctx context.Context, id domain.RoomID, nickname string, online bool) error {
	storeCtx, cancel := context.WithTimeout(ctx, h.cfg.StoreTimeout)
	defer cancel()
	if err := h.store.UpdatePresence(storeCtx, id, nickname, online); err != nil {
		return fmt.Errorf("update presence of %s: %w", nickname, err)
	}
	return nil
}

func (h *RoomEventHandler) addParticipant(ctx context.Context, id domain.RoomID, p domain.Participant) error {
	storeCtx, cancel := context.WithTimeout(ctx, h.cfg.StoreTimeout)
	defer cancel()
	if err := h.store.AddParticipant(storeCtx, id, p); err != nil {
		return fmt.Errorf("add participant %s: %w", p.Name, err)
	}
	return nil
}

func (h *RoomEventHandler) appendMessage(ctx context.Context, id domain.RoomID, msg domain.Message) (string, error) {
	storeCtx, cancel := context.WithTimeout(ctx, h.cfg.StoreTimeout)
	defer cancel()
	msgID, err := h.store.AppendMessage(storeCtx, id, msg)
	if err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}
	return msgID, nil
}

func (h *RoomEventHandler) publish(ctx context.Context, push domain.PushRequest) error {
	data, err := json.Marshal(push)
	if err != nil {
		return err
	}
	pubCtx, cancel := context.WithTimeout(ctx, h.cfg.PublishTimeout)
	defer cancel()
	return h.publisher.Publish(pubCtx, h.cfg.PushTopic, data)
}
