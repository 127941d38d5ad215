// Package matrix connects SafeClaw to its owner over the Matrix protocol.
//
// The client is deliberately narrow: it syncs, hands owner messages to a
// handler, and sends replies. Messages from anyone other than the configured
// owner are dropped without a reply; each drop is recorded once in the audit
// trail. The bot joins rooms only when the owner invites it.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/safeclaw/safeclaw/internal/safeclaw/audit"
)

// Config holds the Matrix connection parameters.
type Config struct {
	Homeserver  string
	UserID      string // the bot's own user id
	AccessToken string
	// OwnerID is the only user whose messages are processed. Everyone else
	// is silently ignored.
	OwnerID string
	// DBPath is the SQLite file for the sync-token store. Empty means an
	// in-memory store: every restart replays room history.
	DBPath string
	// Audit receives an auth_rejected event for each non-owner message.
	Audit *audit.Logger
}

// MessageHandler processes one incoming owner message.
type MessageHandler func(ctx context.Context, evt *event.Event)

// Client wraps the mautrix client.
type Client struct {
	mxc     *mautrix.Client
	cfg     *Config
	store   *SyncStore
	stopCh  chan struct{}
	handler MessageHandler
}

// New creates the client and, when cfg.DBPath is set, attaches the
// persistent sync store so restarts resume from the last sync position.
func New(cfg *Config) (*Client, error) {
	mxc, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}

	c := &Client{
		mxc:    mxc,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	if cfg.DBPath != "" {
		store, err := openSyncStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sync store: %w", err)
		}
		c.store = store
		mxc.Store = store
		slog.Info("matrix sync store ready", "path", cfg.DBPath)
	} else {
		slog.Warn("matrix sync store not configured; history will replay on restart")
	}

	return c, nil
}

// Start registers event handlers and begins the sync loop. The loop
// reconnects with exponential back-off so a transient homeserver error does
// not leave the bot deaf.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	c.handler = handler

	// E2EE is not implemented. Messages, including credentials pasted into
	// /auth, travel in plaintext and live in room history.
	slog.Warn("matrix E2EE is not enabled; messages are transmitted in plaintext")

	// When only a token is configured, ask the homeserver who we are. The
	// identity is needed to filter echoes of our own messages.
	if c.mxc.UserID == "" {
		resp, err := c.mxc.Whoami(ctx)
		if err != nil {
			return fmt.Errorf("resolve bot identity: %w", err)
		}
		c.mxc.UserID = resp.UserID
		c.cfg.UserID = resp.UserID.String()
		slog.Info("resolved bot identity", "user_id", resp.UserID)
	}

	syncer := c.mxc.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	syncer.OnEventType(event.StateMember, c.handleMembership)

	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			if err := c.mxc.Sync(); err != nil {
				select {
				case <-c.stopCh:
					return
				default:
				}
				slog.Error("matrix sync stopped; reconnecting", "err", err, "backoff", backoff)
				select {
				case <-c.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}
			select {
			case <-c.stopCh:
				return
			default:
				backoff = backoffMin
			}
		}
	}()

	return nil
}

// Stop halts the sync loop and closes the sync store.
func (c *Client) Stop() {
	close(c.stopCh)
	c.mxc.StopSync()
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			slog.Warn("close sync store", "err", err)
		}
	}
}

// UserID returns the bot's own user id.
func (c *Client) UserID() string { return c.cfg.UserID }

// SendMarkdown sends md as an m.text event with an HTML formatted_body so
// bold, inline code and code fences render in the owner's client. The raw
// markdown is kept as the plain-text fallback.
func (c *Client) SendMarkdown(roomID, md string) error {
	content := event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          md,
		Format:        event.FormatHTML,
		FormattedBody: renderHTML(md),
	}
	_, err := c.mxc.SendMessageEvent(context.Background(), id.RoomID(roomID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendNotice sends an m.notice, the message type clients render without
// alerting. Used for audit mirroring.
func (c *Client) SendNotice(roomID, text string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    text,
	}
	_, err := c.mxc.SendMessageEvent(context.Background(), id.RoomID(roomID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("send notice: %w", err)
	}
	return nil
}

// SetTyping toggles the typing indicator in a room.
func (c *Client) SetTyping(roomID string, typing bool, timeout time.Duration) error {
	_, err := c.mxc.UserTyping(context.Background(), id.RoomID(roomID), typing, timeout)
	if err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	return nil
}

// handleMessage filters incoming events down to owner text messages.
func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.cfg.UserID) {
		return
	}
	if evt.Sender != id.UserID(c.cfg.OwnerID) {
		// No reply of any kind: an answer would confirm the bot exists.
		slog.Debug("dropping message from non-owner", "sender", evt.Sender)
		if c.cfg.Audit != nil {
			c.cfg.Audit.Record(ctx, "auth_rejected", map[string]any{
				"sender": evt.Sender.String(),
				"room":   evt.RoomID.String(),
			})
		}
		return
	}
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText {
		return
	}
	if c.handler != nil {
		c.handler(ctx, evt)
	}
}

// handleMembership accepts room invites, but only from the owner.
func (c *Client) handleMembership(ctx context.Context, evt *event.Event) {
	if evt.StateKey == nil || *evt.StateKey != c.cfg.UserID {
		return
	}
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if evt.Sender != id.UserID(c.cfg.OwnerID) {
		slog.Debug("ignoring invite from non-owner", "sender", evt.Sender, "room", evt.RoomID)
		return
	}
	if err := c.joinRoom(ctx, evt.RoomID); err != nil {
		slog.Warn("could not join room", "room", evt.RoomID, "err", err)
	}
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.mxc.JoinRoomByID(ctx, roomID)
	if err != nil {
		// M_FORBIDDEN also covers "already a member" on some homeservers.
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("join forbidden, continuing", "room", roomID)
			return nil
		}
		return err
	}
	slog.Info("joined room", "room", roomID)
	return nil
}
