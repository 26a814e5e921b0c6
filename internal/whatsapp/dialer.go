package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"gowa-gateway/internal/protocol"
)

var devicePropsOnce sync.Once

// Dialer opens whatsmeow clients.
type Dialer struct {
	log zerolog.Logger
}

func NewDialer(log zerolog.Logger) *Dialer {
	return &Dialer{log: log.With().Str("component", "whatsmeow").Logger()}
}

// Dial connects the device held by state. Unpaired devices are subscribed to
// the pairing channel first, so QR challenges arrive as connection updates.
func (d *Dialer) Dial(ctx context.Context, state protocol.AuthState, opts protocol.Options, emit func(protocol.Event)) (protocol.Conn, error) {
	st, ok := state.(*authState)
	if !ok {
		return nil, fmt.Errorf("unsupported auth state %T", state)
	}

	// DeviceProps is process-wide in whatsmeow
	devicePropsOnce.Do(func() {
		store.DeviceProps.Os = proto.String(opts.DeviceName)
		store.DeviceProps.RequireFullSync = proto.Bool(opts.SyncFullHistory)
	})

	log := d.log.With().Str("instance", st.name).Logger()
	client := whatsmeow.NewClient(st.device, waLog.Zerolog(log))
	client.EnableAutoReconnect = false

	c := &conn{client: client, opts: opts, log: log}
	c.qrCtx, c.qrCancel = context.WithCancel(context.Background())
	c.handlerID = client.AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.KeepAliveTimeout:
			log.Warn().Int("errors", v.ErrorCount).Time("last_success", v.LastSuccess).Msg("keepalive timeout")
			return
		case *events.StreamError:
			log.Warn().Str("code", v.Code).Msg("stream error")
			return
		}
		if out, ok := translate(evt); ok {
			emit(out)
		}
	})

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(c.qrCtx)
		if err != nil {
			c.teardown()
			return nil, fmt.Errorf("qr channel: %w", err)
		}
		go c.pumpQR(qrChan, emit)
	}

	if err := c.connect(ctx); err != nil {
		c.teardown()
		return nil, err
	}
	return c, nil
}

type conn struct {
	client    *whatsmeow.Client
	opts      protocol.Options
	log       zerolog.Logger
	handlerID uint32

	qrCtx    context.Context
	qrCancel context.CancelFunc
	endOnce  sync.Once
}

func (c *conn) connect(ctx context.Context) error {
	timeout := c.opts.ConnectTimeout
	if timeout <= 0 {
		timeout = protocol.DefaultOptions().ConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.client.Connect() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		c.client.Disconnect()
		return fmt.Errorf("connect: %w", ctx.Err())
	}
}

func (c *conn) pumpQR(ch <-chan whatsmeow.QRChannelItem, emit func(protocol.Event)) {
	for item := range ch {
		if c.qrCtx.Err() != nil {
			return
		}
		if evt, ok := translateQR(item); ok {
			emit(evt)
		}
	}
}

func (c *conn) teardown() {
	c.qrCancel()
	c.client.RemoveEventHandler(c.handlerID)
	c.client.Disconnect()
}

func (c *conn) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.QueryTimeout)
}

func mapClientErr(err error) error {
	if errors.Is(err, whatsmeow.ErrNotConnected) || errors.Is(err, whatsmeow.ErrNotLoggedIn) {
		return fmt.Errorf("%w: %v", protocol.ErrConnectionClosed, err)
	}
	return err
}

// SendText sends a plain conversation message, retrying transient failures
// MaxMsgRetries times MsgRetryDelay apart.
func (c *conn) SendText(ctx context.Context, to, text string) (protocol.SentMessage, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return protocol.SentMessage{}, fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	ctx, cancel := c.queryCtx(ctx)
	defer cancel()

	msg := &waE2E.Message{Conversation: proto.String(text)}
	var resp whatsmeow.SendResponse

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.MsgRetryDelay), uint64(c.opts.MaxMsgRetries)),
		ctx,
	)
	err = backoff.Retry(func() error {
		var sendErr error
		resp, sendErr = c.client.SendMessage(ctx, jid, msg)
		if sendErr == nil {
			return nil
		}
		mapped := mapClientErr(sendErr)
		if errors.Is(mapped, protocol.ErrConnectionClosed) {
			return backoff.Permanent(mapped)
		}
		c.log.Debug().Err(sendErr).Str("to", jid.String()).Msg("send failed, retrying")
		return sendErr
	}, policy)
	if err != nil {
		return protocol.SentMessage{}, err
	}

	return protocol.SentMessage{ID: resp.ID, RemoteJID: jid.String(), Timestamp: sentAt(resp.Timestamp)}, nil
}

func (c *conn) Logout(ctx context.Context) error {
	ctx, cancel := c.queryCtx(ctx)
	defer cancel()
	return mapClientErr(c.client.Logout(ctx))
}

func (c *conn) End() error {
	c.endOnce.Do(c.teardown)
	return nil
}

// Ping sends an "available" presence, the same probe a phone uses to stay online.
func (c *conn) Ping(ctx context.Context) error {
	if !c.client.IsConnected() {
		return protocol.ErrConnectionClosed
	}
	ctx, cancel := c.queryCtx(ctx)
	defer cancel()
	return mapClientErr(c.client.SendPresence(ctx, types.PresenceAvailable))
}

func (c *conn) IsOpen() bool {
	return c.client.IsConnected()
}

func (c *conn) Identity(context.Context) (protocol.Identity, error) {
	if c.client.Store.ID == nil {
		return protocol.Identity{}, whatsmeow.ErrNotLoggedIn
	}
	return protocol.Identity{
		PhoneNumber: c.client.Store.ID.User,
		DisplayName: c.client.Store.PushName,
	}, nil
}

// sentAt falls back to the local clock when the ack carries no timestamp.
func sentAt(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts
}
