package downloader

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// aria2 pushes these when a download reaches a terminal state.
var terminalNotifications = map[string]bool{
	"aria2.onDownloadComplete": true,
	"aria2.onDownloadError":    true,
	"aria2.onDownloadStop":     true,
}

// Notifier listens on aria2's WebSocket endpoint for terminal notifications.
type Notifier struct {
	url        string
	dialer     *websocket.Dialer
	logger     zerolog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewNotifier(wsURL string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		url:        wsURL,
		dialer:     websocket.DefaultDialer,
		logger:     logger.With().Str("component", "aria2-notifier").Logger(),
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

type notification struct {
	Method string `json:"method"`
	Params []struct {
		Gid string `json:"gid"`
	} `json:"params"`
}

// Run delivers the GID of every terminal notification to onTerminal until ctx is done.
// Dropped connections are re-dialed with exponential backoff.
func (n *Notifier) Run(ctx context.Context, onTerminal func(gid string)) error {
	for {
		conn, err := n.connect(ctx)
		if err != nil {
			return err
		}
		n.logger.Info().Str("url", n.url).Msg("Connected to aria2 notifications")

		n.consume(ctx, conn, onTerminal)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n.logger.Warn().Msg("aria2 notification stream closed, reconnecting")
	}
}

func (n *Notifier) connect(ctx context.Context) (*websocket.Conn, error) {
	backoff := retry.WithCappedDuration(n.maxBackoff, retry.NewExponential(n.minBackoff))

	var conn *websocket.Conn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, _, err := n.dialer.DialContext(ctx, n.url, nil)
		if err != nil {
			n.logger.Debug().Err(err).Str("url", n.url).Msg("Failed to dial aria2")
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	return conn, err
}

func (n *Notifier) consume(ctx context.Context, conn *websocket.Conn, onTerminal func(gid string)) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg notification
		if err := json.Unmarshal(data, &msg); err != nil {
			n.logger.Debug().Err(err).Msg("Ignoring malformed aria2 message")
			continue
		}
		if !terminalNotifications[msg.Method] {
			continue
		}
		for _, p := range msg.Params {
			if p.Gid == "" {
				continue
			}
			n.logger.Debug().Str("method", msg.Method).Str("gid", p.Gid).Msg("Terminal notification")
			onTerminal(p.Gid)
		}
	}
}
