package remote

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

// PushConfig holds configuration for a PushListener.
type PushConfig struct {
	// URL is the websocket endpoint, e.g. ws://host:8080/v1/push. Required.
	URL string

	// Token is sent as a bearer token when set.
	Token string

	// OnPush runs for every change announcement. Required.
	OnPush func(kinds []string)

	// MinBackoff and MaxBackoff bound the reconnect delay
	// (defaults: 1s and 1m).
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// Logger for connection activity (default: stderr logger).
	Logger *log.Logger
}

// PushListener keeps a websocket open to the remote's push channel and
// reconnects with exponential backoff when it drops.
type PushListener struct {
	url        string
	token      string
	onPush     func([]string)
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *log.Logger
}

// NewPushListener creates a listener. Call Run to connect.
func NewPushListener(cfg PushConfig) *PushListener {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[push] ", log.LstdFlags)
	}
	return &PushListener{
		url:        cfg.URL,
		token:      strings.TrimSpace(cfg.Token),
		onPush:     cfg.OnPush,
		minBackoff: cfg.MinBackoff,
		maxBackoff: cfg.MaxBackoff,
		logger:     cfg.Logger,
	}
}

// Run listens until ctx is cancelled.
func (p *PushListener) Run(ctx context.Context) {
	backoff := p.minBackoff
	for {
		connected, err := p.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = p.minBackoff
		}
		p.logger.Printf("Warning: push channel lost: %v (reconnecting in %v)", err, backoff)

		if waitErr := waitWithContext(ctx, backoff); waitErr != nil {
			return
		}
		backoff *= 2
		if backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
	}
}

// listen holds one connection. connected reports whether the dial
// succeeded, so a healthy session resets the backoff.
func (p *PushListener) listen(ctx context.Context) (connected bool, err error) {
	opts := &websocket.DialOptions{}
	if p.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + p.token}}
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, p.url, opts)
	cancel()
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	p.logger.Printf("Connected to push channel %s", p.url)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, err
		}
		var msg PushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			p.logger.Printf("Warning: ignoring malformed push message: %v", err)
			continue
		}
		if msg.Type == "changed" && len(msg.Kinds) > 0 {
			p.onPush(msg.Kinds)
		}
	}
}
