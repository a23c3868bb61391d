package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// CommandHandler serves daemon commands on a tab-host client.
type CommandHandler func(ctx context.Context, action domain.Action, body json.RawMessage) (any, error)

// ClientConfig holds client configuration.
type ClientConfig struct {
	Addr         string // host:port of the daemon
	Origin       string // sent as the Origin header when set
	WriteTimeout time.Duration

	// TabHost, when set, makes the client announce itself as tab host and
	// answer ListTabs/GetTab/UpdateTab with it.
	TabHost CommandHandler

	// OnProfilesUpdated receives NotifyProfilesUpdated broadcasts.
	OnProfilesUpdated func(profiles []*domain.Profile)
}

// Client is a connection to the daemon's message channel.
type Client struct {
	config ClientConfig
	peer   *peer
	wg     sync.WaitGroup
	id     string
	logger *zap.Logger
}

// Dial connects to the daemon and says hello.
func Dial(ctx context.Context, config ClientConfig, logger *zap.Logger) (*Client, error) {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultServerConfig().WriteTimeout
	}
	u := url.URL{Scheme: "ws", Host: config.Addr, Path: Path}
	header := http.Header{}
	if config.Origin != "" {
		header.Set("Origin", config.Origin)
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon at %s: %w", config.Addr, err)
	}

	c := &Client{config: config, logger: logger}
	c.peer = newPeer(ws, c.serve, DefaultServerConfig().SendBuffer, config.WriteTimeout, &c.wg, logger)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.peer.run(context.Background())
	}()

	var reply HelloReply
	if err := c.peer.call(ctx, ActionHello, HelloBody{TabHost: config.TabHost != nil}, &reply); err != nil {
		c.Close()
		return nil, err
	}
	c.id = reply.ClientID
	return c, nil
}

// ID is the identifier the daemon assigned to this client.
func (c *Client) ID() string {
	return c.id
}

// Call sends a request and decodes the response body into out (if non-nil).
func (c *Client) Call(ctx context.Context, action domain.Action, body any, out any) error {
	return c.peer.call(ctx, action, body, out)
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.peer.closed()
}

// Close disconnects and waits for the client's goroutines.
func (c *Client) Close() error {
	c.peer.close()
	c.wg.Wait()
	return nil
}

func (c *Client) serve(ctx context.Context, f frame) *frame {
	if f.Action == domain.ActionNotifyProfilesUpdated {
		if c.config.OnProfilesUpdated != nil {
			var profiles []*domain.Profile
			if err := json.Unmarshal(f.Body, &profiles); err != nil {
				c.logger.Warn("malformed profile notification", zap.Error(err))
				return nil
			}
			c.config.OnProfilesUpdated(profiles)
		}
		return nil
	}

	if c.config.TabHost == nil {
		return errorFrame(fmt.Errorf("client does not serve %s", f.Action))
	}
	body, err := c.config.TabHost(ctx, f.Action, f.Body)
	if err != nil {
		return errorFrame(err)
	}
	return replyFrame(domain.Response{Body: body})
}
