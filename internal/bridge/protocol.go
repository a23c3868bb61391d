// Package bridge carries the message channel between the daemon and the
// browser extension (and the CLI) over WebSocket.
package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// Path is the WebSocket endpoint served by Server.
const Path = "/ws"

// Bridge-level actions. Profile actions live in the domain package.
const (
	// ActionHello is sent by a client right after connecting.
	ActionHello domain.Action = "Hello"

	// Commands the daemon sends to the tab host.
	ActionListTabs  domain.Action = "ListTabs"
	ActionGetTab    domain.Action = "GetTab"
	ActionUpdateTab domain.Action = "UpdateTab"
)

// HelloBody announces what a client can do.
type HelloBody struct {
	TabHost bool `json:"tabHost"`
}

// HelloReply is the daemon's answer to Hello.
type HelloReply struct {
	ClientID string `json:"clientId"`
}

// UpdateTabBody is the body of UpdateTab.
type UpdateTabBody struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// frame is the unit on the wire. Requests carry Action; replies echo the
// request ID and carry Error or Body. Notifications have no ID.
type frame struct {
	ID     string               `json:"id,omitempty"`
	Action domain.Action        `json:"action,omitempty"`
	Error  *domain.MessageError `json:"error,omitempty"`
	Body   json.RawMessage      `json:"body,omitempty"`
}

// RemoteError is a failure reported by the other side of the channel.
type RemoteError struct {
	Action  domain.Action
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

// replyFrame converts a handler response to a reply frame.
func replyFrame(resp domain.Response) *frame {
	f := &frame{Error: resp.Error}
	if resp.Error != nil || resp.Body == nil {
		return f
	}
	data, err := json.Marshal(resp.Body)
	if err != nil {
		f.Error = &domain.MessageError{Message: fmt.Sprintf("failed to encode response: %v", err)}
		return f
	}
	f.Body = data
	return f
}

func errorFrame(err error) *frame {
	return &frame{Error: &domain.MessageError{Message: err.Error()}}
}
