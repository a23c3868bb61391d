package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

var (
	errPeerClosed = errors.New("connection closed")
	errSendFull   = errors.New("send buffer full")
)

// serveFunc answers an inbound request or notification.
// The reply is dropped for notifications.
type serveFunc func(ctx context.Context, f frame) *frame

// peer is one end of a WebSocket message channel. Both sides can issue
// requests; replies are matched by frame ID. Inbound requests are served on
// their own goroutine so the read loop keeps delivering replies meanwhile.
type peer struct {
	id           string
	ws           *websocket.Conn
	serve        serveFunc
	writeTimeout time.Duration
	wg           *sync.WaitGroup
	logger       *zap.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending map[string]chan frame
}

func newPeer(ws *websocket.Conn, serve serveFunc, sendBuffer int, writeTimeout time.Duration, wg *sync.WaitGroup, logger *zap.Logger) *peer {
	id := uuid.NewString()
	return &peer{
		id:           id,
		ws:           ws,
		serve:        serve,
		writeTimeout: writeTimeout,
		wg:           wg,
		logger:       logger.With(zap.String("peer", id)),
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
		pending:      make(map[string]chan frame),
	}
}

// run pumps the connection until it fails or close is called.
func (p *peer) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.wg.Add(1)
	go p.writeLoop()

	p.readLoop(ctx)
	p.close()
}

func (p *peer) readLoop(ctx context.Context) {
	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		if !gjson.ValidBytes(data) {
			p.logger.Warn("dropping malformed frame", zap.Int("bytes", len(data)))
			continue
		}

		id := gjson.GetBytes(data, "id").String()
		if !gjson.GetBytes(data, "action").Exists() {
			p.deliver(id, data)
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			p.logger.Warn("dropping undecodable frame", zap.Error(err))
			if id != "" {
				p.reply(id, errorFrame(err))
			}
			continue
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			reply := p.serve(ctx, f)
			if reply != nil && f.ID != "" {
				p.reply(f.ID, reply)
			}
		}()
	}
}

// deliver hands a reply to the call waiting for it.
func (p *peer) deliver(id string, data []byte) {
	p.mu.Lock()
	ch, ok := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()
	if !ok {
		p.logger.Debug("reply for unknown request", zap.String("id", id))
		return
	}

	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		f = *errorFrame(err)
	}
	ch <- f // buffered
}

func (p *peer) reply(id string, f *frame) {
	f.ID = id
	data, err := json.Marshal(f)
	if err != nil {
		p.logger.Warn("failed to encode reply", zap.Error(err))
		return
	}
	if err := p.enqueue(data); err != nil {
		p.logger.Debug("reply not sent", zap.String("id", id), zap.Error(err))
	}
}

func (p *peer) writeLoop() {
	defer p.wg.Done()
	for {
		select {
		case data := <-p.send:
			_ = p.ws.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			if err := p.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				p.logger.Debug("write failed", zap.Error(err))
				p.close()
				return
			}
		case <-p.done:
			return
		}
	}
}

// enqueue waits for room in the send buffer.
func (p *peer) enqueue(data []byte) error {
	select {
	case p.send <- data:
		return nil
	case <-p.done:
		return errPeerClosed
	}
}

// trySend queues data without waiting.
func (p *peer) trySend(data []byte) error {
	select {
	case <-p.done:
		return errPeerClosed
	default:
	}
	select {
	case p.send <- data:
		return nil
	default:
		return errSendFull
	}
}

// call sends a request and decodes the reply body into out (if non-nil).
func (p *peer) call(ctx context.Context, action domain.Action, body any, out any) error {
	f := frame{ID: uuid.NewString(), Action: action}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		f.Body = raw
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	ch := make(chan frame, 1)
	p.mu.Lock()
	p.pending[f.ID] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, f.ID)
		p.mu.Unlock()
	}()

	select {
	case p.send <- data:
	case <-p.done:
		return errPeerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case reply := <-ch:
		if reply.Error != nil {
			return &RemoteError{Action: action, Message: reply.Error.Message}
		}
		if out == nil || len(reply.Body) == 0 {
			return nil
		}
		return json.Unmarshal(reply.Body, out)
	case <-p.done:
		return errPeerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notify sends a frame that expects no reply. Never blocks.
func (p *peer) notify(action domain.Action, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	data, err := json.Marshal(frame{Action: action, Body: raw})
	if err != nil {
		return err
	}
	return p.trySend(data)
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = p.ws.Close()
	})
}

func (p *peer) closed() <-chan struct{} {
	return p.done
}
