package hostbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/frostbyte73/core"

	"github.com/MrWong99/ringer/internal/phase"
	"github.com/MrWong99/ringer/internal/poller"
	"github.com/MrWong99/ringer/pkg/notify"
)

// Frame types on the host channel.
const (
	FramePhase                 = "phase"
	FrameBackgroundFetch       = "background_fetch"
	FrameNotification          = "notification"
	FrameBackgroundFetchResult = "background_fetch_result"
	FrameError                 = "error"
)

// Frame is one JSON text message on the host channel.
type Frame struct {
	Type         string               `json:"type"`
	Phase        string               `json:"phase,omitempty"`
	Notification *notify.Notification `json:"notification,omitempty"`
	Fired        *bool                `json:"fired,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// ErrBackgroundRefused is returned by [Hub.RegisterBackgroundTask] when the
// hub was configured to refuse background work.
var ErrBackgroundRefused = errors.New("hostbridge: background tasks refused")

// PhaseSetter receives the host's phase changes.
type PhaseSetter interface {
	Set(p phase.Phase) (prev phase.Phase)
}

// HubConfig configures a [Hub].
type HubConfig struct {
	// Phases receives phase frames. Optional.
	Phases PhaseSetter

	// RefuseBackground makes RegisterBackgroundTask fail, leaving the poller
	// on its internal timer.
	RefuseBackground bool

	// OriginPatterns are passed to the websocket handshake. Empty allows
	// same-origin clients only.
	OriginPatterns []string

	// WriteTimeout bounds a single frame write. Default 5s.
	WriteTimeout time.Duration

	// Clock measures the background task's minimum interval.
	Clock clock.Clock
}

type backgroundTask struct {
	name        string
	minInterval time.Duration
	run         func(context.Context) poller.Result
	lastRun     time.Time
}

// Hub is the websocket endpoint a host application connects to. It delivers
// notifications to every connected host, feeds phase frames into the engine
// and runs the registered background task when a host asks for it.
//
// Hub implements [notify.Channel] and [poller.HostScheduler].
type Hub struct {
	cfg HubConfig

	mu     sync.Mutex
	conns  map[*hostConn]struct{}
	task   *backgroundTask
	closed bool
}

type hostConn struct {
	ws     *websocket.Conn
	remote string
	gone   core.Fuse
}

// NewHub returns a hub with no connections.
func NewHub(cfg HubConfig) *Hub {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Hub{cfg: cfg, conns: make(map[*hostConn]struct{})}
}

// ServeHTTP upgrades the request and serves the connection until either side
// closes it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		slog.Warn("hostbridge: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := &hostConn{ws: ws, remote: r.RemoteAddr}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ws.Close(websocket.StatusGoingAway, "engine shutting down")
		return
	}
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	slog.Info("hostbridge: host connected", "remote", c.remote, "hosts", n)

	h.readLoop(r.Context(), c)

	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.gone.Break()
	ws.Close(websocket.StatusNormalClosure, "bye")
	slog.Info("hostbridge: host disconnected", "remote", c.remote)
}

func (h *Hub) readLoop(ctx context.Context, c *hostConn) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				slog.Debug("hostbridge: read failed", "remote", c.remote, "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			h.reply(ctx, c, Frame{Type: FrameError, Error: "binary frames are not supported"})
			continue
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.reply(ctx, c, Frame{Type: FrameError, Error: "malformed frame"})
			continue
		}
		h.handle(ctx, c, f)
	}
}

func (h *Hub) handle(ctx context.Context, c *hostConn, f Frame) {
	switch f.Type {
	case FramePhase:
		p, err := phase.Parse(f.Phase)
		if err != nil {
			h.reply(ctx, c, Frame{Type: FrameError, Error: err.Error()})
			return
		}
		if h.cfg.Phases != nil {
			prev := h.cfg.Phases.Set(p)
			slog.Debug("hostbridge: phase", "from", prev, "to", p)
		}

	case FrameBackgroundFetch:
		fired, err := h.runBackground(ctx)
		res := Frame{Type: FrameBackgroundFetchResult, Fired: &fired}
		if err != nil {
			res.Error = err.Error()
		}
		h.reply(ctx, c, res)

	default:
		h.reply(ctx, c, Frame{Type: FrameError, Error: fmt.Sprintf("unknown frame type %q", f.Type)})
	}
}

func (h *Hub) runBackground(ctx context.Context) (bool, error) {
	h.mu.Lock()
	t := h.task
	if t == nil {
		h.mu.Unlock()
		return false, errors.New("no background task registered")
	}
	now := h.cfg.Clock.Now()
	if !t.lastRun.IsZero() && now.Sub(t.lastRun) < t.minInterval {
		h.mu.Unlock()
		return false, fmt.Errorf("background task %q ran %v ago, minimum interval is %v", t.name, now.Sub(t.lastRun), t.minInterval)
	}
	t.lastRun = now
	run := t.run
	h.mu.Unlock()

	return run(ctx).Fired, nil
}

func (h *Hub) reply(ctx context.Context, c *hostConn, f Frame) {
	if err := h.write(ctx, c, f); err != nil {
		slog.Debug("hostbridge: reply failed", "remote", c.remote, "type", f.Type, "err", err)
	}
}

func (h *Hub) write(ctx context.Context, c *hostConn, f Frame) error {
	if c.gone.IsBroken() {
		return net.ErrClosed
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("hostbridge: encode %s frame: %w", f.Type, err)
	}
	ctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Send delivers n to every connected host. With no host connected it is a
// no-op.
func (h *Hub) Send(ctx context.Context, n notify.Notification) error {
	conns := h.snapshot()
	if len(conns) == 0 {
		slog.Debug("hostbridge: no host connected, notification dropped", "title", n.Title)
		return nil
	}
	f := Frame{Type: FrameNotification, Notification: &n}
	var errs []error
	for _, c := range conns {
		if err := h.write(ctx, c, f); err != nil {
			errs = append(errs, fmt.Errorf("hostbridge: notify %s: %w", c.remote, err))
		}
	}
	return errors.Join(errs...)
}

// RegisterBackgroundTask implements [poller.HostScheduler]. A later
// registration replaces the earlier one.
func (h *Hub) RegisterBackgroundTask(name string, minInterval time.Duration, run func(context.Context) poller.Result) error {
	if h.cfg.RefuseBackground {
		return ErrBackgroundRefused
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("hostbridge: hub closed")
	}
	h.task = &backgroundTask{name: name, minInterval: minInterval, run: run}
	return nil
}

// UnregisterBackgroundTask implements [poller.HostScheduler].
func (h *Hub) UnregisterBackgroundTask(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.task == nil || h.task.name != name {
		return fmt.Errorf("hostbridge: background task %q not registered", name)
	}
	h.task = nil
	return nil
}

// Hosts returns the number of connected hosts.
func (h *Hub) Hosts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every host and rejects new connections.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*hostConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.gone.Break()
		c.ws.Close(websocket.StatusGoingAway, "engine shutting down")
	}
}

func (h *Hub) snapshot() []*hostConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := make([]*hostConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}
