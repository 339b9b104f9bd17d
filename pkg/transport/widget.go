package transport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fk219/VoxiHub-sub002/pkg/media"
)

// widgetMessage is the browser widget wire format. Binary audio travels
// base64-encoded inside JSON so the widget can multiplex audio, text,
// and control on one socket.
type widgetMessage struct {
	Type  string `json:"type"` // audio, text, hangup
	Audio string `json:"audio,omitempty"`
	Text  string `json:"text,omitempty"`
	Seq   uint64 `json:"seq,omitempty"`
}

// WidgetConfig tunes the websocket leg.
type WidgetConfig struct {
	Format       media.Format
	PingInterval time.Duration
	WriteTimeout time.Duration
}

func (c *WidgetConfig) applyDefaults() {
	if c.Format.SampleRate == 0 {
		c.Format = media.Format16kHz16BitMono
	}
	if c.PingInterval == 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// WidgetTransport serves one browser widget call over a websocket.
type WidgetTransport struct {
	cfg    WidgetConfig
	conn   *websocket.Conn
	logger *slog.Logger

	frames chan media.Frame
	texts  chan string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closedCh  chan struct{}
}

var widgetUpgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	// The widget is embedded on customer pages; origin policy is
	// enforced upstream at the edge.
	CheckOrigin: func(*http.Request) bool { return true },
}

// UpgradeWidget upgrades an HTTP request to a widget transport and
// starts its read and keepalive loops.
func UpgradeWidget(w http.ResponseWriter, r *http.Request, cfg WidgetConfig, logger *slog.Logger) (*WidgetTransport, error) {
	conn, err := widgetUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("widget upgrade: %w", err)
	}
	return newWidgetTransport(conn, cfg, logger), nil
}

func newWidgetTransport(conn *websocket.Conn, cfg WidgetConfig, logger *slog.Logger) *WidgetTransport {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	t := &WidgetTransport{
		cfg:      cfg,
		conn:     conn,
		logger:   logger,
		frames:   make(chan media.Frame, 64),
		texts:    make(chan string, 16),
		closedCh: make(chan struct{}),
	}
	go t.readLoop()
	go t.pingLoop()
	return t
}

func (t *WidgetTransport) SendAudio(frame media.Frame) error {
	msg := widgetMessage{
		Type:  "audio",
		Audio: base64.StdEncoding.EncodeToString(frame.Data),
		Seq:   frame.Seq,
	}
	return t.writeJSON(msg)
}

func (t *WidgetTransport) SendText(text string) error {
	return t.writeJSON(widgetMessage{Type: "text", Text: text})
}

func (t *WidgetTransport) Frames() <-chan media.Frame { return t.frames }
func (t *WidgetTransport) Texts() <-chan string       { return t.texts }
func (t *WidgetTransport) Channel() Channel           { return ChannelWidget }

func (t *WidgetTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closedCh)
		t.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

func (t *WidgetTransport) closed() bool {
	select {
	case <-t.closedCh:
		return true
	default:
		return false
	}
}

func (t *WidgetTransport) writeJSON(msg widgetMessage) error {
	if t.closed() {
		return ErrTransportClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := t.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("widget write: %w", err)
	}
	return nil
}

func (t *WidgetTransport) readLoop() {
	defer func() {
		close(t.frames)
		close(t.texts)
		t.Close()
	}()

	var seq uint64
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			if !t.closed() {
				t.logger.Debug("widget read ended", slog.String("error", err.Error()))
			}
			return
		}

		// Binary frames carry raw PCM from widgets that skip the JSON
		// envelope for the hot path.
		if mt == websocket.BinaryMessage {
			seq++
			select {
			case t.frames <- media.NewFrame(data, t.cfg.Format, seq):
			case <-t.closedCh:
				return
			}
			continue
		}

		var msg widgetMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.logger.Warn("widget message malformed", slog.String("error", err.Error()))
			continue
		}

		switch msg.Type {
		case "audio":
			pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				t.logger.Warn("widget audio malformed", slog.String("error", err.Error()))
				continue
			}
			if msg.Seq == 0 {
				seq++
				msg.Seq = seq
			} else {
				seq = msg.Seq
			}
			select {
			case t.frames <- media.NewFrame(pcm, t.cfg.Format, msg.Seq):
			case <-t.closedCh:
				return
			}
		case "text":
			select {
			case t.texts <- msg.Text:
			case <-t.closedCh:
				return
			}
		case "hangup":
			return
		default:
			t.logger.Debug("widget message ignored", slog.String("type", msg.Type))
		}
	}
}

func (t *WidgetTransport) pingLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closedCh:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil,
				time.Now().Add(t.cfg.WriteTimeout))
			t.writeMu.Unlock()
			if err != nil {
				t.Close()
				return
			}
		}
	}
}
