package transport

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/fk219/VoxiHub-sub002/pkg/media"
)

// SIP media legs carry linear PCM over RTP. Signaling (INVITE/BYE) is
// handled by the upstream SIP proxy, which hands the engine a media
// address pair per call.

// rtpPayloadTypeL16 is the dynamic payload type negotiated for 16-bit
// linear PCM.
const rtpPayloadTypeL16 = 96

// SIPConfig describes one call's RTP leg.
type SIPConfig struct {
	// LocalAddr is the UDP address to receive caller audio on, e.g.
	// ":0" for an ephemeral port.
	LocalAddr string

	// RemoteAddr is where agent audio is sent.
	RemoteAddr string

	Format media.Format

	// ReadTimeout bounds how long the leg waits for caller packets
	// before treating the call as dead.
	ReadTimeout time.Duration
}

func (c *SIPConfig) applyDefaults() {
	if c.Format.SampleRate == 0 {
		c.Format = media.Format16kHz16BitMono
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
}

// SIPTransport is the RTP media leg of one SIP call.
type SIPTransport struct {
	cfg    SIPConfig
	conn   *net.UDPConn
	remote *net.UDPAddr
	logger *slog.Logger

	frames chan media.Frame

	writeMu  sync.Mutex
	ssrc     uint32
	outSeq   uint16
	outTS    uint32
	lastSeq  uint16
	haveSeq  bool
	frameSeq uint64

	closeOnce sync.Once
	closedCh  chan struct{}
}

// NewSIPTransport binds the local RTP socket and starts receiving caller
// audio.
func NewSIPTransport(cfg SIPConfig, logger *slog.Logger) (*SIPTransport, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	local, err := net.ResolveUDPAddr("udp", cfg.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("sip local addr: %w", err)
	}
	remote, err := net.ResolveUDPAddr("udp", cfg.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("sip remote addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("sip listen: %w", err)
	}

	t := &SIPTransport{
		cfg:      cfg,
		conn:     conn,
		remote:   remote,
		logger:   logger,
		frames:   make(chan media.Frame, 64),
		ssrc:     rand.Uint32(),
		outSeq:   uint16(rand.Uint32()),
		closedCh: make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// LocalAddr reports the bound RTP address, for signaling answers.
func (t *SIPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

func (t *SIPTransport) SendAudio(frame media.Frame) error {
	if t.isClosed() {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    rtpPayloadTypeL16,
			SequenceNumber: t.outSeq,
			Timestamp:      t.outTS,
			SSRC:           t.ssrc,
		},
		Payload: frame.Data,
	}
	t.outSeq++
	t.outTS += uint32(frame.SampleCount())

	buf, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("rtp marshal: %w", err)
	}
	if _, err := t.conn.WriteToUDP(buf, t.remote); err != nil {
		return fmt.Errorf("rtp send: %w", err)
	}
	return nil
}

// SendText is a no-op on the phone leg.
func (t *SIPTransport) SendText(string) error { return nil }

func (t *SIPTransport) Frames() <-chan media.Frame { return t.frames }
func (t *SIPTransport) Texts() <-chan string       { return nil }
func (t *SIPTransport) Channel() Channel           { return ChannelSIP }

func (t *SIPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closedCh)
		err = t.conn.Close()
	})
	return err
}

func (t *SIPTransport) isClosed() bool {
	select {
	case <-t.closedCh:
		return true
	default:
		return false
	}
}

func (t *SIPTransport) readLoop() {
	defer func() {
		close(t.frames)
		t.Close()
	}()

	buf := make([]byte, 4096)
	for {
		t.conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if !t.isClosed() {
				t.logger.Debug("rtp read ended", slog.String("error", err.Error()))
			}
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			t.logger.Warn("rtp packet malformed", slog.String("error", err.Error()))
			continue
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		// RTP sequence numbers wrap at 16 bits; treat small backward
		// jumps as reordering and drop them.
		if t.haveSeq {
			delta := pkt.SequenceNumber - t.lastSeq
			if delta == 0 || delta > 0x8000 {
				t.logger.Debug("dropping out-of-order rtp packet",
					slog.Int("seq", int(pkt.SequenceNumber)))
				continue
			}
		}
		t.lastSeq = pkt.SequenceNumber
		t.haveSeq = true
		t.frameSeq++

		data := make([]byte, len(pkt.Payload))
		copy(data, pkt.Payload)

		select {
		case t.frames <- media.NewFrame(data, t.cfg.Format, t.frameSeq):
		case <-t.closedCh:
			return
		}
	}
}
