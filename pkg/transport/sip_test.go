package transport

import (
	"net"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/pion/rtp"

	"github.com/fk219/VoxiHub-sub002/pkg/media"
)

// peer is the far end of the RTP leg: a plain UDP socket standing in for
// the SIP proxy's media relay.
func sipPair(t *testing.T) (*SIPTransport, *net.UDPConn) {
	t.Helper()

	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("peer listen: %v", err)
	}
	t.Cleanup(func() { peer.Close() })

	st, err := NewSIPTransport(SIPConfig{
		LocalAddr:  "127.0.0.1:0",
		RemoteAddr: peer.LocalAddr().String(),
	}, nil)
	if err != nil {
		t.Fatalf("sip transport: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st, peer
}

func rtpPacket(seq uint16, payload []byte) []byte {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    rtpPayloadTypeL16,
			SequenceNumber: seq,
			SSRC:           0x1234,
		},
		Payload: payload,
	}
	buf, _ := pkt.Marshal()
	return buf
}

func TestSIP_InboundPacketsBecomeFrames(t *testing.T) {
	is := is.New(t)

	st, peer := sipPair(t)

	_, err := peer.WriteToUDP(rtpPacket(100, make([]byte, 320)), st.LocalAddr().(*net.UDPAddr))
	is.NoErr(err)

	select {
	case frame := <-st.Frames():
		is.Equal(len(frame.Data), 320)
		is.Equal(frame.Format, media.Format16kHz16BitMono)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
}

func TestSIP_OutOfOrderPacketsDropped(t *testing.T) {
	is := is.New(t)

	st, peer := sipPair(t)
	addr := st.LocalAddr().(*net.UDPAddr)

	peer.WriteToUDP(rtpPacket(100, make([]byte, 320)), addr)
	peer.WriteToUDP(rtpPacket(99, make([]byte, 320)), addr)  // late, dropped
	peer.WriteToUDP(rtpPacket(100, make([]byte, 320)), addr) // duplicate, dropped
	peer.WriteToUDP(rtpPacket(101, make([]byte, 320)), addr)

	var got []uint64
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case frame := <-st.Frames():
			got = append(got, frame.Seq)
		case <-deadline:
			t.Fatal("expected two frames")
		}
	}

	select {
	case frame, ok := <-st.Frames():
		if ok {
			t.Fatalf("unexpected extra frame seq=%d", frame.Seq)
		}
	case <-time.After(100 * time.Millisecond):
	}
	is.Equal(got, []uint64{1, 2}) // engine sequence numbers stay dense
}

func TestSIP_OutboundAudioIsValidRTP(t *testing.T) {
	is := is.New(t)

	st, peer := sipPair(t)

	frame := media.NewFrame(make([]byte, 640), media.Format16kHz16BitMono, 1)
	is.NoErr(st.SendAudio(frame))
	is.NoErr(st.SendAudio(frame))

	buf := make([]byte, 4096)
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))

	n, _, err := peer.ReadFromUDP(buf)
	is.NoErr(err)
	var first rtp.Packet
	is.NoErr(first.Unmarshal(buf[:n]))
	is.Equal(len(first.Payload), 640)
	is.Equal(int(first.PayloadType), rtpPayloadTypeL16)

	n, _, err = peer.ReadFromUDP(buf)
	is.NoErr(err)
	var second rtp.Packet
	is.NoErr(second.Unmarshal(buf[:n]))
	is.Equal(second.SequenceNumber, first.SequenceNumber+1) // sequence advances per packet
	is.Equal(second.Timestamp, first.Timestamp+320)         // timestamp advances by sample count
	is.Equal(second.SSRC, first.SSRC)

	st.Close()
	is.Equal(st.SendAudio(frame), ErrTransportClosed)
}
