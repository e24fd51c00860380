package camera

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"

	"github.com/nerostar/corpus-vision/internal/log"
)

const (
	signallingTimeout = 10 * time.Second
	trackTimeout      = 15 * time.Second
	frameWait         = 10 * time.Second
	decodeEvery       = 100 * time.Millisecond

	// minDecodeBytes skips decode attempts on fragments too small to
	// hold a full access unit.
	minDecodeBytes = 100
)

// WebRTCSource pulls frames from a remote camera that publishes H264
// over WebRTC, negotiated through a webrtcsink-style signalling
// server. Incoming NAL units are decoded to JPEG with ffmpeg and
// Capture hands out the most recent decoded frame.
type WebRTCSource struct {
	signallingURL string

	// ProducerName selects which producer to consume when the
	// signalling server lists several. Empty takes the first.
	ProducerName string

	mu         sync.Mutex
	ws         *websocket.Conn
	pc         *webrtc.PeerConnection
	peerID     string
	producerID string
	sessionID  string
	connected  bool
	closed     bool

	wsWrite sync.Mutex

	frameMu     sync.RWMutex
	latestFrame []byte
	frameAt     time.Time

	trackReady chan struct{}
	logger     *slog.Logger
}

// NewWebRTCSource creates a source for the given signalling server
// URL, e.g. ws://192.168.1.20:8443. The connection is established
// lazily on the first capture.
func NewWebRTCSource(signallingURL string) *WebRTCSource {
	return &WebRTCSource{
		signallingURL: signallingURL,
		logger:        log.Component("camera.webrtc"),
	}
}

// Capture returns the most recent decoded frame, connecting first if
// needed and waiting for one to arrive.
func (s *WebRTCSource) Capture(ctx context.Context) (*Frame, error) {
	if err := s.ensureConnected(ctx); err != nil {
		return nil, err
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(frameWait)

	for {
		if frame := s.snapshot(); frame != nil {
			return frame, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, ErrNoFrame
		case <-ticker.C:
		}
	}
}

// snapshot copies the latest decoded frame, or returns nil when none
// has arrived yet.
func (s *WebRTCSource) snapshot() *Frame {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	if s.latestFrame == nil {
		return nil
	}
	jpeg := make([]byte, len(s.latestFrame))
	copy(jpeg, s.latestFrame)
	return &Frame{JPEG: jpeg, Timestamp: s.frameAt}
}

// Available reports whether the stream is connected.
func (s *WebRTCSource) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && !s.closed
}

// Close tears down the peer connection and signalling socket.
func (s *WebRTCSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.connected = false
	if s.pc != nil {
		s.pc.Close()
		s.pc = nil
	}
	if s.ws != nil {
		s.ws.Close()
		s.ws = nil
	}
	return nil
}

func (s *WebRTCSource) ensureConnected(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrNotAvailable
	}
	if s.connected {
		return nil
	}
	return s.connect(ctx)
}

// connect runs the full signalling handshake. Caller holds mu.
func (s *WebRTCSource) connect(ctx context.Context) error {
	s.logger.Info("connecting to signalling server", "url", s.signallingURL)

	dialer := websocket.Dialer{HandshakeTimeout: signallingTimeout}
	ws, _, err := dialer.DialContext(ctx, s.signallingURL, nil)
	if err != nil {
		return fmt.Errorf("camera: signalling connect failed: %w", err)
	}
	s.ws = ws
	s.trackReady = make(chan struct{}, 1)

	if err := s.waitForWelcome(); err != nil {
		s.teardown()
		return fmt.Errorf("camera: signalling welcome failed: %w", err)
	}

	if err := s.findProducer(); err != nil {
		s.teardown()
		return fmt.Errorf("camera: %w", err)
	}
	s.logger.Info("found producer", "producer", s.producerID)

	if err := s.createPeerConnection(); err != nil {
		s.teardown()
		return fmt.Errorf("camera: peer connection failed: %w", err)
	}

	if err := s.startSession(); err != nil {
		s.teardown()
		return fmt.Errorf("camera: start session failed: %w", err)
	}

	go s.handleSignalling()

	select {
	case <-s.trackReady:
		s.logger.Info("video track connected")
	case <-ctx.Done():
		s.teardown()
		return ctx.Err()
	case <-time.After(trackTimeout):
		s.teardown()
		return fmt.Errorf("camera: timeout waiting for video track")
	}

	s.connected = true
	return nil
}

// teardown drops a half-open connection. Caller holds mu.
func (s *WebRTCSource) teardown() {
	if s.pc != nil {
		s.pc.Close()
		s.pc = nil
	}
	if s.ws != nil {
		s.ws.Close()
		s.ws = nil
	}
	s.connected = false
}

func (s *WebRTCSource) waitForWelcome() error {
	s.ws.SetReadDeadline(time.Now().Add(signallingTimeout))
	_, msg, err := s.ws.ReadMessage()
	s.ws.SetReadDeadline(time.Time{})
	if err != nil {
		return err
	}

	var welcome struct {
		Type   string `json:"type"`
		PeerID string `json:"peerId"`
	}
	if err := json.Unmarshal(msg, &welcome); err != nil {
		return err
	}
	if welcome.Type != "welcome" {
		return fmt.Errorf("expected welcome, got %s", welcome.Type)
	}
	s.peerID = welcome.PeerID
	return nil
}

func (s *WebRTCSource) findProducer() error {
	if err := s.writeJSON(map[string]string{"type": "list"}); err != nil {
		return err
	}

	s.ws.SetReadDeadline(time.Now().Add(signallingTimeout))
	_, msg, err := s.ws.ReadMessage()
	s.ws.SetReadDeadline(time.Time{})
	if err != nil {
		return err
	}

	var listResp struct {
		Type      string `json:"type"`
		Producers []struct {
			ID   string            `json:"id"`
			Meta map[string]string `json:"meta"`
		} `json:"producers"`
	}
	if err := json.Unmarshal(msg, &listResp); err != nil {
		return err
	}

	for _, p := range listResp.Producers {
		if s.ProducerName == "" || p.Meta["name"] == s.ProducerName {
			s.producerID = p.ID
			return nil
		}
	}
	return fmt.Errorf("producer %q not found among %d producers", s.ProducerName, len(listResp.Producers))
}

func (s *WebRTCSource) createPeerConnection() error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	s.pc = pc

	// Receive-only video
	if _, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		s.logger.Info("got track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go s.handleVideoTrack(track)
		}
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			s.sendICECandidate(candidate)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug("connection state changed", "state", state.String())
	})

	return nil
}

func (s *WebRTCSource) startSession() error {
	return s.writeJSON(map[string]string{
		"type":   "startSession",
		"peerId": s.producerID,
	})
}

func (s *WebRTCSource) handleSignalling() {
	for {
		s.mu.Lock()
		ws := s.ws
		closed := s.closed
		s.mu.Unlock()
		if closed || ws == nil {
			return
		}

		_, msg, err := ws.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if !s.closed {
				s.logger.Warn("signalling read failed", "error", err)
				s.connected = false
			}
			s.mu.Unlock()
			return
		}

		var baseMsg struct {
			Type      string `json:"type"`
			SessionID string `json:"sessionId"`
		}
		json.Unmarshal(msg, &baseMsg)

		switch baseMsg.Type {
		case "sessionStarted":
			s.mu.Lock()
			s.sessionID = baseMsg.SessionID
			s.mu.Unlock()

		case "peer":
			s.handlePeerMessage(msg)

		case "endSession":
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()
			return
		}
	}
}

func (s *WebRTCSource) handlePeerMessage(msg []byte) {
	var peerMsg struct {
		SDP *struct {
			Type string `json:"type"`
			SDP  string `json:"sdp"`
		} `json:"sdp"`
		ICE *struct {
			Candidate     string  `json:"candidate"`
			SDPMid        *string `json:"sdpMid"`
			SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
		} `json:"ice"`
	}
	if err := json.Unmarshal(msg, &peerMsg); err != nil {
		return
	}

	if peerMsg.SDP != nil && peerMsg.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  peerMsg.SDP.SDP,
		}
		if err := s.pc.SetRemoteDescription(offer); err != nil {
			s.logger.Warn("set remote description failed", "error", err)
			return
		}

		answer, err := s.pc.CreateAnswer(nil)
		if err != nil {
			s.logger.Warn("create answer failed", "error", err)
			return
		}
		if err := s.pc.SetLocalDescription(answer); err != nil {
			s.logger.Warn("set local description failed", "error", err)
			return
		}
		s.sendSDP(answer)
	}

	if peerMsg.ICE != nil {
		init := webrtc.ICECandidateInit{
			Candidate:     peerMsg.ICE.Candidate,
			SDPMid:        peerMsg.ICE.SDPMid,
			SDPMLineIndex: peerMsg.ICE.SDPMLineIndex,
		}
		if err := s.pc.AddICECandidate(init); err != nil {
			s.logger.Debug("add ice candidate failed", "error", err)
		}
	}
}

func (s *WebRTCSource) sendSDP(sdp webrtc.SessionDescription) {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	s.writeJSON(map[string]interface{}{
		"type":      "peer",
		"sessionId": sessionID,
		"sdp": map[string]string{
			"type": sdp.Type.String(),
			"sdp":  sdp.SDP,
		},
	})
}

func (s *WebRTCSource) sendICECandidate(candidate *webrtc.ICECandidate) {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()
	if sessionID == "" {
		return
	}

	init := candidate.ToJSON()
	s.writeJSON(map[string]interface{}{
		"type":      "peer",
		"sessionId": sessionID,
		"ice": map[string]interface{}{
			"candidate":     init.Candidate,
			"sdpMid":        init.SDPMid,
			"sdpMLineIndex": init.SDPMLineIndex,
		},
	})
}

// writeJSON serializes writes to the signalling socket.
func (s *WebRTCSource) writeJSON(v interface{}) error {
	s.wsWrite.Lock()
	defer s.wsWrite.Unlock()
	if s.ws == nil {
		return ErrNotAvailable
	}
	return s.ws.WriteJSON(v)
}

// handleVideoTrack depacketizes incoming RTP into Annex-B H264 and
// decodes a JPEG from the accumulated stream every decodeEvery.
func (s *WebRTCSource) handleVideoTrack(track *webrtc.TrackRemote) {
	select {
	case s.trackReady <- struct{}{}:
	default:
	}

	var depacketizer codecs.H264Packet
	var nalBuffer bytes.Buffer
	lastDecode := time.Now()

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}

		nal, err := depacketizer.Unmarshal(pkt.Payload)
		if err != nil {
			continue
		}
		nalBuffer.Write(nal)

		if time.Since(lastDecode) > decodeEvery {
			s.decodeToJPEG(nalBuffer.Bytes())
			nalBuffer.Reset()
			lastDecode = time.Now()
		}
	}
}

// decodeToJPEG shells out to ffmpeg for H264 decode. Decode failures
// are expected between keyframes and silently skipped.
func (s *WebRTCSource) decodeToJPEG(h264 []byte) {
	if len(h264) < minDecodeBytes {
		return
	}

	raw, err := os.CreateTemp("", "camera-*.h264")
	if err != nil {
		return
	}
	rawPath := raw.Name()
	defer os.Remove(rawPath)

	_, werr := raw.Write(h264)
	raw.Close()
	if werr != nil {
		return
	}

	jpegPath := rawPath + ".jpg"
	defer os.Remove(jpegPath)

	cmd := exec.Command("ffmpeg", "-y", "-loglevel", "quiet",
		"-i", rawPath, "-vframes", "1", "-f", "image2", jpegPath)
	if err := cmd.Run(); err != nil {
		return
	}

	data, err := os.ReadFile(jpegPath)
	if err != nil || !isJPEG(data) {
		return
	}

	s.frameMu.Lock()
	s.latestFrame = data
	s.frameAt = time.Now()
	s.frameMu.Unlock()
}

var _ Source = (*WebRTCSource)(nil)
