package rtc

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// WebRTCConnection is one directional peer connection towards the gateway.
type WebRTCConnection struct {
	pc    *webrtc.PeerConnection
	label string

	closeOnce sync.Once
	closeErr  error
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

func newWebRTCConnection(pc *webrtc.PeerConnection, label string) *WebRTCConnection {
	c := &WebRTCConnection{pc: pc, label: label}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("conn", label).Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("conn", label).Str("peer_connection_state", s.String()).Msg("Peer state")
	})
	return c
}

// CreateOffer sets the offer as local description and waits for ICE
// gathering, since the gateway takes no trickled candidates.
func (c *WebRTCConnection) CreateOffer(ctx context.Context) (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return c.pc.LocalDescription().SDP, nil
}

func (c *WebRTCConnection) ApplyAnswer(sdp string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

// Close stops every transceiver and then closes the peer connection.
// Calling it again returns the first result.
func (c *WebRTCConnection) Close() error {
	c.closeOnce.Do(func() {
		for _, tr := range c.pc.GetTransceivers() {
			if err := tr.Stop(); err != nil {
				log.Debug().Err(err).Str("module", "webrtc").Str("conn", c.label).Msg("stop transceiver")
			}
		}
		c.closeErr = c.pc.Close()
		if c.closeErr != nil {
			log.Error().Err(c.closeErr).Str("module", "webrtc").Str("conn", c.label).Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Str("conn", c.label).Msg("closed")
		}
	})
	return c.closeErr
}
