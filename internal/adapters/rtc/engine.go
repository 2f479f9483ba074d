// Package rtc provides the pion/webrtc media engine used by the negotiation
// coordinator.
package rtc

import (
	"fmt"

	"github.com/dkeye/wtn/internal/negotiation"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Engine struct {
	config webrtc.Configuration
}

func NewEngine(cfg webrtc.Configuration) *Engine {
	return &Engine{config: cfg}
}

// NewPublishTransport attaches at most one track per kind, video first.
func (e *Engine) NewPublishTransport(tracks []webrtc.TrackLocal) (negotiation.Transport, error) {
	ordered := orderTracks(tracks)
	if len(ordered) == 0 {
		return nil, fmt.Errorf("no audio or video track to publish")
	}

	pc, err := webrtc.NewPeerConnection(e.config)
	if err != nil {
		return nil, err
	}
	for _, t := range ordered {
		if _, err := pc.AddTransceiverFromTrack(t, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendonly,
		}); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", t.Kind(), err)
		}
	}
	log.Debug().Str("module", "webrtc").Int("tracks", len(ordered)).Msg("publish transport ready")
	return newWebRTCConnection(pc, "publish"), nil
}

func (e *Engine) NewSubscribeTransport(onTrack negotiation.TrackHandler) (negotiation.Transport, error) {
	pc, err := webrtc.NewPeerConnection(e.config)
	if err != nil {
		return nil, err
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if onTrack != nil {
			onTrack(track, receiver)
		}
	})
	return newWebRTCConnection(pc, "subscribe"), nil
}

func orderTracks(tracks []webrtc.TrackLocal) []webrtc.TrackLocal {
	var video, audio webrtc.TrackLocal
	for _, t := range tracks {
		switch t.Kind() {
		case webrtc.RTPCodecTypeVideo:
			if video == nil {
				video = t
			}
		case webrtc.RTPCodecTypeAudio:
			if audio == nil {
				audio = t
			}
		}
	}
	out := make([]webrtc.TrackLocal, 0, 2)
	if video != nil {
		out = append(out, video)
	}
	if audio != nil {
		out = append(out, audio)
	}
	return out
}
