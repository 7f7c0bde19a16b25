package pipeline

import (
	"fmt"

	"github.com/pion/webrtc/v3"
)

// negotiateWebRTC answers an inbound SDP offer with a single bidirectional
// audio transceiver, per §4.9's WebRTC capability contract. onPCM receives
// the decoded remote track's payload, which feeds the same audio_buffer/VAD
// path as audio_chunk frames arriving over the message channel. Codec
// depacketization beyond the raw RTP payload is out of scope, per §1.
func negotiateWebRTC(offerSDP string, onPCM func([]byte)) (answerSDP string, pc *webrtc.PeerConnection, err error) {
	pc, err = webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return "", nil, fmt.Errorf("create peer connection: %w", err)
	}

	if _, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		pc.Close()
		return "", nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		buf := make([]byte, 1500)
		for {
			n, _, readErr := track.Read(buf)
			if readErr != nil {
				return
			}
			onPCM(buf[:n])
		}
	})

	if err = pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		pc.Close()
		return "", nil, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return "", nil, fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err = pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return "", nil, fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	return pc.LocalDescription().SDP, pc, nil
}
