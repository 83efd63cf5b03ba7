package call

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Foodstream-io/livecall/internal/config"
	"github.com/Foodstream-io/livecall/internal/logging"
	"github.com/Foodstream-io/livecall/internal/media"
	"github.com/Foodstream-io/livecall/internal/utils"
	"github.com/pion/interceptor"
	"github.com/pion/transport/v3"
	pion "github.com/pion/webrtc/v4"
)

// PeerConnection is the subset of a WebRTC peer connection the controller
// drives. pionPeer adapts *webrtc.PeerConnection; tests use fakes.
type PeerConnection interface {
	AddTrack(track pion.TrackLocal) error
	RemoveTracks() error
	CreateOffer() (pion.SessionDescription, error)
	CreateAnswer() (pion.SessionDescription, error)
	SetLocalDescription(desc pion.SessionDescription) error
	SetRemoteDescription(desc pion.SessionDescription) error
	LocalDescription() *pion.SessionDescription
	AddICECandidate(candidate pion.ICECandidateInit) error
	OnICECandidate(fn func(pion.ICECandidateInit))
	OnTrack(fn func(media.RemoteTrack))
	OnConnectionStateChange(fn func(pion.PeerConnectionState))
	Close() error
}

// Factory builds a fresh peer connection for each call.
type Factory interface {
	NewPeerConnection() (PeerConnection, error)
}

// PionOptions configure a PionFactory.
type PionOptions struct {
	ICEServers []pion.ICEServer
	Policy     pion.ICETransportPolicy

	// Net replaces the OS network, e.g. with a vnet in tests.
	Net transport.Net

	// RegisterCodecs overrides the default codec set, e.g. with the
	// encoders of a capture device.
	RegisterCodecs func(m *pion.MediaEngine) error

	Logger *slog.Logger
}

// PionFactory makes pion peer connections sharing one API instance.
type PionFactory struct {
	api    *pion.API
	config pion.Configuration
}

var _ Factory = (*PionFactory)(nil)

// ICEOptions derives ICE servers and transport policy from cfg. Relay-only
// is used when forced, or when TURN is available and the host looks like it
// sits behind CGNAT or a VPN.
func ICEOptions(cfg *config.Config) ([]pion.ICEServer, pion.ICETransportPolicy) {
	var iceServers []pion.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, pion.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || utils.ShouldForceRelay()) {
		policy = pion.ICETransportPolicyRelay
	}
	return iceServers, policy
}

// NewPionFactory builds the pion API: default codecs and interceptors,
// pion logs routed to slog.
func NewPionFactory(opts PionOptions) (*PionFactory, error) {
	m := &pion.MediaEngine{}
	register := opts.RegisterCodecs
	if register == nil {
		register = func(m *pion.MediaEngine) error { return m.RegisterDefaultCodecs() }
	}
	if err := register(m); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := pion.SettingEngine{}
	se.LoggerFactory = logging.NewPionFactory(opts.Logger)
	se.SetICETimeouts(5*time.Second, 25*time.Second, 2*time.Second)
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(registry),
		pion.WithSettingEngine(se),
	)

	return &PionFactory{
		api: api,
		config: pion.Configuration{
			ICEServers:         opts.ICEServers,
			ICETransportPolicy: opts.Policy,
		},
	}, nil
}

func (f *PionFactory) NewPeerConnection() (PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &pionPeer{pc: pc}, nil
}

type pionPeer struct {
	pc *pion.PeerConnection
}

func (p *pionPeer) AddTrack(track pion.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return err
	}

	// Drain RTCP so interceptors (NACK, reports) keep working.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *pionPeer) RemoveTracks() error {
	var firstErr error
	for _, sender := range p.pc.GetSenders() {
		if sender.Track() == nil {
			continue
		}
		if err := p.pc.RemoveTrack(sender); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *pionPeer) CreateOffer() (pion.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) CreateAnswer() (pion.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(desc pion.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) SetRemoteDescription(desc pion.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeer) LocalDescription() *pion.SessionDescription {
	return p.pc.LocalDescription()
}

func (p *pionPeer) AddICECandidate(candidate pion.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) OnICECandidate(fn func(pion.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

func (p *pionPeer) OnTrack(fn func(media.RemoteTrack)) {
	p.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		fn(track)
	})
}

func (p *pionPeer) OnConnectionStateChange(fn func(pion.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
