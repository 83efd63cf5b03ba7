package call

import (
	"context"
	"testing"
	"time"

	"github.com/Foodstream-io/livecall/internal/media"
	"github.com/Foodstream-io/livecall/internal/signaling"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	pion "github.com/pion/webrtc/v4"
)

// answeringSignaler hands the offer straight to a controller playing the
// answerer, standing in for the signaling server.
type answeringSignaler struct {
	answerer *Controller
}

func (s *answeringSignaler) PostOffer(ctx context.Context, _ string, offer signaling.SessionDescription) (signaling.SessionDescription, error) {
	return s.answerer.Answer(ctx, offer)
}

func newVNetFactory(t *testing.T, n *vnet.Net) *PionFactory {
	t.Helper()
	f, err := NewPionFactory(PionOptions{Net: n})
	if err != nil {
		t.Fatalf("new pion factory: %v", err)
	}
	return f
}

func TestLoopbackNegotiation(t *testing.T) {
	if testing.Short() {
		t.Skip("loopback negotiation runs two pion peers")
	}

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	answerer := New(Config{
		Factory: newVNetFactory(t, netB),
		Source:  &media.FileSource{},
		Role:    RoleAnswerer,
	})
	offerer := New(Config{
		Factory:  newVNetFactory(t, netA),
		Source:   &media.FileSource{},
		Signaler: &answeringSignaler{answerer: answerer},
	})
	t.Cleanup(offerer.Stop)
	t.Cleanup(answerer.Stop)

	offerer.OnLocalCandidate(func(c signaling.ICECandidate) { _ = answerer.AddRemoteCandidate(c) })
	answerer.OnLocalCandidate(func(c signaling.ICECandidate) { _ = offerer.AddRemoteCandidate(c) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := answerer.Start(ctx, "r-loop"); err != nil {
		t.Fatalf("answerer start: %v", err)
	}
	if err := offerer.Start(ctx, "r-loop"); err != nil {
		t.Fatalf("offerer start: %v", err)
	}
	if err := offerer.Negotiate(ctx); err != nil {
		t.Fatalf("negotiate: %v", err)
	}

	if offerer.State() != StateConnected || answerer.State() != StateConnected {
		t.Fatalf("states: offerer=%s answerer=%s", offerer.State(), answerer.State())
	}

	for _, c := range []*Controller{offerer, answerer} {
		for c.ConnectionState() != pion.PeerConnectionStateConnected {
			select {
			case <-ctx.Done():
				t.Fatalf("peer connection never connected, last state %s", c.ConnectionState())
			case <-time.After(20 * time.Millisecond):
			}
		}
	}

	offerer.Stop()
	if offerer.State() != StateClosed {
		t.Errorf("offerer state after Stop = %s", offerer.State())
	}
}
