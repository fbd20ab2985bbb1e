package grpcserver

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/GriffinCanCode/reverser/internal/pipeline"
	"github.com/GriffinCanCode/reverser/internal/resilience"
)

type fakeSource struct {
	mu     sync.Mutex
	state  pipeline.State
	broker *pipeline.Broker
}

func newFakeSource(p pipeline.Phase) *fakeSource {
	return &fakeSource{state: pipeline.State{Phase: p}, broker: pipeline.NewBroker()}
}

func (f *fakeSource) State() pipeline.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSource) Subscribe(buffer int) (<-chan pipeline.Event, func()) {
	return f.broker.Subscribe(buffer)
}

func (f *fakeSource) publish(e pipeline.Event) {
	f.broker.Publish(e)
}

func startServer(t *testing.T, src StateSource) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := New(src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-done
	})
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func waitStatus(t *testing.T, client healthpb.HealthClient, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check(t, client, ServiceName) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status never became %v", want)
}

func TestServing(t *testing.T) {
	tests := []struct {
		state pipeline.State
		want  healthpb.HealthCheckResponse_ServingStatus
	}{
		{pipeline.State{Phase: pipeline.PhaseIdle}, healthpb.HealthCheckResponse_SERVING},
		{pipeline.State{Phase: pipeline.PhaseRecognizing, Generation: 3}, healthpb.HealthCheckResponse_SERVING},
		{pipeline.State{Phase: pipeline.PhasePaused}, healthpb.HealthCheckResponse_NOT_SERVING},
		{pipeline.State{Phase: pipeline.PhaseAwaitingEngineReady}, healthpb.HealthCheckResponse_NOT_SERVING},
		{pipeline.State{Phase: pipeline.PhaseIdle, Engine: resilience.HalfOpen}, healthpb.HealthCheckResponse_SERVING},
		{pipeline.State{Phase: pipeline.PhaseIdle, Engine: resilience.Open}, healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tt := range tests {
		t.Run(tt.state.String()+"/"+tt.state.Engine.String(), func(t *testing.T) {
			if got := Serving(tt.state); got != tt.want {
				t.Errorf("Serving() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHealthInitialState(t *testing.T) {
	client := startServer(t, newFakeSource(pipeline.PhaseIdle))

	if got := check(t, client, ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("service status = %v, want SERVING", got)
	}
	if got := check(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall status = %v, want SERVING", got)
	}
}

func TestHealthFollowsState(t *testing.T) {
	src := newFakeSource(pipeline.PhaseIdle)
	client := startServer(t, src)
	waitStatus(t, client, healthpb.HealthCheckResponse_SERVING)

	src.publish(pipeline.Event{Type: pipeline.EventStateChanged, State: pipeline.State{Phase: pipeline.PhasePaused}})
	waitStatus(t, client, healthpb.HealthCheckResponse_NOT_SERVING)

	src.publish(pipeline.Event{Type: pipeline.EventStateChanged, State: pipeline.State{Phase: pipeline.PhaseRecognizing, Generation: 2}})
	waitStatus(t, client, healthpb.HealthCheckResponse_SERVING)

	src.publish(pipeline.Event{Type: pipeline.EventStateChanged, State: pipeline.State{Phase: pipeline.PhaseIdle, Engine: resilience.Open}})
	waitStatus(t, client, healthpb.HealthCheckResponse_NOT_SERVING)
}

func TestHealthTerminal(t *testing.T) {
	src := newFakeSource(pipeline.PhaseIdle)
	client := startServer(t, src)
	waitStatus(t, client, healthpb.HealthCheckResponse_SERVING)

	src.publish(pipeline.Event{Type: pipeline.EventTerminal})
	waitStatus(t, client, healthpb.HealthCheckResponse_NOT_SERVING)
}
