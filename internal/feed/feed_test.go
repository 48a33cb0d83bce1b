package feed

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"apk-portal/internal/testutil"
)

func TestStreamManager_RegisterBroadcast(t *testing.T) {
	sm := NewStreamManager()

	a := sm.Register("a")
	b := sm.Register("b")
	if sm.ActiveConsumerCount() != 2 {
		t.Fatalf("Expected 2 consumers, got %d", sm.ActiveConsumerCount())
	}

	if err := sm.Broadcast(&Event{Action: ActionPublished, Application: "pos"}); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	for name, ch := range map[string]chan *Event{"a": a, "b": b} {
		select {
		case e := <-ch:
			if e.Application != "pos" {
				t.Errorf("Consumer %s got %+v", name, e)
			}
		default:
			t.Errorf("Consumer %s received nothing", name)
		}
	}

	sm.Unregister("a", a)
	if _, ok := <-a; ok {
		t.Error("Channel should be closed after unregister")
	}
	if sm.ActiveConsumerCount() != 1 {
		t.Errorf("Expected 1 consumer, got %d", sm.ActiveConsumerCount())
	}
}

func TestStreamManager_FullBufferDrops(t *testing.T) {
	sm := NewStreamManager()
	sm.Register("slow")

	for i := 0; i < consumerBuffer; i++ {
		if err := sm.Broadcast(&Event{Action: ActionPublished}); err != nil {
			t.Fatalf("Broadcast %d failed: %v", i, err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- sm.Broadcast(&Event{Action: ActionPublished}) }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected an error for the dropped event")
		}
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full consumer")
	}
}

func TestStreamManager_ReRegister(t *testing.T) {
	sm := NewStreamManager()

	first := sm.Register("c")
	second := sm.Register("c")

	if _, ok := <-first; ok {
		t.Error("Previous stream should be closed on re-register")
	}

	// A late unregister from the old stream leaves the new one alone
	sm.Unregister("c", first)
	if sm.ActiveConsumerCount() != 1 {
		t.Fatalf("Expected the new stream to stay registered")
	}
	sm.Unregister("c", second)
	if sm.ActiveConsumerCount() != 0 {
		t.Errorf("Expected no consumers, got %d", sm.ActiveConsumerCount())
	}
}

func TestEvent_StructRoundTrip(t *testing.T) {
	in := Event{
		Action:      ActionOverwritten,
		Application: "sales-app",
		Version:     "2.1.0",
		RevisionID:  42,
		RevisionNo:  3,
		SHA256:      "abc",
		Size:        1024,
		Timestamp:   1700000000,
	}
	msg, err := in.ToStruct()
	if err != nil {
		t.Fatalf("ToStruct failed: %v", err)
	}
	out, err := EventFromStruct(msg)
	if err != nil {
		t.Fatalf("EventFromStruct failed: %v", err)
	}
	if *out != in {
		t.Errorf("Expected %+v, got %+v", in, *out)
	}
}

func startServer(t *testing.T) (*Server, *grpc.ClientConn) {
	t.Helper()

	srv := NewServer("0", testutil.Logger())
	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return srv, conn
}

func waitForConsumers(t *testing.T, sm *StreamManager, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for sm.ActiveConsumerCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d consumers", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_SubscribeFilters(t *testing.T) {
	srv, conn := startServer(t)
	client := NewClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	all, err := client.Subscribe(ctx, &SubscribeRequest{ConsumerID: "all"})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	posOnly, err := client.Subscribe(ctx, &SubscribeRequest{ConsumerID: "pos", Applications: []string{"pos-app"}})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	waitForConsumers(t, srv.StreamManager(), 2)

	srv.Publish(Event{Action: ActionPublished, Application: "sales-app", Version: "1.0.0", RevisionNo: 1})
	srv.Publish(Event{Action: ActionOverwritten, Application: "pos-app", Version: "2.0.0", RevisionNo: 2})

	first, err := all.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if first.Application != "sales-app" {
		t.Errorf("Expected sales-app first, got %+v", first)
	}
	second, err := all.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if second.Application != "pos-app" || second.RevisionNo != 2 {
		t.Errorf("Unexpected second event: %+v", second)
	}

	got, err := posOnly.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if got.Application != "pos-app" || got.Action != ActionOverwritten {
		t.Errorf("Filtered consumer got %+v", got)
	}
}

func TestServer_SubscribeRequiresConsumerID(t *testing.T) {
	_, conn := startServer(t)
	client := NewClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.Subscribe(ctx, &SubscribeRequest{})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	_, err = sub.Recv()
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Expected InvalidArgument, got %v", err)
	}
}

func TestServer_Health(t *testing.T) {
	_, conn := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Health check failed: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING, got %v", resp.Status)
	}
}
