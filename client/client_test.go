package client

import (
	"context"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pico-rpc/channel"
	"pico-rpc/ids"
	"pico-rpc/packet"
	"pico-rpc/server"
)

// queueOutput queues sent frames instead of delivering them synchronously.
// The initial REQUEST is sent while the registry lock is held, so a
// synchronous loopback would re-enter the endpoint and deadlock; a pump
// loop delivers queued frames between engine entry points instead.
type queueOutput struct {
	name   string
	frames [][]byte
}

func (o *queueOutput) AcquireBuffer() []byte { return make([]byte, 256) }

func (o *queueOutput) Send(b []byte) error {
	if len(b) > 0 {
		o.frames = append(o.frames, append([]byte(nil), b...))
	}
	return nil
}

func (o *queueOutput) Name() string { return o.name }

func (o *queueOutput) pop() ([]byte, bool) {
	if len(o.frames) == 0 {
		return nil, false
	}
	f := o.frames[0]
	o.frames = o.frames[1:]
	return f, true
}

// loopback wires a client and a server back to back through queued outputs.
type loopback struct {
	client    *Client
	server    *server.Server
	toServer  *queueOutput // client's output, read by the server
	toClient  *queueOutput // server's output, read by the client
	channelID uint32
}

func newLoopback(t *testing.T, services ...*server.Service) *loopback {
	t.Helper()
	lb := &loopback{
		toServer:  &queueOutput{name: "to-server"},
		toClient:  &queueOutput{name: "to-client"},
		channelID: 1,
	}
	lb.client = NewClient([]channel.Channel{channel.New(lb.channelID, lb.toServer)})
	lb.server = server.NewServer(make([]channel.Channel, 1))
	for _, svc := range services {
		lb.server.RegisterService(svc)
	}
	return lb
}

// pump delivers queued frames in both directions until the wire is quiet.
func (lb *loopback) pump(t *testing.T) {
	t.Helper()
	for {
		moved := false
		if f, ok := lb.toServer.pop(); ok {
			lb.server.ProcessPacket(f, lb.toClient)
			moved = true
		}
		if f, ok := lb.toClient.pop(); ok {
			lb.client.ProcessPacket(f)
			moved = true
		}
		if !moved {
			return
		}
	}
}

const (
	echoService   = "pico.test.EchoService"
	echoMethod    = "Echo"
	countMethod   = "Count"
	collectMethod = "Collect"
	chatMethod    = "Chat"
)

func echoServiceDef(handlers ...server.Method) *server.Service {
	return server.NewService(echoService, handlers...)
}

func TestUnaryRoundTrip(t *testing.T) {
	svc := echoServiceDef(server.UnaryMethod(echoMethod, nil,
		func(_ context.Context, request []byte, r *server.Responder) {
			r.Finish(request, codes.OK)
		}))
	lb := newLoopback(t, svc)

	var gotPayload []byte
	gotStatus := codes.Code(999)
	_, err := lb.client.StartUnary(lb.channelID, ids.Calculate(echoService), ids.Calculate(echoMethod),
		nil, []byte("ping"),
		func(response []byte, st codes.Code) {
			gotPayload = append([]byte(nil), response...)
			gotStatus = st
		},
		func(st codes.Code) { t.Errorf("unexpected on_error: %v", st) })
	if err != nil {
		t.Fatalf("StartUnary failed: %v", err)
	}

	lb.pump(t)
	if string(gotPayload) != "ping" || gotStatus != codes.OK {
		t.Errorf("completion = (%q, %v), want (ping, OK)", gotPayload, gotStatus)
	}
	if lb.client.ActiveCalls() != 0 || lb.server.ActiveCalls() != 0 {
		t.Errorf("calls leaked: client=%d server=%d",
			lb.client.ActiveCalls(), lb.server.ActiveCalls())
	}
}

func TestUnaryUnknownServiceFailsCall(t *testing.T) {
	lb := newLoopback(t) // no services registered

	gotErr := codes.OK
	completions := 0
	_, err := lb.client.StartUnary(lb.channelID, ids.Calculate("NoSuchService"), ids.Calculate(echoMethod),
		nil, []byte("ping"),
		func([]byte, codes.Code) { completions++ },
		func(st codes.Code) { gotErr = st })
	if err != nil {
		t.Fatalf("StartUnary failed: %v", err)
	}

	lb.pump(t)
	if gotErr != codes.NotFound {
		t.Errorf("on_error status = %v, want NotFound", gotErr)
	}
	if completions != 0 {
		t.Error("on_completed fired alongside on_error")
	}
	if lb.client.ActiveCalls() != 0 {
		t.Error("failed call still registered")
	}
}

func TestServerStreamingDeliversInOrder(t *testing.T) {
	svc := echoServiceDef(server.ServerStreamingMethod(countMethod, nil,
		func(_ context.Context, _ []byte, w *server.Writer) {
			w.Write([]byte("one"))
			w.Write([]byte("two"))
			w.Write([]byte("three"))
			w.Finish(codes.OK)
		}))
	lb := newLoopback(t, svc)

	var chunks []string
	completions := 0
	gotStatus := codes.Code(999)
	_, err := lb.client.StartServerStreaming(lb.channelID, ids.Calculate(echoService), ids.Calculate(countMethod),
		nil, []byte("3"),
		func(payload []byte) { chunks = append(chunks, string(payload)) },
		func(st codes.Code) { completions++; gotStatus = st },
		func(st codes.Code) { t.Errorf("unexpected on_error: %v", st) })
	if err != nil {
		t.Fatalf("StartServerStreaming failed: %v", err)
	}

	lb.pump(t)
	want := []string{"one", "two", "three"}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks %v, want %v", len(chunks), chunks, want)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}
	if completions != 1 || gotStatus != codes.OK {
		t.Errorf("completion fired %d times with %v, want once with OK", completions, gotStatus)
	}
}

func TestClientStreamingRoundTrip(t *testing.T) {
	var received []string
	svc := echoServiceDef(server.ClientStreamingMethod(collectMethod, nil,
		func(_ context.Context, r *server.Reader) {
			kept := r.Move()
			kept.SetOnNext(func(payload []byte) {
				received = append(received, string(payload))
			})
			kept.SetOnCompletionRequested(func() {
				kept.Finish([]byte("collected"), codes.OK)
			})
		}))
	lb := newLoopback(t, svc)

	var gotPayload []byte
	gotStatus := codes.Code(999)
	w, err := lb.client.StartClientStreaming(lb.channelID, ids.Calculate(echoService), ids.Calculate(collectMethod),
		nil,
		func(response []byte, st codes.Code) {
			gotPayload = append([]byte(nil), response...)
			gotStatus = st
		},
		func(st codes.Code) { t.Errorf("unexpected on_error: %v", st) })
	if err != nil {
		t.Fatalf("StartClientStreaming failed: %v", err)
	}
	lb.pump(t)

	if err := w.Write([]byte("a")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Write([]byte("b")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	lb.pump(t)
	if err := w.RequestCompletion(); err != nil {
		t.Fatalf("RequestCompletion failed: %v", err)
	}
	lb.pump(t)

	if len(received) != 2 || received[0] != "a" || received[1] != "b" {
		t.Errorf("server received %v, want [a b]", received)
	}
	if string(gotPayload) != "collected" || gotStatus != codes.OK {
		t.Errorf("completion = (%q, %v), want (collected, OK)", gotPayload, gotStatus)
	}
}

func TestBidirectionalEcho(t *testing.T) {
	svc := echoServiceDef(server.BidirectionalMethod(chatMethod, nil,
		func(_ context.Context, rw *server.ReaderWriter) {
			kept := rw.Move()
			kept.SetOnNext(func(payload []byte) {
				kept.Write(payload)
			})
			kept.SetOnCompletionRequested(func() {
				kept.Finish(codes.OK)
			})
		}))
	lb := newLoopback(t, svc)

	var echoes []string
	gotStatus := codes.Code(999)
	rw, err := lb.client.StartBidirectional(lb.channelID, ids.Calculate(echoService), ids.Calculate(chatMethod),
		nil,
		func(payload []byte) { echoes = append(echoes, string(payload)) },
		func(st codes.Code) { gotStatus = st },
		func(st codes.Code) { t.Errorf("unexpected on_error: %v", st) })
	if err != nil {
		t.Fatalf("StartBidirectional failed: %v", err)
	}
	lb.pump(t)

	rw.Write([]byte("hello"))
	lb.pump(t)
	rw.Write([]byte("again"))
	lb.pump(t)
	rw.RequestCompletion()
	lb.pump(t)

	if len(echoes) != 2 || echoes[0] != "hello" || echoes[1] != "again" {
		t.Errorf("echoes = %v, want [hello again]", echoes)
	}
	if gotStatus != codes.OK {
		t.Errorf("completion status = %v, want OK", gotStatus)
	}
}

func TestCancelNotifiesServer(t *testing.T) {
	// The handler keeps its handle and watches for the client-side cancel.
	serverErr := codes.OK
	svc := echoServiceDef(server.ServerStreamingMethod(countMethod, nil,
		func(_ context.Context, _ []byte, w *server.Writer) {
			kept := w.Move()
			kept.SetOnError(func(st codes.Code) { serverErr = st })
		}))
	lb := newLoopback(t, svc)

	r, err := lb.client.StartServerStreaming(lb.channelID, ids.Calculate(echoService), ids.Calculate(countMethod),
		nil, nil,
		nil,
		func(st codes.Code) { t.Errorf("unexpected on_completed: %v", st) },
		func(st codes.Code) { t.Errorf("local cancel must not fire on_error: %v", st) })
	if err != nil {
		t.Fatalf("StartServerStreaming failed: %v", err)
	}
	lb.pump(t)

	if err := r.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	lb.pump(t)

	if serverErr != codes.Canceled {
		t.Errorf("server on_error = %v, want Canceled", serverErr)
	}
	if lb.server.ActiveCalls() != 0 {
		t.Error("cancelled call still registered on the server")
	}
}

func TestAbandonedCallRejectsLatePackets(t *testing.T) {
	var kept server.Writer
	serverErr := codes.OK
	svc := echoServiceDef(server.ServerStreamingMethod(countMethod, nil,
		func(_ context.Context, _ []byte, w *server.Writer) {
			kept = w.Move()
			kept.SetOnError(func(st codes.Code) { serverErr = st })
		}))
	lb := newLoopback(t, svc)

	r, err := lb.client.StartServerStreaming(lb.channelID, ids.Calculate(echoService), ids.Calculate(countMethod),
		nil, nil,
		func(payload []byte) { t.Errorf("abandoned call received data %q", payload) },
		func(st codes.Code) { t.Errorf("abandoned call completed: %v", st) },
		func(st codes.Code) { t.Errorf("abandoned call errored locally: %v", st) })
	if err != nil {
		t.Fatalf("StartServerStreaming failed: %v", err)
	}
	lb.pump(t)

	// Abandon sends nothing; the server keeps streaming at a dead identity.
	r.Abandon()
	if len(lb.toServer.frames) != 0 {
		t.Fatal("Abandon put a frame on the wire")
	}
	if r.Active() {
		t.Error("abandoned handle still active")
	}

	if err := kept.Write([]byte("into the void")); err != nil {
		t.Fatalf("server write failed: %v", err)
	}
	lb.pump(t)

	// The stray RESPONSE is answered with CLIENT_ERROR, which fails the
	// server call.
	if serverErr != codes.FailedPrecondition {
		t.Errorf("server on_error = %v, want FailedPrecondition", serverErr)
	}
	if lb.server.ActiveCalls() != 0 {
		t.Error("server call survived the client error")
	}
}

func TestMovePreservesIdentity(t *testing.T) {
	svc := echoServiceDef(server.UnaryMethod(echoMethod, nil,
		func(_ context.Context, request []byte, r *server.Responder) {
			r.Finish(request, codes.OK)
		}))
	lb := newLoopback(t, svc)

	completions := 0
	recv, err := lb.client.StartUnary(lb.channelID, ids.Calculate(echoService), ids.Calculate(echoMethod),
		nil, []byte("moved"),
		func([]byte, codes.Code) { completions++ },
		func(st codes.Code) { t.Errorf("unexpected on_error: %v", st) })
	if err != nil {
		t.Fatalf("StartUnary failed: %v", err)
	}

	id := recv.ID()
	moved := recv.Move()
	if recv.Active() {
		t.Error("moved-from handle still active")
	}
	if !moved.Active() || moved.ID() != id {
		t.Errorf("moved handle: active=%v id=%d, want active with id %d",
			moved.Active(), moved.ID(), id)
	}

	// Routing goes through the registry, not the handle address, so the
	// response lands regardless of the move.
	lb.pump(t)
	if completions != 1 {
		t.Errorf("completion fired %d times after move, want 1", completions)
	}
	if moved.Active() {
		t.Error("completed call still active through moved handle")
	}
}

func TestStartOnUnknownChannel(t *testing.T) {
	lb := newLoopback(t)
	_, err := lb.client.StartUnary(99, 1, 1, nil, nil, nil, nil)
	if status.Code(err) != codes.Unavailable {
		t.Errorf("start on unknown channel: got %v, want Unavailable", err)
	}
}

func TestCallIDsAreUnique(t *testing.T) {
	svc := echoServiceDef(server.UnaryMethod(echoMethod, nil,
		func(_ context.Context, request []byte, r *server.Responder) {
			r.Finish(request, codes.OK)
		}))
	lb := newLoopback(t, svc)

	seen := make(map[uint32]bool)
	for i := 0; i < 5; i++ {
		recv, err := lb.client.StartUnary(lb.channelID, ids.Calculate(echoService), ids.Calculate(echoMethod),
			nil, []byte("x"), nil, nil)
		if err != nil {
			t.Fatalf("StartUnary %d failed: %v", i, err)
		}
		if seen[recv.ID()] {
			t.Errorf("call id %d reused", recv.ID())
		}
		seen[recv.ID()] = true
		lb.pump(t)
	}
}

func TestProcessPacketRejectsServerBoundTypes(t *testing.T) {
	lb := newLoopback(t)
	for _, typ := range []packet.Type{
		packet.TypeRequest,
		packet.TypeClientStream,
		packet.TypeClientRequestCompletion,
		packet.TypeCancel,
		packet.TypeClientError,
	} {
		p := packet.New(typ, 1, 2, 3, 4)
		buf := make([]byte, 64)
		n, err := p.Encode(buf)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if err := lb.client.ProcessPacket(buf[:n]); status.Code(err) != codes.InvalidArgument {
			t.Errorf("%v at a client: got %v, want InvalidArgument", typ, err)
		}
	}
}
