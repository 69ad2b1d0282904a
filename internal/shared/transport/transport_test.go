package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/adred-codev/tcpframe/internal/shared/monitoring"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

const waitTimeout = 5 * time.Second

type recorded struct {
	typ  EventType
	id   int
	data string
}

type eventLog struct {
	events []recorded
}

func (l *eventLog) add(typ EventType, id int, data []byte) {
	l.events = append(l.events, recorded{typ: typ, id: id, data: string(data)})
}

func (l *eventLog) count(typ EventType) int {
	n := 0
	for _, e := range l.events {
		if e.typ == typ {
			n++
		}
	}
	return n
}

func (l *eventLog) forID(id int) []recorded {
	var out []recorded
	for _, e := range l.events {
		if e.id == id {
			out = append(out, e)
		}
	}
	return out
}

func testOptions() Options {
	opts := DefaultOptions()
	// Idle test connections must not time out while a test is waiting.
	opts.ReceiveTimeout = 0
	return opts
}

func newTestServer(t *testing.T, opts Options) (*Server, *eventLog, int) {
	t.Helper()

	s, err := NewServer(opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	log := &eventLog{}
	s.OnConnected = func(id int) { log.add(EventConnected, id, nil) }
	s.OnData = func(id int, data []byte) { log.add(EventData, id, data) }
	s.OnDisconnected = func(id int) { log.add(EventDisconnected, id, nil) }

	if err := s.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)

	return s, log, s.Addr().(*net.TCPAddr).Port
}

func newTestClient(t *testing.T, opts Options) (*Client, *eventLog) {
	t.Helper()

	c, err := NewClient(opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	log := &eventLog{}
	c.OnConnected = func() { log.add(EventConnected, clientConnectionID, nil) }
	c.OnData = func(data []byte) { log.add(EventData, clientConnectionID, data) }
	c.OnDisconnected = func() { log.add(EventDisconnected, clientConnectionID, nil) }

	t.Cleanup(c.Disconnect)
	return c, log
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func connect(t *testing.T, c *Client, log *eventLog, port int) {
	t.Helper()
	if err := c.Connect("127.0.0.1", port); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, "client connected", func() bool {
		c.Tick(100, nil)
		return log.count(EventConnected) == 1
	})
}

func TestScenarioClientSendReachesServer(t *testing.T) {
	server, serverLog, port := newTestServer(t, testOptions())
	client, clientLog := newTestClient(t, testOptions())
	connect(t, client, clientLog, port)

	if err := client.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, "server data", func() bool {
		server.Tick(100, nil)
		return serverLog.count(EventData) == 1
	})

	got := serverLog.events
	if len(got) != 2 {
		t.Fatalf("server events: got %+v", got)
	}
	if got[0].typ != EventConnected || got[0].id != 1 {
		t.Fatalf("first event: got %+v, want Connected for id 1", got[0])
	}
	if got[1].typ != EventData || got[1].id != 1 || got[1].data != "hello" {
		t.Fatalf("second event: got %+v, want Data(hello) for id 1", got[1])
	}
}

func TestScenarioOversizedSendIsRejected(t *testing.T) {
	opts := testOptions()
	opts.MaxMessageSize = 64

	server, serverLog, port := newTestServer(t, opts)
	client, clientLog := newTestClient(t, opts)
	connect(t, client, clientLog, port)

	waitFor(t, "server connected", func() bool {
		server.Tick(100, nil)
		return serverLog.count(EventConnected) == 1
	})

	err := client.Send(make([]byte, opts.MaxMessageSize+1))
	if !errors.Is(err, ErrOversizedMessage) {
		t.Fatalf("Send: got %v, want ErrOversizedMessage", err)
	}
	if !client.Connected() {
		t.Fatalf("oversized send must not close the connection")
	}

	// A follow-up message proves nothing was written ahead of it.
	if err := client.Send([]byte("after")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "server data", func() bool {
		server.Tick(100, nil)
		return serverLog.count(EventData) >= 1
	})

	if n := serverLog.count(EventData); n != 1 {
		t.Fatalf("server saw %d data events, want 1", n)
	}
	if serverLog.events[1].data != "after" {
		t.Fatalf("server data: got %q, want %q", serverLog.events[1].data, "after")
	}
}

func TestScenarioServerDisconnectsClient(t *testing.T) {
	server, serverLog, port := newTestServer(t, testOptions())
	client, clientLog := newTestClient(t, testOptions())
	connect(t, client, clientLog, port)

	waitFor(t, "server connected", func() bool {
		server.Tick(100, nil)
		return serverLog.count(EventConnected) == 1
	})

	if err := server.Disconnect(1); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	waitFor(t, "client disconnected", func() bool {
		client.Tick(100, nil)
		return clientLog.count(EventDisconnected) == 1
	})

	// Nothing may follow the Disconnected event.
	for i := 0; i < 10; i++ {
		client.Tick(100, nil)
		time.Sleep(time.Millisecond)
	}
	if n := len(clientLog.events); n != 2 {
		t.Fatalf("client events: got %+v", clientLog.events)
	}
	if client.Connected() {
		t.Fatalf("client still reports Connected")
	}

	waitFor(t, "server disconnected", func() bool {
		server.Tick(100, nil)
		return serverLog.count(EventDisconnected) == 1
	})
	if server.ConnectionCount() != 0 {
		t.Fatalf("ConnectionCount: got %d, want 0", server.ConnectionCount())
	}
	if addr := server.ClientAddress(1); addr != "" {
		t.Fatalf("ClientAddress after disconnect: got %q", addr)
	}
	if err := server.Disconnect(1); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("second Disconnect: got %v, want ErrUnknownConnection", err)
	}
}

func TestScenarioTwoClientsKeepTheirOwnOrder(t *testing.T) {
	const perClient = 200

	server, serverLog, port := newTestServer(t, testOptions())
	a, aLog := newTestClient(t, testOptions())
	b, bLog := newTestClient(t, testOptions())
	connect(t, a, aLog, port)
	connect(t, b, bLog, port)

	for i := 0; i < perClient; i++ {
		if err := a.Send([]byte("a-" + strconv.Itoa(i))); err != nil {
			t.Fatalf("a.Send: %v", err)
		}
		if err := b.Send([]byte("b-" + strconv.Itoa(i))); err != nil {
			t.Fatalf("b.Send: %v", err)
		}
	}

	waitFor(t, "all data", func() bool {
		server.Tick(1000, nil)
		return serverLog.count(EventData) == 2*perClient
	})

	byPrefix := map[string]int{}
	for _, id := range []int{1, 2} {
		events := serverLog.forID(id)
		if events[0].typ != EventConnected {
			t.Fatalf("id %d: first event %+v", id, events[0])
		}

		prefix := events[1].data[:2]
		byPrefix[prefix] = id
		for i, e := range events[1:] {
			want := prefix + strconv.Itoa(i)
			if e.data != want {
				t.Fatalf("id %d message %d: got %q, want %q", id, i, e.data, want)
			}
		}
	}
	if len(byPrefix) != 2 {
		t.Fatalf("both connections carried the same client's data: %v", byPrefix)
	}
}

func TestEchoPreservesOrder(t *testing.T) {
	const count = 1000

	server, _, port := newTestServer(t, testOptions())
	server.OnData = func(id int, data []byte) {
		if err := server.Send(id, data); err != nil {
			t.Errorf("echo: %v", err)
		}
	}

	client, clientLog := newTestClient(t, testOptions())
	connect(t, client, clientLog, port)

	payload := make([]byte, 8)
	for i := 0; i < count; i++ {
		binary.BigEndian.PutUint64(payload, uint64(i))
		if err := client.Send(payload); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	waitFor(t, "echoes", func() bool {
		server.Tick(1000, nil)
		client.Tick(1000, nil)
		return clientLog.count(EventData) == count
	})

	i := 0
	for _, e := range clientLog.events {
		if e.typ != EventData {
			continue
		}
		if got := binary.BigEndian.Uint64([]byte(e.data)); got != uint64(i) {
			t.Fatalf("echo %d: got sequence %d", i, got)
		}
		i++
	}
}

func TestEventOrderPerConnection(t *testing.T) {
	server, serverLog, port := newTestServer(t, testOptions())

	for n := 0; n < 3; n++ {
		c, log := newTestClient(t, testOptions())
		connect(t, c, log, port)
		for i := 0; i < 5; i++ {
			if err := c.Send([]byte(fmt.Sprintf("m%d", i))); err != nil {
				t.Fatalf("Send: %v", err)
			}
		}
		// Wait for the data before hanging up; Disconnect drops unsent messages.
		waitFor(t, "data from client", func() bool {
			server.Tick(100, nil)
			return serverLog.count(EventData) == 5*(n+1)
		})
		c.Disconnect()
	}

	waitFor(t, "all disconnects", func() bool {
		server.Tick(100, nil)
		return serverLog.count(EventDisconnected) == 3
	})

	for id := 1; id <= 3; id++ {
		events := serverLog.forID(id)
		if len(events) != 7 {
			t.Fatalf("id %d: got %d events, want 7: %+v", id, len(events), events)
		}
		if events[0].typ != EventConnected {
			t.Fatalf("id %d: first event is %s", id, events[0].typ)
		}
		for _, e := range events[1:6] {
			if e.typ != EventData {
				t.Fatalf("id %d: expected data, got %s", id, e.typ)
			}
		}
		if events[6].typ != EventDisconnected {
			t.Fatalf("id %d: last event is %s", id, events[6].typ)
		}
	}
}

func TestSendQueueOverflowClosesConnection(t *testing.T) {
	opts := testOptions()
	opts.SendQueueLimit = 4
	opts.SendTimeout = 0

	// Nobody reads the far end, so the send pump blocks on its first write
	// and everything after that piles up in the pipe.
	local, remote := net.Pipe()
	defer remote.Close()

	c := newConnection(1, local, monitoring.RoleServer, opts, NewReceivePipe(opts.MaxMessageSize), zerolog.Nop())
	go c.sendPump()

	var err error
	for i := 0; i < 100 && err == nil; i++ {
		err = c.enqueue([]byte("payload"))
	}

	if !errors.Is(err, ErrSendQueueFull) {
		t.Fatalf("got %v, want ErrSendQueueFull", err)
	}
	if !c.isClosed() {
		t.Fatalf("connection still open after overflow")
	}

	// The pump releases everything it still held.
	waitFor(t, "send pipe cleared", func() bool {
		return c.sendPipe.Count() == 0 && c.sendPipe.Outstanding() == 0
	})
}

func TestReceiveQueueLimitStopsReading(t *testing.T) {
	opts := testOptions()
	opts.ReceiveQueueLimit = 3

	server, serverLog, port := newTestServer(t, opts)
	client, clientLog := newTestClient(t, testOptions())
	connect(t, client, clientLog, port)

	for i := 0; i < 10; i++ {
		if err := client.Send([]byte{byte(i + 1)}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	// Connected plus two Data reach the limit, then Disconnected.
	waitFor(t, "receive limit", func() bool {
		return server.ReceivePipeTotalCount() == 4
	})

	server.Tick(100, nil)
	if got := serverLog.count(EventData); got != 2 {
		t.Fatalf("server data events: got %d, want 2", got)
	}
	if got := serverLog.count(EventDisconnected); got != 1 {
		t.Fatalf("server disconnected events: got %d, want 1", got)
	}

	waitFor(t, "client disconnected", func() bool {
		client.Tick(100, nil)
		return clientLog.count(EventDisconnected) == 1
	})
}

func TestHeaderAttackDropsConnection(t *testing.T) {
	server, serverLog, port := newTestServer(t, testOptions())
	before := testutil.ToFloat64(monitoring.HeaderAttacksTotal.WithLabelValues(monitoring.RoleServer))

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Claims a 2GB body.
	if _, err := conn.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF, 'x'}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	waitFor(t, "server disconnected", func() bool {
		server.Tick(100, nil)
		return serverLog.count(EventDisconnected) == 1
	})

	if n := serverLog.count(EventData); n != 0 {
		t.Fatalf("server delivered %d data events for a bogus frame", n)
	}
	if got := testutil.ToFloat64(monitoring.HeaderAttacksTotal.WithLabelValues(monitoring.RoleServer)); got != before+1 {
		t.Fatalf("header attack counter: got %v, want %v", got, before+1)
	}

	// The server closed its end.
	conn.SetReadDeadline(time.Now().Add(waitTimeout))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatalf("read succeeded on a dropped connection")
	}
}

func TestPoolConservation(t *testing.T) {
	server, serverLog, port := newTestServer(t, testOptions())
	server.OnData = func(id int, data []byte) {
		serverLog.add(EventData, id, data)
		server.Send(id, data)
	}

	client, clientLog := newTestClient(t, testOptions())
	connect(t, client, clientLog, port)

	for i := 0; i < 50; i++ {
		if err := client.Send([]byte("ping")); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	waitFor(t, "echoes", func() bool {
		server.Tick(100, nil)
		client.Tick(100, nil)
		return clientLog.count(EventData) == 50
	})

	cn := client.current().conn.Load()
	client.Disconnect()

	waitFor(t, "both sides disconnected", func() bool {
		server.Tick(100, nil)
		client.Tick(100, nil)
		return serverLog.count(EventDisconnected) == 1 && clientLog.count(EventDisconnected) == 1
	})

	if n := server.pipe().Outstanding(); n != 0 {
		t.Fatalf("server receive pipe outstanding: %d", n)
	}
	if n := client.current().receivePipe.Outstanding(); n != 0 {
		t.Fatalf("client receive pipe outstanding: %d", n)
	}
	waitFor(t, "client send pipe released", func() bool {
		return cn.sendPipe.Outstanding() == 0
	})
}

func TestClientConnectFailure(t *testing.T) {
	// Grab a free port, then close it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	client, log := newTestClient(t, testOptions())
	if err := client.Connect("127.0.0.1", port); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, "connect failure", func() bool {
		client.Tick(100, nil)
		return log.count(EventDisconnected) == 1
	})

	if log.count(EventConnected) != 0 {
		t.Fatalf("got Connected for a failed dial")
	}
	if client.Connecting() || client.Connected() {
		t.Fatalf("connecting=%v connected=%v after failure", client.Connecting(), client.Connected())
	}

	// A new attempt is allowed after a failure.
	if err := client.Connect("127.0.0.1", port); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
}

func TestClientSendErrors(t *testing.T) {
	_, _, port := newTestServer(t, testOptions())
	client, log := newTestClient(t, testOptions())

	if err := client.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send before Connect: got %v, want ErrNotConnected", err)
	}

	connect(t, client, log, port)

	if err := client.Send(nil); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("empty Send: got %v, want ErrEmptyMessage", err)
	}
	if err := client.Connect("127.0.0.1", port); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("second Connect: got %v, want ErrAlreadyConnected", err)
	}
}

func TestServerLifecycle(t *testing.T) {
	server, err := NewServer(testOptions(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	if err := server.Send(1, []byte("x")); !errors.Is(err, ErrNotActive) {
		t.Fatalf("Send before Start: got %v, want ErrNotActive", err)
	}
	if server.Tick(100, nil) != 0 {
		t.Fatalf("Tick before Start should be a no-op")
	}

	if err := server.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer server.Stop()

	if !server.Active() {
		t.Fatalf("not active after Start")
	}
	if err := server.Start(0); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Start: got %v, want ErrAlreadyActive", err)
	}
	if err := server.Send(42, []byte("x")); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("Send to unknown id: got %v, want ErrUnknownConnection", err)
	}
	if err := server.Send(42, make([]byte, testOptions().MaxMessageSize+1)); !errors.Is(err, ErrOversizedMessage) {
		t.Fatalf("oversized Send: got %v, want ErrOversizedMessage", err)
	}

	server.Stop()
	if server.Active() || server.Addr() != nil {
		t.Fatalf("still active after Stop")
	}
}

func TestServerRestartResetsIDs(t *testing.T) {
	server, serverLog, port := newTestServer(t, testOptions())
	client, clientLog := newTestClient(t, testOptions())
	connect(t, client, clientLog, port)

	waitFor(t, "first connection", func() bool {
		server.Tick(100, nil)
		return serverLog.count(EventConnected) == 1
	})

	server.Stop()

	// Disconnected events survive Stop until the next Start.
	waitFor(t, "disconnect after stop", func() bool {
		server.Tick(100, nil)
		return serverLog.count(EventDisconnected) == 1
	})
	waitFor(t, "client saw stop", func() bool {
		client.Tick(100, nil)
		return clientLog.count(EventDisconnected) == 1
	})

	if err := server.Start(0); err != nil {
		t.Fatalf("restart: %v", err)
	}
	port = server.Addr().(*net.TCPAddr).Port

	clientLog.events = nil
	connect(t, client, clientLog, port)

	waitFor(t, "second connection", func() bool {
		server.Tick(100, nil)
		return serverLog.count(EventConnected) == 2
	})
	if last := serverLog.events[len(serverLog.events)-1]; last.id != 1 {
		t.Fatalf("first id after restart: got %d, want 1", last.id)
	}
}

func TestClientAddress(t *testing.T) {
	server, serverLog, port := newTestServer(t, testOptions())
	client, clientLog := newTestClient(t, testOptions())
	connect(t, client, clientLog, port)

	waitFor(t, "server connected", func() bool {
		server.Tick(100, nil)
		return serverLog.count(EventConnected) == 1
	})

	if got := server.ClientAddress(1); got != "127.0.0.1" {
		t.Fatalf("ClientAddress: got %q, want 127.0.0.1", got)
	}
	if got := server.ClientAddress(99); got != "" {
		t.Fatalf("ClientAddress(unknown): got %q, want empty", got)
	}
}

func TestConnectionIDExhaustion(t *testing.T) {
	s := &Server{}
	s.counter.Store(math.MaxInt32 - 2)

	id, err := s.nextConnectionID()
	if err != nil || id != math.MaxInt32-1 {
		t.Fatalf("last id: got %d, %v", id, err)
	}
	if _, err := s.nextConnectionID(); !errors.Is(err, ErrConnectionIDsExhausted) {
		t.Fatalf("got %v, want ErrConnectionIDsExhausted", err)
	}
}

func TestIDExhaustionStopsAccepting(t *testing.T) {
	server, serverLog, port := newTestServer(t, testOptions())
	server.counter.Store(math.MaxInt32 - 1)

	client, clientLog := newTestClient(t, testOptions())
	if err := client.Connect("127.0.0.1", port); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// The kernel completes the handshake, then the server drops the socket.
	waitFor(t, "client dropped", func() bool {
		client.Tick(100, nil)
		return clientLog.count(EventDisconnected) == 1
	})

	server.Tick(100, nil)
	if len(serverLog.events) != 0 {
		t.Fatalf("server delivered events for a rejected connection: %+v", serverLog.events)
	}

	waitFor(t, "listener closed", func() bool {
		conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), 100*time.Millisecond)
		if err != nil {
			return true
		}
		conn.Close()
		return false
	})
}

func TestSignalCollapsesWakeups(t *testing.T) {
	s := newSignal()
	s.set()
	s.set()

	select {
	case <-s:
	default:
		t.Fatalf("signal not set")
	}
	select {
	case <-s:
		t.Fatalf("two sets produced two wake-ups")
	default:
	}

	s.set()
	s.reset()
	select {
	case <-s:
		t.Fatalf("reset did not clear the signal")
	default:
	}
}

func TestRemoteIPFromPipe(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	if got := remoteIP(a); got == "" || bytes.ContainsRune([]byte(got), ':') {
		t.Fatalf("remoteIP: got %q", got)
	}
}

func TestClientReceivePipeCountAndPausedTick(t *testing.T) {
	server, serverLog, port := newTestServer(t, testOptions())
	client, clientLog := newTestClient(t, testOptions())

	if got := client.ReceivePipeCount(); got != 0 {
		t.Fatalf("ReceivePipeCount before Connect: got %d", got)
	}

	connect(t, client, clientLog, port)
	waitFor(t, "server connected", func() bool {
		server.Tick(100, nil)
		return serverLog.count(EventConnected) == 1
	})

	for _, msg := range []string{"a", "b"} {
		if err := server.Send(1, []byte(msg)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	waitFor(t, "client backlog", func() bool {
		return client.ReceivePipeCount() == 2
	})

	// A paused consumer gets nothing, not even the first event.
	if remaining := client.Tick(100, func() bool { return false }); remaining != 2 {
		t.Fatalf("paused Tick: remaining %d, want 2", remaining)
	}
	if got := clientLog.count(EventData); got != 0 {
		t.Fatalf("paused Tick delivered %d Data events", got)
	}

	if remaining := client.Tick(100, nil); remaining != 0 {
		t.Fatalf("Tick: remaining %d, want 0", remaining)
	}
	if got := client.ReceivePipeCount(); got != 0 {
		t.Fatalf("ReceivePipeCount after Tick: got %d", got)
	}
	if got := clientLog.count(EventData); got != 2 {
		t.Fatalf("Data events: got %d, want 2", got)
	}
}

func TestClientDisconnectTwice(t *testing.T) {
	_, _, port := newTestServer(t, testOptions())
	client, clientLog := newTestClient(t, testOptions())
	connect(t, client, clientLog, port)

	client.Disconnect()
	client.Disconnect()

	waitFor(t, "client disconnected", func() bool {
		client.Tick(100, nil)
		return clientLog.count(EventDisconnected) == 1
	})

	client.Disconnect()
	for i := 0; i < 10; i++ {
		client.Tick(100, nil)
		time.Sleep(time.Millisecond)
	}
	if got := clientLog.count(EventDisconnected); got != 1 {
		t.Fatalf("Disconnected events: got %d, want 1", got)
	}
	if client.Connected() || client.Connecting() {
		t.Fatalf("connected=%v connecting=%v after Disconnect", client.Connected(), client.Connecting())
	}
}

func TestClientDisconnectDuringDial(t *testing.T) {
	client, clientLog := newTestClient(t, testOptions())

	// TEST-NET-1 is unroutable: the dial either hangs or fails fast.
	if err := client.Connect("192.0.2.1", 9); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	client.Disconnect()
	client.Disconnect()

	waitFor(t, "dial cancelled", func() bool {
		client.Tick(100, nil)
		return clientLog.count(EventDisconnected) == 1
	})

	for i := 0; i < 10; i++ {
		client.Tick(100, nil)
		time.Sleep(time.Millisecond)
	}
	if got := clientLog.count(EventDisconnected); got != 1 {
		t.Fatalf("Disconnected events: got %d, want 1", got)
	}
	if got := clientLog.count(EventConnected); got != 0 {
		t.Fatalf("Connected events: got %d, want 0", got)
	}
	if client.Connecting() {
		t.Fatalf("still connecting after Disconnect")
	}
}
