package sockets

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestSocketAddress_Parse(t *testing.T) {
	a := NewSocketAddress("10.1.2.3", 80)
	if a.IP() != 10<<24|1<<16|2<<8|3 {
		t.Errorf("Expected 10.1.2.3, got %s", a.IPString())
	}
	if a.String() != "10.1.2.3:80" {
		t.Errorf("Expected 10.1.2.3:80, got %s", a.String())
	}
	if !a.IsPrivateIP() || a.IsLocalIP() || a.IsAny() {
		t.Errorf("Unexpected classification for %s", a)
	}

	u := NewSocketAddress("example.invalid", 80)
	if !u.IsUnresolved() {
		t.Errorf("Expected hostname to stay unresolved without DNS")
	}
	if u.IPString() != "example.invalid" {
		t.Errorf("Expected hostname as IP string, got %s", u.IPString())
	}
}

func TestSocketAddress_PrivateRanges(t *testing.T) {
	tests := []struct {
		host     string
		expected bool
	}{
		{"127.0.0.1", true},
		{"10.0.0.1", true},
		{"172.16.5.4", true},
		{"172.32.0.1", false},
		{"192.168.1.1", true},
		{"8.8.8.8", false},
	}
	for _, tt := range tests {
		if got := NewSocketAddress(tt.host, 0).IsPrivateIP(); got != tt.expected {
			t.Errorf("%s: expected private=%v, got %v", tt.host, tt.expected, got)
		}
	}
}

func TestSocketAddress_EqualityAndOrder(t *testing.T) {
	a := NewSocketAddress("127.0.0.1", 9000)
	b := AddressFromIP(127<<24|1, 9000)
	if !a.Equal(b) {
		t.Errorf("Expected %s == %s", a, b)
	}

	c := NewSocketAddress("127.0.0.1", 9001)
	if !a.Less(c) || c.Less(a) {
		t.Errorf("Expected ordering by port")
	}

	h1 := NewSocketAddress("alpha.invalid", 1)
	h2 := NewSocketAddress("beta.invalid", 1)
	if h1.Equal(h2) {
		t.Errorf("Expected unresolved hosts to compare by name")
	}
	if !h1.Less(h2) {
		t.Errorf("Expected alpha < beta")
	}
}

func TestSocketAddress_SockaddrRoundTrip(t *testing.T) {
	a := NewSocketAddress("192.168.10.20", 8080)
	b := AddressFromSockaddr(a.Sockaddr())
	if !a.Equal(b) {
		t.Errorf("Expected %s, got %s", a, b)
	}
}

func socketPair(t *testing.T) (*Socket, *Socket) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair failed: %v", err)
	}
	var a, b Socket
	a.Init(SocketFd(fds[0]))
	b.Init(SocketFd(fds[1]))
	for _, s := range []*Socket{&a, &b} {
		if err := s.Fd().SetNonBlocking(); err != nil {
			t.Fatalf("SetNonBlocking failed: %v", err)
		}
	}
	t.Cleanup(func() {
		a.CloseDescriptor()
		b.CloseDescriptor()
	})
	return &a, &b
}

func TestSocket_ReadWithoutDataIsNotAnError(t *testing.T) {
	a, _ := socketPair(t)

	n, err := a.ReadStream(make([]byte, 16))
	if n != 0 || err != nil {
		t.Errorf("Expected (0, nil), got (%d, %v)", n, err)
	}
}

func TestSocket_StreamRoundTrip(t *testing.T) {
	a, b := socketPair(t)

	if n, err := a.WriteStream([]byte("hello")); n != 5 || err != nil {
		t.Fatalf("Expected 5 bytes written, got (%d, %v)", n, err)
	}
	buf := make([]byte, 16)
	n, err := b.ReadStream(buf)
	if err != nil {
		t.Fatalf("ReadStream failed: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("Expected hello, got %q", buf[:n])
	}
}

func TestSocket_PeerShutdownTerminates(t *testing.T) {
	a, b := socketPair(t)
	b.CloseDescriptor()

	_, err := a.ReadStream(make([]byte, 16))
	if !errors.Is(err, ErrConnectionTerminated) {
		t.Errorf("Expected ErrConnectionTerminated, got %v", err)
	}

	_, err = a.WriteStream([]byte("x"))
	if !errors.Is(err, ErrConnectionTerminated) {
		t.Errorf("Expected ErrConnectionTerminated on write, got %v", err)
	}
}

func TestSocket_ZeroBuffers(t *testing.T) {
	a, _ := socketPair(t)

	if _, err := a.ReadStream(nil); !errors.Is(err, ErrZeroReadBuffer) {
		t.Errorf("Expected ErrZeroReadBuffer, got %v", err)
	}
	if _, err := a.WriteStream(nil); !errors.Is(err, ErrZeroWriteBuffer) {
		t.Errorf("Expected ErrZeroWriteBuffer, got %v", err)
	}
}

func TestSocketFd_ListenAcceptConnect(t *testing.T) {
	lfd, err := OpenStream()
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer lfd.Close()

	if err := lfd.SetReuseAddress(); err != nil {
		t.Fatalf("SetReuseAddress failed: %v", err)
	}
	if err := lfd.SetNonBlocking(); err != nil {
		t.Fatalf("SetNonBlocking failed: %v", err)
	}
	if err := lfd.Bind(NewSocketAddress("127.0.0.1", 0)); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if err := lfd.Listen(16); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	local, err := lfd.LocalAddress()
	if err != nil || local.Port() == 0 {
		t.Fatalf("Expected bound port, got %s (%v)", local, err)
	}

	if fd, _, err := lfd.Accept(); fd.IsValid() || err != nil {
		t.Fatalf("Expected no pending connection, got fd=%d err=%v", fd, err)
	}

	cfd, err := OpenStream()
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer cfd.Close()
	cfd.SetNonBlocking()

	inProgress, err := cfd.Connect(local)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if inProgress {
		if err := cfd.WaitConnected(time.Second); err != nil {
			t.Fatalf("WaitConnected failed: %v", err)
		}
	}

	var accepted SocketFd = InvalidFd
	for i := 0; i < 100 && !accepted.IsValid(); i++ {
		accepted, _, err = lfd.Accept()
		if err != nil {
			t.Fatalf("Accept failed: %v", err)
		}
		if !accepted.IsValid() {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if !accepted.IsValid() {
		t.Fatal("Expected an accepted connection")
	}
	defer accepted.Close()

	if err := accepted.SetNoDelay(); err != nil {
		t.Errorf("SetNoDelay failed: %v", err)
	}
	if err := accepted.SetNoSignal(); err != nil {
		t.Errorf("SetNoSignal failed: %v", err)
	}
	remote, err := accepted.RemoteAddress()
	if err != nil || !remote.IsLocalIP() {
		t.Errorf("Expected loopback peer, got %s (%v)", remote, err)
	}
}

func TestSocketFd_ConnectRefused(t *testing.T) {
	lfd, _ := OpenStream()
	lfd.Bind(NewSocketAddress("127.0.0.1", 0))
	addr, _ := lfd.LocalAddress()
	lfd.Close()

	cfd, err := OpenStream()
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer cfd.Close()
	cfd.SetNonBlocking()

	inProgress, err := cfd.Connect(addr)
	if err == nil && inProgress {
		err = cfd.WaitConnected(time.Second)
	}
	var serr *SocketError
	if !errors.As(err, &serr) || serr.Errno != unix.ECONNREFUSED {
		t.Errorf("Expected ECONNREFUSED, got %v", err)
	}
}
