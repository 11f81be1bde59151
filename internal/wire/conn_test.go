package wire

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Unidata/LDM-sub012/internal/product"
	"github.com/Unidata/LDM-sub012/internal/productclass"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func serverEcho(t *testing.T) (*httptest.Server, chan *Conn) {
	t.Helper()
	accepted := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		accepted <- NewConn(ws)
	}))
	return srv, accepted
}

func dial(t *testing.T, srv *httptest.Server) *Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return NewConn(ws)
}

func TestDialConnectsAndSendsHiya(t *testing.T) {
	srv, accepted := serverEcho(t)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	client, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	server := <-accepted
	defer server.Close()

	if err := client.Send(KindHiya, Hiya{ClassOffered: RawClass{}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	var got Hiya
	kind, err := server.Receive(&got)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if kind != KindHiya {
		t.Fatalf("expected KindHiya, got %v", kind)
	}
}

func TestHiyaRoundTrip(t *testing.T) {
	srv, accepted := serverEcho(t)
	defer srv.Close()

	client := dial(t, srv)
	defer client.Close()
	server := <-accepted
	defer server.Close()

	cls, err := productclass.New(productclass.Zero, productclass.End, []productclass.RawSpec{
		{Mask: 0x3, Pattern: ".*"},
	})
	if err != nil {
		t.Fatalf("class: %v", err)
	}

	if err := client.Send(KindHiya, Hiya{ClassOffered: ToRawClass(cls)}); err != nil {
		t.Fatalf("send: %v", err)
	}

	var got Hiya
	kind, err := server.Receive(&got)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if kind != KindHiya {
		t.Fatalf("expected KindHiya, got %s", kind)
	}
	decoded, err := got.ClassOffered.ToClass()
	if err != nil {
		t.Fatalf("decode class: %v", err)
	}
	if !decoded.Equal(cls) {
		t.Fatalf("round-tripped class differs: %+v vs %+v", decoded, cls)
	}

	if err := server.Send(KindHiyaReply, HiyaReply{OK: true, MaxHereis: MaxHereisUnbounded}); err != nil {
		t.Fatalf("reply send: %v", err)
	}
	var reply HiyaReply
	kind, err = client.Receive(&reply)
	if err != nil {
		t.Fatalf("reply receive: %v", err)
	}
	if kind != KindHiyaReply || !reply.OK || reply.MaxHereis != MaxHereisUnbounded {
		t.Fatalf("unexpected reply: kind=%s %+v", kind, reply)
	}
}

func TestHereisCarriesPayload(t *testing.T) {
	srv, accepted := serverEcho(t)
	defer srv.Close()

	client := dial(t, srv)
	defer client.Close()
	server := <-accepted
	defer server.Close()

	var sig product.Signature
	sig[0] = 0xAB
	msg := Hereis{
		Info:    product.Info{Signature: sig, Identifier: "SFUS10KXXX", Feedtype: 0x1},
		Payload: []byte("hello world"),
	}
	if err := server.Send(KindHereis, msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	var got Hereis
	kind, err := client.Receive(&got)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if kind != KindHereis {
		t.Fatalf("expected KindHereis, got %s", kind)
	}
	if string(got.Payload) != "hello world" || got.Info.Signature != sig {
		t.Fatalf("payload/signature mismatch: %+v", got)
	}
}

func TestSetDeadlineAppliesToBothDirections(t *testing.T) {
	srv, accepted := serverEcho(t)
	defer srv.Close()

	client := dial(t, srv)
	defer client.Close()
	server := <-accepted
	defer server.Close()

	if err := client.SetDeadline(50 * time.Millisecond); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, err := client.Receive(nil); err == nil {
		t.Fatal("expected read deadline to expire")
	}
}
