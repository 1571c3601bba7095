package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"swing-systemv1/internal/model"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"
)

const testSecret = "JBSWY3DPEHPK3PXP"

// barServer upgrades connections, checks the login handshake, then streams
// the given bars and closes.
func barServer(t *testing.T, bars []model.Bar, wantAuth bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var auth authMessage
		if err := conn.ReadJSON(&auth); err != nil {
			t.Errorf("read auth: %v", err)
			return
		}
		if auth.Action != "login" || auth.ClientCode != "C123" {
			t.Errorf("bad auth message: %+v", auth)
		}
		if wantAuth && !totp.Validate(auth.TOTP, testSecret) {
			t.Errorf("invalid totp code %q", auth.TOTP)
		}

		var sub subscribeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub.Action != "subscribe" || len(sub.Symbols) == 0 {
			t.Errorf("bad subscribe message: %+v", sub)
		}

		for _, b := range bars {
			if err := conn.WriteJSON(b); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestIngest_StreamsBars(t *testing.T) {
	want := []model.Bar{
		{Symbol: "SBIN", TS: time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC), Open: 510, High: 512, Low: 509, Close: 511, Volume: 1000},
		{Symbol: "SBIN", TS: time.Date(2024, 3, 1, 9, 16, 0, 0, time.UTC), Open: 511, High: 513, Low: 510, Close: 512, Volume: 900},
	}
	srv := barServer(t, want, true)
	defer srv.Close()

	ing, err := New(Config{
		URL:        wsURL(srv),
		ClientCode: "C123",
		TOTPSecret: testSecret,
		Symbols:    []string{"SBIN"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	barCh := make(chan model.Bar, 10)
	go ing.Start(ctx, barCh)

	for i := range want {
		select {
		case got := <-barCh:
			if got.Symbol != want[i].Symbol || got.Close != want[i].Close {
				t.Errorf("bar %d: got %+v, want %+v", i, got, want[i])
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for bar %d", i)
		}
	}
}

func TestIngest_ReconnectsAfterDisconnect(t *testing.T) {
	bar := model.Bar{Symbol: "INFY", Close: 1500}
	srv := barServer(t, []model.Bar{bar}, false)
	defer srv.Close()

	ing, err := New(Config{
		URL:            wsURL(srv),
		ClientCode:     "C123",
		Symbols:        []string{"INFY"},
		ReconnectDelay: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	reconnects := make(chan struct{}, 10)
	ing.OnReconnect = func() { reconnects <- struct{}{} }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	barCh := make(chan model.Bar, 10)
	go ing.Start(ctx, barCh)

	// First connection delivers the bar, then the server closes and the
	// client must dial again.
	select {
	case <-barCh:
	case <-time.After(5 * time.Second):
		t.Fatal("no bar received")
	}
	select {
	case <-reconnects:
	case <-time.After(5 * time.Second):
		t.Fatal("no reconnection attempt observed")
	}
}

func TestNew_BadURL(t *testing.T) {
	if _, err := New(Config{URL: "://bad"}); err == nil {
		t.Error("expected error for unparseable URL")
	}
}
