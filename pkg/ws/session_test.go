package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialTestConn(t *testing.T) *websocket.Conn {
	t.Helper()
	up := websocket.Upgrader{}
	hold := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-hold
		_ = c.Close()
	}))
	t.Cleanup(func() {
		close(hold)
		srv.Close()
	})
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	return conn
}

func TestSessionCloseConcurrent(t *testing.T) {
	s := NewSession(dialTestConn(t), "u-1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()

	select {
	case <-s.done:
	default:
		t.Fatal("done must be closed after Close")
	}
}

func TestSessionSendAfterCloseDoesNotBlock(t *testing.T) {
	s := NewSession(dialTestConn(t), "")
	s.Close()
	for i := 0; i < sendBuffer+10; i++ {
		s.Send([]byte("tick"))
	}
}
