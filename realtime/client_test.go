package realtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

func TestClient_BuildURL_IncludesClientIDTablesAndLastEventID(t *testing.T) {
	c := NewClient(ClientConfig{
		Endpoint: "ws://example.test/realtime",
		ClientID: "client-1",
		Tables:   []string{"notes", "tasks"},
	}, nil, nil)
	c.lastEventID.Store(42)

	url := c.buildURL()
	assert.Contains(t, url, "clientId=client-1")
	assert.Contains(t, url, "tables=notes%2Ctasks")
	assert.Contains(t, url, "lastEventId=42")
}

func TestClient_BuildURL_AppendsQueryWithAmpersandWhenEndpointHasOne(t *testing.T) {
	c := NewClient(ClientConfig{Endpoint: "ws://example.test/realtime?token=abc", ClientID: "c"}, nil, nil)
	url := c.buildURL()
	assert.Contains(t, url, "token=abc&clientId=c")
}

func TestClient_Connect_DisabledGoesStraightToFallback(t *testing.T) {
	c := NewClient(ClientConfig{Endpoint: "ws://example.test/realtime"}, nil, nil)
	c.Disable()

	c.Connect(context.Background())
	assert.Equal(t, StateFallback, c.State())
}

func TestClient_Run_ExhaustsReconnectAttemptsAndCallsOnError(t *testing.T) {
	var dialAttempts atomic.Int64
	var gotErr atomic.Value

	c := NewClient(ClientConfig{
		Endpoint:             "ws://example.test/realtime",
		ReconnectInterval:    time.Millisecond,
		MaxReconnectInterval: 2 * time.Millisecond,
		MaxReconnectAttempts: 3,
		Dial: func(ctx context.Context, url string) (*websocket.Conn, error) {
			dialAttempts.Add(1)
			return nil, errors.New("dial failed")
		},
	}, nil, nil)
	c.OnError(func(err error) { gotErr.Store(err) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.Connect(ctx)
	c.wg.Wait()

	assert.Equal(t, StateFallback, c.State())
	assert.GreaterOrEqual(t, dialAttempts.Load(), int64(3))
	assert.NotNil(t, gotErr.Load())
}
