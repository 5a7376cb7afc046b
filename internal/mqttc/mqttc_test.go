package mqttc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/insikl/messaging-admin-ambassador/internal/mqttc/mqtttest"
)

func startBroker(t *testing.T) *mqtttest.Broker {
	t.Helper()
	b, err := mqtttest.Start()
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func TestPublishSubscribe(t *testing.T) {
	b := startBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := Dial(ctx, Options{Broker: b.URL(), CleanSession: true})
	require.NoError(t, err)
	defer sub.Close()
	pub, err := Dial(ctx, Options{Broker: b.URL(), ClientID: "pub1", CleanSession: true})
	require.NoError(t, err)
	defer pub.Close()
	require.Equal(t, "pub1", pub.ID())
	require.True(t, pub.IsConnected())

	col := NewCollector()
	require.NoError(t, sub.Subscribe(ctx, "/CD/+/temp", 1, col))
	require.NoError(t, pub.Publish(ctx, "/CD/001/temp", 1, false, []byte("21.5")))
	require.NoError(t, pub.Publish(ctx, "/CD/001/humidity", 0, false, []byte("40")))
	require.NoError(t, col.WaitFor(ctx, 1))
	require.Equal(t, "/CD/001/temp", col.Messages()[0].Topic)
	require.Equal(t, []byte("21.5"), col.Messages()[0].Payload)

	require.NoError(t, sub.Unsubscribe(ctx, "/CD/+/temp"))
	require.NoError(t, pub.Publish(ctx, "/CD/002/temp", 1, false, []byte("19")))
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, col.Count())
}

func TestDialRetries(t *testing.T) {
	b := startBroker(t)
	b.RefuseConnects(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := Dial(ctx, Options{Broker: b.URL(), CleanSession: true})
	require.Error(t, err)

	b.RefuseConnects(1)
	c, err := Dial(ctx, Options{Broker: b.URL(), CleanSession: true, ConnectRetries: 1})
	require.NoError(t, err)
	defer c.Close()
	require.Equal(t, 1, b.Connects())
}

func TestDialCanceledDropsSession(t *testing.T) {
	b := startBroker(t)
	b.DelayConnack(300 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Dial(ctx, Options{Broker: b.URL(), CleanSession: true})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool { return b.Connects() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(b.Clients()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestNewClientID(t *testing.T) {
	id := NewClientID("fvt")
	require.True(t, strings.HasPrefix(id, "fvt"))
	require.Len(t, id, maxClientIDLen)
	require.NotEqual(t, id, NewClientID("fvt"))
}

func TestCollectorWaitFor(t *testing.T) {
	c := NewCollector()
	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(5 * time.Millisecond)
			c.Add(Message{Topic: "/CD/001/1", Payload: []byte{byte(i)}})
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.WaitFor(ctx, 3))
	require.EqualValues(t, 3, c.Count())
	msgs := c.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, []byte{2}, msgs[2].Payload)

	c.Reset()
	require.Zero(t, c.Count())
}

func TestCollectorWaitForTimeout(t *testing.T) {
	c := NewCollector()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.WaitFor(ctx, 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "received 0 of 1")
}

func wsServer(t *testing.T, protocols []string) string {
	t.Helper()
	up := websocket.Upgrader{Subprotocols: protocols}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestProbeWebSocket(t *testing.T) {
	url := wsServer(t, []string{"mqtt"})
	res, err := ProbeWebSocket(context.Background(), url, nil, false)
	require.NoError(t, err)
	require.Equal(t, "mqtt", res.Subprotocol)
	require.Equal(t, http.StatusSwitchingProtocols, res.Status)
}

func TestProbeWebSocketNoSubprotocol(t *testing.T) {
	url := wsServer(t, []string{"chat"})
	_, err := ProbeWebSocket(context.Background(), url, nil, false)
	require.Error(t, err)
}

func TestDialRequiresBroker(t *testing.T) {
	_, err := Dial(context.Background(), Options{})
	require.Error(t, err)
}
