package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/extractd/internal/config"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)
	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestNATS_Publish(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := Connect(config.NATSConfig{URL: server.ClientURL()}, nil)
	require.NoError(t, err)
	defer nc.Close()

	p := NewNATS(nc, "", nil)
	assert.Equal(t, "extractd.file.parsed", p.Subject(FileParsed))

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("extractd.>", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, p.Publish(context.Background(), Event{Type: FileParsed, FileID: 7, Status: "COMPLETE"}))

	select {
	case msg := <-ch:
		assert.Equal(t, "extractd.file.parsed", msg.Subject)
		var e Event
		require.NoError(t, json.Unmarshal(msg.Data, &e))
		assert.Equal(t, int64(7), e.FileID)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Time.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("event not received")
	}
}

type failing struct{}

func (failing) Publish(context.Context, Event) error { return errors.New("down") }

func TestEmit(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	Emit(context.Background(), failing{}, zap.New(core), Event{Type: ModelTrained})
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "event dropped", logs.All()[0].Message)

	Emit(context.Background(), nil, zap.New(core), Event{Type: ModelTrained})
	Emit(context.Background(), Nop{}, zap.New(core), Event{Type: ModelTrained})
	assert.Equal(t, 1, logs.Len())
}
