package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/electorate-server/internal/server"
)

func TestHTTPServer_StartStop(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	s := NewHTTPServer(handler, "127.0.0.1:0")
	assert.Equal(t, "127.0.0.1:0", s.Address())

	done := make(chan error, 1)
	go func() {
		done <- s.Start(server.NewPlainListener())
	}()

	// Give the listener a moment to come up before shutting down.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestHTTPServer_Start_ListenError(t *testing.T) {
	s := NewHTTPServer(http.NewServeMux(), "invalid-address")

	err := s.Start(server.NewPlainListener())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}
