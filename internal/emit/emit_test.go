package emit_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"banwatch/internal/emit"
	"banwatch/internal/model"
)

func sampleBan(ip string) model.ValidatorBan {
	i := ip
	return model.ValidatorBan{
		Ban:           model.BanRequest{Target: model.BanTarget{IP: &i}, Reason: "too many requests", TTLSeconds: 30},
		ValidatorName: "requests-from-ip-counter",
	}
}

func TestHTTPClientSuccessOn204(t *testing.T) {
	var gotHeader string
	var gotBody model.BanRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Analyzer-Id")
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	client := emit.NewHTTPClient(time.Second)
	body, err := json.Marshal(sampleBan("1.1.1.1").Ban)
	require.NoError(t, err)

	err = client.Send(context.Background(), srv.URL, body, "analyzer-1:requests-from-ip-counter")
	require.NoError(t, err)
	require.Equal(t, "analyzer-1:requests-from-ip-counter", gotHeader)
	require.Equal(t, "1.1.1.1", *gotBody.Target.IP)
}

func TestHTTPClientNon204IsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	client := emit.NewHTTPClient(time.Second)
	err := client.Send(context.Background(), srv.URL, []byte(`{}`), "x")
	require.Error(t, err)
}

func TestNoopClientAlwaysSucceeds(t *testing.T) {
	var c emit.NoopClient
	err := c.Send(context.Background(), "http://wherever", []byte(`{}`), "x")
	require.NoError(t, err)
}

type countingClient struct {
	failures int32
	calls    atomic.Int32
}

func (c *countingClient) Send(context.Context, string, []byte, string) error {
	n := c.calls.Add(1)
	if n <= int32(c.failures) {
		return errTransient
	}
	return nil
}

var errTransient = &transientError{}

type transientError struct{}

func (*transientError) Error() string { return "transient" }

func TestEmitterRetriesThenSucceeds(t *testing.T) {
	client := &countingClient{failures: 2}
	in := make(chan model.ValidatorBan, 1)
	e := emit.New(client, []string{"http://a"}, "analyzer-1", 3, time.Millisecond, in, nil)

	in <- sampleBan("2.2.2.2")
	close(in)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, model.ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("emitter did not finish")
	}
	require.Equal(t, int32(3), client.calls.Load())
}

func TestEmitterDropsAfterExhaustingRetries(t *testing.T) {
	client := &countingClient{failures: 99}
	in := make(chan model.ValidatorBan, 1)
	e := emit.New(client, []string{"http://a"}, "analyzer-1", 2, time.Millisecond, in, nil)

	in <- sampleBan("3.3.3.3")
	close(in)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	select {
	case err := <-done:
		// Exhaustion drops the ban; only the closed queue surfaces.
		require.ErrorIs(t, err, model.ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("emitter did not finish")
	}
	require.Equal(t, int32(3), client.calls.Load()) // 1 + retry_count attempts
}

func TestEmitterSendsToEveryConfiguredURL(t *testing.T) {
	client := &countingClient{}
	in := make(chan model.ValidatorBan, 1)
	e := emit.New(client, []string{"http://a", "http://b", "http://c"}, "analyzer-1", 0, time.Millisecond, in, nil)

	in <- sampleBan("4.4.4.4")
	close(in)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, model.ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("emitter did not finish")
	}
	require.Equal(t, int32(3), client.calls.Load())
}

func TestEmitterClosesDoneOnExit(t *testing.T) {
	client := &countingClient{}
	in := make(chan model.ValidatorBan)
	e := emit.New(client, []string{"http://a"}, "analyzer-1", 0, time.Millisecond, in, nil)

	select {
	case <-e.Done():
		t.Fatal("done closed before Run exited")
	default:
	}

	close(in)
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(context.Background()) }()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, model.ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("emitter did not finish")
	}

	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("done was not closed after Run exited")
	}
}
