package internal

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/session"
)

// whepServer answers offers with a pion peer and records DELETEs.
func whepServer(t *testing.T, deleted *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "application/sdp", r.Header.Get("Content-Type"))
			offer, err := io.ReadAll(r.Body)
			if !assert.NoError(t, err) {
				return
			}

			pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
			if !assert.NoError(t, err) {
				return
			}
			t.Cleanup(func() { pc.Close() })
			if !assert.NoError(t, pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: string(offer)})) {
				return
			}
			answer, err := pc.CreateAnswer(nil)
			if !assert.NoError(t, err) {
				return
			}
			gathered := webrtc.GatheringCompletePromise(pc)
			if !assert.NoError(t, pc.SetLocalDescription(answer)) {
				return
			}
			<-gathered

			w.Header().Set("Location", "/whep/resource/1")
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, pc.LocalDescription().SDP)
		case http.MethodDelete:
			assert.Equal(t, "/whep/resource/1", r.URL.Path)
			deleted.Store(true)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWHEPSignallerSession(t *testing.T) {
	var deleted atomic.Bool
	srv := whepServer(t, &deleted)
	host := newFakeHost()
	defer host.close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	endpoint := srv.URL + "/whep/endpoint"
	go func() { done <- NewWHEPSignaller(endpoint).Run(ctx, host) }()

	require.Eventually(t, func() bool {
		_, ok := host.find(session.SessionStarted)
		return ok
	}, 10*time.Second, 10*time.Millisecond)

	assert.Equal(t, []session.Kind{
		session.ProducerAdded,
		session.SessionRequested,
		session.SessionStarted,
	}, host.kinds())

	added, _ := host.find(session.ProducerAdded)
	assert.Equal(t, endpoint, added.ProducerID)
	assert.Equal(t, "whep", added.Meta["protocol"])

	requested, _ := host.find(session.SessionRequested)
	started, _ := host.find(session.SessionStarted)
	assert.NotEmpty(t, requested.SessionID)
	assert.Equal(t, requested.SessionID, started.SessionID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, deleted.Load(), "resource was not deleted")
}

func TestWHEPSignallerRejectedOffer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "stream not found", http.StatusNotFound)
	}))
	defer srv.Close()

	host := newFakeHost()
	defer host.close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := NewWHEPSignaller(srv.URL).Run(ctx, host)
	assert.ErrorContains(t, err, "status 404")

	_, started := host.find(session.SessionStarted)
	assert.False(t, started)
}

func TestWHEPResolveResource(t *testing.T) {
	w := NewWHEPSignaller("http://example.org/whep/live")
	assert.Equal(t, "http://example.org/resource/9", w.resolveResource("/resource/9"))
	assert.Equal(t, "http://example.org/whep/abc", w.resolveResource("abc"))
	assert.Equal(t, "https://other.example/x", w.resolveResource("https://other.example/x"))
	assert.Empty(t, w.resolveResource(""))
}
