package alert

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/hnpulse/internal/store"
)

func sampleDigest(typ string, n int) *Digest {
	d := &Digest{Type: typ}
	for i := 0; i < n; i++ {
		a := store.AlertWithPost{Title: "A breakout story", Author: "tester"}
		a.PostID = int64(100 + i)
		a.AlertType = "score_velocity"
		a.Percentile = 96.5
		a.GrowthRate = 4.2
		a.ScoreAtAlert = 40
		d.Alerts = append(d.Alerts, a)
	}
	return d
}

func TestDigestSubject(t *testing.T) {
	assert.Equal(t, "1 breakout story", sampleDigest("hourly", 1).Subject())
	assert.Equal(t, "3 breakout stories", sampleDigest("hourly", 3).Subject())
	assert.Equal(t, "2 URGENT breakout stories", sampleDigest("urgent", 2).Subject())
}

func TestPostURL_FallsBackToDiscussionPage(t *testing.T) {
	a := store.AlertWithPost{URL: "https://example.com/post"}
	a.PostID = 42
	assert.Equal(t, "https://example.com/post", postURL(a))

	a.URL = ""
	assert.Equal(t, "https://news.ycombinator.com/item?id=42", postURL(a))
}

func TestManagerBroadcast_CollectsFailures(t *testing.T) {
	good := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("boom")}
	m := NewManager([]Notifier{good, bad})

	err := m.Broadcast(context.Background(), sampleDigest("hourly", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 1, good.calls)
	assert.Equal(t, 1, bad.calls)
}

func TestManagerHasNotifiers(t *testing.T) {
	assert.False(t, NewManager(nil).HasNotifiers())
	assert.True(t, NewManager([]Notifier{&recordingNotifier{}}).HasNotifiers())
}

type recordingNotifier struct {
	calls int
	err   error
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Send(context.Context, *Digest) error {
	r.calls++
	return r.err
}

func TestWebhookSend_SignsPayload(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature-256")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	t.Cleanup(srv.Close)

	wh := NewWebhook(srv.URL, "s3cret")
	require.NoError(t, wh.Send(context.Background(), sampleDigest("urgent", 2)))

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(gotBody)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSig)

	var payload Digest
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "urgent", payload.Type)
	assert.Len(t, payload.Alerts, 2)
}

func TestWebhookSend_NoSecretNoSignature(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature-256")
	}))
	t.Cleanup(srv.Close)

	wh := NewWebhook(srv.URL, "")
	require.NoError(t, wh.Send(context.Background(), sampleDigest("hourly", 1)))
	assert.Empty(t, gotSig)
}

func TestWebhookSend_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	err := NewWebhook(srv.URL, "").Send(context.Background(), sampleDigest("hourly", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSlackSend_DeliversBlocks(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	t.Cleanup(srv.Close)

	s := NewSlack(srv.URL)
	require.NoError(t, s.Send(context.Background(), sampleDigest("hourly", 2)))
	assert.NotEmpty(t, got["blocks"])
}

func TestDiscordSend_DeliversEmbeds(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	d := NewDiscord(srv.URL)
	require.NoError(t, d.Send(context.Background(), sampleDigest("urgent", 1)))
	assert.NotEmpty(t, got["embeds"])
}
