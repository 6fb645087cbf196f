package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/mail-sentinel/internal/retry"
)

func TestRegistryCreate(t *testing.T) {
	ch, err := Create(Config{Name: "hook", Type: "webhook", Target: "http://localhost/x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hook", ch.Name())

	_, err = Create(Config{Name: "x", Type: "carrier-pigeon"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown channel type")
}

func TestRegistryList(t *testing.T) {
	types := List()
	for _, want := range []string{"console", "discord", "file", "nats", "pushbullet", "pushover", "slack", "twilio", "webhook"} {
		assert.Contains(t, types, want)
	}
	assert.IsNonDecreasing(t, types)
}

func TestWebhookChannelSend(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
	}))
	defer srv.Close()

	ch, err := Create(Config{Name: "hook", Type: "webhook", Target: srv.URL}, nil)
	require.NoError(t, err)

	require.NoError(t, ch.Send(context.Background(), "[HIGH] subject", "body text"))
	assert.Equal(t, "[HIGH] subject", got["title"])
	assert.Equal(t, "body text", got["body"])
	assert.NotEmpty(t, got["timestamp"])
}

func TestWebhookChannelStatusClassification(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	ch, _ := Create(Config{Name: "hook", Type: "webhook", Target: srv.URL}, nil)

	// 5xx is transient.
	err := ch.Send(context.Background(), "t", "b")
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err))

	// 429 is transient.
	status = http.StatusTooManyRequests
	err = ch.Send(context.Background(), "t", "b")
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err))

	// 401 is permanent.
	status = http.StatusUnauthorized
	err = ch.Send(context.Background(), "t", "b")
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
}

func TestSlackChannelSend(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
	}))
	defer srv.Close()

	ch, _ := Create(Config{Name: "slack", Type: "slack", Target: srv.URL}, nil)
	require.NoError(t, ch.Send(context.Background(), "[HIGH] subject", "details"))
	assert.Equal(t, "*[HIGH] subject*\ndetails", got["text"])
}

func TestDiscordChannelSend(t *testing.T) {
	var got struct {
		Embeds []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
	}))
	defer srv.Close()

	ch, _ := Create(Config{Name: "discord", Type: "discord", Target: srv.URL}, nil)
	require.NoError(t, ch.Send(context.Background(), "[HIGH] subject", "details"))
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "[HIGH] subject", got.Embeds[0].Title)
	assert.Equal(t, "details", got.Embeds[0].Description)
}

func TestPushoverChannelSend(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		form = r.PostForm
	}))
	defer srv.Close()

	ch, err := Create(Config{
		Name: "po", Type: "pushover", Target: srv.URL,
		Token: "app-token", User: "user-key",
	}, nil)
	require.NoError(t, err)

	require.NoError(t, ch.Send(context.Background(), "title", "message"))
	assert.Equal(t, []string{"app-token"}, form["token"])
	assert.Equal(t, []string{"user-key"}, form["user"])
	assert.Equal(t, []string{"title"}, form["title"])
	assert.Equal(t, []string{"message"}, form["message"])
}

func TestPushbulletChannelSend(t *testing.T) {
	var token string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("Access-Token")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
	}))
	defer srv.Close()

	ch, err := Create(Config{Name: "pb", Type: "pushbullet", Target: srv.URL, Token: "secret"}, nil)
	require.NoError(t, err)

	require.NoError(t, ch.Send(context.Background(), "title", "body"))
	assert.Equal(t, "secret", token)
	assert.Equal(t, "note", got["type"])
	assert.Equal(t, "title", got["title"])
	assert.Equal(t, "body", got["body"])
}

func TestTwilioChannelSend(t *testing.T) {
	var path, user, pass string
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		user, pass, _ = r.BasicAuth()
		r.ParseForm()
		form = r.PostForm
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	ch, err := Create(Config{
		Name: "sms", Type: "twilio", Target: srv.URL + "/Accounts/AC123/Messages.json",
		User: "AC123", Token: "tok", From: "+15550001", To: "+15550002",
	}, nil)
	require.NoError(t, err)

	require.NoError(t, ch.Send(context.Background(), "title", "body"))
	assert.Equal(t, "/Accounts/AC123/Messages.json", path)
	assert.Equal(t, "AC123", user)
	assert.Equal(t, "tok", pass)
	assert.Equal(t, []string{"+15550001"}, form["From"])
	assert.Equal(t, []string{"+15550002"}, form["To"])
	assert.Equal(t, []string{"title\nbody"}, form["Body"])
}

func TestFileChannelSend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.log")
	ch, err := Create(Config{Name: "f", Type: "file", Target: path}, nil)
	require.NoError(t, err)

	require.NoError(t, ch.Send(context.Background(), "first", "body1"))
	require.NoError(t, ch.Send(context.Background(), "second", "body2"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "first\nbody1")
	assert.Contains(t, content, "second\nbody2")
}

func TestFileChannelBadPathIsPermanent(t *testing.T) {
	ch, err := Create(Config{Name: "f", Type: "file", Target: filepath.Join(t.TempDir(), "no", "such", "dir", "x.log")}, nil)
	require.NoError(t, err)

	err = ch.Send(context.Background(), "t", "b")
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
}

func TestChannelFactoriesValidateConfig(t *testing.T) {
	tests := []Config{
		{Name: "w", Type: "webhook"},
		{Name: "d", Type: "discord"},
		{Name: "s", Type: "slack"},
		{Name: "f", Type: "file"},
		{Name: "po", Type: "pushover"},
		{Name: "pb", Type: "pushbullet"},
		{Name: "tw", Type: "twilio"},
		{Name: "n", Type: "nats"},
	}
	for _, cfg := range tests {
		_, err := Create(cfg, nil)
		assert.Error(t, err, "type %s should require config", cfg.Type)
	}
}
