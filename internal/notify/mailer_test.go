package notify

import (
	"context"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/esim-orders/internal/config"
)

func TestSMTPMailer_Send(t *testing.T) {
	m := NewSMTPMailer(config.SMTPConfig{
		Server:   "smtp.example.com",
		Port:     "587",
		User:     "user",
		Password: "pass",
		FromAddr: "shop@example.com",
		FromName: "eSIM Store",
	})

	var gotAddr string
	var gotTo []string
	var gotMsg string
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotTo = to
		gotMsg = string(msg)
		return nil
	}

	err := m.Send(context.Background(), Message{To: "user@example.com", Subject: "Hi", Body: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"user@example.com"}, gotTo)
	assert.True(t, strings.HasPrefix(gotMsg, "From: eSIM Store <shop@example.com>\r\n"))
	assert.Contains(t, gotMsg, "Subject: Hi\r\n")
	assert.True(t, strings.HasSuffix(gotMsg, "\r\n\r\nhello"))
}

func TestLogMailer_Send(t *testing.T) {
	err := NewLogMailer(zap.NewNop()).Send(context.Background(), Message{To: "a@b.c"})
	assert.NoError(t, err)
}

func TestTrackingLinkMessage(t *testing.T) {
	msg := TrackingLinkMessage("user@example.com", "https://shop/track/abc", 24*time.Hour)

	assert.Equal(t, "user@example.com", msg.To)
	assert.Contains(t, msg.Body, "https://shop/track/abc")
	assert.Contains(t, msg.Body, "24 hours")

	msg = TrackingLinkMessage("user@example.com", "x", 30*time.Minute)
	assert.Contains(t, msg.Body, "30 minutes")
}
