package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/commitstreak/streakd/internal/store"
)

// PushConfig configures the VAPID web push channel. The key pair is opaque
// configuration; generation and subscription registration happen elsewhere.
type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string // contact mailto or URL required by the VAPID spec
	TTL             int
}

// pushPayload is the JSON body the service worker renders.
type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

type webpushSendFunc func(
	ctx context.Context,
	message []byte,
	sub *webpush.Subscription,
	options *webpush.Options,
) (*http.Response, error)

// PushSender delivers reminders to web push subscriptions.
type PushSender struct {
	cfg  PushConfig
	send webpushSendFunc
}

// NewPushSender creates the web push reminder channel.
func NewPushSender(cfg PushConfig) (*PushSender, error) {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, fmt.Errorf("vapid key pair is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 3600
	}
	return &PushSender{cfg: cfg, send: webpush.SendNotificationWithContext}, nil
}

// SendReminder pushes one reminder. It returns ErrSubscriptionGone when the
// endpoint reports the subscription as expired or unregistered.
func (s *PushSender) SendReminder(ctx context.Context, sub store.PushSubscription, content Content) error {
	payload, err := json.Marshal(pushPayload{
		Title: content.Subject(),
		Body:  content.Body(),
		URL:   content.RepoURL,
	})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	resp, err := s.send(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             s.cfg.TTL,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return ErrSubscriptionGone
	case resp.StatusCode >= 400:
		return fmt.Errorf("push endpoint rejected delivery: status %d", resp.StatusCode)
	}
	return nil
}
