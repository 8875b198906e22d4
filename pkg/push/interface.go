package push

import (
	"context"
	"errors"
)

type PushProvider interface {
	SendNotification(ctx context.Context, request *NotificationRequest) (*NotificationResponse, error)
}

type NotificationRequest struct {
	Token       string            `json:"token"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	Sound       string            `json:"sound,omitempty"`
	Priority    string            `json:"priority,omitempty"`
	TTL         int               `json:"ttl,omitempty"`
	CollapseKey string            `json:"collapse_key,omitempty"`
	Category    string            `json:"category,omitempty"`
	ChannelID   string            `json:"channel_id,omitempty"`
}

type NotificationResponse struct {
	MessageID string `json:"message_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Token     string `json:"token,omitempty"`
}

const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
	PlatformWeb     = "web"
)

var ErrNoProvider = errors.New("push: no provider for platform")

// Router picks a provider by device platform.
type Router struct {
	providers map[string]PushProvider
}

func NewRouter() *Router {
	return &Router{providers: make(map[string]PushProvider)}
}

// Register binds provider to each of platforms.
func (r *Router) Register(provider PushProvider, platforms ...string) {
	for _, p := range platforms {
		r.providers[p] = provider
	}
}

func (r *Router) Send(ctx context.Context, platform string, request *NotificationRequest) (*NotificationResponse, error) {
	provider, ok := r.providers[platform]
	if !ok {
		return nil, ErrNoProvider
	}
	return provider.SendNotification(ctx, request)
}

// Enabled reports whether any provider is registered.
func (r *Router) Enabled() bool {
	return len(r.providers) > 0
}
