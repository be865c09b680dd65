package alerts

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Ensure WebhookChannel implements the Channel interface.
var _ Channel = (*WebhookChannel)(nil)

// priorityColors maps priorities onto embed accent colors.
var priorityColors = map[Priority]int{
	PriorityInfo:     0x3498db,
	PriorityWarning:  0xf1c40f,
	PriorityHigh:     0xe67e22,
	PriorityCritical: 0xe74c3c,
}

// WebhookChannel delivers alerts to a Discord webhook as embeds.
type WebhookChannel struct {
	session   *discordgo.Session
	webhookID string
	token     string
}

// NewWebhookChannel parses a Discord webhook URL of the form
// https://discord.com/api/webhooks/{id}/{token}. Webhook execution needs no
// bot authentication, so the session carries an empty token.
func NewWebhookChannel(webhookURL string) (*WebhookChannel, error) {
	u, err := url.Parse(webhookURL)
	if err != nil {
		return nil, fmt.Errorf("alerts: parse webhook URL: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 4 || parts[len(parts)-3] != "webhooks" {
		return nil, fmt.Errorf("alerts: webhook URL %q has unexpected path", webhookURL)
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("alerts: create discord session: %w", err)
	}
	return &WebhookChannel{
		session:   session,
		webhookID: parts[len(parts)-2],
		token:     parts[len(parts)-1],
	}, nil
}

// Send implements Channel.
func (c *WebhookChannel) Send(ctx context.Context, a Alert) error {
	_, err := c.session.WebhookExecute(c.webhookID, c.token, false, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       a.Title,
			Description: a.Message,
			Color:       priorityColors[a.Priority],
			Footer: &discordgo.MessageEmbedFooter{
				Text: "priority: " + a.Priority.String(),
			},
			Timestamp: a.Time.Format("2006-01-02T15:04:05Z07:00"),
		}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("alerts: execute webhook: %w", err)
	}
	return nil
}
