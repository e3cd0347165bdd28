package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

type Announcement struct {
	Title       string
	Description string
	Venue       string
	URL         string
	BannerURL   string
	Start       time.Time
	End         time.Time
}

type Announcer interface {
	Announce(ctx context.Context, a Announcement) error
}

// DiscordAnnouncer posts newly published events to a channel webhook.
type DiscordAnnouncer struct {
	session *discordgo.Session
	id      string
	token   string
}

func NewDiscordAnnouncer(webhookID, webhookToken string) (*DiscordAnnouncer, error) {
	// webhooks don't need a bot token
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("NewDiscordAnnouncer: %w", err)
	}
	return &DiscordAnnouncer{session: session, id: webhookID, token: webhookToken}, nil
}

// Embed limits: title 256, description 4096.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func (a Announcement) toDiscordEmbed() *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Type:        discordgo.EmbedTypeRich,
		Title:       truncate(a.Title, 256),
		Description: truncate(a.Description, 4096),
		URL:         a.URL,
		Color:       0x2E7D32,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Starts", Value: fmt.Sprintf("<t:%d:F>", a.Start.Unix()), Inline: true},
			{Name: "Ends", Value: fmt.Sprintf("<t:%d:F>", a.End.Unix()), Inline: true},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if a.Venue != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Venue", Value: a.Venue})
	}
	if a.BannerURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: a.BannerURL}
	}
	return embed
}

func (d *DiscordAnnouncer) Announce(ctx context.Context, a Announcement) error {
	if _, err := d.session.WebhookExecute(d.id, d.token, false, &discordgo.WebhookParams{
		Username: "GanApp",
		Embeds:   []*discordgo.MessageEmbed{a.toDiscordEmbed()},
	}, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("(*DiscordAnnouncer).Announce: %w", err)
	}
	slog.Debug("event announced on discord", "title", a.Title)
	return nil
}
