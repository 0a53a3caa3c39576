package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/CosmoTheDev/painscan/internal/config"
)

// SlackChannel posts to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
	client     *retryablehttp.Client
}

// NewSlack creates a SlackChannel from cfg.
func NewSlack(cfg config.SlackNotifyConfig) *SlackChannel {
	return &SlackChannel{webhookURL: cfg.WebhookURL, client: newDeliveryClient()}
}

func (s *SlackChannel) Name() string       { return "slack" }
func (s *SlackChannel) IsConfigured() bool { return s.webhookURL != "" }

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color     string       `json:"color"`
	Title     string       `json:"title"`
	TitleLink string       `json:"title_link,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []slackField `json:"fields,omitempty"`
	Footer    string       `json:"footer"`
	TS        int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (s *SlackChannel) Send(ctx context.Context, evt Event) error {
	body, err := json.Marshal(slackMessageFor(evt, time.Now()))
	if err != nil {
		return err
	}
	if err := postJSON(ctx, s.client, s.webhookURL, body, nil); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

func slackMessageFor(evt Event, now time.Time) slackMessage {
	att := slackAttachment{
		Color:     eventColor(evt),
		Title:     evt.Title,
		TitleLink: evt.URL,
		Text:      evt.Body,
		Footer:    "painscan",
		TS:        now.Unix(),
	}
	if evt.ScanID != "" {
		att.Fields = append(att.Fields, slackField{Title: "Scan", Value: evt.ScanID, Short: true})
	}
	if evt.Severity != "" {
		att.Fields = append(att.Fields, slackField{Title: "Severity", Value: evt.Severity, Short: true})
	}
	return slackMessage{Text: evt.Title, Attachments: []slackAttachment{att}}
}

func eventColor(evt Event) string {
	switch evt.Type {
	case EventScanFailed:
		return "#FF0000"
	case EventScanCompleted:
		return "#2EB67D"
	}
	switch evt.Severity {
	case "critical":
		return "#FF0000"
	case "high":
		return "#FF6600"
	case "medium":
		return "#FFAA00"
	case "low":
		return "#0099FF"
	}
	return "#888888"
}
