package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"slack2tg/internal/security"

	"github.com/slack-go/slack"
	"github.com/spf13/cobra"
)

// sendOptions describe one webhook post made by the send command.
type sendOptions struct {
	URL       string
	File      string // JSON payload, "-" for stdin
	Text      string
	Channel   string
	Username  string
	IconEmoji string
	Images    []string
	Documents []string
	Secret    string
	UseToken  bool // send the secret as ?token= instead of signing
	Timeout   time.Duration
}

func sendCmd() *cobra.Command {
	var opts sendOptions

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Post a Slack-style webhook payload to a running relay",
		Long: `Builds a Slack incoming-webhook payload from a JSON file and/or flags and posts it
to a relay URL such as http://localhost:8080/hook/alerts. When a shared secret is
configured the request is signed with X-Timestamp and X-Signature headers.`,
		Example: `  slack2tg send --url http://localhost:8080/hook/alerts --text "deploy finished"
  slack2tg send --url http://localhost:8080/hook/ci --file payload.json --image https://example.com/graph.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Secret == "" {
				if cfg, err := loadConfig(); err == nil {
					opts.Secret = cfg.Security.SharedSecret
				}
			}
			msg, err := buildWebhookMessage(opts, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if err := postWebhook(cmd.Context(), opts, msg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "webhook accepted")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.URL, "url", "", "relay hook URL (required)")
	f.StringVarP(&opts.File, "file", "f", "", `JSON payload file ("-" for stdin)`)
	f.StringVarP(&opts.Text, "text", "t", "", "message text")
	f.StringVar(&opts.Channel, "channel", "", "embedded channel used for routing")
	f.StringVar(&opts.Username, "username", "", "sender name shown in the preamble")
	f.StringVar(&opts.IconEmoji, "icon-emoji", "", "sender emoji shown in the preamble")
	f.StringArrayVar(&opts.Images, "image", nil, "image URL to attach (repeatable)")
	f.StringArrayVar(&opts.Documents, "document", nil, "document URL to attach (repeatable)")
	f.StringVar(&opts.Secret, "secret", "", "shared secret (default: security.sharedSecret from config)")
	f.BoolVar(&opts.UseToken, "token", false, "authenticate with ?token= instead of a signature")
	f.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")
	cmd.MarkFlagRequired("url")
	return cmd
}

// buildWebhookMessage reads the optional payload file and applies flag overrides.
func buildWebhookMessage(opts sendOptions, stdin io.Reader) (*slack.WebhookMessage, error) {
	msg := &slack.WebhookMessage{}

	if opts.File != "" {
		var data []byte
		var err error
		if opts.File == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(opts.File)
		}
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		if err := json.Unmarshal(data, msg); err != nil {
			return nil, fmt.Errorf("parse payload: %w", err)
		}
	}

	if opts.Text != "" {
		msg.Text = opts.Text
	}
	if opts.Channel != "" {
		msg.Channel = opts.Channel
	}
	if opts.Username != "" {
		msg.Username = opts.Username
	}
	if opts.IconEmoji != "" {
		msg.IconEmoji = opts.IconEmoji
	}
	for _, u := range opts.Images {
		msg.Attachments = append(msg.Attachments, slack.Attachment{ImageURL: u, Fallback: path.Base(u)})
	}
	for _, u := range opts.Documents {
		msg.Attachments = append(msg.Attachments, slack.Attachment{TitleLink: u, Title: path.Base(u)})
	}

	if msg.Text == "" && len(msg.Attachments) == 0 && (msg.Blocks == nil || len(msg.Blocks.BlockSet) == 0) {
		return nil, fmt.Errorf("nothing to send: provide --text, --image, --document or --file")
	}
	return msg, nil
}

// postWebhook sends msg to the relay, signing it or adding the token query
// parameter when a secret is set.
func postWebhook(ctx context.Context, opts sendOptions, msg *slack.WebhookMessage) error {
	if opts.URL == "" {
		return fmt.Errorf("--url is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	target := opts.URL
	client := &http.Client{Timeout: opts.Timeout}
	if opts.Secret != "" {
		if opts.UseToken {
			u, err := url.Parse(opts.URL)
			if err != nil {
				return fmt.Errorf("invalid url: %w", err)
			}
			q := u.Query()
			q.Set(security.QueryToken, opts.Secret)
			u.RawQuery = q.Encode()
			target = u.String()
		} else {
			client.Transport = &security.SigningTransport{Secret: opts.Secret}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := slack.PostWebhookCustomHTTPContext(ctx, target, client, msg); err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	return nil
}
