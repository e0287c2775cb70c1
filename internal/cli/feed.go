package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/sanctuary/pkg/feed"
	"github.com/nao1215/sanctuary/pkg/httpclient"
)

// feedResponse は通知一覧のレスポンス。
type feedResponse struct {
	Notifications []feed.Notification `json:"notifications"`
	UnreadCount   int                 `json:"unread_count"`
}

func newFeedCmd(opts *options) *cobra.Command {
	var (
		unread bool
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show the admin notification feed",
		Long:  "Show the notification feed of the token's user. With --follow, print each new toast as it arrives until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if follow {
				return followFeed(cmd, opts)
			}

			path := "/api/v1/notifications"
			if unread {
				path += "/unread"
			}
			var resp feedResponse
			if err := opts.client().GetJSON(cmd.Context(), path, &resp); err != nil {
				return describe(err)
			}
			return printFeed(cmd.OutOrStdout(), resp.Notifications, resp.UnreadCount)
		},
	}

	cmd.Flags().BoolVar(&unread, "unread", false, "show unread notifications only")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream new toasts")
	return cmd
}

// followFeed は通知サービスのSSEを購読してトーストを表示する。
func followFeed(cmd *cobra.Command, opts *options) error {
	ctx := cmd.Context()
	body, err := opts.client(httpclient.WithTimeout(0)).GetStream(ctx, "/api/v1/notifications/stream")
	if err != nil {
		return describe(err)
	}
	defer body.Close()

	w := cmd.OutOrStdout()
	err = readEvents(body, func(name, data string) error {
		switch name {
		case "ready":
			var ready struct {
				UnreadCount int `json:"unread_count"`
			}
			if err := json.Unmarshal([]byte(data), &ready); err != nil {
				return fmt.Errorf("invalid ready event: %w", err)
			}
			fmt.Fprintf(w, "connected (unread: %d)\n", ready.UnreadCount)
		case "toast":
			var toast feed.Toast
			if err := json.Unmarshal([]byte(data), &toast); err != nil {
				return fmt.Errorf("invalid toast event: %w", err)
			}
			printToast(w, toast)
		}
		return nil
	})
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil
	}
	return err
}
