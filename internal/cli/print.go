package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/nao1215/sanctuary/pkg/feed"
)

func printToast(w io.Writer, t feed.Toast) {
	fmt.Fprintf(w, "[%s] %s: %s (%s)\n", t.Severity, t.Title, t.Message, t.NotificationID)
}

// printFeed は新しい順の通知一覧を表示する。未読には*を付ける。
func printFeed(w io.Writer, notifications []feed.Notification, unread int) error {
	fmt.Fprintf(w, "unread: %d\n", unread)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, n := range notifications {
		mark := " "
		if !n.IsRead {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, n.ID, n.Title, n.Message, feed.ResolveTargetRoute(n))
	}
	return tw.Flush()
}
