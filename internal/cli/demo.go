package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nao1215/sanctuary/pkg/feed"
	"github.com/nao1215/sanctuary/pkg/realtime"
)

func newDemoCmd() *cobra.Command {
	var (
		rounds   int
		capacity int
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the notification feed against an in-process bus",
		Long:  "Mount a feed on an in-process bus, insert sample records into every stream and print the toasts and the resulting feed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rounds < 1 || capacity < 1 {
				return fmt.Errorf("--rounds and --capacity must be positive")
			}
			logger := zap.NewNop()
			if verbose {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				logger = l
			}
			defer func() { _ = logger.Sync() }()

			w := cmd.OutOrStdout()
			hub := realtime.NewHub()
			agg := feed.NewAggregator(feed.NewFeed(capacity), feed.NotifierFunc(func(t feed.Toast) {
				printToast(w, t)
			}), feed.WithLogger(logger))
			handle := agg.Subscribe(cmd.Context(), hub)
			defer handle.Close()

			for i := range rounds {
				for _, stream := range feed.AllStreams() {
					hub.Publish(stream, sampleRecord(stream, i+1))
				}
			}
			// 同じ行の再配信はフィードに影響しない
			hub.Publish(feed.StreamDonations, sampleRecord(feed.StreamDonations, 1))

			fmt.Fprintln(w)
			return printFeed(w, agg.Notifications(), agg.UnreadCount())
		},
	}

	cmd.Flags().IntVar(&rounds, "rounds", 1, "number of inserts per stream")
	cmd.Flags().IntVar(&capacity, "capacity", feed.DefaultCapacity, "feed capacity")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log aggregator activity to stderr")
	return cmd
}

// sampleRecord はストリームごとの見本のレコードを返す。
func sampleRecord(stream feed.Stream, n int) feed.Record {
	r := feed.Record{"id": fmt.Sprintf("demo-%d", n)}
	switch stream {
	case feed.StreamDonations:
		r["amount"] = float64(25 * n)
		r["donor_first_name"] = "Amina"
		r["donor_last_name"] = "Okafor"
		r["fund"] = "Building Fund"
	case feed.StreamMembers:
		r["first_name"] = "Grace"
		r["last_name"] = "Lee"
	case feed.StreamPrayerRequests:
		r["first_name"] = "John"
		r["subject"] = "Healing for my mother"
	case feed.StreamContactSubmissions:
		r["name"] = "Ruth Park"
		r["subject"] = "Wedding inquiry"
	case feed.StreamVolunteerSubmissions:
		r["first_name"] = "Lydia"
		r["last_name"] = "Chen"
		r["ministry"] = "Children's Ministry"
	case feed.StreamEvents:
		r["title"] = "Community Picnic"
		r["event_date"] = "2026-06-14"
	case feed.StreamSermons:
		r["title"] = "Grace Abounds"
		r["speaker"] = "Pastor Daniel"
	}
	return r
}
