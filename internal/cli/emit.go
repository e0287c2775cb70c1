package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/sanctuary/pkg/feed"
	"github.com/nao1215/sanctuary/pkg/httpclient"
)

func newEmitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "emit <stream> <json>",
		Short: "Insert a record through the gateway",
		Long: "Insert a record into one of the watched streams. Every mounted admin feed receives the insert.\n" +
			"Streams: donations, church_members, prayer_requests, contact_submissions, volunteer_submissions, events, sermons.",
		Example: `  churchctl emit donations '{"amount":50,"donor_first_name":"Amina","fund":"Building Fund"}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stream, err := feed.ParseStream(args[0])
			if err != nil {
				return err
			}
			var record feed.Record
			if err := json.Unmarshal([]byte(args[1]), &record); err != nil || record == nil {
				return fmt.Errorf("record must be a JSON object: %s", args[1])
			}

			var created feed.Record
			if err := opts.client().PostJSON(cmd.Context(), "/api/v1/records/"+string(stream), record, &created); err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s/%s\n", stream, created.String("id"))
			return nil
		},
	}
}

// describe はサーバーのエラーレスポンスを読みやすいエラーに変換する。
func describe(err error) error {
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(statusErr.Body, &body) == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", statusErr.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d", statusErr.StatusCode)
}
