package records

import (
	"fmt"
	"math"
	"strconv"

	"github.com/nao1215/sanctuary/pkg/feed"
)

// requiredFields はストリームごとの必須項目。
var requiredFields = map[feed.Stream][]string{
	feed.StreamDonations:            {"amount"},
	feed.StreamMembers:              {"first_name", "last_name"},
	feed.StreamPrayerRequests:       {"subject"},
	feed.StreamContactSubmissions:   {"email", "message"},
	feed.StreamVolunteerSubmissions: {"first_name", "email"},
	feed.StreamEvents:               {"title", "event_date"},
	feed.StreamSermons:              {"title"},
}

// validate はレコードの必須項目を検証する。
func validate(stream feed.Stream, r feed.Record) error {
	for _, key := range requiredFields[stream] {
		if r.String(key) == "" {
			return fmt.Errorf("%sは必須です", key)
		}
	}
	if stream == feed.StreamDonations {
		amount, err := strconv.ParseFloat(r.String("amount"), 64)
		if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
			return fmt.Errorf("amountは正の数である必要があります")
		}
	}
	return nil
}
