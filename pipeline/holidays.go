package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/nickjwilliams1987/MscCompSci-Final-Project/extract"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/transform"
)

// publicHoliday is one entry of the nager.at PublicHolidays response.
type publicHoliday struct {
	Date      string   `json:"date"`
	LocalName string   `json:"localName"`
	Name      string   `json:"name"`
	Counties  []string `json:"counties"`
}

// holidaysStages fetches public holidays per year from the configured start
// year through next year (the forecast window can dip over New Year's Eve)
// and keeps the days observed in England. The response covers all UK
// countries; county-specific holidays for NI and Scotland are excluded,
// except Saint Patrick's Day which is informally celebrated everywhere.
func (p *Pipeline) holidaysStages() []Stage {
	download := Stage{
		Name:     "download",
		Requires: []Key{KeySettings},
		Provides: []Key{KeyRawPayload, KeyRecords},
		Begins:   StateFetching,
		Run: func(ctx context.Context, bus *Bus) error {
			startYear := bus.Settings.StartYear
			if startYear == 0 {
				return fmt.Errorf("start_year is not set in the settings document")
			}
			endYear := bus.StartedAt.Year() + 1

			var rawResponses []json.RawMessage
			records := []transform.Record{}

			for year := startYear; year <= endYear; year++ {
				params := map[string]string{"year": strconv.Itoa(year)}
				for k, v := range bus.Settings.Endpoint.Params {
					params[k] = v
				}
				url, err := extract.ExpandURL(bus.Settings.Endpoint.URL, params)
				if err != nil {
					return err
				}

				body, err := p.Client.Get(ctx, url)
				if err != nil {
					return fmt.Errorf("error fetching holidays for %d: %w", year, err)
				}
				rawResponses = append(rawResponses, json.RawMessage(body))

				var days []publicHoliday
				if err := json.Unmarshal(body, &days); err != nil {
					return &extract.FetchError{URL: url, Err: fmt.Errorf("malformed JSON response: %w", err)}
				}

				for _, day := range days {
					if day.Counties == nil ||
						slices.Contains(day.Counties, "GB-ENG") ||
						day.Name == "Saint Patrick's Day" {
						records = append(records, transform.Record{
							"date": day.Date,
							"name": day.LocalName,
						})
					}
				}
			}

			raw, err := json.Marshal(rawResponses)
			if err != nil {
				return fmt.Errorf("error assembling raw payload: %w", err)
			}

			bus.RawFiles = []Payload{{Name: "holidays.json", ContentType: "application/json", Data: raw}}
			bus.Records = records
			return nil
		},
	}

	return []Stage{
		download,
		p.exportRawStage(),
		p.cleanStage(),
		p.exportCleanStage(),
		p.loadWarehouseStage(),
	}
}
