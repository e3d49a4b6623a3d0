package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/nickjwilliams1987/MscCompSci-Final-Project/extract"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/transform"
)

// historicHour is one hourly entry of the openweathermap history response.
type historicHour struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp     float64 `json:"temp"`
		Pressure int     `json:"pressure"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Clouds struct {
		All int `json:"all"`
	} `json:"clouds"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Rain map[string]float64 `json:"rain"`
	Snow map[string]float64 `json:"snow"`
}

type historicResponse struct {
	List []historicHour `json:"list"`
}

// historicStages fetches one day of hourly weather per city. The target
// table is date-sharded (historic_yyyymmdd) so re-running a day replaces
// that day's shard; the configured merge query then refreshes the complete
// table, the newest shard winning per city and timestamp.
func (p *Pipeline) historicStages() []Stage {
	download := Stage{
		Name:     "download",
		Requires: []Key{KeySettings, KeyAPIKey},
		Provides: []Key{KeyRawPayload, KeyRecords},
		Begins:   StateFetching,
		Run: func(ctx context.Context, bus *Bus) error {
			if len(bus.Settings.Cities) == 0 {
				return fmt.Errorf("no cities configured in the settings document")
			}

			// Default to the last complete day.
			if bus.RunDate.IsZero() {
				now := bus.StartedAt
				bus.RunDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
			}
			start := bus.RunDate.Unix()

			rawByCity := make(map[string]json.RawMessage, len(bus.Settings.Cities))
			records := []transform.Record{}

			for _, city := range bus.Settings.Cities {
				extra := map[string]string{"start": strconv.FormatInt(start, 10)}
				body, err := p.fetchCityWeather(ctx, bus, city, extra)
				if err != nil {
					return fmt.Errorf("error fetching history for %s: %w", city.Name, err)
				}
				rawByCity[city.Name] = json.RawMessage(body)

				var response historicResponse
				if err := json.Unmarshal(body, &response); err != nil {
					return &extract.FetchError{URL: bus.Settings.Endpoint.URL, Err: fmt.Errorf("malformed JSON response: %w", err)}
				}

				for _, hour := range response.List {
					records = append(records, transform.Record{
						"city":     city.Name,
						"date":     time.Unix(hour.Dt, 0).UTC().Format(time.DateTime),
						"temp":     round1(kelvinToCelsius(hour.Main.Temp)),
						"pressure": hour.Main.Pressure,
						"humidity": hour.Main.Humidity,
						"clouds":   hour.Clouds.All,
						"wind":     hour.Wind.Speed,
						"rain":     hour.Rain["1h"],
						"snow":     hour.Snow["1h"],
					})
				}
			}

			raw, err := json.Marshal(rawByCity)
			if err != nil {
				return fmt.Errorf("error assembling raw payload: %w", err)
			}

			name := fmt.Sprintf("historic_%s.json", bus.RunDate.Format("20060102"))
			bus.RawFiles = []Payload{{Name: name, ContentType: "application/json", Data: raw}}
			bus.Records = records
			return nil
		},
	}

	return []Stage{
		p.apiKeyStage(),
		download,
		p.exportRawStage(),
		p.cleanStage(),
		p.exportCleanStage(),
		p.loadWarehouseStage(),
	}
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
