package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nickjwilliams1987/MscCompSci-Final-Project/config"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/extract"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/transform"
)

// forecastDay is one daily entry of the openweathermap climate forecast.
// Temperatures arrive in Kelvin; rain and snow are absent on dry days.
type forecastDay struct {
	Dt   int64 `json:"dt"`
	Temp struct {
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	} `json:"temp"`
	Pressure int      `json:"pressure"`
	Humidity int      `json:"humidity"`
	Clouds   int      `json:"clouds"`
	Speed    float64  `json:"speed"`
	Rain     *float64 `json:"rain"`
	Snow     *float64 `json:"snow"`
}

type forecastResponse struct {
	List []forecastDay `json:"list"`
}

// forecastStages fetches the daily climate forecast for every configured
// city and reshapes it to one record per city and day.
func (p *Pipeline) forecastStages() []Stage {
	download := Stage{
		Name:     "download",
		Requires: []Key{KeySettings, KeyAPIKey},
		Provides: []Key{KeyRawPayload, KeyRecords},
		Begins:   StateFetching,
		Run: func(ctx context.Context, bus *Bus) error {
			if len(bus.Settings.Cities) == 0 {
				return fmt.Errorf("no cities configured in the settings document")
			}

			rawByCity := make(map[string]json.RawMessage, len(bus.Settings.Cities))
			records := []transform.Record{}

			for _, city := range bus.Settings.Cities {
				body, err := p.fetchCityWeather(ctx, bus, city, nil)
				if err != nil {
					return fmt.Errorf("error fetching forecast for %s: %w", city.Name, err)
				}
				rawByCity[city.Name] = json.RawMessage(body)

				var response forecastResponse
				if err := json.Unmarshal(body, &response); err != nil {
					return &extract.FetchError{URL: bus.Settings.Endpoint.URL, Err: fmt.Errorf("malformed JSON response: %w", err)}
				}

				for _, day := range response.List {
					records = append(records, transform.Record{
						"city":     city.Name,
						"date":     time.Unix(day.Dt, 0).UTC().Format(time.DateOnly),
						"min_temp": kelvinToCelsius(day.Temp.Min),
						"max_temp": kelvinToCelsius(day.Temp.Max),
						"pressure": day.Pressure,
						"humidity": day.Humidity,
						"clouds":   day.Clouds,
						"wind":     day.Speed,
						"rain":     orZero(day.Rain),
						"snow":     orZero(day.Snow),
					})
				}
			}

			raw, err := json.Marshal(rawByCity)
			if err != nil {
				return fmt.Errorf("error assembling raw payload: %w", err)
			}

			bus.RawFiles = []Payload{{Name: "forecast.json", ContentType: "application/json", Data: raw}}
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

// fetchCityWeather expands the endpoint template for one city, appends the
// API key and any extra query values, and fetches the document.
func (p *Pipeline) fetchCityWeather(ctx context.Context, bus *Bus, city config.City, extraParams map[string]string) ([]byte, error) {
	params := map[string]string{
		"lat": strconv.FormatFloat(city.Lat, 'f', -1, 64),
		"lon": strconv.FormatFloat(city.Lon, 'f', -1, 64),
	}
	for k, v := range bus.Settings.Endpoint.Params {
		params[k] = v
	}
	for k, v := range extraParams {
		params[k] = v
	}

	url, err := extract.ExpandURL(bus.Settings.Endpoint.URL, params)
	if err != nil {
		return nil, err
	}
	url, err = extract.WithQuery(url, map[string]string{"appid": bus.APIKey})
	if err != nil {
		return nil, err
	}

	return p.Client.Get(ctx, url)
}

func kelvinToCelsius(k float64) float64 {
	return k - 273.15
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
