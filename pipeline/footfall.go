package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/sourcegraph/conc/iter"

	"github.com/nickjwilliams1987/MscCompSci-Final-Project/extract"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/transform"
)

// footfallIndex is the open-data portal's listing of downloadable resources.
type footfallIndex struct {
	Resources map[string]struct {
		Format string `json:"format"`
		URL    string `json:"url"`
	} `json:"resources"`
}

// footfallFile pairs a resource key with the file it points at.
type footfallFile struct {
	key  string
	name string
}

var hourPattern = regexp.MustCompile(`^([0-9]{1,2})(?:\.|:|$)`)

// footfallStages downloads every CSV resource the portal index lists
// (minus the configured exclusions) and reshapes each file to one record
// per location and hour. The files span years of ad-hoc publishing, so
// column names and hour formats vary; the preferred-column lists in the
// settings document resolve the naming drift.
func (p *Pipeline) footfallStages() []Stage {
	download := Stage{
		Name:     "download",
		Requires: []Key{KeySettings},
		Provides: []Key{KeyRawPayload, KeyRecords},
		Begins:   StateFetching,
		Run: func(ctx context.Context, bus *Bus) error {
			var index footfallIndex
			if err := p.Client.GetJSON(ctx, bus.Settings.Endpoint.URL, &index); err != nil {
				return fmt.Errorf("error fetching resource index: %w", err)
			}

			var files []footfallFile
			for key, resource := range index.Resources {
				if resource.Format != "csv" {
					continue
				}
				segments := strings.Split(resource.URL, "/")
				name := segments[len(segments)-1]
				if slices.Contains(bus.Settings.ExcludeFiles, name) {
					continue
				}
				files = append(files, footfallFile{key: key, name: name})
			}
			// Map order is random; keep runs reproducible.
			sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })

			mapper := iter.Mapper[footfallFile, []byte]{MaxGoroutines: 8}
			payloads, err := mapper.MapErr(files, func(file *footfallFile) ([]byte, error) {
				url, err := extract.ExpandURL(bus.Settings.DownloadURL, map[string]string{
					"key":       file.key,
					"file_name": file.name,
				})
				if err != nil {
					return nil, err
				}
				body, err := p.Client.Get(ctx, url)
				if err != nil {
					return nil, fmt.Errorf("error downloading %s: %w", file.name, err)
				}
				return body, nil
			})
			if err != nil {
				return err
			}

			records := []transform.Record{}
			for i, body := range payloads {
				// Filenames carry web-address encoding.
				name := strings.ReplaceAll(files[i].name, "%20", "_")
				bus.RawFiles = append(bus.RawFiles, Payload{
					Name:        name,
					ContentType: "text/csv",
					Data:        body,
				})

				fileRecords, err := p.reshapeFootfallFile(bus, name, body)
				if err != nil {
					return err
				}
				records = append(records, fileRecords...)
			}

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

// reshapeFootfallFile turns one raw portal CSV into records with the output
// field names. Rows without an hour value are daily totals, not hourly
// counts, and are skipped; rows with an unparseable date or hour are left
// for the clean stage's mode to deal with.
func (p *Pipeline) reshapeFootfallFile(bus *Bus, name string, body []byte) ([]transform.Record, error) {
	frame, err := transform.FrameFromCSV(body)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", name, err)
	}

	footfallCol := preferredColumn(frame.Columns, bus.Settings.PreferredFootfallColumns)
	locationCol := preferredColumn(frame.Columns, bus.Settings.PreferredLocationColumns)
	if footfallCol == "" || locationCol == "" {
		return nil, fmt.Errorf("%s: no usable footfall/location column among %v", name, frame.Columns)
	}
	// Date and Hour have kept their names across every published file; a
	// rename should fail the run, not quietly produce zero records.
	if !slices.Contains(frame.Columns, "Date") || !slices.Contains(frame.Columns, "Hour") {
		return nil, fmt.Errorf("%s: no Date/Hour column among %v", name, frame.Columns)
	}

	var records []transform.Record
	for i := range frame.Rows {
		hour, ok := cleanHour(frame.Cell(i, "Hour"))
		if !ok {
			continue
		}

		location := strings.TrimSpace(frame.Cell(i, locationCol))
		count := strings.TrimSpace(frame.Cell(i, footfallCol))
		date := strings.TrimSpace(frame.Cell(i, "Date"))
		if location == "" || count == "" || date == "" {
			continue
		}

		record := transform.Record{
			"city":              bus.Settings.City,
			"footfall_location": location,
			"total_footfall":    count,
		}

		if t, err := transform.ParseTime(date); err == nil {
			record["timestamp"] = t.Format(time.DateOnly) + " " + hour
		} else {
			// Leave the raw value for the clean stage to reject per mode.
			record["timestamp"] = date + " " + hour
		}

		records = append(records, record)
	}

	return records, nil
}

// preferredColumn returns the first candidate present in columns.
// "Unnamed: N" columns from spreadsheet exports are never considered.
func preferredColumn(columns []string, candidates []string) string {
	for _, candidate := range candidates {
		for _, col := range columns {
			if strings.Contains(strings.ToLower(col), "unnamed") {
				continue
			}
			if col == candidate {
				return col
			}
		}
	}
	return ""
}

// cleanHour normalizes the portal's hour formats (H, HH, HH:MM, H.5) to
// HH:00:00. An empty or unrecognized value reports ok=false.
func cleanHour(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	match := hourPattern.FindStringSubmatch(raw)
	if match == nil {
		return "", false
	}
	hour := match[1]
	if len(hour) == 1 {
		hour = "0" + hour
	}
	return hour + ":00:00", true
}
