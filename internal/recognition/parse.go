package recognition

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// parseManifestJSON parses a model's text response into ManifestData.
// Models wrap JSON in markdown fences or prose despite instructions, so
// parsing is lenient: fences are stripped and the payload is the span from
// the first '{' to the last '}'.
func parseManifestJSON(text string) (*ManifestData, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var data ManifestData
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data.ManifestNo = strings.TrimSpace(data.ManifestNo)
	data.ManifestDate = normalizeDate(data.ManifestDate)

	for i := range data.Items {
		item := &data.Items[i]
		item.SlNo = i + 1
		item.SerialNo = strings.TrimSpace(item.SerialNo)
		item.Description = strings.TrimSpace(item.Description)
		if !strings.EqualFold(item.Type, "Document") {
			item.Type = "Parcel"
		} else {
			item.Type = "Document"
		}
		if item.Weight < 0 {
			item.Weight = 0
		}
	}

	return &data, nil
}

// normalizeDate coerces a model-reported date to YYYY-MM-DD, trying common
// source formats and defaulting to today when nothing parses.
func normalizeDate(date string) string {
	date = strings.TrimSpace(date)
	if date == "" {
		return time.Now().Format("2006-01-02")
	}
	if parsed, err := time.Parse("2006-01-02", date); err == nil {
		return parsed.Format("2006-01-02")
	}
	formats := []string{
		"2006/01/02",
		"02/01/2006",
		"01/02/2006",
		"02-01-2006",
	}
	for _, format := range formats {
		if parsed, err := time.Parse(format, date); err == nil {
			return parsed.Format("2006-01-02")
		}
	}
	return time.Now().Format("2006-01-02")
}
