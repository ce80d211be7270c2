package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const DisplayLayout = "2006-01-02 15:04:05"

var timestampLayouts = []string{
	DisplayLayout,
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
	"1/2/06 15:04",
	"01-02-06 15:04",
	"2006-01-02",
	"01/02/2006",
}

// ParseTimestamp reads a timestamp cell. Text cells are tried against the
// layouts seen in exports; bare numbers are treated as Excel serial dates.
func ParseTimestamp(raw string) (time.Time, error) {
	v := strings.TrimSpace(raw)
	if IsNullLike(v) {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	if serial, err := strconv.ParseFloat(v, 64); err == nil && serial > 0 {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return t.Round(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// DisplayTimestamp formats a timestamp cell for pickup lines, falling back
// to the raw text when it cannot be parsed.
func DisplayTimestamp(raw string) string {
	t, err := ParseTimestamp(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return t.Format(DisplayLayout)
}
