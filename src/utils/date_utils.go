package utils

import (
	"strings"
	"time"
)

// ISODateFormat is the calendar-date layout used on every extracted record.
const ISODateFormat = "2006-01-02"

var dateLayouts = []string{
	ISODateFormat,
	"2006/01/02",
	"2006.01.02",
	"20060102",
	"2006-1-2",
	"2006/1/2",
	"2006.1.2",
	"2006. 1. 2.",
	"2006. 01. 02",
	"02-01-2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// excelEpoch is day zero of the spreadsheet serial date system (1900 leap-year bug included).
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// ParseDate parses s with the known export layouts. The bool is false when
// no layout matches.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FromExcelSerial converts a spreadsheet serial day number to a date.
func FromExcelSerial(serial float64) (time.Time, bool) {
	if serial < 1 || serial > 2958465 { // 9999-12-31
		return time.Time{}, false
	}
	return excelEpoch.AddDate(0, 0, int(serial)), true
}
