package model

import (
	"fmt"
	"strings"
)

// Category is a label assigned to a message by the classifier.
type Category string

const (
	CategoryInterested    Category = "INTERESTED"
	CategoryMeetingBooked Category = "MEETING_BOOKED"
	CategoryNotInterested Category = "NOT_INTERESTED"
	CategorySpam          Category = "SPAM"
	CategoryOutOfOffice   Category = "OUT_OF_OFFICE"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryInterested,
	CategoryMeetingBooked,
	CategoryNotInterested,
	CategorySpam,
	CategoryOutOfOffice,
}

// Valid reports whether c is one of the fixed labels.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory normalizes s and validates it against the label set.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}
