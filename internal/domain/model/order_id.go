package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"course-payment-sync/internal/domain"
)

// DefaultOrderPrefixes are the prefix tokens accepted when none are configured.
var DefaultOrderPrefixes = []string{"C", "COURSE"}

// OrderID is the decomposed form of {prefix}_{userId}_{courseId}_{timestamp}.
// User and course ids must not contain underscores; the timestamp is decimal.
type OrderID struct {
	Prefix    string
	UserID    string
	CourseID  string
	Timestamp int64
}

func (o OrderID) String() string {
	return fmt.Sprintf("%s_%s_%s_%d", o.Prefix, o.UserID, o.CourseID, o.Timestamp)
}

// NewOrderID builds an order id for a checkout started at t.
func NewOrderID(prefix, userID, courseID string, t time.Time) (OrderID, error) {
	o := OrderID{Prefix: prefix, UserID: userID, CourseID: courseID, Timestamp: t.UnixMilli()}
	if _, err := ParseOrderID(o.String(), []string{prefix}); err != nil {
		return OrderID{}, err
	}
	return o, nil
}

// ParseOrderID validates raw strictly against the canonical encoding.
// An empty prefixes list means DefaultOrderPrefixes.
func ParseOrderID(raw string, prefixes []string) (OrderID, error) {
	if len(prefixes) == 0 {
		prefixes = DefaultOrderPrefixes
	}
	parts := strings.Split(raw, "_")
	if len(parts) != 4 {
		return OrderID{}, fmt.Errorf("%w: %q has %d segments", domain.ErrMalformedOrderID, raw, len(parts))
	}
	if parts[0] == "" || !containsToken(prefixes, parts[0]) {
		return OrderID{}, fmt.Errorf("%w: unknown prefix %q", domain.ErrMalformedOrderID, parts[0])
	}
	if parts[1] == "" || parts[2] == "" {
		return OrderID{}, fmt.Errorf("%w: empty user or course segment", domain.ErrMalformedOrderID)
	}
	ts, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || ts < 0 {
		return OrderID{}, fmt.Errorf("%w: bad timestamp %q", domain.ErrMalformedOrderID, parts[3])
	}
	return OrderID{Prefix: parts[0], UserID: parts[1], CourseID: parts[2], Timestamp: ts}, nil
}

func containsToken(tokens []string, s string) bool {
	for _, t := range tokens {
		if t == s {
			return true
		}
	}
	return false
}
