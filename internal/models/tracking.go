package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NewTrackingID builds the caller-side identifier {productId}_{epochMillis}_{chatId}
func NewTrackingID(productID string, at time.Time, chatID int64) string {
	return fmt.Sprintf("%s_%d_%d", productID, at.UnixMilli(), chatID)
}

// ParseTrackingID splits a tracking id into product and chat id.
// Product ids may themselves contain underscores, so the id is parsed from the right.
func ParseTrackingID(trackingID string) (productID string, chatID int64, err error) {
	parts := strings.Split(trackingID, "_")
	if len(parts) < 3 {
		return "", 0, fmt.Errorf("malformed tracking id %q", trackingID)
	}

	chatID, err = strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed chat id in tracking id %q: %w", trackingID, err)
	}
	if _, err := strconv.ParseInt(parts[len(parts)-2], 10, 64); err != nil {
		return "", 0, fmt.Errorf("malformed timestamp in tracking id %q: %w", trackingID, err)
	}

	productID = strings.Join(parts[:len(parts)-2], "_")
	if productID == "" {
		return "", 0, fmt.Errorf("empty product id in tracking id %q", trackingID)
	}
	return productID, chatID, nil
}
