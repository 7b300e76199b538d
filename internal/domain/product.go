package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RawProduct is one catalog listing as decoded from the feed, before validation.
type RawProduct map[string]any

// ForecastProduct is a validated catalog listing. The payload fields are
// carried through to the broker unmodified.
type ForecastProduct struct {
	URI             string    `json:"@id,omitempty"`
	ID              string    `json:"id"`
	WMOCollectiveID string    `json:"wmoCollectiveId"`
	IssuingOffice   string    `json:"issuingOffice"`
	IssuanceTime    time.Time `json:"issuanceTime"`
	ProductCode     string    `json:"productCode"`
	ProductName     string    `json:"productName"`
}

// DeliveryTTL is how long a delivered product id is remembered.
const DeliveryTTL = 7 * 24 * time.Hour

// Serialize encodes a product as the JSON body used for broker messages and
// delivery records.
func Serialize(p ForecastProduct) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("serialize forecast product %s: %w", p.ID, err)
	}
	return data, nil
}
