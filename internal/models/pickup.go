package models

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// Pickup is a single farm collection that contributed milk to a ticket.
// The JSON keys match the column headings printed on paper tickets.
type Pickup struct {
	ProducerNumber  string  `json:"Producer Number"`
	ConvertedPounds float64 `json:"Converted Pounds"`
	GaugeRod        float64 `json:"Gauge Rod"`
	Temp            float64 `json:"Temp"`
	DateTime        string  `json:"Date & Time"`
}

// EncodePickups serializes pickups for storage on a MilkTicket.
func EncodePickups(pickups []Pickup) (datatypes.JSON, error) {
	if pickups == nil {
		pickups = []Pickup{}
	}
	raw, err := json.Marshal(pickups)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
