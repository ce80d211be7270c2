package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	DefaultReceivingPlant         = "Cedar Grove Cheese Inc."
	DefaultReceivingPlantLocation = "Plain, WI"
)

// MilkTicket is one unloading event together with the farm pickups that
// filled the load. ID is assigned by the store and doubles as arrival order.
type MilkTicket struct {
	ID                     uint           `gorm:"primaryKey" json:"id"`
	LoadBatchID            string         `gorm:"size:100;not null;uniqueIndex" json:"load_batch_id" validate:"required"`
	DriverName             string         `gorm:"size:100;not null" json:"driver_name" validate:"required"`
	Facility               string         `gorm:"size:100;not null" json:"facility"`
	BulkSamplerLicense     string         `gorm:"size:50;not null" json:"bulk_sampler_license"`
	BTUNo                  string         `gorm:"column:btu_no;size:50" json:"btu_no"`
	AntibioticTestResult   string         `gorm:"size:100" json:"antibiotic_test_result"`
	Timestamp              time.Time      `gorm:"not null" json:"timestamp"`
	ReceivingPlant         string         `gorm:"size:100;not null;default:'Cedar Grove Cheese Inc.'" json:"receiving_plant"`
	ReceivingPlantLocation string         `gorm:"size:100;not null;default:'Plain, WI'" json:"receiving_plant_location"`
	FarmPickups            datatypes.JSON `json:"farm_pickups"`
	TotalConvertedPounds   float64        `gorm:"not null" json:"total_converted_pounds"`
	Processed              bool           `gorm:"index;not null;default:false" json:"processed"`
	Temperature            *float64       `json:"temperature"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

// Pickups decodes the embedded farm pickup list.
func (t *MilkTicket) Pickups() ([]Pickup, error) {
	if len(t.FarmPickups) == 0 {
		return []Pickup{}, nil
	}
	var pickups []Pickup
	if err := json.Unmarshal(t.FarmPickups, &pickups); err != nil {
		return nil, err
	}
	return pickups, nil
}
