package tickets

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"milk-ticket-backend/internal/ingest"
	"milk-ticket-backend/internal/models"
	"milk-ticket-backend/internal/services/grouping"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	UnknownLicense       = "UNKNOWN"
	UnknownBTU           = "UNKNOWN"
	UnknownFacility      = "Unknown Facility"
	EmptyAntibioticValue = "- 0 nf"
)

var (
	ErrInvalidTimestamp = errors.New("invalid unloading timestamp")
	ErrInvalidTicket    = errors.New("invalid ticket")
)

// Builder turns grouped rows into MilkTicket aggregates.
type Builder struct {
	ReceivingPlant         string
	ReceivingPlantLocation string
	// Now stamps pickups whose row has no timestamp. Defaults to time.Now.
	Now func() time.Time

	validate *validator.Validate
}

func NewBuilder(plant, location string) *Builder {
	if plant == "" {
		plant = models.DefaultReceivingPlant
	}
	if location == "" {
		location = models.DefaultReceivingPlantLocation
	}
	return &Builder{
		ReceivingPlant:         plant,
		ReceivingPlantLocation: location,
		Now:                    time.Now,
		validate:               validator.New(),
	}
}

// Build creates an unsaved ticket for one batch. Errors concern this batch
// only; callers skip it and carry on with the next one.
func (b *Builder) Build(g grouping.Group) (*models.MilkTicket, error) {
	anchor := g.Anchor

	ts, err := ingest.ParseTimestamp(anchor.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: batch %s row %d: %v", ErrInvalidTimestamp, g.LoadBatchID, anchor.RowNumber, err)
	}

	importedAt := b.now()
	pickups := make([]models.Pickup, 0, len(g.Loaded))
	for _, rec := range g.Loaded {
		pickups = append(pickups, PickupFromRecord(rec, importedAt))
	}
	encoded, err := models.EncodePickups(pickups)
	if err != nil {
		return nil, fmt.Errorf("encode pickups for batch %s: %w", g.LoadBatchID, err)
	}

	ticket := &models.MilkTicket{
		LoadBatchID:            g.LoadBatchID,
		DriverName:             anchor.DriverName,
		Facility:               orDefault(anchor.Facility, UnknownFacility),
		BulkSamplerLicense:     CleanLicense(anchor.BulkSamplerLicense),
		BTUNo:                  orDefault(anchor.BTUNo, UnknownBTU),
		AntibioticTestResult:   FormatAntibioticResult(anchor.AntibioticTestResult),
		Timestamp:              ts,
		ReceivingPlant:         b.ReceivingPlant,
		ReceivingPlantLocation: b.ReceivingPlantLocation,
		FarmPickups:            encoded,
		TotalConvertedPounds:   TotalPounds(pickups),
		Processed:              false,
		Temperature:            anchor.Temperature,
	}

	if err := b.validator().Struct(ticket); err != nil {
		return nil, fmt.Errorf("%w: batch %s: %v", ErrInvalidTicket, g.LoadBatchID, err)
	}
	return ticket, nil
}

func (b *Builder) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

func (b *Builder) validator() *validator.Validate {
	if b.validate == nil {
		b.validate = validator.New()
	}
	return b.validate
}

// PickupFromRecord converts one loaded row into a pickup line. Missing
// readings become zero and a missing timestamp becomes importedAt.
func PickupFromRecord(rec ingest.TransactionRecord, importedAt time.Time) models.Pickup {
	dateTime := ingest.DisplayTimestamp(rec.Timestamp)
	if ingest.IsNullLike(rec.Timestamp) {
		dateTime = importedAt.Format(ingest.DisplayLayout)
	}
	return models.Pickup{
		ProducerNumber:  ProducerNumber(rec.Facility),
		ConvertedPounds: valueOrZero(rec.Weight),
		GaugeRod:        valueOrZero(rec.StickReading),
		Temp:            valueOrZero(rec.Temperature),
		DateTime:        dateTime,
	}
}

// ProducerNumber is the first three characters of a facility code. Shorter
// codes are returned unchanged, without padding.
func ProducerNumber(facility string) string {
	if utf8.RuneCountInString(facility) <= 3 {
		return facility
	}
	return string([]rune(facility)[:3])
}

// CleanLicense replaces a missing license with UNKNOWN.
func CleanLicense(raw string) string {
	if ingest.IsNullLike(raw) {
		return UnknownLicense
	}
	return strings.TrimSpace(raw)
}

// FormatAntibioticResult renders a negative lab result as "-<value> nf".
func FormatAntibioticResult(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return EmptyAntibioticValue
	}
	if !strings.HasPrefix(v, "-") {
		v = "-" + v
	}
	v = strings.TrimSpace(strings.ReplaceAll(v, "nf", ""))
	return v + " nf"
}

// TotalPounds sums pickup quantities.
func TotalPounds(pickups []models.Pickup) float64 {
	total := decimal.Zero
	for _, p := range pickups {
		total = total.Add(decimal.NewFromFloat(p.ConvertedPounds))
	}
	return total.InexactFloat64()
}

// TankWeightID is the label shown next to the tank reading: the last seven
// characters of the facility followed by the temperature.
func TankWeightID(t *models.MilkTicket) string {
	if t == nil {
		return ""
	}
	facility := []rune(t.Facility)
	if len(facility) > 7 {
		facility = facility[len(facility)-7:]
	}
	temp := ""
	if t.Temperature != nil {
		temp = decimal.NewFromFloat(*t.Temperature).String()
	}
	return string(facility) + " " + temp
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
