package ingest

import (
	"math"
	"strconv"
	"strings"
)

// State is the lifecycle state a transaction row is tagged with.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoaded   State = "loaded"
)

// Source column names, exactly as they appear in the export header.
const (
	ColDriver                  = "user or driver"
	ColTrailer                 = "trailer"
	ColTrailerVIN              = "trailer_vin"
	ColWashFacility            = "wash_facility"
	ColWashType                = "wash_type"
	ColWashAttendant           = "wash_attendant"
	ColMainSealID              = "main_seal_id"
	ColDrainSealID             = "drain_seal_id"
	ColSealID3                 = "seal_id_3"
	ColSealID4                 = "seal_id_4"
	ColFacility                = "facility"
	ColGradeACert              = "Grade A Cert"
	ColGradeAExp               = "Grade A Exp"
	ColComment                 = "comment"
	ColCommodity               = "commodity"
	ColTimestamp               = "timestamp"
	ColState                   = "state"
	ColLoadBatchID             = "load_batch_id"
	ColBTUNo                   = "BTU No"
	ColBulkSamplerLicense      = "bulk_sampler_license"
	ColBulkSamplerLicenseExp   = "bulk_sampler_license_exp"
	ColTemperature             = "temperature"
	ColStickReading            = "stick_reading"
	ColWeight                  = "weight"
	ColAntibioticTestPositive  = "antibiotic_test_positive"
	ColAntibioticTestResult    = "antibiotic_test_result"
	ColAntibioticTestTimestamp = "antibiotic_test_timestamp"
	ColSanitizer               = "sanitizer"
)

// RequiredColumns lists every column the export must carry.
var RequiredColumns = []string{
	ColDriver, ColTrailer, ColTrailerVIN, ColWashFacility, ColWashType,
	ColWashAttendant, ColMainSealID, ColDrainSealID, ColSealID3, ColSealID4,
	ColFacility, ColGradeACert, ColGradeAExp, ColComment, ColCommodity,
	ColTimestamp, ColState, ColLoadBatchID, ColBTUNo, ColBulkSamplerLicense,
	ColBulkSamplerLicenseExp, ColTemperature, ColStickReading, ColWeight,
	ColAntibioticTestPositive, ColAntibioticTestResult, ColAntibioticTestTimestamp, ColSanitizer,
}

// Row is one data row of the export keyed by header name.
type Row map[string]string

// TransactionRecord is a typed view of one export row. Optional numeric
// readings are nil when the cell was empty or not a number.
type TransactionRecord struct {
	RowNumber int

	LoadBatchID string
	State       State

	DriverName    string
	Trailer       string
	TrailerVIN    string
	WashFacility  string
	WashType      string
	WashAttendant string
	MainSealID    string
	DrainSealID   string
	SealID3       string
	SealID4       string
	Facility      string
	GradeACert    string
	GradeAExp     string
	Comment       string
	Commodity     string
	Timestamp     string
	BTUNo         string

	BulkSamplerLicense    string
	BulkSamplerLicenseExp string

	Temperature  *float64
	StickReading *float64
	Weight       *float64

	AntibioticTestPositive  string
	AntibioticTestResult    string
	AntibioticTestTimestamp string
	Sanitizer               string
}

// ParseState maps a raw state cell to a known State. Only the exact
// lowercase values match; anything else is not a known state.
func ParseState(raw string) (State, bool) {
	switch State(raw) {
	case StateUnloaded:
		return StateUnloaded, true
	case StateLoaded:
		return StateLoaded, true
	}
	return "", false
}

// Normalize converts a raw row into a TransactionRecord. The second return
// value is false for rows that carry no recognized state or no batch id;
// those rows are not part of any ticket and are dropped.
func Normalize(rowNumber int, row Row) (TransactionRecord, bool) {
	state, ok := ParseState(row[ColState])
	if !ok {
		return TransactionRecord{}, false
	}
	batchID := cleanText(row[ColLoadBatchID])
	if batchID == "" {
		return TransactionRecord{}, false
	}

	return TransactionRecord{
		RowNumber:   rowNumber,
		LoadBatchID: batchID,
		State:       state,

		DriverName:    cleanText(row[ColDriver]),
		Trailer:       cleanText(row[ColTrailer]),
		TrailerVIN:    cleanText(row[ColTrailerVIN]),
		WashFacility:  cleanText(row[ColWashFacility]),
		WashType:      cleanText(row[ColWashType]),
		WashAttendant: cleanText(row[ColWashAttendant]),
		MainSealID:    cleanText(row[ColMainSealID]),
		DrainSealID:   cleanText(row[ColDrainSealID]),
		SealID3:       cleanText(row[ColSealID3]),
		SealID4:       cleanText(row[ColSealID4]),
		Facility:      cleanText(row[ColFacility]),
		GradeACert:    cleanText(row[ColGradeACert]),
		GradeAExp:     cleanText(row[ColGradeAExp]),
		Comment:       cleanText(row[ColComment]),
		Commodity:     cleanText(row[ColCommodity]),
		Timestamp:     cleanText(row[ColTimestamp]),
		BTUNo:         cleanText(row[ColBTUNo]),

		// License keeps its raw text; null-like values are resolved when
		// the ticket is built.
		BulkSamplerLicense:    strings.TrimSpace(row[ColBulkSamplerLicense]),
		BulkSamplerLicenseExp: cleanText(row[ColBulkSamplerLicenseExp]),

		Temperature:  parseNumber(row[ColTemperature]),
		StickReading: parseNumber(row[ColStickReading]),
		Weight:       parseNumber(row[ColWeight]),

		AntibioticTestPositive:  cleanText(row[ColAntibioticTestPositive]),
		AntibioticTestResult:    cleanText(row[ColAntibioticTestResult]),
		AntibioticTestTimestamp: cleanText(row[ColAntibioticTestTimestamp]),
		Sanitizer:               cleanText(row[ColSanitizer]),
	}, true
}

// IsNullLike reports whether a cell holds one of the placeholders exports
// use for an empty value.
func IsNullLike(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "nan", "none", "null", "nat", "n/a":
		return true
	}
	return false
}

func cleanText(v string) string {
	if IsNullLike(v) {
		return ""
	}
	return strings.TrimSpace(v)
}

func parseNumber(v string) *float64 {
	if IsNullLike(v) {
		return nil
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", ""), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	return &n
}
