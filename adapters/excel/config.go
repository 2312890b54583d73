package excel

// ExcelConfig describes a long-format impulse table: one row per impulse
// event, grouped into observations by ObservationColumn. Response and
// grouping-factor columns are read from the first row of each observation.
type ExcelConfig struct {
	FilePath          string   `json:"file_path" yaml:"file_path"`
	Sheet             string   `json:"sheet" yaml:"sheet"`
	ObservationColumn string   `json:"observation_column" yaml:"observation_column"`
	TimeDeltaColumn   string   `json:"time_delta_column" yaml:"time_delta_column"`
	ResponseColumn    string   `json:"response_column" yaml:"response_column"`
	ImpulseColumns    []string `json:"impulse_columns" yaml:"impulse_columns"`
	FactorColumns     []string `json:"factor_columns" yaml:"factor_columns"`
}

// DefaultExcelConfig returns sensible defaults for spreadsheet processing
func DefaultExcelConfig() ExcelConfig {
	return ExcelConfig{
		Sheet:             "Sheet1",
		ObservationColumn: "obs",
		TimeDeltaColumn:   "time_delta",
		ResponseColumn:    "y",
	}
}
