package excel

// RowData represents one data row as header-keyed string values
type RowData map[string]string

// TableData represents a parsed tabular file
type TableData struct {
	Headers []string
	Rows    []RowData
}
