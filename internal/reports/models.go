package reports

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"token-sale/sale-backend/internal/reports/export"
	"token-sale/sale-backend/internal/sale"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ParseFormat validates a requested format, defaulting to CSV.
func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case "", FormatCSV:
		return FormatCSV, true
	case FormatXLSX, FormatPDF:
		return Format(s), true
	}
	return "", false
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/csv"
	}
}

// InvestorRow is one investor's line in a ledger report.
type InvestorRow struct {
	Investor  string `json:"investor"`
	Spent     string `json:"spent"`
	Entitled  string `json:"entitled"`
	Claimed   string `json:"claimed"`
	Claimable string `json:"claimable"`
	Refunded  bool   `json:"refunded"`
}

// InvestorReport is the investor ledger of a sale. Amounts are rendered in
// whole units of their asset.
type InvestorReport struct {
	SaleID      uuid.UUID     `json:"sale_id"`
	SaleName    string        `json:"sale_name"`
	Phase       sale.Phase    `json:"phase"`
	TotalSpent  string        `json:"total_spent"`
	TotalSold   string        `json:"total_sold"`
	Supplied    string        `json:"supplied"`
	Investors   int           `json:"investors"`
	Canceled    bool          `json:"canceled"`
	Rows        []InvestorRow `json:"rows"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// ExportResult is a rendered report file.
type ExportResult struct {
	FileName    string
	ContentType string
	Data        []byte
}

// SnapshotLink is a time-limited download link for a stored snapshot.
type SnapshotLink struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

var investorColumns = []export.Column{
	{Key: "investor", Label: "Investor"},
	{Key: "spent", Label: "Paid"},
	{Key: "entitled", Label: "Entitled"},
	{Key: "claimed", Label: "Claimed"},
	{Key: "claimable", Label: "Claimable"},
	{Key: "refunded", Label: "Refunded"},
}

// Table converts the report to the exporters' input.
func (r *InvestorReport) Table() *export.Table {
	rows := make([]map[string]interface{}, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = map[string]interface{}{
			"investor":  row.Investor,
			"spent":     row.Spent,
			"entitled":  row.Entitled,
			"claimed":   row.Claimed,
			"claimable": row.Claimable,
			"refunded":  row.Refunded,
		}
	}
	return &export.Table{
		Title:    r.SaleName + " investor ledger",
		Subtitle: r.SaleID.String(),
		Columns:  investorColumns,
		Rows:     rows,
		Summary: []export.SummaryItem{
			{Label: "Phase", Value: string(r.Phase)},
			{Label: "Investors", Value: strconv.Itoa(r.Investors)},
			{Label: "Total paid", Value: r.TotalSpent},
			{Label: "Total sold", Value: r.TotalSold},
			{Label: "Supplied", Value: r.Supplied},
		},
	}
}
