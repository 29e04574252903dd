package services

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	cartsSheet   = "Carts"
)

var cartColumns = []struct {
	title string
	width float64
}{
	{"ID", 10},
	{"Email", 32},
	{"Name", 24},
	{"Phone", 18},
	{"State", 12},
	{"Stage", 16},
	{"Items", 8},
	{"Total", 12},
	{"Created", 20},
	{"Abandoned", 20},
	{"Email Sent", 20},
	{"Recovered", 20},
}

// BuildStatsWorkbook renders the stats as a two-sheet workbook. The caller
// must Close the returned file.
func BuildStatsWorkbook(stats *CartStats, location *time.Location) (*excelize.File, error) {
	if location == nil {
		location = time.UTC
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create summary sheet: %w", err)
	}
	if _, err := f.NewSheet(cartsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create carts sheet: %w", err)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})

	// Summary: one row per window
	summaryHeaders := []string{"Window", "Carts", "Recovered", "Recovery Rate (%)", "Total Value", "Recovered Value", "Lost Value"}
	for i, h := range summaryHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(summarySheet, cell, h)
		f.SetCellStyle(summarySheet, cell, cell, headerStyle)
		colName, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(summarySheet, colName, colName, 18)
	}

	windows := []struct {
		name  string
		stats WindowStats
	}{
		{"Today", stats.Today},
		{"Last 7 days", stats.Week},
		{"This month", stats.Month},
		{"Last 30 days", stats.All30},
	}
	for r, w := range windows {
		row := []interface{}{w.name, w.stats.Total, w.stats.Recovered, w.stats.RecoveryRate, w.stats.TotalValue, w.stats.RecoveredValue, w.stats.LostValue}
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			f.SetCellValue(summarySheet, cell, v)
		}
	}

	stageRow := len(windows) + 3
	f.SetCellValue(summarySheet, fmt.Sprintf("A%d", stageRow), "Fresh")
	f.SetCellValue(summarySheet, fmt.Sprintf("B%d", stageRow), stats.Stages.Fresh)
	f.SetCellValue(summarySheet, fmt.Sprintf("A%d", stageRow+1), "Awaiting email")
	f.SetCellValue(summarySheet, fmt.Sprintf("B%d", stageRow+1), stats.Stages.AwaitingEmail)
	f.SetCellValue(summarySheet, fmt.Sprintf("A%d", stageRow+2), "Emailed")
	f.SetCellValue(summarySheet, fmt.Sprintf("B%d", stageRow+2), stats.Stages.Emailed)
	f.SetCellValue(summarySheet, fmt.Sprintf("A%d", stageRow+4), "Generated")
	f.SetCellValue(summarySheet, fmt.Sprintf("B%d", stageRow+4), formatTime(&stats.GeneratedAt, location))

	// Carts: one row per classified cart
	for i, col := range cartColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(cartsSheet, cell, col.title)
		f.SetCellStyle(cartsSheet, cell, cell, headerStyle)
		colName, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(cartsSheet, colName, colName, col.width)
	}

	for r, cart := range stats.Carts {
		createdAt, abandonedAt := cart.CreatedAt, cart.AbandonedAt
		row := []interface{}{
			cart.ID,
			cart.Email,
			cart.Name,
			cart.Phone,
			string(cart.State),
			string(cart.Stage),
			cart.ItemCount,
			cart.Total,
			formatTime(&createdAt, location),
			formatTime(&abandonedAt, location),
			formatTime(cart.RecoveryEmailSentAt, location),
			formatTime(cart.RecoveredAt, location),
		}
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			f.SetCellValue(cartsSheet, cell, v)
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

func formatTime(t *time.Time, location *time.Location) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(location).Format("2006-01-02 15:04")
}
