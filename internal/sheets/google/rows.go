package google

import (
	"fmt"
	"strings"

	"dealbook/internal/core"
)

const (
	dateLayout = "2006-01-02 15:04:05"
	lastColumn = "I"
)

var header = []any{"ID", "Date (UTC)", "USDT", "Buy commission %", "Buy amount", "Sell commission %", "Sell amount", "Profit", "User"}

// dealRow encodes a deal as the values of columns A..I.
func dealRow(d core.Deal) []any {
	return []any{
		d.ID,
		d.DealDate.UTC().Format(dateLayout),
		d.USDT.String(),
		d.BuyCommission.String(),
		d.BuyAmount.StringFixed(2),
		d.SellCommission.String(),
		d.SellAmount.StringFixed(2),
		d.Profit().StringFixed(2),
		d.UserID,
	}
}

// indexRows maps the IDs in column A to their 1-based sheet rows and reports
// whether row 1 is the header.
func indexRows(values [][]any) (map[string]int, bool) {
	rows := make(map[string]int, len(values))
	hasHeader := false
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		v := strings.TrimSpace(fmt.Sprint(row[0]))
		if v == "" {
			continue
		}
		if i == 0 && v == header[0] {
			hasHeader = true
			continue
		}
		rows[v] = i + 1
	}
	return rows, hasHeader
}

// nextRow is the first row after the used range of column A.
func nextRow(values [][]any) int {
	return len(values) + 1
}

func rowRange(sheet string, row int) string {
	return fmt.Sprintf("%s!A%d:%s%d", sheet, row, lastColumn, row)
}
