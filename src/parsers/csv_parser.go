package parsers

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/username/opsledger/src/services"
)

var requiredColumns = []string{"asset_code", "side", "quantity", "unit_price", "total_value"}

// CSVParser reads a headed CSV with one line item per row. Columns are matched
// by name; trade_date, day_trade and observations are optional.
type CSVParser struct{}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(file io.Reader) ([]services.LineItemRequest, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("CSV header is missing column %q", name)
		}
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read all CSV records: %w", err)
	}

	field := func(record []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var items []services.LineItemRequest
	for n, record := range records {
		row := n + 2
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		quantity, err := strconv.Atoi(field(record, "quantity"))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid quantity: %w", row, err)
		}
		price, err := decimal.NewFromString(field(record, "unit_price"))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid unit_price: %w", row, err)
		}
		total, err := decimal.NewFromString(field(record, "total_value"))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid total_value: %w", row, err)
		}
		item := services.LineItemRequest{
			AssetCode:    field(record, "asset_code"),
			Side:         field(record, "side"),
			Quantity:     quantity,
			UnitPrice:    price,
			TotalValue:   total,
			TradeDate:    field(record, "trade_date"),
			Observations: field(record, "observations"),
		}
		if raw := field(record, "day_trade"); raw != "" {
			flag, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid day_trade: %w", row, err)
			}
			item.DayTrade = &flag
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, errors.New("CSV has no line items")
	}
	return items, nil
}
