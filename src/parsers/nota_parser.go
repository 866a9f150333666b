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

// NotaParser reads the trade table of a Brazilian brokerage note exported as
// semicolon-separated text:
//
//	Negociação;C/V;Tipo mercado;Especificação do título;Obs. (*);Quantidade;Preço / Ajuste;Valor Operação / Ajuste;D/C
//
// Numbers use a decimal comma and dot thousands separators. C/V is C (buy)
// or V (sell); an Obs. containing D marks a day trade.
type NotaParser struct{}

func NewNotaParser() *NotaParser {
	return &NotaParser{}
}

const notaColumns = 9

func (p *NotaParser) Parse(file io.Reader) ([]services.LineItemRequest, error) {
	reader := csv.NewReader(file)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("failed to read nota header: %w", err)
	}
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read nota rows: %w", err)
	}

	var items []services.LineItemRequest
	for n, record := range records {
		row := n + 2
		if len(record) < notaColumns {
			continue
		}
		side, err := notaSide(record[1])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		quantity, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(record[5]), ".", ""))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid Quantidade: %w", row, err)
		}
		price, err := parseBRDecimal(record[6])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid Preço: %w", row, err)
		}
		total, err := parseBRDecimal(record[7])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid Valor Operação: %w", row, err)
		}
		obs := strings.TrimSpace(record[4])
		item := services.LineItemRequest{
			AssetCode:    notaAssetCode(record[3]),
			Side:         side,
			Quantity:     quantity,
			UnitPrice:    price,
			TotalValue:   total,
			Observations: obs,
		}
		if obs != "" {
			dayTrade := strings.Contains(strings.ToUpper(obs), "D")
			item.DayTrade = &dayTrade
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, errors.New("nota has no trade rows")
	}
	return items, nil
}

func notaSide(raw string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "C":
		return "BUY", nil
	case "V":
		return "SELL", nil
	}
	return "", fmt.Errorf("invalid C/V value %q", raw)
}

// notaAssetCode keeps the ticker of a title specification such as
// "PETR4 PN N2" or "VALE3 ON NM".
func notaAssetCode(title string) string {
	fields := strings.Fields(title)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// parseBRDecimal parses "1.234,56" style numbers.
func parseBRDecimal(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	return decimal.NewFromString(s)
}
