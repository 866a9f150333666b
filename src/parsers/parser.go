// Package parsers reads broker trade-confirmation exports into line item
// requests for the invoice intake.
package parsers

import (
	"fmt"
	"io"
	"strings"

	"github.com/username/opsledger/src/services"
)

type Parser interface {
	Parse(file io.Reader) ([]services.LineItemRequest, error)
}

func GetParser(source string) (Parser, error) {
	switch strings.ToLower(source) {
	case "", "csv":
		return NewCSVParser(), nil
	case "nota":
		return NewNotaParser(), nil
	default:
		return nil, fmt.Errorf("no parser available for source: %s", source)
	}
}
