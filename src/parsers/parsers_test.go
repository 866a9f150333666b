package parsers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVParser(t *testing.T) {
	input := `asset_code,side,quantity,unit_price,total_value,trade_date,day_trade,observations
PETR4,BUY,100,30.50,3050.00,2024-03-01,,
VALE3,SELL,10,60.00,600.00,,true,DT
`
	items, err := NewCSVParser().Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "PETR4", items[0].AssetCode)
	assert.Equal(t, "2024-03-01", items[0].TradeDate)
	assert.Nil(t, items[0].DayTrade)
	assert.Equal(t, "3050", items[0].TotalValue.String())
	require.NotNil(t, items[1].DayTrade)
	assert.True(t, *items[1].DayTrade)
	assert.Equal(t, "DT", items[1].Observations)
}

func TestCSVParserErrors(t *testing.T) {
	_, err := NewCSVParser().Parse(strings.NewReader("asset_code,side\nPETR4,BUY\n"))
	assert.ErrorContains(t, err, `missing column "quantity"`)

	_, err = NewCSVParser().Parse(strings.NewReader("asset_code,side,quantity,unit_price,total_value\nPETR4,BUY,ten,1,10\n"))
	assert.ErrorContains(t, err, "row 2: invalid quantity")

	_, err = NewCSVParser().Parse(strings.NewReader("asset_code,side,quantity,unit_price,total_value\n"))
	assert.ErrorContains(t, err, "no line items")
}

func TestNotaParser(t *testing.T) {
	input := "Negociação;C/V;Tipo mercado;Especificação do título;Obs. (*);Quantidade;Preço / Ajuste;Valor Operação / Ajuste;D/C\n" +
		"1-BOVESPA;C;VISTA;PETR4 PN N2;;1.000;30,50;30.500,00;D\n" +
		"1-BOVESPA;V;VISTA;VALE3 ON NM;D;10;60,00;600,00;C\n"
	items, err := NewNotaParser().Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "PETR4", items[0].AssetCode)
	assert.Equal(t, "BUY", items[0].Side)
	assert.Equal(t, 1000, items[0].Quantity)
	assert.Equal(t, "30.5", items[0].UnitPrice.String())
	assert.Equal(t, "30500", items[0].TotalValue.String())
	assert.Nil(t, items[0].DayTrade)
	assert.Equal(t, "SELL", items[1].Side)
	require.NotNil(t, items[1].DayTrade)
	assert.True(t, *items[1].DayTrade)

	_, err = NewNotaParser().Parse(strings.NewReader("h\n1;X;VISTA;PETR4;;1;1,00;1,00;D\n"))
	assert.ErrorContains(t, err, "invalid C/V")
}

func TestGetParser(t *testing.T) {
	p, err := GetParser("nota")
	require.NoError(t, err)
	assert.IsType(t, &NotaParser{}, p)
	_, err = GetParser("degiro")
	assert.Error(t, err)
}
