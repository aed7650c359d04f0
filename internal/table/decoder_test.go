package table

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const powerHeader = "Power Volt Curr Tempr Tlow Thigh Vlow Vhigh Base.St Volt.St Curr.St Temp.St Coulomb Time B.V.St B.T.St MosTempr M.T.St"

func tokenRow(power int, coulomb string) string {
	return fmt.Sprintf("%d 49900 -1200 23100 22100 23300 3322 3330 Dischg Normal Normal Normal %s 2024-05-01 12:30:00 Normal Normal 24100 Normal", power, coulomb)
}

const absentTokenRow = "2 - - - - - - - Absent - - - - - - - - -"

var fixedWidths = []int{6, 7, 7, 7, 7, 7, 7, 7, 9, 9, 9, 9, 9, 21, 9, 9, 9, 9}

// fixedLine pads cells to the console's column widths.
func fixedLine(cells ...string) string {
	var b strings.Builder
	for i, c := range cells {
		fmt.Fprintf(&b, "%-*s", fixedWidths[i], c)
	}
	return b.String()
}

func fixedTable(rows ...[]string) string {
	lines := []string{fixedLine(PowerSchema().Columns...)}
	for _, r := range rows {
		lines = append(lines, fixedLine(r...))
	}
	return strings.Join(lines, "\r\n")
}

func fixedBattery(power, volt, coulomb string) []string {
	return []string{power, volt, "-1200", "23100", "22100", "23300", "3322", "3330",
		"Dischg", "Normal", "Normal", "Normal", coulomb, "2024-05-01 12:30:00",
		"Normal", "Normal", "24100", "Normal"}
}

func fixedAbsent(slot string) []string {
	cells := make([]string, len(fixedWidths))
	for i := range cells {
		cells[i] = "-"
	}
	cells[0] = slot
	cells[8] = "Absent"
	return cells
}

func TestDecode_Tokens(t *testing.T) {
	payload := strings.Join([]string{powerHeader, tokenRow(1, "86%"), absentTokenRow, tokenRow(3, "1234X")}, "\n")

	report, err := New(Tokens(PowerSchema())).Decode(payload)
	require.NoError(t, err)
	require.Len(t, report, 2)

	first := report[0]
	for col, want := range map[string]int{
		"Power": 1, "Volt": 49900, "Curr": -1200, "Tempr": 23100, "Tlow": 22100,
		"Thigh": 23300, "Vlow": 3322, "Vhigh": 3330, "Coulomb": 86, "MosTempr": 24100,
	} {
		got, ok := first.Int(col)
		assert.True(t, ok, col)
		assert.Equal(t, want, got, col)
	}
	assert.Equal(t, "Dischg", first.String("Base.St"))
	assert.Equal(t, "2024-05-01 12:30:00", first.String("Time"))
	assert.Equal(t, PowerSchema().Columns, first.Columns())

	power, _ := report[1].Int("Power")
	assert.Equal(t, 3, power, "absent row must not shift later rows")
	coulomb, _ := report[1].Int("Coulomb")
	assert.Equal(t, 1234, coulomb)
}

func TestDecode_EndToEndPayload(t *testing.T) {
	payload := powerHeader + "\n" +
		"100 500 -1200 23100 22100 23300 3322 3330 Normal Normal Normal Normal 86% 2024-05-01 12:30:00 Normal Normal 24100 Normal"

	report, err := New(Tokens(PowerSchema())).Decode(payload)
	require.NoError(t, err)
	require.Len(t, report, 1)

	power, _ := report[0].Int("Power")
	volt, _ := report[0].Int("Volt")
	assert.Equal(t, 100, power)
	assert.Equal(t, 500, volt)
	assert.Equal(t, "Normal", report[0].String("Base.St"))
}

func TestDecode_Columns(t *testing.T) {
	payload := fixedTable(
		fixedBattery("1", "49900", "86%"),
		fixedAbsent("2"),
		fixedBattery("3", "49850", "1234X"),
		fixedAbsent("4"),
	)

	report, err := New(Columns(PowerSchema())).Decode(payload)
	require.NoError(t, err)
	require.Len(t, report, 2)

	for i, want := range []int{1, 3} {
		power, ok := report[i].Int("Power")
		require.True(t, ok)
		assert.Equal(t, want, power)
		assert.Equal(t, "2024-05-01 12:30:00", report[i].String("Time"))
		assert.Equal(t, "Dischg", report[i].String("Base.St"))
	}
	coulomb, _ := report[1].Int("Coulomb")
	assert.Equal(t, 1234, coulomb)
	volt, _ := report[1].Int("Volt")
	assert.Equal(t, 49850, volt)
}

func TestDecode_StrictRejectsMalformedNumber(t *testing.T) {
	payload := powerHeader + "\n" + strings.Replace(tokenRow(1, "86%"), "49900", "49x00", 1)

	_, err := New(Tokens(PowerSchema())).Decode(payload)
	require.ErrorIs(t, err, ErrParse)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, payload, pe.Payload)
	assert.Contains(t, err.Error(), "Volt")
}

func TestDecode_LenientKeepsRawString(t *testing.T) {
	payload := fixedTable(fixedBattery("1", "49x00", "86%"))

	report, err := New(Columns(PowerSchema())).Decode(payload)
	require.NoError(t, err)
	require.Len(t, report, 1)

	_, ok := report[0].Int("Volt")
	assert.False(t, ok)
	assert.Equal(t, "49x00", report[0].String("Volt"))
}

func TestDecode_CoercionOverride(t *testing.T) {
	payload := powerHeader + "\n" + strings.Replace(tokenRow(1, "86%"), "49900", "49x00", 1)

	report, err := New(Tokens(PowerSchema()), WithCoercion(Lenient)).Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "49x00", report[0].String("Volt"))

	d := New(Columns(PowerSchema()), WithCoercion(Strict))
	assert.Equal(t, Strict, d.Coercion())
	_, err = d.Decode(fixedTable(fixedBattery("1", "49x00", "86%")))
	assert.ErrorIs(t, err, ErrParse)
}

func TestDecode_TokensSchemaDrift(t *testing.T) {
	header := strings.Replace(powerHeader, "MosTempr", "MosTemp", 1)
	_, err := New(Tokens(PowerSchema())).Decode(header + "\n" + tokenRow(1, "86%"))
	assert.ErrorIs(t, err, ErrParse)
}

func TestDecode_TokensRowShape(t *testing.T) {
	row := strings.TrimSuffix(tokenRow(1, "86%"), " Normal")
	_, err := New(Tokens(PowerSchema())).Decode(powerHeader + "\n" + row)
	require.ErrorIs(t, err, ErrParse)
	assert.Contains(t, err.Error(), "17 items")
}

func TestDecode_ColumnsToleratesUnknownHeader(t *testing.T) {
	payload := "Power  Volt   Extra\n1      49900  hello world"

	report, err := New(Columns(PowerSchema())).Decode(payload)
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Equal(t, "hello world", report[0].String("Extra"))
	volt, _ := report[0].Int("Volt")
	assert.Equal(t, 49900, volt)
}

func TestDecode_ColumnsWideValue(t *testing.T) {
	s := Schema{Columns: []string{"A", "B", "C"}, Numeric: []string{"A"}}
	payload := "A     B     C\n1234567 x   y"

	report, err := New(Columns(s)).Decode(payload)
	require.NoError(t, err)
	require.Len(t, report, 1)

	a, ok := report[0].Int("A")
	require.True(t, ok)
	assert.Equal(t, 1234567, a)
	assert.Equal(t, "x", report[0].String("B"))
	assert.Equal(t, "y", report[0].String("C"))
}

func TestDecode_EmptyPayload(t *testing.T) {
	for _, strategy := range []Strategy{Tokens(PowerSchema()), Columns(PowerSchema())} {
		_, err := New(strategy).Decode(" \r\n\n")
		assert.ErrorIs(t, err, ErrParse, strategy.Name())
	}
}

func TestDecode_HeaderOnly(t *testing.T) {
	report, err := New(Tokens(PowerSchema())).Decode(powerHeader + "\r\n")
	require.NoError(t, err)
	assert.Empty(t, report)
}

func TestRow_MarshalJSONKeepsHeaderOrder(t *testing.T) {
	report, err := New(Tokens(PowerSchema())).Decode(powerHeader + "\n" + tokenRow(1, "86%"))
	require.NoError(t, err)

	b, err := json.Marshal(report)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), `[{"Power":1,"Volt":49900,"Curr":-1200,`), string(b))
	assert.Contains(t, string(b), `"Base.St":"Dischg"`)
	assert.True(t, strings.HasSuffix(string(b), `"MosTempr":24100,"M.T.St":"Normal"}]`), string(b))
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("", PowerSchema())
	require.NoError(t, err)
	assert.Equal(t, "tokens", s.Name())

	s, err = ParseStrategy("Columns", PowerSchema())
	require.NoError(t, err)
	assert.Equal(t, "columns", s.Name())
	assert.Equal(t, Lenient, s.DefaultCoercion())

	_, err = ParseStrategy("regex", PowerSchema())
	assert.Error(t, err)

	c, err := ParseCoercion("STRICT")
	require.NoError(t, err)
	assert.Equal(t, Strict, c)
	_, err = ParseCoercion("loose")
	assert.Error(t, err)
}
