package table

// Schema describes one tabular report shape.
type Schema struct {
	// Columns is the expected header, in order.
	Columns []string
	// Numeric columns are coerced to int.
	Numeric []string
	// Suffixed numeric columns carry one trailing unit byte (e.g. "86%").
	Suffixed []string
	// Rows whose AbsentColumn equals AbsentValue are dropped.
	AbsentColumn string
	AbsentValue  string
	// SplitColumn holds a value that prints as two whitespace separated tokens.
	SplitColumn string
}

// PowerSchema returns the layout of the console's pwr report.
func PowerSchema() Schema {
	return Schema{
		Columns: []string{
			"Power", "Volt", "Curr", "Tempr", "Tlow", "Thigh", "Vlow", "Vhigh",
			"Base.St", "Volt.St", "Curr.St", "Temp.St", "Coulomb", "Time",
			"B.V.St", "B.T.St", "MosTempr", "M.T.St",
		},
		Numeric: []string{
			"Power", "Volt", "Curr", "Tempr", "Tlow", "Thigh", "Vlow", "Vhigh",
			"Coulomb", "MosTempr",
		},
		Suffixed:     []string{"Coulomb"},
		AbsentColumn: "Base.St",
		AbsentValue:  "Absent",
		SplitColumn:  "Time",
	}
}

func (s Schema) has(col string) bool {
	return indexOf(s.Columns, col) >= 0
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}

func toSet(cols []string) map[string]bool {
	m := make(map[string]bool, len(cols))
	for _, c := range cols {
		m[c] = true
	}
	return m
}
