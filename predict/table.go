package predict

import (
	"context"
	"fmt"
)

// Prediction column names appended by Table, in output order (device
// columns sit between confidence and prediction_error).
const (
	ColPredictedLabel  = "predicted_label"
	ColConfidence      = "confidence"
	ColPredictionError = "prediction_error"
)

// Table is column-oriented data: one name per column, rows of cells in
// column order.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Table applies the single-prediction path row-wise. The output preserves
// every original column and the row order and count 1:1, appending
// predicted_label, confidence, one boolean column per known device (sorted
// device names), and prediction_error. Failed rows keep their original
// cells, get nil prediction cells, and carry the failure message in
// prediction_error; successful rows carry an empty string there.
//
// The call itself fails only on structural problems: a row whose width
// disagrees with the column list, an input column colliding with a
// prediction column, or a cancelled context.
func (a *Assembler) Table(ctx context.Context, tbl Table) (Table, error) {
	for i, row := range tbl.Rows {
		if len(row) != len(tbl.Columns) {
			return Table{}, fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(tbl.Columns))
		}
	}

	devices := a.Decoder.Devices()
	appended := make([]string, 0, len(devices)+3)
	appended = append(appended, ColPredictedLabel, ColConfidence)
	appended = append(appended, devices...)
	appended = append(appended, ColPredictionError)

	existing := make(map[string]bool, len(tbl.Columns))
	for _, col := range tbl.Columns {
		existing[col] = true
	}
	for _, col := range appended {
		if existing[col] {
			return Table{}, fmt.Errorf("input column %q collides with a prediction column", col)
		}
	}

	out := Table{
		Columns: make([]string, 0, len(tbl.Columns)+len(appended)),
		Rows:    make([][]any, len(tbl.Rows)),
	}
	out.Columns = append(out.Columns, tbl.Columns...)
	out.Columns = append(out.Columns, appended...)

	for i, row := range tbl.Rows {
		if err := ctx.Err(); err != nil {
			return Table{}, err
		}

		record := make(map[string]any, len(tbl.Columns))
		for j, col := range tbl.Columns {
			record[col] = row[j]
		}

		cells := make([]any, 0, len(out.Columns))
		cells = append(cells, row...)

		result, err := a.Single(ctx, record)
		if err != nil {
			cells = append(cells, nil, nil)
			for range devices {
				cells = append(cells, nil)
			}
			cells = append(cells, err.Error())
		} else {
			cells = append(cells, result.Label, result.Confidence)
			for _, name := range devices {
				cells = append(cells, result.States[name])
			}
			cells = append(cells, "")
		}
		out.Rows[i] = cells
	}
	return out, nil
}
