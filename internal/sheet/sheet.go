// Package sheet reads risk-assessment questions and their weights from an
// .xlsx workbook.
package sheet

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/xkilldash9x/riskform-cli/internal/config"
)

// ErrFileNotFound indicates the spreadsheet does not exist.
var ErrFileNotFound = errors.New("spreadsheet not found")

// Question is one spreadsheet row accepted for the fill loop.
type Question struct {
	Row       int    `json:"row"`
	Text      string `json:"text"`
	Weight    int    `json:"weight"`
	RawWeight string `json:"raw_weight,omitempty"`
	RiskColor string `json:"risk_color,omitempty"`
	Range     string `json:"range,omitempty"`
}

// SkippedRow is a data row the reader excluded, with the reason.
type SkippedRow struct {
	Row       int    `json:"row"`
	Text      string `json:"text,omitempty"`
	RawWeight string `json:"raw_weight,omitempty"`
	Reason    string `json:"reason"`
}

// Result is the outcome of reading one sheet.
type Result struct {
	Sheet     string       `json:"sheet"`
	Questions []Question   `json:"questions"`
	Skipped   []SkippedRow `json:"skipped"`
}

// Options is the column layout and weight policy of the workbook.
// Column indices are zero-based; a negative index means the column is absent.
type Options struct {
	SheetName     string
	HeaderRows    int
	RiskColorCol  int
	WeightCol     int
	RangeCol      int
	QuestionCol   int
	Policy        WeightPolicy
	DefaultWeight int
	MaxWeight     int
}

// NewOptions converts the sheet configuration into reader options.
func NewOptions(cfg config.SheetConfig) (Options, error) {
	opts := Options{
		SheetName:     cfg.Name,
		HeaderRows:    cfg.HeaderRows,
		Policy:        WeightPolicy(cfg.InvalidWeight),
		DefaultWeight: cfg.DefaultWeight,
		MaxWeight:     cfg.MaxWeight,
	}

	var err error
	if opts.WeightCol, err = columnIndex(cfg.WeightColumn, true); err != nil {
		return Options{}, fmt.Errorf("weight column: %w", err)
	}
	if opts.QuestionCol, err = columnIndex(cfg.QuestionColumn, true); err != nil {
		return Options{}, fmt.Errorf("question column: %w", err)
	}
	if opts.RiskColorCol, err = columnIndex(cfg.RiskColorCol, false); err != nil {
		return Options{}, fmt.Errorf("risk color column: %w", err)
	}
	if opts.RangeCol, err = columnIndex(cfg.RangeColumn, false); err != nil {
		return Options{}, fmt.Errorf("range column: %w", err)
	}

	switch opts.Policy {
	case PolicySkip, PolicyDefault:
	case "":
		opts.Policy = PolicySkip
	default:
		return Options{}, fmt.Errorf("unknown invalid weight policy %q", opts.Policy)
	}
	if opts.DefaultWeight < 1 {
		opts.DefaultWeight = 1
	}
	return opts, nil
}

func columnIndex(name string, required bool) (int, error) {
	if strings.TrimSpace(name) == "" {
		if required {
			return 0, fmt.Errorf("column is required")
		}
		return -1, nil
	}
	n, err := excelize.ColumnNameToNumber(strings.TrimSpace(name))
	if err != nil {
		return 0, err
	}
	return n - 1, nil
}

// Reader parses question rows out of a workbook.
type Reader struct {
	opts   Options
	logger *zap.Logger
}

// NewReader creates a Reader.
func NewReader(opts Options, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{opts: opts, logger: logger.Named("sheet")}
}

// ReadFile opens the workbook at path and reads the configured sheet.
func (r *Reader) ReadFile(path string) (*Result, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat spreadsheet %s: %w", path, err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet %s: %w", path, err)
	}
	defer f.Close()

	res, err := r.Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read spreadsheet %s: %w", path, err)
	}
	return res, nil
}

// Read reads the configured sheet, or the first sheet when none is configured.
func (r *Reader) Read(f *excelize.File) (*Result, error) {
	name := r.opts.SheetName
	if name == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		name = sheets[0]
	}

	rows, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of sheet %q: %w", name, err)
	}

	res := r.parseRows(rows)
	res.Sheet = name
	r.logger.Info("Spreadsheet parsed.",
		zap.String("sheet", name),
		zap.Int("questions", len(res.Questions)),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

func (r *Reader) parseRows(rows [][]string) *Result {
	res := &Result{}
	for i, cells := range rows {
		rowNum := i + 1
		if i < r.opts.HeaderRows || isEmptyRow(cells) {
			continue
		}

		text := strings.TrimSpace(cell(cells, r.opts.QuestionCol))
		raw := strings.TrimSpace(cell(cells, r.opts.WeightCol))

		if text == "" {
			r.logger.Debug("Row without question text excluded.", zap.Int("row", rowNum))
			res.Skipped = append(res.Skipped, SkippedRow{Row: rowNum, RawWeight: raw, Reason: "blank question"})
			continue
		}

		weight, err := ParseWeight(raw, r.opts.MaxWeight)
		if err != nil {
			if r.opts.Policy == PolicySkip {
				r.logger.Warn("Invalid weight; row skipped.",
					zap.Int("row", rowNum),
					zap.String("raw_weight", raw),
					zap.Error(err),
				)
				res.Skipped = append(res.Skipped, SkippedRow{Row: rowNum, Text: text, RawWeight: raw, Reason: err.Error()})
				continue
			}
			r.logger.Warn("Invalid weight; using default.",
				zap.Int("row", rowNum),
				zap.String("raw_weight", raw),
				zap.Int("default_weight", r.opts.DefaultWeight),
				zap.Error(err),
			)
			weight = r.opts.DefaultWeight
		}

		res.Questions = append(res.Questions, Question{
			Row:       rowNum,
			Text:      text,
			Weight:    weight,
			RawWeight: raw,
			RiskColor: strings.TrimSpace(cell(cells, r.opts.RiskColorCol)),
			Range:     strings.TrimSpace(cell(cells, r.opts.RangeCol)),
		})
	}
	return res
}

// cell returns the value at idx, or "" when the row is shorter or idx is negative.
func cell(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}

func isEmptyRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
