// Package scoreupload decodes the CSV file of an uploaded scoring run. Decoding is all or nothing:
// the first malformed row rejects the whole file.
package scoreupload

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	models "github.com/canopy-network/validatorx/pkg/db/models/validators"
	"github.com/go-playground/validator/v10"
)

// ListSeparator separates the values of multi-valued cells (ui_hints, component_*).
const ListSeparator = ";"

// Columns every upload must carry, in any order.
var Columns = []string{
	"vote_account",
	"score",
	"rank",
	"ui_hints",
	"component_scores",
	"component_ranks",
	"component_values",
	"eligible_stake_algo",
	"eligible_stake_mnde",
	"eligible_stake_msol",
	"eligible_stake_vemnde",
	"target_stake_algo",
	"target_stake_mnde",
	"target_stake_msol",
}

var (
	ErrEmptyUpload = errors.New("upload contains no score rows")
	ErrBadHeader   = errors.New("invalid header")
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("base58", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		for _, r := range s {
			if !strings.ContainsRune(base58Alphabet, r) {
				return false
			}
		}
		return true
	})
}

// RowError reports the first rejected row. Row counts data rows from 1; the header is not counted.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Decode reads a header line followed by one row per validator.
func Decode(r io.Reader) ([]models.ScoreUploadRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyUpload
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var rows []models.ScoreUploadRow
	seen := make(map[string]int)
	for n := 1; ; n++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &RowError{Row: n, Err: err}
		}

		row, err := parseRow(record, index)
		if err != nil {
			return nil, &RowError{Row: n, Err: err}
		}
		if err := validate.Struct(row); err != nil {
			return nil, &RowError{Row: n, Err: err}
		}
		if first, dup := seen[row.VoteAccount]; dup {
			return nil, &RowError{Row: n, Err: fmt.Errorf("vote account %s already listed in row %d", row.VoteAccount, first)}
		}
		seen[row.VoteAccount] = n
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, ErrEmptyUpload
	}
	return rows, nil
}

// CheckComponents verifies every row carries one score, rank and value per run component.
func CheckComponents(rows []models.ScoreUploadRow, components int) error {
	for i, row := range rows {
		for name, got := range map[string]int{
			"component_scores": len(row.ComponentScores),
			"component_ranks":  len(row.ComponentRanks),
			"component_values": len(row.ComponentValues),
		} {
			if got != components {
				return &RowError{Row: i + 1, Err: fmt.Errorf("%s has %d entries, the run has %d components", name, got, components)}
			}
		}
	}
	return nil
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrBadHeader, name)
		}
		index[name] = i
	}
	for _, c := range Columns {
		if _, ok := index[c]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrBadHeader, c)
		}
	}
	return index, nil
}

func parseRow(record []string, index map[string]int) (models.ScoreUploadRow, error) {
	cell := func(name string) string { return strings.TrimSpace(record[index[name]]) }
	var row models.ScoreUploadRow
	var err error

	row.VoteAccount = cell("vote_account")
	if row.Score, err = parseFloat("score", cell("score")); err != nil {
		return row, err
	}
	rank, err := strconv.ParseInt(cell("rank"), 10, 32)
	if err != nil {
		return row, fmt.Errorf("rank: %w", err)
	}
	row.Rank = int32(rank)

	row.UIHints = splitList(cell("ui_hints"))
	row.ComponentValues = splitList(cell("component_values"))
	for _, s := range splitList(cell("component_scores")) {
		f, err := parseFloat("component_scores", s)
		if err != nil {
			return row, err
		}
		row.ComponentScores = append(row.ComponentScores, f)
	}
	for _, s := range splitList(cell("component_ranks")) {
		r, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return row, fmt.Errorf("component_ranks: %w", err)
		}
		row.ComponentRanks = append(row.ComponentRanks, int32(r))
	}

	for name, dst := range map[string]*bool{
		"eligible_stake_algo":   &row.EligibleStakeAlgo,
		"eligible_stake_mnde":   &row.EligibleStakeMnde,
		"eligible_stake_msol":   &row.EligibleStakeMsol,
		"eligible_stake_vemnde": &row.EligibleStakeVemnde,
	} {
		if *dst, err = strconv.ParseBool(cell(name)); err != nil {
			return row, fmt.Errorf("%s: %w", name, err)
		}
	}
	for name, dst := range map[string]*float64{
		"target_stake_algo": &row.TargetStakeAlgo,
		"target_stake_mnde": &row.TargetStakeMnde,
		"target_stake_msol": &row.TargetStakeMsol,
	} {
		if *dst, err = parseFloat(name, cell(name)); err != nil {
			return row, err
		}
	}
	return row, nil
}

func parseFloat(name, s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%s: %q is not a finite number", name, s)
	}
	return f, nil
}

// splitList keeps order and empty values between separators; a blank cell is an empty list.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ListSeparator)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
