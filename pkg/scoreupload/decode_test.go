package scoreupload

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	voteA = "Vote111111111111111111111111111111111111111"
	voteB = "DumiCKHVqoCQKD8roLApzR5Fit8qGV5fVQsJV9sTZk4a"
)

var header = strings.Join(Columns, ",")

func csvOf(lines ...string) *strings.Reader {
	return strings.NewReader(strings.Join(append([]string{header}, lines...), "\n") + "\n")
}

func TestDecode(t *testing.T) {
	rows, err := Decode(csvOf(
		voteA+`,0.93,1,"top;stable","0.9;0.8",1;2,"12,5%;99.9",true,false,true,false,1000,0,25.5`,
		voteB+`,0.41,2,,0.1;0.2,3;1,a;b,false,false,false,false,0,0,0`,
	))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	a := rows[0]
	assert.Equal(t, voteA, a.VoteAccount)
	assert.Equal(t, 0.93, a.Score)
	assert.Equal(t, int32(1), a.Rank)
	assert.Equal(t, []string{"top", "stable"}, a.UIHints)
	assert.Equal(t, []float64{0.9, 0.8}, a.ComponentScores)
	assert.Equal(t, []int32{1, 2}, a.ComponentRanks)
	assert.Equal(t, []string{"12,5%", "99.9"}, a.ComponentValues)
	assert.True(t, a.EligibleStakeAlgo)
	assert.True(t, a.EligibleStakeMsol)
	assert.False(t, a.EligibleStakeMnde)
	assert.Equal(t, 1000.0, a.TargetStakeAlgo)
	assert.Equal(t, 25.5, a.TargetStakeMsol)

	assert.Nil(t, rows[1].UIHints)

	score := a.ValidatorScore(7)
	assert.Equal(t, int64(7), score.ScoringRunID)
	assert.Equal(t, a.TargetStakeMsol, score.TargetStakeMsol)

	require.NoError(t, CheckComponents(rows, 2))
	require.Error(t, CheckComponents(rows, 3))
}

func TestDecodeColumnsInAnyOrder(t *testing.T) {
	reordered := make([]string, len(Columns))
	copy(reordered, Columns)
	reordered[0], reordered[len(reordered)-1] = reordered[len(reordered)-1], reordered[0]

	in := strings.Join(reordered, ",") + "\n" +
		`5,0.5,3,,,,,true,true,true,true,0,0,` + voteA + "\n"
	rows, err := Decode(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, voteA, rows[0].VoteAccount)
	require.Equal(t, 5.0, rows[0].TargetStakeMsol)
}

func TestDecodeFailsFast(t *testing.T) {
	valid := voteA + `,0.5,1,,,,,true,false,false,false,1,0,0`

	tests := []struct {
		name string
		in   *strings.Reader
		row  int
	}{
		{"unparseable score", csvOf(valid, voteB+`,high,2,,,,,true,false,false,false,1,0,0`), 2},
		{"negative target", csvOf(voteB+`,0.5,2,,,,,true,false,false,false,-1,0,0`, valid), 1},
		{"rank zero", csvOf(valid, voteB+`,0.5,0,,,,,true,false,false,false,1,0,0`), 2},
		{"bad boolean", csvOf(valid, voteB+`,0.5,2,,,,,yes,false,false,false,1,0,0`), 2},
		{"vote account not base58", csvOf(strings.Replace(valid, "Vote1", "Vote0", 1)), 1},
		{"vote account too short", csvOf(`abc,0.5,1,,,,,true,false,false,false,1,0,0`), 1},
		{"duplicate vote account", csvOf(valid, valid), 2},
		{"missing field", csvOf(valid, voteB+`,0.5,2`), 2},
		{"infinite score", csvOf(valid, voteB+`,+Inf,2,,,,,true,false,false,false,1,0,0`), 2},
		{"NaN component score", csvOf(voteB+`,0.5,2,,NaN,1,x,true,false,false,false,1,0,0`, valid), 1},
		{"infinite target", csvOf(voteB+`,0.5,2,,,,,true,false,false,false,Inf,0,0`, valid), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := Decode(tt.in)
			require.Nil(t, rows)
			var rowErr *RowError
			require.True(t, errors.As(err, &rowErr), "got %v", err)
			require.Equal(t, tt.row, rowErr.Row)
		})
	}
}

func TestDecodeHeaderErrors(t *testing.T) {
	_, err := Decode(strings.NewReader(""))
	require.ErrorIs(t, err, ErrEmptyUpload)

	_, err = Decode(strings.NewReader(header + "\n"))
	require.ErrorIs(t, err, ErrEmptyUpload)

	_, err = Decode(strings.NewReader("vote_account,score\n" + voteA + ",1\n"))
	require.ErrorIs(t, err, ErrBadHeader)
}
