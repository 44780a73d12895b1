package seqio

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phylobuild/internal/core"
)

func TestReadFASTA_NormalizesAndKeepsOrder(t *testing.T) {
	recs, err := ParseFASTA([]byte(">B desc\nac.g\nT~\n\n>A\nAC GT\n"))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "B", recs[0].ID)
	assert.Equal(t, "AC-GT-", string(recs[0].Seq))
	assert.Equal(t, "ACGT", string(recs[1].Seq))
}

func TestReadFASTA_Errors(t *testing.T) {
	_, err := ParseFASTA([]byte("ACGT\n>A\nAC\n"))
	assert.Equal(t, core.ClassInput, core.Classify(err))

	_, err = ParseFASTA([]byte(">A\nAC\n>A\nGT\n"))
	assert.Equal(t, core.ClassInput, core.Classify(err))
}

func TestFormatFASTA_RoundTrip(t *testing.T) {
	in := []Record{{ID: "A", Seq: []byte("AC-T")}, {ID: "B", Seq: []byte("ACGT")}}
	out, err := ParseFASTA(FormatFASTA(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestValidateAlignment_UnequalLength(t *testing.T) {
	err := ValidateAlignment([]Record{{ID: "A", Seq: []byte("ACGT")}, {ID: "B", Seq: []byte("ACG")}})
	var ie *core.InputError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "UnequalLength", ie.Code)

	assert.Error(t, ValidateAlignment(nil))
	assert.NoError(t, ValidateAlignment([]Record{{ID: "A", Seq: []byte("A-")}, {ID: "B", Seq: []byte("AC")}}))
}

func TestPHYLIP_FormatAndParse(t *testing.T) {
	recs := []Record{{ID: "A", Seq: []byte("AC-T")}, {ID: "Long", Seq: []byte("ACGT")}}
	out, err := FormatPHYLIP(recs)
	require.NoError(t, err)
	assert.Equal(t, "2 4\nA     AC-T\nLong  ACGT\n", string(out))

	back, err := ParsePHYLIP(out)
	require.NoError(t, err)
	assert.Equal(t, recs, back)
}

func TestParsePHYLIP_Interleaved(t *testing.T) {
	recs, err := ParsePHYLIP([]byte("2 6\nA ACG\nB AC-\n\nTTT\nGGG\n"))
	require.NoError(t, err)
	assert.Equal(t, "ACGTTT", string(recs[0].Seq))
	assert.Equal(t, "AC-GGG", string(recs[1].Seq))
}

func TestFormatPHYLIP_RejectsUnaligned(t *testing.T) {
	_, err := FormatPHYLIP([]Record{{ID: "A", Seq: []byte("AC")}, {ID: "B", Seq: []byte("A")}})
	assert.Equal(t, core.ClassInput, core.Classify(err))
}

func TestSameIDSet(t *testing.T) {
	a := []Record{{ID: "A"}, {ID: "B"}}
	assert.NoError(t, SameIDSet(a, []Record{{ID: "B"}, {ID: "A"}}))
	assert.Error(t, SameIDSet(a, []Record{{ID: "A"}}))
}

func TestNormalizeNewick(t *testing.T) {
	out, err := NormalizeNewick([]byte("( A:0.1, 'b c':0.2 )\n ;\n"))
	require.NoError(t, err)
	assert.Equal(t, "(A:0.1,'b c':0.2);\n", string(out))

	for _, bad := range []string{"(A,B", "(A,B));", "A,B", "", "(A,B);(C,D);", "('A,B);"} {
		_, err := NormalizeNewick([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestSplitAndJoinNewick(t *testing.T) {
	trees, err := SplitNewick([]byte("(A,B);\n(C,D);"))
	require.NoError(t, err)
	require.Len(t, trees, 2)
	assert.Equal(t, "(A,B);\n(C,D);\n", string(JoinNewick(trees)))
}

func TestConcatenate_FillsMissingTaxa(t *testing.T) {
	blocks := []Block{
		{Name: "g1", Records: []Record{{ID: "A", Seq: []byte("AC")}, {ID: "B", Seq: []byte("AG")}}},
		{Name: "g2", Records: []Record{{ID: "C", Seq: []byte("TTT")}, {ID: "A", Seq: []byte("GGG")}}},
	}
	recs, charsets, err := Concatenate(blocks)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "ACGGG", string(recs[0].Seq))
	assert.Equal(t, "AG---", string(recs[1].Seq))
	assert.Equal(t, "--TTT", string(recs[2].Seq))
	assert.Equal(t, []Charset{{Name: "g1", Start: 1, End: 2}, {Name: "g2", Start: 3, End: 5}}, charsets)
	assert.Equal(t, "DNA, g1 = 1-2\nDNA, g2 = 3-5\n", string(FormatPartitions("", charsets)))
}

func TestReportNormalizer_StripsNoise(t *testing.T) {
	n := NewReportNormalizer()
	a := n.Normalize([]byte("Date and Time: Mon Oct 19 10:30:45 2026\nBest-fit model: GTR+G\nWall-clock time used: 1.2s\r\n"))
	b := n.Normalize([]byte("Date and Time: Tue Oct 20 11:00:01 2026\nBest-fit model: GTR+G\nWall-clock time used: 9.9s\n"))
	assert.Equal(t, string(a), string(b))
	assert.True(t, strings.Contains(string(a), "GTR+G"))
}
