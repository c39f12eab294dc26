package metadata

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/zhulabgroup/amplicon/sampleid"
	"github.com/zhulabgroup/amplicon/seqtab"
)

const metaCSV = `rawDataFileName,dnaSampleID,internalLabID,sequencerRunID,collectDate,siteID,plotID,horizon,soilTempC,soilInCaClpH,sampleBottomDepth,dataQF
BJ8RK_HARV-001_16S_P1_R1.fastq.gz,HARV_001,L001,BJ8RK,2017-06-05,HARV,HARV_033,O,12.5,4.8,7,OK
BJ8RK_HARV-001_16S_P1_R2.fastq.gz,HARV_001,L001,BJ8RK,2017-06-05,HARV,HARV_033,O,12.5,4.8,7,OK
C25G7_OSBS-002_16S_P2_R1.fastq.gz,OSBS_002,L002,C25G7,2017-07-11,OSBS,OSBS_011,M,21.1,5.2,15,OK
`

func writeMeta(t *testing.T, dir, content string) string {
	path := filepath.Join(dir, "meta.csv")
	assert.NoError(t, ioutil.WriteFile(path, []byte(content), 0666))
	return path
}

func TestLoad(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	recs, err := Load(ctx, writeMeta(t, tempDir, metaCSV))
	assert.NoError(t, err)
	assert.Equal(t, 3, len(recs))
	assert.Equal(t, "HARV_001", recs[0].SampleID)
	assert.Equal(t, 12.5, recs[0].SoilTemp)
	assert.Equal(t, "O", recs[0].Horizon)
	assert.Equal(t, 15.0, recs[2].DepthCM)
}

func TestLoadMissingColumn(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	// No dnaSampleID column: the batch must fail immediately.
	bad := "rawDataFileName,internalLabID,sequencerRunID,collectDate,siteID,plotID,dataQF\na,b,c,d,e,f,g\n"
	_, err := Load(ctx, writeMeta(t, tempDir, bad))
	assert.Error(t, err)
}

func TestDedupe(t *testing.T) {
	recs := []Record{
		{SampleID: "a", LabID: "first"},
		{SampleID: "b"},
		{SampleID: "a", LabID: "second"},
	}
	out := Dedupe(recs)
	assert.Equal(t, 2, len(out))
	assert.Equal(t, "first", out[0].LabID)
	assert.Equal(t, "b", out[1].SampleID)
}

func TestExternalIDs(t *testing.T) {
	recs := []Record{
		{RawFileName: "BJ8RK_HARV-001_16S_P1_R1.fastq.gz", SampleID: "HARV_001-O-COMP"},
		{RawFileName: "BJ8RK_HARV-001_16S_P1_R2.fastq.gz", SampleID: "HARV_001-O-COMP"},
	}
	ids := ExternalIDs(recs, sampleid.DefaultRules())
	// R1 and R2 canonicalize to one key.
	assert.Equal(t, 1, len(ids))
	assert.Equal(t, "HARV_001-O-COMP", ids["HARV_001_P1"])
}

func joinFixture() (*seqtab.Table, []Record) {
	tab := seqtab.New()
	tab.Add("s1", "v1", 10)
	tab.Add("s2", "v1", 5)
	tab.Add("s3", "v2", 2)
	recs := []Record{
		{SampleID: "s1", SiteID: "HARV"},
		{SampleID: "s1", SiteID: "dup-ignored"},
		{SampleID: "s3", SiteID: "OSBS"},
		{SampleID: "s9", SiteID: "unused"},
	}
	return tab, recs
}

func TestJoinLeft(t *testing.T) {
	tab, recs := joinFixture()
	st, stats, err := Join(tab, recs, JoinOpts{How: Left})
	assert.NoError(t, err)
	// Row count and order of the abundance table preserved exactly.
	assert.Equal(t, tab.Samples, st.Samples)
	assert.Equal(t, []bool{true, false, true}, st.Matched)
	assert.Equal(t, "HARV", st.Records[0].SiteID)
	assert.Equal(t, Record{}, st.Records[1])
	assert.Equal(t, 1, stats.UnmatchedSamples)
	assert.Equal(t, []string{"s2"}, stats.Sample)
	assert.Equal(t, 1, stats.UnusedMetadata)
}

func TestJoinInner(t *testing.T) {
	tab, recs := joinFixture()
	st, stats, err := Join(tab, recs, JoinOpts{How: Inner})
	assert.NoError(t, err)
	assert.Equal(t, []string{"s1", "s3"}, st.Samples)
	assert.Equal(t, 1, stats.UnmatchedSamples)
	assert.Equal(t, 10, st.Tab.Get("s1", "v1"))
	assert.Equal(t, 2, st.Tab.Get("s3", "v2"))
	assert.False(t, st.Tab.HasSample("s2"))
}

func TestJoinWriteTSV(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	tab, recs := joinFixture()
	st, _, err := Join(tab, recs, JoinOpts{How: Left})
	assert.NoError(t, err)
	path := filepath.Join(tempDir, "samples.tsv")
	assert.NoError(t, WriteTSV(ctx, st, path))
	b, err := ioutil.ReadFile(path)
	assert.NoError(t, err)
	assert.Contains(t, string(b), "s1\t")
	assert.Contains(t, string(b), "HARV")
}
