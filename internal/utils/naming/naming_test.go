package naming

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"

	"fire-timelapse/internal/common"
)

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Dixie_Fire", SanitizeName("Dixie Fire"))
	assert.Equal(t, "Parc_national_de_Jasper", SanitizeName("  Parc national de Jasper / "))
	assert.Equal(t, "aoi", SanitizeName("!!!"))
	assert.Equal(t, "a-b", SanitizeName("a-b"))
	assert.Len(t, SanitizeName(string(make([]byte, 100))+"x"), 1)
}

func TestGenerateVideoFilename(t *testing.T) {
	start, _ := common.ParseISO8601("2023-01-01")
	end, _ := common.ParseISO8601("2023-12-31")

	assert.Equal(t, "OUTPUT_2023-01-01_2023-12-31_Dixie_Fire.mp4",
		GenerateVideoFilename(start, end, "Dixie Fire", "", "mp4"))
	assert.Equal(t, "OUTPUT_2023-01-01_2023-12-31_Dixie_Fire_frp.gif",
		GenerateVideoFilename(start, end, "Dixie Fire", "_frp", ".gif"))
	assert.Equal(t, "OUTPUT_2023-01-01_2023-12-31_Dixie_Fire_summary.html",
		GenerateReportFilename(start, end, "Dixie Fire"))
	assert.Equal(t, "frames_Dixie_Fire_20230101_20231231_count",
		GenerateFramesDirName(start, end, "Dixie Fire", "count"))
}

func TestPartialPath(t *testing.T) {
	p := PartialPath("/out/OUTPUT_a.mp4")
	assert.Equal(t, "/out/OUTPUT_a.partial.mp4", p)
	assert.True(t, IsPartial(p))
	assert.False(t, IsPartial("/out/OUTPUT_a.mp4"))
}

func TestGenerateBBoxString(t *testing.T) {
	b := orb.Bound{Min: orb.Point{-121.25, 38}, Max: orb.Point{-120, 39.5}}
	assert.Equal(t, "38p0000N-39p5000N_121p2500W-120p0000W", GenerateBBoxString(b))
}
