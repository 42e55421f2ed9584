package workload

import (
	"math"
	"math/rand"

	"github.com/spaolacci/murmur3"

	vberrors "github.com/conflictmonitor/viewbench/internal/errors"
	"github.com/conflictmonitor/viewbench/pkg/types"
)

// Value pools synthetic rows are drawn from. Every inserted row uses a
// country actor and a quad class from these closed sets.
var (
	Countries = []string{"USA", "CHN", "RUS", "IND", "GBR", "FRA", "DEU", "JPN", "BRA", "ZAF"}

	CategoryCodes = []string{"010", "043", "050", "112", "172", "173", "190", "193", "0841", "084"}

	// LateDates is the pool of historical partitions used for late arrivals.
	LateDates = []types.PartitionDate{19790101, 19800101, 19900101, 20010101, 20150101}
)

// phaseRand derives an independent random stream for one phase, so changing
// the insert count does not change which rows an update samples.
func phaseRand(seed int64, phase vberrors.Phase) *rand.Rand {
	h := murmur3.Sum64WithSeed([]byte(phase), uint32(seed)^uint32(seed>>32))
	return rand.New(rand.NewSource(int64(h)))
}

// serverSeed maps a stream onto the [-1, 1] range accepted by setseed.
func serverSeed(r *rand.Rand) float64 {
	return r.Float64()*2 - 1
}

func pick(r *rand.Rand, pool []string) string {
	return pool[r.Intn(len(pool))]
}

// sentiment samples uniformly from the valid range, rounded to two decimals.
func sentiment(r *rand.Rand) float64 {
	v := math.Round((types.MinSentiment+r.Float64()*(types.MaxSentiment-types.MinSentiment))*100) / 100
	return math.Max(types.MinSentiment, math.Min(types.MaxSentiment, v))
}

func syntheticRecord(r *rand.Rand, date types.PartitionDate) types.SourceRecord {
	quads := types.AllQuadClasses()
	return types.SourceRecord{
		EventDate:      date,
		SourceActor:    types.StringPtr(pick(r, Countries)),
		TargetActor:    types.StringPtr(pick(r, Countries)),
		CategoryCode:   types.StringPtr(pick(r, CategoryCodes)),
		CountMetric:    int32(1 + r.Intn(3)),
		ArticleMetric:  int32(1 + r.Intn(10)),
		QuadClass:      quads[r.Intn(len(quads))],
		SentimentScore: sentiment(r),
	}
}
