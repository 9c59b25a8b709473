package index

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/derma/internal/corpus"
	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/testutil"
	"github.com/saturnino-fabrica-de-software/derma/internal/vecmath"
)

const dim = 32

func randomSnapshot(t testing.TB, n int) *corpus.Snapshot {
	t.Helper()
	records := make([]domain.ConditionRecord, n)
	for i := range records {
		records[i] = testutil.Record(fmt.Sprintf("r%05d", i), domain.ConditionAcne, domain.SeverityMild, "", "",
			testutil.UnitVector(dim, int64(i+1)))
	}
	s, err := corpus.NewSnapshot("test/v1", dim, records, time.Now())
	require.NoError(t, err)
	return s
}

// bruteForce is the reference ordering
func bruteForce(s *corpus.Snapshot, q []float64, k int) []domain.Neighbor {
	all := make([]domain.Neighbor, len(s.Records))
	for i, r := range s.Records {
		all[i] = domain.Neighbor{RecordID: r.ID, Similarity: vecmath.Dot(q, r.Embedding)}
	}
	sort.Slice(all, func(i, j int) bool { return ranksBefore(all[i], all[j]) })
	return all[:min(k, len(all))]
}

func TestFlat_MatchesBruteForce(t *testing.T) {
	s := randomSnapshot(t, 200)
	flat := NewFlat(s)

	for seed := int64(1000); seed < 1010; seed++ {
		q := testutil.UnitVector(dim, seed)
		got, err := flat.Query(context.Background(), q, 10)
		require.NoError(t, err)
		assert.Equal(t, bruteForce(s, q, 10), got)
	}
}

func TestFlat_TiesByRecordID(t *testing.T) {
	v := testutil.UnitVector(dim, 7)
	records := []domain.ConditionRecord{
		testutil.Record("c", domain.ConditionAcne, domain.SeverityMild, "", "", v),
		testutil.Record("a", domain.ConditionAcne, domain.SeverityMild, "", "", v),
		testutil.Record("b", domain.ConditionRedness, domain.SeverityMild, "", "", v),
	}
	s, err := corpus.NewSnapshot("test/v1", dim, records, time.Now())
	require.NoError(t, err)

	got, err := NewFlat(s).Query(context.Background(), v, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].RecordID, got[1].RecordID, got[2].RecordID})
}

func TestIndex_Contract(t *testing.T) {
	s := randomSnapshot(t, 50)
	ivf, err := NewIVF(s, IVFConfig{Lists: 5, Probes: 1})
	require.NoError(t, err)

	indexes := []Index{NewFlat(s), ivf}
	q := testutil.UnitVector(dim, 99)

	for _, idx := range indexes {
		t.Run(idx.Kind(), func(t *testing.T) {
			assert.Equal(t, dim, idx.Dimension())
			assert.Equal(t, 50, idx.Len())

			_, err := idx.Query(context.Background(), q, 0)
			assert.ErrorIs(t, err, domain.ErrInvalidTopK)

			_, err = idx.Query(context.Background(), q[:dim-1], 5)
			assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

			all, err := idx.Query(context.Background(), q, 500)
			require.NoError(t, err)
			assert.Len(t, all, 50)
			assert.True(t, sort.SliceIsSorted(all, func(i, j int) bool { return ranksBefore(all[i], all[j]) }))

			first, err := idx.Query(context.Background(), q, 7)
			require.NoError(t, err)
			second, err := idx.Query(context.Background(), q, 7)
			require.NoError(t, err)
			assert.Equal(t, first, second)
			assert.Len(t, first, 7)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err = idx.Query(ctx, q, 5)
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestIVF_FullProbeIsExact(t *testing.T) {
	s := randomSnapshot(t, 300)
	ivf, err := NewIVF(s, IVFConfig{Lists: 8, Probes: 8})
	require.NoError(t, err)

	q := testutil.UnitVector(dim, 4242)
	got, err := ivf.Query(context.Background(), q, 20)
	require.NoError(t, err)
	assert.Equal(t, bruteForce(s, q, 20), got)
}

func TestIVF_FindsSelf(t *testing.T) {
	s := randomSnapshot(t, 300)
	ivf, err := NewIVF(s, IVFConfig{Lists: 10, Probes: 1})
	require.NoError(t, err)

	for _, r := range s.Records[:25] {
		got, err := ivf.Query(context.Background(), r.Embedding, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, r.ID, got[0].RecordID)
		assert.InDelta(t, 1.0, got[0].Similarity, 1e-9)
	}
}

func TestIVF_Deterministic(t *testing.T) {
	s := randomSnapshot(t, 120)

	a, err := NewIVF(s, IVFConfig{Lists: 6, Probes: 2})
	require.NoError(t, err)
	b, err := NewIVF(s, IVFConfig{Lists: 6, Probes: 2})
	require.NoError(t, err)

	assert.Equal(t, a.Lists(), b.Lists())
	sum := 0
	for _, n := range a.Lists() {
		sum += n
	}
	assert.Equal(t, 120, sum)
}

func TestIVF_MoreListsThanRecords(t *testing.T) {
	s := randomSnapshot(t, 3)
	ivf, err := NewIVF(s, IVFConfig{Lists: 16, Probes: 4})
	require.NoError(t, err)
	assert.Len(t, ivf.Lists(), 3)

	got, err := ivf.Query(context.Background(), testutil.UnitVector(dim, 5), 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestNewIVF_InvalidConfig(t *testing.T) {
	_, err := NewIVF(randomSnapshot(t, 3), IVFConfig{Lists: 0, Probes: 1})
	assert.Error(t, err)
}

func BenchmarkFlat_Query(b *testing.B) {
	s := randomSnapshot(b, 10000)
	flat := NewFlat(s)
	q := testutil.UnitVector(dim, 1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = flat.Query(context.Background(), q, 20)
	}
}

func BenchmarkIVF_Query(b *testing.B) {
	s := randomSnapshot(b, 10000)
	ivf, err := NewIVF(s, IVFConfig{Lists: 64, Probes: 4})
	require.NoError(b, err)
	q := testutil.UnitVector(dim, 1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ivf.Query(context.Background(), q, 20)
	}
}
