package achievement

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/crestline/crestline/internal/model"
)

func TestDispatcher_PartitionForIsStable(t *testing.T) {
	d := NewDispatcher([]string{"p0", "p1", "p2", "p3"})
	segmentID := uuid.New()

	first := d.PartitionFor(segmentID, model.AchievementKOM)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, d.PartitionFor(segmentID, model.AchievementKOM))
	}
}

func TestDispatcher_DifferentKindsCanLandOnDifferentPartitions(t *testing.T) {
	d := NewDispatcher([]string{"p0", "p1", "p2", "p3", "p4", "p5", "p6", "p7"})
	segmentID := uuid.New()

	kom := d.PartitionFor(segmentID, model.AchievementKOM)
	qom := d.PartitionFor(segmentID, model.AchievementQOM)
	legend := d.PartitionFor(segmentID, model.AchievementLocalLegend)

	require.Contains(t, []string{"p0", "p1", "p2", "p3", "p4", "p5", "p6", "p7"}, kom)
	require.Contains(t, []string{"p0", "p1", "p2", "p3", "p4", "p5", "p6", "p7"}, qom)
	require.Contains(t, []string{"p0", "p1", "p2", "p3", "p4", "p5", "p6", "p7"}, legend)
	// Not asserting kom != qom: with only 8 buckets a collision is legitimate,
	// this just exercises that every kind resolves to a valid partition.
}

func TestDispatcher_SamePairAlwaysSamePartitionAcrossInstances(t *testing.T) {
	partitions := []string{"p0", "p1", "p2"}
	segmentID := uuid.New()

	d1 := NewDispatcher(partitions)
	d2 := NewDispatcher(partitions)
	require.Equal(t, d1.PartitionFor(segmentID, model.AchievementQOM), d2.PartitionFor(segmentID, model.AchievementQOM))
}
