package mqtt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/appstronomer/umon/internal/domain/model"
)

func TestUnitFromTopicSingleWildcard(t *testing.T) {
	require.Equal(t, model.Unit("room1"), unitFromTopic("sensors/+/value", "sensors/room1/value"))
}

func TestUnitFromTopicMultiLevelWildcard(t *testing.T) {
	require.Equal(t, model.Unit("a/b/c"), unitFromTopic("sensors/#", "sensors/a/b/c"))
}

func TestUnitFromTopicNoWildcardFallsBackToTopic(t *testing.T) {
	require.Equal(t, model.Unit("sensors/fixed"), unitFromTopic("sensors/fixed", "sensors/fixed"))
}

func TestDistFillCoversAllConfiguredUnits(t *testing.T) {
	d := &Dist{}
	gc := GroupConfig{Group: "g", Units: []model.Unit{"u1", "u2"}}
	data := d.fill(gc, model.UpdateOnline())

	require.Equal(t, model.DataKindMulti, data.Kind)
	require.Len(t, data.Groups, 1)
	require.Len(t, data.Groups[0].Units, 2)
	for _, uv := range data.Groups[0].Units {
		require.Equal(t, model.UpdateKindOnline, uv.Val.Kind)
	}
}
