package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dineseek/dineseek/pkg/config"
	"github.com/dineseek/dineseek/pkg/llm"
	"github.com/dineseek/dineseek/pkg/models"
)

func TestRunMapper_TextRoute(t *testing.T) {
	fx := newFixture(t)
	fx.llm.on(config.PurposeRouteMapper, `{"textQuery":"kosher pizza in jerusalem"}`)

	plan, err := fx.orch.runMapper(context.Background(), "kosher pizza jerusalem", models.Intent{Route: models.RouteTextSearch})

	require.NoError(t, err)
	assert.Equal(t, models.RouteTextSearch, plan.Route)
	assert.Equal(t, "kosher pizza in jerusalem", plan.TextQuery)
}

func TestRunMapper_TextRouteWithoutQueryIsSchemaInvalid(t *testing.T) {
	fx := newFixture(t)
	fx.llm.on(config.PurposeRouteMapper, `{"textQuery":"  "}`)

	_, err := fx.orch.runMapper(context.Background(), "pizza", models.Intent{Route: models.RouteTextSearch})

	assert.ErrorIs(t, err, ErrSchemaInvalid)
	assert.Equal(t, 1, fx.llm.callCount(config.PurposeRouteMapper), "schema violations are not retried")
}

func TestRunMapper_RetriesParseFailureOnce(t *testing.T) {
	fx := newFixture(t)
	fx.llm.on(config.PurposeRouteMapper, "mumbling, no json")
	fx.llm.on(config.PurposeRouteMapper, `{"textQuery":"pizza"}`)

	plan, err := fx.orch.runMapper(context.Background(), "pizza", models.Intent{Route: models.RouteTextSearch})

	require.NoError(t, err)
	assert.Equal(t, "pizza", plan.TextQuery)
	assert.Equal(t, 2, fx.llm.callCount(config.PurposeRouteMapper))
}

func TestRunMapper_TimeoutExhaustsRetries(t *testing.T) {
	fx := newFixture(t)
	fx.llm.fail(config.PurposeRouteMapper, llm.ErrTimeout)
	fx.llm.fail(config.PurposeRouteMapper, llm.ErrTimeout)

	_, err := fx.orch.runMapper(context.Background(), "pizza", models.Intent{Route: models.RouteTextSearch})

	assert.ErrorIs(t, err, llm.ErrTimeout)
	assert.Equal(t, 2, fx.llm.callCount(config.PurposeRouteMapper), "one retry, then fail")
}

func TestRunMapper_ProviderErrorIsPermanent(t *testing.T) {
	fx := newFixture(t)
	fx.llm.fail(config.PurposeRouteMapper, llm.ErrProvider)

	_, err := fx.orch.runMapper(context.Background(), "pizza", models.Intent{Route: models.RouteTextSearch})

	assert.ErrorIs(t, err, llm.ErrProvider)
	assert.Equal(t, 1, fx.llm.callCount(config.PurposeRouteMapper))
}

func TestRunMapper_NearbyRoute(t *testing.T) {
	fx := newFixture(t)
	fx.llm.on(config.PurposeRouteMapper, `{"radiusMeters":900}`)

	intent := models.Intent{Route: models.RouteNearby, FoodAnchor: "sushi"}
	plan, err := fx.orch.runMapper(context.Background(), "sushi close by", intent)

	require.NoError(t, err)
	assert.Equal(t, models.RouteNearby, plan.Route)
	assert.Equal(t, 900, plan.RadiusMeters)

	req := fx.llm.lastCall(t, config.PurposeRouteMapper)
	assert.Contains(t, req.User, "sushi", "food anchor feeds the nearby prompt")
}

func TestRunMapper_LandmarkRoute(t *testing.T) {
	t.Run("complete plan", func(t *testing.T) {
		fx := newFixture(t)
		fx.llm.on(config.PurposeRouteMapper, `{"landmark":"Eiffel Tower","textQuery":"bistro"}`)

		intent := models.Intent{Route: models.RouteLandmarkPlan, LocationAnchor: "Eiffel Tower"}
		plan, err := fx.orch.runMapper(context.Background(), "bistro near the eiffel tower", intent)

		require.NoError(t, err)
		assert.Equal(t, "Eiffel Tower", plan.Landmark)
		assert.Equal(t, "bistro", plan.TextQuery)
	})

	t.Run("missing landmark is schema invalid", func(t *testing.T) {
		fx := newFixture(t)
		fx.llm.on(config.PurposeRouteMapper, `{"landmark":"","textQuery":"bistro"}`)

		intent := models.Intent{Route: models.RouteLandmarkPlan, LocationAnchor: "Eiffel Tower"}
		_, err := fx.orch.runMapper(context.Background(), "bistro near the eiffel tower", intent)

		assert.ErrorIs(t, err, ErrSchemaInvalid)
	})

	t.Run("empty text query falls back to the original", func(t *testing.T) {
		fx := newFixture(t)
		fx.llm.on(config.PurposeRouteMapper, `{"landmark":"Eiffel Tower","textQuery":""}`)

		intent := models.Intent{Route: models.RouteLandmarkPlan, LocationAnchor: "Eiffel Tower"}
		plan, err := fx.orch.runMapper(context.Background(), "bistro near the eiffel tower", intent)

		require.NoError(t, err)
		assert.Equal(t, "bistro near the eiffel tower", plan.TextQuery)
	})
}
