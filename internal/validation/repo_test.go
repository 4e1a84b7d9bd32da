package validation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-metrics/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	"github.com/angelmondragon/packfinderz-metrics/pkg/pagination"
)

func TestRepositorySaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))

	first, second := uuid.New(), uuid.New()
	jan := time.Date(2024, 2, 1, 3, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, first, []Result{
		{CheckName: "gross_matches_lines", Kind: enums.CheckReconcile, Table: "fact_revenue", Severity: enums.SeverityHard,
			Outcome: enums.CheckOutcomeFail, OffendingKeys: []string{"2024-01: 1 != 2"}, CheckedAt: jan},
		{CheckName: "fact_revenue_unique", Kind: enums.CheckUniqueGrain, Table: "fact_revenue", Severity: enums.SeverityHard,
			Outcome: enums.CheckOutcomePass, CheckedAt: jan},
	}))
	require.NoError(t, repo.Save(ctx, second, []Result{
		{CheckName: "gross_matches_lines", Kind: enums.CheckReconcile, Table: "fact_revenue", Severity: enums.SeverityHard,
			Outcome: enums.CheckOutcomePass, CheckedAt: feb},
	}))

	byBuild, err := repo.Find(ctx, Filter{BuildID: &first})
	require.NoError(t, err)
	require.Len(t, byBuild, 2)

	byCheck, err := repo.Find(ctx, Filter{CheckName: "gross_matches_lines"})
	require.NoError(t, err)
	require.Len(t, byCheck, 2)
	assert.Equal(t, second, byCheck[0].BuildID)
	assert.Equal(t, []string{"2024-01: 1 != 2"}, byCheck[1].OffendingKeys)

	from := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	byTime, err := repo.Find(ctx, Filter{From: &from})
	require.NoError(t, err)
	require.Len(t, byTime, 1)
	assert.Equal(t, enums.CheckOutcomePass, byTime[0].Outcome)
}

func TestRepositoryPagesWithCursor(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))

	build := uuid.New()
	at := time.Date(2024, 2, 1, 3, 0, 0, 0, time.UTC)
	results := make([]Result, 0, 5)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		results = append(results, Result{CheckName: name, Kind: enums.CheckNotNull, Table: "fact_revenue",
			Severity: enums.SeveritySoft, Outcome: enums.CheckOutcomePass, CheckedAt: at})
	}
	require.NoError(t, repo.Save(ctx, build, results))

	seen := map[string]bool{}
	filter := Filter{BuildID: &build, Limit: 2}
	pages := 0
	for {
		page, err := repo.Page(ctx, filter)
		require.NoError(t, err)
		pages++
		for _, res := range page.Results {
			assert.False(t, seen[res.CheckName], res.CheckName)
			seen[res.CheckName] = true
		}
		if page.NextCursor == "" {
			break
		}
		require.Len(t, page.Results, 2)
		filter.Cursor, err = pagination.ParseCursor(page.NextCursor)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, pages)
	assert.Len(t, seen, 5)
}
