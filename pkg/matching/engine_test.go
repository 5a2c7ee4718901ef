package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/catalog"
	"github.com/Ramsey-B/clover/pkg/models"
)

func ptr(v int64) *int64 {
	return &v
}

func testSnapshot() catalog.Snapshot {
	return catalog.Snapshot{
		Categories: map[int64]string{
			1: "Switches",
			2: "Cover Plates",
			3: "Boxes",
		},
		Styles: map[int64]string{
			4: "Decora",
			5: "Toggle",
			7: "Stainless",
		},
	}
}

func switchPlateRule(styleMatch models.StyleMatchMode, qtyMode models.QtyMode, ratio float64) models.CompanionRule {
	return models.CompanionRule{
		ID:         "rule-1",
		Name:       "Switch plates",
		StyleMatch: styleMatch,
		QtyMode:    qtyMode,
		QtyRatio:   ratio,
		IsActive:   true,
		Sources:    []models.RulePartRef{{CategoryID: 1}},
		Targets:    []models.RulePartRef{{CategoryID: 2}},
	}
}

func TestMatch_EmptyInputs(t *testing.T) {
	snap := testSnapshot()
	rules := []models.CompanionRule{switchPlateRule(models.StyleMatchAny, models.QtyModeSum, 0)}
	items := []models.TriggerItem{{CategoryID: 1, Qty: 2}}

	assert.Empty(t, Match(nil, rules, snap))
	assert.Empty(t, Match(items, nil, snap))
	assert.Empty(t, Match(nil, nil, snap))
}

func TestMatch_InactiveRuleNeverFires(t *testing.T) {
	rule := switchPlateRule(models.StyleMatchAny, models.QtyModeSum, 0)
	rule.IsActive = false

	results := Match([]models.TriggerItem{{CategoryID: 1, Qty: 2}}, []models.CompanionRule{rule}, testSnapshot())
	assert.Empty(t, results)
}

func TestMatch_SourceMatching(t *testing.T) {
	snap := testSnapshot()

	t.Run("category mismatch does not fire", func(t *testing.T) {
		rule := switchPlateRule(models.StyleMatchAny, models.QtyModeSum, 0)
		results := Match([]models.TriggerItem{{CategoryID: 3, Qty: 2}}, []models.CompanionRule{rule}, snap)
		assert.Empty(t, results)
	})

	t.Run("styleless source matches any trigger style", func(t *testing.T) {
		rule := switchPlateRule(models.StyleMatchAny, models.QtyModeSum, 0)
		results := Match([]models.TriggerItem{{CategoryID: 1, StyleID: ptr(4), Qty: 2}}, []models.CompanionRule{rule}, snap)
		require.Len(t, results, 1)
	})

	t.Run("styled source requires equal style", func(t *testing.T) {
		rule := switchPlateRule(models.StyleMatchAny, models.QtyModeSum, 0)
		rule.Sources = []models.RulePartRef{{CategoryID: 1, StyleID: ptr(4)}}

		results := Match([]models.TriggerItem{{CategoryID: 1, StyleID: ptr(5), Qty: 2}}, []models.CompanionRule{rule}, snap)
		assert.Empty(t, results)

		results = Match([]models.TriggerItem{{CategoryID: 1, Qty: 2}}, []models.CompanionRule{rule}, snap)
		assert.Empty(t, results, "unstyled trigger must not match a styled source")

		results = Match([]models.TriggerItem{{CategoryID: 1, StyleID: ptr(4), Qty: 2}}, []models.CompanionRule{rule}, snap)
		require.Len(t, results, 1)
	})
}

func TestMatch_QuantityModes(t *testing.T) {
	snap := testSnapshot()
	items := []models.TriggerItem{
		{CategoryID: 1, Qty: 2},
		{CategoryID: 1, Qty: 3},
	}

	t.Run("sum", func(t *testing.T) {
		results := Match(items, []models.CompanionRule{switchPlateRule(models.StyleMatchAny, models.QtyModeSum, 0)}, snap)
		require.Len(t, results, 1)
		assert.Equal(t, 5, results[0].SuggestedQty)
	})

	t.Run("max", func(t *testing.T) {
		results := Match(items, []models.CompanionRule{switchPlateRule(models.StyleMatchAny, models.QtyModeMax, 0)}, snap)
		require.Len(t, results, 1)
		assert.Equal(t, 3, results[0].SuggestedQty)
	})

	t.Run("ratio rounds up", func(t *testing.T) {
		results := Match(items, []models.CompanionRule{switchPlateRule(models.StyleMatchAny, models.QtyModeRatio, 0.5)}, snap)
		require.Len(t, results, 1)
		assert.Equal(t, 3, results[0].SuggestedQty)
	})
}

func TestMatch_StyleResolution(t *testing.T) {
	snap := testSnapshot()
	items := []models.TriggerItem{{CategoryID: 1, StyleID: ptr(4), Qty: 2}}

	t.Run("explicit always uses the configured target style", func(t *testing.T) {
		rule := switchPlateRule(models.StyleMatchExplicit, models.QtyModeSum, 0)
		rule.Targets = []models.RulePartRef{{CategoryID: 2, StyleID: ptr(7)}}

		results := Match(items, []models.CompanionRule{rule}, snap)
		require.Len(t, results, 1)
		require.NotNil(t, results[0].TargetStyleID)
		assert.Equal(t, int64(7), *results[0].TargetStyleID)
	})

	t.Run("any resolves to nil style", func(t *testing.T) {
		rule := switchPlateRule(models.StyleMatchAny, models.QtyModeSum, 0)
		rule.Targets = []models.RulePartRef{{CategoryID: 2, StyleID: ptr(7)}}

		results := Match(items, []models.CompanionRule{rule}, snap)
		require.Len(t, results, 1)
		assert.Nil(t, results[0].TargetStyleID)
	})

	t.Run("auto inherits the trigger style", func(t *testing.T) {
		rule := switchPlateRule(models.StyleMatchAuto, models.QtyModeSum, 0)

		results := Match(items, []models.CompanionRule{rule}, snap)
		require.Len(t, results, 1)
		require.NotNil(t, results[0].TargetStyleID)
		assert.Equal(t, int64(4), *results[0].TargetStyleID)
	})
}

func TestMatch_AutoFansOutPerDistinctStyle(t *testing.T) {
	rule := switchPlateRule(models.StyleMatchAuto, models.QtyModeSum, 0)
	items := []models.TriggerItem{
		{CategoryID: 1, StyleID: ptr(4), Qty: 2},
		{CategoryID: 1, StyleID: ptr(5), Qty: 3},
		{CategoryID: 1, StyleID: ptr(4), Qty: 1},
		{CategoryID: 1, Qty: 6},
	}

	results := Match(items, []models.CompanionRule{rule}, testSnapshot())
	require.Len(t, results, 3)

	// Quantities come from only the items of each style
	byStyle := map[int64]models.MatchResult{}
	var unstyled *models.MatchResult
	for i, r := range results {
		if r.TargetStyleID == nil {
			unstyled = &results[i]
			continue
		}
		byStyle[*r.TargetStyleID] = r
	}

	assert.Equal(t, 3, byStyle[4].SuggestedQty)
	assert.Len(t, byStyle[4].MatchedItems, 2)
	assert.Equal(t, 3, byStyle[5].SuggestedQty)
	require.NotNil(t, unstyled)
	assert.Equal(t, 6, unstyled.SuggestedQty)
}

func TestMatch_OverlappingRulesBothFire(t *testing.T) {
	ruleA := switchPlateRule(models.StyleMatchAny, models.QtyModeSum, 0)
	ruleB := switchPlateRule(models.StyleMatchAny, models.QtyModeSum, 0)
	ruleB.ID = "rule-2"
	ruleB.Name = "Boxes too"
	ruleB.Targets = []models.RulePartRef{{CategoryID: 3}}

	results := Match([]models.TriggerItem{{CategoryID: 1, Qty: 2}}, []models.CompanionRule{ruleA, ruleB}, testSnapshot())
	assert.Len(t, results, 2)
}

func TestMatch_Idempotent(t *testing.T) {
	rules := []models.CompanionRule{switchPlateRule(models.StyleMatchAuto, models.QtyModeSum, 0)}
	items := []models.TriggerItem{
		{CategoryID: 1, StyleID: ptr(4), Qty: 4},
		{CategoryID: 1, StyleID: ptr(5), Qty: 1},
	}
	snap := testSnapshot()

	first := Match(items, rules, snap)
	second := Match(items, rules, snap)
	assert.Equal(t, first, second)
}

func TestMatch_SwitchesToCoverPlatesScenario(t *testing.T) {
	rule := switchPlateRule(models.StyleMatchAuto, models.QtyModeSum, 0)
	items := []models.TriggerItem{{CategoryID: 1, StyleID: ptr(4), Qty: 4}}

	results := Match(items, []models.CompanionRule{rule}, testSnapshot())
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, int64(2), r.TargetCategoryID)
	require.NotNil(t, r.TargetStyleID)
	assert.Equal(t, int64(4), *r.TargetStyleID)
	assert.Equal(t, 4, r.SuggestedQty)
	assert.Equal(t, "Cover Plates (Decora)", r.TargetDescription)
	assert.Equal(t, "Rule 'Switch plates': 4x Switches (Decora) = 4x Cover Plates (Decora)", r.ReasonText)
}
