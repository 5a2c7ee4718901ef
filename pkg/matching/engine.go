// Package matching implements the companion rule matching algorithm. It is
// pure: no I/O, no stored state, and identical inputs always produce
// identical results.
package matching

import (
	"fmt"
	"math"
	"strings"

	"github.com/Ramsey-B/clover/pkg/catalog"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Match evaluates every active rule against the trigger items and returns one
// MatchResult per (rule, target, effective style) triple. Inactive rules
// never fire. Empty items or rules produce an empty result set.
func Match(items []models.TriggerItem, rules []models.CompanionRule, snap catalog.Snapshot) []models.MatchResult {
	results := []models.MatchResult{}
	if len(items) == 0 || len(rules) == 0 {
		return results
	}

	for i := range rules {
		rule := &rules[i]
		if !rule.IsActive {
			continue
		}

		matched := matchedItems(items, rule.Sources)
		if len(matched) == 0 {
			continue
		}

		for _, target := range rule.Targets {
			results = append(results, resolveTarget(rule, target, matched, snap)...)
		}
	}

	return results
}

// matchedItems collects every trigger item that matches at least one source
// definition. An item matches a source when the categories are equal and the
// source either has no style or the styles are equal.
func matchedItems(items []models.TriggerItem, sources []models.RulePartRef) []models.TriggerItem {
	matched := make([]models.TriggerItem, 0, len(items))
	for _, item := range items {
		for _, src := range sources {
			if item.CategoryID != src.CategoryID {
				continue
			}
			if src.StyleID != nil && (item.StyleID == nil || *item.StyleID != *src.StyleID) {
				continue
			}
			matched = append(matched, item)
			break
		}
	}
	return matched
}

// resolveTarget applies the rule's style policy to one target. Auto mode
// fans out to one result per distinct style observed among the matched
// items, each computed from only the items of that style.
func resolveTarget(rule *models.CompanionRule, target models.RulePartRef, matched []models.TriggerItem, snap catalog.Snapshot) []models.MatchResult {
	switch rule.StyleMatch {
	case models.StyleMatchExplicit:
		return []models.MatchResult{buildResult(rule, target.CategoryID, target.StyleID, matched, snap)}
	case models.StyleMatchAny:
		return []models.MatchResult{buildResult(rule, target.CategoryID, nil, matched, snap)}
	case models.StyleMatchAuto:
		results := []models.MatchResult{}
		for _, style := range distinctStyles(matched) {
			subset := itemsOfStyle(matched, style)
			results = append(results, buildResult(rule, target.CategoryID, style, subset, snap))
		}
		return results
	default:
		return nil
	}
}

// distinctStyles returns the styles observed among the matched items in
// first-seen order. A nil entry means the item carried no style.
func distinctStyles(items []models.TriggerItem) []*int64 {
	styles := []*int64{}
	seen := map[int64]bool{}
	seenNil := false
	for _, item := range items {
		if item.StyleID == nil {
			if !seenNil {
				seenNil = true
				styles = append(styles, nil)
			}
			continue
		}
		if !seen[*item.StyleID] {
			seen[*item.StyleID] = true
			styles = append(styles, item.StyleID)
		}
	}
	return styles
}

func itemsOfStyle(items []models.TriggerItem, style *int64) []models.TriggerItem {
	subset := []models.TriggerItem{}
	for _, item := range items {
		if style == nil && item.StyleID == nil {
			subset = append(subset, item)
		} else if style != nil && item.StyleID != nil && *item.StyleID == *style {
			subset = append(subset, item)
		}
	}
	return subset
}

func buildResult(rule *models.CompanionRule, targetCategoryID int64, targetStyleID *int64, matched []models.TriggerItem, snap catalog.Snapshot) models.MatchResult {
	qty := suggestedQty(rule, matched)
	desc := describe(targetCategoryID, targetStyleID, snap)
	return models.MatchResult{
		Rule:              rule,
		TargetCategoryID:  targetCategoryID,
		TargetStyleID:     targetStyleID,
		TargetDescription: desc,
		SuggestedQty:      qty,
		ReasonText:        reasonText(rule, matched, qty, desc, snap),
		MatchedItems:      matched,
	}
}

// suggestedQty derives the quantity from the matched set per the rule's
// quantity mode. Ratio rounds up so kits are never under-suggested.
func suggestedQty(rule *models.CompanionRule, matched []models.TriggerItem) int {
	sum := 0
	max := 0
	for _, item := range matched {
		sum += item.Qty
		if item.Qty > max {
			max = item.Qty
		}
	}

	switch rule.QtyMode {
	case models.QtyModeMax:
		return max
	case models.QtyModeRatio:
		return int(math.Ceil(float64(sum) * rule.QtyRatio))
	default:
		return sum
	}
}

func describe(categoryID int64, styleID *int64, snap catalog.Snapshot) string {
	if styleID != nil {
		return fmt.Sprintf("%s (%s)", snap.CategoryName(categoryID), snap.StyleName(*styleID))
	}
	return snap.CategoryName(categoryID)
}

// reasonText renders a human-readable explanation, e.g.
// "Rule 'Switch plates': 4x Switches (Decora) = 4x Cover Plates (Decora)"
func reasonText(rule *models.CompanionRule, matched []models.TriggerItem, qty int, targetDesc string, snap catalog.Snapshot) string {
	parts := make([]string, 0, len(matched))
	for _, item := range matched {
		parts = append(parts, fmt.Sprintf("%dx %s", item.Qty, describe(item.CategoryID, item.StyleID, snap)))
	}
	return fmt.Sprintf("Rule '%s': %s = %dx %s", rule.Name, strings.Join(parts, " + "), qty, targetDesc)
}
