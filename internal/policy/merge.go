// Package policy implements workspace policy reconciliation for clone
// operations. Merging is computed pure: callers apply the returned set only
// when the merge succeeds, so a conflict always leaves the destination's
// stored policies untouched.
package policy

import (
	"fmt"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
)

const (
	Namespace = "terra"

	RegionConstraintName = "region-constraint"
	GroupConstraintName  = "group-constraint"

	regionDataKey = "region-name"
	groupDataKey  = "group"
)

// RegionPolicy builds a region-constraint input allowing the given regions.
func RegionPolicy(regions ...string) core.PolicyInput {
	p := core.PolicyInput{Namespace: Namespace, Name: RegionConstraintName}
	for _, r := range regions {
		p.AdditionalData = append(p.AdditionalData, core.KVPair{Key: regionDataKey, Value: r})
	}
	return p
}

// GroupPolicy builds a group-constraint input binding the given groups.
func GroupPolicy(groups ...string) core.PolicyInput {
	p := core.PolicyInput{Namespace: Namespace, Name: GroupConstraintName}
	for _, g := range groups {
		p.AdditionalData = append(p.AdditionalData, core.KVPair{Key: groupDataKey, Value: g})
	}
	return p
}

// Merge combines the source workspace's policies into the destination's set
// and returns the merged result. Per-type rules:
//
//   - region-constraint: intersection of allowed regions. A destination with
//     no region policy adopts the source's. An empty intersection is a
//     conflict.
//   - group-constraint: union of group names, unless the destination is
//     already bound to groups disjoint from the source's, which is a
//     conflict.
//   - anything else: destination's entry wins; source entries for types the
//     destination lacks are adopted.
//
// On conflict the returned error is conflict-class and the result is nil.
func Merge(dest, src []core.PolicyInput) ([]core.PolicyInput, error) {
	merged := core.ClonePolicies(dest)

	for _, sp := range src {
		idx := indexOf(merged, sp.Namespace, sp.Name)
		if idx < 0 {
			merged = append(merged, core.ClonePolicies([]core.PolicyInput{sp})[0])
			continue
		}
		switch {
		case sp.Namespace == Namespace && sp.Name == RegionConstraintName:
			inter := intersect(merged[idx].Values(regionDataKey), sp.Values(regionDataKey))
			if len(inter) == 0 {
				return nil, core.NewAppErrorf(core.ErrPolicyConflict,
					"region policies have no regions in common (destination %v, source %v)",
					merged[idx].Values(regionDataKey), sp.Values(regionDataKey))
			}
			merged[idx] = RegionPolicy(inter...)
		case sp.Namespace == Namespace && sp.Name == GroupConstraintName:
			destGroups := merged[idx].Values(groupDataKey)
			srcGroups := sp.Values(groupDataKey)
			if len(destGroups) > 0 && len(srcGroups) > 0 && len(intersect(destGroups, srcGroups)) == 0 {
				return nil, core.NewAppErrorf(core.ErrPolicyConflict,
					"destination is bound to groups %v, source requires disjoint groups %v",
					destGroups, srcGroups)
			}
			merged[idx] = GroupPolicy(union(destGroups, srcGroups)...)
		default:
			// Unrecognized policy type: keep the destination's entry.
		}
	}
	return merged, nil
}

// AllowedRegions returns the merged set's allowed regions, or nil when no
// region constraint is present (any region allowed).
func AllowedRegions(policies []core.PolicyInput) []string {
	idx := indexOf(policies, Namespace, RegionConstraintName)
	if idx < 0 {
		return nil
	}
	return policies[idx].Values(regionDataKey)
}

// ValidateRegion checks a resource's declared region against the merged
// policy set. Runs only after the workspace-level merge passes, and only for
// clones that place a physical resource: reference clones make no placement
// decision and are exempt.
func ValidateRegion(region string, policies []core.PolicyInput) error {
	if region == "" {
		return nil
	}
	allowed := AllowedRegions(policies)
	if allowed == nil {
		return nil
	}
	for _, a := range allowed {
		if a == region {
			return nil
		}
	}
	return core.NewAppError(core.ErrPolicyConflict,
		fmt.Sprintf("resource region %q is outside the allowed regions %v", region, allowed))
}

func indexOf(policies []core.PolicyInput, namespace, name string) int {
	for i, p := range policies {
		if p.Namespace == namespace && p.Name == name {
			return i
		}
	}
	return -1
}

func intersect(a, b []string) []string {
	set := map[string]bool{}
	for _, v := range a {
		set[v] = true
	}
	var out []string
	for _, v := range b {
		if set[v] {
			out = append(out, v)
			set[v] = false
		}
	}
	return out
}

func union(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range append(append([]string{}, a...), b...) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
