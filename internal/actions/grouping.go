package actions

import (
	"sort"

	"github.com/liana-admin/liana/internal/filters"
)

// ApprovalGroup bundles the roles sharing one content-equal condition so a
// single count query can decide eligibility for all of them.
type ApprovalGroup struct {
	RoleIDs   []int
	Condition filters.Tree
}

// GroupRolesByCondition partitions roles by their condition content. Roles
// with no condition come back separately: they are unconditionally eligible.
// Grouping keys on the structural fingerprint but membership is confirmed by
// deep equality, so a hash collision can never merge two different
// conditions on this security-sensitive path.
func GroupRolesByCondition(conditions map[int]filters.Tree) (groups []ApprovalGroup, unconditional []int) {
	buckets := make(map[uint64][]*ApprovalGroup)
	for roleID, condition := range conditions {
		if condition == nil {
			unconditional = append(unconditional, roleID)
			continue
		}
		key := filters.Fingerprint(condition)
		var group *ApprovalGroup
		for _, candidate := range buckets[key] {
			if filters.Equal(candidate.Condition, condition) {
				group = candidate
				break
			}
		}
		if group == nil {
			group = &ApprovalGroup{Condition: condition}
			buckets[key] = append(buckets[key], group)
		}
		group.RoleIDs = append(group.RoleIDs, roleID)
	}

	for _, bucket := range buckets {
		for _, group := range bucket {
			sort.Ints(group.RoleIDs)
			groups = append(groups, *group)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].RoleIDs[0] < groups[j].RoleIDs[0] })
	sort.Ints(unconditional)
	return groups, unconditional
}
