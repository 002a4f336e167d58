// Package permissions caches authorization data fetched from the control
// plane and decides whether a user may act on a collection. Both historical
// payload formats (teams ACL and roles ACL) are normalized into the single
// model in this file before any decision logic sees them.
package permissions

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/liana-admin/liana/internal/filters"
)

// Kind identifies the permission being checked.
type Kind string

const (
	KindBrowse  Kind = "browseEnabled"
	KindRead    Kind = "readEnabled"
	KindEdit    Kind = "editEnabled"
	KindAdd     Kind = "addEnabled"
	KindDelete  Kind = "deleteEnabled"
	KindExport  Kind = "exportEnabled"
	KindActions Kind = "actions"
)

// Value is the union of a boolean grant and a user-ID allow list. A boolean
// applies to everyone; a list restricts the permission to its members.
type Value struct {
	Everyone bool
	IDs      []int
}

// Allows reports whether the value grants access to the given ID.
func (v Value) Allows(id int) bool {
	if v.IDs == nil {
		return v.Everyone
	}
	for _, member := range v.IDs {
		if member == id {
			return true
		}
	}
	return false
}

// UnmarshalJSON accepts either a boolean or an array of IDs. IDs arrive as
// numbers or numeric strings depending on the payload generation.
func (v *Value) UnmarshalJSON(raw []byte) error {
	var asBool bool
	if err := json.Unmarshal(raw, &asBool); err == nil {
		v.Everyone = asBool
		v.IDs = nil
		return nil
	}
	var asList []json.Number
	if err := json.Unmarshal(raw, &asList); err != nil {
		return fmt.Errorf("permissions: value is neither boolean nor id list: %w", err)
	}
	ids := make([]int, 0, len(asList))
	for _, number := range asList {
		id, err := strconv.Atoi(number.String())
		if err != nil {
			return fmt.Errorf("permissions: non-integer id %q", number.String())
		}
		ids = append(ids, id)
	}
	v.Everyone = false
	v.IDs = ids
	return nil
}

// ActionPermission describes who may trigger and approve one smart action,
// with optional per-role record-matching conditions.
type ActionPermission struct {
	TriggerEnabled             Value
	TriggerConditions          map[int]filters.Tree
	RequiresApproval           Value
	RequiresApprovalConditions map[int]filters.Tree
	ApprovalEnabled            Value
	ApprovalConditions         map[int]filters.Tree
}

// CollectionPermissions is the canonical per-collection permission model.
type CollectionPermissions struct {
	Browse  Value
	Read    Value
	Edit    Value
	Add     Value
	Delete  Value
	Export  Value
	Actions map[string]ActionPermission
}

// ValueFor returns the collection-level value for a CRUD/export kind.
func (p CollectionPermissions) ValueFor(kind Kind) (Value, bool) {
	switch kind {
	case KindBrowse:
		return p.Browse, true
	case KindRead:
		return p.Read, true
	case KindEdit:
		return p.Edit, true
	case KindAdd:
		return p.Add, true
	case KindDelete:
		return p.Delete, true
	case KindExport:
		return p.Export, true
	default:
		return Value{}, false
	}
}

// ScopeDefinition is a mandatory filter applied to a user's queries on a
// collection. The filter template may reference $currentUser.* placeholders;
// DynamicValues carries each user's concrete substitutions.
type ScopeDefinition struct {
	Filter        filters.Tree
	DynamicValues map[int]map[string]any
}

// ValuesForUser returns the substitution map for a user, never nil.
func (s ScopeDefinition) ValuesForUser(userID int) map[string]any {
	if values, ok := s.DynamicValues[userID]; ok {
		return values
	}
	return map[string]any{}
}

// CheckInfo carries the request-specific inputs of a permission check.
type CheckInfo struct {
	UserID     int
	ActionName string
	Filters    filters.Tree
}
