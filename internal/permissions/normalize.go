package permissions

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/liana-admin/liana/internal/filters"
)

// snapshot is the normalized result of one control-plane fetch. Collections
// holds canonical permissions; Scopes is keyed by rendering then collection.
type snapshot struct {
	Collections map[string]CollectionPermissions
	Scopes      map[string]map[string]ScopeDefinition
}

type collectionFlags struct {
	BrowseEnabled Value `json:"browseEnabled"`
	ReadEnabled   Value `json:"readEnabled"`
	EditEnabled   Value `json:"editEnabled"`
	AddEnabled    Value `json:"addEnabled"`
	DeleteEnabled Value `json:"deleteEnabled"`
	ExportEnabled Value `json:"exportEnabled"`
}

type scopePayload struct {
	Filter              json.RawMessage `json:"filter"`
	DynamicScopesValues struct {
		Users map[string]map[string]any `json:"users"`
	} `json:"dynamicScopesValues"`
}

type roleCondition struct {
	RoleID int             `json:"roleId"`
	Filter json.RawMessage `json:"filter"`
}

type rolesACLAction struct {
	TriggerEnabled             Value           `json:"triggerEnabled"`
	TriggerConditions          []roleCondition `json:"triggerConditions"`
	ApprovalRequired           Value           `json:"approvalRequired"`
	ApprovalRequiredConditions []roleCondition `json:"approvalRequiredConditions"`
	UserApprovalEnabled        Value           `json:"userApprovalEnabled"`
	UserApprovalConditions     []roleCondition `json:"userApprovalConditions"`
}

type rolesACLCollection struct {
	Collection collectionFlags           `json:"collection"`
	Actions    map[string]rolesACLAction `json:"actions"`
}

type rolesACLData struct {
	Collections map[string]rolesACLCollection          `json:"collections"`
	Renderings  map[string]map[string]renderingPayload `json:"renderings"`
}

type renderingPayload struct {
	Scope *scopePayload `json:"scope"`
}

type teamsACLAction struct {
	Allowed bool          `json:"allowed"`
	Users   []json.Number `json:"users"`
}

type teamsACLCollection struct {
	Collection collectionFlags           `json:"collection"`
	Actions    map[string]teamsACLAction `json:"actions"`
	Scope      *scopePayload             `json:"scope"`
}

// normalizeRolesACL decodes the canonical payload. It is already in the
// target model and merges in directly.
func normalizeRolesACL(raw json.RawMessage) (*snapshot, error) {
	var data rolesACLData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("permissions: decode roles ACL payload: %w", err)
	}

	result := &snapshot{
		Collections: make(map[string]CollectionPermissions, len(data.Collections)),
		Scopes:      make(map[string]map[string]ScopeDefinition, len(data.Renderings)),
	}
	for name, entry := range data.Collections {
		actions := make(map[string]ActionPermission, len(entry.Actions))
		for actionName, action := range entry.Actions {
			triggerConds, err := decodeRoleConditions(action.TriggerConditions)
			if err != nil {
				return nil, err
			}
			approvalReqConds, err := decodeRoleConditions(action.ApprovalRequiredConditions)
			if err != nil {
				return nil, err
			}
			approvalConds, err := decodeRoleConditions(action.UserApprovalConditions)
			if err != nil {
				return nil, err
			}
			actions[actionName] = ActionPermission{
				TriggerEnabled:             action.TriggerEnabled,
				TriggerConditions:          triggerConds,
				RequiresApproval:           action.ApprovalRequired,
				RequiresApprovalConditions: approvalReqConds,
				ApprovalEnabled:            action.UserApprovalEnabled,
				ApprovalConditions:         approvalConds,
			}
		}
		result.Collections[name] = CollectionPermissions{
			Browse:  entry.Collection.BrowseEnabled,
			Read:    entry.Collection.ReadEnabled,
			Edit:    entry.Collection.EditEnabled,
			Add:     entry.Collection.AddEnabled,
			Delete:  entry.Collection.DeleteEnabled,
			Export:  entry.Collection.ExportEnabled,
			Actions: actions,
		}
	}
	for renderingID, renderingCollections := range data.Renderings {
		scopes := make(map[string]ScopeDefinition, len(renderingCollections))
		for name, payload := range renderingCollections {
			scope, err := decodeScope(payload.Scope)
			if err != nil {
				return nil, err
			}
			if scope != nil {
				scopes[name] = *scope
			}
		}
		result.Scopes[renderingID] = scopes
	}
	return result, nil
}

// normalizeTeamsACL converts the legacy per-rendering payload into the
// canonical model. Legacy action permissions fold into triggerEnabled:
// a users list restricts the grant to members, otherwise the boolean stands.
func normalizeTeamsACL(renderingID string, raw json.RawMessage) (*snapshot, error) {
	var data map[string]teamsACLCollection
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("permissions: decode teams ACL payload: %w", err)
	}

	result := &snapshot{
		Collections: make(map[string]CollectionPermissions, len(data)),
		Scopes:      map[string]map[string]ScopeDefinition{renderingID: make(map[string]ScopeDefinition)},
	}
	for name, entry := range data {
		actions := make(map[string]ActionPermission, len(entry.Actions))
		for actionName, action := range entry.Actions {
			actions[actionName] = ActionPermission{TriggerEnabled: foldLegacyTrigger(action)}
		}
		result.Collections[name] = CollectionPermissions{
			Browse:  entry.Collection.BrowseEnabled,
			Read:    entry.Collection.ReadEnabled,
			Edit:    entry.Collection.EditEnabled,
			Add:     entry.Collection.AddEnabled,
			Delete:  entry.Collection.DeleteEnabled,
			Export:  entry.Collection.ExportEnabled,
			Actions: actions,
		}
		scope, err := decodeScope(entry.Scope)
		if err != nil {
			return nil, err
		}
		if scope != nil {
			result.Scopes[renderingID][name] = *scope
		}
	}
	return result, nil
}

func foldLegacyTrigger(action teamsACLAction) Value {
	if action.Users == nil {
		return Value{Everyone: action.Allowed}
	}
	if !action.Allowed {
		return Value{}
	}
	ids := make([]int, 0, len(action.Users))
	for _, number := range action.Users {
		if id, err := strconv.Atoi(number.String()); err == nil {
			ids = append(ids, id)
		}
	}
	return Value{IDs: ids}
}

func decodeRoleConditions(conditions []roleCondition) (map[int]filters.Tree, error) {
	if len(conditions) == 0 {
		return nil, nil
	}
	result := make(map[int]filters.Tree, len(conditions))
	for _, condition := range conditions {
		tree, err := filters.Parse(condition.Filter)
		if err != nil {
			return nil, fmt.Errorf("permissions: role %d condition: %w", condition.RoleID, err)
		}
		result[condition.RoleID] = tree
	}
	return result, nil
}

func decodeScope(payload *scopePayload) (*ScopeDefinition, error) {
	if payload == nil {
		return nil, nil
	}
	tree, err := filters.Parse(payload.Filter)
	if err != nil {
		return nil, fmt.Errorf("permissions: scope filter: %w", err)
	}
	if tree == nil {
		return nil, nil
	}
	dynamicValues := make(map[int]map[string]any, len(payload.DynamicScopesValues.Users))
	for rawUserID, values := range payload.DynamicScopesValues.Users {
		userID, err := strconv.Atoi(rawUserID)
		if err != nil {
			return nil, fmt.Errorf("permissions: scope user id %q: %w", rawUserID, err)
		}
		dynamicValues[userID] = values
	}
	return &ScopeDefinition{Filter: tree, DynamicValues: dynamicValues}, nil
}
