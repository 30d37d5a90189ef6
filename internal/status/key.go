package status

import (
	"fmt"
	"strings"
)

// GroupedKey locates a status record. It is comparable and can be used
// directly as a map key.
type GroupedKey struct {
	ProjectID string
	Env       string
	Kind      ContainerType
}

// NewGroupedKey builds a key from its three components.
func NewGroupedKey(projectID, env string, kind ContainerType) GroupedKey {
	return GroupedKey{ProjectID: projectID, Env: env, Kind: kind}
}

// String renders the key as projectId:env:kind.
func (k GroupedKey) String() string {
	return k.ProjectID + ":" + k.Env + ":" + string(k.Kind)
}

// ParseGroupedKey is the inverse of GroupedKey.String.
func ParseGroupedKey(s string) (GroupedKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return GroupedKey{}, fmt.Errorf("invalid grouped key %q: expected projectId:env:kind", s)
	}
	return GroupedKey{ProjectID: parts[0], Env: parts[1], Kind: ContainerType(parts[2])}, nil
}
