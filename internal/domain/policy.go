package domain

import "time"

// Common placement policy types. Any constraint known to the instance registry
// is accepted.
const (
	PolicyAffinity     = "gather"
	PolicyAntiAffinity = "spread"
	PolicyHostPin      = "fence"
	PolicyHostExclude  = "ban"
	PolicyExclusive    = "lonely"
)

// PlacementPolicy is a placement constraint the DRS engine enforces on the
// inventory.
type PlacementPolicy struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Enabled    bool       `json:"enabled"`
	VMIDs      []string   `json:"vm_ids,omitempty"`
	NodeIDs    []string   `json:"node_ids,omitempty"`
	VMGroups   [][]string `json:"vm_groups,omitempty"`
	NodeGroups [][]string `json:"node_groups,omitempty"`
	Resource   string     `json:"resource,omitempty"`
	Amount     int        `json:"amount,omitempty"`
	Ratio      float64    `json:"ratio,omitempty"`
	Continuous bool       `json:"continuous"`

	CreatedAt time.Time `json:"created_at"`
}
