// Package artifact implements the artifact tree engine. Artifacts are stored as flat adjacency rows
// (id, parent id, payload, level) and the engine keeps the level of every node consistent with its
// parent chain, rebuilds nested trees from unordered rows and decorates them with hierarchy labels
// and the config linked to the tree root.
//
// Level invariant: level is 0 if parent is absent or parent row doesn't exist anymore,
// otherwise parent's level + 1. Re-parenting a node recomputes levels of its whole subtree,
// which is O(subtree size).
package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/umputun/arbor/app/errs"
)

// Artifact is a single node of the artifact tree
type Artifact struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"` // weak reference, may dangle
	Payload   Payload   `json:"data"`
	Level     int       `json:"level"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsRoot checks if artifact has no parent reference
func (a Artifact) IsRoot() bool { return a.ParentID == "" }

// Hierarchy maps depth to a human readable label, used for read projections only
type Hierarchy struct {
	Name   string         `json:"name"`
	Labels map[int]string `json:"labels"`
}

// NewHierarchy makes hierarchy and rejects negative depths
func NewHierarchy(name string, labels map[int]string) (*Hierarchy, error) {
	res := &Hierarchy{Name: name, Labels: make(map[int]string, len(labels))}
	for depth, label := range labels {
		if depth < 0 {
			return nil, fmt.Errorf("hierarchy %q has negative depth %d: %w", name, depth, errs.ErrValidation)
		}
		res.Labels[depth] = label
	}
	return res, nil
}

// Label returns label for depth or "level_{depth}" if not defined
func (h *Hierarchy) Label(depth int) string {
	if h != nil {
		if label, ok := h.Labels[depth]; ok {
			return label
		}
	}
	return fmt.Sprintf("level_%d", depth)
}

// ConfigSummary is a short view of config linked to a root artifact
type ConfigSummary struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}

// TreeNode is a read projection of artifact. Children is nil for a single node projection
// and non-nil (possibly empty) on every node of a built tree.
type TreeNode struct {
	Artifact
	LevelLabel string         `json:"level_label"`
	Hierarchy  string         `json:"hierarchy,omitempty"`
	Config     *ConfigSummary `json:"config,omitempty"`
	Children   []*TreeNode    `json:"children"`
}

// Size returns number of nodes in the tree
func (n *TreeNode) Size() int {
	if n == nil {
		return 0
	}
	res := 1
	for _, c := range n.Children {
		res += c.Size()
	}
	return res
}

// Store is an adjacency-list row store for artifacts. Get returns errs.ErrNotFound for unknown id.
// Subtree returns the node and all transitive descendants in any order.
type Store interface {
	Get(ctx context.Context, id string) (Artifact, error)
	Insert(ctx context.Context, a Artifact) error
	Update(ctx context.Context, a Artifact) error
	SetLevel(ctx context.Context, id string, level int) error
	Delete(ctx context.Context, id string) error
	Subtree(ctx context.Context, id string) ([]Artifact, error)
	Children(ctx context.Context, id string) ([]Artifact, error)
	Atomic(ctx context.Context, fn func(tx Store) error) error
}

//go:generate moq -out mocks/root_configs.go -pkg mocks -skip-ensure -fmt goimports . RootConfigs

// RootConfigs finds config linked to a root artifact, returns nil if not linked
type RootConfigs interface {
	ConfigForRoot(ctx context.Context, artifactID string) (*ConfigSummary, error)
}
