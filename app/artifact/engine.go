package artifact

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/arbor/app/errs"
	"github.com/umputun/arbor/app/ids"
)

// Engine maintains artifact levels on writes and builds tree projections on reads
type Engine struct {
	store     Store
	hierarchy *Hierarchy

	mu sync.Mutex // serializes structural writes

	cfgLock sync.RWMutex
	configs RootConfigs
}

// Params for NewEngine
type Params struct {
	Hierarchy *Hierarchy  // optional, used for labels only
	Configs   RootConfigs // optional, decorates root nodes with linked config
}

// NewEngine makes tree engine for the given store
func NewEngine(store Store, params Params) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("artifact store is not set: %w", errs.ErrConfiguration)
	}
	return &Engine{store: store, hierarchy: params.Hierarchy, configs: params.Configs}, nil
}

// SetConfigs sets root configs lookup. Config manager depends on engine, so it can't be passed to NewEngine.
func (e *Engine) SetConfigs(c RootConfigs) {
	e.cfgLock.Lock()
	defer e.cfgLock.Unlock()
	e.configs = c
}

// Hierarchy returns configured hierarchy, nil if not set
func (e *Engine) Hierarchy() *Hierarchy { return e.hierarchy }

// Save inserts or updates artifact. Level is computed from parent on insert and on parent change,
// in the later case the whole subtree of the artifact is re-leveled.
func (e *Engine) Save(ctx context.Context, a Artifact) (Artifact, error) {
	a, err := e.prepare(a)
	if err != nil {
		return Artifact{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLinked(ctx, a); err != nil {
		return Artifact{}, err
	}
	var res Artifact
	err = e.store.Atomic(ctx, func(tx Store) error {
		var saveErr error
		res, saveErr = e.save(ctx, tx, a)
		return saveErr
	})
	if err != nil {
		return Artifact{}, err
	}
	return res, nil
}

// SaveAll saves batch of artifacts in one transaction. Parents go first, so a node referencing
// another node of the same batch gets correct level regardless of the batch order.
func (e *Engine) SaveAll(ctx context.Context, items []Artifact) ([]Artifact, error) {
	prepared := make([]Artifact, 0, len(items))
	for _, a := range items {
		p, err := e.prepare(a)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, p)
	}
	ordered, err := orderBatch(prepared)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, a := range ordered {
		if err := e.checkLinked(ctx, a); err != nil {
			return nil, err
		}
	}
	saved := make(map[string]Artifact, len(ordered))
	err = e.store.Atomic(ctx, func(tx Store) error {
		for _, a := range ordered {
			r, saveErr := e.save(ctx, tx, a)
			if saveErr != nil {
				return fmt.Errorf("can't save %s: %w", a.ID, saveErr)
			}
			saved[r.ID] = r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// results in the caller's order
	res := make([]Artifact, 0, len(prepared))
	for _, a := range prepared {
		res = append(res, saved[a.ID])
	}
	log.Printf("[DEBUG] saved batch of %d artifacts", len(res))
	return res, nil
}

// Get returns artifact by id
func (e *Engine) Get(ctx context.Context, id string) (Artifact, error) {
	id, err := ids.Lookup(id)
	if err != nil {
		return Artifact{}, err
	}
	return e.store.Get(ctx, id)
}

// Delete removes a single artifact. Its children keep dangling parent reference and become roots,
// so their subtrees are re-leveled.
func (e *Engine) Delete(ctx context.Context, id string) error {
	id, err := ids.Lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.store.Atomic(ctx, func(tx Store) error {
		if _, err := tx.Get(ctx, id); err != nil {
			return err
		}
		children, err := tx.Children(ctx, id)
		if err != nil {
			return fmt.Errorf("can't get children of %s: %w", id, err)
		}
		if err := tx.Delete(ctx, id); err != nil {
			return fmt.Errorf("can't delete %s: %w", id, err)
		}
		for _, c := range children {
			if err := e.relevel(ctx, tx, c.ID, 0); err != nil {
				return err
			}
		}
		log.Printf("[DEBUG] deleted artifact %s, %d children detached", id, len(children))
		return nil
	})
}

// DeleteSubtree removes artifact with all its descendants and returns number of removed rows
func (e *Engine) DeleteSubtree(ctx context.Context, id string) (int, error) {
	id, err := ids.Lookup(id)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	count := 0
	err = e.store.Atomic(ctx, func(tx Store) error {
		rows, err := tx.Subtree(ctx, id)
		if err != nil {
			return fmt.Errorf("can't get subtree of %s: %w", id, err)
		}
		if len(rows) == 0 {
			return fmt.Errorf("artifact %s: %w", id, errs.ErrNotFound)
		}
		for _, r := range rows {
			if err := tx.Delete(ctx, r.ID); err != nil {
				return fmt.Errorf("can't delete %s: %w", r.ID, err)
			}
		}
		count = len(rows)
		return nil
	})
	if err != nil {
		return 0, err
	}
	log.Printf("[DEBUG] deleted subtree %s, %d artifacts", id, count)
	return count, nil
}

// FindSubtree returns artifact and all its transitive descendants, in no particular order.
// Empty result for unknown id.
func (e *Engine) FindSubtree(ctx context.Context, id string) ([]Artifact, error) {
	id, err := ids.Lookup(id)
	if err != nil {
		return nil, err
	}
	return e.store.Subtree(ctx, id)
}

// BuildTree makes nested tree rooted at id. Returns nil if id is unknown.
// Every node of the result has non-nil children, sorted by id.
func (e *Engine) BuildTree(ctx context.Context, id string) (*TreeNode, error) {
	rows, err := e.FindSubtree(ctx, id)
	if err != nil {
		return nil, err
	}
	rootID, _ := ids.Lookup(id) // already validated by FindSubtree
	res := e.assemble(ctx, rootID, rows)
	if res != nil && res.Size() != len(rows) {
		log.Printf("[WARN] tree %s has %d nodes, subtree has %d rows", rootID, res.Size(), len(rows))
	}
	return res, nil
}

// Expand returns single node projection with nil children. Returns nil if id is unknown.
func (e *Engine) Expand(ctx context.Context, id string) (*TreeNode, error) {
	a, err := e.Get(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return e.node(ctx, a, nil), nil
}

// WithRoot calls fn for root artifact id while structural writes are blocked, so the artifact
// stays a root until fn returns. Returns errs.ErrValidation for artifact with parent reference.
func (e *Engine) WithRoot(ctx context.Context, id string, fn func(a Artifact) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, err := e.Get(ctx, id)
	if err != nil {
		return err
	}
	if !a.IsRoot() {
		return fmt.Errorf("artifact %s has parent %s, only root can be linked: %w", a.ID, a.ParentID, errs.ErrValidation)
	}
	return fn(a)
}

// Root walks parent chain and returns the top artifact. Dangling parent stops the walk.
func (e *Engine) Root(ctx context.Context, id string) (Artifact, error) {
	a, err := e.Get(ctx, id)
	if err != nil {
		return Artifact{}, err
	}
	seen := map[string]bool{a.ID: true}
	for a.ParentID != "" {
		p, err := e.store.Get(ctx, a.ParentID)
		if errors.Is(err, errs.ErrNotFound) {
			break
		}
		if err != nil {
			return Artifact{}, fmt.Errorf("can't get parent %s: %w", a.ParentID, err)
		}
		if seen[p.ID] {
			return Artifact{}, fmt.Errorf("parent cycle at %s: %w", p.ID, errs.ErrValidation)
		}
		seen[p.ID] = true
		a = p
	}
	return a, nil
}

// prepare normalizes ids and payload, assigns id if missing
func (e *Engine) prepare(a Artifact) (Artifact, error) {
	var err error
	if a.ID == "" {
		a.ID = ids.New()
	} else if a.ID, err = ids.Parse(a.ID); err != nil {
		return Artifact{}, err
	}
	if a.ParentID != "" {
		if a.ParentID, err = ids.Parse(a.ParentID); err != nil {
			return Artifact{}, err
		}
	}
	if a.ParentID == a.ID {
		return Artifact{}, fmt.Errorf("artifact %s can't be its own parent: %w", a.ID, errs.ErrValidation)
	}
	if a.Payload, err = a.Payload.Normalize(); err != nil {
		return Artifact{}, err
	}
	return a, nil
}

// save is upsert within transaction, caller holds the write lock
func (e *Engine) save(ctx context.Context, tx Store, a Artifact) (Artifact, error) {
	now := time.Now().UTC()
	existing, err := tx.Get(ctx, a.ID)
	if errors.Is(err, errs.ErrNotFound) {
		a.CreatedAt, a.UpdatedAt = now, now
		return e.insert(ctx, tx, a)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("can't get %s: %w", a.ID, err)
	}

	a.CreatedAt, a.UpdatedAt = existing.CreatedAt, now
	if a.ParentID == existing.ParentID {
		a.Level = existing.Level
		if err := tx.Update(ctx, a); err != nil {
			return Artifact{}, fmt.Errorf("can't update %s: %w", a.ID, err)
		}
		return a, nil
	}

	// parent changed, new parent must not be inside of the moved subtree
	if a.ParentID != "" {
		found, err := e.inSubtree(ctx, tx, a.ID, a.ParentID)
		if err != nil {
			return Artifact{}, err
		}
		if found {
			return Artifact{}, fmt.Errorf("can't move %s under its descendant %s: %w", a.ID, a.ParentID, errs.ErrValidation)
		}
	}
	if a.Level, err = e.levelFor(ctx, tx, a.ParentID); err != nil {
		return Artifact{}, err
	}
	if err := tx.Update(ctx, a); err != nil {
		return Artifact{}, fmt.Errorf("can't update %s: %w", a.ID, err)
	}
	if err := e.relevel(ctx, tx, a.ID, a.Level); err != nil {
		return Artifact{}, err
	}
	log.Printf("[DEBUG] artifact %s moved to parent %q, level %d", a.ID, a.ParentID, a.Level)
	return a, nil
}

// insert adds a new artifact. Rows already referencing its id had a dangling parent,
// they are adopted by the new node and their subtrees re-leveled.
func (e *Engine) insert(ctx context.Context, tx Store, a Artifact) (Artifact, error) {
	orphans, err := tx.Children(ctx, a.ID)
	if err != nil {
		return Artifact{}, fmt.Errorf("can't get children of %s: %w", a.ID, err)
	}
	if a.ParentID != "" {
		for _, o := range orphans {
			found, err := e.inSubtree(ctx, tx, o.ID, a.ParentID)
			if err != nil {
				return Artifact{}, err
			}
			if found {
				return Artifact{}, fmt.Errorf("can't insert %s under its descendant %s: %w", a.ID, a.ParentID, errs.ErrValidation)
			}
		}
	}

	if a.Level, err = e.levelFor(ctx, tx, a.ParentID); err != nil {
		return Artifact{}, err
	}
	if err := tx.Insert(ctx, a); err != nil {
		return Artifact{}, fmt.Errorf("can't insert %s: %w", a.ID, err)
	}
	for _, o := range orphans {
		if err := e.relevel(ctx, tx, o.ID, a.Level+1); err != nil {
			return Artifact{}, err
		}
	}
	if len(orphans) > 0 {
		log.Printf("[DEBUG] artifact %s adopted %d children with dangling parent", a.ID, len(orphans))
	}
	return a, nil
}

// inSubtree checks if id is rootID or one of its descendants
func (e *Engine) inSubtree(ctx context.Context, tx Store, rootID, id string) (bool, error) {
	rows, err := tx.Subtree(ctx, rootID)
	if err != nil {
		return false, fmt.Errorf("can't get subtree of %s: %w", rootID, err)
	}
	for _, r := range rows {
		if r.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// checkLinked rejects attaching a parent to artifact linked to a config, links are for roots only
func (e *Engine) checkLinked(ctx context.Context, a Artifact) error {
	if a.ParentID == "" {
		return nil
	}
	e.cfgLock.RLock()
	configs := e.configs
	e.cfgLock.RUnlock()
	if configs == nil {
		return nil
	}
	cfg, err := configs.ConfigForRoot(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("can't check config link of %s: %w", a.ID, err)
	}
	if cfg != nil {
		return fmt.Errorf("artifact %s is linked to config %q, unlink it before moving: %w", a.ID, cfg.Name, errs.ErrValidation)
	}
	return nil
}

// levelFor returns level of a node with the given parent, missing parent means root
func (e *Engine) levelFor(ctx context.Context, tx Store, parentID string) (int, error) {
	if parentID == "" {
		return 0, nil
	}
	p, err := tx.Get(ctx, parentID)
	if errors.Is(err, errs.ErrNotFound) {
		log.Printf("[DEBUG] parent %s not found, treated as root", parentID)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("can't get parent %s: %w", parentID, err)
	}
	return p.Level + 1, nil
}

// relevel sets level of rootID and recomputes levels of all descendants walking down from it
func (e *Engine) relevel(ctx context.Context, tx Store, rootID string, level int) error {
	rows, err := tx.Subtree(ctx, rootID)
	if err != nil {
		return fmt.Errorf("can't get subtree of %s: %w", rootID, err)
	}
	current := make(map[string]int, len(rows))
	children := make(map[string][]string, len(rows))
	for _, r := range rows {
		current[r.ID] = r.Level
		if r.ID != rootID {
			children[r.ParentID] = append(children[r.ParentID], r.ID)
		}
	}

	type item struct {
		id    string
		level int
	}
	queue := []item{{id: rootID, level: level}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if lvl, ok := current[it.id]; !ok || lvl != it.level {
			if err := tx.SetLevel(ctx, it.id, it.level); err != nil {
				return fmt.Errorf("can't set level of %s: %w", it.id, err)
			}
		}
		for _, c := range children[it.id] {
			queue = append(queue, item{id: c, level: it.level + 1})
		}
	}
	return nil
}

// assemble builds nested tree from flat rows in two passes, returns nil if root is not in rows
func (e *Engine) assemble(ctx context.Context, rootID string, rows []Artifact) *TreeNode {
	nodes := make(map[string]*TreeNode, len(rows))
	for _, r := range rows {
		nodes[r.ID] = e.node(ctx, r, []*TreeNode{})
	}
	root, ok := nodes[rootID]
	if !ok {
		return nil
	}
	for _, r := range rows {
		if r.ID == rootID {
			continue
		}
		if parent, ok := nodes[r.ParentID]; ok {
			parent.Children = append(parent.Children, nodes[r.ID])
		}
	}
	for _, n := range nodes {
		sort.Slice(n.Children, func(i, j int) bool { return n.Children[i].ID < n.Children[j].ID })
	}
	return root
}

// node makes decorated projection of a single artifact
func (e *Engine) node(ctx context.Context, a Artifact, children []*TreeNode) *TreeNode {
	res := &TreeNode{Artifact: a, LevelLabel: e.hierarchy.Label(a.Level), Children: children}
	if e.hierarchy != nil {
		res.Hierarchy = e.hierarchy.Name
	}
	if a.Level != 0 {
		return res
	}

	e.cfgLock.RLock()
	configs := e.configs
	e.cfgLock.RUnlock()
	if configs == nil {
		return res
	}
	cfg, err := configs.ConfigForRoot(ctx, a.ID)
	if err != nil {
		log.Printf("[WARN] can't get config for root %s, %v", a.ID, err)
		return res
	}
	res.Config = cfg
	return res
}

// orderBatch sorts batch so parents from the same batch go before their children
func orderBatch(items []Artifact) ([]Artifact, error) {
	byID := make(map[string]Artifact, len(items))
	for _, a := range items {
		if _, dup := byID[a.ID]; dup {
			return nil, fmt.Errorf("duplicate artifact %s in batch: %w", a.ID, errs.ErrValidation)
		}
		byID[a.ID] = a
	}

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(items))
	res := make([]Artifact, 0, len(items))
	var visit func(a Artifact) error
	visit = func(a Artifact) error {
		switch state[a.ID] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("parent cycle in batch at %s: %w", a.ID, errs.ErrValidation)
		}
		state[a.ID] = visiting
		if p, ok := byID[a.ParentID]; ok {
			if err := visit(p); err != nil {
				return err
			}
		}
		state[a.ID] = done
		res = append(res, a)
		return nil
	}
	for _, a := range items {
		if err := visit(a); err != nil {
			return nil, err
		}
	}
	return res, nil
}
