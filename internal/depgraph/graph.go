// Package depgraph builds and orders the transitive dependency graph from a
// root manifest's dependencies.apm lists (C5): BFS traversal, cycle
// detection, and a leaves-first install order.
package depgraph

import (
	"context"
	"strings"

	"github.com/apm-dev/apm/internal/apmerr"
	"github.com/apm-dev/apm/internal/logger"
	"github.com/apm-dev/apm/internal/manifest"
)

// Ref is a parsed "owner/repo[#ref]" dependency declaration.
type Ref struct {
	Owner string
	Repo  string
	Ref   *string // nil means "default branch"
}

// Key returns the canonical node key "<owner>/<repo>".
func (r Ref) Key() string { return r.Owner + "/" + r.Repo }

// ParseRef parses a "owner/repo[#ref]" dependency string.
func ParseRef(s string) (Ref, error) {
	ownerRepo, ref, hasRef := strings.Cut(s, "#")
	owner, repo, ok := strings.Cut(ownerRepo, "/")
	if !ok || owner == "" || repo == "" {
		return Ref{}, apmerr.New(nil, apmerr.MalformedManifest, map[string]any{
			"dependency": s,
			"reason":     "expected \"owner/repo[#ref]\"",
		})
	}
	var refPtr *string
	if hasRef && ref != "" {
		refPtr = &ref
	}
	return Ref{Owner: owner, Repo: repo, Ref: refPtr}, nil
}

// Node is one resolved dependency in the graph.
type Node struct {
	Owner          string
	Repo           string
	RefRequested   *string
	ResolvedCommit *string
	Manifest       *manifest.Manifest
	Children       []*Node
}

func (n *Node) Key() string { return n.Owner + "/" + n.Repo }

// Graph is the resolved, cycle-free dependency DAG plus its leaves-first
// install order.
type Graph struct {
	Root         *Node
	Nodes        map[string]*Node
	InstallOrder []*Node
}

// ManifestResolver fetches just enough of a dependency to read its own
// dependencies.apm list and its resolved commit, without materializing a
// full archive. C6 supplies an implementation backed by C4.
type ManifestResolver interface {
	ResolveManifest(ctx context.Context, owner, repo string, ref *string) (
		manifest *manifest.Manifest, resolvedCommit string, err error,
	)
}

// Limits bounds graph exploration per spec §4.5.
type Limits struct {
	MaxDepth int
	MaxNodes int
}

// NewLimits wraps the raw ints so callers don't need to name the struct
// fields inline at every call site.
func NewLimits(maxDepth, maxNodes int) Limits {
	return Limits{MaxDepth: maxDepth, MaxNodes: maxNodes}
}

type queueItem struct {
	parent *Node
	ref    Ref
	depth  int
	path   []string // ancestor keys on the current traversal branch, including this ref's key
}

// Build performs a BFS over root's dependencies.apm, resolving each via
// resolver, detecting cycles along each traversal branch, and producing a
// topologically sorted install order (leaves first, ties broken by
// first-seen order).
func Build(
	ctx context.Context,
	root *manifest.Manifest,
	resolver ManifestResolver,
	limits Limits,
	log logger.Logger,
) (*Graph, []*apmerr.Error, error) {
	if log == nil {
		log = logger.FromContext(ctx)
	}
	g := &Graph{Nodes: map[string]*Node{}}
	rootNode := &Node{Manifest: root}
	g.Root = rootNode

	var warnings []*apmerr.Error
	var queue []queueItem
	for _, dep := range root.Dependencies.APM {
		parsed, err := ParseRef(dep)
		if err != nil {
			return nil, warnings, err
		}
		queue = append(queue, queueItem{parent: rootNode, ref: parsed, depth: 1, path: []string{parsed.Key()}})
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		key := item.ref.Key()

		if item.depth > limits.MaxDepth || len(g.Nodes) > limits.MaxNodes {
			return nil, warnings, apmerr.New(nil, apmerr.DependencyExplosion, map[string]any{
				"max_depth": limits.MaxDepth,
				"max_nodes": limits.MaxNodes,
			})
		}

		if existing, ok := g.Nodes[key]; ok {
			if refString(existing.RefRequested) != refString(item.ref.Ref) {
				warnings = append(warnings, apmerr.New(nil, apmerr.VersionOverride, map[string]any{
					"package":       key,
					"kept_ref":      refString(existing.RefRequested),
					"discarded_ref": refString(item.ref.Ref),
				}))
			}
			item.parent.Children = append(item.parent.Children, existing)
			continue
		}

		log.Debug("resolving dependency", "package", key, "ref", refString(item.ref.Ref))
		depManifest, sha, err := resolver.ResolveManifest(ctx, item.ref.Owner, item.ref.Repo, item.ref.Ref)
		if err != nil {
			return nil, warnings, err
		}
		node := &Node{
			Owner:          item.ref.Owner,
			Repo:           item.ref.Repo,
			RefRequested:   item.ref.Ref,
			ResolvedCommit: &sha,
			Manifest:       depManifest,
		}
		g.Nodes[key] = node
		item.parent.Children = append(item.parent.Children, node)

		for _, dep := range depManifest.Dependencies.APM {
			parsed, perr := ParseRef(dep)
			if perr != nil {
				return nil, warnings, perr
			}
			childKey := parsed.Key()
			if containsString(item.path, childKey) {
				return nil, warnings, apmerr.New(nil, apmerr.CircularDependency, map[string]any{
					"cycle": strings.Join(append(append([]string{}, item.path...), childKey), " -> "),
				})
			}
			childPath := append(append([]string{}, item.path...), childKey)
			queue = append(queue, queueItem{parent: node, ref: parsed, depth: item.depth + 1, path: childPath})
		}
	}

	g.InstallOrder = topoOrder(g)
	return g, warnings, nil
}

func refString(r *string) string {
	if r == nil {
		return "<default>"
	}
	return *r
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// topoOrder returns nodes leaves-first: a node appears only after all of its
// children, with ties at the same level broken by first-seen (insertion)
// order recorded implicitly by the DFS visiting the root's children in the
// order they were first queued.
func topoOrder(g *Graph) []*Node {
	order := make([]*Node, 0, len(g.Nodes))
	visited := map[string]bool{}
	var visit func(n *Node)
	visit = func(n *Node) {
		if visited[n.Key()] {
			return
		}
		visited[n.Key()] = true
		for _, c := range n.Children {
			visit(c)
		}
		if n != g.Root {
			order = append(order, n)
		}
	}
	visit(g.Root)
	return order
}
