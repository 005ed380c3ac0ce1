package primitive

import "sort"

// Collection holds the four ordered primitive lists produced by discovery,
// plus the shadowing bookkeeping described in spec §3: a local primitive
// shadows a dependency primitive sharing the same (kind, source_path).
type Collection struct {
	Chatmodes    []*Primitive
	Instructions []*Primitive
	Contexts     []*Primitive
	Workflows    []*Primitive

	// ShadowedPaths records dependency primitives that were shadowed by a
	// local one with the same kind and source path, keyed by
	// "<kind>:<source_path>".
	ShadowedPaths map[string]*Primitive
}

// NewCollection returns an empty Collection ready for merging.
func NewCollection() *Collection {
	return &Collection{ShadowedPaths: map[string]*Primitive{}}
}

func (c *Collection) listFor(kind Kind) *[]*Primitive {
	switch kind {
	case KindChatmode:
		return &c.Chatmodes
	case KindInstruction:
		return &c.Instructions
	case KindContext:
		return &c.Contexts
	case KindWorkflow:
		return &c.Workflows
	default:
		return nil
	}
}

// Merge folds src into c. isLocal marks src as the project's own primitives,
// which take precedence over anything already merged from a dependency
// sharing the same (kind, source_path).
func (c *Collection) Merge(src *Collection, isLocal bool) {
	for _, kind := range []Kind{KindChatmode, KindInstruction, KindContext, KindWorkflow} {
		srcList := *src.listFor(kind)
		dstList := c.listFor(kind)
		for _, p := range srcList {
			key := kind.String() + ":" + p.SourcePath
			if isLocal {
				c.shadow(key, dstList)
				*dstList = append(*dstList, p)
				continue
			}
			if _, shadowed := c.findByKey(*dstList, kind, p.SourcePath); shadowed {
				c.ShadowedPaths[key] = p
				continue
			}
			*dstList = append(*dstList, p)
		}
	}
}

// shadow removes any existing dependency entry with the given key from dst,
// recording it as shadowed.
func (c *Collection) shadow(key string, dst *[]*Primitive) {
	parts := splitKind(key)
	kept := (*dst)[:0:0]
	for _, p := range *dst {
		k := parts + ":" + p.SourcePath
		if k == key {
			c.ShadowedPaths[key] = p
			continue
		}
		kept = append(kept, p)
	}
	*dst = kept
}

func splitKind(key string) string {
	for i, r := range key {
		if r == ':' {
			return key[:i]
		}
	}
	return key
}

func (c *Collection) findByKey(list []*Primitive, kind Kind, sourcePath string) (*Primitive, bool) {
	for _, p := range list {
		if p.Kind == kind && p.SourcePath == sourcePath {
			return p, true
		}
	}
	return nil, false
}

// Sort orders every list by (kind, relative source path) using byte-wise
// comparison, guaranteeing deterministic downstream output (spec §4.2).
func (c *Collection) Sort() {
	for _, list := range [][]*Primitive{c.Chatmodes, c.Instructions, c.Contexts, c.Workflows} {
		sort.Slice(list, func(i, j int) bool {
			return list[i].SourcePath < list[j].SourcePath
		})
	}
}

// All returns every primitive across all four kinds, in (kind, source_path)
// order.
func (c *Collection) All() []*Primitive {
	out := make([]*Primitive, 0, len(c.Chatmodes)+len(c.Instructions)+len(c.Contexts)+len(c.Workflows))
	out = append(out, c.Chatmodes...)
	out = append(out, c.Instructions...)
	out = append(out, c.Contexts...)
	out = append(out, c.Workflows...)
	return out
}
