package store

import (
	"sort"
	"sync"

	"github.com/cuemby/teeplane/pkg/types"
)

// record is a single stored resource: metadata plus its payload exactly as
// kept in memory (compressed per meta.Compressed).
type record struct {
	meta    types.Metadata
	payload []byte
}

// kindTable holds every resource of one kind, plus the namespace and label
// indexes kept coherent with it under the same lock.
type kindTable struct {
	mu sync.RWMutex

	byKey map[string]*record // "namespace/name" -> record

	// byNamespace maps namespace -> set of keys in that namespace.
	byNamespace map[string]map[string]struct{}

	// byLabel maps "key=value" -> set of keys carrying that label.
	byLabel map[string]map[string]struct{}

	// totalBytes is the sum of meta.Size across every stored record,
	// maintained under t.mu alongside byKey so Config.MemoryLimitBytes can
	// be enforced without a second pass over the table.
	totalBytes int64
}

func newKindTable() *kindTable {
	return &kindTable{
		byKey:       make(map[string]*record),
		byNamespace: make(map[string]map[string]struct{}),
		byLabel:     make(map[string]map[string]struct{}),
	}
}

func tableKey(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "/" + name
}

// indexAdd inserts key into the namespace and label indexes. Caller must
// hold t.mu for writing.
func (t *kindTable) indexAdd(key, namespace string, labels map[string]string) {
	ns := t.byNamespace[namespace]
	if ns == nil {
		ns = make(map[string]struct{})
		t.byNamespace[namespace] = ns
	}
	ns[key] = struct{}{}

	for k, v := range labels {
		lk := k + "=" + v
		set := t.byLabel[lk]
		if set == nil {
			set = make(map[string]struct{})
			t.byLabel[lk] = set
		}
		set[key] = struct{}{}
	}
}

// indexRemove undoes indexAdd. Caller must hold t.mu for writing.
func (t *kindTable) indexRemove(key, namespace string, labels map[string]string) {
	if ns, ok := t.byNamespace[namespace]; ok {
		delete(ns, key)
		if len(ns) == 0 {
			delete(t.byNamespace, namespace)
		}
	}

	for k, v := range labels {
		lk := k + "=" + v
		if set, ok := t.byLabel[lk]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(t.byLabel, lk)
			}
		}
	}
}

// candidateKeys returns the sorted set of keys to evaluate for a filter,
// narrowed by namespace when one is given. Caller must hold t.mu (read or
// write).
func (t *kindTable) candidateKeys(namespace string) []string {
	var keys []string
	if namespace != "" {
		for k := range t.byNamespace[namespace] {
			keys = append(keys, k)
		}
	} else {
		keys = make([]string, 0, len(t.byKey))
		for k := range t.byKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
