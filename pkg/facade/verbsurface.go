package facade

import (
	"net/url"
	"strings"

	"github.com/cuemby/teeplane/pkg/apierrors"
	"github.com/cuemby/teeplane/pkg/types"
)

// Verb is the operation a verb-surface request maps onto.
type Verb string

const (
	VerbGet    Verb = "Get"
	VerbList   Verb = "List"
	VerbCreate Verb = "Create"
	VerbUpdate Verb = "Update"
	VerbDelete Verb = "Delete"
	VerbWatch  Verb = "Watch"
)

// Identity is the caller identity an upstream auth layer has already
// established; the core does not authenticate, it only consumes the
// result.
type Identity struct {
	Subject string
	Groups  []string
}

// ParsedPath is the canonical path shape
// "/g/v/[namespaces/{ns}/]{kind}[/{name}]" broken into its parts.
type ParsedPath struct {
	Namespace string
	Kind      string
	Name      string
}

// ParsePath parses the canonical verb-surface path shape. Name is empty for
// a collection-level path (List); Namespace is empty for a cluster-scoped
// kind.
func ParsePath(path string) (ParsedPath, error) {
	segments := splitPath(path)
	if len(segments) < 3 || segments[0] != "g" {
		return ParsedPath{}, apierrors.New(apierrors.KindInternal, "malformed verb-surface path: "+path)
	}
	segments = segments[2:] // drop "g", "v"

	if len(segments) >= 2 && segments[0] == "namespaces" {
		if len(segments) < 3 {
			return ParsedPath{}, apierrors.New(apierrors.KindInternal, "malformed namespaced path: "+path)
		}
		p := ParsedPath{Namespace: segments[1], Kind: segments[2]}
		if len(segments) >= 4 {
			p.Name = segments[3]
		}
		return p, nil
	}

	p := ParsedPath{Kind: segments[0]}
	if len(segments) >= 2 {
		p.Name = segments[1]
	}
	return p, nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// ListEnvelope wraps a List result with the list_version metadata clients
// need to resume a watch from where the list left off.
type ListEnvelope struct {
	Items       []*types.Resource `json:"items"`
	ListVersion uint64            `json:"list_version"`
	Continue    string            `json:"continue,omitempty"`
}

// Result is what Translate returns: at most one of Resource/List/Deleted is
// meaningful, selected by the Verb that produced it.
type Result struct {
	Resource *types.Resource
	List     *ListEnvelope
	Deleted  bool
}

// VerbSurfacePort is the contract an HTTP (or other RPC) gateway binds to:
// it parses its own wire format down to (verb, path, params, body, auth)
// and hands off here, receiving back a store-shaped Result.
type VerbSurfacePort interface {
	Translate(verb Verb, path string, params url.Values, body []byte, auth Identity) (Result, error)
}
