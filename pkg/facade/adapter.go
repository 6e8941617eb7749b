package facade

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/cuemby/teeplane/pkg/apierrors"
	"github.com/cuemby/teeplane/pkg/store"
	"github.com/cuemby/teeplane/pkg/types"
)

// StoreAdapter implements VerbSurfacePort directly against a *store.Store,
// the reference binding a real HTTP gateway would use.
type StoreAdapter struct {
	Store *store.Store
}

// NewStoreAdapter constructs an adapter over s.
func NewStoreAdapter(s *store.Store) *StoreAdapter {
	return &StoreAdapter{Store: s}
}

// Translate implements VerbSurfacePort.
func (a *StoreAdapter) Translate(verb Verb, path string, params url.Values, body []byte, auth Identity) (Result, error) {
	p, err := ParsePath(path)
	if err != nil {
		return Result{}, err
	}

	ctx := context.Background()

	switch verb {
	case VerbGet:
		res, err := a.Store.Get(ctx, p.Kind, p.Namespace, p.Name)
		if err != nil {
			return Result{}, err
		}
		return Result{Resource: res}, nil

	case VerbList:
		filter, err := filterFromParams(p.Namespace, params)
		if err != nil {
			return Result{}, err
		}
		items, cont, err := a.Store.List(ctx, p.Kind, filter)
		if err != nil {
			return Result{}, err
		}
		return Result{List: &ListEnvelope{
			Items:       items,
			ListVersion: a.Store.ClusterVersion(),
			Continue:    cont,
		}}, nil

	case VerbCreate:
		if p.Name == "" {
			return Result{}, apierrors.New(apierrors.KindInternal, "create requires a resource name in the path")
		}
		labels, annotations := metadataFromParams(params)
		meta, err := a.Store.Create(ctx, p.Kind, p.Namespace, p.Name, body, labels, annotations)
		if err != nil {
			return Result{}, err
		}
		return Result{Resource: &types.Resource{Metadata: *meta, Payload: body}}, nil

	case VerbUpdate:
		expectedVersion, err := expectedVersionFromParams(params)
		if err != nil {
			return Result{}, err
		}
		labels, annotations := metadataFromParams(params)
		meta, err := a.Store.Update(ctx, p.Kind, p.Namespace, p.Name, body, labels, annotations, expectedVersion)
		if err != nil {
			return Result{}, err
		}
		return Result{Resource: &types.Resource{Metadata: *meta, Payload: body}}, nil

	case VerbDelete:
		expectedVersion, err := expectedVersionFromParams(params)
		if err != nil {
			return Result{}, err
		}
		if err := a.Store.Delete(ctx, p.Kind, p.Namespace, p.Name, expectedVersion); err != nil {
			return Result{}, err
		}
		return Result{Deleted: true}, nil

	default:
		return Result{}, apierrors.New(apierrors.KindInternal, "watch requests are not served through Translate; call Store.Watch directly")
	}
}

func filterFromParams(namespace string, params url.Values) (types.Filter, error) {
	filter := types.Filter{
		Namespace: namespace,
		Continue:  params.Get("continue"),
	}

	if raw := params.Get("labelSelector"); raw != "" {
		reqs, err := parseLabelSelector(raw)
		if err != nil {
			return types.Filter{}, err
		}
		filter.LabelSelector = reqs
	}

	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return types.Filter{}, apierrors.New(apierrors.KindInternal, "malformed limit parameter")
		}
		filter.Limit = limit
	}

	return filter, nil
}

// parseLabelSelector parses a comma-separated "key=value,key2=value2" form
// into equality LabelSelectorRequirements. Set-based operators are left to
// registered field selectors rather than the verb surface.
func parseLabelSelector(raw string) ([]types.LabelSelectorRequirement, error) {
	var reqs []types.LabelSelectorRequirement
	for _, clause := range strings.Split(raw, ",") {
		parts := strings.SplitN(clause, "=", 2)
		if len(parts) != 2 {
			return nil, apierrors.New(apierrors.KindInternal, "malformed labelSelector clause: "+clause)
		}
		reqs = append(reqs, types.LabelSelectorRequirement{
			Key:      parts[0],
			Operator: types.SelectorIn,
			Values:   []string{parts[1]},
		})
	}
	return reqs, nil
}

func expectedVersionFromParams(params url.Values) (uint64, error) {
	raw := params.Get("resourceVersion")
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apierrors.New(apierrors.KindInternal, "malformed resourceVersion parameter")
	}
	return v, nil
}

func metadataFromParams(params url.Values) (labels, annotations map[string]string) {
	if raw := params.Get("labelSelector"); raw != "" {
		labels = make(map[string]string)
		for _, clause := range strings.Split(raw, ",") {
			parts := strings.SplitN(clause, "=", 2)
			if len(parts) == 2 {
				labels[parts[0]] = parts[1]
			}
		}
	}
	return labels, annotations
}
