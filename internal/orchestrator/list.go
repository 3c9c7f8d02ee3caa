package orchestrator

import "context"

// ListEntry pairs an upstream version with its publication state
type ListEntry struct {
	Version   string
	Published bool
}

// List reports every upstream version and whether it is already
// published, oldest first. With missingOnly, published versions are
// filtered out.
func (o *Orchestrator) List(ctx context.Context, missingOnly bool) ([]ListEntry, error) {
	upstream, err := o.fetcher.ListVersions(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := o.client.ListTags(ctx)
	if err != nil {
		return nil, err
	}

	published := make(map[string]struct{}, len(existing))
	for _, tag := range existing {
		published[tag] = struct{}{}
	}

	entries := make([]ListEntry, 0, len(upstream))
	for _, v := range upstream {
		_, ok := published[v]
		if missingOnly && ok {
			continue
		}
		entries = append(entries, ListEntry{Version: v, Published: ok})
	}
	return entries, nil
}
