package attach

import (
	"sort"

	"notekit/internal/resource"
)

// ResourcesStatus reports the least ready state among infos. An empty set is
// ready.
func ResourcesStatus(infos map[string]ResourceInfo) resource.FetchStatus {
	lowest := resource.StatusIndex(resource.StatusReady)
	for _, info := range infos {
		if idx := resource.StatusIndex(info.LocalState.FetchStatus); idx < lowest {
			lowest = idx
		}
	}
	return resource.StatusName(lowest)
}

// MissingResources lists the ids that are not ready yet, sorted.
func MissingResources(infos map[string]ResourceInfo) []string {
	var ids []string
	for id, info := range infos {
		if info.LocalState.FetchStatus != resource.StatusReady {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
