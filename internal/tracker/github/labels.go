package github

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// LabelCache resolves label names to node ids per repository. Entries
// are idempotent lookups, so concurrent fetches may populate the same
// repo redundantly without harm.
type LabelCache struct {
	client *Client

	mu    sync.Mutex
	cache map[string]map[string]string // repo -> label name -> id
}

// NewLabelCache creates an empty cache backed by client.
func NewLabelCache(client *Client) *LabelCache {
	return &LabelCache{
		client: client,
		cache:  make(map[string]map[string]string),
	}
}

func (lc *LabelCache) repoCache(repo string) map[string]string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.cache[repo] == nil {
		lc.cache[repo] = make(map[string]string)
	}
	return lc.cache[repo]
}

// All fetches every label of a repository, paginating until exhausted.
func (lc *LabelCache) All(ctx context.Context, repo string) (map[string]string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	cached := lc.repoCache(repo)

	const query = `query($owner: String!, $name: String!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    labels(first: 100, after: $cursor) {
      nodes { id name }
      pageInfo { hasNextPage endCursor }
    }
  }
}`

	cursor := ""
	for {
		vars := map[string]any{"owner": owner, "name": name}
		if cursor != "" {
			vars["cursor"] = cursor
		}
		var resp struct {
			Repository struct {
				Labels struct {
					Nodes    []ghLabel  `json:"nodes"`
					PageInfo ghPageInfo `json:"pageInfo"`
				} `json:"labels"`
			} `json:"repository"`
		}
		if err := lc.client.Do(ctx, query, vars, &resp); err != nil {
			return nil, fmt.Errorf("listing labels for %s: %w", repo, err)
		}

		lc.mu.Lock()
		for _, label := range resp.Repository.Labels.Nodes {
			cached[label.Name] = label.ID
		}
		lc.mu.Unlock()

		if !resp.Repository.Labels.PageInfo.HasNextPage {
			return cached, nil
		}
		cursor = resp.Repository.Labels.PageInfo.EndCursor
	}
}

// Get resolves the given label names to ids, fetching only the ones not
// yet cached. Labels the repository does not have are absent from the
// result.
func (lc *LabelCache) Get(ctx context.Context, repo string, labels []string) (map[string]string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	cached := lc.repoCache(repo)

	res := make(map[string]string)
	var remaining []string

	lc.mu.Lock()
	for _, label := range labels {
		if id, ok := cached[label]; ok {
			res[label] = id
		} else {
			remaining = append(remaining, label)
		}
	}
	lc.mu.Unlock()

	if len(remaining) == 0 {
		return res, nil
	}

	var b strings.Builder
	b.WriteString("query($owner: String!, $name: String!) {\n  repository(owner: $owner, name: $name) {\n")
	for i, label := range remaining {
		fmt.Fprintf(&b, "    label_%d: label(name: %q) { id }\n", i, label)
	}
	b.WriteString("  }\n}")

	var resp struct {
		Repository map[string]*struct {
			ID string `json:"id"`
		} `json:"repository"`
	}
	if err := lc.client.Do(ctx, b.String(), map[string]any{"owner": owner, "name": name}, &resp); err != nil {
		return nil, fmt.Errorf("resolving labels for %s: %w", repo, err)
	}

	lc.mu.Lock()
	for i, label := range remaining {
		if node := resp.Repository[fmt.Sprintf("label_%d", i)]; node != nil {
			cached[label] = node.ID
			res[label] = node.ID
		}
	}
	lc.mu.Unlock()

	return res, nil
}

func splitRepo(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("malformed repository %q, want owner/name", repo)
	}
	return owner, name, nil
}
