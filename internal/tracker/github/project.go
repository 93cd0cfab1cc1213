package github

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pagesync/pagesync/internal/tracker"
)

// Field names the sync reads and writes on the two board types.
var (
	projectTaskFields      = []string{"Status", "Priority", "Sprint"}
	projectMilestoneFields = []string{"Status", "Priority", "Start Date", "Target Date", "Link"}
)

// ProjectV2 wraps one GitHub project board. The field metadata is
// fetched once and cached; populating it twice when raced is harmless.
type ProjectV2 struct {
	NodeID string

	client     *Client
	fieldNames []string

	mu     sync.Mutex
	fields map[string]*ghProjectField
}

// NewProjectV2 creates a board wrapper for the given node id.
func NewProjectV2(client *Client, nodeID string, fieldNames []string) *ProjectV2 {
	return &ProjectV2{NodeID: nodeID, client: client, fieldNames: fieldNames}
}

// fetchFields loads the board's field metadata on first use.
func (p *ProjectV2) fetchFields(ctx context.Context) (map[string]*ghProjectField, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fields != nil {
		return p.fields, nil
	}

	const query = `query($id: ID!) {
  node(id: $id) {
    ... on ProjectV2 {
      id
      fields(first: 50) {
        nodes {
          ... on ProjectV2Field { id name dataType }
          ... on ProjectV2SingleSelectField { id name dataType options { id name } }
          ... on ProjectV2IterationField {
            id name dataType
            configuration {
              iterations { id title startDate duration }
              completedIterations { id title startDate duration }
            }
          }
        }
      }
    }
  }
}`
	var resp struct {
		Node struct {
			Fields struct {
				Nodes []ghProjectField `json:"nodes"`
			} `json:"fields"`
		} `json:"node"`
	}
	if err := p.client.Do(ctx, query, map[string]any{"id": p.NodeID}, &resp); err != nil {
		return nil, fmt.Errorf("fetching project %s fields: %w", p.NodeID, err)
	}

	p.fields = make(map[string]*ghProjectField, len(resp.Node.Fields.Nodes))
	for i := range resp.Node.Fields.Nodes {
		field := &resp.Node.Fields.Nodes[i]
		p.fields[field.Name] = field
	}
	return p.fields, nil
}

// Field returns one field's metadata by name.
func (p *ProjectV2) Field(ctx context.Context, name string) (*ghProjectField, error) {
	fields, err := p.fetchFields(ctx)
	if err != nil {
		return nil, err
	}
	field, ok := fields[name]
	if !ok {
		return nil, fmt.Errorf("project %s has no field %q", p.NodeID, name)
	}
	return field, nil
}

// Sprints lists the board's iterations as sprints, classifying each by
// its date range relative to now.
func (p *ProjectV2) Sprints(ctx context.Context, now time.Time) ([]*tracker.Sprint, error) {
	field, err := p.Field(ctx, "Sprint")
	if err != nil {
		return nil, err
	}
	if field.Configuration == nil {
		return nil, fmt.Errorf("project %s field Sprint is not an iteration field", p.NodeID)
	}

	var sprints []*tracker.Sprint
	for _, iter := range field.Configuration.Iterations {
		sprints = append(sprints, iterationSprint(iter, now))
	}
	for _, iter := range field.Configuration.CompletedIterations {
		s := iterationSprint(iter, now)
		s.Status = tracker.SprintPast
		sprints = append(sprints, s)
	}
	return sprints, nil
}

// iterationSprint converts a board iteration. The end date is the start
// plus duration minus one: a one-week iteration spans seven calendar
// days inclusive.
func iterationSprint(iter ghIteration, now time.Time) *tracker.Sprint {
	start, _ := time.Parse("2006-01-02", iter.StartDate)
	end := start.AddDate(0, 0, iter.Duration-1)
	s := &tracker.Sprint{
		ID:        iter.ID,
		Name:      iter.Title,
		StartDate: start,
		EndDate:   end,
	}
	s.Status = s.StatusAt(now)
	return s
}

// IssueRefs lists every issue on the board, paginating through its
// items. Non-issue content (drafts, pull requests) is skipped.
func (p *ProjectV2) IssueRefs(ctx context.Context) ([]tracker.IssueRef, error) {
	const query = `query($id: ID!, $cursor: String) {
  node(id: $id) {
    ... on ProjectV2 {
      items(first: 100, after: $cursor) {
        nodes {
          content { ... on Issue { number repository { nameWithOwner } } }
        }
        pageInfo { hasNextPage endCursor }
      }
    }
  }
}`
	var refs []tracker.IssueRef
	cursor := ""
	for {
		vars := map[string]any{"id": p.NodeID}
		if cursor != "" {
			vars["cursor"] = cursor
		}
		var resp struct {
			Node struct {
				Items struct {
					Nodes []struct {
						Content *struct {
							Number     int          `json:"number"`
							Repository ghRepository `json:"repository"`
						} `json:"content"`
					} `json:"nodes"`
					PageInfo ghPageInfo `json:"pageInfo"`
				} `json:"items"`
			} `json:"node"`
		}
		if err := p.client.Do(ctx, query, vars, &resp); err != nil {
			return nil, fmt.Errorf("listing project %s items: %w", p.NodeID, err)
		}
		for _, item := range resp.Node.Items.Nodes {
			if item.Content == nil || item.Content.Number == 0 {
				continue
			}
			refs = append(refs, tracker.IssueRef{
				Repo: item.Content.Repository.NameWithOwner,
				ID:   strconv.Itoa(item.Content.Number),
			})
		}
		if !resp.Node.Items.PageInfo.HasNextPage {
			return refs, nil
		}
		cursor = resp.Node.Items.PageInfo.EndCursor
	}
}

// findItem returns the issue's project item belonging to this board, or
// nil when the issue is not on it.
func (p *ProjectV2) findItem(issue *ghIssue) *ghProjectItem {
	for i := range issue.ProjectItems.Nodes {
		if issue.ProjectItems.Nodes[i].Project.ID == p.NodeID {
			return &issue.ProjectItems.Nodes[i]
		}
	}
	return nil
}

// addItem puts the issue on the board and returns the new item id.
func (p *ProjectV2) addItem(ctx context.Context, issueNodeID string) (string, error) {
	const mutation = `mutation($project: ID!, $content: ID!) {
  addProjectV2ItemById(input: {projectId: $project, contentId: $content}) {
    item { id }
  }
}`
	var resp struct {
		AddProjectV2ItemByID struct {
			Item struct {
				ID string `json:"id"`
			} `json:"item"`
		} `json:"addProjectV2ItemById"`
	}
	vars := map[string]any{"project": p.NodeID, "content": issueNodeID}
	if err := p.client.Do(ctx, mutation, vars, &resp); err != nil {
		return "", fmt.Errorf("adding issue to project %s: %w", p.NodeID, err)
	}
	return resp.AddProjectV2ItemByID.Item.ID, nil
}

// fieldUpdate is one desired board field value.
type fieldUpdate struct {
	Field string
	// Value is the desired value: string for text/date/single select.
	Value string
	// Old is the currently stored value, "" when unset.
	Old string
}

// UpdateItemFields writes the changed fields of one board item in a
// single mutation. Fields whose stored value already matches are left
// out; nothing is sent when every field matches.
func (p *ProjectV2) UpdateItemFields(ctx context.Context, itemID string, updates []fieldUpdate) error {
	sent := 0
	var b strings.Builder
	b.WriteString("mutation {\n")

	for i, upd := range updates {
		if upd.Old == upd.Value {
			continue
		}
		field, err := p.Field(ctx, upd.Field)
		if err != nil {
			return err
		}

		var valueLiteral string
		switch field.DataType {
		case "TEXT":
			valueLiteral = fmt.Sprintf("{text: %q}", upd.Value)
		case "DATE":
			if upd.Value == "" {
				continue
			}
			valueLiteral = fmt.Sprintf("{date: %q}", upd.Value)
		case "SINGLE_SELECT":
			optionID := ""
			for _, opt := range field.Options {
				if opt.Name == upd.Value {
					optionID = opt.ID
					break
				}
			}
			if optionID == "" {
				return fmt.Errorf("project %s field %q has no option %q", p.NodeID, upd.Field, upd.Value)
			}
			valueLiteral = fmt.Sprintf("{singleSelectOptionId: %q}", optionID)
		default:
			return fmt.Errorf("project %s field %q has unsupported type %s", p.NodeID, upd.Field, field.DataType)
		}

		fmt.Fprintf(&b,
			"  update%d: updateProjectV2ItemFieldValue(input: {projectId: %q, itemId: %q, fieldId: %q, value: %s}) { clientMutationId }\n",
			i, p.NodeID, itemID, field.ID, valueLiteral)
		sent++
	}
	b.WriteString("}")

	if sent == 0 {
		return nil
	}
	if err := p.client.Do(ctx, b.String(), nil, nil); err != nil {
		return fmt.Errorf("updating project %s item %s: %w", p.NodeID, itemID, err)
	}
	return nil
}
