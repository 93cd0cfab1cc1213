package github

import "time"

// Wire-level structs matching the GraphQL response shapes. Field values
// on project items are aliased per field in the query, so they decode
// into named members here.

type ghActor struct {
	ID    string `json:"id"`
	Login string `json:"login"`
}

type ghLabel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ghRepository struct {
	NameWithOwner string `json:"nameWithOwner"`
}

type ghSelectValue struct {
	Name     string `json:"name"`
	OptionID string `json:"optionId"`
}

type ghDateValue struct {
	Date string `json:"date"`
}

type ghTextValue struct {
	Text string `json:"text"`
}

type ghIterationValue struct {
	IterationID string `json:"iterationId"`
	Title       string `json:"title"`
	StartDate   string `json:"startDate"`
	Duration    int    `json:"duration"`
}

type ghProjectItem struct {
	ID      string `json:"id"`
	Project struct {
		ID string `json:"id"`
	} `json:"project"`
	Status     *ghSelectValue    `json:"status"`
	Priority   *ghSelectValue    `json:"priority"`
	StartDate  *ghDateValue      `json:"startDate"`
	TargetDate *ghDateValue      `json:"targetDate"`
	Link       *ghTextValue      `json:"link"`
	Sprint     *ghIterationValue `json:"sprint"`
}

type ghIssue struct {
	ID         string       `json:"id"`
	Number     int          `json:"number"`
	Title      string       `json:"title"`
	Body       string       `json:"body"`
	State      string       `json:"state"`
	URL        string       `json:"url"`
	CreatedAt  time.Time    `json:"createdAt"`
	ClosedAt   *time.Time   `json:"closedAt"`
	Repository ghRepository `json:"repository"`
	Parent     *struct {
		Number     int          `json:"number"`
		Repository ghRepository `json:"repository"`
	} `json:"parent"`
	Labels struct {
		Nodes []ghLabel `json:"nodes"`
	} `json:"labels"`
	Assignees struct {
		Nodes []ghActor `json:"nodes"`
	} `json:"assignees"`
	ProjectItems struct {
		Nodes []ghProjectItem `json:"nodes"`
	} `json:"projectItems"`
	SubIssues *struct {
		Nodes []struct {
			Number int `json:"number"`
		} `json:"nodes"`
	} `json:"subIssues"`
}

type ghPageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

type ghIteration struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	StartDate string `json:"startDate"`
	Duration  int    `json:"duration"`
}

type ghProjectField struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	DataType      string `json:"dataType"`
	Options       []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"options"`
	Configuration *struct {
		Iterations          []ghIteration `json:"iterations"`
		CompletedIterations []ghIteration `json:"completedIterations"`
	} `json:"configuration"`
}

// issueFieldsFragment selects everything parseIssue needs per issue; the
// project-item field values are aliased so they decode into
// ghProjectItem members.
const issueFieldsFragment = `fragment issueFields on Issue {
  id number title body state url createdAt closedAt
  repository { nameWithOwner }
  parent { number repository { nameWithOwner } }
  labels(first: 100) { nodes { id name } }
  assignees(first: 10) { nodes { id login } }
  projectItems(first: 10, includeArchived: true) {
    nodes {
      id
      project { ... on ProjectV2 { id } }
      status: fieldValueByName(name: "Status") {
        ... on ProjectV2ItemFieldSingleSelectValue { name optionId }
      }
      priority: fieldValueByName(name: "Priority") {
        ... on ProjectV2ItemFieldSingleSelectValue { name optionId }
      }
      startDate: fieldValueByName(name: "Start Date") {
        ... on ProjectV2ItemFieldDateValue { date }
      }
      targetDate: fieldValueByName(name: "Target Date") {
        ... on ProjectV2ItemFieldDateValue { date }
      }
      link: fieldValueByName(name: "Link") {
        ... on ProjectV2ItemFieldTextValue { text }
      }
      sprint: fieldValueByName(name: "Sprint") {
        ... on ProjectV2ItemFieldIterationValue { iterationId title startDate duration }
      }
    }
  }
}`
