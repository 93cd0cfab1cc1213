package tracker

// Fields maps the engine's static field keys to the property names of a
// concrete record schema, so one engine works against differently
// labeled databases. An empty name disables the field.
type Fields struct {
	TasksTitle             string
	TasksAssignee          string
	TasksDates             string
	TasksPlannedDates      string
	TasksPriority          string
	TasksStatus            string
	TasksMilestoneRelation string
	TasksSprintRelation    string
	TasksTextAssignee      string
	TasksReviewURL         string
	TasksLabels            string
	TasksWhiteboard        string
	TasksRepository        string
	TasksOpenClose         string

	MilestonesTitle    string
	MilestonesAssignee string
	MilestonesPriority string
	MilestonesStatus   string
	MilestonesDates    string

	IssueField string

	SprintTitle     string
	SprintStatus    string
	SprintDates     string
	SprintTrackerID string

	// RepositoryMap renames repo namespaces before writing the
	// repository select, e.g. collapsing fork names.
	RepositoryMap map[string]string

	PriorityValues   []string
	DefaultOpenState string
	ClosedStates     []string
	CanceledState    string
	InProgressState  string
}

// DefaultFields returns the stock field names; project configuration
// overrides individual entries.
func DefaultFields() Fields {
	return Fields{
		TasksTitle:             "Task name",
		TasksAssignee:          "Owner",
		TasksDates:             "Dates",
		TasksPriority:          "Priority",
		TasksStatus:            "Status",
		TasksMilestoneRelation: "Project",
		TasksSprintRelation:    "Sprint",

		MilestonesTitle:    "Project",
		MilestonesAssignee: "Owner",
		MilestonesPriority: "Priority",
		MilestonesStatus:   "Status",
		MilestonesDates:    "Dates",

		IssueField: "Issue Link",

		SprintTitle:     "Sprint name",
		SprintStatus:    "Sprint status",
		SprintDates:     "Dates",
		SprintTrackerID: "Sprint ID",

		PriorityValues:   []string{"P1", "P2", "P3", "P4", "P5"},
		DefaultOpenState: "Backlog",
		ClosedStates:     []string{"Done", "Canceled"},
		CanceledState:    "Canceled",
		InProgressState:  "In progress",
	}
}

// IsClosedState reports whether a record status counts as closed.
func (f *Fields) IsClosedState(status string) bool {
	for _, s := range f.ClosedStates {
		if s == status {
			return true
		}
	}
	return false
}

// MappedRepository returns the select value for a repo namespace,
// applying the remap table.
func (f *Fields) MappedRepository(repo string) string {
	if mapped, ok := f.RepositoryMap[repo]; ok {
		return mapped
	}
	return repo
}
