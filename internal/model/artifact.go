package model

// Commit is one analyzed repository commit, persisted in commits.yaml.
type Commit struct {
	Hash         string       `yaml:"hash"`
	Message      string       `yaml:"message"`
	Author       string       `yaml:"author"`
	Date         string       `yaml:"date"`
	Parents      []string     `yaml:"parents"`
	FilesChanged []FileChange `yaml:"files_changed"`
}

type FileChange struct {
	Status string `yaml:"status"`
	Path   string `yaml:"path"`
}

// CommitLog is the analyze_commits artifact for one repository.
type CommitLog struct {
	SchemaVersion int      `yaml:"schema_version"`
	Repo          string   `yaml:"repo"`
	Commits       []Commit `yaml:"commits"`
}

// Candidate is one task candidate as returned by the discovery LLM call,
// before it is accepted and registered as a Task work item.
type Candidate struct {
	Name                 string   `yaml:"name" json:"name"`
	Instruction          string   `yaml:"instruction" json:"instruction"`
	TranscriptSegment    string   `yaml:"transcript_segment" json:"transcript_segment"`
	TranscriptExcerpt    string   `yaml:"transcript_excerpt,omitempty" json:"transcript_excerpt"`
	CommitHash           string   `yaml:"commit_hash" json:"commit_hash"`
	CommitMessage        string   `yaml:"commit_message,omitempty" json:"commit_message"`
	Difficulty           string   `yaml:"difficulty,omitempty" json:"difficulty"`
	EstimatedTimeMinutes int      `yaml:"estimated_time_minutes,omitempty" json:"estimated_time_minutes"`
	Tags                 []string `yaml:"tags,omitempty" json:"tags"`
}

// TaskSpec is the per-task artifact written at discovery time and consumed
// by extraction, test generation, and validation.
type TaskSpec struct {
	SchemaVersion        int      `yaml:"schema_version"`
	TaskID               string   `yaml:"task_id"`
	Name                 string   `yaml:"name"`
	Instruction          string   `yaml:"instruction"`
	Difficulty           string   `yaml:"difficulty"`
	EstimatedTimeMinutes int      `yaml:"estimated_time_minutes"`
	Tags                 []string `yaml:"tags,omitempty"`
	VideoID              string   `yaml:"video_id"`
	RepoName             string   `yaml:"repo_name"`
	BaseRef              string   `yaml:"base_ref"`
	HeadRef              string   `yaml:"head_ref"`
	CommitMessage        string   `yaml:"commit_message,omitempty"`
	TranscriptSegment    string   `yaml:"transcript_segment,omitempty"`
	GroundTruthFiles     int      `yaml:"ground_truth_files,omitempty"`
	StartingPointFiles   int      `yaml:"starting_point_files,omitempty"`
}

// ValidationResult records the validation stage outcome for one task.
// A quality warning is not a stage failure; it is persisted here so no
// mismatching task is ever silently dropped.
type ValidationResult struct {
	SchemaVersion       int    `yaml:"schema_version"`
	TaskID              string `yaml:"task_id"`
	GroundTruthPassed   bool   `yaml:"ground_truth_passed"`
	StartingPointPassed bool   `yaml:"starting_point_passed"`
	Valid               bool   `yaml:"valid"`
	Warning             string `yaml:"warning,omitempty"`
	GroundTruthOutput   string `yaml:"ground_truth_output,omitempty"`
	StartingPointOutput string `yaml:"starting_point_output,omitempty"`
	ValidatedAt         string `yaml:"validated_at"`
}
