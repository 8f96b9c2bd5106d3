package model

import "time"

type JobStatus string

const (
	JobInitializing JobStatus = "initializing"
	JobProcessing   JobStatus = "processing"
	JobCompleted    JobStatus = "completed"
	JobFailed       JobStatus = "failed"
)

// Terminal reports whether no further mutation is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

type Step string

const (
	StepStarting        Step = "starting"
	StepDownloading     Step = "downloading"
	StepTranscribing    Step = "transcribing"
	StepAnalyzing       Step = "analyzing"
	StepGeneratingClips Step = "generating_clips"
	StepCompleted       Step = "completed"
)

var stepOrder = map[Step]int{
	StepStarting:        0,
	StepDownloading:     1,
	StepTranscribing:    2,
	StepAnalyzing:       3,
	StepGeneratingClips: 4,
	StepCompleted:       5,
}

// Rank returns the position of the step in the pipeline, or -1 if unknown.
func (s Step) Rank() int {
	if r, ok := stepOrder[s]; ok {
		return r
	}
	return -1
}

type Clip struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	StartTime     float64 `json:"start_time"`
	EndTime       float64 `json:"end_time"`
	Duration      float64 `json:"duration"`
	FilePath      string  `json:"file_path"`
	ThumbnailPath string  `json:"thumbnail_path,omitempty"`
}

type Job struct {
	ID          string    `json:"job_id"`
	SourceURL   string    `json:"source_url,omitempty"`
	Status      JobStatus `json:"status"`
	CurrentStep Step      `json:"current_step"`
	Progress    float64   `json:"progress"`
	Message     string    `json:"message"`
	Error       string    `json:"error,omitempty"`
	Clips       []Clip    `json:"clips"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers never share the clip slice.
func (j Job) Clone() Job {
	out := j
	out.Clips = append(make([]Clip, 0, len(j.Clips)), j.Clips...)
	return out
}

// JobPatch carries the fields to merge into a Job; nil fields are left untouched.
type JobPatch struct {
	Status      *JobStatus
	CurrentStep *Step
	Progress    *float64
	Message     *string
	Error       *string
}

// HighlightSpec is what a highlight selector returns, with times still as text.
type HighlightSpec struct {
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type Highlight struct {
	Title        string
	Description  string
	StartTime    string
	EndTime      string
	StartSeconds float64
	EndSeconds   float64
	Duration     float64
}

type JobEventType string

const (
	EventJobCreated   JobEventType = "job_created"
	EventJobProgress  JobEventType = "job_progress"
	EventClipReady    JobEventType = "clip_ready"
	EventJobCompleted JobEventType = "job_completed"
	EventJobFailed    JobEventType = "job_failed"
)

type JobEvent struct {
	Seq   int64        `json:"seq"`
	JobID string       `json:"job_id"`
	Type  JobEventType `json:"type"`
	TS    time.Time    `json:"ts"`
	Job   Job          `json:"job"`
}

func Ptr[T any](v T) *T {
	return &v
}
