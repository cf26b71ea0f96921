package models

// Event types published for every pipeline invocation.
const (
	EventGuidanceCompleted    = "guidance.completed"
	EventGuidanceNotEmergency = "guidance.not_emergency"
	EventGuidanceFailed       = "guidance.failed"
)

// GuidanceCompleted is emitted when instructions were produced. Audio may
// be missing when synthesis failed under the availability-first policy.
type GuidanceCompleted struct {
	EventType         string `json:"eventType"`
	InvocationID      string `json:"invocationId"`
	Language          string `json:"language"`
	Timestamp         int64  `json:"timestamp"`
	KeywordCount      int    `json:"keywordCount"`
	InstructionsChars int    `json:"instructionsChars"`
	AudioAvailable    bool   `json:"audioAvailable"`
	AudioBytes        int    `json:"audioBytes"`
	AudioSource       string `json:"audioSource"`
	AudioError        string `json:"audioError,omitempty"`
	DurationMs        int64  `json:"durationMs"`
}

// GuidanceNotEmergency is emitted when the query was classified as not
// being an emergency.
type GuidanceNotEmergency struct {
	EventType    string `json:"eventType"`
	InvocationID string `json:"invocationId"`
	Language     string `json:"language"`
	Timestamp    int64  `json:"timestamp"`
	DurationMs   int64  `json:"durationMs"`
}

// GuidanceFailed is emitted when a stage failed and no guidance was returned.
type GuidanceFailed struct {
	EventType    string `json:"eventType"`
	InvocationID string `json:"invocationId"`
	Language     string `json:"language"`
	Timestamp    int64  `json:"timestamp"`
	Stage        string `json:"stage"`
	Kind         string `json:"kind"`
	Error        string `json:"error"`
	DurationMs   int64  `json:"durationMs"`
}
