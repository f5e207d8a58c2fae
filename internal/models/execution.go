package models

// ExecuteOptions carries everything the execution capability needs besides
// the question itself. Provider and model travel here so concurrent tasks
// with different backends never share state.
type ExecuteOptions struct {
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	SourceLang string `json:"source_lang,omitempty"`
	TargetLang string `json:"target_lang,omitempty"`
}

// Payload is the structured output of a successful execution.
// Which fields are set depends on the operation.
type Payload struct {
	Content     string   `json:"content,omitempty"`
	Options     []string `json:"options,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
	Category    string   `json:"category,omitempty"`
	StageTag    string   `json:"stage_tag,omitempty"`
	TopicTags   []string `json:"topic_tags,omitempty"`
}

// Result is the outcome of one execution call: a payload on success, or a
// stage, code and message on failure.
type Result struct {
	OK      bool     `json:"ok"`
	Partial bool     `json:"partial,omitempty"`
	Payload *Payload `json:"payload,omitempty"`

	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Response string `json:"response,omitempty"`

	ErrorStage string `json:"error_stage,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Failure builds a failed Result.
func Failure(stage, code, message string) Result {
	return Result{ErrorStage: stage, ErrorCode: code, Message: message}
}
