package pipeline

// Definition is the executable pipeline document submitted to the workflow
// engine: a comment, an entry state and a named state graph.
type Definition struct {
	Comment string           `json:"Comment,omitempty"`
	StartAt string           `json:"StartAt"`
	States  map[string]State `json:"States"`
}

// State is one node of the pipeline definition.
type State struct {
	Type          string                 `json:"Type"`
	Resource      string                 `json:"Resource,omitempty"`
	OutputPath    string                 `json:"OutputPath,omitempty"`
	Parameters    map[string]interface{} `json:"Parameters,omitempty"`
	Retry         []RetryPolicy          `json:"Retry,omitempty"`
	Catch         []CatchPolicy          `json:"Catch,omitempty"`
	Next          string                 `json:"Next,omitempty"`
	End           bool                   `json:"End,omitempty"`
	DiscardResult bool                   `json:"DiscardResult,omitempty"`
}

// RetryPolicy describes how a state retries on matching error classes.
type RetryPolicy struct {
	ErrorEquals     []string `json:"ErrorEquals"`
	IntervalSeconds int      `json:"IntervalSeconds"`
	MaxAttempts     int      `json:"MaxAttempts"`
	BackoffRate     float64  `json:"BackoffRate"`
}

// CatchPolicy routes matching errors to a recovery state.
type CatchPolicy struct {
	ErrorEquals []string `json:"ErrorEquals"`
	Next        string   `json:"Next"`
}

const (
	stateTypeTask    = "Task"
	stateTypeSucceed = "Succeed"

	resourceInvokeFunction = "workflow:invoke-function"
	resourceSendMessage    = "workflow:send-message"

	errorClassAll = "Errors.ALL"
)

// retryableErrorClasses are the transient processor failures every
// parse/transform/write state retries on.
var retryableErrorClasses = []string{
	"Processor.ServiceException",
	"Processor.ClientException",
	"Processor.ThrottlingException",
	"Processor.TooManyRequestsException",
}

func defaultRetryPolicy() []RetryPolicy {
	return []RetryPolicy{
		{
			ErrorEquals:     retryableErrorClasses,
			IntervalSeconds: 1,
			MaxAttempts:     3,
			BackoffRate:     2,
		},
	}
}

func taskState(function string, payload map[string]interface{}, nextState string) State {
	return State{
		Type:       stateTypeTask,
		Resource:   resourceInvokeFunction,
		OutputPath: "$.Payload",
		Parameters: map[string]interface{}{
			"FunctionName": function,
			"Payload":      payload,
		},
		Retry: defaultRetryPolicy(),
		Next:  nextState,
	}
}

// billingState emits the fire-and-forget billing message. It retries on all
// errors and catches all errors to the terminal state, so a billing outage
// never fails the pipeline run.
func billingState(queue string) State {
	return State{
		Type:     stateTypeTask,
		Resource: resourceSendMessage,
		Parameters: map[string]interface{}{
			"QueueUrl": queue,
			"MessageBody": map[string]interface{}{
				"executionId.$":        "$.attributes.executionId",
				"workflowId.$":         "$.attributes.workflowId",
				"ownerId.$":            "$.attributes.ownerId",
				"eventId.$":            "$.attributes.eventId",
				"executionStartTime.$": "$$.Execution.StartTime",
			},
		},
		Retry: []RetryPolicy{
			{
				ErrorEquals:     []string{errorClassAll},
				IntervalSeconds: 1,
				MaxAttempts:     3,
				BackoffRate:     2,
			},
		},
		Catch: []CatchPolicy{
			{ErrorEquals: []string{errorClassAll}, Next: stateNameEnd},
		},
		End:           true,
		DiscardResult: true,
	}
}
