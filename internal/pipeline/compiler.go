// Package pipeline compiles published data mappings into executable workflow
// definitions and deploys them to the workflow engine.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/interconnecthub/console/internal/formats"
)

var (
	// ErrNotFound categorizes compile failures where a referenced format or
	// schema does not exist.
	ErrNotFound = errors.New("pipeline: not found")
	// ErrInvalidMapping categorizes mappings that name no usable formats.
	ErrInvalidMapping = errors.New("pipeline: invalid mapping")

	errMissingFormats = errors.New("format registry is required")
	noOpLogger        = zap.NewNop()
)

const (
	opCompilerNew = "pipeline.compiler.new"
	opCompile     = "pipeline.compile"

	stateNameTransform = "JSON Transformer"
	stateNameBilling   = "Billing"
	stateNameEnd       = "EndState"
)

// ServiceError carries a stable machine code and a user-safe message for one
// failed pipeline operation. The original cause is preserved for logging.
type ServiceError struct {
	code    string
	message string
	err     error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code, e.g. "pipeline.compile.schema_missing".
func (e *ServiceError) Code() string {
	return e.code
}

// Message returns the user-safe failure message.
func (e *ServiceError) Message() string {
	return e.message
}

func newServiceError(operation, reason, message string, cause error) error {
	return &ServiceError{
		code:    fmt.Sprintf("%s.%s", operation, reason),
		message: message,
		err:     cause,
	}
}

// MappingSpec is the compiler's view of a published mapping: the tenant, the
// mapping identity and the content fields the pipeline is derived from.
type MappingSpec struct {
	OwnerID       string
	MappingID     string
	Description   string
	Sources       map[string]interface{}
	Output        map[string]interface{}
	MappingSchema map[string]interface{}
}

// CompilerConfig describes the dependencies of the pipeline compiler.
type CompilerConfig struct {
	Formats           *formats.Registry
	TransformFunction string
	BillingQueue      string
	Logger            *zap.Logger
}

// Compiler turns a mapping into the parse, transform, write, billing state
// chain the workflow engine executes per event.
type Compiler struct {
	formats           *formats.Registry
	transformFunction string
	billingQueue      string
	logger            *zap.Logger
}

// NewCompiler constructs the pipeline compiler.
func NewCompiler(cfg CompilerConfig) (*Compiler, error) {
	if cfg.Formats == nil {
		return nil, newServiceError(opCompilerNew, "missing_format_registry", "Service unavailable", errMissingFormats)
	}
	if cfg.TransformFunction == "" {
		return nil, newServiceError(opCompilerNew, "missing_transform_function", "Service unavailable", errors.New("transform function is required"))
	}
	if cfg.BillingQueue == "" {
		return nil, newServiceError(opCompilerNew, "missing_billing_queue", "Service unavailable", errors.New("billing queue is required"))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Compiler{
		formats:           cfg.Formats,
		transformFunction: cfg.TransformFunction,
		billingQueue:      cfg.BillingQueue,
		logger:            logger,
	}, nil
}

// Compile builds the pipeline definition for one mapping. The chain is
// <input> parser, schema transformer, <output> writer, billing, end.
func (c *Compiler) Compile(ctx context.Context, spec MappingSpec) (*Definition, error) {
	if len(spec.MappingSchema) == 0 {
		c.logError(opCompile, "schema_missing", ErrNotFound, spec)
		return nil, newServiceError(opCompile, "schema_missing", "Unable to find mapping schema", ErrNotFound)
	}

	inputName, inputParameters := inputFormatFields(spec.Sources)
	outputName, outputParameters := formatFields(spec.Output)
	if inputName == "" || outputName == "" {
		c.logError(opCompile, "format_names_missing", ErrInvalidMapping, spec)
		return nil, newServiceError(opCompile, "format_names_missing", "Invalid input or output format in mapping", ErrInvalidMapping)
	}

	inputFormat, outputFormat, err := c.resolveFormats(ctx, inputName, outputName)
	if err != nil {
		c.logError(opCompile, "format_lookup_failed", err, spec)
		return nil, newServiceError(opCompile, "format_lookup_failed", "Failed to compile pipeline", err)
	}
	if inputFormat == nil || outputFormat == nil {
		c.logError(opCompile, "format_not_found", ErrNotFound, spec)
		return nil, newServiceError(opCompile, "format_not_found", "Unable to find input or output format", ErrNotFound)
	}

	parser, err := decodeProcessor(inputFormat.Parser)
	if err != nil {
		c.logError(opCompile, "parser_decode_failed", err, spec)
		return nil, newServiceError(opCompile, "parser_decode_failed", "Failed to compile pipeline", err)
	}
	writer, err := decodeProcessor(outputFormat.Writer)
	if err != nil {
		c.logError(opCompile, "writer_decode_failed", err, spec)
		return nil, newServiceError(opCompile, "writer_decode_failed", "Failed to compile pipeline", err)
	}

	parserState := inputFormat.DisplayName + " Parser"
	writerState := outputFormat.DisplayName + " Writer"

	parserParameters := withParameter(inputParameters, "wrapOutputIn", "input")
	transformParameters := map[string]interface{}{
		"mappingSchema": spec.MappingSchema,
		"wrapOutputIn":  "output",
	}
	writerParameters := withParameter(outputParameters, "unwrapInputFrom", "output")

	definition := &Definition{
		Comment: spec.Description,
		StartAt: parserState,
		States: map[string]State{
			parserState:        taskState(parser.Function, taskPayload(parserParameters), stateNameTransform),
			stateNameTransform: taskState(c.transformFunction, taskPayload(transformParameters), writerState),
			writerState:        taskState(writer.Function, taskPayload(writerParameters), stateNameBilling),
			stateNameBilling:   billingState(c.billingQueue),
			stateNameEnd:       {Type: stateTypeSucceed},
		},
	}

	c.logger.Info("pipeline compiled",
		zap.String("owner_id", spec.OwnerID),
		zap.String("mapping_id", spec.MappingID),
		zap.String("input_format", inputFormat.FormatName),
		zap.String("output_format", outputFormat.FormatName))
	return definition, nil
}

// resolveFormats looks the two formats up, once when they are the same name.
func (c *Compiler) resolveFormats(ctx context.Context, inputName, outputName string) (*formats.DataFormat, *formats.DataFormat, error) {
	input, err := c.formats.GetByName(ctx, inputName)
	if err != nil {
		return nil, nil, err
	}
	if strings.EqualFold(inputName, outputName) {
		return input, input, nil
	}
	output, err := c.formats.GetByName(ctx, outputName)
	if err != nil {
		return nil, nil, err
	}
	return input, output, nil
}

// inputFormatFields extracts the format name and processor parameters of the
// mapping's input source.
func inputFormatFields(sources map[string]interface{}) (string, map[string]interface{}) {
	input, ok := sources["input"].(map[string]interface{})
	if !ok {
		return "", nil
	}
	return formatFields(input)
}

func formatFields(section map[string]interface{}) (string, map[string]interface{}) {
	name, _ := section["format"].(string)
	parameters, _ := section["parameters"].(map[string]interface{})
	return name, parameters
}

// withParameter copies the parameter map and adds one entry, leaving the
// mapping's stored content untouched.
func withParameter(parameters map[string]interface{}, key string, value interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(parameters)+1)
	for k, v := range parameters {
		merged[k] = v
	}
	merged[key] = value
	return merged
}

// taskPayload wraps processor parameters in the envelope every pipeline state
// receives: the event body, its attributes and the static parameters.
func taskPayload(parameters map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"body.$":       "$.body",
		"attributes.$": "$.attributes",
		"parameters":   parameters,
	}
}

func decodeProcessor(raw []byte) (*formats.ProcessorDescriptor, error) {
	var descriptor formats.ProcessorDescriptor
	if err := json.Unmarshal(raw, &descriptor); err != nil {
		return nil, err
	}
	if descriptor.Function == "" {
		return nil, errors.New("processor function is empty")
	}
	return &descriptor, nil
}

func (c *Compiler) logError(operation, reason string, err error, spec MappingSpec) {
	c.logger.Error("pipeline compiler error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("owner_id", spec.OwnerID),
		zap.String("mapping_id", spec.MappingID),
		zap.Error(err))
}
