package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const (
	opDeployerNew = "pipeline.deployer.new"
	opDeploy      = "pipeline.deploy"

	pipelineTypeExpress = "EXPRESS"
	logLevelAll         = "ALL"
)

// CreateInput carries everything the workflow engine needs to register a new
// pipeline.
type CreateInput struct {
	Name             string
	Definition       *Definition
	Type             string
	LogDestinationID string
	LogLevel         string
}

// Engine is the workflow engine the compiled definitions are deployed to.
type Engine interface {
	Create(ctx context.Context, input CreateInput) (string, error)
	Update(ctx context.Context, handle string, definition *Definition) error
}

// LogStore provisions the log destination a pipeline streams its execution
// history to.
type LogStore interface {
	EnsureDestination(ctx context.Context, name string, retentionDays int) (string, error)
}

// DeployerConfig describes the dependencies of the pipeline deployer.
type DeployerConfig struct {
	Compiler      *Compiler
	Engine        Engine
	Logs          LogStore
	RetentionDays int
	Logger        *zap.Logger
}

// Deployer compiles a mapping and installs the result on the workflow engine.
// The first publish of a mapping creates the pipeline and its log destination;
// later publishes update the existing pipeline in place.
type Deployer struct {
	compiler      *Compiler
	engine        Engine
	logs          LogStore
	retentionDays int
	logger        *zap.Logger
}

// NewDeployer constructs the pipeline deployer.
func NewDeployer(cfg DeployerConfig) (*Deployer, error) {
	if cfg.Compiler == nil {
		return nil, newServiceError(opDeployerNew, "missing_compiler", "Service unavailable", errors.New("compiler is required"))
	}
	if cfg.Engine == nil {
		return nil, newServiceError(opDeployerNew, "missing_engine", "Service unavailable", errors.New("workflow engine is required"))
	}
	if cfg.Logs == nil {
		return nil, newServiceError(opDeployerNew, "missing_log_store", "Service unavailable", errors.New("log store is required"))
	}
	if cfg.RetentionDays <= 0 {
		return nil, newServiceError(opDeployerNew, "invalid_retention", "Service unavailable", errors.New("log retention must be positive"))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Deployer{
		compiler:      cfg.Compiler,
		engine:        cfg.Engine,
		logs:          cfg.Logs,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
	}, nil
}

// PipelineName is the deterministic engine-facing name of a mapping's
// pipeline.
func PipelineName(ownerID, mappingID string) string {
	return fmt.Sprintf("%s-%s", ownerID, mappingID)
}

// Deploy compiles the mapping and installs it. When priorHandle is empty this
// is the mapping's first publish: a log destination and a new pipeline are
// created and the new handle is returned. Otherwise the existing pipeline is
// redefined and the prior handle is returned unchanged.
func (d *Deployer) Deploy(ctx context.Context, spec MappingSpec, priorHandle string) (string, error) {
	definition, err := d.compiler.Compile(ctx, spec)
	if err != nil {
		return "", err
	}

	if priorHandle != "" {
		if err := d.engine.Update(ctx, priorHandle, definition); err != nil {
			d.logger.Error("pipeline deploy error",
				zap.String("operation", opDeploy),
				zap.String("reason", "update_failed"),
				zap.String("pipeline_handle", priorHandle),
				zap.Error(err))
			return "", newServiceError(opDeploy, "update_failed", "Failed to deploy pipeline", err)
		}
		d.logger.Info("pipeline updated",
			zap.String("owner_id", spec.OwnerID),
			zap.String("mapping_id", spec.MappingID),
			zap.String("pipeline_handle", priorHandle))
		return priorHandle, nil
	}

	name := PipelineName(spec.OwnerID, spec.MappingID)
	destinationID, err := d.logs.EnsureDestination(ctx, name+"-Logs", d.retentionDays)
	if err != nil {
		d.logger.Error("pipeline deploy error",
			zap.String("operation", opDeploy),
			zap.String("reason", "log_destination_failed"),
			zap.String("pipeline_name", name),
			zap.Error(err))
		return "", newServiceError(opDeploy, "log_destination_failed", "Failed to deploy pipeline", err)
	}

	handle, err := d.engine.Create(ctx, CreateInput{
		Name:             name,
		Definition:       definition,
		Type:             pipelineTypeExpress,
		LogDestinationID: destinationID,
		LogLevel:         logLevelAll,
	})
	if err != nil {
		d.logger.Error("pipeline deploy error",
			zap.String("operation", opDeploy),
			zap.String("reason", "create_failed"),
			zap.String("pipeline_name", name),
			zap.Error(err))
		return "", newServiceError(opDeploy, "create_failed", "Failed to deploy pipeline", err)
	}

	d.logger.Info("pipeline created",
		zap.String("owner_id", spec.OwnerID),
		zap.String("mapping_id", spec.MappingID),
		zap.String("pipeline_handle", handle))
	return handle, nil
}
