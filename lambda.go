package paddock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/bcongdon/paddock/internal/pkg/padiam"
	"github.com/bcongdon/paddock/internal/pkg/padlambda"
)

const executionRoleName = "PaddockExecutionRole"

// runningInLambda infers if the program is running in AWS lambda via inspection of the environment
func runningInLambda() bool {
	expectedEnvVars := []string{"AWS_LAMBDA_FUNCTION_NAME", "LAMBDA_TASK_ROOT", "AWS_LAMBDA_RUNTIME_API"}
	for _, envVar := range expectedEnvVars {
		if os.Getenv(envVar) == "" {
			return false
		}
	}
	return true
}

// lambdaInvoker is the subset of padlambda.LambdaClient used to run tasks.
type lambdaInvoker interface {
	Invoke(ctx context.Context, functionName string, payload []byte) ([]byte, error)
}

// lambdaExecutor runs tasks by synchronously invoking a deployed Lambda
// function hosting the same binary.
type lambdaExecutor struct {
	invoker      lambdaInvoker
	functionName string
}

func newLambdaExecutor(functionName string) *lambdaExecutor {
	return &lambdaExecutor{
		invoker:      padlambda.NewLambdaClient(),
		functionName: functionName,
	}
}

func (l *lambdaExecutor) Invoke(ctx context.Context, t task) (taskResult, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return taskResult{}, err
	}

	output, err := l.invoker.Invoke(ctx, l.functionName, payload)
	if err != nil {
		var ferr *padlambda.FunctionError
		if errors.As(err, &ferr) && isFatalErrorType(ferr.Type) {
			return taskResult{}, fmt.Errorf("%s: %w", t.Kind, err)
		}
		return taskResult{}, &TransportError{Err: err}
	}

	var result taskResult
	if err := json.Unmarshal(output, &result); err != nil {
		return taskResult{}, &TransportError{Err: fmt.Errorf("malformed %s response: %w", t.Kind, err)}
	}
	return result, nil
}

// deployLambda creates or updates the task function, managing its
// execution role unless a role ARN is configured.
func deployLambda(c *config) error {
	roleARN := c.LambdaRoleARN
	if c.LambdaManageRole {
		var err error
		roleARN, err = padiam.NewIAMClient().DeployPermissions(executionRoleName)
		if err != nil {
			return err
		}
	} else if roleARN == "" {
		return &ConfigurationError{Field: "lambda_role_arn", Reason: "required when lambda_manage_role is false"}
	}

	function := &padlambda.FunctionConfig{
		Name:       c.FunctionName,
		RoleARN:    roleARN,
		Timeout:    c.LambdaTimeout,
		MemorySize: c.LambdaMemory,
	}
	log.Infof("Deploying Lambda function '%s'", c.FunctionName)
	return padlambda.NewLambdaClient().DeployFunction(function)
}

// undeployLambda deletes the task function and, if managed, its role.
func undeployLambda(c *config) error {
	log.Infof("Deleting Lambda function '%s'", c.FunctionName)
	if err := padlambda.NewLambdaClient().DeleteFunction(c.FunctionName); err != nil {
		return err
	}
	if c.LambdaManageRole {
		return padiam.NewIAMClient().DeletePermissions(executionRoleName)
	}
	return nil
}
