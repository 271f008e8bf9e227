package padlambda

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/lambda"
	"github.com/aws/aws-sdk-go/service/lambda/lambdaiface"
	log "github.com/sirupsen/logrus"
)

// runtime is the Lambda custom runtime the task binary is deployed to.
const runtime = "provided.al2"

// LambdaClient wraps the AWS Lambda API for deploying and invoking the
// function that serves shard tasks.
type LambdaClient struct {
	Client lambdaiface.LambdaAPI
	// Builder produces the zipped deployment package. Defaults to
	// cross-compiling the current directory.
	Builder func() ([]byte, error)
}

// FunctionConfig configures a Lambda function deployment
type FunctionConfig struct {
	Name       string
	RoleARN    string
	Timeout    int64
	MemorySize int64
}

// FunctionError is reported when the function ran but returned an error.
type FunctionError struct {
	Type    string `json:"errorType"`
	Message string `json:"errorMessage"`
}

func (e *FunctionError) Error() string {
	return fmt.Sprintf("lambda function error (%s): %s", e.Type, e.Message)
}

// NewLambdaClient initializes a new LambdaClient
func NewLambdaClient() *LambdaClient {
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	return &LambdaClient{
		Client: lambda.New(sess),
	}
}

func codeDigest(functionCode []byte) string {
	codeHash := sha256.New()
	codeHash.Write(functionCode)
	return base64.StdEncoding.EncodeToString(codeHash.Sum(nil))
}

func functionNeedsUpdate(functionCode []byte, cfg *lambda.FunctionConfiguration) bool {
	return codeDigest(functionCode) != aws.StringValue(cfg.CodeSha256)
}

func functionConfigNeedsUpdate(function *FunctionConfig, cfg *lambda.FunctionConfiguration) bool {
	return function.RoleARN != aws.StringValue(cfg.Role) ||
		function.Timeout != aws.Int64Value(cfg.Timeout) ||
		function.MemorySize != aws.Int64Value(cfg.MemorySize)
}

// DeployFunction creates the function, or updates its code and
// configuration when they differ from function.
func (l *LambdaClient) DeployFunction(function *FunctionConfig) error {
	build := l.Builder
	if build == nil {
		build = buildPackage
	}
	functionCode, err := build()
	if err != nil {
		return err
	}

	exists, err := l.getFunction(function.Name)
	if exists != nil && exists.Configuration != nil && err == nil {
		if functionNeedsUpdate(functionCode, exists.Configuration) {
			log.Infof("Updating Lambda function code for '%s'", function.Name)
			if err := l.updateFunction(function.Name, functionCode); err != nil {
				return err
			}
		} else {
			log.Debugf("Function code of '%s' is already up-to-date", function.Name)
		}

		if functionConfigNeedsUpdate(function, exists.Configuration) {
			log.Infof("Updating Lambda function config for '%s'", function.Name)
			return l.updateConfiguration(function)
		}
		return nil
	}

	log.Infof("Creating Lambda function '%s'", function.Name)
	return l.createFunction(function, functionCode)
}

// DeleteFunction tears down the function with the given name
func (l *LambdaClient) DeleteFunction(functionName string) error {
	deleteInput := &lambda.DeleteFunctionInput{
		FunctionName: aws.String(functionName),
	}

	_, err := l.Client.DeleteFunction(deleteInput)
	return err
}

func crossCompile(binName string) (string, error) {
	tmpDir, err := ioutil.TempDir("", "")
	if err != nil {
		return "", err
	}

	outputPath := filepath.Join(tmpDir, binName)

	args := []string{
		"build",
		"-o", outputPath,
		"-ldflags", "-s -w",
		".",
	}
	cmd := exec.Command("go", args...)

	cmd.Env = append(os.Environ(), "GOOS=linux", "GOARCH=amd64", "CGO_ENABLED=0")

	combinedOut, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s\n%s", err, combinedOut)
	}

	return outputPath, nil
}

func buildPackage() ([]byte, error) {
	log.Debug("Compiling task function for Lambda")
	binFile, err := crossCompile("paddock_artifact")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(filepath.Dir(binFile))

	binReader, err := os.Open(binFile)
	if err != nil {
		return nil, err
	}
	defer binReader.Close()

	zipBuf := new(bytes.Buffer)
	archive := zip.NewWriter(zipBuf)
	header := &zip.FileHeader{
		Name:           "bootstrap",
		ExternalAttrs:  (0777 << 16), // File permissions
		CreatorVersion: (3 << 8),     // Magic number indicating a Unix creator
	}

	writer, err := archive.CreateHeader(header)
	if err != nil {
		return nil, err
	}

	if _, err = io.Copy(writer, binReader); err != nil {
		return nil, err
	}

	if err := archive.Close(); err != nil {
		return nil, err
	}
	return zipBuf.Bytes(), nil
}

func (l *LambdaClient) updateFunction(functionName string, code []byte) error {
	updateArgs := &lambda.UpdateFunctionCodeInput{
		ZipFile:      code,
		FunctionName: aws.String(functionName),
	}

	_, err := l.Client.UpdateFunctionCode(updateArgs)
	return err
}

func (l *LambdaClient) updateConfiguration(function *FunctionConfig) error {
	updateArgs := &lambda.UpdateFunctionConfigurationInput{
		FunctionName: aws.String(function.Name),
		Role:         aws.String(function.RoleARN),
		Timeout:      aws.Int64(function.Timeout),
		MemorySize:   aws.Int64(function.MemorySize),
	}

	_, err := l.Client.UpdateFunctionConfiguration(updateArgs)
	return err
}

func (l *LambdaClient) createFunction(function *FunctionConfig, code []byte) error {
	createArgs := &lambda.CreateFunctionInput{
		Code:         &lambda.FunctionCode{ZipFile: code},
		FunctionName: aws.String(function.Name),
		Handler:      aws.String("bootstrap"),
		Runtime:      aws.String(runtime),
		Role:         aws.String(function.RoleARN),
		Timeout:      aws.Int64(function.Timeout),
		MemorySize:   aws.Int64(function.MemorySize),
	}

	_, err := l.Client.CreateFunction(createArgs)
	return err
}

func (l *LambdaClient) getFunction(functionName string) (*lambda.GetFunctionOutput, error) {
	getInput := &lambda.GetFunctionInput{
		FunctionName: aws.String(functionName),
	}

	return l.Client.GetFunction(getInput)
}

// Invoke synchronously invokes functionName with payload and returns its
// response. A function-level failure is returned as a *FunctionError.
func (l *LambdaClient) Invoke(ctx context.Context, functionName string, payload []byte) ([]byte, error) {
	invokeInput := &lambda.InvokeInput{
		FunctionName: aws.String(functionName),
		Payload:      payload,
	}

	output, err := l.Client.InvokeWithContext(ctx, invokeInput)
	if err != nil {
		return nil, err
	}

	if output.FunctionError != nil {
		ferr := &FunctionError{}
		if jsonErr := json.Unmarshal(output.Payload, ferr); jsonErr != nil || ferr.Type == "" {
			ferr.Type = aws.StringValue(output.FunctionError)
			ferr.Message = string(output.Payload)
		}
		return nil, ferr
	}
	return output.Payload, nil
}
