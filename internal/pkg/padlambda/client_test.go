package padlambda

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/lambda"
	"github.com/aws/aws-sdk-go/service/lambda/lambdaiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lambdaInvokerMock struct {
	lambdaiface.LambdaAPI
	output          *lambda.InvokeOutput
	err             error
	capturedPayload []byte
}

func (m *lambdaInvokerMock) InvokeWithContext(ctx aws.Context, input *lambda.InvokeInput, opts ...request.Option) (*lambda.InvokeOutput, error) {
	m.capturedPayload = input.Payload
	return m.output, m.err
}

type lambdaDeployMock struct {
	lambdaiface.LambdaAPI
	getFunctionOutput                 *lambda.GetFunctionOutput
	capturedCreateFunctionInput       *lambda.CreateFunctionInput
	capturedUpdateFunctionCodeInput   *lambda.UpdateFunctionCodeInput
	capturedUpdateFunctionConfigInput *lambda.UpdateFunctionConfigurationInput
	capturedDeleteFunctionInput       *lambda.DeleteFunctionInput
}

func (d *lambdaDeployMock) GetFunction(*lambda.GetFunctionInput) (*lambda.GetFunctionOutput, error) {
	return d.getFunctionOutput, nil
}

func (d *lambdaDeployMock) CreateFunction(input *lambda.CreateFunctionInput) (*lambda.FunctionConfiguration, error) {
	d.capturedCreateFunctionInput = input
	return nil, nil
}

func (d *lambdaDeployMock) UpdateFunctionCode(input *lambda.UpdateFunctionCodeInput) (*lambda.FunctionConfiguration, error) {
	d.capturedUpdateFunctionCodeInput = input
	return nil, nil
}

func (d *lambdaDeployMock) UpdateFunctionConfiguration(input *lambda.UpdateFunctionConfigurationInput) (*lambda.FunctionConfiguration, error) {
	d.capturedUpdateFunctionConfigInput = input
	return nil, nil
}

func (d *lambdaDeployMock) DeleteFunction(input *lambda.DeleteFunctionInput) (*lambda.DeleteFunctionOutput, error) {
	d.capturedDeleteFunctionInput = input
	return nil, nil
}

func fakeBuilder() ([]byte, error) {
	return []byte("function code"), nil
}

func TestFunctionNeedsUpdate(t *testing.T) {
	functionCode := []byte("function code")
	codeHash := sha256.New()
	codeHash.Write(functionCode)
	codeHashDigest := base64.StdEncoding.EncodeToString(codeHash.Sum(nil))

	cfg := &lambda.FunctionConfiguration{CodeSha256: aws.String(codeHashDigest)}

	assert.True(t, functionNeedsUpdate([]byte("not function code"), cfg))
	assert.False(t, functionNeedsUpdate(functionCode, cfg))
}

func TestInvoke(t *testing.T) {
	mock := &lambdaInvokerMock{
		output: &lambda.InvokeOutput{Payload: []byte("result")},
	}
	client := &LambdaClient{Client: mock}

	output, err := client.Invoke(context.Background(), "function", []byte("payload"))
	assert.Nil(t, err)

	assert.Equal(t, []byte("result"), output)
	assert.Equal(t, []byte("payload"), mock.capturedPayload)
}

func TestInvokeFunctionError(t *testing.T) {
	client := &LambdaClient{Client: &lambdaInvokerMock{
		output: &lambda.InvokeOutput{
			FunctionError: aws.String("Unhandled"),
			Payload:       []byte(`{"errorMessage":"boom","errorType":"StorageError"}`),
		},
	}}

	_, err := client.Invoke(context.Background(), "function", nil)
	var ferr *FunctionError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, "StorageError", ferr.Type)
	assert.Equal(t, "boom", ferr.Message)
}

func TestInvokeUnparseableFunctionError(t *testing.T) {
	client := &LambdaClient{Client: &lambdaInvokerMock{
		output: &lambda.InvokeOutput{
			FunctionError: aws.String("Unhandled"),
			Payload:       []byte(`timed out`),
		},
	}}

	_, err := client.Invoke(context.Background(), "function", nil)
	var ferr *FunctionError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, "Unhandled", ferr.Type)
	assert.Equal(t, "timed out", ferr.Message)
}

func TestInvokeTransportError(t *testing.T) {
	client := &LambdaClient{Client: &lambdaInvokerMock{err: errors.New("connection reset")}}

	_, err := client.Invoke(context.Background(), "function", nil)
	assert.EqualError(t, err, "connection reset")
}

func TestCreateFunction(t *testing.T) {
	mock := &lambdaDeployMock{}
	client := &LambdaClient{Client: mock, Builder: fakeBuilder}

	config := &FunctionConfig{
		Name:       "test function",
		RoleARN:    "testARN",
		Timeout:    10,
		MemorySize: 1000,
	}

	err := client.DeployFunction(config)
	assert.Nil(t, err)

	require.NotNil(t, mock.capturedCreateFunctionInput)
	assert.Equal(t, "test function", *mock.capturedCreateFunctionInput.FunctionName)
	assert.Equal(t, "testARN", *mock.capturedCreateFunctionInput.Role)
	assert.Equal(t, "bootstrap", *mock.capturedCreateFunctionInput.Handler)
	assert.Equal(t, int64(10), *mock.capturedCreateFunctionInput.Timeout)
	assert.Equal(t, int64(1000), *mock.capturedCreateFunctionInput.MemorySize)
}

func TestUpdateFunction(t *testing.T) {
	mock := &lambdaDeployMock{
		getFunctionOutput: &lambda.GetFunctionOutput{
			Configuration: &lambda.FunctionConfiguration{
				CodeSha256: aws.String("sha"),
				Role:       aws.String("wrongARN"),
				Timeout:    aws.Int64(10),
				MemorySize: aws.Int64(1000),
			},
		},
	}
	client := &LambdaClient{Client: mock, Builder: fakeBuilder}

	config := &FunctionConfig{
		Name:       "test function",
		RoleARN:    "testARN",
		Timeout:    10,
		MemorySize: 1000,
	}

	err := client.DeployFunction(config)
	assert.Nil(t, err)

	require.NotNil(t, mock.capturedUpdateFunctionCodeInput)
	assert.Equal(t, []byte("function code"), mock.capturedUpdateFunctionCodeInput.ZipFile)
	require.NotNil(t, mock.capturedUpdateFunctionConfigInput)
	assert.Equal(t, "testARN", *mock.capturedUpdateFunctionConfigInput.Role)
	assert.Nil(t, mock.capturedCreateFunctionInput)
}

func TestFunctionUpToDate(t *testing.T) {
	mock := &lambdaDeployMock{
		getFunctionOutput: &lambda.GetFunctionOutput{
			Configuration: &lambda.FunctionConfiguration{
				CodeSha256: aws.String(codeDigest([]byte("function code"))),
				Role:       aws.String("testARN"),
				Timeout:    aws.Int64(10),
				MemorySize: aws.Int64(1000),
			},
		},
	}
	client := &LambdaClient{Client: mock, Builder: fakeBuilder}

	err := client.DeployFunction(&FunctionConfig{Name: "f", RoleARN: "testARN", Timeout: 10, MemorySize: 1000})
	assert.Nil(t, err)
	assert.Nil(t, mock.capturedUpdateFunctionCodeInput)
	assert.Nil(t, mock.capturedUpdateFunctionConfigInput)
}

func TestDeleteFunction(t *testing.T) {
	mock := &lambdaDeployMock{}

	client := &LambdaClient{Client: mock}

	err := client.DeleteFunction("function")
	assert.Nil(t, err)

	assert.Equal(t, "function", *mock.capturedDeleteFunctionInput.FunctionName)
}
