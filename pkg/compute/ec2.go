package compute

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

// EC2API is the subset of the EC2 client used by the provider. It exists
// so tests can substitute a fake client.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
}

// EC2Provider controls a single EC2 instance.
type EC2Provider struct {
	client     EC2API
	instanceID string
}

// NewEC2Provider creates an EC2 provider for the given instance using the
// default AWS credential chain. Region overrides the environment when set.
func NewEC2Provider(ctx context.Context, instanceID, region string) (*EC2Provider, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("instance id is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return &EC2Provider{
		client:     ec2.NewFromConfig(awsCfg),
		instanceID: instanceID,
	}, nil
}

// NewEC2ProviderWithClient creates an EC2 provider with an injected
// client. Used by tests.
func NewEC2ProviderWithClient(client EC2API, instanceID string) *EC2Provider {
	return &EC2Provider{
		client:     client,
		instanceID: instanceID,
	}
}

// Name identifies the backend.
func (p *EC2Provider) Name() string {
	return "ec2"
}

// Describe returns the live snapshot of the instance.
func (p *EC2Provider) Describe(ctx context.Context) (Instance, error) {
	out, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{p.instanceID},
	})
	if err != nil {
		return Instance{}, p.wrapError("describe", err)
	}

	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			snapshot := p.toInstance(inst)
			log.Debug().
				Str("instance_id", snapshot.ID).
				Str("state", snapshot.State.String()).
				Msg("Described instance")
			return snapshot, nil
		}
	}

	return Instance{}, &ProviderError{
		Provider: p.Name(),
		Op:       "describe",
		Err:      ErrInstanceNotFound,
	}
}

// Start requests an asynchronous start of the instance.
func (p *EC2Provider) Start(ctx context.Context) error {
	_, err := p.client.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{p.instanceID},
	})
	if err != nil {
		return p.wrapError("start", err)
	}

	log.Info().
		Str("instance_id", p.instanceID).
		Msg("Instance start requested")
	return nil
}

// Stop requests an asynchronous stop of the instance.
func (p *EC2Provider) Stop(ctx context.Context) error {
	_, err := p.client.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{p.instanceID},
	})
	if err != nil {
		return p.wrapError("stop", err)
	}

	log.Info().
		Str("instance_id", p.instanceID).
		Msg("Instance stop requested")
	return nil
}

// toInstance converts the provider's instance record into a snapshot.
func (p *EC2Provider) toInstance(inst ec2types.Instance) Instance {
	snapshot := Instance{
		ID:            aws.ToString(inst.InstanceId),
		State:         StateUnknown,
		PublicAddress: aws.ToString(inst.PublicIpAddress),
		LaunchedAt:    aws.ToTime(inst.LaunchTime),
	}
	if inst.State != nil {
		snapshot.State = mapState(inst.State.Name)
	}
	return snapshot
}

// mapState converts provider state names onto the lifecycle enum.
// Terminated instances have left the lifecycle entirely and report unknown.
func mapState(name ec2types.InstanceStateName) InstanceState {
	switch name {
	case ec2types.InstanceStateNameStopped:
		return StateStopped
	case ec2types.InstanceStateNamePending:
		return StatePending
	case ec2types.InstanceStateNameRunning:
		return StateRunning
	case ec2types.InstanceStateNameStopping, ec2types.InstanceStateNameShuttingDown:
		return StateStopping
	default:
		return StateUnknown
	}
}

// wrapError classifies a provider failure.
func (p *EC2Provider) wrapError(op string, err error) error {
	pe := &ProviderError{
		Provider: p.Name(),
		Op:       op,
		Err:      err,
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case code == "InvalidInstanceID.NotFound" || code == "InvalidInstanceID.Malformed":
			pe.Err = fmt.Errorf("%w: %s", ErrInstanceNotFound, p.instanceID)
		case isThrottleCode(code) || apiErr.ErrorFault() == smithy.FaultServer:
			pe.Temporary = true
		}
		return pe
	}

	// Non-API failures are transport problems. Cancellation is the one
	// case retrying cannot help.
	if errors.Is(err, context.Canceled) {
		return pe
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		pe.Temporary = true
	}
	return pe
}

// isThrottleCode reports whether the API error code signals rate limiting.
func isThrottleCode(code string) bool {
	switch code {
	case "Throttling", "ThrottlingException", "RequestLimitExceeded",
		"RequestThrottled", "TooManyRequestsException":
		return true
	}
	return false
}
