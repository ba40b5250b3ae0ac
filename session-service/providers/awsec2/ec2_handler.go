// Package awsec2 implements the provider handler for labs backed by a single
// EC2 instance. Provisioning launches the lab's template image and waits for
// it to report running; the connection credential comes from the bootstrap
// tag data the image publishes on itself.
package awsec2

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2Types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	rangelogger "github.com/hackrange/hackrange/backend/services/rangelogger"
	"github.com/hackrange/hackrange/backend/services/session-service/providers"
	"github.com/hackrange/hackrange/backend/services/utils"
)

// Tag keys the lab images publish on themselves during bootstrap. They hold
// the connection parameters for the session the image exposes.
const (
	usernameTagKey = "hackrange:username"
	passwordTagKey = "hackrange:password"
	protocolTagKey = "hackrange:protocol"
	portTagKey     = "hackrange:port"
)

// ec2API is the subset of the EC2 client the handler uses. It also satisfies
// the SDK's DescribeInstancesAPIClient so the state waiters can poll it.
type ec2API interface {
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	RebootInstances(ctx context.Context, params *ec2.RebootInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RebootInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// Handler provisions and controls single EC2 instance labs.
type Handler struct {
	Region string
	Config aws.Config
	EC2    ec2API
}

// Initialize starts the AWS and EC2 clients.
func (h *Handler) Initialize(region string) error {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return utils.MakeError("unable to load AWS SDK config: %s", err)
	}

	h.Region = region
	h.Config = cfg
	h.EC2 = ec2.NewFromConfig(cfg)

	return nil
}

// Provision launches one instance from the lab's template image, tags it with
// the registry instance id and waits for it to report running.
func (h *Handler) Provision(ctx context.Context, spec providers.ProvisionSpec) (providers.Handle, error) {
	input := &ec2.RunInstancesInput{
		MinCount:                          aws.Int32(1),
		MaxCount:                          aws.Int32(1),
		ImageId:                           aws.String(spec.Lab.TemplateID),
		InstanceInitiatedShutdownBehavior: ec2Types.ShutdownBehaviorStop,
		InstanceType:                      instanceTypeFor(spec.Lab.CPU, spec.Lab.RAMMb),
	}

	result, err := h.EC2.RunInstances(ctx, input)
	if err != nil {
		return providers.Handle{}, utils.MakeError("error creating instance for lab %s: %s: %w", spec.Lab.ID, err, providers.ErrProvisionFailed)
	}

	if len(result.Instances) != 1 {
		return providers.Handle{}, utils.MakeError("expected 1 created instance for lab %s, got %d: %w", spec.Lab.ID, len(result.Instances), providers.ErrProvisionFailed)
	}

	providerID := aws.ToString(result.Instances[0].InstanceId)

	tagInput := &ec2.CreateTagsInput{
		Resources: []string{providerID},
		Tags: []ec2Types.Tag{
			{
				Key:   aws.String("Name"),
				Value: aws.String(utils.Sprintf("hackrange-lab-%s", spec.InstanceID)),
			},
		},
	}

	if _, err := h.EC2.CreateTags(ctx, tagInput); err != nil {
		return providers.Handle{}, utils.MakeError("error tagging instance %s: %s: %w", providerID, err, providers.ErrProvisionFailed)
	}

	rangelogger.Infof("Created tagged instance with ID %s", providerID)

	handle := providers.Handle{
		ProviderID: providerID,
		LabID:      spec.Lab.ID,
		Region:     h.Region,
	}

	if err := h.waitForState(ctx, providerID, runningWaiter); err != nil {
		return handle, utils.MakeError("%s: %w", err, providers.ErrProvisionFailed)
	}

	instance, err := h.describeInstance(ctx, providerID)
	if err != nil {
		return handle, utils.MakeError("%s: %w", err, providers.ErrProvisionFailed)
	}

	handle.Hostname = aws.ToString(instance.PublicIpAddress)
	handle.Protocol, handle.Port = connectionParams(instance.Tags)

	return handle, nil
}

// IssueCredential reads the connection parameters the image published on its
// bootstrap tags. A missing password tag gets a generated one, which the
// bootstrap agent on the image picks up through its tag watcher.
func (h *Handler) IssueCredential(ctx context.Context, handle providers.Handle) (providers.Credential, error) {
	instance, err := h.describeInstance(ctx, handle.ProviderID)
	if err != nil {
		return providers.Credential{}, utils.MakeError("%s: %w", err, providers.ErrCredentialFailed)
	}

	credential := providers.Credential{
		Username: "hackrange",
		Password: utils.RandHex(16),
		Hostname: aws.ToString(instance.PublicIpAddress),
	}
	credential.Protocol, credential.Port = connectionParams(instance.Tags)

	for _, tag := range instance.Tags {
		switch aws.ToString(tag.Key) {
		case usernameTagKey:
			credential.Username = aws.ToString(tag.Value)
		case passwordTagKey:
			credential.Password = aws.ToString(tag.Value)
		}
	}

	if credential.Hostname == "" {
		return providers.Credential{}, utils.MakeError("instance %s has no public address: %w", handle.ProviderID, providers.ErrCredentialFailed)
	}

	return credential, nil
}

// Start powers on a stopped instance and waits for it to report running.
func (h *Handler) Start(ctx context.Context, handle providers.Handle) error {
	if _, err := h.EC2.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{handle.ProviderID},
	}); err != nil {
		return utils.MakeError("error starting instance %s: %s: %w", handle.ProviderID, err, providers.ErrTransportFailed)
	}

	return h.waitForState(ctx, handle.ProviderID, runningWaiter)
}

// Stop powers off the instance and waits for it to report stopped.
func (h *Handler) Stop(ctx context.Context, handle providers.Handle) error {
	output, err := h.EC2.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{handle.ProviderID},
	})
	if err != nil {
		return utils.MakeError("error stopping instance %s: %s: %w", handle.ProviderID, err, providers.ErrTransportFailed)
	}

	for _, change := range output.StoppingInstances {
		if change.PreviousState != nil && change.PreviousState.Name == ec2Types.InstanceStateNameStopped {
			return utils.MakeError("instance %s: %w", handle.ProviderID, providers.ErrAlreadyInState)
		}
	}

	return h.waitForState(ctx, handle.ProviderID, stoppedWaiter)
}

// Restart power-cycles a running instance.
func (h *Handler) Restart(ctx context.Context, handle providers.Handle) error {
	if _, err := h.EC2.RebootInstances(ctx, &ec2.RebootInstancesInput{
		InstanceIds: []string{handle.ProviderID},
	}); err != nil {
		return utils.MakeError("error rebooting instance %s: %s: %w", handle.ProviderID, err, providers.ErrTransportFailed)
	}

	return h.waitForState(ctx, handle.ProviderID, runningWaiter)
}

// GetStatus reports the provider-side view of the instance.
func (h *Handler) GetStatus(ctx context.Context, handle providers.Handle) (providers.Status, error) {
	instance, err := h.describeInstance(ctx, handle.ProviderID)
	if err != nil {
		if isNotFound(err) {
			return providers.Status{}, nil
		}

		return providers.Status{}, utils.MakeError("error describing instance %s: %s: %w", handle.ProviderID, err, providers.ErrTransportFailed)
	}

	if instance.State == nil {
		return providers.Status{Launched: true, Loading: true}, nil
	}

	switch instance.State.Name {
	case ec2Types.InstanceStateNameRunning:
		return providers.Status{Launched: true, Running: true}, nil
	case ec2Types.InstanceStateNameStopped:
		return providers.Status{Launched: true}, nil
	case ec2Types.InstanceStateNamePending, ec2Types.InstanceStateNameStopping, ec2Types.InstanceStateNameShuttingDown:
		return providers.Status{Launched: true, Loading: true}, nil
	default:
		// terminated
		return providers.Status{}, nil
	}
}

// Teardown terminates the instance and waits until AWS reports it gone.
// Terminating an instance that no longer exists is not an error.
func (h *Handler) Teardown(ctx context.Context, handle providers.Handle) error {
	_, err := h.EC2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{handle.ProviderID},
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}

		return utils.MakeError("error terminating instance %s: %s: %w", handle.ProviderID, err, providers.ErrTransportFailed)
	}

	return h.waitForState(ctx, handle.ProviderID, terminatedWaiter)
}

type waiterState string

const (
	runningWaiter    waiterState = "running"
	stoppedWaiter    waiterState = "stopped"
	terminatedWaiter waiterState = "terminated"
)

// waitForState blocks until the instance reaches the given state on AWS.
func (h *Handler) waitForState(ctx context.Context, providerID string, state waiterState) error {
	waitParams := &ec2.DescribeInstancesInput{
		InstanceIds: []string{providerID},
	}

	var err error

	switch state {
	case runningWaiter:
		waiter := ec2.NewInstanceRunningWaiter(h.EC2, func(*ec2.InstanceRunningWaiterOptions) {
			rangelogger.Infof("Waiting for instance %s to be ready on AWS", providerID)
		})
		err = waiter.Wait(ctx, waitParams, 5*time.Minute)
	case stoppedWaiter:
		waiter := ec2.NewInstanceStoppedWaiter(h.EC2, func(*ec2.InstanceStoppedWaiterOptions) {
			rangelogger.Infof("Waiting for instance %s to stop on AWS", providerID)
		})
		err = waiter.Wait(ctx, waitParams, 5*time.Minute)
	case terminatedWaiter:
		waiter := ec2.NewInstanceTerminatedWaiter(h.EC2, func(*ec2.InstanceTerminatedWaiterOptions) {
			rangelogger.Infof("Waiting for instance %s to terminate on AWS", providerID)
		})
		err = waiter.Wait(ctx, waitParams, 5*time.Minute)
	}

	if err != nil {
		return utils.MakeError("failed waiting for instance %s to be %s on AWS: %s", providerID, state, err)
	}

	return nil
}

// describeInstance returns the single instance with the given id.
func (h *Handler) describeInstance(ctx context.Context, providerID string) (ec2Types.Instance, error) {
	output, err := h.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{providerID},
	})
	if err != nil {
		return ec2Types.Instance{}, err
	}

	if len(output.Reservations) == 0 || len(output.Reservations[0].Instances) == 0 {
		return ec2Types.Instance{}, utils.MakeError("instance %s not found on AWS", providerID)
	}

	return output.Reservations[0].Instances[0], nil
}

// connectionParams reads the session protocol and port from the bootstrap
// tags, falling back to RDP defaults.
func connectionParams(tags []ec2Types.Tag) (string, int64) {
	protocol := "rdp"
	port := int64(3389)

	for _, tag := range tags {
		switch aws.ToString(tag.Key) {
		case protocolTagKey:
			protocol = aws.ToString(tag.Value)
		case portTagKey:
			if parsed, err := strconv.ParseInt(aws.ToString(tag.Value), 10, 64); err == nil {
				port = parsed
			}
		}
	}

	return protocol, port
}

// instanceTypeFor maps the lab's requested sizing onto the closest instance
// type the lab images are validated on.
func instanceTypeFor(cpu int64, ramMb int64) ec2Types.InstanceType {
	switch {
	case cpu >= 8 || ramMb >= 32768:
		return ec2Types.InstanceTypeT32xlarge
	case cpu >= 4 || ramMb >= 16384:
		return ec2Types.InstanceTypeT3Xlarge
	case cpu >= 2 || ramMb >= 8192:
		return ec2Types.InstanceTypeT3Large
	default:
		return ec2Types.InstanceTypeT3Medium
	}
}

// isNotFound reports whether an EC2 API error means the instance no longer
// exists.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "InvalidInstanceID.NotFound"
	}

	return false
}
