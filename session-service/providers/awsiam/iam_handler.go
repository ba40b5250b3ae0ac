// Package awsiam implements the provider handler for labs that hand each
// enrollment an IAM-scoped slice of a shared AWS account. Provisioning
// creates an IAM user under the lab's path with the lab policy attached; the
// credential is a console login profile. Stopping a lab does not destroy
// anything, it attaches a deny-all policy so the issued credential keeps
// working once the lab is started again.
package awsiam

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamTypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	rangelogger "github.com/hackrange/hackrange/backend/services/rangelogger"
	"github.com/hackrange/hackrange/backend/services/session-service/providers"
	"github.com/hackrange/hackrange/backend/services/utils"
)

// denyAllPolicyArn is the managed policy attached to a lab user while its
// instance is stopped.
const denyAllPolicyArn = "arn:aws:iam::aws:policy/AWSDenyAll"

// iamAPI is the subset of the IAM client the handler uses.
type iamAPI interface {
	CreateUser(ctx context.Context, params *iam.CreateUserInput, optFns ...func(*iam.Options)) (*iam.CreateUserOutput, error)
	GetUser(ctx context.Context, params *iam.GetUserInput, optFns ...func(*iam.Options)) (*iam.GetUserOutput, error)
	DeleteUser(ctx context.Context, params *iam.DeleteUserInput, optFns ...func(*iam.Options)) (*iam.DeleteUserOutput, error)
	AttachUserPolicy(ctx context.Context, params *iam.AttachUserPolicyInput, optFns ...func(*iam.Options)) (*iam.AttachUserPolicyOutput, error)
	DetachUserPolicy(ctx context.Context, params *iam.DetachUserPolicyInput, optFns ...func(*iam.Options)) (*iam.DetachUserPolicyOutput, error)
	ListAttachedUserPolicies(ctx context.Context, params *iam.ListAttachedUserPoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedUserPoliciesOutput, error)
	CreateLoginProfile(ctx context.Context, params *iam.CreateLoginProfileInput, optFns ...func(*iam.Options)) (*iam.CreateLoginProfileOutput, error)
	DeleteLoginProfile(ctx context.Context, params *iam.DeleteLoginProfileInput, optFns ...func(*iam.Options)) (*iam.DeleteLoginProfileOutput, error)
	ListAccessKeys(ctx context.Context, params *iam.ListAccessKeysInput, optFns ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error)
	DeleteAccessKey(ctx context.Context, params *iam.DeleteAccessKeyInput, optFns ...func(*iam.Options)) (*iam.DeleteAccessKeyOutput, error)
}

// stsAPI is the subset of the STS client the handler uses.
type stsAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Handler provisions and controls IAM-scoped sub-account labs.
type Handler struct {
	Region string
	Config aws.Config
	IAM    iamAPI
	STS    stsAPI

	// accountID is the shared AWS account lab users are created on,
	// discovered at Initialize.
	accountID string
}

// Initialize starts the AWS clients and verifies the caller identity so a
// misconfigured deployment fails on startup instead of on the first launch.
func (h *Handler) Initialize(region string) error {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return utils.MakeError("unable to load AWS SDK config: %s", err)
	}

	h.Region = region
	h.Config = cfg
	h.IAM = iam.NewFromConfig(cfg)
	h.STS = sts.NewFromConfig(cfg)

	identity, err := h.STS.GetCallerIdentity(context.Background(), &sts.GetCallerIdentityInput{})
	if err != nil {
		return utils.MakeError("unable to verify AWS caller identity: %s", err)
	}

	h.accountID = aws.ToString(identity.Account)

	rangelogger.Infof("Operating as %s on AWS account %s", aws.ToString(identity.Arn), h.accountID)

	return nil
}

// Provision creates the IAM user for an instance under the lab's path and
// attaches the lab policy to it.
func (h *Handler) Provision(ctx context.Context, spec providers.ProvisionSpec) (providers.Handle, error) {
	userName := utils.Sprintf("lab-%s-%s", spec.Lab.ID, spec.InstanceID)

	_, err := h.IAM.CreateUser(ctx, &iam.CreateUserInput{
		UserName: aws.String(userName),
		Path:     aws.String(utils.Sprintf("/labs/%s/", spec.Lab.ID)),
		Tags: []iamTypes.Tag{
			{Key: aws.String("hackrange:instance"), Value: aws.String(string(spec.InstanceID))},
			{Key: aws.String("hackrange:owner"), Value: aws.String(spec.OwnerID)},
		},
	})
	if err != nil {
		return providers.Handle{}, utils.MakeError("error creating IAM user %s: %s: %w", userName, err, providers.ErrProvisionFailed)
	}

	if _, err := h.IAM.AttachUserPolicy(ctx, &iam.AttachUserPolicyInput{
		UserName:  aws.String(userName),
		PolicyArn: aws.String(h.labPolicyArn(spec.Lab.TemplateID)),
	}); err != nil {
		return providers.Handle{}, utils.MakeError("error attaching lab policy to user %s: %s: %w", userName, err, providers.ErrProvisionFailed)
	}

	rangelogger.Infof("Created IAM user %s for instance %s", userName, spec.InstanceID)

	return providers.Handle{
		ProviderID: userName,
		LabID:      spec.Lab.ID,
		Region:     h.Region,
		Hostname:   h.consoleURL(),
		Port:       443,
		Protocol:   "console",
	}, nil
}

// IssueCredential creates the console login profile for the lab user.
func (h *Handler) IssueCredential(ctx context.Context, handle providers.Handle) (providers.Credential, error) {
	password := utils.Sprintf("Hr1!%s", utils.RandHex(12))

	_, err := h.IAM.CreateLoginProfile(ctx, &iam.CreateLoginProfileInput{
		UserName:              aws.String(handle.ProviderID),
		Password:              aws.String(password),
		PasswordResetRequired: false,
	})
	if err != nil {
		return providers.Credential{}, utils.MakeError("error creating login profile for user %s: %s: %w", handle.ProviderID, err, providers.ErrCredentialFailed)
	}

	return providers.Credential{
		Username: handle.ProviderID,
		Password: password,
		Protocol: "console",
		Hostname: h.consoleURL(),
		Port:     443,
	}, nil
}

// Start lifts the deny-all policy off the lab user so the issued credential
// works again.
func (h *Handler) Start(ctx context.Context, handle providers.Handle) error {
	_, err := h.IAM.DetachUserPolicy(ctx, &iam.DetachUserPolicyInput{
		UserName:  aws.String(handle.ProviderID),
		PolicyArn: aws.String(denyAllPolicyArn),
	})
	if err != nil {
		if isNoSuchEntity(err) {
			return utils.MakeError("user %s: %w", handle.ProviderID, providers.ErrAlreadyInState)
		}

		return utils.MakeError("error starting user %s: %s: %w", handle.ProviderID, err, providers.ErrTransportFailed)
	}

	return nil
}

// Stop attaches the deny-all policy to the lab user, shutting out the issued
// credential without destroying it.
func (h *Handler) Stop(ctx context.Context, handle providers.Handle) error {
	attached, err := h.isDenied(ctx, handle.ProviderID)
	if err != nil {
		return err
	}

	if attached {
		return utils.MakeError("user %s: %w", handle.ProviderID, providers.ErrAlreadyInState)
	}

	if _, err := h.IAM.AttachUserPolicy(ctx, &iam.AttachUserPolicyInput{
		UserName:  aws.String(handle.ProviderID),
		PolicyArn: aws.String(denyAllPolicyArn),
	}); err != nil {
		return utils.MakeError("error stopping user %s: %s: %w", handle.ProviderID, err, providers.ErrTransportFailed)
	}

	return nil
}

// Restart re-applies the running state. A power cycle has no meaning for an
// IAM slice, so restarting only ensures the deny-all policy is absent.
func (h *Handler) Restart(ctx context.Context, handle providers.Handle) error {
	err := h.Start(ctx, handle)
	if errors.Is(err, providers.ErrAlreadyInState) {
		return nil
	}

	return err
}

// GetStatus reports whether the lab user exists and whether it is shut out
// by the deny-all policy.
func (h *Handler) GetStatus(ctx context.Context, handle providers.Handle) (providers.Status, error) {
	_, err := h.IAM.GetUser(ctx, &iam.GetUserInput{
		UserName: aws.String(handle.ProviderID),
	})
	if err != nil {
		if isNoSuchEntity(err) {
			return providers.Status{}, nil
		}

		return providers.Status{}, utils.MakeError("error describing user %s: %s: %w", handle.ProviderID, err, providers.ErrTransportFailed)
	}

	denied, err := h.isDenied(ctx, handle.ProviderID)
	if err != nil {
		return providers.Status{}, err
	}

	return providers.Status{Launched: true, Running: !denied}, nil
}

// Teardown deletes the lab user and everything hanging off it: access keys,
// the login profile and attached policies have to go first or IAM refuses
// the user deletion.
func (h *Handler) Teardown(ctx context.Context, handle providers.Handle) error {
	userName := handle.ProviderID

	keys, err := h.IAM.ListAccessKeys(ctx, &iam.ListAccessKeysInput{
		UserName: aws.String(userName),
	})
	if err != nil {
		if isNoSuchEntity(err) {
			return nil
		}

		return utils.MakeError("error listing access keys for user %s: %s: %w", userName, err, providers.ErrTransportFailed)
	}

	for _, key := range keys.AccessKeyMetadata {
		if _, err := h.IAM.DeleteAccessKey(ctx, &iam.DeleteAccessKeyInput{
			UserName:    aws.String(userName),
			AccessKeyId: key.AccessKeyId,
		}); err != nil {
			return utils.MakeError("error deleting access key for user %s: %s: %w", userName, err, providers.ErrTransportFailed)
		}
	}

	if _, err := h.IAM.DeleteLoginProfile(ctx, &iam.DeleteLoginProfileInput{
		UserName: aws.String(userName),
	}); err != nil && !isNoSuchEntity(err) {
		return utils.MakeError("error deleting login profile for user %s: %s: %w", userName, err, providers.ErrTransportFailed)
	}

	policies, err := h.IAM.ListAttachedUserPolicies(ctx, &iam.ListAttachedUserPoliciesInput{
		UserName: aws.String(userName),
	})
	if err != nil {
		return utils.MakeError("error listing policies for user %s: %s: %w", userName, err, providers.ErrTransportFailed)
	}

	for _, policy := range policies.AttachedPolicies {
		if _, err := h.IAM.DetachUserPolicy(ctx, &iam.DetachUserPolicyInput{
			UserName:  aws.String(userName),
			PolicyArn: policy.PolicyArn,
		}); err != nil {
			return utils.MakeError("error detaching policy from user %s: %s: %w", userName, err, providers.ErrTransportFailed)
		}
	}

	if _, err := h.IAM.DeleteUser(ctx, &iam.DeleteUserInput{
		UserName: aws.String(userName),
	}); err != nil && !isNoSuchEntity(err) {
		return utils.MakeError("error deleting user %s: %s: %w", userName, err, providers.ErrTransportFailed)
	}

	return nil
}

// isDenied reports whether the deny-all policy is attached to the user.
func (h *Handler) isDenied(ctx context.Context, userName string) (bool, error) {
	policies, err := h.IAM.ListAttachedUserPolicies(ctx, &iam.ListAttachedUserPoliciesInput{
		UserName: aws.String(userName),
	})
	if err != nil {
		return false, utils.MakeError("error listing policies for user %s: %s: %w", userName, err, providers.ErrTransportFailed)
	}

	for _, policy := range policies.AttachedPolicies {
		if aws.ToString(policy.PolicyArn) == denyAllPolicyArn {
			return true, nil
		}
	}

	return false, nil
}

// labPolicyArn resolves the lab's template field to a policy ARN. Lab
// definitions may carry either a bare customer-managed policy name or a full
// ARN.
func (h *Handler) labPolicyArn(templateID string) string {
	if strings.HasPrefix(templateID, "arn:") {
		return templateID
	}

	return utils.Sprintf("arn:aws:iam::%s:policy/%s", h.accountID, templateID)
}

// consoleURL is the sign-in URL for the shared lab account.
func (h *Handler) consoleURL() string {
	return utils.Sprintf("https://%s.signin.aws.amazon.com/console", h.accountID)
}

// isNoSuchEntity reports whether an IAM API error means the entity no longer
// exists.
func isNoSuchEntity(err error) bool {
	var nse *iamTypes.NoSuchEntityException
	return errors.As(err, &nse)
}
