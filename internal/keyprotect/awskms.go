package keyprotect

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// AWSKMSProtector protects key material through AWS KMS
type AWSKMSProtector struct {
	keyID  string
	client *kms.Client
}

// NewAWSKMSProtector creates an AWS KMS backed protector.
// Credentials come from the default chain: env vars, shared config, IAM role.
func NewAWSKMSProtector(keyID, region string) (*AWSKMSProtector, error) {
	if keyID == "" {
		return nil, fmt.Errorf("AWS KMS key ID is required")
	}
	if region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSKMSProtector{
		keyID:  keyID,
		client: kms.NewFromConfig(cfg),
	}, nil
}

// Encrypt protects key material with the configured KMS key
func (p *AWSKMSProtector) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	output, err := p.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(p.keyID),
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS encrypt failed: %w", err)
	}
	return output.CiphertextBlob, nil
}

// Decrypt recovers key material with the configured KMS key
func (p *AWSKMSProtector) Decrypt(ctx context.Context, blob []byte) ([]byte, error) {
	output, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(p.keyID),
		CiphertextBlob: blob,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS decrypt failed: %w", err)
	}
	return output.Plaintext, nil
}

// Provider returns the backend name
func (p *AWSKMSProtector) Provider() string {
	return "aws-kms"
}
