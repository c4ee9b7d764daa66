// Package s3 signs private downloads from any S3-compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"DropTracker/internal/domain"
	"DropTracker/internal/ports"
)

// staticLeaseLifetime bounds how long non-expiring credentials are cached.
const staticLeaseLifetime = 23 * time.Hour

// Config selects the bucket and credentials.
type Config struct {
	Region          string
	Bucket          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	UsePathStyle    bool
}

// Presigner is an AssetUpstream that presigns GetObject requests.
type Presigner struct {
	cfg      Config
	provider aws.CredentialsProvider
	now      func() time.Time
}

var _ ports.AssetUpstream = (*Presigner)(nil)

// NewPresigner builds a Presigner with static credentials from cfg.
func NewPresigner(cfg Config) *Presigner {
	return NewPresignerWithProvider(cfg,
		credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken))
}

// NewPresignerWithProvider builds a Presigner over any credentials source.
func NewPresignerWithProvider(cfg Config, provider aws.CredentialsProvider) *Presigner {
	return &Presigner{cfg: cfg, provider: provider, now: time.Now}
}

// Authorize resolves the current credentials into a lease.
func (p *Presigner) Authorize(ctx context.Context) (domain.AuthorizationLease, error) {
	if p.cfg.Bucket == "" || p.cfg.Region == "" {
		return domain.AuthorizationLease{}, errors.New("s3 bucket and region are required")
	}

	creds, err := p.provider.Retrieve(ctx)
	if err != nil {
		return domain.AuthorizationLease{}, fmt.Errorf("retrieve credentials: %w", err)
	}
	if !creds.HasKeys() {
		return domain.AuthorizationLease{}, errors.New("retrieve credentials: no keys")
	}

	now := p.now()
	expires := now.Add(staticLeaseLifetime)
	if creds.CanExpire && creds.Expires.Before(expires) {
		expires = creds.Expires
	}

	return domain.AuthorizationLease{
		Token:        creds.AccessKeyID,
		Secret:       creds.SecretAccessKey,
		SessionToken: creds.SessionToken,
		AccountID:    creds.AccountID,
		IssuedAt:     now,
		ExpiresAt:    expires,
		APIURL:       p.cfg.Endpoint,
	}, nil
}

// SignURL presigns a GET for key alone, valid for ttl.
func (p *Presigner) SignURL(ctx context.Context, lease domain.AuthorizationLease, key string, ttl time.Duration) (string, error) {
	client := awss3.New(awss3.Options{
		Region:       p.cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(lease.Token, lease.Secret, lease.SessionToken),
		UsePathStyle: p.cfg.UsePathStyle,
	}, func(o *awss3.Options) {
		if p.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(p.cfg.Endpoint)
		}
	})

	req, err := awss3.NewPresignClient(client).PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	}, awss3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign get object: %w", err)
	}
	return req.URL, nil
}
