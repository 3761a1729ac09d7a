package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/medforge/casgen/internal/domain"
)

// metaChecksum is the user-metadata key carrying the client-side content
// hash. S3 ETags are not content hashes for multipart uploads, so the
// checksum travels with the object instead.
const metaChecksum = "sha256"

// S3Store targets a single bucket on AWS S3 or any compatible endpoint
// such as MinIO.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// S3Config holds explicit construction parameters. Credentials fall back to
// the default provider chain when the static fields are empty.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
}

// OpenS3 creates an S3 artifact store from cfg.
func OpenS3(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, domain.NewEngineError(domain.ErrConfigInvalid.Code, "s3 artifact driver requires a bucket")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrArtifactStore.Code, "loading aws config", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Store{client: client, presign: s3.NewPresignClient(client), bucket: cfg.Bucket}, nil
}

func (s *S3Store) Driver() Driver { return DriverS3 }

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	k, err := cleanKey(key)
	if err != nil {
		return Info{}, err
	}
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &k}); err == nil {
		return Info{}, domain.NewEngineError(domain.ErrArtifactStore.Code,
			fmt.Sprintf("artifact %s already exists", key))
	}

	// Buffer the payload to hash it before upload. Output chunks are
	// bounded by the pipeline's chunk size, so this stays modest.
	data, err := io.ReadAll(r)
	if err != nil {
		return Info{}, domain.WrapEngineError(domain.ErrArtifactStore.Code, fmt.Sprintf("reading %s", key), err)
	}
	sum := sha256.Sum256(data)

	meta := cloneMeta(opts.Metadata)
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta[metaChecksum] = hex.EncodeToString(sum[:])

	input := &s3.PutObjectInput{
		Bucket:   &s.bucket,
		Key:      &k,
		Body:     bytes.NewReader(data),
		Metadata: meta,
	}
	if opts.ContentType != "" {
		input.ContentType = &opts.ContentType
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return Info{}, domain.WrapEngineError(domain.ErrArtifactStore.Code, fmt.Sprintf("uploading %s", key), err)
	}
	return s.Head(ctx, k)
}

func (s *S3Store) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	k, err := cleanKey(key)
	if err != nil {
		return Info{}, nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &k})
	if err != nil {
		return Info{}, nil, s.mapErr(key, err)
	}
	return s.objectInfo(k, aws.ToInt64(out.ContentLength), out.ContentType, out.Metadata, out.LastModified), out.Body, nil
}

func (s *S3Store) Head(ctx context.Context, key string) (Info, error) {
	k, err := cleanKey(key)
	if err != nil {
		return Info{}, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &k})
	if err != nil {
		return Info{}, s.mapErr(key, err)
	}
	return s.objectInfo(k, aws.ToInt64(out.ContentLength), out.ContentType, out.Metadata, out.LastModified), nil
}

func (s *S3Store) Delete(ctx context.Context, key string) (bool, error) {
	k, err := cleanKey(key)
	if err != nil {
		return false, err
	}
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &k}); err != nil {
		return false, nil
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &k}); err != nil {
		return false, domain.WrapEngineError(domain.ErrArtifactStore.Code, fmt.Sprintf("deleting %s", key), err)
	}
	return true, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]Info, error) {
	var infos []Info
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, domain.WrapEngineError(domain.ErrArtifactStore.Code, "listing artifacts", err)
		}
		for _, obj := range out.Contents {
			infos = append(infos, Info{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *S3Store) PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	out, err := s.presign.PresignGetObject(ctx,
		&s3.GetObjectInput{Bucket: &s.bucket, Key: &k},
		func(po *s3.PresignOptions) { po.Expires = expiry })
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrArtifactStore.Code, fmt.Sprintf("presigning %s", key), err)
	}
	return out.URL, nil
}

func (s *S3Store) objectInfo(key string, size int64, contentType *string, meta map[string]string, lastModified *time.Time) Info {
	info := Info{
		Key:          key,
		Size:         size,
		ContentType:  aws.ToString(contentType),
		Metadata:     cloneMeta(meta),
		LastModified: aws.ToTime(lastModified),
	}
	if sum, ok := meta[metaChecksum]; ok {
		info.SHA256 = sum
		delete(info.Metadata, metaChecksum)
	}
	return info
}

func (s *S3Store) mapErr(key string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "NotFound") || strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "404") {
		return notFound(key)
	}
	return domain.WrapEngineError(domain.ErrArtifactStore.Code, fmt.Sprintf("fetching %s", key), err)
}
