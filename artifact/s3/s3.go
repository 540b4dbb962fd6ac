// Package s3 provides a durable core.ArtifactStore backed by Amazon S3 or any
// S3-compatible object store (MinIO, Ceph RGW, ...).
//
// Each artifact revision is one object. Keys follow the artifact reference
// layout so buckets stay browsable:
//
//	{prefix}/{appName}/{userID}/{sessionID}/{filename}/{revision}
//
// Revisions are allocated by listing existing objects for the filename and
// adding one. Concurrent saves of the same filename from multiple processes
// may race on revision numbers; flushes are serialized per side within one
// invocation, which is the only writer in the intended topology.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hupe1980/agentstream/artifact"
	"github.com/hupe1980/agentstream/core"
)

// Options configures the S3 artifact store.
type Options struct {
	// Bucket is the target bucket name. Required.
	Bucket string
	// Prefix is prepended to every object key. Optional.
	Prefix string
	// Region selects the AWS region. Falls back to the default chain.
	Region string
	// Endpoint overrides the S3 endpoint, e.g. for MinIO.
	Endpoint string
	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible servers.
	UsePathStyle bool
	// Profile selects a shared config profile. Optional.
	Profile string
	// AccessKeyID / SecretAccessKey / SessionToken configure static
	// credentials. When unset the default provider chain applies.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// RequestTimeout bounds each S3 call. Defaults to 30s.
	RequestTimeout time.Duration
}

// Store is an ArtifactStore persisting revisioned artifacts as S3 objects.
type Store struct {
	client  *s3.Client
	bucket  string
	prefix  string
	timeout time.Duration
}

// New creates an S3 artifact store using the provided credentials/region.
func New(ctx context.Context, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{
		RequestTimeout: 30 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}

	loadOpts := []func(*awscfg.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		staticProvider := credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken)
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(staticProvider))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return &Store{
		client:  client,
		bucket:  opts.Bucket,
		prefix:  strings.Trim(opts.Prefix, "/"),
		timeout: opts.RequestTimeout,
	}, nil
}

// Save persists a new revision of the named artifact and returns its revision
// number.
func (s *Store) Save(appName, userID, sessionID, filename string, data core.Blob) (int, error) {
	ctx, cancel := s.callCtx()
	defer cancel()

	versions, err := s.listVersions(ctx, appName, userID, sessionID, filename)
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return 0, err
	}

	revision := 0
	if len(versions) > 0 {
		revision = versions[len(versions)-1] + 1
	}

	key := s.objectKey(appName, userID, sessionID, filename, revision)

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data.Data),
	}
	if data.MimeType != "" {
		input.ContentType = aws.String(data.MimeType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return 0, fmt.Errorf("put artifact %s: %w", key, err)
	}

	return revision, nil
}

// Get returns the latest revision of the named artifact.
func (s *Store) Get(appName, userID, sessionID, filename string) (core.Blob, error) {
	ctx, cancel := s.callCtx()
	defer cancel()

	versions, err := s.listVersions(ctx, appName, userID, sessionID, filename)
	if err != nil {
		return core.Blob{}, err
	}

	return s.getObject(ctx, s.objectKey(appName, userID, sessionID, filename, versions[len(versions)-1]))
}

// GetVersion returns one specific revision of the named artifact.
func (s *Store) GetVersion(appName, userID, sessionID, filename string, version int) (core.Blob, error) {
	ctx, cancel := s.callCtx()
	defer cancel()

	return s.getObject(ctx, s.objectKey(appName, userID, sessionID, filename, version))
}

// List returns the filenames stored under the scope in lexical order.
func (s *Store) List(appName, userID, sessionID string) ([]string, error) {
	ctx, cancel := s.callCtx()
	defer cancel()

	scope := s.scopePrefix(appName, userID, sessionID)

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(scope),
		Delimiter: aws.String("/"),
	})

	names := []string{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list artifacts: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), scope), "/")
			if name != "" {
				names = append(names, name)
			}
		}
	}

	sort.Strings(names)

	return names, nil
}

// ListVersions returns the revision numbers stored for one filename in
// ascending order.
func (s *Store) ListVersions(appName, userID, sessionID, filename string) ([]int, error) {
	ctx, cancel := s.callCtx()
	defer cancel()

	return s.listVersions(ctx, appName, userID, sessionID, filename)
}

// Delete removes all revisions of the named artifact.
func (s *Store) Delete(appName, userID, sessionID, filename string) error {
	ctx, cancel := s.callCtx()
	defer cancel()

	versions, err := s.listVersions(ctx, appName, userID, sessionID, filename)
	if err != nil {
		return err
	}

	objects := make([]s3types.ObjectIdentifier, 0, len(versions))
	for _, v := range versions {
		objects = append(objects, s3types.ObjectIdentifier{
			Key: aws.String(s.objectKey(appName, userID, sessionID, filename, v)),
		})
	}

	if _, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	}); err != nil {
		return fmt.Errorf("delete artifact %s: %w", filename, err)
	}

	return nil
}

func (s *Store) getObject(ctx context.Context, key string) (core.Blob, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *s3types.NoSuchKey
		if errors.As(err, &nf) || strings.Contains(err.Error(), "NoSuchKey") {
			return core.Blob{}, fmt.Errorf("%w: %s", artifact.ErrNotFound, key)
		}
		return core.Blob{}, fmt.Errorf("get artifact %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return core.Blob{}, fmt.Errorf("read artifact %s: %w", key, err)
	}

	return core.Blob{MimeType: aws.ToString(out.ContentType), Data: data}, nil
}

func (s *Store) listVersions(ctx context.Context, appName, userID, sessionID, filename string) ([]int, error) {
	prefix := s.scopePrefix(appName, userID, sessionID) + filename + "/"

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	versions := []int{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list versions: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			v, err := strconv.Atoi(key[strings.LastIndex(key, "/")+1:])
			if err != nil {
				continue // foreign object under the artifact prefix
			}
			versions = append(versions, v)
		}
	}

	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", artifact.ErrNotFound, filename)
	}

	sort.Ints(versions)

	return versions, nil
}

func (s *Store) scopePrefix(appName, userID, sessionID string) string {
	scope := fmt.Sprintf("%s/%s/%s/", appName, userID, sessionID)
	if s.prefix == "" {
		return scope
	}
	return s.prefix + "/" + scope
}

func (s *Store) objectKey(appName, userID, sessionID, filename string, revision int) string {
	return fmt.Sprintf("%s%s/%d", s.scopePrefix(appName, userID, sessionID), filename, revision)
}

func (s *Store) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}
