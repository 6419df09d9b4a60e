package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"docsnap/internal/snap"
)

// S3Options configures the S3 snapshot store. AccessKey/SecretKey are
// optional; when empty the SDK's default credential chain is used. Endpoint
// is for S3-compatible stores (MinIO and friends) and switches the client to
// path-style addressing.
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Store is a RemoteStore backed by an S3 bucket. Objects are keyed
// <namespace>/<snapshotID>/<artifact>.
type S3Store struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
}

var _ snap.RemoteStore = (*S3Store)(nil)

// NewS3Store builds the client and transfer managers from options.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 store requires a bucket")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     opts.Bucket,
	}, nil
}

func objectKey(namespace, snapshotID, name string) string {
	return path.Join(namespace, snapshotID, name)
}

func (s *S3Store) Upload(ctx context.Context, namespace string, snapshotID string, stagingDir string) error {
	staged, err := stagedSet(stagingDir)
	if err != nil {
		return err
	}

	remote, err := s.listing(ctx, namespace, snapshotID)
	if err != nil {
		return err
	}
	if sameSet(staged, remote) {
		return nil
	}

	for _, name := range uploadOrder(staged) {
		f, err := os.Open(filepath.Join(stagingDir, name))
		if err != nil {
			return fmt.Errorf("opening staged file %s: %w", name, err)
		}
		_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectKey(namespace, snapshotID, name)),
			Body:   f,
		})
		f.Close()
		if err != nil {
			return snap.NewError(snap.TransientIO, "upload "+name, snapshotID, err)
		}
	}

	remote, err = s.listing(ctx, namespace, snapshotID)
	if err != nil {
		return err
	}
	return compareListing(snapshotID, staged, remote)
}

func (s *S3Store) List(ctx context.Context, namespace string) ([]string, error) {
	prefix := namespace + "/"
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var ids []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, snap.NewError(snap.TransientIO, "list namespace", "", err)
		}
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			parts := strings.SplitN(rel, "/", 2)
			// A snapshot is present only once its manifest object
			// is visible.
			if len(parts) == 2 && parts[1] == snap.ManifestName {
				ids = append(ids, parts[0])
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *S3Store) Download(ctx context.Context, namespace string, snapshotID string, destDir string) error {
	remote, err := s.listing(ctx, namespace, snapshotID)
	if err != nil {
		return err
	}
	if len(remote) == 0 {
		return snap.NewError(snap.InvalidInput, "download snapshot", snapshotID,
			fmt.Errorf("snapshot not found in namespace %s", namespace))
	}

	for name := range remote {
		f, err := os.Create(filepath.Join(destDir, name))
		if err != nil {
			return fmt.Errorf("creating %s: %w", name, err)
		}
		_, err = s.downloader.Download(ctx, f, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectKey(namespace, snapshotID, name)),
		})
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return snap.NewError(snap.TransientIO, "download "+name, snapshotID, err)
		}
	}
	return nil
}

func (s *S3Store) Fetch(ctx context.Context, namespace string, snapshotID string, name string, w io.Writer) error {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(namespace, snapshotID, name)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return snap.NewError(snap.TransientIO, "fetch "+name, snapshotID,
				fmt.Errorf("object not found"))
		}
		return snap.NewError(snap.TransientIO, "fetch "+name, snapshotID, err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return snap.NewError(snap.TransientIO, "fetch "+name, snapshotID, err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, namespace string, snapshotID string) error {
	remote, err := s.listing(ctx, namespace, snapshotID)
	if err != nil {
		return err
	}

	var batch []types.ObjectIdentifier
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: batch},
		})
		batch = batch[:0]
		if err != nil {
			return snap.NewError(snap.TransientIO, "delete snapshot", snapshotID, err)
		}
		return nil
	}

	for name := range remote {
		batch = append(batch, types.ObjectIdentifier{
			Key: aws.String(objectKey(namespace, snapshotID, name)),
		})
		if len(batch) == 1000 {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// listing returns name → size for the objects under one snapshot prefix.
func (s *S3Store) listing(ctx context.Context, namespace, snapshotID string) (map[string]int64, error) {
	prefix := path.Join(namespace, snapshotID) + "/"
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	set := make(map[string]int64)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, snap.NewError(snap.TransientIO, "list snapshot", snapshotID, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			set[name] = aws.ToInt64(obj.Size)
		}
	}
	return set, nil
}
