// Package s3 implements artifactstore.Store on Amazon S3.
package s3

import (
	"context"
	"errors"
	"io"
	"path"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/opendict/lexicore/artifactstore"
)

// Store implements artifactstore.Store for S3.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewStore creates an S3 artifact store. rootPrefix is prepended to all keys
// (e.g. "lexicore/artifacts/").
func NewStore(client *s3.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// Put uploads the artifact via the multipart upload manager, so large
// sqlite files and dictionary packages stream without buffering in memory.
func (s *Store) Put(ctx context.Context, name string, r io.Reader) error {
	uploader := manager.NewUploader(s.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   r,
	})
	return err
}

func (s *Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, artifactstore.ErrNotFound
		}
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, artifactstore.ErrNotFound
		}
		return nil, err
	}
	return out.Body, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	return err
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.key(prefix)
	var names []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			name := *obj.Key
			if len(s.prefix) > 0 && len(name) > len(s.prefix) && name[:len(s.prefix)] == s.prefix {
				name = name[len(s.prefix):]
				if len(name) > 0 && name[0] == '/' {
					name = name[1:]
				}
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
