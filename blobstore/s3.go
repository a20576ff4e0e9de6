package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	raven "github.com/getsentry/raven-go"
)

// S3 is a Store backed by an S3 bucket. Prefix, if set, is prepended to
// every key, letting one bucket back more than one logical store.
type S3 struct {
	Client *s3.Client
	Bucket string
	Prefix string

	presign *s3.PresignClient
}

var _ Store = &S3{}

// NewS3 returns a Store bound to bucket, using client for both direct
// calls and presigned URL generation.
func NewS3(client *s3.Client, bucket, prefix string) *S3 {
	return &S3{
		Client:  client,
		Bucket:  bucket,
		Prefix:  prefix,
		presign: s3.NewPresignClient(client),
	}
}

func (st *S3) fullKey(key string) string {
	return st.Prefix + key
}

// Put implements Store.
func (st *S3) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := st.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(st.Bucket),
		Key:         aws.String(st.fullKey(key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		log.Println("S3 Put:", key, err)
		raven.CaptureError(err, map[string]string{"Bucket": st.Bucket, "Key": key})
	}
	return err
}

// Get implements Store.
func (st *S3) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := st.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(st.Bucket),
		Key:    aws.String(st.fullKey(key)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, &notFoundError{key: key}
		}
		log.Println("S3 Get:", key, err)
		raven.CaptureError(err, map[string]string{"Bucket": st.Bucket, "Key": key})
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Delete implements Store. It is not an error to delete a missing key,
// matching S3's own DeleteObject semantics.
func (st *S3) Delete(ctx context.Context, key string) error {
	_, err := st.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(st.Bucket),
		Key:    aws.String(st.fullKey(key)),
	})
	if err != nil {
		log.Println("S3 Delete:", key, err)
		raven.CaptureError(err, map[string]string{"Bucket": st.Bucket, "Key": key})
	}
	return err
}

// DeletePrefix implements Store by paging ListObjectsV2 under
// Prefix+prefix and batching deletes.
func (st *S3) DeletePrefix(ctx context.Context, prefix string) error {
	full := st.fullKey(prefix)
	paginator := s3.NewListObjectsV2Paginator(st.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(st.Bucket),
		Prefix: aws.String(full),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			log.Println("S3 DeletePrefix list:", prefix, err)
			raven.CaptureError(err, map[string]string{"Bucket": st.Bucket, "Prefix": prefix})
			return err
		}
		if len(page.Contents) == 0 {
			continue
		}
		objs := make([]types.ObjectIdentifier, len(page.Contents))
		for i, item := range page.Contents {
			objs[i] = types.ObjectIdentifier{Key: item.Key}
		}
		_, err = st.Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(st.Bucket),
			Delete: &types.Delete{Objects: objs},
		})
		if err != nil {
			log.Println("S3 DeletePrefix delete:", prefix, err)
			raven.CaptureError(err, map[string]string{"Bucket": st.Bucket, "Prefix": prefix})
			return err
		}
	}
	return nil
}

// PresignGet implements Store.
func (st *S3) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := st.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(st.Bucket),
		Key:    aws.String(st.fullKey(key)),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		log.Println("S3 PresignGet:", key, err)
		raven.CaptureError(err, map[string]string{"Bucket": st.Bucket, "Key": key})
		return "", err
	}
	return req.URL, nil
}
