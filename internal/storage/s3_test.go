package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type fakeS3 struct {
	buckets   []string
	createErr error
	putErr    error

	created  []*s3.CreateBucketInput
	policies []*s3.PutBucketPolicyInput
	puts     []*s3.PutObjectInput
	bodies   [][]byte
}

func (f *fakeS3) ListBuckets(ctx context.Context, in *s3.ListBucketsInput, _ ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	out := &s3.ListBucketsOutput{}
	for _, name := range f.buckets {
		out.Buckets = append(out.Buckets, types.Bucket{Name: aws.String(name)})
	}
	return out, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created = append(f.created, in)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) DeletePublicAccessBlock(ctx context.Context, in *s3.DeletePublicAccessBlockInput, _ ...func(*s3.Options)) (*s3.DeletePublicAccessBlockOutput, error) {
	return nil, errors.New("NotImplemented")
}

func (f *fakeS3) PutBucketPolicy(ctx context.Context, in *s3.PutBucketPolicyInput, _ ...func(*s3.Options)) (*s3.PutBucketPolicyOutput, error) {
	f.policies = append(f.policies, in)
	return &s3.PutBucketPolicyOutput{}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, _ := io.ReadAll(in.Body)
	f.puts = append(f.puts, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3StoreListBuckets(t *testing.T) {
	store := newS3Store(&fakeS3{buckets: []string{"a", "interior-designs"}}, "us-east-1", S3Options{})
	buckets, err := store.ListBuckets(context.Background())
	if err != nil {
		t.Fatalf("ListBuckets returned error: %v", err)
	}
	if len(buckets) != 2 || buckets[1].Name != "interior-designs" {
		t.Fatalf("ListBuckets() = %+v", buckets)
	}
}

func TestS3StoreCreatePublicBucket(t *testing.T) {
	fake := &fakeS3{}
	store := newS3Store(fake, "eu-west-1", S3Options{})
	if err := store.CreateBucket(context.Background(), "interior-designs", true); err != nil {
		t.Fatalf("CreateBucket returned error: %v", err)
	}
	if len(fake.created) != 1 {
		t.Fatalf("created = %d, want 1", len(fake.created))
	}
	cfg := fake.created[0].CreateBucketConfiguration
	if cfg == nil || cfg.LocationConstraint != types.BucketLocationConstraint("eu-west-1") {
		t.Fatalf("CreateBucketConfiguration = %+v, want eu-west-1 constraint", cfg)
	}
	if len(fake.policies) != 1 || !strings.Contains(aws.ToString(fake.policies[0].Policy), "arn:aws:s3:::interior-designs/*") {
		t.Fatalf("policies = %+v, want public read policy", fake.policies)
	}
}

func TestS3StoreCreateBucketAlreadyOwned(t *testing.T) {
	fake := &fakeS3{createErr: &types.BucketAlreadyOwnedByYou{}}
	store := newS3Store(fake, "us-east-1", S3Options{})
	if err := store.CreateBucket(context.Background(), "mine", false); err != nil {
		t.Fatalf("CreateBucket returned error: %v", err)
	}
	if fake.created[0].CreateBucketConfiguration != nil {
		t.Fatal("us-east-1 must not send a location constraint")
	}
}

func TestS3StoreUpload(t *testing.T) {
	fake := &fakeS3{}
	store := newS3Store(fake, "us-east-1", S3Options{})
	err := store.Upload(context.Background(), "b", "k.png", []byte("img"), UploadOptions{
		ContentType: "image/png",
		Overwrite:   true,
		Metadata:    map[string]string{"prompt": "café loft"},
	})
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	put := fake.puts[0]
	if aws.ToString(put.Bucket) != "b" || aws.ToString(put.Key) != "k.png" || aws.ToString(put.ContentType) != "image/png" {
		t.Fatalf("PutObjectInput = %+v", put)
	}
	if put.IfNoneMatch != nil {
		t.Fatalf("IfNoneMatch = %q with overwrite allowed", aws.ToString(put.IfNoneMatch))
	}
	if put.Metadata["prompt"] != "caf%C3%A9+loft" {
		t.Fatalf("metadata prompt = %q, want ascii-escaped", put.Metadata["prompt"])
	}
	if string(fake.bodies[0]) != "img" {
		t.Fatalf("body = %q", fake.bodies[0])
	}

	if err := store.Upload(context.Background(), "b", "k2.png", []byte("img"), UploadOptions{}); err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if aws.ToString(fake.puts[1].IfNoneMatch) != "*" {
		t.Fatalf("IfNoneMatch = %q, want *", aws.ToString(fake.puts[1].IfNoneMatch))
	}
}

func TestS3StoreUploadPreconditionFailed(t *testing.T) {
	fake := &fakeS3{putErr: &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "exists"}}
	store := newS3Store(fake, "us-east-1", S3Options{})
	err := store.Upload(context.Background(), "b", "k.png", []byte("img"), UploadOptions{})
	if !errors.Is(err, ErrObjectExists) {
		t.Fatalf("err = %v, want ErrObjectExists", err)
	}
}

func TestS3StorePublicURL(t *testing.T) {
	cases := []struct {
		name string
		opts S3Options
		want string
	}{
		{"aws virtual hosted", S3Options{}, "https://designs.s3.eu-central-1.amazonaws.com/a.png"},
		{"configured public base", S3Options{PublicBaseURL: "https://cdn.example/"}, "https://cdn.example/designs/a.png"},
		{"path style endpoint", S3Options{Endpoint: "http://minio:9000", UsePathStyle: true}, "http://minio:9000/designs/a.png"},
		{"virtual hosted endpoint", S3Options{Endpoint: "https://objects.example"}, "https://designs.objects.example/a.png"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newS3Store(&fakeS3{}, "eu-central-1", tc.opts)
			if got := store.PublicURL("designs", "a.png"); got != tc.want {
				t.Fatalf("PublicURL() = %q, want %q", got, tc.want)
			}
		})
	}
}
