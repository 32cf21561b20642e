package mlflow

import (
	"context"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
)

// s3Location is an object key inside a bucket, parsed from s3://bucket/key.
type s3Location struct {
	Bucket string
	Key    string
}

func parseS3URI(uri string) (s3Location, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return s3Location{}, eris.Wrapf(err, "parse s3 uri %s", uri)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return s3Location{}, eris.Errorf("invalid s3 uri: %s", uri)
	}
	return s3Location{Bucket: u.Host, Key: strings.TrimPrefix(u.Path, "/")}, nil
}

// join appends an artifact path below the location's key.
func (l s3Location) join(artifactPath string) s3Location {
	return s3Location{Bucket: l.Bucket, Key: path.Join(l.Key, artifactPath)}
}

// s3Uploader is created on first use; AWS credentials come from the default
// chain (AWS_REGION, AWS_PROFILE, instance role).
type s3Uploader struct {
	once     sync.Once
	uploader *manager.Uploader
	err      error
}

func (u *s3Uploader) get(ctx context.Context) (*manager.Uploader, error) {
	u.once.Do(func() {
		cfg, err := awsConfig.LoadDefaultConfig(ctx)
		if err != nil {
			u.err = eris.Wrap(err, "load aws config")
			return
		}
		u.uploader = manager.NewUploader(s3.NewFromConfig(cfg))
	})
	return u.uploader, u.err
}

func (c *Client) uploadToS3(ctx context.Context, artifactURI, filePath, artifactPath string) error {
	root, err := parseS3URI(artifactURI)
	if err != nil {
		return err
	}
	dest := root.join(artifactPath)

	uploader, err := c.s3.get(ctx)
	if err != nil {
		return err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return eris.Wrapf(err, "open %s", filePath)
	}
	defer file.Close()

	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(dest.Bucket),
		Key:         aws.String(dest.Key),
		Body:        file,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return eris.Wrapf(err, "upload %s to s3://%s/%s", filePath, dest.Bucket, dest.Key)
	}
	return nil
}
