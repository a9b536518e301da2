package aws_s3

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/creditmate/card-data-worker/config"
	"github.com/creditmate/card-data-worker/internal/model"
)

// BucketClient archives raw fetched documents. The crawl record stores
// only the returned link, never the payload itself.
type BucketClient interface {
	WriteRawContent(sourceID, crawlRecordID int64, kind model.ContentKind, body []byte) string
}

type S3BucketClient struct {
	client *s3.Client
	cfg    *config.S3Config
	log    *slog.Logger
}

func NewS3BucketClient(cfg *config.S3Config, log *slog.Logger) *S3BucketClient {
	log.Info("connecting to s3...")
	ctx := context.Background()

	sdkConfig, err := awsCfg.LoadDefaultConfig(ctx,
		awsCfg.WithCredentialsProvider(crd.NewStaticCredentialsProvider(cfg.AwsAccessKey, cfg.AwsSecretKey, "")),
		awsCfg.WithRegion(cfg.Region),
		awsCfg.WithBaseEndpoint(cfg.AwsBaseEndpoint))
	if err != nil {
		log.Error("failed to load s3 config.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	// LocalStack does not support `virtual host addressing style` that uses s3 by default.
	// For test purposes use configuration with disabled 'virtual hosted bucket addressing'.
	var s3client *s3.Client
	if cfg.AwsAccessKey == "test" {
		log.Warn("test configuration for s3")
		s3client = s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	} else {
		s3client = s3.NewFromConfig(sdkConfig)
	}
	log.Info("connected to s3")

	return &S3BucketClient{
		client: s3client,
		cfg:    cfg,
		log:    log,
	}
}

func (bc *S3BucketClient) WriteRawContent(sourceID, crawlRecordID int64,
	kind model.ContentKind, body []byte) string {
	s3Key := fmt.Sprintf("%s/source-%d/crawl-%d/raw.%s", bc.cfg.KeyPrefix, sourceID, crawlRecordID, kind)

	_, err := bc.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: &bc.cfg.BucketName,
		Key:    &s3Key,
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		bc.log.Error("failed to save raw content to s3.", slog.String("err", err.Error()))
		return ""
	}
	bc.log.Debug("raw content saved to s3.", slog.Int64("source_id", sourceID))

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bc.cfg.BucketName, bc.cfg.Region, s3Key)
}
