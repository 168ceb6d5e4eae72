package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"

	cfg "github.com/contentpilot/postpilot/configs"
)

// MediaService stores uploaded assets in Cloudflare R2 and returns the
// public URLs that end up in content snapshots.
type MediaService struct {
	config cfg.Config
}

func NewMediaService(config cfg.Config) *MediaService {
	return &MediaService{config: config}
}

var allowedMediaTypes = map[string]struct{}{
	"mp4": {}, "mov": {}, "jpeg": {}, "png": {}, "jpg": {}, "webp": {},
}

// Upload validates and stores the given files, returning their public URLs.
func (m *MediaService) Upload(ctx context.Context, files []*multipart.FileHeader) ([]string, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files provided")
	}

	urls := make([]string, 0, len(files))
	for _, file := range files {
		fileContent, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("error opening file: %w", err)
		}

		fileBytes, err := io.ReadAll(fileContent)
		fileContent.Close()
		if err != nil {
			return nil, fmt.Errorf("error reading file content: %w", err)
		}

		kind, err := filetype.Match(fileBytes)
		if err != nil || kind == types.Unknown {
			return nil, fmt.Errorf("unsupported file type: %w", err)
		}
		if _, ok := allowedMediaTypes[kind.Extension]; !ok {
			return nil, fmt.Errorf("file type %s is not allowed", kind.Extension)
		}

		key, err := gonanoid.New()
		if err != nil {
			return nil, err
		}
		if err := m.putObject(ctx, key, fileBytes, kind.MIME.Value); err != nil {
			return nil, fmt.Errorf("error uploading file: %w", err)
		}

		urls = append(urls, fmt.Sprintf("%s/%s", m.config.R2.PublicBaseURL, key))
	}
	return urls, nil
}

func (m *MediaService) putObject(ctx context.Context, key string, file []byte, contentType string) error {
	client, err := m.r2Client(ctx)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(m.config.R2.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(file),
		ContentType: aws.String(contentType),
	}

	if _, err := client.PutObject(ctx, input); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (m *MediaService) r2Client(ctx context.Context) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(m.config.R2.AccessKey, m.config.R2.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", m.config.R2.AccountID))
	}), nil
}
