package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

type Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	UsePathStyle  bool
	Prefix        string
}

// VideoArchive keeps delivered videos in an S3 compatible bucket so users can
// download clips that are too large for the chat.
type VideoArchive struct {
	cfg    Config
	client *s3.Client
	now    func() time.Time
}

func NewVideoArchive(cfg Config) (*VideoArchive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, fmt.Errorf("s3 public base url is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "videos"
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &VideoArchive{
		cfg:    cfg,
		client: s3.New(options),
		now:    time.Now,
	}, nil
}

// UploadVideo stores an mp4 under the user's folder and returns its public URL.
func (a *VideoArchive) UploadVideo(ctx context.Context, userID int64, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no data to upload")
	}

	key := a.key(userID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String("video/mp4"),
		ContentLength: aws.Int64(int64(len(data))),
		ACL:           types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("upload video to s3: %w", err)
	}
	return a.PublicURL(key), nil
}

func (a *VideoArchive) PublicURL(key string) string {
	return strings.TrimRight(a.cfg.PublicBaseURL, "/") + "/" + key
}

func (a *VideoArchive) key(userID int64) string {
	now := a.now().UTC()
	prefix := strings.Trim(a.cfg.Prefix, "/")
	return path.Join(prefix, strconv.FormatInt(userID, 10), fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day()), uuid.NewString()+".mp4")
}
