package integrations

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"polyatop/backend/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	MaxVenueImageBytes = 10 * 1024 * 1024
	venueUploadTTL     = 15 * time.Minute
)

var (
	ErrUnsupportedImageType = errors.New("unsupported image type")
	ErrImageTooLarge        = errors.New("image too large")
	ErrForeignImageURL      = errors.New("image url does not belong to the venue")
)

var venueImageExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// VenueImage describes a photo an owner is about to upload. Size is optional;
// when set it is signed into the upload URL.
type VenueImage struct {
	VenueID     int64
	FileName    string
	ContentType string
	Size        int64
}

// Validate normalises the content type and enforces the venue photo rules.
func (img *VenueImage) Validate() error {
	img.ContentType = strings.ToLower(strings.TrimSpace(img.ContentType))
	if _, ok := venueImageExt[img.ContentType]; !ok {
		return ErrUnsupportedImageType
	}
	if img.Size < 0 || img.Size > MaxVenueImageBytes {
		return ErrImageTooLarge
	}
	return nil
}

type PresignedUpload struct {
	UploadURL string
	FileURL   string
	Key       string
}

// S3Client stores venue photos under venues/<id>/.
type S3Client struct {
	bucket         string
	publicEndpoint string
	client         *s3.Client
	publicPresign  *s3.PresignClient
}

func NewS3(ctx context.Context, cfg config.S3Config) (*S3Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	endpoint := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	publicEndpoint := normalizeEndpoint(cfg.PublicEndpoint, cfg.UseSSL)
	if publicEndpoint == "" {
		publicEndpoint = endpoint
	}

	options := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if endpoint != "" {
		options.BaseEndpoint = aws.String(endpoint)
	}
	client := s3.New(options)

	// Browsers upload through the public host, so presign against it.
	publicPresign := s3.NewPresignClient(client)
	if publicEndpoint != "" && publicEndpoint != endpoint {
		publicOptions := options
		publicOptions.BaseEndpoint = aws.String(publicEndpoint)
		publicPresign = s3.NewPresignClient(s3.New(publicOptions))
	}

	return &S3Client{
		bucket:         cfg.Bucket,
		publicEndpoint: publicEndpoint,
		client:         client,
		publicPresign:  publicPresign,
	}, nil
}

// PresignVenueImage validates img and returns a PUT URL valid for 15 minutes
// together with the URL the photo will be served from.
func (s *S3Client) PresignVenueImage(ctx context.Context, img VenueImage) (PresignedUpload, error) {
	if err := img.Validate(); err != nil {
		return PresignedUpload{}, err
	}
	key := venueImageKey(img.VenueID, img.FileName, img.ContentType, time.Now().UTC())
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(img.ContentType),
	}
	if img.Size > 0 {
		input.ContentLength = aws.Int64(img.Size)
	}
	resp, err := s.publicPresign.PresignPutObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = venueUploadTTL
	})
	if err != nil {
		return PresignedUpload{}, fmt.Errorf("presign venue image: %w", err)
	}
	return PresignedUpload{UploadURL: resp.URL, FileURL: s.publicURLForKey(key), Key: key}, nil
}

// DeleteVenueImage removes the object behind a photo URL of venueID.
func (s *S3Client) DeleteVenueImage(ctx context.Context, venueID int64, fileURL string) error {
	key, err := s.venueKeyFromURL(venueID, fileURL)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete venue image: %w", err)
	}
	return nil
}

func (s *S3Client) venueKeyFromURL(venueID int64, fileURL string) (string, error) {
	prefix := s.publicURLForKey("")
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if !strings.HasPrefix(fileURL, prefix) {
		return "", ErrForeignImageURL
	}
	key := strings.TrimPrefix(fileURL, prefix)
	if !strings.HasPrefix(key, fmt.Sprintf("venues/%d/", venueID)) || strings.Contains(key, "..") {
		return "", ErrForeignImageURL
	}
	return key, nil
}

func (s *S3Client) publicURLForKey(key string) string {
	if s.publicEndpoint == "" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
	}
	endpoint := s.publicEndpoint
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Sprintf("%s/%s/%s", endpoint, s.bucket, key)
	}
	u.Path = path.Join(u.Path, s.bucket, key)
	return u.String()
}

// venueImageKey keeps a readable stem of the uploaded name and takes the
// extension from the content type.
func venueImageKey(venueID int64, fileName, contentType string, now time.Time) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	stem := strings.TrimSuffix(base, path.Ext(base))
	var b strings.Builder
	for _, r := range strings.ToLower(stem) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteByte('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = "photo"
	}
	if len(name) > 64 {
		name = name[:64]
	}
	return fmt.Sprintf("venues/%d/%d-%s%s", venueID, now.UnixNano(), name, venueImageExt[contentType])
}

func normalizeEndpoint(endpoint string, useSSL bool) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return ""
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	scheme := "https"
	if !useSSL {
		scheme = "http"
	}
	return scheme + "://" + endpoint
}
