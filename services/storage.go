package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"casefile_billing_go/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// StorageProvider keeps the archive of a case file: the files imported
// into it and the billing reports published from it. Keys use forward
// slashes. Get returns ErrNotFound for a missing key.
type StorageProvider interface {
	Upload(ctx context.Context, file *multipart.FileHeader, key string) (*StorageResult, error)
	UploadReader(ctx context.Context, reader io.Reader, key string, contentType string, size int64) (*StorageResult, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, string, error) // reader, content type
	Delete(ctx context.Context, key string) error
	GetSignedURL(ctx context.Context, key string, expiration time.Duration) (string, error)
	GetPublicURL(key string) string
}

// StorageResult describes a stored archive object
type StorageResult struct {
	Key              string `json:"key"`
	FileName         string `json:"file_name"`
	FileOriginalName string `json:"original_name,omitempty"`
	FileSize         int64  `json:"file_size"`
	MimeType         string `json:"mime_type"`
	URL              string `json:"url,omitempty"` // public or signed
}

// NewStorage picks the storage provider for the configuration: Cloudflare
// R2 when its credentials are set and the bucket answers, the local upload
// directory otherwise.
func NewStorage(cfg *config.Config) StorageProvider {
	if cfg.R2AccountID == "" || cfg.R2AccessKeyID == "" || cfg.R2SecretAccessKey == "" || cfg.R2BucketName == "" {
		log.Printf("Storage connection established (Local filesystem - path: %s)", cfg.UploadDir)
		return NewLocalStorage(cfg.UploadDir)
	}

	r2, err := NewR2Storage(cfg)
	if err != nil {
		log.Printf("[WARNING] Failed to initialize R2 storage: %v. Falling back to local storage.", err)
		return NewLocalStorage(cfg.UploadDir)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := r2.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &cfg.R2BucketName}); err != nil {
		log.Printf("[WARNING] R2 bucket connection test failed: %v. Falling back to local storage.", err)
		return NewLocalStorage(cfg.UploadDir)
	}

	log.Printf("Storage connection established (Cloudflare R2 - bucket: %s)", cfg.R2BucketName)
	return r2
}

// --- case archive ---

// ArchiveObject is one file in a case file's archive
type ArchiveObject struct {
	Key  string `json:"key"`
	Name string `json:"name"` // key relative to the case prefix
	URL  string `json:"url,omitempty"`
}

// CaseArchivePrefix is the key prefix under which a case file's imports and
// reports are stored
func CaseArchivePrefix(caseID int64) string {
	return fmt.Sprintf("cases/%d/", caseID)
}

// CaseArchiveKey resolves a name relative to a case file's archive. Names
// that climb out of the archive are rejected.
func CaseArchiveKey(caseID int64, name string) (string, error) {
	prefix := CaseArchivePrefix(caseID)
	name = strings.TrimPrefix(name, "/")
	key := path.Clean(prefix + name)
	if name == "" || strings.Contains(name, "..") || !strings.HasPrefix(key, prefix) {
		return "", &ConstraintError{Table: "archive", Field: "key", Reason: fmt.Sprintf("%q is not a file of case file %d", name, caseID)}
	}
	return key, nil
}

// ListCaseArchive lists the archived imports and reports of a case file in
// key order
func ListCaseArchive(ctx context.Context, storage StorageProvider, caseID int64) ([]ArchiveObject, error) {
	prefix := CaseArchivePrefix(caseID)
	keys, err := storage.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	objects := make([]ArchiveObject, 0, len(keys))
	for _, key := range keys {
		objects = append(objects, ArchiveObject{
			Key:  key,
			Name: strings.TrimPrefix(key, prefix),
			URL:  storage.GetPublicURL(key),
		})
	}
	return objects, nil
}

// PurgeCaseArchive deletes every archived file of a case file. It keeps
// going past failures and returns them joined.
func PurgeCaseArchive(ctx context.Context, storage StorageProvider, caseID int64) (int, error) {
	keys, err := storage.List(ctx, CaseArchivePrefix(caseID))
	if err != nil {
		return 0, err
	}

	deleted := 0
	var errs []error
	for _, key := range keys {
		if err := storage.Delete(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		log.Printf("[IMPORT] case %d: removed %d archived files", caseID, deleted)
	}
	return deleted, errors.Join(errs...)
}

// uploadFile sends a multipart upload through p, sniffing the content type
// from the file name when the client sent none
func uploadFile(ctx context.Context, p StorageProvider, file *multipart.FileHeader, key string) (*StorageResult, error) {
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer src.Close()

	contentType := file.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFor(file.Filename)
	}

	result, err := p.UploadReader(ctx, src, key, contentType, file.Size)
	if err != nil {
		return nil, err
	}
	result.FileOriginalName = file.Filename
	return result, nil
}

// --- Cloudflare R2 ---

// R2Storage stores the archive in a Cloudflare R2 bucket
type R2Storage struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	publicURL string
}

// NewR2Storage creates a new R2 storage provider
func NewR2Storage(cfg *config.Config) (*R2Storage, error) {
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.R2AccountID)
	creds := credentials.NewStaticCredentialsProvider(cfg.R2AccessKeyID, cfg.R2SecretAccessKey, "")

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(creds),
		awsconfig.WithRegion("auto"), // R2 uses "auto" region
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &R2Storage{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.R2BucketName,
		publicURL: cfg.R2PublicURL,
	}, nil
}

// Upload uploads a multipart file to R2
func (r *R2Storage) Upload(ctx context.Context, file *multipart.FileHeader, key string) (*StorageResult, error) {
	return uploadFile(ctx, r, file, key)
}

// UploadReader uploads content from a reader to R2
func (r *R2Storage) UploadReader(ctx context.Context, reader io.Reader, key string, contentType string, size int64) (*StorageResult, error) {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(key),
		Body:          reader,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to R2: %w", err)
	}

	return &StorageResult{
		Key:      key,
		FileName: path.Base(key),
		FileSize: size,
		MimeType: contentType,
		URL:      r.GetPublicURL(key),
	}, nil
}

// List returns the keys under prefix, page by page
func (r *R2Storage) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pages := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list R2 objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Get opens an object in R2
func (r *R2Storage) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	result, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, "", fmt.Errorf("archive object %s: %w", key, ErrNotFound)
		}
		return nil, "", fmt.Errorf("failed to get object from R2: %w", err)
	}

	contentType := contentTypeFor(key)
	if result.ContentType != nil {
		contentType = *result.ContentType
	}
	return result.Body, contentType, nil
}

// Delete removes an object from R2
func (r *R2Storage) Delete(ctx context.Context, key string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from R2: %w", err)
	}
	return nil
}

// GetSignedURL generates a presigned URL for temporary access
func (r *R2Storage) GetSignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiration))
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return req.URL, nil
}

// GetPublicURL returns the public URL of a key, or "" when the bucket has
// no public URL and callers need GetSignedURL
func (r *R2Storage) GetPublicURL(key string) string {
	if r.publicURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s", strings.TrimSuffix(r.publicURL, "/"), key)
}

// --- local filesystem ---

// LocalStorage stores the archive under a directory on disk
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage creates a new local storage provider
func NewLocalStorage(baseDir string) *LocalStorage {
	return &LocalStorage{baseDir: baseDir}
}

func (l *LocalStorage) fullPath(key string) string {
	return filepath.Join(l.baseDir, filepath.FromSlash(key))
}

// Upload saves a multipart file to disk
func (l *LocalStorage) Upload(ctx context.Context, file *multipart.FileHeader, key string) (*StorageResult, error) {
	return uploadFile(ctx, l, file, key)
}

// UploadReader saves content from a reader to disk
func (l *LocalStorage) UploadReader(ctx context.Context, reader io.Reader, key string, contentType string, size int64) (*StorageResult, error) {
	fullPath := l.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dst, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to save file: %w", err)
	}

	return &StorageResult{
		Key:      key,
		FileName: path.Base(key),
		FileSize: written,
		MimeType: contentType,
		URL:      l.GetPublicURL(key),
	}, nil
}

// List walks the directory of prefix. A prefix with no files yet lists
// nothing.
func (l *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	root := l.fullPath(prefix)
	var keys []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return ctx.Err()
		}
		rel, err := filepath.Rel(l.baseDir, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Get opens a file on disk
func (l *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	file, err := os.Open(l.fullPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("archive object %s: %w", key, ErrNotFound)
		}
		return nil, "", fmt.Errorf("failed to open file: %w", err)
	}
	return file, contentTypeFor(key), nil
}

// Delete removes a file from disk. A missing file is not an error.
func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := os.Remove(l.fullPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// GetSignedURL returns the local path; files on disk need no signing
func (l *LocalStorage) GetSignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	return l.GetPublicURL(key), nil
}

// GetPublicURL returns the local file path
func (l *LocalStorage) GetPublicURL(key string) string {
	return "/" + filepath.ToSlash(l.fullPath(key))
}

// contentTypeFor maps the file types the pipeline stores to MIME types
func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".xlsx", ".xlsm":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".csv":
		return "text/csv"
	case ".tsv", ".txt":
		return "text/tab-separated-values"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}

// --- keys ---

// GenerateStorageKey creates a unique storage key under prefix, keeping
// the extension of the original file name
func GenerateStorageKey(prefix string, originalFilename string) string {
	filename := fmt.Sprintf("%s_%d%s", uuid.New().String(), time.Now().Unix(), path.Ext(originalFilename))
	return path.Join(prefix, filename)
}

// GenerateImportArchiveKey creates a storage key for an uploaded import file
func GenerateImportArchiveKey(caseID int64, originalFilename string) string {
	return GenerateStorageKey(CaseArchivePrefix(caseID)+"imports", originalFilename)
}

// GenerateReportKey creates a storage key for an exported billing report
func GenerateReportKey(caseID int64, format string) string {
	return GenerateStorageKey(CaseArchivePrefix(caseID)+"reports", "billing."+format)
}
