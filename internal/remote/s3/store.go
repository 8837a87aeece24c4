// Package s3 implements remote.Store on an S3-compatible bucket. Folders
// are zero-byte marker objects whose keys end in "/"; item ids are object
// keys escaped with remote.PathID and the root key is "/".
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/fruitsalade/drivegate/internal/logging"
	"github.com/fruitsalade/drivegate/internal/metrics"
	"github.com/fruitsalade/drivegate/internal/remote"
)

const (
	rootID         = "/"
	deleteBatch    = 1000
	sniffLen       = 3072
	defaultRootNm  = "Files"
	folderMimeType = "application/x-directory"
)

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket" validate:"required"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	RootName  string `mapstructure:"root_name"`
	// CreateBucket creates the bucket on startup when it is missing.
	CreateBucket bool `mapstructure:"create_bucket"`
}

// Store implements remote.Store using S3/MinIO.
type Store struct {
	client   *s3.Client
	bucket   string
	rootName string
}

// New connects to the bucket described by cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := endpointURL(cfg.Endpoint, cfg.UseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	rootName := cfg.RootName
	if rootName == "" {
		rootName = defaultRootNm
	}
	st := &Store{client: client, bucket: cfg.Bucket, rootName: rootName}

	if cfg.CreateBucket {
		if err := st.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func endpointURL(endpoint string, useSSL bool) string {
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

func (b *Store) Type() string { return "s3" }

func (b *Store) Close() error { return nil }

func (b *Store) observe(op string, start time.Time, err *error) {
	metrics.RecordRemoteOperation("s3", op, time.Since(start), *err == nil)
}

func (b *Store) ensureBucket(ctx context.Context) (err error) {
	defer b.observe("ensure_bucket", time.Now(), &err)
	_, err = b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err == nil {
		return nil
	}
	if _, err = b.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", b.bucket, err)
	}
	logging.Info("created S3 bucket", zap.String("bucket", b.bucket))
	return nil
}

func (b *Store) Root(ctx context.Context) (*remote.Item, error) {
	return b.rootItem(), nil
}

func (b *Store) rootItem() *remote.Item {
	return &remote.Item{ID: remote.PathID(rootID), Name: b.rootName, IsFolder: true, ChildCount: -1}
}

func (b *Store) Item(ctx context.Context, id string) (item *remote.Item, err error) {
	defer b.observe("item", time.Now(), &err)
	id = remote.IDPath(id)
	if id == "" || id == rootID {
		return b.rootItem(), nil
	}
	if isFolderKey(id) {
		return b.folder(ctx, id)
	}
	return b.file(ctx, id)
}

func (b *Store) Child(ctx context.Context, parentID, name string) (item *remote.Item, err error) {
	defer b.observe("child", time.Now(), &err)
	return b.child(ctx, remote.IDPath(parentID), name)
}

func (b *Store) child(ctx context.Context, parentID, name string) (*remote.Item, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	key := prefix(parentID) + name
	item, err := b.file(ctx, key)
	if err == nil || !remote.IsNotFound(err) {
		return item, err
	}
	return b.folder(ctx, key+"/")
}

func (b *Store) Children(ctx context.Context, id string) (items []remote.Item, err error) {
	defer b.observe("children", time.Now(), &err)
	id = remote.IDPath(id)
	dir := prefix(id)
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(dir),
		Delimiter: aws.String("/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, mapErr("list "+dir, err)
		}
		for _, cp := range page.CommonPrefixes {
			items = append(items, b.folderItem(aws.ToString(cp.Prefix), time.Time{}))
		}
		for _, obj := range page.Contents {
			if aws.ToString(obj.Key) == dir {
				continue
			}
			items = append(items, b.objectItem(obj))
		}
	}
	return items, nil
}

func (b *Store) CreateFolder(ctx context.Context, parentID, name string) (item *remote.Item, err error) {
	defer b.observe("create_folder", time.Now(), &err)
	parentID = remote.IDPath(parentID)
	if err := validName(name); err != nil {
		return nil, err
	}
	if _, err := b.child(ctx, parentID, name); err == nil {
		return nil, fmt.Errorf("create %s: %w", name, remote.ErrConflict)
	} else if !remote.IsNotFound(err) {
		return nil, err
	}

	key := prefix(parentID) + name + "/"
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
		ContentType:   aws.String(folderMimeType),
	})
	if err != nil {
		return nil, mapErr("create folder "+key, err)
	}
	folder := b.folderItem(key, time.Now())
	return &folder, nil
}

func (b *Store) Rename(ctx context.Context, id, newName string) (err error) {
	defer b.observe("rename", time.Now(), &err)
	id = remote.IDPath(id)
	return b.relocate(ctx, id, parentKey(id), newName, true)
}

func (b *Store) Move(ctx context.Context, id, parentID, name string) (err error) {
	defer b.observe("move", time.Now(), &err)
	return b.relocate(ctx, remote.IDPath(id), remote.IDPath(parentID), name, true)
}

func (b *Store) Copy(ctx context.Context, id, parentID, name string) (err error) {
	defer b.observe("copy", time.Now(), &err)
	return b.relocate(ctx, remote.IDPath(id), remote.IDPath(parentID), name, false)
}

func (b *Store) Delete(ctx context.Context, id string) (err error) {
	defer b.observe("delete", time.Now(), &err)
	id = remote.IDPath(id)
	if id == "" || id == rootID {
		return errors.New("refusing to delete the root folder")
	}
	keys, err := b.subtree(ctx, id)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("delete %s: %w", id, remote.ErrNotFound)
	}
	return b.deleteKeys(ctx, keys)
}

func (b *Store) Content(ctx context.Context, id string) (rc io.ReadCloser, err error) {
	defer b.observe("content", time.Now(), &err)
	id = remote.IDPath(id)
	if isFolderKey(id) {
		return nil, fmt.Errorf("content %s: is a folder", id)
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return nil, mapErr("get "+id, err)
	}
	return out.Body, nil
}

// PutContent sniffs the content type from the first bytes before
// streaming the object. A negative size buffers the body to learn it.
func (b *Store) PutContent(ctx context.Context, parentID, name string, body io.Reader, size int64) (item *remote.Item, err error) {
	defer b.observe("put_content", time.Now(), &err)
	parentID = remote.IDPath(parentID)
	if err := validName(name); err != nil {
		return nil, err
	}
	key := prefix(parentID) + name

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload %s: %w", name, err)
	}
	head = head[:n]
	contentType := mimetype.Detect(head).String()
	reader := io.MultiReader(bytes.NewReader(head), body)

	if size < 0 {
		buf, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("buffer upload %s: %w", name, err)
		}
		size = int64(len(buf))
		reader = bytes.NewReader(buf)
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          reader,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return nil, mapErr("put "+key, err)
	}

	logging.Debug("S3 put object", zap.String("key", key), zap.Int64("size", size), zap.String("content_type", contentType))
	now := time.Now()
	return &remote.Item{
		ID:         remote.PathID(key),
		Name:       name,
		ParentID:   remote.PathID(parentKey(key)),
		Size:       size,
		CreatedAt:  now,
		ModifiedAt: now,
	}, nil
}

// Search lists every key below rootID and keeps items whose name contains
// query, case-insensitively. Folders that exist only implicitly, through
// the keys below them, are reported too.
func (b *Store) Search(ctx context.Context, root, query string) (items []remote.Item, err error) {
	defer b.observe("search", time.Now(), &err)
	base := prefix(remote.IDPath(root))
	needle := strings.ToLower(query)
	seen := make(map[string]bool)

	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(base),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, mapErr("search "+base, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			for _, folder := range folderKeys(base, key) {
				if seen[folder] || !strings.Contains(strings.ToLower(keyName(folder)), needle) {
					continue
				}
				seen[folder] = true
				items = append(items, b.folderItem(folder, time.Time{}))
			}
			if isFolderKey(key) || !strings.Contains(strings.ToLower(keyName(key)), needle) {
				continue
			}
			items = append(items, b.objectItem(obj))
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (b *Store) file(ctx context.Context, key string) (*remote.Item, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapErr("head "+key, err)
	}
	mod := aws.ToTime(out.LastModified)
	return &remote.Item{
		ID:         remote.PathID(key),
		Name:       keyName(key),
		ParentID:   remote.PathID(parentKey(key)),
		Size:       aws.ToInt64(out.ContentLength),
		CreatedAt:  mod,
		ModifiedAt: mod,
	}, nil
}

// folder accepts either an explicit marker object or any key below the
// prefix.
func (b *Store) folder(ctx context.Context, key string) (*remote.Item, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		item := b.folderItem(key, aws.ToTime(out.LastModified))
		return &item, nil
	}
	if err = mapErr("head "+key, err); !remote.IsNotFound(err) {
		return nil, err
	}

	list, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, mapErr("list "+key, err)
	}
	if aws.ToInt32(list.KeyCount) == 0 {
		return nil, fmt.Errorf("folder %s: %w", key, remote.ErrNotFound)
	}
	item := b.folderItem(key, time.Time{})
	return &item, nil
}

func (b *Store) folderItem(key string, mod time.Time) remote.Item {
	return remote.Item{
		ID:         remote.PathID(key),
		Name:       keyName(key),
		ParentID:   remote.PathID(parentKey(key)),
		IsFolder:   true,
		ChildCount: -1,
		CreatedAt:  mod,
		ModifiedAt: mod,
	}
}

func (b *Store) objectItem(obj types.Object) remote.Item {
	key := aws.ToString(obj.Key)
	mod := aws.ToTime(obj.LastModified)
	return remote.Item{
		ID:         remote.PathID(key),
		Name:       keyName(key),
		ParentID:   remote.PathID(parentKey(key)),
		Size:       aws.ToInt64(obj.Size),
		CreatedAt:  mod,
		ModifiedAt: mod,
	}
}

// relocate copies the subtree at id to parentID/name and, for moves,
// deletes the source afterwards.
func (b *Store) relocate(ctx context.Context, id, parentID, name string, removeSource bool) error {
	if id == "" || id == rootID {
		return errors.New("cannot relocate the root folder")
	}
	if err := validName(name); err != nil {
		return err
	}
	dst := prefix(parentID) + name
	if isFolderKey(id) {
		dst += "/"
		if strings.HasPrefix(dst, id) {
			return fmt.Errorf("cannot place %s inside itself", id)
		}
	}
	if _, err := b.child(ctx, parentID, name); err == nil {
		return fmt.Errorf("%s: %w", dst, remote.ErrConflict)
	} else if !remote.IsNotFound(err) {
		return err
	}

	keys, err := b.subtree(ctx, id)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("%s: %w", id, remote.ErrNotFound)
	}
	for _, key := range keys {
		target := dst + strings.TrimPrefix(key, id)
		_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(b.bucket),
			Key:        aws.String(target),
			CopySource: aws.String(b.bucket + "/" + key),
		})
		if err != nil {
			return mapErr(fmt.Sprintf("copy %s -> %s", key, target), err)
		}
	}
	if removeSource {
		return b.deleteKeys(ctx, keys)
	}
	return nil
}

// subtree lists the object keys that make up id: the key itself for a
// file, every key under the prefix for a folder.
func (b *Store) subtree(ctx context.Context, id string) ([]string, error) {
	if !isFolderKey(id) {
		if _, err := b.file(ctx, id); err != nil {
			return nil, err
		}
		return []string{id}, nil
	}
	var keys []string
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(id),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, mapErr("list "+id, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (b *Store) deleteKeys(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return mapErr("delete objects", err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("delete %s: %s", aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

func mapErr(op string, err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%s: %w", op, remote.ErrNotFound)
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return &remote.Error{Op: op, Status: re.HTTPStatusCode(), Message: re.Error()}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isFolderKey(key string) bool {
	return key == rootID || strings.HasSuffix(key, "/")
}

// prefix turns a folder id into the key prefix of its children.
func prefix(id string) string {
	if id == "" || id == rootID {
		return ""
	}
	if !strings.HasSuffix(id, "/") {
		return id + "/"
	}
	return id
}

func keyName(key string) string {
	return path.Base(strings.TrimSuffix(key, "/"))
}

func parentKey(key string) string {
	trimmed := strings.TrimSuffix(key, "/")
	i := strings.LastIndex(trimmed, "/")
	if i < 0 {
		return rootID
	}
	return trimmed[:i+1]
}

// folderKeys returns the folder prefixes between base and key, shallowest
// first: base "", key "a/b/c.txt" gives "a/", "a/b/".
func folderKeys(base, key string) []string {
	rel := strings.TrimPrefix(key, base)
	var out []string
	for i := 0; i < len(rel); i++ {
		if rel[i] == '/' {
			out = append(out, base+rel[:i+1])
		}
	}
	return out
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid item name %q", name)
	}
	return nil
}
