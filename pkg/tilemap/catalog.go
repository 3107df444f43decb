package tilemap

import (
	"context"
	"embed"
	"errors"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gosimple/slug"
	"github.com/rotisserie/eris"

	"github.com/argus-labs/arena/pkg/errs"
)

//go:embed maps/*.json
var embedded embed.FS

// Source fetches raw map documents by normalized key.
type Source interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// NormalizeKey turns a user supplied map name such as "Frozen Lake" into a catalog key.
func NormalizeKey(key string) string {
	return slug.Make(strings.TrimSpace(key))
}

// Catalog resolves map keys to parsed maps and caches the results.
type Catalog struct {
	source Source

	mu    sync.RWMutex
	cache map[string]*Map
}

func NewCatalog(source Source) *Catalog {
	return &Catalog{
		source: source,
		cache:  make(map[string]*Map),
	}
}

// Load returns the map for key. Unknown keys yield errs.ErrNotFound.
func (c *Catalog) Load(ctx context.Context, key string) (*Map, error) {
	normalized := NormalizeKey(key)
	if normalized == "" {
		return nil, eris.Wrap(errs.ErrValidationFailed, "map key is required")
	}

	c.mu.RLock()
	m, ok := c.cache[normalized]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	raw, err := c.source.Fetch(ctx, normalized)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to fetch map %q", normalized)
	}
	m, err = Parse(normalized, raw)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[normalized] = m
	c.mu.Unlock()
	return m, nil
}

// EmbeddedSource serves the maps compiled into the binary.
type EmbeddedSource struct{}

func (EmbeddedSource) Fetch(_ context.Context, key string) ([]byte, error) {
	data, err := embedded.ReadFile(path.Join("maps", key+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(errs.ErrNotFound, "map %q", key)
	}
	if err != nil {
		return nil, eris.Wrap(err, "failed to read embedded map")
	}
	return data, nil
}

// Keys lists the embedded map keys in sorted order.
func (EmbeddedSource) Keys() []string {
	entries, err := embedded.ReadDir("maps")
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(keys)
	return keys
}

// ObjectGetter is the subset of the S3 client used by S3Source.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options configures an S3 compatible bucket (AWS S3, Cloudflare R2, MinIO).
type S3Options struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string
}

// S3Source reads "<prefix>/<key>.json" objects from a bucket.
type S3Source struct {
	client ObjectGetter
	bucket string
	prefix string
}

func NewS3Source(ctx context.Context, opts S3Options) (*S3Source, error) {
	if opts.Bucket == "" {
		return nil, eris.New("map bucket is required for the s3 map source")
	}
	region := opts.Region
	if region == "" {
		region = "auto"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "failed to load s3 config")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3SourceWithClient(client, opts.Bucket, opts.Prefix), nil
}

func NewS3SourceWithClient(client ObjectGetter, bucket, prefix string) *S3Source {
	return &S3Source{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *S3Source) Fetch(ctx context.Context, key string) ([]byte, error) {
	objectKey := key + ".json"
	if s.prefix != "" {
		objectKey = s.prefix + "/" + objectKey
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, eris.Wrapf(errs.ErrNotFound, "map %q", key)
		}
		return nil, eris.Wrapf(err, "failed to get object %s", objectKey)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read object %s", objectKey)
	}
	return data, nil
}
