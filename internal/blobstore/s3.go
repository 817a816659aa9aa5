package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/valyala/gozstd"
)

const zstdSuffix = ".zst"

// S3Options S3 兼容对象存储配置，凭证从环境变量或共享配置读取
type S3Options struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
	Compress bool
}

// S3 对象存储实现，可选 zstd 压缩
type S3 struct {
	client   *s3.S3
	bucket   string
	prefix   string
	compress bool
}

// NewS3 创建 S3 存储后端
func NewS3(opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	awsCfg := &aws.Config{Region: aws.String(opts.Region)}
	if opts.Endpoint != "" {
		// 自建的 S3 兼容服务通常只支持路径风格
		awsCfg.Endpoint = aws.String(opts.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	return &S3{
		client:   s3.New(sess),
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
		compress: opts.Compress,
	}, nil
}

// Name 返回后端名称
func (s *S3) Name() string { return "s3" }

func (s *S3) objectKey(locator string) string {
	if s.prefix == "" {
		return locator
	}
	return path.Join(s.prefix, locator)
}

// Put 上传对象，启用压缩时 locator 带 .zst 后缀
func (s *S3) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	locator := key
	body := data
	if s.compress {
		body = gozstd.Compress(nil, data)
		locator = key + zstdSuffix
		contentType = "application/zstd"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(locator)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", locator, err)
	}
	return locator, nil
}

// Open 下载对象，根据后缀决定是否解压
func (s *S3) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	resp, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(locator)),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to download object %s: %w", locator, err)
	}

	if strings.HasSuffix(locator, zstdSuffix) {
		zr := gozstd.NewReader(resp.Body)
		return &zstdReadCloser{Reader: zr, zr: zr, body: resp.Body}, nil
	}
	return resp.Body, nil
}

// Delete 删除对象，S3 对不存在的对象同样返回成功
func (s *S3) Delete(ctx context.Context, locator string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(locator)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s from bucket %s: %w", locator, s.bucket, err)
	}
	return nil
}

// listPrefix 返回带结尾 "/" 的完整对象前缀
func (s *S3) listPrefix(prefix string) string {
	p := strings.Trim(s.objectKey(strings.Trim(prefix, "/")), "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// ListPrefixes 按 "/" 分隔列出下一层的公共前缀
func (s *S3) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	base := s.listPrefix(prefix)
	var names []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(base),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.StringValue(cp.Prefix), base), "/")
			if name != "" {
				names = append(names, name)
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects under %q: %w", base, err)
	}
	return names, nil
}

// DeletePrefix 分页列出 prefix 下的对象并批量删除，每页最多 1000 个
func (s *S3) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if strings.Trim(prefix, "/") == "" {
		return 0, ErrEmptyPrefix
	}
	base := s.listPrefix(prefix)

	deleted := 0
	var deleteErr error
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(base),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		if len(page.Contents) == 0 {
			return true
		}
		objects := make([]*s3.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, &s3.ObjectIdentifier{Key: obj.Key})
		}
		out, err := s.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(false)},
		})
		if err != nil {
			deleteErr = err
			return false
		}
		deleted += len(out.Deleted)
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			deleteErr = fmt.Errorf("%d objects not deleted, first %s: %s",
				len(out.Errors), aws.StringValue(first.Key), aws.StringValue(first.Message))
			return false
		}
		return true
	})
	if err = errors.Join(err, deleteErr); err != nil {
		return deleted, fmt.Errorf("failed to delete objects under %q: %w", base, err)
	}
	return deleted, nil
}

type zstdReadCloser struct {
	io.Reader
	zr   *gozstd.Reader
	body io.Closer
}

func (z *zstdReadCloser) Close() error {
	z.zr.Release()
	return z.body.Close()
}
