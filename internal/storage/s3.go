package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"servercheck/internal/model"
)

// S3API S3Store 用到的客户端方法
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store 把每个键保存为 bucket/prefix 下的一个 JSON 对象
type S3Store struct {
	client S3API
	bucket string
	prefix string
	mu     sync.Mutex // 串行化触发器列表的读改写
}

// OpenS3 使用默认凭证链创建 S3 存储
func OpenS3(ctx context.Context, opts Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET 不能为空")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("加载 AWS 配置失败: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Store(client, opts.Bucket, opts.Prefix), nil
}

// NewS3Store 使用已有客户端创建 S3 存储
func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// ObjectKey 存储键对应的对象名
func (s *S3Store) ObjectKey(key string) string {
	return path.Join(s.prefix, key+".json")
}

func (s *S3Store) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化 %s 失败: %w", key, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.ObjectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("上传 %s 到 S3 失败: %w", key, err)
	}
	return nil
}

func (s *S3Store) get(ctx context.Context, key string, v any) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.ObjectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("从 S3 读取 %s 失败: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("从 S3 读取 %s 失败: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("解析 %s JSON 失败: %w", key, err)
	}
	return nil
}

// SaveGroups 保存端点列表
func (s *S3Store) SaveGroups(ctx context.Context, groups []model.Group) error {
	return s.put(ctx, KeyGroups, groups)
}

// LoadGroups 加载端点列表
func (s *S3Store) LoadGroups(ctx context.Context) ([]model.Group, error) {
	var groups []model.Group
	if err := s.get(ctx, KeyGroups, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// SaveSettings 保存检测设置
func (s *S3Store) SaveSettings(ctx context.Context, settings model.Settings) error {
	return s.put(ctx, KeySettings, settings)
}

// LoadSettings 加载检测设置
func (s *S3Store) LoadSettings(ctx context.Context) (model.Settings, error) {
	var settings model.Settings
	err := s.get(ctx, KeySettings, &settings)
	return settings, err
}

func (s *S3Store) loadTriggerMap(ctx context.Context) (map[string]model.CronTrigger, error) {
	triggers := make(map[string]model.CronTrigger)
	err := s.get(ctx, KeyTriggers, &triggers)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return triggers, nil
}

// SaveTrigger 保存定时触发器
func (s *S3Store) SaveTrigger(ctx context.Context, t model.CronTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	triggers, err := s.loadTriggerMap(ctx)
	if err != nil {
		return err
	}
	triggers[t.ID] = t
	return s.put(ctx, KeyTriggers, triggers)
}

// LoadTriggers 按创建时间获取所有定时触发器
func (s *S3Store) LoadTriggers(ctx context.Context) ([]model.CronTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	triggers, err := s.loadTriggerMap(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.CronTrigger, 0, len(triggers))
	for _, t := range triggers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteTrigger 删除定时触发器
func (s *S3Store) DeleteTrigger(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	triggers, err := s.loadTriggerMap(ctx)
	if err != nil {
		return err
	}
	if _, ok := triggers[id]; !ok {
		return fmt.Errorf("%w: 定时触发器 %s", ErrNotFound, id)
	}
	delete(triggers, id)
	return s.put(ctx, KeyTriggers, triggers)
}

// Close S3 客户端无需关闭
func (s *S3Store) Close() error {
	return nil
}
