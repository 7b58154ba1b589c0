// Package kv 定义了平台键值存储的最小契约：按 key 读取与写入不透明的序列化数据。
package kv

import (
	"context"
	"errors"
)

// ErrNotFound 表示 key 不存在。
var ErrNotFound = errors.New("kv: key not found")

// Store 是键值存储的抽象。Get 在 key 不存在时返回 ErrNotFound。
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}
