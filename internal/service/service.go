// Package service 实现地址、域名和邮件的业务规则。
package service

import (
	"context"
	"crypto/rand"
	"io"
	"math/big"
	"time"
)

// BlobStore 附件对象的读取与回收
type BlobStore interface {
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
	DeleteAll(ctx context.Context, locators []string) (int, error)
}

// Clock 返回当前时间，测试中可替换
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

const localPartAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomLocalPart 生成 n 位小写字母数字串
func randomLocalPart(n int) string {
	buf := make([]byte, n)
	max := big.NewInt(int64(len(localPartAlphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		buf[i] = localPartAlphabet[idx.Int64()]
	}
	return string(buf)
}

// randomIndex 返回 [0, n) 内的随机下标
func randomIndex(n int) int {
	if n <= 1 {
		return 0
	}
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(idx.Int64())
}
