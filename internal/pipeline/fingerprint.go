package pipeline

import (
	"crypto/md5"

	"github.com/google/uuid"
)

// Fingerprint 返回文本内容的 UUID 形式指纹（MD5 摘要按 UUID 格式输出）。
// 相同字节序列总是得到相同的指纹。
func Fingerprint(text string) string {
	sum := md5.Sum([]byte(text))
	return uuid.UUID(sum).String()
}
