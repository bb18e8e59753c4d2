// Package webhook 处理支付处理方回调：签名校验与事件解析
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

// SignatureHeader 回调签名头
const SignatureHeader = "X-Signature"

// Verifier HMAC-SHA256 签名校验，任何异常都视为校验失败
type Verifier struct {
	secret []byte
}

// NewVerifier 创建校验器，secret 为空时所有请求都会被拒绝
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify 校验签名头是否为原始请求体的 HMAC
// 签名头为十六进制，可带 sha256= 前缀
func (v *Verifier) Verify(signature string, payload []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("signature verification panicked", zap.Any("panic", r))
			ok = false
		}
	}()

	if len(v.secret) == 0 {
		return false
	}
	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return false
	}

	provided, err := hex.DecodeString(signature)
	if err != nil || len(provided) != sha256.Size {
		return false
	}

	return hmac.Equal(provided, v.mac(payload))
}

// Sign 计算请求体签名 (十六进制)
func (v *Verifier) Sign(payload []byte) string {
	return hex.EncodeToString(v.mac(payload))
}

func (v *Verifier) mac(payload []byte) []byte {
	h := hmac.New(sha256.New, v.secret)
	h.Write(payload)
	return h.Sum(nil)
}
