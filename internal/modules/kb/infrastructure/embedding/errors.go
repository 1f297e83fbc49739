package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// 嵌入调用失败的三类归因，供上层把失败信息写回 parsing_state
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("嵌入服务连接失败: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("嵌入服务限流: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("嵌入服务返回错误: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// classify 把底层 SDK 的错误归到三类之一。限流优先于连接类判断，
// 因为部分网关在 429 时同时带超时语义。
func classify(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		return &RateLimitError{Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ConnectivityError{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ConnectivityError{Err: err}
	}
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "timeout") {
		return &ConnectivityError{Err: err}
	}

	return &ProviderError{Err: err}
}
