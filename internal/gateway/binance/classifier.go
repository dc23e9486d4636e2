package binance

import (
	"errors"

	"bastion/internal/ratelimit"

	"github.com/adshao/go-binance/v2/common"
)

// Classifier 识别 Binance 的限流应答：-1003 (TOO_MANY_REQUESTS)、
// HTTP 429 以及封禁预警 418。其余错误走字符串兜底。
func Classifier(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, 429, 418:
			return true
		}
	}
	return ratelimit.DefaultClassifier(err)
}
