package binance

import (
	"context"
	"errors"
	"net"

	"voltra/internal/pkg/errs"

	"github.com/adshao/go-binance/v2/common"
)

// Binance error codes that represent terminal business rejections. Retrying
// these burns the rate budget without any chance of success.
const (
	codeTooManyRequests     = -1003
	codeTooManyOrders       = -1015
	codeInsufficientBalance = -2010
	codeMarginInsufficient  = -2019
)

// classify maps SDK failures onto the core error taxonomy so the retry
// policy can tell transient network hiccups from hard rejections.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.KindTimeout, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeTooManyRequests, codeTooManyOrders:
			return errs.Wrap(errs.KindRateLimit, op, err)
		case codeInsufficientBalance, codeMarginInsufficient:
			e := errs.Wrap(errs.KindExchangeAPI, op, err)
			e.Terminal = true
			return e
		default:
			return errs.Wrap(errs.KindExchangeAPI, op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return errs.Wrap(errs.KindTimeout, op, err)
		}
		return errs.Wrap(errs.KindNetwork, op, err)
	}
	return errs.Wrap(errs.KindNetwork, op, err)
}
