package errs

import (
	"context"
	"errors"
	"fmt"
)

// 业务错误分类，调用方用 errors.Is 判断
var (
	ErrNotAuthorized      = errors.New("not authorized")
	ErrNotFound           = errors.New("not found")
	ErrRuleLocked         = errors.New("rule locked")
	ErrRuleNotActive      = errors.New("rule not active")
	ErrSlotClosed         = errors.New("slot closed")
	ErrAlreadyChecked     = errors.New("already checked")
	ErrInviteExpired      = errors.New("invite expired")
	ErrInviteAlreadyBound = errors.New("invite already bound")
	ErrConflict           = errors.New("conflict")
	ErrDeadlineExceeded   = errors.New("deadline exceeded")
	ErrInvalidArgument    = errors.New("invalid argument")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotAuthorized, "not_authorized"},
	{ErrNotFound, "not_found"},
	{ErrRuleLocked, "rule_locked"},
	{ErrRuleNotActive, "rule_not_active"},
	{ErrSlotClosed, "slot_closed"},
	{ErrAlreadyChecked, "already_checked"},
	{ErrInviteExpired, "invite_expired"},
	{ErrInviteAlreadyBound, "invite_already_bound"},
	{ErrConflict, "conflict"},
	{ErrDeadlineExceeded, "deadline_exceeded"},
	{ErrInvalidArgument, "invalid_argument"},
}

// Wrapf 在分类错误上附加说明
func Wrapf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Kind 返回错误分类名，未分类的返回 internal
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "deadline_exceeded"
	}
	return "internal"
}

// FromContext 把超时统一转换成 ErrDeadlineExceeded
func FromContext(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDeadlineExceeded) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || (ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return fmt.Errorf("%w: %v", ErrDeadlineExceeded, err)
	}
	return err
}
