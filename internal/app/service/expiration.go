package service

import (
	"time"

	"github.com/sifan077/PowerPush/internal/app/model"
)

// DaysRemaining returns how many whole days the push has left. A push
// created less than a day ago has ExpireAfterDays remaining.
func DaysRemaining(push *model.Push, now time.Time) int {
	age := now.Sub(push.CreatedAt)
	if age < 0 {
		age = 0
	}
	daysOld := int(age / (24 * time.Hour))
	return max(push.ExpireAfterDays-daysOld, 0)
}

// ViewsRemaining returns how many counted views the push has left.
func ViewsRemaining(push *model.Push, viewCount int64) int {
	return max(push.ExpireAfterViews-int(viewCount), 0)
}

// ShouldExpire reports whether the push must be expired (or already is)
// given its counted views and the current time.
func ShouldExpire(push *model.Push, viewCount int64, now time.Time) bool {
	if push.Expired {
		return true
	}
	return DaysRemaining(push, now) == 0 || ViewsRemaining(push, viewCount) == 0
}

// IsLastView reports whether recording one more counted view exhausts the
// view limit.
func IsLastView(push *model.Push, viewCountBefore int64) bool {
	return ViewsRemaining(push, viewCountBefore+1) == 0
}

// ExpiryReason labels why a push expired.
func ExpiryReason(push *model.Push, viewCount int64, now time.Time) string {
	switch {
	case ViewsRemaining(push, viewCount) == 0:
		return "views"
	case DaysRemaining(push, now) == 0:
		return "days"
	default:
		return "manual"
	}
}
