package memberships

import (
	"time"

	"github.com/md-rashed-zaman/lunchpass/libs/entitlement"
	"github.com/stripe/stripe-go/v79"
)

// SubscriptionActivation turns a Stripe billing period into membership dates.
// Stripe's period end is exclusive, so the last day is the one before it.
func SubscriptionActivation(sub *stripe.Subscription, companyID, planType string, loc *time.Location) Activation {
	a := Activation{
		CompanyID:            companyID,
		PlanType:             planType,
		Provider:             "stripe",
		StripeSubscriptionID: sub.ID,
	}
	if sub.Customer != nil {
		a.StripeCustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodStart > 0 && sub.CurrentPeriodEnd > sub.CurrentPeriodStart {
		a.StartDate = entitlement.FormatDate(time.Unix(sub.CurrentPeriodStart, 0).In(loc))
		a.EndDate = entitlement.FormatDate(time.Unix(sub.CurrentPeriodEnd-1, 0).In(loc))
	}
	return a
}

// Entitled reports whether a subscription status grants meals.
func Entitled(status stripe.SubscriptionStatus) bool {
	return status == stripe.SubscriptionStatusActive || status == stripe.SubscriptionStatusTrialing
}
