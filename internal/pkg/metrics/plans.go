package metrics

import (
	"github.com/gofiber/fiber/v2/log"
	"github.com/prometheus/client_golang/prometheus"
)

// PlanCounter counts users on a plan.
type PlanCounter func(plan string) (int64, error)

// RegisterPlanGauges exposes platform_billing_users{plan} for each plan. The
// count runs at scrape time; a failed count reports -1.
func RegisterPlanGauges(reg prometheus.Registerer, plans []string, count PlanCounter) error {
	for _, plan := range plans {
		plan := plan
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "platform",
			Subsystem:   "billing",
			Name:        "users",
			Help:        "Users by entitlement plan",
			ConstLabels: prometheus.Labels{"plan": sanitizeLabel(plan)},
		}, func() float64 {
			n, err := count(plan)
			if err != nil {
				log.Warnf("[Metrics] count users on plan %s: %v", plan, err)
				return -1
			}
			return float64(n)
		})
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}
