// Package plan defines the subscription plan catalog for the metering engine.
//
// A Plan is a named tier (trial, starter, growth, pro, enterprise) with fixed
// numeric caps on emails sent, emails received, AI-suggested replies, and
// connected stores per billing period. The sentinel Unlimited (-1) disables a
// cap entirely.
//
// Plans are static configuration, not persisted state. The built-in catalog
// from Default covers production defaults; YAMLSource allows operations to
// override it from a config file without a redeploy.
//
// Basic usage:
//
//	catalog, err := plan.NewStaticSource(plan.Default()).Load(ctx)
//	if err != nil {
//	    // invalid catalog configuration
//	}
//	trial := catalog[plan.TypeTrial]
//	endsAt := trial.TrialEndsAt(time.Now().UTC())
package plan
