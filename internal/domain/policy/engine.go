package policy

// ReasonDefault is the reason reported when no rule changed the default decision.
const ReasonDefault = "default"

// Evaluate walks enabled policies in the given order and their rules in order,
// recording a Hit for every matching rule. A matching rule takes over the
// decision when its precedence is at least the current one, so among equal
// precedences the last match supplies the reason and DENY is never downgraded.
// With no matches the context's default decision is returned.
func Evaluate(policies []Policy, ctx MatchContext) Decision {
	d := Decision{
		Effect: ctx.DefaultDecision(),
		Reason: ReasonDefault,
		Hits:   []Hit{},
	}

	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		policyName := p.Name
		if policyName == "" {
			policyName = defaultPolicyName
		}

		for _, r := range p.Rules {
			if !r.Match.Matches(ctx) {
				continue
			}
			d.Hits = append(d.Hits, Hit{Policy: policyName, Rule: r.Name, Effect: r.Effect})

			if r.Effect.Precedence() >= d.Effect.Precedence() {
				d.Effect = r.Effect
				d.Reason = r.Reason
				if d.Reason == "" {
					d.Reason = "matched:" + policyName + ":" + r.Name
				}
			}
		}
	}
	return d
}
