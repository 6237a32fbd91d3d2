package planner

import (
	"dcsa-query/internal/queryerr"
	"dcsa-query/internal/request"
)

// PlanLimits defines cost limits applied during planning. Zero disables a limit.
type PlanLimits struct {
	MaxJoins      int
	MaxPredicates int
	MaxInValues   int
	MaxRows       int
}

// PlanCost captures the estimated cost of a request.
type PlanCost struct {
	Joins      int
	Predicates int
	// InValues is the largest IN list.
	InValues int
	Rows     int
}

// EstimateCost estimates cost from the parsed request alone.
func EstimateCost(st *request.State) PlanCost {
	cost := PlanCost{Rows: st.PageSize() + 1}

	fields := append(st.SelectFields(), st.Filter().Fields()...)
	if joins, err := st.Analysis().RequiredJoins(fields...); err == nil {
		cost.Joins = len(joins)
	}

	var walk func(*request.Condition)
	walk = func(c *request.Condition) {
		if c == nil {
			return
		}
		switch c.Kind {
		case request.NodeAnd, request.NodeOr, request.NodeNot:
			for _, child := range c.Children {
				walk(child)
			}
		default:
			cost.Predicates++
			if len(c.Values) > cost.InValues {
				cost.InValues = len(c.Values)
			}
		}
	}
	walk(st.Filter())
	return cost
}

func validateLimits(cost PlanCost, limits PlanLimits) error {
	if limits.MaxJoins > 0 && cost.Joins > limits.MaxJoins {
		return queryerr.InvalidParameterf("", "query exceeds maximum join count of %d (joins: %d)", limits.MaxJoins, cost.Joins)
	}
	if limits.MaxPredicates > 0 && cost.Predicates > limits.MaxPredicates {
		return queryerr.InvalidParameterf("", "query exceeds maximum predicate count of %d (predicates: %d)", limits.MaxPredicates, cost.Predicates)
	}
	if limits.MaxInValues > 0 && cost.InValues > limits.MaxInValues {
		return queryerr.InvalidParameterf("", "query exceeds maximum value list length of %d (values: %d)", limits.MaxInValues, cost.InValues)
	}
	if limits.MaxRows > 0 && cost.Rows > limits.MaxRows {
		return queryerr.InvalidParameterf("", "query exceeds maximum rows of %d (estimated: %d)", limits.MaxRows, cost.Rows)
	}
	return nil
}
