package gateway

import "fmt"

// Route names the concrete (provider, model) pair a call is sent to.
type Route struct {
	Provider string
	Model    string
}

// Key returns the breaker/metrics key for this route.
func (r Route) Key() string {
	return r.Provider + "/" + r.Model
}

// Policy selects a route per task type. Classification traffic typically maps
// to a small fast model and generation to a capable one; the mapping is
// configuration, not code.
type Policy struct {
	routes   map[string]Route
	fallback Route
}

// NewPolicy creates a routing policy. The fallback route is used for task
// types with no explicit mapping and must name a configured provider.
func NewPolicy(routes map[string]Route, fallback Route) (*Policy, error) {
	if fallback.Provider == "" || fallback.Model == "" {
		return nil, fmt.Errorf("gateway: routing policy requires a fallback route")
	}
	cloned := make(map[string]Route, len(routes))
	for k, v := range routes {
		cloned[k] = v
	}
	return &Policy{routes: cloned, fallback: fallback}, nil
}

// Route returns the route for the given task type.
func (p *Policy) Route(taskType string) Route {
	if r, ok := p.routes[taskType]; ok {
		return r
	}
	return p.fallback
}
