// Package provider implements the Config Provider (spec.md §4.5): the
// sole point of policy translating logical sessions and routes into
// forwarder entity names and configuration XML. Every query is pure —
// same inputs, same outputs — so swapping providers changes deployment
// shape without touching the tracker or scheduler.
package provider

import "github.com/cuemby/routeward/pkg/types"

// ConfigProvider supplies forwarder entity names and XML configuration
// for sessions and routes.
type ConfigProvider interface {
	// SessionParent names the forwarder entity under which the session
	// is created.
	SessionParent(s types.Session) string

	// SessionEntityName is the session's fully-qualified entity name,
	// used for deletion and as the parent of its routes.
	SessionEntityName(s types.Session) string

	// TopicRouteEntityName is the route's fully-qualified entity name.
	TopicRouteEntityName(s types.Session, r types.TopicRoute) string

	// SessionConfiguration is the XML snippet embedded in a session
	// CREATE request.
	SessionConfiguration(s types.Session) string

	// TopicRouteConfiguration is the XML snippet embedded in a route
	// CREATE request.
	TopicRouteConfiguration(s types.Session, r types.TopicRoute) string
}
