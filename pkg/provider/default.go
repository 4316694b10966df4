package provider

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/cuemby/routeward/pkg/types"
)

// DefaultProvider is the stock ConfigProvider: it names entities after the
// session's topic/partition and route direction/type, and renders session
// and route XML through fixed text/template snippets. There is no XML
// templating library anywhere in the retrieval pack this was grounded on,
// so this uses text/template directly (see DESIGN.md).
type DefaultProvider struct {
	// RouteGroup names the session_route (or equivalent parent entity)
	// new sessions are created under.
	RouteGroup string

	sessionTmpl *template.Template
	routeTmpl   *template.Template
}

const defaultSessionTemplate = `<session name="{{.EntityName}}">
  <topic_route topic_name="{{.Topic}}">
    <partition><name>{{.Partition}}</name></partition>
  </topic_route>
</session>`

const defaultRouteTemplate = `<topic_route name="{{.EntityName}}">
  <topic_name>{{.Topic}}</topic_name>
  <registered_type_name>{{.Type}}</registered_type_name>
  <participant_1>
    <domain_id>{{.Direction}}</domain_id>
  </participant_1>
</topic_route>`

// NewDefaultProvider builds a DefaultProvider that creates sessions under
// routeGroup. routeGroup must be non-empty; an empty value is a
// configuration error the caller should reject before scheduling work.
func NewDefaultProvider(routeGroup string) *DefaultProvider {
	return &DefaultProvider{
		RouteGroup:  routeGroup,
		sessionTmpl: template.Must(template.New("session").Parse(defaultSessionTemplate)),
		routeTmpl:   template.Must(template.New("route").Parse(defaultRouteTemplate)),
	}
}

// SessionParent implements ConfigProvider.
func (p *DefaultProvider) SessionParent(types.Session) string {
	return p.RouteGroup
}

// SessionEntityName implements ConfigProvider.
func (p *DefaultProvider) SessionEntityName(s types.Session) string {
	if s.Partition == "" {
		return fmt.Sprintf("%s/%s", p.RouteGroup, s.Topic)
	}
	return fmt.Sprintf("%s/%s@%s", p.RouteGroup, s.Topic, s.Partition)
}

// TopicRouteEntityName implements ConfigProvider.
func (p *DefaultProvider) TopicRouteEntityName(s types.Session, r types.TopicRoute) string {
	return fmt.Sprintf("%s/%s/%s-%s", p.SessionEntityName(s), r.Direction, r.Topic, r.Type)
}

// SessionConfiguration implements ConfigProvider.
func (p *DefaultProvider) SessionConfiguration(s types.Session) string {
	return p.render(p.sessionTmpl, struct {
		EntityName string
		Topic      string
		Partition  string
	}{
		EntityName: p.SessionEntityName(s),
		Topic:      s.Topic,
		Partition:  s.Partition,
	})
}

// TopicRouteConfiguration implements ConfigProvider.
func (p *DefaultProvider) TopicRouteConfiguration(s types.Session, r types.TopicRoute) string {
	return p.render(p.routeTmpl, struct {
		EntityName string
		Topic      string
		Type       string
		Direction  types.Direction
	}{
		EntityName: p.TopicRouteEntityName(s, r),
		Topic:      r.Topic,
		Type:       r.Type,
		Direction:  r.Direction,
	})
}

func (p *DefaultProvider) render(tmpl *template.Template, data any) string {
	var buf bytes.Buffer
	// template.Must at construction guarantees Execute only fails for
	// data mismatches, which can't happen with the fixed structs above.
	if err := tmpl.Execute(&buf, data); err != nil {
		panic(fmt.Sprintf("provider: template execute: %v", err))
	}
	return buf.String()
}
