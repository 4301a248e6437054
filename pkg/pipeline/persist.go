package pipeline

import (
	"fmt"
)

// Document is the round-trippable serialized form of a pipeline graph.
// Connection source/target ids must resolve against node ids in the same
// document; [Restore] rejects dangling references.
type Document struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Nodes       []NodeDocument       `json:"nodes"`
	Connections []ConnectionDocument `json:"connections"`
}

type NodeDocument struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	Enabled       bool           `json:"enabled"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

type ConnectionDocument struct {
	ID            string         `json:"id"`
	SourceID      string         `json:"sourceId"`
	TargetID      string         `json:"targetId"`
	Label         string         `json:"label,omitempty"`
	Enabled       bool           `json:"enabled"`
	Priority      int            `json:"priority"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// connection kind rides in the configuration map so the document shape stays
// stable for tooling that predates text edges.
const configKeyKind = "kind"

// Snapshot captures the pipeline's current graph as a document. Node
// configuration and connection configuration maps are copied shallowly.
func (p *Pipeline) Snapshot() Document {
	doc := Document{ID: p.id, Name: p.name}
	for _, n := range p.Nodes() {
		doc.Nodes = append(doc.Nodes, NodeDocument{
			ID:            n.ID(),
			Name:          n.Name(),
			Type:          n.Type(),
			Enabled:       n.Enabled(),
			Configuration: copyConfig(n.Config()),
		})
	}
	for _, c := range p.Connections() {
		cd := ConnectionDocument{
			ID:            c.ID(),
			SourceID:      c.Source().ID(),
			TargetID:      c.Target().ID(),
			Label:         c.Label(),
			Enabled:       c.Enabled(),
			Priority:      c.Priority(),
			Configuration: copyConfig(c.Config()),
		}
		if c.Kind() != KindAudio {
			if cd.Configuration == nil {
				cd.Configuration = map[string]any{}
			}
			cd.Configuration[configKeyKind] = c.Kind()
		}
		doc.Connections = append(doc.Connections, cd)
	}
	return doc
}

// Restore reconstructs a pipeline from a document, instantiating nodes
// through the registry. The rebuilt pipeline is not initialized.
func Restore(doc Document, registry *Registry) (*Pipeline, error) {
	p := New(doc.ID, doc.Name)
	for _, nd := range doc.Nodes {
		n, err := registry.CreateNode(nd.Type, nd.ID, nd.Name)
		if err != nil {
			return nil, fmt.Errorf("restore pipeline %s: node %s: %w", doc.ID, nd.ID, err)
		}
		n.SetEnabled(nd.Enabled)
		for k, v := range nd.Configuration {
			n.SetConfigValue(k, v)
		}
		if err := p.AddNode(n); err != nil {
			return nil, fmt.Errorf("restore pipeline %s: %w", doc.ID, err)
		}
	}
	for _, cd := range doc.Connections {
		opts := []ConnectOption{
			WithConnectionID(cd.ID),
			WithLabel(cd.Label),
			WithPriority(cd.Priority),
		}
		config := copyConfig(cd.Configuration)
		if kind, ok := config[configKeyKind].(string); ok {
			opts = append(opts, WithKind(kind))
			delete(config, configKeyKind)
		}
		if len(config) > 0 {
			opts = append(opts, WithConnectionConfig(config))
		}
		c, err := p.Connect(cd.SourceID, cd.TargetID, opts...)
		if err != nil {
			return nil, fmt.Errorf("restore pipeline %s: %w", doc.ID, err)
		}
		c.SetEnabled(cd.Enabled)
	}
	return p, nil
}

func copyConfig(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
