// Package derivation describes the four materialized aggregates maintained by
// the external pipeline and builds the parameterized SQL used to recompute,
// read, and compare them.
package derivation

import (
	"fmt"
	"strings"
)

// Name identifies one derivation.
type Name string

const (
	ByDateClass Name = "by_date_class"
	ByActor     Name = "by_actor"
	ByActorPair Name = "by_actor_pair"
	ByCategory  Name = "by_category"
)

// Names returns the derivation names in their fixed execution order.
func Names() []Name {
	return []Name{ByDateClass, ByActor, ByActorPair, ByCategory}
}

// SourceTable names the source-of-truth table and its columns.
type SourceTable struct {
	Table       string `json:"table" yaml:"table"`
	ID          string `json:"id" yaml:"id"`
	Date        string `json:"date" yaml:"date"`
	SourceActor string `json:"source_actor" yaml:"source_actor"`
	TargetActor string `json:"target_actor" yaml:"target_actor"`
	Category    string `json:"category" yaml:"category"`
	Count       string `json:"count" yaml:"count"`
	Articles    string `json:"articles" yaml:"articles"`
	QuadClass   string `json:"quad_class" yaml:"quad_class"`
	Sentiment   string `json:"sentiment" yaml:"sentiment"`
}

// View names one materialized table. Keys are the grouping columns other
// than the date, in the same order as the derivation's source keys.
type View struct {
	Table     string   `json:"table" yaml:"table"`
	Date      string   `json:"date" yaml:"date"`
	Keys      []string `json:"keys" yaml:"keys"`
	Count     string   `json:"count" yaml:"count"`
	Secondary string   `json:"secondary,omitempty" yaml:"secondary,omitempty"`
	Sentiment string   `json:"sentiment" yaml:"sentiment"`
	Updated   string   `json:"updated" yaml:"updated"`
}

// Schema binds the source table to the four views.
type Schema struct {
	Source    SourceTable `json:"source" yaml:"source"`
	DateClass View        `json:"by_date_class" yaml:"by_date_class"`
	Actor     View        `json:"by_actor" yaml:"by_actor"`
	ActorPair View        `json:"by_actor_pair" yaml:"by_actor_pair"`
	Category  View        `json:"by_category" yaml:"by_category"`
}

// DefaultSchema returns the column layout of the GDELT event pipeline.
func DefaultSchema() Schema {
	view := func(table string, keys ...string) View {
		return View{
			Table:     table,
			Date:      "event_date",
			Keys:      keys,
			Count:     "total_events",
			Sentiment: "avg_goldstein",
			Updated:   "last_updated",
		}
	}
	dateClass := view("daily_event_volume_by_quadclass", "quad_class")
	dateClass.Secondary = "total_articles"

	return Schema{
		Source: SourceTable{
			Table:       "public.gdelt_events",
			ID:          "globaleventid",
			Date:        "event_date",
			SourceActor: "source_actor",
			TargetActor: "target_actor",
			Category:    "cameo_code",
			Count:       "num_events",
			Articles:    "num_articles",
			QuadClass:   "quad_class",
			Sentiment:   "goldstein",
		},
		DateClass: dateClass,
		Actor:     view("top_actors", "source_actor"),
		ActorPair: view("dyad_interactions", "source_actor", "target_actor"),
		Category:  view("daily_cameo_metrics", "cameo_code"),
	}
}

// Descriptor pairs a derivation's source grouping with the view that
// materializes it.
type Descriptor struct {
	Name Name

	// SourceKeys are the grouping columns on the source table, excluding the date.
	SourceKeys []string

	// NotNull lists source columns filtered with IS NOT NULL before grouping.
	NotNull []string

	View View
}

// Descriptors returns the four descriptors in execution order.
func (s Schema) Descriptors() []Descriptor {
	src := s.Source
	return []Descriptor{
		{Name: ByDateClass, SourceKeys: []string{src.QuadClass}, View: s.DateClass},
		{Name: ByActor, SourceKeys: []string{src.SourceActor}, NotNull: []string{src.SourceActor}, View: s.Actor},
		{Name: ByActorPair, SourceKeys: []string{src.SourceActor, src.TargetActor}, NotNull: []string{src.SourceActor, src.TargetActor}, View: s.ActorPair},
		{Name: ByCategory, SourceKeys: []string{src.Category}, NotNull: []string{src.Category}, View: s.Category},
	}
}

// Descriptor returns the descriptor with the given name.
func (s Schema) Descriptor(name Name) (Descriptor, bool) {
	for _, d := range s.Descriptors() {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Validate checks that every identifier the builders need is present.
func (s Schema) Validate() error {
	src := s.Source
	required := map[string]string{
		"source.table":        src.Table,
		"source.id":           src.ID,
		"source.date":         src.Date,
		"source.source_actor": src.SourceActor,
		"source.target_actor": src.TargetActor,
		"source.category":     src.Category,
		"source.count":        src.Count,
		"source.articles":     src.Articles,
		"source.quad_class":   src.QuadClass,
		"source.sentiment":    src.Sentiment,
	}
	for field, v := range required {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("schema: %s is required", field)
		}
	}
	for _, d := range s.Descriptors() {
		v := d.View
		if v.Table == "" || v.Date == "" || v.Count == "" {
			return fmt.Errorf("schema: view %s needs table, date and count columns", d.Name)
		}
		if len(v.Keys) != len(d.SourceKeys) {
			return fmt.Errorf("schema: view %s has %d key columns, want %d", d.Name, len(v.Keys), len(d.SourceKeys))
		}
	}
	return nil
}
