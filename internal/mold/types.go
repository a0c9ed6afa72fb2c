package mold

import (
	"encoding/json"
	"maps"

	"github.com/fyrsmithlabs/extractd/internal/schema"
)

// FrameworkVersion is the only executable predictor framework.
const FrameworkVersion = "2.0"

// Mold is a named schema with its predictor configuration.
type Mold struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Checksum        string          `json:"checksum"`
	Type            schema.MoldType `json:"mold_type"`
	ModelName       string          `json:"model_name,omitempty"`
	Data            schema.Data     `json:"data"`
	Master          int64           `json:"master,omitempty"`
	Predictors      json.RawMessage `json:"predictors,omitempty"`
	PredictorOption map[string]any  `json:"predictor_option,omitempty"`
	Public          bool            `json:"public"`
	StudioAppID     string          `json:"studio_app_id,omitempty"`
	Meta            map[string]any  `json:"meta,omitempty"`
	UID             int64           `json:"uid,omitempty"`
	CreatedUTC      int64           `json:"created_utc,omitempty"`
	UpdatedUTC      int64           `json:"updated_utc,omitempty"`
	DeletedUTC      int64           `json:"deleted_utc,omitempty"`
}

// Clone returns a deep copy.
func (m *Mold) Clone() *Mold {
	c := *m
	c.Data = *m.Data.Clone()
	c.Predictors = append(json.RawMessage(nil), m.Predictors...)
	c.PredictorOption = maps.Clone(m.PredictorOption)
	c.Meta = maps.Clone(m.Meta)
	return &c
}

// HasPredictors reports whether any predictor config is set.
func (m *Mold) HasPredictors() bool {
	s := string(m.Predictors)
	return s != "" && s != "null" && s != "[]"
}

// Framework returns predictor_option.framework_version.
func (m *Mold) Framework() string {
	if v, ok := m.PredictorOption["framework_version"].(string); ok && v != "" {
		return v
	}
	return FrameworkVersion
}

// ExtractMethod is a stored extraction hint for one field path.
type ExtractMethod struct {
	ID     int64           `json:"id,omitempty"`
	Mold   int64           `json:"mold"`
	Path   string          `json:"path"`
	Method string          `json:"method,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// RuleClass groups audit rules.
type RuleClass struct {
	ID         int64  `json:"id,omitempty"`
	Mold       int64  `json:"mold"`
	Name       string `json:"name"`
	MethodType int    `json:"method_type"`
}

// RuleItem is one audit rule. ClassID references RuleClass.ID.
type RuleItem struct {
	ID      int64           `json:"id,omitempty"`
	Mold    int64           `json:"mold"`
	ClassID int64           `json:"class_name"`
	Name    string          `json:"name"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Bundle is the schema export format.
type Bundle struct {
	Mold          Mold            `json:"mold"`
	ExtractMethod []ExtractMethod `json:"extract_method"`
	RuleClass     []RuleClass     `json:"rule_class"`
	RuleItem      []RuleItem      `json:"rule_item"`
}

// Usage counts the references that pin a mold.
type Usage struct {
	Questions int
	FileTrees int
	RuleItems int
}

// InUse reports whether anything references the mold.
func (u Usage) InUse() bool {
	return u.Questions > 0 || u.FileTrees > 0 || u.RuleItems > 0
}
