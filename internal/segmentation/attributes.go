package segmentation

import (
	"fmt"
	"strings"

	"github.com/segmenta/segmenta/pkg/models"
)

// AttributeKind classifies how an attribute enters the feature matrix.
type AttributeKind int

const (
	KindNumeric AttributeKind = iota
	KindCategorical
)

// Attribute is the closed set of customer attributes segmentation can run
// over. Each entry carries its storage column, its display name as it appears
// in uploads and API requests, and how it is encoded.
type Attribute int

const (
	AttrGender Attribute = iota
	AttrAge
	AttrAnnualIncome
	AttrSpendingScore
)

var attributeInfo = map[Attribute]struct {
	column  string
	display string
	kind    AttributeKind
}{
	AttrGender:        {"gender", "Gender", KindCategorical},
	AttrAge:           {"age", "Age", KindNumeric},
	AttrAnnualIncome:  {"annual_income", "Annual Income (k$)", KindNumeric},
	AttrSpendingScore: {"spending_score", "Spending Score (1-100)", KindNumeric},
}

// Column returns the storage column name.
func (a Attribute) Column() string { return attributeInfo[a].column }

// DisplayName returns the user-facing name, matching the original CSV headers.
func (a Attribute) DisplayName() string { return attributeInfo[a].display }

// Kind reports whether the attribute is numeric or categorical.
func (a Attribute) Kind() AttributeKind { return attributeInfo[a].kind }

// NumericValue extracts the attribute's value from a record as a float.
// Only valid for numeric attributes.
func (a Attribute) NumericValue(r *models.CustomerRecord) float64 {
	switch a {
	case AttrAge:
		return float64(r.Age)
	case AttrAnnualIncome:
		return float64(r.AnnualIncome)
	case AttrSpendingScore:
		return float64(r.SpendingScore)
	}
	return 0
}

// CategoricalValue extracts the attribute's value from a record as a string.
// Only valid for categorical attributes.
func (a Attribute) CategoricalValue(r *models.CustomerRecord) string {
	if a == AttrGender {
		return r.Gender
	}
	return ""
}

var displayLookup = func() map[string]Attribute {
	m := make(map[string]Attribute, len(attributeInfo))
	for attr, info := range attributeInfo {
		m[info.display] = attr
	}
	return m
}()

// ResolveAttributes maps display-form names to attributes, preserving request
// order. Unrecognized names are an error, not a silent drop; the error names
// every unknown attribute so the caller can fix the request.
func ResolveAttributes(names []string) ([]Attribute, error) {
	var resolved []Attribute
	var unknown []string
	for _, name := range names {
		attr, ok := displayLookup[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		resolved = append(resolved, attr)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: unknown attributes: %s", ErrFeatureMapping, strings.Join(unknown, ", "))
	}
	if len(resolved) == 0 {
		return nil, fmt.Errorf("%w: no attributes requested", ErrFeatureMapping)
	}
	return resolved, nil
}

// DisplayNames converts attributes back to display form, for results payloads.
func DisplayNames(attrs []Attribute) []string {
	names := make([]string, len(attrs))
	for i, a := range attrs {
		names[i] = a.DisplayName()
	}
	return names
}
