package domain

// Product is a catalog entry returned by the search collaborator.
type Product struct {
	Code       string            `json:"product_code" yaml:"code"`
	Name       string            `json:"product_name" yaml:"name"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Score      float64           `json:"score,omitempty" yaml:"-"`
}
