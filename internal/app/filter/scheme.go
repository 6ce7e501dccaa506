package filter

import (
	"context"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/samber/lo"

	"github.com/osa030/trackbridge/internal/domain/track"
)

// SchemeConfig represents the configuration for SchemeFilter.
type SchemeConfig struct {
	Allowed []string `mapstructure:"allowed" default:"[\"http\",\"https\"]" validate:"min=1,dive,required"`
}

// SchemeFilter rejects remote tracks whose locator scheme cannot be fetched.
type SchemeFilter struct {
	allowed []string
}

// NewSchemeFilter creates a scheme filter allowing http and https.
func NewSchemeFilter() *SchemeFilter {
	return &SchemeFilter{allowed: []string{"http", "https"}}
}

func (f *SchemeFilter) Name() string {
	return "scheme_filter"
}

func (f *SchemeFilter) Description() string {
	return "Rejects remote tracks whose locator scheme is not allowed"
}

func (f *SchemeFilter) ReturnCodes() []string {
	return []string{"unsupported_scheme"}
}

func (f *SchemeFilter) ValidateConfig(settings map[string]any) error {
	var config SchemeConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	f.allowed = lo.Map(config.Allowed, func(s string, _ int) string { return strings.ToLower(s) })
	return nil
}

func (f *SchemeFilter) AppliesTo(origin Origin) bool {
	// Local files are read by the file source whatever their scheme
	return origin == OriginRemote
}

func (f *SchemeFilter) Check(ctx context.Context, t track.Track) Result {
	u, err := url.Parse(t.URL)
	if err != nil || !lo.Contains(f.allowed, strings.ToLower(u.Scheme)) {
		return Reject("unsupported_scheme")
	}
	return Accept()
}

func init() {
	Register("scheme_filter", func(Deps) Filter {
		return NewSchemeFilter()
	})
}
