package authz

// DefaultPolicy governs rule 7, the fallback when no earlier rule decided.
type DefaultPolicy string

const (
	DefaultAllowAnonymous        DefaultPolicy = "allow_anonymous"
	DefaultRequireAuthentication DefaultPolicy = "require_authentication"
)

// Options configures a Filter.
type Options struct {
	EnableAuthorization     bool
	DefaultPolicy           DefaultPolicy
	EnforceClientAccessible bool
}

func defaultOptions() Options {
	return Options{
		EnableAuthorization:     true,
		DefaultPolicy:           DefaultAllowAnonymous,
		EnforceClientAccessible: false,
	}
}

// Option configures a Filter via NewFilter.
type Option func(*Options)

// WithEnableAuthorization toggles rule 1 ("authorization is globally
// disabled"). Enabled by default.
func WithEnableAuthorization(enabled bool) Option {
	return func(o *Options) { o.EnableAuthorization = enabled }
}

// WithDefaultPolicy sets the rule-7 fallback policy.
func WithDefaultPolicy(p DefaultPolicy) Option {
	return func(o *Options) { o.DefaultPolicy = p }
}

// WithEnforceClientAccessible activates rule 3 (strict-client-accessible
// mode). Disabled by default.
func WithEnforceClientAccessible(enforce bool) Option {
	return func(o *Options) { o.EnforceClientAccessible = enforce }
}

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
