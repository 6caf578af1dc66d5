package di

// ConfigFile is the path to a YAML configuration file. When set, it takes
// precedence over Parameter Store and environment variables.
type ConfigFile string

// Option is a function that configures the dependency injection container.
type Option func(*options)

// WithConfigFile directs configuration loading to a local YAML file instead
// of Parameter Store.
func WithConfigFile(path string) Option {
	return func(opts *options) {
		opts.configFile = ConfigFile(path)
	}
}

// WithProviders adds constructor functions to the dependency injection container.
// Each provider should be a constructor function that returns one or more values.
// Providers can declare dependencies as function parameters, which will be
// automatically resolved by the container.
//
// Example:
//
//	WithProviders(
//	    func() *Database { return &Database{} },
//	    func(db *Database) *Service { return &Service{DB: db} },
//	)
func WithProviders(providers ...any) Option {
	return func(opts *options) {
		opts.providers = append(opts.providers, providers...)
	}
}

type options struct {
	configFile ConfigFile
	providers  []any
}
