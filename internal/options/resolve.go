package options

import (
	"fmt"
	"reflect"

	"dario.cat/mergo"
)

// keepSet stops mergo from descending into pointer and interface fields that
// are already set, so an explicit *Auth or *bool is taken as a whole.
type keepSet struct{}

func (keepSet) Transformer(t reflect.Type) func(dst, src reflect.Value) error {
	switch t.Kind() {
	case reflect.Ptr, reflect.Interface:
		return func(dst, src reflect.Value) error { return nil }
	}
	return nil
}

func fill(dst *Options, src Options) error {
	return mergo.Merge(dst, src, mergo.WithTransformers(keepSet{}))
}

// Resolve produces the effective configuration. Each field comes from the
// first layer that sets it: explicit fields, then the service preset, then
// the connection URL, then defaults. The result shares no mutable state with
// in.
func Resolve(in Options) (Options, error) {
	out := in.Clone()

	var fromURL Options
	if in.URL != "" {
		var err error
		fromURL, err = FromURL(in.URL)
		if err != nil {
			return Options{}, err
		}
	}

	service := in.Service
	if service == "" {
		service = fromURL.Service
	}
	if preset, ok := LookupPreset(service); ok {
		if err := fill(&out, preset.Options()); err != nil {
			return Options{}, fmt.Errorf("failed to apply service preset: %w", err)
		}
	}

	if err := fill(&out, fromURL); err != nil {
		return Options{}, fmt.Errorf("failed to apply connection url: %w", err)
	}

	if err := fill(&out, defaults(out)); err != nil {
		return Options{}, fmt.Errorf("failed to apply defaults: %w", err)
	}

	return out.Clone(), nil
}

// defaults depends on the partially resolved value because the default port
// follows the Secure flag.
func defaults(partial Options) Options {
	port := DefaultPort
	if partial.IsSecure() {
		port = DefaultSecurePort
	}
	return Options{
		Host:              DefaultHost,
		Port:              port,
		Secure:            Bool(false),
		ConnectionTimeout: DefaultConnectionTimeout,
		GreetingTimeout:   DefaultGreetingTimeout,
		SocketTimeout:     DefaultSocketTimeout,
	}
}
